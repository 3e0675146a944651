package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ansible-toolbox/at/internal/containerspec"
)

const (
	// DefaultGracePeriod is how long the runtime client may take to exit after
	// the forwarded signal before it is killed.
	DefaultGracePeriod = 10 * time.Second

	// runtimeFailureCode is what docker and podman return when the container
	// could not be created or started. The runtime client does not tell this
	// apart from a command that itself exits 125, so such a command is
	// reported as a runtime failure as well.
	runtimeFailureCode = 125

	removeTimeout = 30 * time.Second
)

// ExecOptions control how a container run is attached to the caller.
type ExecOptions struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Capture retains a copy of non-interactive output in Result.
	Capture     bool
	GracePeriod time.Duration
}

// Result is the outcome of a completed run.
type Result struct {
	ExitCode int
	Stdout   []byte
	Stderr   []byte
}

// ExecutionError reports that the runtime could not run the container at
// all, as opposed to the command inside it failing.
type ExecutionError struct {
	Op       string
	ExitCode int
	Err      error
}

func (e *ExecutionError) Error() string {
	if e.ExitCode != 0 {
		return fmt.Sprintf("%s: runtime exited with code %d: %v", e.Op, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// SignalCause is the cancellation cause recorded when the tool receives a
// termination signal. The same signal is forwarded to the runtime client.
type SignalCause struct {
	Signal os.Signal
}

func (c *SignalCause) Error() string {
	return fmt.Sprintf("received %s", c.Signal)
}

// InterruptedError is returned when a run was stopped by a signal.
type InterruptedError struct {
	Signal os.Signal
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("interrupted by %s", e.Signal)
}

// ExitCode is the shell convention for death by signal, 128+N.
func (e *InterruptedError) ExitCode() int {
	if sig, ok := e.Signal.(syscall.Signal); ok {
		return 128 + int(sig)
	}
	return 128 + int(syscall.SIGINT)
}

// Execute runs command in the container described by spec and blocks until
// it exits. The child's exit code is returned unchanged in Result. When ctx
// is cancelled the runtime client receives the cancelling signal and the
// container is then force-removed.
func Execute(ctx context.Context, rt Runtime, spec containerspec.Spec, command []string, opts ExecOptions) (Result, error) {
	res, err := rt.Run(ctx, spec, command, opts)
	if ctx.Err() == nil {
		return res, err
	}

	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), removeTimeout)
	defer cancel()
	removeErr := rt.Remove(cleanupCtx, spec.Name())

	interrupted := &InterruptedError{Signal: cancelSignal(ctx)}
	res.ExitCode = interrupted.ExitCode()
	if removeErr != nil {
		return res, errors.Join(interrupted, fmt.Errorf("remove container %s: %w", spec.Name(), removeErr))
	}
	return res, interrupted
}

// Run starts the runtime client for spec. Interactive specs inherit the
// caller's stdio; otherwise output is streamed to the caller as it arrives
// and optionally captured.
func (r *CLIRuntime) Run(ctx context.Context, spec containerspec.Spec, command []string, opts ExecOptions) (Result, error) {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	cmd := r.newCommand(ctx, r.binary, spec.Args(command)...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(cancelSignal(ctx))
	}
	cmd.WaitDelay = opts.GracePeriod

	var stdoutBuf, stderrBuf bytes.Buffer
	if spec.Interactive() {
		cmd.Stdin = opts.Stdin
		if cmd.Stdin == nil {
			cmd.Stdin = os.Stdin
		}
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
	} else {
		cmd.Stdin = opts.Stdin
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
		if opts.Capture {
			cmd.Stdout = io.MultiWriter(opts.Stdout, &stdoutBuf)
			cmd.Stderr = io.MultiWriter(opts.Stderr, &stderrBuf)
		}
	}

	r.logger.Debug("starting container", "runtime", r.binary, "name", spec.Name(), "image", spec.Image(), "interactive", spec.Interactive())
	err := cmd.Run()
	res := Result{}
	if opts.Capture && !spec.Interactive() {
		res.Stdout = stdoutBuf.Bytes()
		res.Stderr = stderrBuf.Bytes()
	}
	if err == nil {
		return res, nil
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		return res, &ExecutionError{Op: "start " + r.binary, Err: err}
	}
	res.ExitCode = exitErr.ExitCode()
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		res.ExitCode = 128 + int(status.Signal())
	}
	if ctx.Err() != nil {
		return res, ctx.Err()
	}
	if res.ExitCode == runtimeFailureCode {
		return res, &ExecutionError{Op: r.binary + " run", ExitCode: res.ExitCode, Err: errors.New("container could not be started")}
	}
	r.logger.Debug("container exited", "name", spec.Name(), "exit_code", res.ExitCode)
	return res, nil
}

func cancelSignal(ctx context.Context) os.Signal {
	var cause *SignalCause
	if errors.As(context.Cause(ctx), &cause) && cause.Signal != nil {
		return cause.Signal
	}
	return os.Interrupt
}
