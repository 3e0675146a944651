package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ansible-toolbox/at/internal/buildspec"
	"github.com/ansible-toolbox/at/internal/cli"
	"github.com/ansible-toolbox/at/internal/configstore"
	"github.com/ansible-toolbox/at/internal/containerspec"
	"github.com/ansible-toolbox/at/internal/engine"
	"github.com/ansible-toolbox/at/internal/imagecache"
	"github.com/ansible-toolbox/at/internal/telemetry/otel"
)

// Reserved exit codes for failures of the toolbox itself, from sysexits.h.
// Any other status is the command's own.
const (
	ExitUsage       = 64
	ExitUnavailable = 69
	ExitSoftware    = 70
	ExitConfig      = 78
)

const (
	envRuntime = "ANSIBLE_TOOLBOX_RUNTIME"
	envVerbose = "ANSIBLE_TOOLBOX_VERBOSE"
)

// ExitCodeError carries the status the process should exit with. It wraps
// both the command's own non-zero status, which is passed through unchanged,
// and the reserved codes for toolbox failures.
type ExitCodeError struct {
	code int
	err  error
}

func (e *ExitCodeError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	return fmt.Sprintf("command exited with code %d", e.code)
}

func (e *ExitCodeError) ExitCode() int {
	return e.code
}

func (e *ExitCodeError) Unwrap() error {
	return e.err
}

// Collaborators replaced in tests.
var (
	detectHost = containerspec.DetectHost
	newRuntime = func(preferred string, logger *slog.Logger) (engine.Runtime, error) {
		return engine.Detect(preferred, logger)
	}
	stdinIsTerminal = func() bool { return isTerminal(os.Stdin) }
)

type runner struct {
	cmdName string
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer

	inv    cli.Invocation
	logger *slog.Logger
	stage  stage
}

// Main runs one toolbox invocation using the provided argv slice. When args
// is empty, os.Args is used to mirror standard command invocation.
func Main(args []string) error {
	if len(args) == 0 {
		args = os.Args
	}
	r := &runner{
		cmdName: commandName(args),
		stdin:   os.Stdin,
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	return r.execute(args[1:])
}

func commandName(args []string) string {
	if len(args) == 0 {
		return "at"
	}
	name := strings.TrimSpace(args[0])
	if name == "" {
		return "at"
	}
	return filepath.Base(name)
}

func (r *runner) execute(args []string) error {
	inv, err := cli.Split(args)
	if err != nil {
		fmt.Fprintf(r.stderr, "%s: %v\nRun '%s --at-help' for usage.\n", r.cmdName, err, r.cmdName)
		return &ExitCodeError{code: ExitUsage, err: err}
	}
	r.inv = inv

	switch {
	case inv.Options.Help:
		r.stage = stageHelp
		fmt.Fprintln(r.stdout, cli.Usage(r.cmdName))
		return nil
	case inv.Options.Version:
		fmt.Fprintln(r.stdout, versionString(r.cmdName))
		return nil
	}

	verbose := inv.Options.Verbose || otel.EnvBool(os.Getenv(envVerbose), false)
	r.logger = newLogger(r.stderr, verbose)

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	stopWatching := r.watchSignals(sigCh, cancel)
	defer stopWatching()

	provider, err := otel.Setup(ctx, otel.LoadConfigFromEnv())
	if err != nil {
		r.logger.Warn("telemetry disabled", "error", err)
		provider = nil
	}
	defer func() {
		if err := provider.Shutdown(context.WithoutCancel(ctx)); err != nil {
			r.logger.Debug("telemetry shutdown failed", "error", err)
		}
	}()

	err = r.run(ctx, provider.Instruments())
	if err == nil {
		return nil
	}
	var exitErr *ExitCodeError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return &ExitCodeError{code: ExitSoftware, err: err}
}

// watchSignals cancels with the first signal from sigCh and logs any later
// ones. The returned function stops the watcher and waits for it to exit.
func (r *runner) watchSignals(sigCh <-chan os.Signal, cancel context.CancelCauseFunc) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		first := true
		for {
			select {
			case <-done:
				return
			case sig := <-sigCh:
				if first {
					first = false
					r.logger.Debug("received signal; stopping container", "signal", sig.String())
					cancel(&engine.SignalCause{Signal: sig})
					continue
				}
				r.logger.Warn("still stopping the container", "signal", sig.String())
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}

func (r *runner) run(ctx context.Context, inst *otel.Instruments) error {
	in, err := r.loadInputs()
	if err != nil {
		return r.fail(err)
	}
	r.transition(stageBuildSpecReady, "fingerprint", buildspec.ShortFingerprint(in.build.Fingerprint), "packages", in.build.Packages)

	rt, err := newRuntime(in.runtime, r.logger)
	if err != nil {
		return r.fail(err)
	}
	cacheDir, err := configstore.GetCacheDir()
	if err != nil {
		return r.fail(&configError{err: err})
	}
	cache, err := imagecache.New(imagecache.Config{
		Dir:         cacheDir,
		Runtime:     rt,
		Logger:      r.logger,
		Instruments: inst,
		BuildOutput: r.buildOutput(),
	})
	if err != nil {
		return r.fail(err)
	}

	rec, err := cache.Ensure(ctx, in.build)
	if err != nil {
		if cause := context.Cause(ctx); ctx.Err() != nil {
			return r.interrupted(cause)
		}
		r.transition(stageBuildFailed)
		return r.fail(err)
	}
	r.transition(stageImageReady, "image", rec.Tag)

	interactive := r.inv.Options.Interactive
	if interactive && !stdinIsTerminal() {
		r.logger.Warn("stdin is not a terminal; running without a TTY")
		interactive = false
	}
	spec, err := containerspec.Build(in.host, containerspec.Options{
		Image:         rec.Tag,
		Interactive:   interactive,
		ConfigVolumes: in.volumes,
		Volumes:       r.inv.Options.Volumes,
		ConfigEnv:     in.env,
		Env:           r.inv.Options.Env,
	})
	if err != nil {
		return r.fail(err)
	}
	r.transition(stageSpecAssembled, "container", spec.Name(), "interactive", spec.Interactive())
	r.logContainerConfig(spec)

	r.transition(stageExecuting, "command", r.inv.Command)
	runCtx, span := inst.Start(ctx, "run",
		attribute.String("container.name", spec.Name()),
		attribute.String("container.image", spec.Image()),
		attribute.Bool("container.interactive", spec.Interactive()),
	)
	opts := engine.ExecOptions{Stdout: r.stdout, Stderr: r.stderr}
	if spec.Interactive() {
		opts.Stdin = r.stdin
	}
	res, err := engine.Execute(runCtx, rt, spec, r.inv.Command, opts)
	span.SetAttributes(attribute.Int("container.exit_code", res.ExitCode))
	span.End(err)

	var interrupted *engine.InterruptedError
	switch {
	case errors.As(err, &interrupted):
		r.transition(stageFailed, "signal", interrupted.Signal.String())
		if err != error(interrupted) {
			r.logger.Warn("container cleanup incomplete", "error", err)
		}
		return &ExitCodeError{code: interrupted.ExitCode(), err: err}
	case err != nil:
		r.transition(stageFailed)
		return r.fail(err)
	}
	r.transition(stageCompleted, "exit_code", res.ExitCode)
	if res.ExitCode != 0 {
		return &ExitCodeError{code: res.ExitCode}
	}
	return nil
}

// buildOutput streams the full build log in verbose mode only; otherwise
// the log tail is reported on failure.
func (r *runner) buildOutput() io.Writer {
	if r.logger.Enabled(context.Background(), slog.LevelDebug) {
		return r.stderr
	}
	return nil
}

func (r *runner) interrupted(cause error) error {
	var sigCause *engine.SignalCause
	sig := os.Signal(os.Interrupt)
	if errors.As(cause, &sigCause) && sigCause.Signal != nil {
		sig = sigCause.Signal
	}
	r.transition(stageFailed, "signal", sig.String())
	interrupted := &engine.InterruptedError{Signal: sig}
	return &ExitCodeError{code: interrupted.ExitCode(), err: interrupted}
}

// fail reports err and maps it to its reserved exit code.
func (r *runner) fail(err error) error {
	code := exitCodeFor(err)
	fmt.Fprintf(r.stderr, "%s: %v\n", r.cmdName, err)
	r.logger.Debug("pipeline failed", "exit_code", code)
	return &ExitCodeError{code: code, err: err}
}

func exitCodeFor(err error) int {
	var (
		argErr    *cli.ArgumentError
		parseErr  *configstore.ParseError
		cfgErr    *configError
		buildErr  *imagecache.BuildError
		execErr   *engine.ExecutionError
		interrupt *engine.InterruptedError
	)
	switch {
	case errors.As(err, &interrupt):
		return interrupt.ExitCode()
	case errors.As(err, &argErr):
		return ExitUsage
	case errors.As(err, &parseErr), errors.As(err, &cfgErr):
		return ExitConfig
	case errors.As(err, &buildErr):
		return ExitSoftware
	case errors.As(err, &execErr):
		return ExitUnavailable
	default:
		return ExitSoftware
	}
}
