// Package engine drives the container runtime CLI: it checks for and builds
// images and runs a container spec as a child process.
package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ansible-toolbox/at/internal/containerspec"
)

// Supported runtime binaries, in detection order.
const (
	Docker = "docker"
	Podman = "podman"
)

// Runtime is the container runtime collaborator.
type Runtime interface {
	// Name is the runtime binary, e.g. docker.
	Name() string
	ImageExists(ctx context.Context, ref string) (bool, error)
	Build(ctx context.Context, req BuildRequest) error
	Run(ctx context.Context, spec containerspec.Spec, command []string, opts ExecOptions) (Result, error)
	Remove(ctx context.Context, container string) error
}

// BuildRequest describes one image build.
type BuildRequest struct {
	Tag           string
	Containerfile string
	Labels        map[string]string
	// Output receives the combined build log.
	Output io.Writer
}

// CommandFunc constructs the process for one runtime invocation.
type CommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// CLIRuntime runs docker or podman through os/exec.
type CLIRuntime struct {
	binary     string
	newCommand CommandFunc
	logger     *slog.Logger
}

var _ Runtime = (*CLIRuntime)(nil)

var lookPath = exec.LookPath

// NewCLIRuntime returns a runtime for binary. A nil command func uses
// exec.CommandContext.
func NewCLIRuntime(binary string, newCommand CommandFunc, logger *slog.Logger) *CLIRuntime {
	if newCommand == nil {
		newCommand = exec.CommandContext
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &CLIRuntime{binary: binary, newCommand: newCommand, logger: logger}
}

// Detect picks the runtime binary. A preferred name must be on PATH;
// otherwise docker is tried before podman.
func Detect(preferred string, logger *slog.Logger) (*CLIRuntime, error) {
	preferred = strings.ToLower(strings.TrimSpace(preferred))
	candidates := []string{Docker, Podman}
	if preferred != "" {
		candidates = []string{preferred}
	}
	for _, name := range candidates {
		if _, err := lookPath(name); err == nil {
			return NewCLIRuntime(name, nil, logger), nil
		}
	}
	if preferred != "" {
		return nil, &ExecutionError{Op: "detect runtime", Err: fmt.Errorf("%s not found on PATH", preferred)}
	}
	return nil, &ExecutionError{Op: "detect runtime", Err: errors.New("neither docker nor podman found on PATH")}
}

func (r *CLIRuntime) Name() string { return r.binary }

// ImageExists reports whether ref is present in the local image store.
func (r *CLIRuntime) ImageExists(ctx context.Context, ref string) (bool, error) {
	cmd := r.newCommand(ctx, r.binary, "image", "inspect", "--format", "{{.Id}}", ref)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		r.logger.Debug("image not present", "image", ref, "detail", strings.TrimSpace(stderr.String()))
		return false, nil
	}
	return false, fmt.Errorf("%s image inspect %s: %w", r.binary, ref, err)
}

// Build writes the Containerfile into an empty context directory and builds
// it. The build log streams to req.Output.
func (r *CLIRuntime) Build(ctx context.Context, req BuildRequest) error {
	dir, err := os.MkdirTemp("", "ansible-toolbox-build-")
	if err != nil {
		return fmt.Errorf("create build context: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			r.logger.Debug("failed to remove build context", "dir", dir, "error", err)
		}
	}()
	containerfile := filepath.Join(dir, "Containerfile")
	if err := os.WriteFile(containerfile, []byte(req.Containerfile), 0o644); err != nil {
		return fmt.Errorf("write Containerfile: %w", err)
	}

	args := []string{"build", "--tag", req.Tag}
	labels := make([]string, 0, len(req.Labels))
	for key := range req.Labels {
		labels = append(labels, key)
	}
	sort.Strings(labels)
	for _, key := range labels {
		args = append(args, "--label", key+"="+req.Labels[key])
	}
	args = append(args, "--file", containerfile, dir)

	out := req.Output
	if out == nil {
		out = io.Discard
	}
	cmd := r.newCommand(ctx, r.binary, args...)
	cmd.Stdout = out
	cmd.Stderr = out
	r.logger.Debug("building image", "runtime", r.binary, "tag", req.Tag)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s build %s: %w", r.binary, req.Tag, err)
	}
	return nil
}

// Remove force-removes a container by name. A missing container is not an
// error.
func (r *CLIRuntime) Remove(ctx context.Context, container string) error {
	cmd := r.newCommand(ctx, r.binary, "rm", "--force", container)
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "No such container") || strings.Contains(msg, "no such container") {
			return nil
		}
		if msg != "" {
			return fmt.Errorf("%s rm %s: %w: %s", r.binary, container, err, msg)
		}
		return fmt.Errorf("%s rm %s: %w", r.binary, container, err)
	}
	return nil
}
