package engine

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"syscall"
	"testing"

	"github.com/ansible-toolbox/at/internal/containerspec"
)

func testSpec(t *testing.T, interactive bool) containerspec.Spec {
	t.Helper()
	spec, err := containerspec.Build(containerspec.HostContext{
		UID: 1000, GID: 1000, User: "dev", Home: "/home/dev", Cwd: "/srv/project", Term: "xterm",
	}, containerspec.Options{Image: "ansible-toolbox:test", Interactive: interactive, Name: "ansible-toolbox-cafe0001"})
	if err != nil {
		t.Fatalf("build spec: %v", err)
	}
	return spec
}

func TestExecutePassesChildExitCode(t *testing.T) {
	t.Parallel()

	fn, _ := fakeRuntime(t, "exit2")
	rt := NewCLIRuntime("docker", fn, nil)
	var stdout, stderr bytes.Buffer

	res, err := Execute(context.Background(), rt, testSpec(t, false), []string{"ansible-playbook", "site.yml"}, ExecOptions{
		Stdout:  &stdout,
		Stderr:  &stderr,
		Capture: true,
	})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.ExitCode != 2 {
		t.Fatalf("exit code = %d, want 2", res.ExitCode)
	}
	if !strings.Contains(stdout.String(), "PLAY RECAP") || !strings.Contains(stderr.String(), "host unreachable") {
		t.Fatalf("output not streamed: stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
	if string(res.Stdout) != stdout.String() || string(res.Stderr) != stderr.String() {
		t.Fatalf("captured output differs from streamed output: %+v", res)
	}
}

func TestExecuteForwardsCommandVerbatim(t *testing.T) {
	t.Parallel()

	fn, _ := fakeRuntime(t, "echo")
	rt := NewCLIRuntime("podman", fn, nil)
	command := []string{"ansible", "all", "-m", "shell", "-a", "echo $HOME && ls 'a b'", "--at-i"}
	var stdout bytes.Buffer

	res, err := Execute(context.Background(), rt, testSpec(t, false), command, ExecOptions{Stdout: &stdout, Stderr: &bytes.Buffer{}, Capture: true})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("exit code = %d", res.ExitCode)
	}
	got := strings.Split(strings.TrimSuffix(string(res.Stdout), "\n"), "\n")
	if strings.Join(got, "\x00") != strings.Join(command, "\x00") {
		t.Fatalf("command mangled:\n got %q\nwant %q", got, command)
	}
}

func TestExecuteWithoutCaptureLeavesResultEmpty(t *testing.T) {
	t.Parallel()

	fn, _ := fakeRuntime(t, "exit2")
	rt := NewCLIRuntime("docker", fn, nil)
	var stdout bytes.Buffer
	res, err := Execute(context.Background(), rt, testSpec(t, false), []string{"true"}, ExecOptions{Stdout: &stdout, Stderr: &bytes.Buffer{}})
	if err != nil {
		t.Fatalf("Execute returned error: %v", err)
	}
	if res.Stdout != nil || res.Stderr != nil {
		t.Fatalf("expected no captured output, got %+v", res)
	}
	if stdout.Len() == 0 {
		t.Fatal("expected output to be streamed")
	}
}

func TestExecuteRuntimeStartFailure(t *testing.T) {
	t.Parallel()

	fn, _ := fakeRuntime(t, "start-fail")
	rt := NewCLIRuntime("docker", fn, nil)
	_, err := Execute(context.Background(), rt, testSpec(t, false), []string{"true"}, ExecOptions{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if execErr.ExitCode != 125 {
		t.Fatalf("exit code = %d, want 125", execErr.ExitCode)
	}
}

func TestExecuteMissingBinary(t *testing.T) {
	t.Parallel()

	rt := NewCLIRuntime("ansible-toolbox-no-such-runtime", nil, nil)
	_, err := Execute(context.Background(), rt, testSpec(t, false), []string{"true"}, ExecOptions{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}})
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Fatalf("expected exec.ErrNotFound in chain, got %v", err)
	}
}

func TestExecuteInterruptForwardsSignalAndRemovesContainer(t *testing.T) {
	t.Parallel()

	fn, logPath := fakeRuntime(t, "hang")
	rt := NewCLIRuntime("docker", fn, nil)
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := Execute(ctx, rt, testSpec(t, false), []string{"ansible-playbook", "slow.yml"}, ExecOptions{
			Stdout: &bytes.Buffer{},
			Stderr: &bytes.Buffer{},
		})
		done <- outcome{res, err}
	}()

	waitForLog(t, logPath, "ready")
	cancel(&SignalCause{Signal: syscall.SIGTERM})
	out := <-done

	var interrupted *InterruptedError
	if !errors.As(out.err, &interrupted) {
		t.Fatalf("expected InterruptedError, got %v", out.err)
	}
	if interrupted.ExitCode() != 143 || out.res.ExitCode != 143 {
		t.Fatalf("exit code = %d/%d, want 143", interrupted.ExitCode(), out.res.ExitCode)
	}
	log := readLog(t, logPath)
	if !strings.Contains(log, "signal terminated") {
		t.Fatalf("child did not receive SIGTERM:\n%s", log)
	}
	if !strings.Contains(log, "rm --force ansible-toolbox-cafe0001") {
		t.Fatalf("container was not removed:\n%s", log)
	}
}

func TestInterruptedErrorDefaultsToSIGINT(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sig := cancelSignal(ctx); sig.String() != "interrupt" {
		t.Fatalf("cancelSignal = %v, want interrupt", sig)
	}
	if code := (&InterruptedError{Signal: syscall.SIGINT}).ExitCode(); code != 130 {
		t.Fatalf("exit code = %d, want 130", code)
	}
}

func TestImageExists(t *testing.T) {
	t.Parallel()

	fn, _ := fakeRuntime(t, "present")
	ok, err := NewCLIRuntime("docker", fn, nil).ImageExists(context.Background(), "ansible-toolbox:abc")
	if err != nil || !ok {
		t.Fatalf("ImageExists = %v, %v; want true", ok, err)
	}

	fn, _ = fakeRuntime(t, "absent")
	ok, err = NewCLIRuntime("docker", fn, nil).ImageExists(context.Background(), "ansible-toolbox:abc")
	if err != nil || ok {
		t.Fatalf("ImageExists = %v, %v; want false", ok, err)
	}
}

func TestBuildStreamsLogAndLabels(t *testing.T) {
	t.Parallel()

	fn, logPath := fakeRuntime(t, "ok")
	rt := NewCLIRuntime("docker", fn, nil)
	var out bytes.Buffer
	err := rt.Build(context.Background(), BuildRequest{
		Tag:           "ansible-toolbox:abc",
		Containerfile: "FROM docker.io/alpine:latest\nRUN true\n",
		Labels:        map[string]string{"io.ansible-toolbox.fingerprint": "abc"},
		Output:        &out,
	})
	if err != nil {
		t.Fatalf("Build returned error: %v", err)
	}
	if !strings.Contains(out.String(), "STEP 2/2") {
		t.Fatalf("build log not streamed: %q", out.String())
	}
	log := readLog(t, logPath)
	if !strings.Contains(log, "build --tag ansible-toolbox:abc --label io.ansible-toolbox.fingerprint=abc --file ") {
		t.Fatalf("unexpected build invocation:\n%s", log)
	}
	if !strings.Contains(log, "containerfile FROM docker.io/alpine:latest") {
		t.Fatalf("Containerfile not written to context:\n%s", log)
	}
}

func TestBuildFailureReturnsError(t *testing.T) {
	t.Parallel()

	fn, _ := fakeRuntime(t, "build-fail")
	var out bytes.Buffer
	err := NewCLIRuntime("docker", fn, nil).Build(context.Background(), BuildRequest{Tag: "t", Containerfile: "FROM x\n", Output: &out})
	if err == nil {
		t.Fatal("expected build error")
	}
	if !strings.Contains(out.String(), "No matching distribution") {
		t.Fatalf("expected failure output in build log, got %q", out.String())
	}
}

func TestDetectPrefersConfiguredRuntime(t *testing.T) {
	prev := lookPath
	t.Cleanup(func() { lookPath = prev })
	lookPath = func(name string) (string, error) {
		if name == Podman {
			return "/usr/bin/podman", nil
		}
		return "", exec.ErrNotFound
	}

	rt, err := Detect("", nil)
	if err != nil || rt.Name() != Podman {
		t.Fatalf("Detect(\"\") = %v, %v; want podman", rt, err)
	}
	if _, err := Detect("docker", nil); err == nil {
		t.Fatal("expected error when the configured runtime is missing")
	}
}
