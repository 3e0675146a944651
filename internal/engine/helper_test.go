package engine

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"
)

// fakeRuntime returns a command func that re-executes the test binary as a
// stand-in for docker. mode selects its behaviour; every invocation is
// appended to the returned log file.
func fakeRuntime(t *testing.T, mode string) (CommandFunc, string) {
	t.Helper()
	logPath := filepath.Join(t.TempDir(), "runtime.log")
	fn := func(ctx context.Context, name string, args ...string) *exec.Cmd {
		cs := append([]string{"-test.run=^TestHelperProcess$", "--", name}, args...)
		cmd := exec.CommandContext(ctx, os.Args[0], cs...)
		cmd.Env = append(os.Environ(),
			"GO_WANT_HELPER_PROCESS=1",
			"HELPER_MODE="+mode,
			"HELPER_LOG="+logPath,
		)
		return cmd
	}
	return fn, logPath
}

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read helper log: %v", err)
	}
	return string(data)
}

func waitForLog(t *testing.T, path, want string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(readLog(t, path), want) {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q in helper log:\n%s", want, readLog(t, path))
}

func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 3 {
		fmt.Fprintln(os.Stderr, "helper: missing runtime arguments")
		os.Exit(2)
	}
	os.Exit(helperMain(os.Getenv("HELPER_MODE"), args[2:]))
}

func helperLog(format string, args ...any) {
	f, err := os.OpenFile(os.Getenv("HELPER_LOG"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	fmt.Fprintf(f, format+"\n", args...)
}

func helperMain(mode string, args []string) int {
	helperLog("%s", strings.Join(args, " "))
	switch args[0] {
	case "image":
		if mode == "present" {
			fmt.Println("sha256:feedface")
			return 0
		}
		fmt.Fprintln(os.Stderr, "Error: No such image")
		return 1
	case "build":
		for i, arg := range args {
			if arg == "--file" && i+1 < len(args) {
				data, err := os.ReadFile(args[i+1])
				if err != nil {
					fmt.Fprintf(os.Stderr, "cannot read Containerfile: %v\n", err)
					return 1
				}
				helperLog("containerfile %s", strings.SplitN(string(data), "\n", 2)[0])
			}
		}
		fmt.Println("STEP 1/2: FROM alpine")
		fmt.Println("STEP 2/2: RUN pip install")
		if mode == "build-fail" {
			fmt.Fprintln(os.Stderr, "ERROR: No matching distribution found for nosuchpkg")
			return 1
		}
		return 0
	case "rm":
		return 0
	case "run":
		return helperRun(mode, args)
	}
	fmt.Fprintf(os.Stderr, "helper: unexpected command %q\n", args[0])
	return 2
}

func helperRun(mode string, args []string) int {
	var command []string
	for i, arg := range args {
		if arg == "at" {
			command = args[i+1:]
			break
		}
	}
	switch mode {
	case "exit2":
		fmt.Fprintln(os.Stdout, "PLAY RECAP")
		fmt.Fprintln(os.Stderr, "fatal: host unreachable")
		return 2
	case "echo":
		for _, arg := range command {
			fmt.Println(arg)
		}
		return 0
	case "start-fail":
		fmt.Fprintln(os.Stderr, "Error response from daemon: pull access denied")
		return 125
	case "hang":
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		helperLog("ready")
		select {
		case sig := <-sigCh:
			helperLog("signal %s", sig)
			return 130
		case <-time.After(30 * time.Second):
			return 0
		}
	}
	return 0
}
