package main

import (
	"errors"
	"log"
	"os"

	"github.com/ansible-toolbox/at/internal/runner"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	runner.SetVersion(version, commit, buildDate)
	if err := runner.Main(os.Args); err != nil {
		var exitErr *runner.ExitCodeError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.ExitCode())
		}
		log.Fatal(err)
	}
}
