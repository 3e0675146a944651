package runner

import (
	"context"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"github.com/ansible-toolbox/at/internal/containerspec"
)

// newLogger writes human-readable text when w is a terminal and JSON
// otherwise, so CI logs stay machine-parseable.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	options := &slog.HandlerOptions{Level: slog.LevelInfo}
	if verbose {
		options.Level = slog.LevelDebug
	}
	var handler slog.Handler
	if f, ok := w.(*os.File); ok && isTerminal(f) {
		handler = slog.NewTextHandler(w, options)
	} else {
		handler = slog.NewJSONHandler(w, options)
	}
	return slog.New(handler)
}

// logContainerConfig records the container layout at debug level. Env values
// are dropped since they often carry credentials.
func (r *runner) logContainerConfig(spec containerspec.Spec) {
	if !r.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	mounts := make([]string, 0, len(spec.Mounts()))
	for _, m := range spec.Mounts() {
		mounts = append(mounts, m.String())
	}
	keys := make([]string, 0, len(spec.Env()))
	for _, e := range spec.Env() {
		keys = append(keys, e.Key)
	}
	r.logger.Debug("container config",
		"name", spec.Name(),
		"image", spec.Image(),
		"user", spec.User(),
		"mounts", mounts,
		"env_keys", keys,
	)
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
