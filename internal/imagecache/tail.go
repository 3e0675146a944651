package imagecache

import (
	"bytes"
	"sync"
)

// maxPartialLine bounds an unterminated line, such as a progress bar redrawn
// with carriage returns; only its end is kept.
const maxPartialLine = 4 << 10

// tailWriter keeps the last max complete lines written to it, plus any
// unterminated trailing line.
type tailWriter struct {
	mu      sync.Mutex
	max     int
	lines   []string
	partial []byte
}

func newTailWriter(max int) *tailWriter {
	return &tailWriter{max: max}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data := append(w.partial, p...)
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		w.push(string(bytes.TrimRight(data[:idx], "\r")))
		data = data[idx+1:]
	}
	if len(data) > maxPartialLine {
		data = data[len(data)-maxPartialLine:]
	}
	w.partial = append([]byte(nil), data...)
	return len(p), nil
}

func (w *tailWriter) push(line string) {
	w.lines = append(w.lines, line)
	if len(w.lines) > w.max {
		w.lines = append([]string(nil), w.lines[len(w.lines)-w.max:]...)
	}
}

// Lines returns the retained lines, oldest first.
func (w *tailWriter) Lines() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := append([]string(nil), w.lines...)
	if len(w.partial) > 0 {
		out = append(out, string(w.partial))
		if len(out) > w.max {
			out = out[len(out)-w.max:]
		}
	}
	return out
}
