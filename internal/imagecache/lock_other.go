//go:build !unix

package imagecache

import (
	"context"
	"os"
)

// Without flock, concurrent builds of the same fingerprint may both run.
func lockFile(ctx context.Context, path string) (*os.File, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
}

func unlockFile(file *os.File) {
	if file == nil {
		return
	}
	_ = file.Close()
}
