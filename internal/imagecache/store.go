package imagecache

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const storeFileName = "images.toml"

// Record is what the cache knows about one built image.
type Record struct {
	Fingerprint string    `toml:"-"`
	Tag         string    `toml:"tag"`
	BuiltAt     time.Time `toml:"built_at"`
	Packages    []string  `toml:"packages,omitempty"`
	Runtime     string    `toml:"runtime,omitempty"`
	// Adopted is set when the image was found in the runtime without a record
	// and registered after the fact.
	Adopted bool `toml:"adopted,omitempty"`
}

type storeFile struct {
	Images map[string]Record `toml:"images"`
}

// store is the fingerprint to record mapping persisted in images.toml.
type store struct {
	dir string
}

func (s store) path() string {
	return filepath.Join(s.dir, storeFileName)
}

func (s store) load() (map[string]Record, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Record{}, nil
		}
		return nil, fmt.Errorf("read image store: %w", err)
	}
	var file storeFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, &StoreError{Path: s.path(), Err: err}
	}
	records := make(map[string]Record, len(file.Images))
	for fingerprint, rec := range file.Images {
		rec.Fingerprint = fingerprint
		records[fingerprint] = rec
	}
	return records, nil
}

// put adds rec and rewrites the store atomically. Callers hold the store lock.
func (s store) put(rec Record) error {
	records, err := s.load()
	if err != nil {
		var storeErr *StoreError
		if !errors.As(err, &storeErr) {
			return err
		}
		// A corrupt store is replaced; images are re-adopted on the next lookup.
		records = map[string]Record{}
	}
	records[rec.Fingerprint] = rec
	return s.write(records)
}

func (s store) write(records map[string]Record) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "images-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleaned := false
	defer func() {
		if !cleaned {
			_ = os.Remove(tmpName)
		}
	}()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := toml.NewEncoder(tmp).Encode(storeFile{Images: records}); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode image store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync image store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close image store: %w", err)
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		return fmt.Errorf("rename image store: %w", err)
	}
	cleaned = true
	return nil
}

// StoreError indicates images.toml could not be decoded.
type StoreError struct {
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
