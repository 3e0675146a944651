// Package imagecache maps build fingerprints to locally built images and
// builds the image when no usable one exists.
package imagecache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ansible-toolbox/at/internal/buildspec"
	"github.com/ansible-toolbox/at/internal/engine"
	"github.com/ansible-toolbox/at/internal/telemetry/otel"
)

// LogTailLines is how much of a failed build log is reported.
const LogTailLines = 20

// Builder is the part of the container runtime the cache needs.
type Builder interface {
	Name() string
	ImageExists(ctx context.Context, ref string) (bool, error)
	Build(ctx context.Context, req engine.BuildRequest) error
}

// BuildError reports a failed image build with the end of its log.
type BuildError struct {
	Tag     string
	LogTail []string
	Err     error
}

func (e *BuildError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "build image %s: %v", e.Tag, e.Err)
	if len(e.LogTail) > 0 {
		b.WriteString("\n--- build log (last lines) ---\n")
		b.WriteString(strings.Join(e.LogTail, "\n"))
	}
	return b.String()
}

func (e *BuildError) Unwrap() error { return e.Err }

// Config wires a Cache.
type Config struct {
	// Dir holds images.toml and the lock files.
	Dir         string
	Runtime     Builder
	Logger      *slog.Logger
	Instruments *otel.Instruments
	// BuildOutput additionally receives the full build log, e.g. stderr in
	// verbose mode.
	BuildOutput io.Writer
	// Now defaults to time.Now.
	Now func() time.Time
}

// Cache resolves build specs to images. Images are never evicted; a new
// package set simply produces a new fingerprint and tag.
type Cache struct {
	cfg   Config
	store store
}

// New returns a cache rooted at cfg.Dir.
func New(cfg Config) (*Cache, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("image cache directory is required")
	}
	if cfg.Runtime == nil {
		return nil, fmt.Errorf("image cache requires a runtime")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{cfg: cfg, store: store{dir: cfg.Dir}}, nil
}

// Resolve looks spec up without building. A hit requires the image to be
// present in the runtime; an image that exists under the expected tag but has
// no record is adopted.
func (c *Cache) Resolve(ctx context.Context, spec buildspec.BuildSpec) (Record, bool, error) {
	records, err := c.store.load()
	if err != nil {
		c.cfg.Logger.Warn("ignoring unreadable image store", "error", err)
		records = map[string]Record{}
	}

	rec, known := records[spec.Fingerprint]
	tag := spec.Tag()
	if known && rec.Tag != "" {
		tag = rec.Tag
	}
	exists, err := c.cfg.Runtime.ImageExists(ctx, tag)
	if err != nil {
		return Record{}, false, err
	}
	if !exists {
		if known {
			c.cfg.Logger.Debug("recorded image missing from runtime", "tag", tag, "fingerprint", buildspec.ShortFingerprint(spec.Fingerprint))
		}
		return Record{}, false, nil
	}
	if known {
		return rec, true, nil
	}

	rec = c.newRecord(spec)
	rec.Adopted = true
	if err := c.save(ctx, rec); err != nil {
		c.cfg.Logger.Warn("could not record adopted image", "tag", rec.Tag, "error", err)
	}
	return rec, true, nil
}

// Ensure returns a usable image for spec, building it on a miss. Builds of
// the same fingerprint are serialized across processes; a waiter reuses the
// image the lock holder built.
func (c *Cache) Ensure(ctx context.Context, spec buildspec.BuildSpec) (Record, error) {
	inst := c.cfg.Instruments
	resolveCtx, span := inst.Start(ctx, "resolve-image",
		attribute.String("image.fingerprint", spec.Fingerprint),
		attribute.String("image.tag", spec.Tag()),
	)
	rec, hit, err := c.Resolve(resolveCtx, spec)
	span.SetAttributes(attribute.Bool("cache.hit", hit))
	span.End(err)
	if err != nil {
		return Record{}, &BuildError{Tag: spec.Tag(), Err: err}
	}
	if hit {
		inst.CacheHit(ctx)
		c.cfg.Logger.Debug("image cache hit", "tag", rec.Tag)
		return rec, nil
	}
	inst.CacheMiss(ctx)

	lock, err := c.lock(ctx, spec.Fingerprint)
	if err != nil {
		return Record{}, &BuildError{Tag: spec.Tag(), Err: err}
	}
	defer unlockFile(lock)

	if rec, hit, err := c.Resolve(ctx, spec); err == nil && hit {
		c.cfg.Logger.Debug("image built by a concurrent invocation", "tag", rec.Tag)
		return rec, nil
	}
	return c.build(ctx, spec)
}

func (c *Cache) build(ctx context.Context, spec buildspec.BuildSpec) (Record, error) {
	tag := spec.Tag()
	ctx, span := c.cfg.Instruments.Start(ctx, "build-image",
		attribute.String("image.tag", tag),
		attribute.StringSlice("image.packages", spec.Sorted()),
	)

	containerfile, err := spec.Render()
	if err != nil {
		span.End(err)
		return Record{}, &BuildError{Tag: tag, Err: err}
	}

	tail := newTailWriter(LogTailLines)
	output := io.Writer(tail)
	if c.cfg.BuildOutput != nil {
		output = io.MultiWriter(tail, c.cfg.BuildOutput)
	}

	c.cfg.Logger.Info("building toolbox image; this happens once per package set", "tag", tag, "runtime", c.cfg.Runtime.Name())
	start := c.cfg.Now()
	err = c.cfg.Runtime.Build(ctx, engine.BuildRequest{
		Tag:           tag,
		Containerfile: containerfile,
		Labels:        map[string]string{buildspec.FingerprintLabel: spec.Fingerprint},
		Output:        output,
	})
	c.cfg.Instruments.BuildFinished(ctx, err)
	span.End(err)
	if err != nil {
		return Record{}, &BuildError{Tag: tag, LogTail: tail.Lines(), Err: err}
	}
	c.cfg.Logger.Debug("image built", "tag", tag, "elapsed", c.cfg.Now().Sub(start).Round(time.Millisecond))

	rec := c.newRecord(spec)
	if err := c.save(ctx, rec); err != nil {
		// The image exists; the next lookup adopts it.
		c.cfg.Logger.Warn("could not record built image", "tag", tag, "error", err)
	}
	return rec, nil
}

func (c *Cache) newRecord(spec buildspec.BuildSpec) Record {
	return Record{
		Fingerprint: spec.Fingerprint,
		Tag:         spec.Tag(),
		BuiltAt:     c.cfg.Now().UTC(),
		Packages:    spec.Sorted(),
		Runtime:     c.cfg.Runtime.Name(),
	}
}

func (c *Cache) save(ctx context.Context, rec Record) error {
	if err := os.MkdirAll(c.cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	lock, err := lockFile(ctx, filepath.Join(c.cfg.Dir, storeFileName+".lock"))
	if err != nil {
		return err
	}
	defer unlockFile(lock)
	return c.store.put(rec)
}

func (c *Cache) lock(ctx context.Context, fingerprint string) (*os.File, error) {
	dir := filepath.Join(c.cfg.Dir, "locks")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	return lockFile(ctx, filepath.Join(dir, fingerprint+".lock"))
}
