// Package scratch is the on-disk area for downloaded media.
//
// Layout: <root>/<target>/<item-id><ext>. Target and item id are reduced to
// a safe file name so any chat identifier maps to a single directory.
// Files are written atomically; Cleanup removes files older than a maximum
// age and prunes directories left empty.
package scratch

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/engine/metrics"
	"github.com/dmitrijs2005/tgfleet/internal/filex"
	"github.com/dmitrijs2005/tgfleet/internal/logging"
)

type Dir struct {
	root    string
	clock   clock.Clock
	logger  logging.Logger
	metrics *metrics.Metrics
}

type Option func(*Dir)

func WithClock(c clock.Clock) Option        { return func(d *Dir) { d.clock = c } }
func WithLogger(l logging.Logger) Option    { return func(d *Dir) { d.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(d *Dir) { d.metrics = m } }

// New creates the root directory if needed.
func New(root string, opts ...Option) (*Dir, error) {
	abs, err := filex.EnsureDir(root)
	if err != nil {
		return nil, err
	}
	d := &Dir{root: abs, clock: clock.Real(), logger: logging.Nop()}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

func (d *Dir) Root() string { return d.root }

// Path returns where the media of an item is stored.
func (d *Dir) Path(target, itemID, ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(d.root, safeName(target), safeName(itemID)+safeExt(ext))
}

// Write stores the output of fn at Path(target, itemID, ext).
func (d *Dir) Write(target, itemID, ext string, fn func(w io.Writer) error) (string, error) {
	path := d.Path(target, itemID, ext)
	if err := filex.WriteAtomic(path, 0o640, fn); err != nil {
		return "", err
	}
	return path, nil
}

// Cleanup removes files whose modification time is older than maxAge and
// then any empty target directories. It returns the number of files removed.
func (d *Dir) Cleanup(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := d.clock.Now().Add(-maxAge)
	removed := 0
	var dirs []string

	err := filepath.WalkDir(d.root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if de.IsDir() {
			if path != d.root {
				dirs = append(dirs, path)
			}
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				d.logger.Warn(ctx, "remove scratch file", "path", path, "error", err)
				return nil
			}
			removed++
		}
		return nil
	})

	// deepest first so nested empty directories collapse
	for i := len(dirs) - 1; i >= 0; i-- {
		_ = os.Remove(dirs[i])
	}

	d.metrics.ScratchRemoved(removed)
	if removed > 0 {
		d.logger.Info(ctx, "scratch cleanup", "removed", removed)
	}
	return removed, err
}

// Run calls Cleanup every interval until ctx is done.
func (d *Dir) Run(ctx context.Context, interval, maxAge time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := d.Cleanup(ctx, maxAge); err != nil && ctx.Err() == nil {
				d.logger.Error(ctx, "scratch cleanup failed", "error", err)
			}
		}
	}
}

func safeName(s string) string {
	s = strings.TrimPrefix(s, "@")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

func safeExt(ext string) string {
	if ext == "" {
		return ""
	}
	return "." + safeName(strings.TrimPrefix(ext, "."))
}
