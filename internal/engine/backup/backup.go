// Package backup writes periodic store snapshots to a local directory and,
// optionally, to an S3 compatible bucket. Snapshots can be encrypted to age
// recipients; each destination keeps only the newest Keep files. Operator
// settings may replace the recipients and Keep, and may name a channel
// every new backup is published to.
package backup

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"filippo.io/age"
	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/engine/metrics"
	"github.com/dmitrijs2005/tgfleet/internal/engine/settings"
	"github.com/dmitrijs2005/tgfleet/internal/filex"
	"github.com/dmitrijs2005/tgfleet/internal/logging"
)

const (
	filePrefix = "tgfleet-"
	fileSuffix = ".snap"
	ageSuffix  = ".age"
	nameLayout = "20060102T150405Z"
)

// Snapshotter produces a point-in-time dump of the store.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]byte, error)
}

// Uploader stores backups off the machine.
type Uploader interface {
	Upload(ctx context.Context, name string, body []byte) error
	// Prune deletes all but the newest keep backups.
	Prune(ctx context.Context, keep int) error
}

// Settings looks up operator settings by name.
type Settings interface {
	Lookup(ctx context.Context, name string) (string, bool, error)
}

// Publisher sends a backup file to a chat.
type Publisher interface {
	PublishBackup(ctx context.Context, channel, path string) error
}

type Config struct {
	Dir  string
	Keep int
	// Recipients are age public keys (age1...). When set, every backup is
	// encrypted to all of them.
	Recipients []string
}

type Runner struct {
	src        Snapshotter
	cfg        Config
	recipients []age.Recipient
	uploader   Uploader
	settings   Settings
	publisher  Publisher
	clock      clock.Clock
	logger     logging.Logger
	metrics    *metrics.Metrics
}

type Option func(*Runner)

func WithUploader(u Uploader) Option        { return func(r *Runner) { r.uploader = u } }
func WithSettings(s Settings) Option        { return func(r *Runner) { r.settings = s } }
func WithPublisher(p Publisher) Option      { return func(r *Runner) { r.publisher = p } }
func WithClock(c clock.Clock) Option        { return func(r *Runner) { r.clock = c } }
func WithLogger(l logging.Logger) Option    { return func(r *Runner) { r.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(r *Runner) { r.metrics = m } }

func New(src Snapshotter, cfg Config, opts ...Option) (*Runner, error) {
	if cfg.Keep <= 0 {
		cfg.Keep = 5
	}
	dir, err := filex.EnsureDir(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("backup dir: %w", err)
	}
	cfg.Dir = dir

	r := &Runner{src: src, cfg: cfg, clock: clock.Real(), logger: logging.Nop()}
	if len(cfg.Recipients) > 0 {
		r.recipients, err = settings.Recipients(strings.Join(cfg.Recipients, ","))
		if err != nil {
			return nil, err
		}
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Backup takes a snapshot, writes it to the backup directory and uploads
// it when an uploader is configured. It returns the local path.
func (r *Runner) Backup(ctx context.Context) (string, error) {
	path, err := r.backup(ctx)
	r.metrics.Backup(err == nil)
	if err != nil {
		r.logger.Error(ctx, "backup failed", "error", err)
		return "", err
	}
	r.logger.Info(ctx, "backup written", "path", path)
	return path, nil
}

// plan is the destination of one backup after settings are applied.
type plan struct {
	recipients []age.Recipient
	keep       int
	channel    string
}

func (r *Runner) resolve(ctx context.Context) (plan, error) {
	p := plan{recipients: r.recipients, keep: r.cfg.Keep}
	if r.settings == nil {
		return p, nil
	}
	if v, ok, err := r.settings.Lookup(ctx, settings.BackupRecipients); err != nil {
		return p, err
	} else if ok {
		if p.recipients, err = settings.Recipients(v); err != nil {
			return p, err
		}
	}
	if v, ok, err := r.settings.Lookup(ctx, settings.BackupKeep); err != nil {
		return p, err
	} else if ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, fmt.Errorf("invalid %s setting %q", settings.BackupKeep, v)
		}
		p.keep = n
	}
	v, _, err := r.settings.Lookup(ctx, settings.BackupChannel)
	if err != nil {
		return p, err
	}
	p.channel = v
	return p, nil
}

func (r *Runner) backup(ctx context.Context) (string, error) {
	p, err := r.resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("settings: %w", err)
	}
	blob, err := r.src.Snapshot(ctx)
	if err != nil {
		return "", fmt.Errorf("snapshot: %w", err)
	}

	name := filePrefix + r.clock.Now().UTC().Format(nameLayout) + fileSuffix
	if len(p.recipients) > 0 {
		if blob, err = encrypt(blob, p.recipients); err != nil {
			return "", err
		}
		name += ageSuffix
	}

	path := filepath.Join(r.cfg.Dir, name)
	err = filex.WriteAtomic(path, 0o600, func(w io.Writer) error {
		_, err := w.Write(blob)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := r.pruneLocal(p.keep); err != nil {
		r.logger.Warn(ctx, "prune local backups", "error", err)
	}

	if r.uploader != nil {
		if err := r.uploader.Upload(ctx, name, blob); err != nil {
			return "", fmt.Errorf("upload %s: %w", name, err)
		}
		if err := r.uploader.Prune(ctx, p.keep); err != nil {
			r.logger.Warn(ctx, "prune remote backups", "error", err)
		}
	}

	if p.channel != "" && r.publisher != nil {
		if err := r.publisher.PublishBackup(ctx, p.channel, path); err != nil {
			return "", fmt.Errorf("publish %s to %s: %w", name, p.channel, err)
		}
	}
	return path, nil
}

func encrypt(blob []byte, recipients []age.Recipient) ([]byte, error) {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := w.Write(blob); err != nil {
		return nil, fmt.Errorf("writing snapshot to age encryptor: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}
	return buf.Bytes(), nil
}

// List returns the local backup files, oldest first.
func (r *Runner) List() ([]string, error) {
	entries, err := os.ReadDir(r.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && IsBackupName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (r *Runner) pruneLocal(keep int) error {
	names, err := r.List()
	if err != nil {
		return err
	}
	for _, name := range Expired(names, keep) {
		if err := os.Remove(filepath.Join(r.cfg.Dir, name)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

// Run backs up every interval until ctx ends. Failures are logged and
// retried at the next tick.
func (r *Runner) Run(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			_, _ = r.Backup(ctx)
		}
	}
}

// IsBackupName reports whether name looks like a backup file.
func IsBackupName(name string) bool {
	base := filepath.Base(name)
	return strings.HasPrefix(base, filePrefix) &&
		(strings.HasSuffix(base, fileSuffix) || strings.HasSuffix(base, fileSuffix+ageSuffix))
}

// Expired returns the names that fall outside the newest keep. Names sort
// by time because the timestamp is fixed width.
func Expired(names []string, keep int) []string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	if len(sorted) <= keep {
		return nil
	}
	return sorted[:len(sorted)-keep]
}

// Open reads a backup file and decrypts it with identities when it was
// encrypted. identities are age secret keys (AGE-SECRET-KEY-1...).
func Open(path string, identities ...string) ([]byte, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ageSuffix) {
		return blob, nil
	}

	ids := make([]age.Identity, 0, len(identities))
	for _, s := range identities {
		id, err := age.ParseX25519Identity(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parsing identity: %w", err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("%s is encrypted and no identity was given", filepath.Base(path))
	}

	rd, err := age.Decrypt(bytes.NewReader(blob), ids...)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s: %w", filepath.Base(path), err)
	}
	return io.ReadAll(rd)
}
