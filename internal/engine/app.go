// Package engine assembles the automation engine from its configuration and
// runs its long-lived parts: the task dispatcher, the control API, the
// metrics endpoint and the scratch cleanup and backup jobs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/backup"
	"github.com/dmitrijs2005/tgfleet/internal/engine/config"
	"github.com/dmitrijs2005/tgfleet/internal/engine/dispatch"
	"github.com/dmitrijs2005/tgfleet/internal/engine/metrics"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform/telegram"
	"github.com/dmitrijs2005/tgfleet/internal/engine/pool"
	"github.com/dmitrijs2005/tgfleet/internal/engine/proxies"
	"github.com/dmitrijs2005/tgfleet/internal/engine/scratch"
	"github.com/dmitrijs2005/tgfleet/internal/engine/services"
	"github.com/dmitrijs2005/tgfleet/internal/engine/settings"
	"github.com/dmitrijs2005/tgfleet/internal/engine/store"
	"github.com/dmitrijs2005/tgfleet/internal/logging"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/tgfleet/internal/engine/grpc"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	store      *store.Store
	metrics    *metrics.Metrics
	proxies    *proxies.Manager
	auth       *auth.Manager
	dispatcher *dispatch.Dispatcher
	scratch    *scratch.Dir
	settings   *settings.Settings
	backup     *backup.Runner
	grpc       *gs.Server
}

// NewApp opens the store and builds every component. The caller must
// eventually call Close or Run.
func NewApp(ctx context.Context, c *config.Config, w io.Writer) (*App, error) {
	return newApp(ctx, c, w, nil)
}

func newApp(ctx context.Context, c *config.Config, w io.Writer, client platform.Client) (*App, error) {
	logger, err := logging.New(w, c.LogFormat, c.LogLevel)
	if err != nil {
		return nil, err
	}
	st, err := OpenStore(ctx, c)
	if err != nil {
		return nil, err
	}

	app := &App{config: c, logger: logger, store: st, metrics: metrics.New()}
	if err := app.build(ctx, client); err != nil {
		_ = st.Close()
		return nil, err
	}
	return app, nil
}

// OpenStore derives the keyring and opens the configured database.
func OpenStore(ctx context.Context, c *config.Config) (*store.Store, error) {
	kr, err := c.Keyring()
	if err != nil {
		return nil, err
	}
	d, err := dbx.ParseDialect(c.DatabaseDriver)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, d, c.DatabaseDSN, kr)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	return st, nil
}

func (app *App) build(ctx context.Context, client platform.Client) error {
	c, l, mt, st := app.config, app.logger, app.metrics, app.store

	app.proxies = proxies.NewManager(st.Repos().Proxies(st.DB()), proxies.Config{
		Cooldown:    c.ProxyCooldown,
		DeadAfter:   c.ProxyDeadAfter,
		CheckAddr:   c.CheckAddr,
		DialTimeout: c.DialTimeout,
	}, proxies.WithLogger(l.With("module", "proxies")), proxies.WithMetrics(mt))
	if err := app.proxies.Load(ctx); err != nil {
		return fmt.Errorf("load proxies: %w", err)
	}

	if client == nil {
		client = telegram.NewClient(c.DialTimeout)
	}
	app.auth = auth.NewManager(st, client, app.proxies, pool.New(c.Pacing), auth.Config{
		CallTimeout:  c.CallTimeout,
		RequireProxy: c.RequireProxy,
		APIID:        c.APIID,
		APIHash:      c.APIHash,
	},
		auth.WithLogger(l.With("module", "auth")),
		auth.WithMetrics(mt),
		auth.WithNotifier(func(ctx context.Context, a *models.Account) {
			l.Error(ctx, "account needs re-enrollment", "account_id", a.ID, "label", a.Label, "status", a.Status, "reason", a.StatusReason)
		}),
	)

	sd, err := scratch.New(c.ScratchDir, scratch.WithLogger(l.With("module", "scratch")), scratch.WithMetrics(mt))
	if err != nil {
		return err
	}
	app.scratch = sd

	svc := services.New(st, app.auth, sd, services.Config{
		DailyJoinQuota:   c.DailyJoinQuota,
		FloodBackoffBase: c.FloodBackoffBase,
		MaxAttempts:      c.MaxAttempts,
		FetchRetryMax:    c.FetchRetryMax,
		FetchPageSize:    c.FetchPageSize,
	}, services.WithLogger(l.With("module", "services")), services.WithMetrics(mt))

	app.dispatcher = dispatch.New(st, app.auth, svc, dispatch.Config{
		Workers:        c.Workers,
		PollInterval:   c.PollInterval,
		TaskRetention:  c.TaskRetention,
		DedupRetention: c.DedupRetention,
	}, dispatch.WithLogger(l.With("module", "dispatch")), dispatch.WithMetrics(mt))

	app.settings = settings.New(st)
	opts := []gs.Option{gs.WithLogger(l), gs.WithMetrics(mt), gs.WithSettings(app.settings)}
	if c.Backups() {
		r, err := app.newBackup(ctx)
		if err != nil {
			return err
		}
		app.backup = r
		opts = append(opts, gs.WithBackup(r))
	}
	app.grpc = gs.NewServer(c.GRPCAddr, c.SecretKey, app.dispatcher, app.auth, app.proxies, opts...)
	return nil
}

func (app *App) newBackup(ctx context.Context) (*backup.Runner, error) {
	c := app.config
	opts := []backup.Option{
		backup.WithLogger(app.logger.With("module", "backup")),
		backup.WithMetrics(app.metrics),
		backup.WithSettings(app.settings),
		backup.WithPublisher(backupPublisher{tasks: app.dispatcher}),
	}
	if c.S3Bucket != "" {
		up, err := backup.NewS3(ctx, backup.S3Config{
			Endpoint:  c.S3Endpoint,
			Region:    c.S3Region,
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, backup.WithUploader(up))
	}
	return backup.New(app.store, backup.Config{
		Dir:        c.BackupDir,
		Keep:       c.BackupKeep,
		Recipients: c.BackupRecipients,
	}, opts...)
}

// backupPublisher posts backup files to a chat as ordinary publish tasks.
type backupPublisher struct {
	tasks *dispatch.Dispatcher
}

func (p backupPublisher) PublishBackup(ctx context.Context, channel, path string) error {
	_, err := p.tasks.Submit(ctx, dispatch.SubmitRequest{
		Kind:        models.TaskPublish,
		Target:      channel,
		Payload:     models.TaskPayload{Text: filepath.Base(path), MediaPath: path},
		RequestedBy: "backup",
	})
	return err
}

// Run serves until ctx ends or SIGINT/SIGTERM arrives, then shuts every
// part down and closes the store. The first part to fail stops the rest.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	defer app.Close()

	app.logger.Info(ctx, "Starting app...")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.dispatcher.Run(ctx) })
	g.Go(func() error { return app.grpc.Run(ctx) })
	g.Go(func() error { return app.scratch.Run(ctx, app.config.CleanupInterval, app.config.ScratchMaxAge) })
	if app.config.MetricsAddr != "" {
		g.Go(func() error { return app.serveMetrics(ctx) })
	}
	if app.backup != nil {
		g.Go(func() error { return app.backup.Run(ctx, app.config.BackupInterval) })
	}

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped", "error", err)
	return err
}

func (app *App) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", app.metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := app.store.Ping(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, "ok")
	})
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}()

	app.logger.Info(ctx, "Starting metrics server", "address", app.config.MetricsAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (app *App) Close() error {
	return app.store.Close()
}

// Restore loads a backup file into the configured store. identities are
// age identities for encrypted backups.
func Restore(ctx context.Context, c *config.Config, path string, identities ...string) error {
	blob, err := backup.Open(path, identities...)
	if err != nil {
		return err
	}
	st, err := OpenStore(ctx, c)
	if err != nil {
		return err
	}
	defer st.Close()
	return st.Restore(ctx, blob)
}

// Rekey rewrites every sealed value under the current key version.
func Rekey(ctx context.Context, c *config.Config) (int64, error) {
	st, err := OpenStore(ctx, c)
	if err != nil {
		return 0, err
	}
	defer st.Close()
	return st.Rekey(ctx)
}
