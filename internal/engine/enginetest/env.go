// Package enginetest assembles an engine over an in-memory database, a fake
// clock and the fake platform for package tests.
package enginetest

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/metrics"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform/platformtest"
	"github.com/dmitrijs2005/tgfleet/internal/engine/pool"
	"github.com/dmitrijs2005/tgfleet/internal/engine/proxies"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/repotest"
	"github.com/dmitrijs2005/tgfleet/internal/engine/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// Start is the fake clock's initial time.
var Start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type Env struct {
	Store    *store.Store
	Clock    *clock.Fake
	Platform *platformtest.Fake
	Proxies  *proxies.Manager
	Pool     *pool.Pool
	Auth     *auth.Manager
	Metrics  *metrics.Metrics

	Notified []*models.Account
}

type Options struct {
	Auth    auth.Config
	Proxies proxies.Config
}

func New(t testing.TB, opts ...func(*Options)) *Env {
	t.Helper()
	o := Options{Auth: auth.Config{APIID: 1, APIHash: "hash"}}
	for _, f := range opts {
		f(&o)
	}

	db := repotest.OpenSQLite(t)
	clk := clock.NewFake(Start)
	st := store.New(db, dbx.SQLite, repotest.Keyring(t), store.WithClock(clk))
	mt := metrics.New()

	e := &Env{
		Store:    st,
		Clock:    clk,
		Platform: platformtest.New(),
		Pool:     pool.New(0),
		Metrics:  mt,
	}
	e.Proxies = proxies.NewManager(st.Repos().Proxies(st.DB()), o.Proxies,
		proxies.WithClock(clk), proxies.WithMetrics(mt))
	e.Auth = auth.NewManager(st, e.Platform, e.Proxies, e.Pool, o.Auth,
		auth.WithClock(clk),
		auth.WithMetrics(mt),
		auth.WithNotifier(func(ctx context.Context, a *models.Account) {
			e.Notified = append(e.Notified, a)
		}),
	)
	return e
}

// ActiveAccount stores an active account whose session the fake platform
// accepts.
func (e *Env) ActiveAccount(t testing.TB, phone string) *models.Account {
	t.Helper()
	a := &models.Account{
		ID:        uuid.NewString(),
		Label:     phone,
		Phone:     phone,
		APIID:     1,
		Status:    models.AccountActive,
		Secrets:   models.AccountSecrets{APIHash: "hash", Session: platformtest.SessionFor(phone)},
		CreatedAt: e.Clock.Now(),
	}
	require.NoError(t, e.Store.Repos().Accounts(e.Store.DB()).Create(context.Background(), a))
	return a
}

// Account reloads an account from the store.
func (e *Env) Account(t testing.TB, id string) *models.Account {
	t.Helper()
	a, err := e.Store.Repos().Accounts(e.Store.DB()).Get(context.Background(), id)
	require.NoError(t, err)
	return a
}

// Task stores a pending task.
func (e *Env) Task(t testing.TB, kind models.TaskKind, target string, payload models.TaskPayload, fingerprint string) *models.Task {
	t.Helper()
	now := e.Clock.Now()
	tk := &models.Task{
		ID:          uuid.NewString(),
		Kind:        kind,
		Target:      target,
		Payload:     payload,
		Fingerprint: fingerprint,
		RequestedBy: "test",
		State:       models.TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.Store.Repos().Tasks(e.Store.DB()).Create(context.Background(), tk))
	return tk
}

// LoadTask reloads a task from the store.
func (e *Env) LoadTask(t testing.TB, id string) *models.Task {
	t.Helper()
	tk, err := e.Store.Repos().Tasks(e.Store.DB()).Get(context.Background(), id)
	require.NoError(t, err)
	return tk
}

// Running moves a pending or deferred task to running the way the
// dispatcher does before executing it.
func (e *Env) Running(t testing.TB, tk *models.Task) *models.Task {
	t.Helper()
	ctx := context.Background()
	repo := e.Store.Repos().Tasks(e.Store.DB())
	if tk.State == models.TaskDeferred {
		tk.State = models.TaskPending
		require.NoError(t, repo.Transition(ctx, tk, models.TaskDeferred))
	}
	tk.State = models.TaskRunning
	tk.Attempts++
	tk.UpdatedAt = e.Clock.Now()
	require.NoError(t, repo.Transition(ctx, tk, models.TaskPending))
	return tk
}
