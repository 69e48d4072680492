// Package services runs the three task kinds (publish, join, fetch)
// against one account and proxy at a time.
//
// Every service receives a task the dispatcher has already moved to
// running and is the only writer of its final state. Platform failures are
// classified before the task is updated; the returned Result carries the
// user-visible result code and never a raw platform error.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/metrics"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/platform"
	"github.com/dmitrijs2005/tgfleet/internal/engine/scratch"
	"github.com/dmitrijs2005/tgfleet/internal/engine/store"
	"github.com/dmitrijs2005/tgfleet/internal/logging"
)

// ErrCancelled is the cancellation cause the dispatcher uses when an
// operator cancels a running task. Any other cancellation (shutdown) defers
// the task instead of failing it.
var ErrCancelled = errors.New("task cancelled")

type Config struct {
	DailyJoinQuota   int
	JoinWindow       time.Duration
	FloodBackoffBase time.Duration
	// RetryBase and RetryMax bound the exponential deferral of transient
	// failures; MaxAttempts fails a task after that many executions.
	RetryBase   time.Duration
	RetryMax    time.Duration
	MaxAttempts int
	// BusyRetry is the deferral when no account or proxy is free.
	BusyRetry time.Duration

	FetchRetryMax  int
	FetchRetryBase time.Duration
	FetchPageSize  int
	FetchLimit     int
}

func (c Config) withDefaults() Config {
	if c.DailyJoinQuota <= 0 {
		c.DailyJoinQuota = 20
	}
	if c.JoinWindow <= 0 {
		c.JoinWindow = 24 * time.Hour
	}
	if c.FloodBackoffBase <= 0 {
		c.FloodBackoffBase = 30 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 30 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = time.Hour
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 20
	}
	if c.BusyRetry <= 0 {
		c.BusyRetry = 15 * time.Second
	}
	if c.FetchRetryMax <= 0 {
		c.FetchRetryMax = 5
	}
	if c.FetchRetryBase <= 0 {
		c.FetchRetryBase = 500 * time.Millisecond
	}
	if c.FetchPageSize <= 0 {
		c.FetchPageSize = 50
	}
	if c.FetchLimit <= 0 {
		c.FetchLimit = 100
	}
	return c
}

// Result is the outcome of one task execution.
type Result struct {
	TaskID         string
	State          models.TaskState
	Code           string
	Reason         string
	NextEligibleAt time.Time
	AccountID      string
	// Err is the taxonomy sentinel; nil for successful outcomes other
	// than already-done short circuits.
	Err error

	// Fetch only.
	Items  int
	Cursor string
}

type Services struct {
	store   *store.Store
	auth    *auth.Manager
	scratch *scratch.Dir
	cfg     Config
	clock   clock.Clock
	logger  logging.Logger
	metrics *metrics.Metrics

	inflight keyset
}

type Option func(*Services)

func WithClock(c clock.Clock) Option        { return func(s *Services) { s.clock = c } }
func WithLogger(l logging.Logger) Option    { return func(s *Services) { s.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(s *Services) { s.metrics = m } }

func New(st *store.Store, am *auth.Manager, sd *scratch.Dir, cfg Config, opts ...Option) *Services {
	s := &Services{
		store:    st,
		auth:     am,
		scratch:  sd,
		cfg:      cfg.withDefaults(),
		clock:    clock.Real(),
		logger:   logging.Nop(),
		inflight: keyset{m: map[string]struct{}{}},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Execute runs t with the service of its kind. Fetch items are only
// recorded in the store.
func (s *Services) Execute(ctx context.Context, t *models.Task) (*Result, error) {
	switch t.Kind {
	case models.TaskPublish:
		return s.Publish(ctx, t)
	case models.TaskJoin:
		return s.Join(ctx, t)
	case models.TaskFetch:
		return s.Fetch(ctx, t, nil)
	}
	return s.finish(ctx, t, s.failed(models.CodeInvalid, common.ErrorValidation, fmt.Sprintf("unknown task kind %q", t.Kind)), nil)
}

// acquire binds an account to t: the pinned one, or the least recently
// used idle active account that passes accept. When no session can be
// bound the returned Result says how the task should be deferred or failed.
// A pinned account rejected by accept yields auth.ErrNotAccepted.
func (s *Services) acquire(ctx context.Context, t *models.Task, accept func(ctx context.Context, a *models.Account) (bool, error)) (*auth.Session, *Result, error) {
	var (
		sess *auth.Session
		err  error
	)
	if t.AccountID != "" {
		a, gerr := s.auth.Get(ctx, t.AccountID)
		if gerr != nil {
			if errors.Is(gerr, common.ErrorNotFound) {
				return nil, s.failed(models.CodeInvalid, common.ErrorValidation, "pinned account does not exist"), nil
			}
			return nil, nil, gerr
		}
		now := s.clock.Now()
		switch {
		case a.Status.Terminal():
			return nil, s.failed(models.CodeCompromised, common.ErrAccountCompromised, "pinned account is "+string(a.Status)), nil
		case a.Status == models.AccountFloodLimited && a.ResumeAt.After(now):
			return nil, s.deferred(a.ResumeAt, models.CodeFloodWait, common.ErrTransient, "pinned account is flood limited"), nil
		case a.Status == models.AccountUnauthenticated || a.Status == models.AccountAuthenticating:
			return nil, s.retry(t, models.CodeUnauthorized, "pinned account is not authenticated"), nil
		}
		sess, err = s.auth.AcquireIf(ctx, t.AccountID, accept)
	} else {
		sess, err = s.auth.AcquireIdle(ctx, accept)
	}

	switch {
	case err == nil:
		return sess, nil, nil
	case errors.Is(err, common.ErrNoIdleAccount):
		return nil, s.deferred(s.clock.Now().Add(s.cfg.BusyRetry), models.CodeNoAccount, common.ErrTransient, "no idle account"), nil
	case errors.Is(err, common.ErrProxiesExhausted):
		return nil, s.deferred(s.clock.Now().Add(s.cfg.BusyRetry), models.CodeNoProxy, common.ErrTransient, "no eligible proxy"), nil
	case errors.Is(err, common.ErrAccountCompromised):
		return nil, s.failed(models.CodeCompromised, common.ErrAccountCompromised, err.Error()), nil
	}
	return nil, nil, err
}

// platformFailure turns the error of a platform call made through sess
// into a Result and applies its account level consequences.
func (s *Services) platformFailure(ctx context.Context, t *models.Task, sess *auth.Session, err error) *Result {
	if r := s.interrupted(ctx, t); r != nil {
		return r
	}
	sentinel, code := Classify(err)
	switch {
	case code == models.CodeFloodWait:
		wait, _ := platform.WaitOf(err)
		if wait < s.cfg.FloodBackoffBase {
			wait = s.cfg.FloodBackoffBase
		}
		until := s.clock.Now().Add(wait)
		if ferr := s.auth.MarkFloodLimited(context.WithoutCancel(ctx), sess.Account.ID, until, err.Error()); ferr != nil {
			s.logger.Error(ctx, "mark flood limited", "account_id", sess.Account.ID, "error", ferr)
		}
		return s.deferred(until, code, sentinel, err.Error())
	case code == models.CodeCompromised || code == models.CodeUnauthorized:
		s.auth.Escalate(ctx, sess.Account, err)
		// hand the task to another account
		t.AccountID = ""
		return s.deferred(s.clock.Now(), code, sentinel, err.Error())
	case errors.Is(sentinel, common.ErrTransient):
		return s.retry(t, code, err.Error())
	}
	return s.failed(code, sentinel, err.Error())
}

// settle applies the account consequences of a failed call while sess
// still holds the account, then releases it. A throttled or cut off
// account is never idle and active at once. logged runs with the account
// held.
func (s *Services) settle(ctx context.Context, t *models.Task, sess *auth.Session, err error, logged func()) *Result {
	var r *Result
	if err != nil {
		r = s.platformFailure(ctx, t, sess, err)
	}
	if logged != nil {
		logged()
	}
	sess.Release(ctx, auth.ProxyOutcome(err))
	return r
}

// interrupted reports how a task whose context ended is recorded: failed
// when an operator cancelled it, deferred for a shutdown.
func (s *Services) interrupted(ctx context.Context, t *models.Task) *Result {
	if ctx.Err() == nil {
		return nil
	}
	if errors.Is(context.Cause(ctx), ErrCancelled) {
		return s.failed(models.CodeCancelled, ErrCancelled, "cancelled by operator")
	}
	return s.deferred(s.clock.Now(), models.CodeTransient, common.ErrTransient, "interrupted by shutdown")
}

func (s *Services) failed(code string, sentinel error, reason string) *Result {
	return &Result{State: models.TaskFailed, Code: code, Err: sentinel, Reason: reason}
}

func (s *Services) deferred(until time.Time, code string, sentinel error, reason string) *Result {
	return &Result{State: models.TaskDeferred, Code: code, Err: sentinel, Reason: reason, NextEligibleAt: until}
}

// retry defers t with exponential backoff, or fails it once it has used
// up its attempts.
func (s *Services) retry(t *models.Task, code, reason string) *Result {
	if t.Attempts >= s.cfg.MaxAttempts {
		return s.failed(code, common.ErrTransient, fmt.Sprintf("gave up after %d attempts: %s", t.Attempts, reason))
	}
	return s.deferred(s.clock.Now().Add(s.backoff(t.Attempts)), code, common.ErrTransient, reason)
}

func (s *Services) backoff(attempts int) time.Duration {
	d := s.cfg.RetryBase
	for i := 1; i < attempts && d < s.cfg.RetryMax; i++ {
		d *= 2
	}
	if d > s.cfg.RetryMax {
		d = s.cfg.RetryMax
	}
	return d
}

// finish records r on t, moving it out of running. extra runs in the same
// transaction.
func (s *Services) finish(ctx context.Context, t *models.Task, r *Result, extra func(ctx context.Context, tx dbx.DBTX) error) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	t.State = r.State
	t.ResultCode = r.Code
	t.Reason = r.Reason
	t.NextEligibleAt = r.NextEligibleAt
	t.UpdatedAt = s.clock.Now()
	if r.AccountID != "" {
		t.AccountID = r.AccountID
	}
	r.TaskID = t.ID
	r.AccountID = t.AccountID

	err := s.store.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if extra != nil {
			if err := extra(ctx, tx); err != nil {
				return err
			}
		}
		return s.store.Repos().Tasks(tx).Transition(ctx, t, models.TaskRunning)
	})
	if err != nil {
		return nil, fmt.Errorf("record task %s: %w", t.ID, err)
	}

	level := s.logger.Info
	if r.State == models.TaskFailed {
		level = s.logger.Warn
	}
	level(ctx, "task finished", "task_id", t.ID, "kind", t.Kind, "state", r.State, "code", r.Code, "account_id", t.AccountID, "reason", r.Reason)
	return r, nil
}

// keyset serializes tasks that act on the same content key.
type keyset struct {
	mu sync.Mutex
	m  map[string]struct{}
}

func (k *keyset) claim(key string) (release func(), ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, busy := k.m[key]; busy {
		return nil, false
	}
	k.m[key] = struct{}{}
	return func() {
		k.mu.Lock()
		delete(k.m, key)
		k.mu.Unlock()
	}, true
}
