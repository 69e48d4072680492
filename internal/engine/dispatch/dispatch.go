// Package dispatch accepts task requests and runs due tasks on a bounded
// number of workers.
//
// The dispatcher owns two state changes: pending→running when a task is
// handed to its service, and deferred→pending once the task is due.
// Everything else is recorded by the service that ran the task, except
// that a task whose service failed to record an outcome is moved back to
// deferred.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/engine/auth"
	"github.com/dmitrijs2005/tgfleet/internal/engine/metrics"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/tasks"
	"github.com/dmitrijs2005/tgfleet/internal/engine/services"
	"github.com/dmitrijs2005/tgfleet/internal/engine/store"
	"github.com/dmitrijs2005/tgfleet/internal/logging"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
)

// Executor runs one task that is already running and records its outcome.
type Executor interface {
	Execute(ctx context.Context, t *models.Task) (*services.Result, error)
}

type Config struct {
	// Workers bounds the number of tasks executing at once.
	Workers      int
	PollInterval time.Duration
	BatchSize    int

	// TaskRetention is how long finished tasks are kept.
	TaskRetention time.Duration
	// DedupRetention prunes dedup records older than this; zero keeps them.
	DedupRetention time.Duration
	JoinRetention  time.Duration
	PruneInterval  time.Duration

	// RequeueBase is the first backoff when a task whose outcome was not
	// recorded is moved back to deferred.
	RequeueBase time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.TaskRetention <= 0 {
		c.TaskRetention = 7 * 24 * time.Hour
	}
	if c.JoinRetention <= 0 {
		c.JoinRetention = 48 * time.Hour
	}
	if c.PruneInterval <= 0 {
		c.PruneInterval = time.Hour
	}
	if c.RequeueBase <= 0 {
		c.RequeueBase = 200 * time.Millisecond
	}
	return c
}

// SubmitRequest is a request for work from an operator or integration.
type SubmitRequest struct {
	Kind        models.TaskKind
	Target      string
	Payload     models.TaskPayload
	RequestedBy string
	// AccountID pins the task to one account.
	AccountID string
}

type Dispatcher struct {
	store   *store.Store
	auth    *auth.Manager
	exec    Executor
	cfg     Config
	clock   clock.Clock
	logger  logging.Logger
	metrics *metrics.Metrics

	sem  *semaphore.Weighted
	wake chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelCauseFunc
}

type Option func(*Dispatcher)

func WithClock(c clock.Clock) Option        { return func(d *Dispatcher) { d.clock = c } }
func WithLogger(l logging.Logger) Option    { return func(d *Dispatcher) { d.logger = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(d *Dispatcher) { d.metrics = m } }

func New(st *store.Store, am *auth.Manager, exec Executor, cfg Config, opts ...Option) *Dispatcher {
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		store:   st,
		auth:    am,
		exec:    exec,
		cfg:     cfg,
		clock:   clock.Real(),
		logger:  logging.Nop(),
		sem:     semaphore.NewWeighted(int64(cfg.Workers)),
		wake:    make(chan struct{}, 1),
		running: map[string]context.CancelCauseFunc{},
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func (d *Dispatcher) tasks() tasks.Repository {
	return d.store.Repos().Tasks(d.store.DB())
}

// Submit validates req and stores it as a pending task.
func (d *Dispatcher) Submit(ctx context.Context, req SubmitRequest) (*models.Task, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	if req.AccountID != "" {
		if _, err := d.auth.Get(ctx, req.AccountID); err != nil {
			return nil, fmt.Errorf("pinned account: %w", err)
		}
	}

	now := d.clock.Now()
	t := &models.Task{
		ID:          uuid.NewString(),
		Kind:        req.Kind,
		Target:      req.Target,
		Payload:     req.Payload,
		RequestedBy: req.RequestedBy,
		AccountID:   req.AccountID,
		State:       models.TaskPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Kind == models.TaskPublish {
		t.Fingerprint = services.PublishFingerprint(t.Payload)
	}
	if err := d.tasks().Create(ctx, t); err != nil {
		return nil, err
	}

	d.logger.Info(ctx, "task submitted", "task_id", t.ID, "kind", t.Kind, "target", t.Target, "requested_by", t.RequestedBy, "account_id", t.AccountID)
	d.Wake()
	return t, nil
}

func validate(req SubmitRequest) error {
	if !req.Kind.Valid() {
		return fmt.Errorf("%w: unknown task kind %q", common.ErrorValidation, req.Kind)
	}
	if req.Target == "" {
		return fmt.Errorf("%w: target is required", common.ErrorValidation)
	}
	switch req.Kind {
	case models.TaskPublish:
		if req.Payload.Text == "" && req.Payload.MediaPath == "" {
			return fmt.Errorf("%w: publish needs text or media", common.ErrorValidation)
		}
	case models.TaskFetch:
		if req.Payload.Limit < 0 {
			return fmt.Errorf("%w: fetch limit must not be negative", common.ErrorValidation)
		}
	}
	return nil
}

func (d *Dispatcher) Get(ctx context.Context, id string) (*models.Task, error) {
	return d.tasks().Get(ctx, id)
}

func (d *Dispatcher) List(ctx context.Context, f tasks.Filter) ([]*models.Task, error) {
	return d.tasks().List(ctx, f)
}

// Items returns the items recorded by a fetch task.
func (d *Dispatcher) Items(ctx context.Context, taskID string) ([]*models.FetchedItem, error) {
	if _, err := d.Get(ctx, taskID); err != nil {
		return nil, err
	}
	return d.store.Repos().Items(d.store.DB()).ListByTask(ctx, taskID)
}

// Cancel removes a pending or deferred task. A running task is asked to
// stop; its service records it as failed once the account and proxy are
// released. Finished tasks cannot be cancelled.
func (d *Dispatcher) Cancel(ctx context.Context, id string) error {
	err := d.tasks().Delete(ctx, id, models.TaskPending, models.TaskDeferred)
	if err == nil {
		d.logger.Info(ctx, "task cancelled", "task_id", id)
		return nil
	}
	if !errors.Is(err, common.ErrStateConflict) {
		return err
	}

	d.mu.Lock()
	cancel, ok := d.running[id]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: task %s is not cancellable", common.ErrStateConflict, id)
	}
	cancel(services.ErrCancelled)
	d.logger.Info(ctx, "running task cancelled", "task_id", id)
	return nil
}

// Running reports the number of tasks currently executing.
func (d *Dispatcher) Running() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running)
}

// Wake makes Run look for work without waiting for the next tick.
func (d *Dispatcher) Wake() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Recover defers every task left running by a previous process so it is
// picked up again.
func (d *Dispatcher) Recover(ctx context.Context) (int64, error) {
	n, err := d.tasks().RequeueRunning(ctx, d.clock.Now(), "requeued after restart")
	if err != nil {
		return 0, err
	}
	if n > 0 {
		d.logger.Warn(ctx, "requeued interrupted tasks", "count", n)
	}
	return n, nil
}

// requeue defers a task whose outcome could not be recorded so it runs
// again, retrying the store with backoff. It reports whether the task left
// running; one that did not is picked up by the next startup recovery.
func (d *Dispatcher) requeue(ctx context.Context, id string) bool {
	ctx = context.WithoutCancel(ctx)
	var moved bool
	b := retry.WithMaxRetries(4, retry.NewExponential(d.cfg.RequeueBase))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		moved, err = d.tasks().Requeue(ctx, id, d.clock.Now(), "requeued after unrecorded outcome")
		return retry.RetryableError(err)
	})
	if err != nil {
		d.logger.Error(ctx, "requeue task", "task_id", id, "error", err)
		return false
	}
	if moved {
		d.logger.Warn(ctx, "requeued task", "task_id", id)
	}
	return moved
}

// Reschedule returns due deferred tasks to pending and reactivates flood
// limited accounts whose suspension has passed.
func (d *Dispatcher) Reschedule(ctx context.Context) (int, error) {
	if _, err := d.auth.Reactivate(ctx); err != nil {
		return 0, fmt.Errorf("reactivate accounts: %w", err)
	}

	due, err := d.tasks().List(ctx, tasks.Filter{
		States:    []models.TaskState{models.TaskDeferred},
		DueBefore: d.clock.Now(),
		Limit:     d.cfg.BatchSize,
	})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, t := range due {
		t.State = models.TaskPending
		t.UpdatedAt = d.clock.Now()
		err := d.tasks().Transition(ctx, t, models.TaskDeferred)
		if errors.Is(err, common.ErrStateConflict) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Prune deletes finished tasks, old join events and, when configured, old
// dedup records.
func (d *Dispatcher) Prune(ctx context.Context) error {
	now := d.clock.Now()
	repos := d.store.Repos()
	db := d.store.DB()

	nt, err := repos.Tasks(db).PruneTerminal(ctx, now.Add(-d.cfg.TaskRetention))
	if err != nil {
		return fmt.Errorf("prune tasks: %w", err)
	}
	nj, err := repos.Joins(db).Prune(ctx, now.Add(-d.cfg.JoinRetention))
	if err != nil {
		return fmt.Errorf("prune joins: %w", err)
	}
	var nd int64
	if d.cfg.DedupRetention > 0 {
		if nd, err = repos.Dedup(db).Prune(ctx, now.Add(-d.cfg.DedupRetention)); err != nil {
			return fmt.Errorf("prune dedup: %w", err)
		}
	}
	d.logger.Debug(ctx, "pruned", "tasks", nt, "joins", nj, "dedup", nd)
	return nil
}

// Run recovers interrupted tasks, then dispatches due work until ctx ends.
// Tasks still executing at that point are left to record their own
// outcome before Run returns.
func (d *Dispatcher) Run(ctx context.Context) error {
	if _, err := d.Recover(ctx); err != nil {
		return fmt.Errorf("recover tasks: %w", err)
	}

	tick := time.NewTicker(d.cfg.PollInterval)
	defer tick.Stop()
	prune := time.NewTicker(d.cfg.PruneInterval)
	defer prune.Stop()
	defer d.wg.Wait()

	for {
		d.poll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		case <-d.wake:
		case <-prune.C:
			if err := d.Prune(ctx); err != nil {
				d.logger.Error(ctx, "prune", "error", err)
			}
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	if _, err := d.Reschedule(ctx); err != nil {
		d.logger.Error(ctx, "reschedule", "error", err)
	}
	if _, err := d.Dispatch(ctx); err != nil {
		d.logger.Error(ctx, "dispatch", "error", err)
	}
}

// Dispatch starts as many pending tasks as there are free workers and
// returns how many it started.
func (d *Dispatcher) Dispatch(ctx context.Context) (int, error) {
	if ctx.Err() != nil {
		return 0, nil
	}
	pending, err := d.tasks().List(ctx, tasks.Filter{
		States: []models.TaskState{models.TaskPending},
		Limit:  d.cfg.BatchSize,
	})
	if err != nil {
		return 0, err
	}

	started := 0
	for _, t := range pending {
		if !d.sem.TryAcquire(1) {
			break
		}
		ok, err := d.start(ctx, t)
		if err != nil {
			d.sem.Release(1)
			return started, err
		}
		if !ok {
			d.sem.Release(1)
			continue
		}
		started++
	}
	return started, nil
}

// start moves t to running and executes it on its own goroutine. It
// reports false when t was changed by someone else first.
func (d *Dispatcher) start(ctx context.Context, t *models.Task) (bool, error) {
	t.State = models.TaskRunning
	t.Attempts++
	t.UpdatedAt = d.clock.Now()
	err := d.tasks().Transition(ctx, t, models.TaskPending)
	if errors.Is(err, common.ErrStateConflict) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	tctx, cancel := context.WithCancelCause(ctx)
	d.mu.Lock()
	d.running[t.ID] = cancel
	d.mu.Unlock()
	d.metrics.TaskStarted()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		defer func() {
			d.mu.Lock()
			delete(d.running, t.ID)
			d.mu.Unlock()
			cancel(nil)
		}()

		begin := time.Now()
		r, err := d.exec.Execute(tctx, t)
		if err != nil {
			d.logger.Error(ctx, "task outcome not recorded", "task_id", t.ID, "error", err)
			state := models.TaskRunning
			if d.requeue(ctx, t.ID) {
				state = models.TaskDeferred
				d.Wake()
			}
			d.metrics.TaskFinished(string(t.Kind), string(state), "unrecorded", time.Since(begin))
			return
		}
		d.metrics.TaskFinished(string(t.Kind), string(r.State), r.Code, time.Since(begin))
		if r.State == models.TaskDeferred {
			d.Wake()
		}
	}()
	return true, nil
}
