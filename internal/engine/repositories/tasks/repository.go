// Package tasks persists work items and guards their state machine at the
// SQL level: every state change is a compare-and-set on the current state.
package tasks

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

// Filter narrows List. Zero values match everything.
type Filter struct {
	States    []models.TaskState
	Kind      models.TaskKind
	AccountID string
	// DueBefore keeps tasks whose next-eligible time is not after it.
	DueBefore time.Time
	Limit     int
}

type Repository interface {
	Create(ctx context.Context, t *models.Task) error
	Get(ctx context.Context, id string) (*models.Task, error)
	List(ctx context.Context, f Filter) ([]*models.Task, error)
	// Transition persists t if the stored state still equals from.
	// It returns common.ErrStateConflict otherwise.
	Transition(ctx context.Context, t *models.Task, from models.TaskState) error
	// Delete removes the task if its state is one of states.
	Delete(ctx context.Context, id string, states ...models.TaskState) error
	// RequeueRunning moves every running task to deferred.
	RequeueRunning(ctx context.Context, now time.Time, reason string) (int64, error)
	// Requeue moves one task to deferred if it is still running.
	Requeue(ctx context.Context, id string, now time.Time, reason string) (bool, error)
	// Unpin clears the account of non-terminal tasks pinned to accountID.
	Unpin(ctx context.Context, accountID string) (int64, error)
	// PruneTerminal deletes terminal tasks last updated before cutoff.
	PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}
