// Package joins keeps the history of successful joins used for the rolling
// per-account quota.
package joins

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type Repository interface {
	Record(ctx context.Context, ev models.JoinEvent) error
	// CountSince counts joins strictly after since, so a join leaves the
	// window exactly one window length after it happened.
	CountSince(ctx context.Context, accountID string, since time.Time) (int, error)
	// OldestSince returns the earliest join after since, or the zero time
	// when there is none.
	OldestSince(ctx context.Context, accountID string, since time.Time) (time.Time, error)
	HasJoined(ctx context.Context, accountID, target string) (bool, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
