// Package dedup stores content fingerprints per scope. Records are insert-only
// and removed solely by retention pruning.
package dedup

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type Repository interface {
	// Insert records the fingerprint and reports whether it was new.
	Insert(ctx context.Context, rec models.DedupRecord) (bool, error)
	Exists(ctx context.Context, scope, fingerprint string) (bool, error)
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}
