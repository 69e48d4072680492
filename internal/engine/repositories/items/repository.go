// Package items stores fetched items. A row is written in the same
// transaction as the item's dedup record.
package items

import (
	"context"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type Repository interface {
	Insert(ctx context.Context, it models.FetchedItem) error
	ListByTask(ctx context.Context, taskID string) ([]*models.FetchedItem, error)
	SetMediaPath(ctx context.Context, target, itemID, path string) error
}
