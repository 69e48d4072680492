// Package cursors persists fetch resumption tokens per (account, target).
package cursors

import (
	"context"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type Repository interface {
	Get(ctx context.Context, accountID, target string) (*models.Cursor, error)
	Put(ctx context.Context, c models.Cursor) error
	Delete(ctx context.Context, accountID, target string) error
}
