// Package kv is the settings table of the store. Sensitive values are sealed
// before they are written.
package kv

import (
	"context"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type Repository interface {
	Get(ctx context.Context, key string) (*models.Record, error)
	Put(ctx context.Context, rec models.Record) error
	Query(ctx context.Context, prefix string) ([]*models.Record, error)
	Delete(ctx context.Context, key string) error
}
