// Package proxies persists egress proxies and their health state.
package proxies

import (
	"context"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type Filter struct {
	IncludeRetired bool
}

type Repository interface {
	Create(ctx context.Context, p *models.Proxy) error
	Get(ctx context.Context, id string) (*models.Proxy, error)
	List(ctx context.Context, f Filter) ([]*models.Proxy, error)
	// UpdateHealth writes the mutable health columns of p.
	UpdateHealth(ctx context.Context, p *models.Proxy) error
}
