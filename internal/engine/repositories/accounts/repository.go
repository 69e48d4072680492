// Package accounts persists platform accounts. The sensitive part of an
// account (API hash, bot token, session material) is sealed into one
// envelope per row.
package accounts

import (
	"context"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

// Filter narrows List. Zero values match everything.
type Filter struct {
	Statuses []models.AccountStatus
}

type Repository interface {
	Create(ctx context.Context, a *models.Account) error
	Get(ctx context.Context, id string) (*models.Account, error)
	List(ctx context.Context, f Filter) ([]*models.Account, error)
	UpdateStatus(ctx context.Context, id string, status models.AccountStatus, reason string, resumeAt time.Time) error
	UpdateSecrets(ctx context.Context, id string, s models.AccountSecrets) error
	Touch(ctx context.Context, id string, at time.Time) error
	SetProxy(ctx context.Context, id, proxyID string) error
}
