// Package challenges persists pending interactive logins so a code or
// password can be submitted after a restart.
package challenges

import (
	"context"

	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type Repository interface {
	Put(ctx context.Context, c *models.Challenge) error
	Get(ctx context.Context, accountID string) (*models.Challenge, error)
	Delete(ctx context.Context, accountID string) error
}
