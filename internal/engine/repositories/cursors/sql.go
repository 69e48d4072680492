package cursors

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: d}
}

func (r *SQLRepository) Get(ctx context.Context, accountID, target string) (*models.Cursor, error) {
	query := r.dialect.Rebind(`SELECT token, updated_at FROM cursors WHERE account_id = ? AND target = ?`)

	c := &models.Cursor{AccountID: accountID, Target: target}
	var updated int64
	if err := r.db.QueryRowContext(ctx, query, accountID, target).Scan(&c.Token, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	c.UpdatedAt = dbx.Time(updated)
	return c, nil
}

func (r *SQLRepository) Put(ctx context.Context, c models.Cursor) error {
	query := r.dialect.Rebind(`INSERT INTO cursors (account_id, target, token, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (account_id, target) DO UPDATE SET token = excluded.token, updated_at = excluded.updated_at`)

	if _, err := r.db.ExecContext(ctx, query, c.AccountID, c.Target, c.Token, dbx.Nanos(c.UpdatedAt)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Delete(ctx context.Context, accountID, target string) error {
	query := r.dialect.Rebind(`DELETE FROM cursors WHERE account_id = ? AND target = ?`)

	if _, err := r.db.ExecContext(ctx, query, accountID, target); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
