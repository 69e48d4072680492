package dedup

import (
	"context"
	"fmt"
	"time"

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

func (r *SQLRepository) Insert(ctx context.Context, rec models.DedupRecord) (bool, error) {
	query := r.dialect.Rebind(`INSERT INTO dedup (scope, fingerprint, first_seen)
		VALUES (?, ?, ?)
		ON CONFLICT (scope, fingerprint) DO NOTHING`)

	res, err := r.db.ExecContext(ctx, query, rec.Scope, rec.Fingerprint, dbx.Nanos(rec.FirstSeen))
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *SQLRepository) Exists(ctx context.Context, scope, fingerprint string) (bool, error) {
	query := r.dialect.Rebind(`SELECT COUNT(*) FROM dedup WHERE scope = ? AND fingerprint = ?`)

	var n int
	if err := r.db.QueryRowContext(ctx, query, scope, fingerprint).Scan(&n); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.dialect.Rebind(`DELETE FROM dedup WHERE first_seen < ?`)

	res, err := r.db.ExecContext(ctx, query, dbx.Nanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
