package joins

import (
	"context"
	"database/sql"
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

func (r *SQLRepository) Record(ctx context.Context, ev models.JoinEvent) error {
	query := r.dialect.Rebind(`INSERT INTO join_events (id, account_id, target, joined_at) VALUES (?, ?, ?, ?)`)

	if _, err := r.db.ExecContext(ctx, query, ev.ID, ev.AccountID, ev.Target, dbx.Nanos(ev.JoinedAt)); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) CountSince(ctx context.Context, accountID string, since time.Time) (int, error) {
	query := r.dialect.Rebind(`SELECT COUNT(*) FROM join_events WHERE account_id = ? AND joined_at > ?`)

	var n int
	if err := r.db.QueryRowContext(ctx, query, accountID, dbx.Nanos(since)).Scan(&n); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func (r *SQLRepository) OldestSince(ctx context.Context, accountID string, since time.Time) (time.Time, error) {
	query := r.dialect.Rebind(`SELECT MIN(joined_at) FROM join_events WHERE account_id = ? AND joined_at > ?`)

	var oldest sql.NullInt64
	if err := r.db.QueryRowContext(ctx, query, accountID, dbx.Nanos(since)).Scan(&oldest); err != nil {
		return time.Time{}, fmt.Errorf("db error: %w", err)
	}
	if !oldest.Valid {
		return time.Time{}, nil
	}
	return dbx.Time(oldest.Int64), nil
}

func (r *SQLRepository) HasJoined(ctx context.Context, accountID, target string) (bool, error) {
	query := r.dialect.Rebind(`SELECT COUNT(*) FROM join_events WHERE account_id = ? AND target = ?`)

	var n int
	if err := r.db.QueryRowContext(ctx, query, accountID, target).Scan(&n); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *SQLRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.dialect.Rebind(`DELETE FROM join_events WHERE joined_at < ?`)

	res, err := r.db.ExecContext(ctx, query, dbx.Nanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return res.RowsAffected()
}
