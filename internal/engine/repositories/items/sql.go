package items

import (
	"context"
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

func (r *SQLRepository) Insert(ctx context.Context, it models.FetchedItem) error {
	query := r.dialect.Rebind(`INSERT INTO fetched_items (target, item_id, task_id, text, media_path, fingerprint, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		it.Target, it.ItemID, it.TaskID, it.Text, it.MediaPath, it.Fingerprint, dbx.Nanos(it.FetchedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) ListByTask(ctx context.Context, taskID string) ([]*models.FetchedItem, error) {
	query := r.dialect.Rebind(`SELECT target, item_id, task_id, text, media_path, fingerprint, fetched_at
		FROM fetched_items WHERE task_id = ? ORDER BY fetched_at, item_id`)

	rows, err := r.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.FetchedItem
	for rows.Next() {
		var (
			it models.FetchedItem
			at int64
		)
		if err := rows.Scan(&it.Target, &it.ItemID, &it.TaskID, &it.Text, &it.MediaPath, &it.Fingerprint, &at); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		it.FetchedAt = dbx.Time(at)
		out = append(out, &it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) SetMediaPath(ctx context.Context, target, itemID, path string) error {
	query := r.dialect.Rebind(`UPDATE fetched_items SET media_path = ? WHERE target = ? AND item_id = ?`)

	res, err := r.db.ExecContext(ctx, query, path, target, itemID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
