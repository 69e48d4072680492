package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

const columns = `id, kind, target, payload, fingerprint, requested_by, account_id, state, attempts, next_eligible_at, result_code, reason, created_at, updated_at`

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect) *SQLRepository {
	return &SQLRepository{db: db, dialect: d}
}

func (r *SQLRepository) Create(ctx context.Context, t *models.Task) error {
	payload, err := json.Marshal(t.Payload)
	if err != nil {
		return err
	}

	query := r.dialect.Rebind(`INSERT INTO tasks (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = r.db.ExecContext(ctx, query,
		t.ID, string(t.Kind), t.Target, string(payload), t.Fingerprint, t.RequestedBy, t.AccountID,
		string(t.State), t.Attempts, dbx.Nanos(t.NextEligibleAt), t.ResultCode, t.Reason,
		dbx.Nanos(t.CreatedAt), dbx.Nanos(t.UpdatedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	query := r.dialect.Rebind(`SELECT ` + columns + ` FROM tasks WHERE id = ?`)

	t, err := scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return t, nil
}

func (r *SQLRepository) List(ctx context.Context, f Filter) ([]*models.Task, error) {
	var (
		where []string
		args  []any
	)
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, s := range f.States {
			marks[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, `state IN (`+strings.Join(marks, ", ")+`)`)
	}
	if f.Kind != "" {
		where = append(where, `kind = ?`)
		args = append(args, string(f.Kind))
	}
	if f.AccountID != "" {
		where = append(where, `account_id = ?`)
		args = append(args, f.AccountID)
	}
	if !f.DueBefore.IsZero() {
		where = append(where, `next_eligible_at <= ?`)
		args = append(args, dbx.Nanos(f.DueBefore))
	}

	query := `SELECT ` + columns + ` FROM tasks`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, ` AND `)
	}
	query += ` ORDER BY created_at, id`
	if f.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, f.Limit)
	}

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) Transition(ctx context.Context, t *models.Task, from models.TaskState) error {
	if !models.CanTransition(from, t.State) {
		return fmt.Errorf("%w: %s -> %s", common.ErrStateConflict, from, t.State)
	}

	query := r.dialect.Rebind(`UPDATE tasks
		SET state = ?, account_id = ?, attempts = ?, next_eligible_at = ?, result_code = ?, reason = ?, updated_at = ?
		WHERE id = ? AND state = ?`)

	res, err := r.db.ExecContext(ctx, query,
		string(t.State), t.AccountID, t.Attempts, dbx.Nanos(t.NextEligibleAt), t.ResultCode, t.Reason,
		dbx.Nanos(t.UpdatedAt), t.ID, string(from))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: task %s is no longer %s", common.ErrStateConflict, t.ID, from)
	}
	return nil
}

func (r *SQLRepository) Delete(ctx context.Context, id string, states ...models.TaskState) error {
	args := []any{id}
	query := `DELETE FROM tasks WHERE id = ?`
	if len(states) > 0 {
		marks := make([]string, len(states))
		for i, s := range states {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += ` AND state IN (` + strings.Join(marks, ", ") + `)`
	}

	res, err := r.db.ExecContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return common.ErrStateConflict
	}
	return nil
}

func (r *SQLRepository) RequeueRunning(ctx context.Context, now time.Time, reason string) (int64, error) {
	query := r.dialect.Rebind(`UPDATE tasks SET state = ?, reason = ?, next_eligible_at = ?, updated_at = ? WHERE state = ?`)
	return r.affected(ctx, query, string(models.TaskDeferred), reason, dbx.Nanos(now), dbx.Nanos(now), string(models.TaskRunning))
}

func (r *SQLRepository) Requeue(ctx context.Context, id string, now time.Time, reason string) (bool, error) {
	query := r.dialect.Rebind(`UPDATE tasks SET state = ?, reason = ?, next_eligible_at = ?, updated_at = ? WHERE id = ? AND state = ?`)
	n, err := r.affected(ctx, query, string(models.TaskDeferred), reason, dbx.Nanos(now), dbx.Nanos(now), id, string(models.TaskRunning))
	return n == 1, err
}

func (r *SQLRepository) Unpin(ctx context.Context, accountID string) (int64, error) {
	query := r.dialect.Rebind(`UPDATE tasks SET account_id = '' WHERE account_id = ? AND state IN (?, ?)`)
	return r.affected(ctx, query, accountID, string(models.TaskPending), string(models.TaskDeferred))
}

func (r *SQLRepository) PruneTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.dialect.Rebind(`DELETE FROM tasks WHERE state IN (?, ?) AND updated_at < ?`)
	return r.affected(ctx, query, string(models.TaskSucceeded), string(models.TaskFailed), dbx.Nanos(cutoff))
}

func (r *SQLRepository) affected(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scan(s scanner) (*models.Task, error) {
	var (
		t                          models.Task
		kind, state, payload       string
		nextAt, createdAt, updated int64
	)
	err := s.Scan(&t.ID, &kind, &t.Target, &payload, &t.Fingerprint, &t.RequestedBy, &t.AccountID,
		&state, &t.Attempts, &nextAt, &t.ResultCode, &t.Reason, &createdAt, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &t.Payload); err != nil {
		return nil, fmt.Errorf("task %s payload: %w", t.ID, err)
	}
	t.Kind = models.TaskKind(kind)
	t.State = models.TaskState(state)
	t.NextEligibleAt = dbx.Time(nextAt)
	t.CreatedAt = dbx.Time(createdAt)
	t.UpdatedAt = dbx.Time(updated)
	return &t, nil
}
