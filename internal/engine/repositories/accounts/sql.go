package accounts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

const columns = `id, label, phone, api_id, status, status_reason, resume_at, last_used_at, proxy_id, secrets, key_version, created_at`

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
	sealer  cryptox.Sealer
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect, s cryptox.Sealer) *SQLRepository {
	return &SQLRepository{db: db, dialect: d, sealer: s}
}

func (r *SQLRepository) Create(ctx context.Context, a *models.Account) error {
	sealed, err := r.sealer.SealJSON(a.Secrets)
	if err != nil {
		return fmt.Errorf("seal account secrets: %w", err)
	}
	a.KeyVersion = r.sealer.Current()

	query := r.dialect.Rebind(`INSERT INTO accounts (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.Label, a.Phone, a.APIID, string(a.Status), a.StatusReason,
		dbx.Nanos(a.ResumeAt), dbx.Nanos(a.LastUsedAt), a.ProxyID,
		sealed, int64(a.KeyVersion), dbx.Nanos(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Account, error) {
	query := r.dialect.Rebind(`SELECT ` + columns + ` FROM accounts WHERE id = ?`)

	a, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *SQLRepository) List(ctx context.Context, f Filter) ([]*models.Account, error) {
	query := `SELECT ` + columns + ` FROM accounts`
	args := make([]any, 0, len(f.Statuses))
	if len(f.Statuses) > 0 {
		marks := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			marks[i] = "?"
			args = append(args, string(s))
		}
		query += ` WHERE status IN (` + strings.Join(marks, ", ") + `)`
	}
	query += ` ORDER BY last_used_at, id`

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Account
	for rows.Next() {
		a, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) UpdateStatus(ctx context.Context, id string, status models.AccountStatus, reason string, resumeAt time.Time) error {
	query := r.dialect.Rebind(`UPDATE accounts SET status = ?, status_reason = ?, resume_at = ? WHERE id = ?`)
	return r.exec(ctx, query, string(status), reason, dbx.Nanos(resumeAt), id)
}

func (r *SQLRepository) UpdateSecrets(ctx context.Context, id string, s models.AccountSecrets) error {
	sealed, err := r.sealer.SealJSON(s)
	if err != nil {
		return fmt.Errorf("seal account secrets: %w", err)
	}
	query := r.dialect.Rebind(`UPDATE accounts SET secrets = ?, key_version = ? WHERE id = ?`)
	return r.exec(ctx, query, sealed, int64(r.sealer.Current()), id)
}

func (r *SQLRepository) Touch(ctx context.Context, id string, at time.Time) error {
	query := r.dialect.Rebind(`UPDATE accounts SET last_used_at = ? WHERE id = ?`)
	return r.exec(ctx, query, dbx.Nanos(at), id)
}

func (r *SQLRepository) SetProxy(ctx context.Context, id, proxyID string) error {
	query := r.dialect.Rebind(`UPDATE accounts SET proxy_id = ? WHERE id = ?`)
	return r.exec(ctx, query, proxyID, id)
}

func (r *SQLRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scan(s scanner) (*models.Account, error) {
	var (
		a                           models.Account
		status                      string
		resumeAt, lastUsed, created int64
		sealed                      []byte
		keyVersion                  int64
	)
	err := s.Scan(&a.ID, &a.Label, &a.Phone, &a.APIID, &status, &a.StatusReason,
		&resumeAt, &lastUsed, &a.ProxyID, &sealed, &keyVersion, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := r.sealer.OpenJSON(sealed, &a.Secrets); err != nil {
		return nil, fmt.Errorf("account %s: %w", a.ID, err)
	}
	a.Status = models.AccountStatus(status)
	a.ResumeAt = dbx.Time(resumeAt)
	a.LastUsedAt = dbx.Time(lastUsed)
	a.CreatedAt = dbx.Time(created)
	a.KeyVersion = uint32(keyVersion)
	return &a, nil
}
