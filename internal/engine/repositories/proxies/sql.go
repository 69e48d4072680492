package proxies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

const columns = `id, scheme, host, port, username, password, key_version, score, status, failures, last_failure_at, last_used_at, retired, created_at`

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
	sealer  cryptox.Sealer
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect, s cryptox.Sealer) *SQLRepository {
	return &SQLRepository{db: db, dialect: d, sealer: s}
}

func (r *SQLRepository) Create(ctx context.Context, p *models.Proxy) error {
	var sealed []byte
	if p.Password != "" {
		var err error
		if sealed, err = r.sealer.Seal([]byte(p.Password)); err != nil {
			return fmt.Errorf("seal proxy password: %w", err)
		}
		p.KeyVersion = r.sealer.Current()
	}

	query := r.dialect.Rebind(`INSERT INTO proxies (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		p.ID, p.Scheme, p.Host, p.Port, p.Username, sealed, int64(p.KeyVersion),
		p.Score, string(p.Status), p.Failures,
		dbx.Nanos(p.LastFailureAt), dbx.Nanos(p.LastUsedAt), boolInt(p.Retired), dbx.Nanos(p.CreatedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Proxy, error) {
	query := r.dialect.Rebind(`SELECT ` + columns + ` FROM proxies WHERE id = ?`)

	p, err := r.scan(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return p, nil
}

func (r *SQLRepository) List(ctx context.Context, f Filter) ([]*models.Proxy, error) {
	query := `SELECT ` + columns + ` FROM proxies`
	if !f.IncludeRetired {
		query += ` WHERE retired = 0`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Proxy
	for rows.Next() {
		p, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) UpdateHealth(ctx context.Context, p *models.Proxy) error {
	query := r.dialect.Rebind(`UPDATE proxies
		SET score = ?, status = ?, failures = ?, last_failure_at = ?, last_used_at = ?, retired = ?
		WHERE id = ?`)

	res, err := r.db.ExecContext(ctx, query,
		p.Score, string(p.Status), p.Failures,
		dbx.Nanos(p.LastFailureAt), dbx.Nanos(p.LastUsedAt), boolInt(p.Retired), p.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scan(s scanner) (*models.Proxy, error) {
	var (
		p                          models.Proxy
		status                     string
		sealed                     []byte
		keyVersion                 int64
		lastFailure, lastUsed, cAt int64
		retired                    int
	)
	err := s.Scan(&p.ID, &p.Scheme, &p.Host, &p.Port, &p.Username, &sealed, &keyVersion,
		&p.Score, &status, &p.Failures, &lastFailure, &lastUsed, &retired, &cAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if len(sealed) > 0 {
		plain, err := r.sealer.Open(sealed)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", p.ID, err)
		}
		p.Password = string(plain)
	}
	p.Status = models.ProxyStatus(status)
	p.KeyVersion = uint32(keyVersion)
	p.LastFailureAt = dbx.Time(lastFailure)
	p.LastUsedAt = dbx.Time(lastUsed)
	p.Retired = retired != 0
	p.CreatedAt = dbx.Time(cAt)
	return &p, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
