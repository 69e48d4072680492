package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
	sealer  cryptox.Sealer
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect, s cryptox.Sealer) *SQLRepository {
	return &SQLRepository{db: db, dialect: d, sealer: s}
}

func (r *SQLRepository) Get(ctx context.Context, key string) (*models.Record, error) {
	query := r.dialect.Rebind(`SELECT name, value, sensitive, updated_at FROM kv WHERE name = ?`)

	rec, err := r.scan(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, err
	}
	return rec, nil
}

func (r *SQLRepository) Put(ctx context.Context, rec models.Record) error {
	value := rec.Value
	var version uint32
	sensitive := 0
	if rec.Sensitive {
		sealed, err := r.sealer.Seal(rec.Value)
		if err != nil {
			return fmt.Errorf("seal %s: %w", rec.Key, err)
		}
		value, version, sensitive = sealed, r.sealer.Current(), 1
	}
	if value == nil {
		value = []byte{}
	}

	query := r.dialect.Rebind(`INSERT INTO kv (name, value, sensitive, key_version, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			value = excluded.value, sensitive = excluded.sensitive,
			key_version = excluded.key_version, updated_at = excluded.updated_at`)

	_, err := r.db.ExecContext(ctx, query, rec.Key, value, sensitive, int64(version), dbx.Nanos(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Query returns every record whose key starts with prefix, ordered by key.
func (r *SQLRepository) Query(ctx context.Context, prefix string) ([]*models.Record, error) {
	query := r.dialect.Rebind(`SELECT name, value, sensitive, updated_at FROM kv WHERE name LIKE ? ESCAPE '\' ORDER BY name`)

	rows, err := r.db.QueryContext(ctx, query, escapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		// LIKE is case-insensitive on SQLite
		if strings.HasPrefix(rec.Key, prefix) {
			out = append(out, rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return out, nil
}

func (r *SQLRepository) Delete(ctx context.Context, key string) error {
	query := r.dialect.Rebind(`DELETE FROM kv WHERE name = ?`)

	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (r *SQLRepository) scan(s scanner) (*models.Record, error) {
	var (
		rec       models.Record
		sensitive int
		updated   int64
	)
	if err := s.Scan(&rec.Key, &rec.Value, &sensitive, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.Sensitive = sensitive != 0
	rec.UpdatedAt = dbx.Time(updated)
	if rec.Sensitive {
		plain, err := r.sealer.Open(rec.Value)
		if err != nil {
			return nil, fmt.Errorf("kv %s: %w", rec.Key, err)
		}
		rec.Value = plain
	}
	return &rec, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
