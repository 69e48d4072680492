package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/tgfleet/internal/dbx"
)

// Rekey re-encrypts every sealed column written under an older key version
// so it is readable with the current one. It runs in a single transaction
// and returns the number of rewritten rows.
func (s *Store) Rekey(ctx context.Context) (int64, error) {
	current := int64(s.keyring.Current())
	var total int64

	err := s.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		for _, sc := range sealedColumns {
			n, err := s.rekeyColumn(ctx, tx, sc, current)
			if err != nil {
				return fmt.Errorf("rekey %s.%s: %w", sc.table, sc.column, err)
			}
			total += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) rekeyColumn(ctx context.Context, tx dbx.DBTX, sc sealedColumn, current int64) (int64, error) {
	pk := strings.Join(sc.pk, ", ")
	query := s.dialect.Rebind(fmt.Sprintf(
		`SELECT %s, %s FROM %s WHERE key_version <> 0 AND key_version <> ?`, pk, sc.column, sc.table))

	rows, err := tx.QueryContext(ctx, query, current)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	type pending struct {
		keys     []any
		envelope []byte
	}
	var stale []pending
	for rows.Next() {
		keys := make([]any, len(sc.pk))
		dest := make([]any, 0, len(sc.pk)+1)
		for i := range keys {
			dest = append(dest, &keys[i])
		}
		var env []byte
		dest = append(dest, &env)
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return 0, fmt.Errorf("db error: %w", err)
		}
		stale = append(stale, pending{keys: keys, envelope: env})
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}

	where := make([]string, len(sc.pk))
	for i, k := range sc.pk {
		where[i] = k + " = ?"
	}
	update := s.dialect.Rebind(fmt.Sprintf(`UPDATE %s SET %s = ?, key_version = ? WHERE %s`,
		sc.table, sc.column, strings.Join(where, " AND ")))

	for _, p := range stale {
		resealed, err := s.keyring.Reseal(p.envelope)
		if err != nil {
			return 0, err
		}
		args := append([]any{resealed, current}, p.keys...)
		if _, err := tx.ExecContext(ctx, update, args...); err != nil {
			return 0, fmt.Errorf("db error: %w", err)
		}
	}
	return int64(len(stale)), nil
}
