package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
)

const snapshotFormat = 1

type snapshot struct {
	Format     int             `cbor:"1,keyasint"`
	KeyVersion uint32          `cbor:"2,keyasint"`
	TakenAt    int64           `cbor:"3,keyasint"`
	Tables     []snapshotTable `cbor:"4,keyasint"`
}

type snapshotTable struct {
	Name    string   `cbor:"1,keyasint"`
	Columns []string `cbor:"2,keyasint"`
	Rows    [][]any  `cbor:"3,keyasint"`
}

// Snapshot dumps every table inside one transaction, so the blob reflects a
// single point in time. Sealed values written under an older key version
// are re-sealed with the current key in the dump, so the blob opens with
// the current key alone. The result is CBOR compressed with zstd.
func (s *Store) Snapshot(ctx context.Context) ([]byte, error) {
	snap := snapshot{
		Format:     snapshotFormat,
		KeyVersion: s.keyring.Current(),
		TakenAt:    dbx.Nanos(s.clock.Now()),
	}

	err := dbx.WithTx(ctx, s.db, s.readTxOptions(), func(ctx context.Context, tx dbx.DBTX) error {
		for _, name := range tables {
			t, err := s.dumpTable(ctx, tx, name)
			if err != nil {
				return fmt.Errorf("dump %s: %w", name, err)
			}
			snap.Tables = append(snap.Tables, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	raw, err := em.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func (s *Store) readTxOptions() *sql.TxOptions {
	if s.dialect == dbx.Postgres {
		return &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true}
	}
	return nil
}

func (s *Store) dumpTable(ctx context.Context, tx dbx.DBTX, name string) (snapshotTable, error) {
	t := snapshotTable{Name: name}

	rows, err := tx.QueryContext(ctx, `SELECT * FROM `+name)
	if err != nil {
		return t, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	if t.Columns, err = rows.Columns(); err != nil {
		return t, err
	}

	sealedIdx, versionIdx := -1, -1
	if sc, ok := sealedColumnOf(name); ok {
		sealedIdx, versionIdx = indexOf(t.Columns, sc.column), indexOf(t.Columns, "key_version")
	}
	current := int64(s.keyring.Current())

	for rows.Next() {
		vals := make([]any, len(t.Columns))
		ptrs := make([]any, len(vals))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return t, fmt.Errorf("db error: %w", err)
		}
		for i, v := range vals {
			vals[i] = normalize(v)
		}

		if sealedIdx >= 0 && versionIdx >= 0 {
			if v := toInt64(vals[versionIdx]); v != 0 && v != current {
				env, _ := vals[sealedIdx].([]byte)
				resealed, err := s.keyring.Reseal(env)
				if err != nil {
					return t, err
				}
				vals[sealedIdx] = resealed
				vals[versionIdx] = current
			}
		}
		t.Rows = append(t.Rows, vals)
	}
	return t, rows.Err()
}

// Restore replaces the contents of every table with a snapshot produced by
// Snapshot. The snapshot's key version must be loaded in the keyring.
func (s *Store) Restore(ctx context.Context, blob []byte) error {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return err
	}
	defer dec.Close()

	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return fmt.Errorf("%w: snapshot: %v", common.ErrStoreCorruption, err)
	}
	var snap snapshot
	if err := cbor.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("%w: snapshot: %v", common.ErrStoreCorruption, err)
	}
	if snap.Format != snapshotFormat {
		return fmt.Errorf("%w: snapshot format %d", common.ErrStoreCorruption, snap.Format)
	}
	if !s.hasKeyVersion(snap.KeyVersion) {
		return fmt.Errorf("%w: snapshot sealed with unknown key version %d", common.ErrStoreCorruption, snap.KeyVersion)
	}

	return s.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		for i := len(tables) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+tables[i]); err != nil {
				return fmt.Errorf("db error: %w", err)
			}
		}
		for _, t := range snap.Tables {
			if !known(t.Name) {
				return fmt.Errorf("%w: unknown table %q", common.ErrStoreCorruption, t.Name)
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(t.Columns)), ", ")
			insert := s.dialect.Rebind(fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
				t.Name, strings.Join(t.Columns, ", "), marks))
			for _, row := range t.Rows {
				for i, v := range row {
					row[i] = normalize(v)
				}
				if _, err := tx.ExecContext(ctx, insert, row...); err != nil {
					return fmt.Errorf("restore %s: db error: %w", t.Name, err)
				}
			}
		}
		return nil
	})
}

func (s *Store) hasKeyVersion(v uint32) bool {
	for _, have := range s.keyring.Versions() {
		if have == v {
			return true
		}
	}
	return false
}

func known(name string) bool {
	return indexOf(tables, name) >= 0
}

func indexOf(xs []string, x string) int {
	for i, v := range xs {
		if v == x {
			return i
		}
	}
	return -1
}

// normalize maps driver and CBOR values onto the types every supported
// driver accepts as arguments.
func normalize(v any) any {
	switch x := v.(type) {
	case uint64:
		return int64(x)
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case int16:
		return int64(x)
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	}
	return v
}

func toInt64(v any) int64 {
	switch x := normalize(v).(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	}
	return 0
}
