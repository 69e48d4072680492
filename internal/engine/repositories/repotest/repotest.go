// Package repotest opens migrated in-memory databases for repository,
// store and service tests.
package repotest

import (
	"context"
	"database/sql"
	"testing"

	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/migrations"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

// OpenSQLite returns a fresh, migrated in-memory SQLite database that is
// closed when the test ends.
func OpenSQLite(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, migrations.Up(context.Background(), db, dbx.SQLite))
	return db
}

// Key returns a deterministic 32-byte key derived from seed.
func Key(seed byte) []byte {
	k := make([]byte, cryptox.KeySize)
	for i := range k {
		k[i] = seed + byte(i)
	}
	return k
}

// Keyring returns a single-version keyring.
func Keyring(t testing.TB) *cryptox.Keyring {
	t.Helper()
	kr, err := cryptox.NewKeyring(1, map[uint32][]byte{1: Key(1)})
	require.NoError(t, err)
	return kr
}
