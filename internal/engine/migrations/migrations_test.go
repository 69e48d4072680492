package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"testing"

	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestFor_BothDialectsShipSameVersions(t *testing.T) {
	lite, err := For(dbx.SQLite)
	require.NoError(t, err)
	pg, err := For(dbx.Postgres)
	require.NoError(t, err)

	a, err := fs.Glob(lite, "*.sql")
	require.NoError(t, err)
	b, err := fs.Glob(pg, "*.sql")
	require.NoError(t, err)

	assert.NotEmpty(t, a)
	assert.Equal(t, a, b)
}

func TestUp_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	require.NoError(t, Up(ctx, db, dbx.SQLite))
	// idempotent
	require.NoError(t, Up(ctx, db, dbx.SQLite))

	for _, table := range []string{"accounts", "proxies", "tasks", "dedup", "join_events", "cursors", "fetched_items", "challenges", "kv"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}
}
