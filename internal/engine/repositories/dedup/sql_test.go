package dedup

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLRepository_InsertOnce(t *testing.T) {
	r := NewSQLRepository(repotest.OpenSQLite(t), dbx.SQLite)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	rec := models.DedupRecord{Scope: models.PublishScope("@x"), Fingerprint: "F", FirstSeen: now}

	ok, err := r.Insert(ctx, rec)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Insert(ctx, rec)
	require.NoError(t, err)
	assert.False(t, ok)

	exists, err := r.Exists(ctx, models.PublishScope("@x"), "F")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = r.Exists(ctx, models.PublishScope("@y"), "F")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSQLRepository_Prune(t *testing.T) {
	r := NewSQLRepository(repotest.OpenSQLite(t), dbx.SQLite)
	ctx := context.Background()

	_, err := r.Insert(ctx, models.DedupRecord{Scope: "s", Fingerprint: "old", FirstSeen: time.Unix(10, 0)})
	require.NoError(t, err)
	_, err = r.Insert(ctx, models.DedupRecord{Scope: "s", Fingerprint: "new", FirstSeen: time.Unix(100, 0)})
	require.NoError(t, err)

	n, err := r.Prune(ctx, time.Unix(50, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	exists, err := r.Exists(ctx, "s", "new")
	require.NoError(t, err)
	assert.True(t, exists)
}
