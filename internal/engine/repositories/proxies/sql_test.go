package proxies

import (
	"context"
	"testing"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLRepository_RoundTrip(t *testing.T) {
	db := repotest.OpenSQLite(t)
	r := NewSQLRepository(db, dbx.SQLite, repotest.Keyring(t))
	ctx := context.Background()

	p := &models.Proxy{
		ID: "p1", Scheme: "socks5", Host: "10.0.0.1", Port: 1080,
		Username: "u", Password: "pw", Score: 100, Status: models.ProxyHealthy,
		CreatedAt: time.Unix(100, 0).UTC(),
	}
	require.NoError(t, r.Create(ctx, p))
	require.NoError(t, r.Create(ctx, &models.Proxy{
		ID: "p2", Scheme: "socks5", Host: "10.0.0.2", Port: 1080,
		Score: 100, Status: models.ProxyHealthy, CreatedAt: time.Unix(200, 0).UTC(),
	}))

	got, err := r.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "pw", got.Password)
	assert.Equal(t, uint32(1), got.KeyVersion)

	var raw []byte
	require.NoError(t, db.QueryRow(`SELECT password FROM proxies WHERE id = 'p1'`).Scan(&raw))
	assert.NotContains(t, string(raw), "pw")

	got2, err := r.Get(ctx, "p2")
	require.NoError(t, err)
	assert.Empty(t, got2.Password)

	_, err = r.Get(ctx, "nope")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLRepository_UpdateHealthAndList(t *testing.T) {
	db := repotest.OpenSQLite(t)
	r := NewSQLRepository(db, dbx.SQLite, repotest.Keyring(t))
	ctx := context.Background()

	for i, id := range []string{"p1", "p2"} {
		require.NoError(t, r.Create(ctx, &models.Proxy{
			ID: id, Scheme: "socks5", Host: "h" + id, Port: 1080,
			Score: 100, Status: models.ProxyHealthy, CreatedAt: time.Unix(int64(i), 0),
		}))
	}

	p, err := r.Get(ctx, "p1")
	require.NoError(t, err)
	now := time.Unix(500, 0).UTC()
	p.Score, p.Status, p.Failures, p.LastFailureAt, p.Retired = 25, models.ProxyDead, 3, now, true
	require.NoError(t, r.UpdateHealth(ctx, p))

	got, err := r.Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 25, got.Score)
	assert.Equal(t, models.ProxyDead, got.Status)
	assert.Equal(t, 3, got.Failures)
	assert.Equal(t, now, got.LastFailureAt)
	assert.True(t, got.Retired)

	active, err := r.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "p2", active[0].ID)

	all, err := r.List(ctx, Filter{IncludeRetired: true})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	assert.ErrorIs(t, r.UpdateHealth(ctx, &models.Proxy{ID: "ghost"}), common.ErrorNotFound)
}
