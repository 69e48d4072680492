package items

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

func TestSQLRepository_InsertList(t *testing.T) {
	r := NewSQLRepository(repotest.OpenSQLite(t), dbx.SQLite)
	ctx := context.Background()

	require.NoError(t, r.Insert(ctx, models.FetchedItem{TaskID: "t1", Target: "@c", ItemID: "2", Text: "b", Fingerprint: "f2", FetchedAt: time.Unix(2, 0)}))
	require.NoError(t, r.Insert(ctx, models.FetchedItem{TaskID: "t1", Target: "@c", ItemID: "1", Text: "a", Fingerprint: "f1", FetchedAt: time.Unix(1, 0)}))
	require.NoError(t, r.Insert(ctx, models.FetchedItem{TaskID: "t2", Target: "@c", ItemID: "3", Fingerprint: "f3", FetchedAt: time.Unix(3, 0)}))

	// same item twice for a target is rejected by the primary key
	require.Error(t, r.Insert(ctx, models.FetchedItem{TaskID: "t3", Target: "@c", ItemID: "1", Fingerprint: "f1"}))

	got, err := r.ListByTask(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ItemID)
	assert.Equal(t, "2", got[1].ItemID)

	require.NoError(t, r.SetMediaPath(ctx, "@c", "1", "/scratch/c/1.jpg"))
	got, err = r.ListByTask(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "/scratch/c/1.jpg", got[0].MediaPath)

	assert.ErrorIs(t, r.SetMediaPath(ctx, "@c", "99", "x"), common.ErrorNotFound)
}
