package challenges

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

func TestSQLRepository_PutGetDelete(t *testing.T) {
	db := repotest.OpenSQLite(t)
	r := NewSQLRepository(db, dbx.SQLite, repotest.Keyring(t))
	ctx := context.Background()

	exp := time.Unix(3600, 0).UTC()
	require.NoError(t, r.Put(ctx, &models.Challenge{AccountID: "a", Stage: models.StageCode, PhoneCodeHash: "abc", ExpiresAt: exp}))

	c, err := r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StageCode, c.Stage)
	assert.Equal(t, "abc", c.PhoneCodeHash)
	assert.Equal(t, exp, c.ExpiresAt)

	require.NoError(t, r.Put(ctx, &models.Challenge{AccountID: "a", Stage: models.StagePassword, PhoneCodeHash: "abc", ExpiresAt: exp}))
	c, err = r.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, models.StagePassword, c.Stage)

	var raw []byte
	require.NoError(t, db.QueryRow(`SELECT code_hash FROM challenges WHERE account_id = 'a'`).Scan(&raw))
	assert.NotContains(t, string(raw), "abc")

	require.NoError(t, r.Delete(ctx, "a"))
	_, err = r.Get(ctx, "a")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLRepository_TamperedIsCorruption(t *testing.T) {
	db := repotest.OpenSQLite(t)
	r := NewSQLRepository(db, dbx.SQLite, repotest.Keyring(t))
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, &models.Challenge{AccountID: "a", Stage: models.StageCode, PhoneCodeHash: "abc"}))
	_, err := db.Exec(`UPDATE challenges SET code_hash = ? WHERE account_id = 'a'`, []byte{1, 0, 0, 0, 1, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 7})
	require.NoError(t, err)

	_, err = r.Get(ctx, "a")
	assert.ErrorIs(t, err, common.ErrStoreCorruption)
}
