package accounts

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAccount(id string) *models.Account {
	return &models.Account{
		ID:        id,
		Label:     "acc " + id,
		Phone:     "+100" + id,
		APIID:     42,
		Status:    models.AccountUnauthenticated,
		Secrets:   models.AccountSecrets{APIHash: "hash-" + id, Session: []byte("sess")},
		CreatedAt: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSQLRepository_CreateGet(t *testing.T) {
	db := repotest.OpenSQLite(t)
	r := NewSQLRepository(db, dbx.SQLite, repotest.Keyring(t))
	ctx := context.Background()

	require.NoError(t, r.Create(ctx, newAccount("a1")))

	got, err := r.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "acc a1", got.Label)
	assert.Equal(t, 42, got.APIID)
	assert.Equal(t, "hash-a1", got.Secrets.APIHash)
	assert.Equal(t, []byte("sess"), got.Secrets.Session)
	assert.Equal(t, uint32(1), got.KeyVersion)
	assert.True(t, got.ResumeAt.IsZero())

	// plaintext never reaches the table
	var raw []byte
	require.NoError(t, db.QueryRow(`SELECT secrets FROM accounts WHERE id = ?`, "a1").Scan(&raw))
	assert.NotContains(t, string(raw), "hash-a1")

	_, err = r.Get(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestSQLRepository_WrongKeyIsCorruption(t *testing.T) {
	db := repotest.OpenSQLite(t)
	ctx := context.Background()
	require.NoError(t, NewSQLRepository(db, dbx.SQLite, repotest.Keyring(t)).Create(ctx, newAccount("a1")))

	other, err := cryptox.NewKeyring(1, map[uint32][]byte{1: repotest.Key(9)})
	require.NoError(t, err)

	_, err = NewSQLRepository(db, dbx.SQLite, other).Get(ctx, "a1")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStoreCorruption)
	assert.False(t, errors.Is(err, common.ErrorNotFound))
}

func TestSQLRepository_Updates(t *testing.T) {
	db := repotest.OpenSQLite(t)
	r := NewSQLRepository(db, dbx.SQLite, repotest.Keyring(t))
	ctx := context.Background()
	require.NoError(t, r.Create(ctx, newAccount("a1")))

	resume := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, r.UpdateStatus(ctx, "a1", models.AccountFloodLimited, "flood_wait", resume))
	require.NoError(t, r.UpdateSecrets(ctx, "a1", models.AccountSecrets{APIHash: "h", Session: []byte("new")}))
	require.NoError(t, r.Touch(ctx, "a1", resume))
	require.NoError(t, r.SetProxy(ctx, "a1", "p1"))

	got, err := r.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, models.AccountFloodLimited, got.Status)
	assert.Equal(t, "flood_wait", got.StatusReason)
	assert.Equal(t, resume, got.ResumeAt)
	assert.Equal(t, resume, got.LastUsedAt)
	assert.Equal(t, "p1", got.ProxyID)
	assert.Equal(t, []byte("new"), got.Secrets.Session)

	assert.ErrorIs(t, r.Touch(ctx, "ghost", resume), common.ErrorNotFound)
}

func TestSQLRepository_ListFilter(t *testing.T) {
	db := repotest.OpenSQLite(t)
	r := NewSQLRepository(db, dbx.SQLite, repotest.Keyring(t))
	ctx := context.Background()

	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, r.Create(ctx, newAccount(id)))
	}
	require.NoError(t, r.UpdateStatus(ctx, "a2", models.AccountActive, "", time.Time{}))
	require.NoError(t, r.UpdateStatus(ctx, "a3", models.AccountBanned, "banned", time.Time{}))

	all, err := r.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	some, err := r.List(ctx, Filter{Statuses: []models.AccountStatus{models.AccountActive, models.AccountBanned}})
	require.NoError(t, err)
	require.Len(t, some, 2)
	assert.Equal(t, "a2", some[0].ID)
	assert.Equal(t, "a3", some[1].ID)
}

func TestSQLRepository_PostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()

	r := NewSQLRepository(db, dbx.Postgres, repotest.Keyring(t))

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE accounts SET last_used_at = $1 WHERE id = $2`)).
		WithArgs(sqlmock.AnyArg(), "a1").
		WillReturnError(errors.New("db down"))

	err = r.Touch(context.Background(), "a1", time.Now())
	require.Error(t, err)
	assert.Regexp(t, `db error: .*db down`, err.Error())
	require.NoError(t, mock.ExpectationsWereMet())
}
