package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
	"github.com/dmitrijs2005/tgfleet/internal/engine/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyring(t *testing.T, current uint32, versions ...uint32) *cryptox.Keyring {
	t.Helper()
	keys := map[uint32][]byte{}
	for _, v := range versions {
		keys[v] = repotest.Key(byte(v))
	}
	kr, err := cryptox.NewKeyring(current, keys)
	require.NoError(t, err)
	return kr
}

func newStore(t *testing.T, kr *cryptox.Keyring) *Store {
	t.Helper()
	return New(repotest.OpenSQLite(t), dbx.SQLite, kr, WithClock(clock.NewFake(time.Unix(1000, 0))))
}

func TestStore_PutGetRoundTrip(t *testing.T) {
	s := newStore(t, keyring(t, 1, 1))
	ctx := context.Background()

	cases := []struct {
		key       string
		value     []byte
		sensitive bool
	}{
		{"settings.backup_target", []byte("s3"), false},
		{"secrets.token", []byte("t0ps3cret"), true},
		{"binary", []byte{0, 1, 2, 255}, true},
	}
	for _, c := range cases {
		require.NoError(t, s.Put(ctx, c.key, c.value, c.sensitive))
		got, err := s.Get(ctx, c.key)
		require.NoError(t, err)
		assert.Equal(t, c.value, got, c.key)
	}

	_, err := s.Get(ctx, "absent")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	recs, err := s.Query(ctx, "se")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "secrets.token", recs[0].Key)
	assert.Equal(t, time.Unix(1000, 0).UTC(), recs[0].UpdatedAt)

	require.NoError(t, s.Delete(ctx, "binary"))
	_, err = s.Get(ctx, "binary")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	require.Error(t, s.Put(ctx, "", nil, false))
}

func TestStore_CorruptionIsNotAbsence(t *testing.T) {
	db := repotest.OpenSQLite(t)
	ctx := context.Background()

	require.NoError(t, New(db, dbx.SQLite, keyring(t, 1, 1)).Put(ctx, "k", []byte("v"), true))

	// a store that lost key version 1
	s := New(db, dbx.SQLite, keyring(t, 2, 2))
	_, err := s.Get(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrStoreCorruption)
	assert.NotErrorIs(t, err, common.ErrorNotFound)
}

func TestStore_RekeyAfterVersionBump(t *testing.T) {
	db := repotest.OpenSQLite(t)
	ctx := context.Background()

	v1 := New(db, dbx.SQLite, keyring(t, 1, 1))
	require.NoError(t, v1.Put(ctx, "secret", []byte("v"), true))
	require.NoError(t, v1.Put(ctx, "plain", []byte("p"), false))
	require.NoError(t, v1.Repos().Accounts(db).Create(ctx, &models.Account{
		ID: "a1", Status: models.AccountActive, Secrets: models.AccountSecrets{APIHash: "h", Session: []byte("s")},
	}))
	require.NoError(t, v1.Repos().Proxies(db).Create(ctx, &models.Proxy{
		ID: "p1", Scheme: "socks5", Host: "h", Port: 1, Password: "pw", Score: 100, Status: models.ProxyHealthy,
	}))
	require.NoError(t, v1.Repos().Challenges(db).Put(ctx, &models.Challenge{AccountID: "a1", Stage: models.StageCode, PhoneCodeHash: "ch"}))

	// bumped: both versions loaded, writes go to 2
	v2 := New(db, dbx.SQLite, keyring(t, 2, 1, 2))
	got, err := v2.Get(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	n, err := v2.Rekey(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = v2.Rekey(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	// version 1 retired entirely
	only2 := New(db, dbx.SQLite, keyring(t, 2, 2))
	got, err = only2.Get(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	acc, err := only2.Repos().Accounts(db).Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "h", acc.Secrets.APIHash)
	assert.Equal(t, uint32(2), acc.KeyVersion)

	p, err := only2.Repos().Proxies(db).Get(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "pw", p.Password)

	ch, err := only2.Repos().Challenges(db).Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "ch", ch.PhoneCodeHash)
}

func TestStore_SnapshotRestore(t *testing.T) {
	ctx := context.Background()
	src := newStore(t, keyring(t, 1, 1))
	db := src.DB()

	require.NoError(t, src.Put(ctx, "secret", []byte("v"), true))
	require.NoError(t, src.Repos().Accounts(db).Create(ctx, &models.Account{
		ID: "a1", Label: "main", Status: models.AccountActive, Secrets: models.AccountSecrets{APIHash: "h"},
		CreatedAt: time.Unix(5, 0),
	}))
	require.NoError(t, src.Repos().Tasks(db).Create(ctx, &models.Task{
		ID: "t1", Kind: models.TaskPublish, Target: "@x", State: models.TaskPending,
		Payload: models.TaskPayload{Text: "hello"}, CreatedAt: time.Unix(6, 0), UpdatedAt: time.Unix(6, 0),
	}))
	_, err := src.Repos().Dedup(db).Insert(ctx, models.DedupRecord{Scope: "publish:@x", Fingerprint: "F", FirstSeen: time.Unix(7, 0)})
	require.NoError(t, err)

	blob, err := src.Snapshot(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, blob)

	dst := newStore(t, keyring(t, 1, 1))
	require.NoError(t, dst.Put(ctx, "stale", []byte("gone"), false))
	require.NoError(t, dst.Restore(ctx, blob))

	got, err := dst.Get(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	_, err = dst.Get(ctx, "stale")
	assert.ErrorIs(t, err, common.ErrorNotFound)

	acc, err := dst.Repos().Accounts(dst.DB()).Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "main", acc.Label)
	assert.Equal(t, time.Unix(5, 0).UTC(), acc.CreatedAt)

	task, err := dst.Repos().Tasks(dst.DB()).Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hello", task.Payload.Text)

	seen, err := dst.Repos().Dedup(dst.DB()).Exists(ctx, "publish:@x", "F")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestStore_SnapshotResealsStaleVersions(t *testing.T) {
	ctx := context.Background()
	db := repotest.OpenSQLite(t)
	require.NoError(t, New(db, dbx.SQLite, keyring(t, 1, 1)).Put(ctx, "secret", []byte("v"), true))

	blob, err := New(db, dbx.SQLite, keyring(t, 2, 1, 2)).Snapshot(ctx)
	require.NoError(t, err)

	// opens with the current key alone
	dst := newStore(t, keyring(t, 2, 2))
	require.NoError(t, dst.Restore(ctx, blob))
	got, err := dst.Get(ctx, "secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestStore_RestoreRejectsGarbageAndUnknownKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, keyring(t, 1, 1))

	assert.ErrorIs(t, s.Restore(ctx, []byte("not zstd")), common.ErrStoreCorruption)

	blob, err := newStore(t, keyring(t, 3, 3)).Snapshot(ctx)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Restore(ctx, blob), common.ErrStoreCorruption)
}

func TestOpen_SQLiteFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "engine.db")

	s, err := Open(ctx, dbx.SQLite, path, keyring(t, 1, 1))
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "k", []byte("v"), true))
	require.NoError(t, s.Ping(ctx))
	require.NoError(t, s.Close())

	s, err = Open(ctx, dbx.SQLite, path, keyring(t, 1, 1))
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}

func TestSqliteDSN(t *testing.T) {
	assert.Equal(t, ":memory:", sqliteDSN(":memory:"))
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("a.db"))
	assert.Equal(t, "file:a.db?cache=shared&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("file:a.db?cache=shared"))
}
