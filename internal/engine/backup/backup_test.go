package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/dmitrijs2005/tgfleet/internal/clock"
	"github.com/dmitrijs2005/tgfleet/internal/engine/settings"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	blob []byte
	err  error
}

func (f *fakeSource) Snapshot(ctx context.Context) ([]byte, error) { return f.blob, f.err }

type fakeUploader struct {
	uploaded map[string][]byte
	keeps    []int
	err      error
}

func (f *fakeUploader) Upload(ctx context.Context, name string, body []byte) error {
	if f.err != nil {
		return f.err
	}
	if f.uploaded == nil {
		f.uploaded = map[string][]byte{}
	}
	f.uploaded[name] = body
	return nil
}

func (f *fakeUploader) Prune(ctx context.Context, keep int) error {
	f.keeps = append(f.keeps, keep)
	return nil
}

var start = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestBackup_KeepsNewest(t *testing.T) {
	clk := clock.NewFake(start)
	up := &fakeUploader{}
	r, err := New(&fakeSource{blob: []byte("snapshot")}, Config{Dir: t.TempDir(), Keep: 3}, WithClock(clk), WithUploader(up))
	require.NoError(t, err)

	var last string
	for i := 0; i < 5; i++ {
		last, err = r.Backup(context.Background())
		require.NoError(t, err)
		clk.Advance(time.Hour)
	}

	names, err := r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"tgfleet-20250301T140000Z.snap",
		"tgfleet-20250301T150000Z.snap",
		"tgfleet-20250301T160000Z.snap",
	}, names)
	assert.Equal(t, "tgfleet-20250301T160000Z.snap", filepath.Base(last))

	data, err := Open(last)
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(data))

	assert.Len(t, up.uploaded, 5)
	assert.Equal(t, []int{3, 3, 3, 3, 3}, up.keeps)
}

func TestBackup_EncryptsToRecipients(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)

	r, err := New(&fakeSource{blob: []byte("secret snapshot")}, Config{Dir: t.TempDir(), Recipients: []string{id.Recipient().String()}},
		WithClock(clock.NewFake(start)))
	require.NoError(t, err)

	path, err := r.Backup(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(path, ".snap.age"))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret snapshot")

	data, err := Open(path, id.String())
	require.NoError(t, err)
	assert.Equal(t, "secret snapshot", string(data))

	_, err = Open(path)
	assert.Error(t, err)

	other, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	_, err = Open(path, other.String())
	assert.Error(t, err)
}

func TestNew_BadRecipient(t *testing.T) {
	_, err := New(&fakeSource{}, Config{Dir: t.TempDir(), Recipients: []string{"age1nope"}})
	assert.Error(t, err)
}

func TestBackup_Failures(t *testing.T) {
	dir := t.TempDir()
	r, err := New(&fakeSource{err: errors.New("db closed")}, Config{Dir: dir})
	require.NoError(t, err)
	_, err = r.Backup(context.Background())
	assert.ErrorContains(t, err, "db closed")

	r, err = New(&fakeSource{blob: []byte("x")}, Config{Dir: dir}, WithUploader(&fakeUploader{err: errors.New("bucket gone")}))
	require.NoError(t, err)
	_, err = r.Backup(context.Background())
	assert.ErrorContains(t, err, "bucket gone")

	// the local copy is still written
	names, err := r.List()
	require.NoError(t, err)
	assert.Len(t, names, 1)
}

func TestExpired(t *testing.T) {
	names := []string{"tgfleet-3.snap", "tgfleet-1.snap", "tgfleet-2.snap"}
	assert.Equal(t, []string{"tgfleet-1.snap"}, Expired(names, 2))
	assert.Nil(t, Expired(names, 3))
}

func TestIsBackupName(t *testing.T) {
	assert.True(t, IsBackupName("tgfleet-20250301T120000Z.snap"))
	assert.True(t, IsBackupName("dir/tgfleet-20250301T120000Z.snap.age"))
	assert.False(t, IsBackupName("tgfleet-20250301T120000Z.tmp"))
	assert.False(t, IsBackupName("notes.snap"))
}

type mapSettings map[string]string

func (m mapSettings) Lookup(_ context.Context, name string) (string, bool, error) {
	v, ok := m[name]
	return v, ok, nil
}

type fakePublisher struct {
	channel string
	paths   []string
}

func (f *fakePublisher) PublishBackup(_ context.Context, channel, path string) error {
	f.channel = channel
	f.paths = append(f.paths, path)
	return nil
}

func TestBackup_SettingsOverrideConfig(t *testing.T) {
	id, err := age.GenerateX25519Identity()
	require.NoError(t, err)
	clk := clock.NewFake(start)
	pub := &fakePublisher{}
	set := mapSettings{
		settings.BackupKeep:       "1",
		settings.BackupRecipients: id.Recipient().String(),
		settings.BackupChannel:    "@backups",
	}

	r, err := New(&fakeSource{blob: []byte("snapshot")}, Config{Dir: t.TempDir(), Keep: 5},
		WithClock(clk), WithSettings(set), WithPublisher(pub))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = r.Backup(context.Background())
		require.NoError(t, err)
		clk.Advance(time.Hour)
	}

	names, err := r.List()
	require.NoError(t, err)
	require.Equal(t, []string{"tgfleet-20250301T140000Z.snap.age"}, names)

	assert.Equal(t, "@backups", pub.channel)
	require.Len(t, pub.paths, 3)
	data, err := Open(pub.paths[2], id.String())
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(data))
}

func TestBackup_BadSettingFails(t *testing.T) {
	r, err := New(&fakeSource{blob: []byte("x")}, Config{Dir: t.TempDir()},
		WithSettings(mapSettings{settings.BackupKeep: "none"}))
	require.NoError(t, err)

	_, err = r.Backup(context.Background())
	assert.ErrorContains(t, err, settings.BackupKeep)
}
