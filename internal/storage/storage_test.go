package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindbot/pkg/logx"
)

func sampleUser(id int64) UserRecord {
	return UserRecord{
		ChatID:    id,
		TZOffset:  2,
		RemindAt:  "09:00",
		Notes:     map[string][]string{"25.12": {"gift", "call family"}, "01.01": {"sleep"}},
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.PutUser(ctx, sampleUser(1)))
	require.NoError(t, s.PutUser(ctx, UserRecord{ChatID: 2, UpdatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)}))

	got, ok, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"gift", "call family"}, got.Notes["25.12"])
	assert.Equal(t, 2, got.TZOffset)
	assert.Equal(t, "09:00", got.RemindAt)

	// Mutating the returned copy does not touch the store.
	got.Notes["25.12"][0] = "changed"
	again, _, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "gift", again.Notes["25.12"][0])

	users, err := s.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(1), users[0].ChatID)
	assert.Empty(t, users[1].Notes)

	require.NoError(t, s.AppendAudit(ctx, AuditEntry{ChatID: 1, Command: "add", Args: "25.12 gift", TookMS: 3}))
}

func TestFileStore(t *testing.T) {
	fsys := afero.NewMemMapFs()
	s, err := openFile(Config{Path: "data/state.json", CompactEvery: 2}, fsys, logx.Nop())
	require.NoError(t, err)
	exerciseStore(t, s)

	require.NoError(t, s.PutUser(context.Background(), UserRecord{ChatID: 3, TZOffset: -5}))
	require.NoError(t, s.Close())

	// Reopen: snapshot + journal reproduce the same state.
	s2, err := openFile(Config{Path: "data/state.json"}, fsys, logx.Nop())
	require.NoError(t, err)
	defer s2.Close()
	users, err := s2.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, -5, users[2].TZOffset)
	assert.Equal(t, []string{"gift", "call family"}, users[0].Notes["25.12"])
}

func TestFileStoreSkipsBadJournalLines(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "data/state.users.journal.jsonl", []byte(
		`{"chat_id":1,"tz_offset":3}`+"\n"+`{"chat_id":`+"\n"+`{"chat_id":2}`+"\n"), 0o600))

	s, err := openFile(Config{Path: "data/state.json"}, fsys, logx.Nop())
	require.NoError(t, err)
	defer s.Close()
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, 3, users[0].TZOffset)
}

func TestSQLiteStore(t *testing.T) {
	s, err := openSQLite(Config{Path: filepath.Join(t.TempDir(), "state.db")}, logx.Nop())
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)

	// Replacing a user drops notes that are no longer present.
	ctx := context.Background()
	rec := sampleUser(1)
	delete(rec.Notes, "01.01")
	require.NoError(t, s.PutUser(ctx, rec))
	got, _, err := s.GetUser(ctx, 1)
	require.NoError(t, err)
	assert.NotContains(t, got.Notes, "01.01")
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "postgres"}, logx.Nop())
	assert.Error(t, err)
}
