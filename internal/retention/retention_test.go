package retention

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowops/n8nbak/internal/model"
	"github.com/flowops/n8nbak/internal/remote"
)

// seedArchives writes n empty archives one minute apart, oldest first, and
// returns their names oldest first.
func seedArchives(t *testing.T, dir string, n int) []string {
	t.Helper()
	base := time.Date(2026, 8, 1, 3, 0, 0, 0, time.UTC)
	names := make([]string, n)
	for i := 0; i < n; i++ {
		name := model.NewName(base.Add(time.Duration(i)*time.Minute)) + model.FileSuffix
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
		names[i] = name
	}
	return names
}

func TestListLocalNewestFirst(t *testing.T) {
	dir := t.TempDir()
	names := seedArchives(t, dir, 3)
	// Stray files are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "n8nbak.log"), []byte("log"), 0o600))

	archives, err := ListLocal(dir)
	require.NoError(t, err)
	require.Len(t, archives, 3)
	assert.Equal(t, names[2], archives[0].Name)
	assert.Equal(t, names[0], archives[2].Name)
}

func TestPruneLocalKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	names := seedArchives(t, dir, 36)

	deleted, err := PruneLocal(dir, 30, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, deleted, 6)

	remaining, err := ListLocal(dir)
	require.NoError(t, err)
	require.Len(t, remaining, 30)

	// Exactly the 30 newest survive.
	assert.Equal(t, names[35], remaining[0].Name)
	assert.Equal(t, names[6], remaining[29].Name)
	for _, d := range deleted {
		assert.Contains(t, names[:6], d.Name)
	}
}

func TestPruneLocalIdempotent(t *testing.T) {
	dir := t.TempDir()
	seedArchives(t, dir, 36)

	first, err := PruneLocal(dir, 30, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, first, 6)

	second, err := PruneLocal(dir, 30, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestPruneLocalUnderLimit(t *testing.T) {
	dir := t.TempDir()
	seedArchives(t, dir, 5)

	deleted, err := PruneLocal(dir, 30, zerolog.Nop())
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

type fakeStore struct {
	remote.Store
	deleted []string
	err     error
}

func (s *fakeStore) DeleteOlderThan(context.Context, time.Duration) ([]string, error) {
	return s.deleted, s.err
}

func TestPruneRemote(t *testing.T) {
	store := &fakeStore{deleted: []string{"n8n_backup_20260701_030000.tar.gz"}}
	deleted := PruneRemote(context.Background(), store, 30*24*time.Hour, zerolog.Nop())
	assert.Equal(t, store.deleted, deleted)
}

func TestPruneRemoteFailureIsNonFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("remote unreachable")}
	deleted := PruneRemote(context.Background(), store, 30*24*time.Hour, zerolog.Nop())
	assert.Empty(t, deleted)
}

func TestPruneRemoteNilStore(t *testing.T) {
	assert.Empty(t, PruneRemote(context.Background(), nil, time.Hour, zerolog.Nop()))
}
