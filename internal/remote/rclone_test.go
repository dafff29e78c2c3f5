package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lsjsonFixture = `[
  {"Path":"n8n_backup_20260810_030000.tar.gz","Name":"n8n_backup_20260810_030000.tar.gz","Size":1024,"ModTime":"2026-08-10T03:00:05Z","IsDir":false},
  {"Path":"n8n_backup_20260820_030000.tar.gz","Name":"n8n_backup_20260820_030000.tar.gz","Size":2048,"ModTime":"2026-08-20T03:00:05Z","IsDir":false},
  {"Path":"notes.txt","Name":"notes.txt","Size":10,"ModTime":"2026-08-01T00:00:00Z","IsDir":false},
  {"Path":"subdir","Name":"subdir","Size":-1,"ModTime":"2026-08-01T00:00:00Z","IsDir":true}
]`

func testRclone(run func(ctx context.Context, args ...string) ([]byte, error)) *RcloneStore {
	s := NewRcloneStore("gdrive", "n8n-backups", zerolog.Nop())
	s.run = run
	return s
}

func TestRcloneListFiltersAndSorts(t *testing.T) {
	s := testRclone(func(_ context.Context, args ...string) ([]byte, error) {
		assert.Equal(t, []string{"lsjson", "gdrive:n8n-backups"}, args)
		return []byte(lsjsonFixture), nil
	})

	objects, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, objects, 2)

	// Newest first; non-archive names are dropped.
	assert.Equal(t, "n8n_backup_20260820_030000.tar.gz", objects[0].Name)
	assert.Equal(t, "n8n_backup_20260810_030000.tar.gz", objects[1].Name)
	assert.Equal(t, int64(2048), objects[0].SizeBytes)
}

func TestRcloneDeleteOlderThan(t *testing.T) {
	var deletedTargets []string
	s := testRclone(func(_ context.Context, args ...string) ([]byte, error) {
		switch args[0] {
		case "lsjson":
			return []byte(lsjsonFixture), nil
		case "deletefile":
			deletedTargets = append(deletedTargets, args[1])
			return nil, nil
		}
		return nil, errors.New("unexpected rclone invocation: " + strings.Join(args, " "))
	})
	s.now = func() time.Time { return time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC) }

	deleted, err := s.DeleteOlderThan(context.Background(), 14*24*time.Hour)
	require.NoError(t, err)

	// Only the 18-day-old archive is past the 14-day cutoff.
	assert.Equal(t, []string{"n8n_backup_20260810_030000.tar.gz"}, deleted)
	assert.Equal(t, []string{"gdrive:n8n-backups/n8n_backup_20260810_030000.tar.gz"}, deletedTargets)
}

func TestRcloneDeleteFailuresAreSkipped(t *testing.T) {
	s := testRclone(func(_ context.Context, args ...string) ([]byte, error) {
		if args[0] == "lsjson" {
			return []byte(lsjsonFixture), nil
		}
		return nil, errors.New("rclone deletefile failed: permission denied")
	})
	s.now = func() time.Time { return time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC) }

	deleted, err := s.DeleteOlderThan(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestParseLsjsonRejectsGarbage(t *testing.T) {
	_, err := parseLsjson([]byte("rclone: command not found"))
	assert.Error(t, err)
}
