package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewNameParseNameRoundTrip(t *testing.T) {
	created := time.Date(2026, 8, 28, 3, 15, 0, 0, time.UTC)
	name := NewName(created)
	assert.Equal(t, "n8n_backup_20260828_031500", name)

	parsed, err := ParseName(name)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(created))

	// File suffix is tolerated.
	parsed, err = ParseName(name + FileSuffix)
	require.NoError(t, err)
	assert.True(t, parsed.Equal(created))
}

func TestParseNameRejectsForeignNames(t *testing.T) {
	for _, name := range []string{
		"",
		"backup_20260828_031500",
		"n8n_backup_garbage",
		"n8n_backup_2026-08-28",
	} {
		_, err := ParseName(name)
		assert.Error(t, err, "name %q", name)
	}
}

func TestNamesSortChronologically(t *testing.T) {
	older := NewName(time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	newer := NewName(time.Date(2026, 1, 10, 23, 59, 59, 0, time.UTC))
	assert.Less(t, older, newer)
}

func TestIsArchiveName(t *testing.T) {
	assert.True(t, IsArchiveName("n8n_backup_20260828_031500.tar.gz"))
	assert.False(t, IsArchiveName("n8n_backup_20260828_031500"))
	assert.False(t, IsArchiveName("other_20260828_031500.tar.gz"))
	assert.False(t, IsArchiveName("n8nbak.log"))
}

func TestParseDatabaseKind(t *testing.T) {
	kind, err := ParseDatabaseKind("sqlite")
	require.NoError(t, err)
	assert.Equal(t, DatabaseSQLite, kind)

	kind, err = ParseDatabaseKind("postgres")
	require.NoError(t, err)
	assert.Equal(t, DatabasePostgres, kind)

	_, err = ParseDatabaseKind("mysql")
	assert.Error(t, err)
}
