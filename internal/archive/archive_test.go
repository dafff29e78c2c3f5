package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowops/n8nbak/internal/model"
)

// stage builds a staging directory shaped like the snapshot producer's
// output: <name>/credentials + <name>/config with the given payload file.
func stage(t *testing.T, name, payload string) string {
	t.Helper()
	staging := t.TempDir()
	root := filepath.Join(staging, name)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "credentials"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "config"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, filepath.FromSlash(payload)), []byte("payload-data"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "config", "docker-compose.yml"), []byte("services: {}\n"), 0o644))
	return staging
}

func TestCreateExtractRoundTrip(t *testing.T) {
	name := model.NewName(time.Now())
	staging := stage(t, name, model.SQLitePayload)
	dest := filepath.Join(t.TempDir(), name+model.FileSuffix)

	size, err := Create(staging, dest)
	require.NoError(t, err)
	assert.Positive(t, size)

	// Staging is cleaned up on success.
	_, err = os.Stat(staging)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, Validate(dest))

	entries, err := List(dest)
	require.NoError(t, err)
	assert.Contains(t, entries, name+"/credentials/database.sqlite")

	root, err := Root(entries)
	require.NoError(t, err)
	assert.Equal(t, name, root)

	extractDir := t.TempDir()
	require.NoError(t, Extract(dest, extractDir))

	data, err := os.ReadFile(filepath.Join(extractDir, name, "credentials", "database.sqlite"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload-data"), data)

	kind, err := Classify(filepath.Join(extractDir, name))
	require.NoError(t, err)
	assert.Equal(t, model.DatabaseSQLite, kind)
}

func TestValidateRejectsTruncatedArchive(t *testing.T) {
	name := model.NewName(time.Now())
	staging := stage(t, name, model.SQLitePayload)
	dest := filepath.Join(t.TempDir(), name+model.FileSuffix)

	_, err := Create(staging, dest)
	require.NoError(t, err)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dest, data[:len(data)/2], 0o600))

	err = Validate(dest)
	assert.ErrorIs(t, err, ErrInvalidArchive)
}

func TestValidateRejectsNonArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-an-archive.tar.gz")
	require.NoError(t, os.WriteFile(path, []byte("just some text"), 0o600))
	assert.ErrorIs(t, Validate(path), ErrInvalidArchive)
}

func TestClassifyPostgres(t *testing.T) {
	name := model.NewName(time.Now())
	staging := stage(t, name, model.PostgresPayload)
	kind, err := Classify(filepath.Join(staging, name))
	require.NoError(t, err)
	assert.Equal(t, model.DatabasePostgres, kind)
}

func TestClassifyAmbiguous(t *testing.T) {
	name := model.NewName(time.Now())

	// Both payloads present.
	staging := stage(t, name, model.SQLitePayload)
	root := filepath.Join(staging, name)
	require.NoError(t, os.WriteFile(filepath.Join(root, "credentials", "database.sql"), []byte("-- dump"), 0o600))
	_, err := Classify(root)
	assert.ErrorIs(t, err, ErrAmbiguousBackup)

	// Neither payload present.
	empty := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(empty, "credentials"), 0o755))
	_, err = Classify(empty)
	assert.ErrorIs(t, err, ErrAmbiguousBackup)
}

func TestClassifyManifestMismatch(t *testing.T) {
	name := model.NewName(time.Now())
	staging := stage(t, name, model.SQLitePayload)
	root := filepath.Join(staging, name)
	require.NoError(t, os.WriteFile(filepath.Join(root, model.ManifestFile),
		[]byte(`{"name":"`+name+`","database_kind":"postgres"}`), 0o600))

	_, err := Classify(root)
	assert.ErrorIs(t, err, ErrAmbiguousBackup)
}

func TestSafeJoinRejectsPathTraversal(t *testing.T) {
	// safeJoin is the extraction guard; Create never produces ".." entries
	// itself, so exercise the guard directly.
	dir := t.TempDir()
	_, err := safeJoin(dir, "../outside")
	assert.Error(t, err)

	_, err = safeJoin(dir, "name/../../outside")
	assert.Error(t, err)

	target, err := safeJoin(dir, "name/credentials/database.sqlite")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "name", "credentials", "database.sqlite"), target)
}

func TestCreateDeletesCorruptOutput(t *testing.T) {
	// A staging dir that disappears mid-run surfaces as a write error and
	// must not leave a partial archive behind.
	dest := filepath.Join(t.TempDir(), "n8n_backup_20260101_000000.tar.gz")
	_, err := Create(filepath.Join(t.TempDir(), "missing-staging"), dest)
	require.Error(t, err)
	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
