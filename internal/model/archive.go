package model

import (
	"fmt"
	"strings"
	"time"
)

// DatabaseKind identifies which database backend a backup captures. It is
// resolved once from configuration (or the archive manifest) and passed
// explicitly, never re-derived by inspecting the filesystem mid-run.
type DatabaseKind string

const (
	DatabaseSQLite   DatabaseKind = "sqlite"
	DatabasePostgres DatabaseKind = "postgres"
)

// ParseDatabaseKind validates a database kind string.
func ParseDatabaseKind(s string) (DatabaseKind, error) {
	switch DatabaseKind(s) {
	case DatabaseSQLite, DatabasePostgres:
		return DatabaseKind(s), nil
	}
	return "", fmt.Errorf("unknown database kind %q (want sqlite or postgres)", s)
}

const (
	// NamePrefix is shared by every archive this tool produces.
	NamePrefix = "n8n_backup_"
	// FileSuffix is the on-disk archive file extension.
	FileSuffix = ".tar.gz"

	nameTimeLayout = "20060102_150405"
)

// Paths inside an extracted archive, relative to the top-level
// <archive_name>/ directory.
const (
	ManifestFile       = "manifest.json"
	SQLitePayload      = "credentials/database.sqlite"
	PostgresPayload    = "credentials/database.sql"
	EncryptionKeyEntry = "credentials/encryption.key"
	ConfigDir          = "config"
)

// NewName returns an archive name for the given creation time, e.g.
// n8n_backup_20260828_031500. One-second granularity keeps names unique
// within a retention set.
func NewName(t time.Time) string {
	return NamePrefix + t.Format(nameTimeLayout)
}

// ParseName extracts the embedded creation timestamp from an archive name.
// The name may carry the .tar.gz suffix or not.
func ParseName(name string) (time.Time, error) {
	base := strings.TrimSuffix(name, FileSuffix)
	if !strings.HasPrefix(base, NamePrefix) {
		return time.Time{}, fmt.Errorf("archive name %q: missing %q prefix", name, NamePrefix)
	}
	ts, err := time.Parse(nameTimeLayout, strings.TrimPrefix(base, NamePrefix))
	if err != nil {
		return time.Time{}, fmt.Errorf("archive name %q: bad timestamp: %w", name, err)
	}
	return ts, nil
}

// IsArchiveName reports whether a file or object name looks like one of our
// archives (prefix, parseable timestamp, .tar.gz suffix).
func IsArchiveName(name string) bool {
	if !strings.HasSuffix(name, FileSuffix) {
		return false
	}
	_, err := ParseName(name)
	return err == nil
}

// Archive describes one backup archive, local or remote.
type Archive struct {
	Name      string    `json:"name"`
	Path      string    `json:"path,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	SizeBytes int64     `json:"size_bytes"`
}

// Manifest is stored as <archive_name>/manifest.json inside the archive and
// records what the archive contains, including the database kind, so a
// restore never has to guess the backend.
type Manifest struct {
	Name         string       `json:"name"`
	CreatedAt    time.Time    `json:"created_at"`
	DatabaseKind DatabaseKind `json:"database_kind"`
	ToolVersion  string       `json:"tool_version"`
	Contents     []string     `json:"contents"`
}
