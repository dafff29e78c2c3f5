// Package snapshot stages a point-in-time capture of the n8n installation:
// database payload plus the configuration files needed to rebuild the stack.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/config"
	"github.com/flowops/n8nbak/internal/model"
)

// ErrMissingDatabase means no database payload could be captured; the whole
// backup aborts and no partial archive is produced.
var ErrMissingDatabase = errors.New("no database payload found")

// Dumper produces a logical database dump at the given destination path.
type Dumper interface {
	Dump(ctx context.Context, destPath string) error
}

// configFiles are the installation files captured under config/ when
// present. Absence of optional files is not an error.
var configFiles = []string{
	"docker-compose.yml",
	"Caddyfile",
	".env",
	"news_api.env",
}

// Producer stages backups into process-local temporary directories. It
// never mutates the live data directory.
type Producer struct {
	cfg     *config.Config
	dumper  Dumper
	version string
	logger  zerolog.Logger
}

// NewProducer creates a Producer. dumper may be nil for SQLite installs.
func NewProducer(cfg *config.Config, dumper Dumper, version string, logger zerolog.Logger) *Producer {
	return &Producer{
		cfg:     cfg,
		dumper:  dumper,
		version: version,
		logger:  logger.With().Str("component", "snapshot").Logger(),
	}
}

// Stage captures database and configuration state into a fresh staging
// directory laid out as <name>/credentials + <name>/config, and writes the
// archive manifest. It returns the staging directory (the parent of
// <name>/) which the archiver consumes and removes.
func (p *Producer) Stage(ctx context.Context, name string) (string, error) {
	staging, err := os.MkdirTemp("", "n8nbak-stage-*")
	if err != nil {
		return "", fmt.Errorf("create staging directory: %w", err)
	}

	root := filepath.Join(staging, name)
	credDir := filepath.Join(root, "credentials")
	confDir := filepath.Join(root, model.ConfigDir)
	for _, dir := range []string{credDir, confDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			os.RemoveAll(staging)
			return "", fmt.Errorf("create staging layout: %w", err)
		}
	}

	kind := p.cfg.Kind()
	switch kind {
	case model.DatabasePostgres:
		err = p.stagePostgres(ctx, root)
	default:
		err = p.stageSQLite(root)
	}
	if err != nil {
		os.RemoveAll(staging)
		return "", err
	}

	copied := p.stageConfig(confDir)

	if err := p.writeManifest(root, name, kind, copied); err != nil {
		os.RemoveAll(staging)
		return "", err
	}

	p.logger.Info().Str("name", name).Str("database_kind", string(kind)).Msg("snapshot staged")
	return staging, nil
}

// stageSQLite copies the live database file byte-for-byte. The copy is
// taken without quiescing n8n: a write racing the copy can land mid-file.
// That trade keeps the service available during nightly backups and is the
// documented behavior; do not add locking here without surfacing it as a
// behavior change.
func (p *Producer) stageSQLite(root string) error {
	src := p.resolveDataPath(p.cfg.SQLite.Path)
	if !fileExists(src) {
		return fmt.Errorf("%w: %s", ErrMissingDatabase, src)
	}
	if err := copyFile(src, filepath.Join(root, filepath.FromSlash(model.SQLitePayload))); err != nil {
		return fmt.Errorf("copy sqlite database: %w", err)
	}

	key := p.resolveDataPath(p.cfg.SQLite.KeyPath)
	if fileExists(key) {
		if err := copyFile(key, filepath.Join(root, filepath.FromSlash(model.EncryptionKeyEntry))); err != nil {
			return fmt.Errorf("copy encryption key: %w", err)
		}
	}
	return nil
}

// stagePostgres takes a logical dump from the live connection; pg_dump
// gives a transaction-consistent capture without pausing the service.
func (p *Producer) stagePostgres(ctx context.Context, root string) error {
	if p.dumper == nil {
		return fmt.Errorf("%w: no dumper configured for postgres", ErrMissingDatabase)
	}
	dest := filepath.Join(root, filepath.FromSlash(model.PostgresPayload))
	if err := p.dumper.Dump(ctx, dest); err != nil {
		return fmt.Errorf("dump postgres database: %w", err)
	}
	if !fileExists(dest) {
		return fmt.Errorf("%w: dump produced no file", ErrMissingDatabase)
	}
	return nil
}

func (p *Producer) stageConfig(confDir string) []string {
	var copied []string
	for _, name := range configFiles {
		src := filepath.Join(p.cfg.InstallDir, name)
		if !fileExists(src) {
			continue
		}
		if err := copyFile(src, filepath.Join(confDir, name)); err != nil {
			p.logger.Warn().Err(err).Str("file", name).Msg("skipping config file")
			continue
		}
		copied = append(copied, name)
	}
	return copied
}

func (p *Producer) writeManifest(root, name string, kind model.DatabaseKind, configs []string) error {
	created, err := model.ParseName(name)
	if err != nil {
		return fmt.Errorf("manifest: %w", err)
	}

	contents := []string{}
	switch kind {
	case model.DatabasePostgres:
		contents = append(contents, model.PostgresPayload)
	case model.DatabaseSQLite:
		contents = append(contents, model.SQLitePayload)
		if fileExists(filepath.Join(root, filepath.FromSlash(model.EncryptionKeyEntry))) {
			contents = append(contents, model.EncryptionKeyEntry)
		}
	}
	for _, c := range configs {
		contents = append(contents, model.ConfigDir+"/"+c)
	}

	m := model.Manifest{
		Name:         name,
		CreatedAt:    created,
		DatabaseKind: kind,
		ToolVersion:  p.version,
		Contents:     contents,
	}
	data, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, model.ManifestFile), data, 0o600); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

func (p *Producer) resolveDataPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.cfg.DataDir, path)
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
