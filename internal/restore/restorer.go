// Package restore rebuilds a live n8n installation from a backup archive:
// select, validate, extract, classify, apply. Any step failure aborts the
// rest and names the failed step; the system is left in the last safely
// reached state.
package restore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/archive"
	"github.com/flowops/n8nbak/internal/config"
	"github.com/flowops/n8nbak/internal/model"
	"github.com/flowops/n8nbak/internal/remote"
)

// ErrDatabaseNotReady means the database service never reported ready
// within the polling window; the dump is not replayed.
var ErrDatabaseNotReady = errors.New("database not ready within polling window")

// ErrNoArchiveSelected means the select step could not resolve an archive.
var ErrNoArchiveSelected = errors.New("no archive selected")

// PollPolicy bounds a readiness wait: at most MaxAttempts probes, Interval
// apart. Tests inject short intervals.
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// ComposeRunner controls the Docker Compose services around a restore.
// Implemented by compose.Controller.
type ComposeRunner interface {
	Up(ctx context.Context, services ...string) error
	Stop(ctx context.Context, services ...string) error
	Restart(ctx context.Context, services ...string) error
}

// ReadyWaiter blocks until the database accepts connections or the policy
// is exhausted.
type ReadyWaiter interface {
	WaitReady(ctx context.Context, policy PollPolicy) error
}

// Replayer loads a logical dump into the running database.
type Replayer interface {
	Replay(ctx context.Context, dumpPath string) error
}

// Request describes one restore operation. Source is a local archive path
// or the literal "remote" to select from the configured remote store.
// Select is a 1-based index into the newest-first remote listing.
type Request struct {
	Source string
	Select int
}

// Restorer executes restore requests.
type Restorer struct {
	cfg      *config.Config
	compose  ComposeRunner
	waiter   ReadyWaiter
	replayer Replayer
	store    remote.Store // nil when no remote profile is configured
	out      io.Writer
	logger   zerolog.Logger
}

// NewRestorer wires a restorer. waiter and replayer are only consulted for
// PostgreSQL archives; store may be nil.
func NewRestorer(cfg *config.Config, compose ComposeRunner, waiter ReadyWaiter, replayer Replayer, store remote.Store, logger zerolog.Logger) *Restorer {
	return &Restorer{
		cfg:      cfg,
		compose:  compose,
		waiter:   waiter,
		replayer: replayer,
		store:    store,
		out:      os.Stdout,
		logger:   logger.With().Str("component", "restore").Logger(),
	}
}

// Run drives the whole state machine.
func (r *Restorer) Run(ctx context.Context, req Request) error {
	// Select.
	path, cleanup, err := r.selectArchive(ctx, req)
	if err != nil {
		return fmt.Errorf("restore step select: %w", err)
	}
	defer cleanup()

	// Validate before anything is touched.
	if err := archive.Validate(path); err != nil {
		return fmt.Errorf("restore step validate: %w", err)
	}

	// Extract into an isolated temp directory.
	extractDir, err := os.MkdirTemp("", "n8nbak-extract-*")
	if err != nil {
		return fmt.Errorf("restore step extract: %w", err)
	}
	defer os.RemoveAll(extractDir)
	if err := archive.Extract(path, extractDir); err != nil {
		return fmt.Errorf("restore step extract: %w", err)
	}
	root, err := extractedRoot(extractDir)
	if err != nil {
		return fmt.Errorf("restore step extract: %w", err)
	}

	// Classify.
	kind, err := archive.Classify(root)
	if err != nil {
		return fmt.Errorf("restore step classify: %w", err)
	}
	r.logger.Info().Str("archive", filepath.Base(path)).Str("database_kind", string(kind)).Msg("archive classified")

	// Apply.
	if err := r.apply(ctx, root, kind); err != nil {
		return fmt.Errorf("restore step apply: %w", err)
	}

	r.logger.Info().Str("archive", filepath.Base(path)).Msg("restore complete")
	return nil
}

// selectArchive resolves the request to a local archive path. Remote
// selections are downloaded to a temp file; cleanup removes it.
func (r *Restorer) selectArchive(ctx context.Context, req Request) (string, func(), error) {
	noop := func() {}

	if req.Source != "remote" {
		info, err := os.Stat(req.Source)
		if err != nil {
			return "", noop, fmt.Errorf("archive %s: %w", req.Source, err)
		}
		if !info.Mode().IsRegular() {
			return "", noop, fmt.Errorf("archive %s: not a regular file", req.Source)
		}
		return req.Source, noop, nil
	}

	if r.store == nil {
		return "", noop, fmt.Errorf("%w: no remote profile configured", ErrNoArchiveSelected)
	}
	objects, err := r.store.List(ctx)
	if err != nil {
		return "", noop, fmt.Errorf("list remote archives: %w", err)
	}
	if len(objects) == 0 {
		return "", noop, fmt.Errorf("%w: remote has no archives", ErrNoArchiveSelected)
	}

	for i, obj := range objects {
		fmt.Fprintf(r.out, "%3d  %s  (%s, %s)\n", i+1, obj.Name, humanSize(obj.SizeBytes), obj.LastModified.Format(time.RFC3339))
	}
	if req.Select < 1 || req.Select > len(objects) {
		return "", noop, fmt.Errorf("%w: pass -select 1..%d", ErrNoArchiveSelected, len(objects))
	}
	chosen := objects[req.Select-1]

	tmp, err := os.CreateTemp("", "n8nbak-download-*.tar.gz")
	if err != nil {
		return "", noop, err
	}
	tmp.Close()
	if err := r.store.Download(ctx, chosen.Name, tmp.Name()); err != nil {
		os.Remove(tmp.Name())
		return "", noop, fmt.Errorf("download %s: %w", chosen.Name, err)
	}
	return tmp.Name(), func() { os.Remove(tmp.Name()) }, nil
}

func (r *Restorer) apply(ctx context.Context, root string, kind model.DatabaseKind) error {
	// The app must not write while data is swapped underneath it.
	if err := r.compose.Stop(ctx, r.cfg.AppService); err != nil {
		return fmt.Errorf("stop %s: %w", r.cfg.AppService, err)
	}

	if err := r.restoreConfig(root); err != nil {
		return err
	}

	switch kind {
	case model.DatabaseSQLite:
		if err := r.applySQLite(root); err != nil {
			return err
		}
	case model.DatabasePostgres:
		if err := r.applyPostgres(ctx, root); err != nil {
			return err
		}
	}

	if err := r.compose.Up(ctx, r.cfg.AppService); err != nil {
		return fmt.Errorf("start %s: %w", r.cfg.AppService, err)
	}
	return nil
}

// restoreConfig puts archived config files back into the install directory.
// Anything overwritten is preserved as a .bak copy first.
func (r *Restorer) restoreConfig(root string) error {
	confDir := filepath.Join(root, model.ConfigDir)
	entries, err := os.ReadDir(confDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read archived config: %w", err)
	}
	if err := os.MkdirAll(r.cfg.InstallDir, 0o755); err != nil {
		return fmt.Errorf("create install directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		dest := filepath.Join(r.cfg.InstallDir, entry.Name())
		if _, err := os.Stat(dest); err == nil {
			if err := copyFile(dest, dest+".bak"); err != nil {
				return fmt.Errorf("back up %s: %w", entry.Name(), err)
			}
		}
		if err := copyFile(filepath.Join(confDir, entry.Name()), dest); err != nil {
			return fmt.Errorf("restore config %s: %w", entry.Name(), err)
		}
		r.logger.Info().Str("file", entry.Name()).Msg("restored config file")
	}
	return nil
}

func (r *Restorer) applySQLite(root string) error {
	if err := os.MkdirAll(r.cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	dbDest := r.resolveDataPath(r.cfg.SQLite.Path)
	if err := copyFile(filepath.Join(root, filepath.FromSlash(model.SQLitePayload)), dbDest); err != nil {
		return fmt.Errorf("restore sqlite database: %w", err)
	}
	targets := []string{dbDest}

	keySrc := filepath.Join(root, filepath.FromSlash(model.EncryptionKeyEntry))
	if _, err := os.Stat(keySrc); err == nil {
		keyDest := r.resolveDataPath(r.cfg.SQLite.KeyPath)
		if err := copyFile(keySrc, keyDest); err != nil {
			return fmt.Errorf("restore encryption key: %w", err)
		}
		targets = append(targets, keyDest)
	}

	if r.cfg.ServiceUID > 0 {
		for _, target := range targets {
			if err := os.Chown(target, r.cfg.ServiceUID, r.cfg.ServiceGID); err != nil {
				return fmt.Errorf("chown %s: %w", target, err)
			}
		}
	}
	for _, target := range targets {
		if err := os.Chmod(target, 0o600); err != nil {
			return fmt.Errorf("chmod %s: %w", target, err)
		}
	}
	return nil
}

// applyPostgres brings the database service up, waits for readiness under
// the configured policy, then replays the dump. No readiness, no replay.
func (r *Restorer) applyPostgres(ctx context.Context, root string) error {
	if err := r.compose.Up(ctx, r.cfg.Postgres.Service); err != nil {
		return fmt.Errorf("start %s: %w", r.cfg.Postgres.Service, err)
	}

	policy := PollPolicy{
		MaxAttempts: r.cfg.Restore.PollMaxAttempts,
		Interval:    r.cfg.Restore.PollInterval,
	}
	if err := r.waiter.WaitReady(ctx, policy); err != nil {
		return err
	}

	dump := filepath.Join(root, filepath.FromSlash(model.PostgresPayload))
	if err := r.replayer.Replay(ctx, dump); err != nil {
		return fmt.Errorf("replay dump: %w", err)
	}
	return nil
}

func (r *Restorer) resolveDataPath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(r.cfg.DataDir, path)
}

// extractedRoot returns the single top-level directory of an extraction.
func extractedRoot(extractDir string) (string, error) {
	entries, err := os.ReadDir(extractDir)
	if err != nil {
		return "", err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	if len(dirs) != 1 {
		return "", fmt.Errorf("%w: expected one top-level directory, found %d", archive.ErrInvalidArchive, len(dirs))
	}
	return filepath.Join(extractDir, dirs[0]), nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func humanSize(bytes int64) string {
	const mib = 1 << 20
	if bytes < mib {
		return fmt.Sprintf("%d KiB", bytes/(1<<10))
	}
	return fmt.Sprintf("%.1f MiB", float64(bytes)/mib)
}
