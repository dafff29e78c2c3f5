// Package backup runs the full pipeline: snapshot, archive, verify,
// retention, transport. Steps run strictly in that order; retention and
// transport failures are reported but never fail the run.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/archive"
	"github.com/flowops/n8nbak/internal/config"
	"github.com/flowops/n8nbak/internal/metrics"
	"github.com/flowops/n8nbak/internal/model"
	"github.com/flowops/n8nbak/internal/notify"
	"github.com/flowops/n8nbak/internal/remote"
	"github.com/flowops/n8nbak/internal/retention"
	"github.com/flowops/n8nbak/internal/runlock"
)

// orphanMaxAge is how old a leftover temp directory must be before the
// pre-run sweep removes it. Generous enough to never race a live run.
const orphanMaxAge = 24 * time.Hour

// Stager produces a staging directory for the named archive. Implemented by
// snapshot.Producer; a fake in tests.
type Stager interface {
	Stage(ctx context.Context, name string) (string, error)
}

// Notifier is the status sink. Implemented by notify.Telegram.
type Notifier interface {
	Enabled() bool
	SendMessage(ctx context.Context, text string) error
	SendDocument(ctx context.Context, path, caption string) error
}

// Report summarizes one backup run for the log, the notification message
// and the exit code.
type Report struct {
	RunID        string
	Archive      model.Archive
	LocalPruned  []model.Archive
	RemotePruned []string
	Uploaded     bool
	// Warnings collects non-fatal retention/transport failures.
	Warnings []string
	Duration time.Duration
}

// Runner executes backup runs.
type Runner struct {
	cfg      *config.Config
	stager   Stager
	store    remote.Store // nil when no remote profile is configured
	telegram Notifier
	metrics  *metrics.Metrics // nil outside schedule mode
	logger   zerolog.Logger
	now      func() time.Time
}

// NewRunner wires a backup runner. store and metrics may be nil.
func NewRunner(cfg *config.Config, stager Stager, store remote.Store, telegram Notifier, m *metrics.Metrics, logger zerolog.Logger) *Runner {
	return &Runner{
		cfg:      cfg,
		stager:   stager,
		store:    store,
		telegram: telegram,
		metrics:  m,
		logger:   logger.With().Str("component", "backup").Logger(),
		now:      time.Now,
	}
}

// Run executes one backup. The returned report is valid even when err is
// non-nil. A status notification is attempted for every outcome.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	start := r.now()
	report := &Report{}

	lock, err := runlock.Acquire(r.cfg.BackupDir)
	if err != nil {
		return report, err
	}
	defer lock.Release()
	report.RunID = lock.RunID

	r.sweepOrphans()

	err = r.runPipeline(ctx, report)
	report.Duration = r.now().Sub(start)

	r.recordMetrics(report, err)
	r.notifyResult(ctx, report, err)

	if err != nil {
		r.logger.Error().Err(err).Str("run_id", report.RunID).Msg("backup failed")
		return report, err
	}
	r.logger.Info().
		Str("run_id", report.RunID).
		Str("archive", report.Archive.Name).
		Int64("size_bytes", report.Archive.SizeBytes).
		Int("local_pruned", len(report.LocalPruned)).
		Int("remote_pruned", len(report.RemotePruned)).
		Bool("uploaded", report.Uploaded).
		Strs("warnings", report.Warnings).
		Dur("duration", report.Duration).
		Msg("backup complete")
	return report, nil
}

func (r *Runner) runPipeline(ctx context.Context, report *Report) error {
	name := model.NewName(r.now())

	// Snapshot.
	staging, err := r.stager.Stage(ctx, name)
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	// Archive + verify. Create removes staging on success and verified
	// failure; remove it ourselves on unverified write errors.
	destPath := filepath.Join(r.cfg.BackupDir, name+model.FileSuffix)
	size, err := archive.Create(staging, destPath)
	if err != nil {
		os.RemoveAll(staging)
		return fmt.Errorf("archive: %w", err)
	}
	created, _ := model.ParseName(name)
	report.Archive = model.Archive{Name: name + model.FileSuffix, Path: destPath, CreatedAt: created, SizeBytes: size}
	r.logger.Info().Str("archive", report.Archive.Name).Int64("size_bytes", size).Msg("archive created and verified")

	// Retention: local by count, remote by age. Non-fatal from here on.
	pruned, err := retention.PruneLocal(r.cfg.BackupDir, r.cfg.Retention.LocalCount, r.logger)
	if err != nil {
		report.Warnings = append(report.Warnings, fmt.Sprintf("local retention: %v", err))
	}
	report.LocalPruned = pruned

	report.RemotePruned = retention.PruneRemote(ctx, r.store, r.cfg.RemoteMaxAge(), r.logger)

	// Transport: remote upload first, then Telegram attachment.
	if r.store != nil {
		if err := r.store.Upload(ctx, destPath); err != nil {
			r.logger.Warn().Err(err).Msg("remote upload failed")
			report.Warnings = append(report.Warnings, fmt.Sprintf("remote upload: %v", err))
			if r.metrics != nil {
				r.metrics.TransportFailures.WithLabelValues("remote").Inc()
			}
		} else {
			report.Uploaded = true
		}
	}

	return nil
}

// notifyResult always attempts a status message; the archive itself is
// attached only under Telegram's document size ceiling.
func (r *Runner) notifyResult(ctx context.Context, report *Report, runErr error) {
	if r.telegram == nil || !r.telegram.Enabled() {
		return
	}

	text := r.statusText(report, runErr)
	if err := r.telegram.SendMessage(ctx, text); err != nil {
		r.logger.Warn().Err(err).Msg("telegram status message failed")
		report.Warnings = append(report.Warnings, fmt.Sprintf("telegram message: %v", err))
		if r.metrics != nil {
			r.metrics.TransportFailures.WithLabelValues("telegram").Inc()
		}
	}

	if runErr != nil || report.Archive.Path == "" {
		return
	}
	if report.Archive.SizeBytes >= notify.MaxDocumentBytes {
		r.logger.Info().
			Int64("size_bytes", report.Archive.SizeBytes).
			Msg("archive over Telegram document limit, status message only")
		return
	}
	if err := r.telegram.SendDocument(ctx, report.Archive.Path, report.Archive.Name); err != nil {
		r.logger.Warn().Err(err).Msg("telegram document upload failed")
		report.Warnings = append(report.Warnings, fmt.Sprintf("telegram upload: %v", err))
		if r.metrics != nil {
			r.metrics.TransportFailures.WithLabelValues("telegram").Inc()
		}
	}
}

func (r *Runner) statusText(report *Report, runErr error) string {
	if runErr != nil {
		return fmt.Sprintf("❌ n8n backup failed: %v", runErr)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✅ n8n backup %s (%s)", report.Archive.Name, humanSize(report.Archive.SizeBytes))
	if report.Uploaded {
		b.WriteString(", uploaded to remote")
	}
	if len(report.LocalPruned)+len(report.RemotePruned) > 0 {
		fmt.Fprintf(&b, ", pruned %d local / %d remote", len(report.LocalPruned), len(report.RemotePruned))
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(&b, "\n⚠️ %s", w)
	}
	return b.String()
}

func (r *Runner) recordMetrics(report *Report, runErr error) {
	if r.metrics == nil {
		return
	}
	if runErr != nil {
		r.metrics.RunsTotal.WithLabelValues("failure").Inc()
		return
	}
	r.metrics.RunsTotal.WithLabelValues("success").Inc()
	r.metrics.LastSuccessTimestamp.SetToCurrentTime()
	r.metrics.LastArchiveBytes.Set(float64(report.Archive.SizeBytes))
	r.metrics.RetentionDeletes.WithLabelValues("local").Add(float64(len(report.LocalPruned)))
	r.metrics.RetentionDeletes.WithLabelValues("remote").Add(float64(len(report.RemotePruned)))
}

// sweepOrphans removes temp directories an interrupted earlier run left
// behind. Best effort only.
func (r *Runner) sweepOrphans() {
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "n8nbak-*"))
	if err != nil {
		return
	}
	cutoff := r.now().Add(-orphanMaxAge)
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(path); err == nil {
			r.logger.Info().Str("path", path).Msg("removed orphaned temp directory")
		}
	}
}

func humanSize(bytes int64) string {
	const mib = 1 << 20
	if bytes < mib {
		return fmt.Sprintf("%d KiB", bytes/(1<<10))
	}
	return fmt.Sprintf("%.1f MiB", float64(bytes)/mib)
}
