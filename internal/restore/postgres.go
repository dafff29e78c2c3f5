package restore

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/config"
)

// PgxWaiter probes the database with short pgx connections until it accepts
// a ping or the policy is exhausted.
type PgxWaiter struct {
	cfg    config.PostgresConfig
	logger zerolog.Logger
}

// NewPgxWaiter creates a pgx-backed ReadyWaiter.
func NewPgxWaiter(cfg config.PostgresConfig, logger zerolog.Logger) *PgxWaiter {
	return &PgxWaiter{
		cfg:    cfg,
		logger: logger.With().Str("component", "pg-waiter").Logger(),
	}
}

func (w *PgxWaiter) dsn() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		w.cfg.User, w.cfg.Password, w.cfg.Host, w.cfg.Port, w.cfg.Database)
}

// WaitReady implements ReadyWaiter.
func (w *PgxWaiter) WaitReady(ctx context.Context, policy PollPolicy) error {
	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		err := w.probe(ctx)
		if err == nil {
			w.logger.Info().Int("attempt", attempt).Msg("database ready")
			return nil
		}
		lastErr = err
		w.logger.Debug().Err(err).Int("attempt", attempt).Msg("database not ready")

		if attempt == policy.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrDatabaseNotReady, ctx.Err())
		case <-time.After(policy.Interval):
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrDatabaseNotReady, policy.MaxAttempts, lastErr)
}

func (w *PgxWaiter) probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := pgx.Connect(probeCtx, w.dsn())
	if err != nil {
		return err
	}
	defer conn.Close(probeCtx)
	return conn.Ping(probeCtx)
}

// PsqlReplayer pipes a dump file into the psql CLI.
type PsqlReplayer struct {
	cfg    config.PostgresConfig
	logger zerolog.Logger
}

// NewPsqlReplayer creates a psql-backed Replayer.
func NewPsqlReplayer(cfg config.PostgresConfig, logger zerolog.Logger) *PsqlReplayer {
	return &PsqlReplayer{
		cfg:    cfg,
		logger: logger.With().Str("component", "psql-replay").Logger(),
	}
}

// Replay streams the dump into psql on stdin. ON_ERROR_STOP makes a broken
// dump fail loudly instead of loading half a database.
func (r *PsqlReplayer) Replay(ctx context.Context, dumpPath string) error {
	f, err := os.Open(dumpPath)
	if err != nil {
		return fmt.Errorf("open dump: %w", err)
	}
	defer f.Close()

	args := []string{
		"-h", r.cfg.Host,
		"-p", fmt.Sprintf("%d", r.cfg.Port),
		"-U", r.cfg.User,
		"-d", r.cfg.Database,
		"-v", "ON_ERROR_STOP=1",
	}
	r.logger.Debug().Strs("args", args).Msg("executing psql")

	cmd := exec.CommandContext(ctx, "psql", args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+r.cfg.Password)
	cmd.Stdin = f
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("psql failed: %w: %s", err, string(output))
	}
	return nil
}
