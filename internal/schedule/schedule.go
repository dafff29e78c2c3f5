// Package schedule runs the backup pipeline unattended on a cron
// expression, with a metrics/health endpoint alongside.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/flowops/n8nbak/internal/backup"
	"github.com/flowops/n8nbak/internal/metrics"
)

// Daemon owns the cron loop and the metrics server.
type Daemon struct {
	runner *backup.Runner
	expr   string
	listen string
	logger zerolog.Logger
}

// NewDaemon creates a schedule daemon. expr is a standard 5-field cron
// expression; listen is the metrics server address.
func NewDaemon(runner *backup.Runner, expr, listen string, logger zerolog.Logger) *Daemon {
	return &Daemon{
		runner: runner,
		expr:   expr,
		listen: listen,
		logger: logger.With().Str("component", "schedule").Logger(),
	}
}

// Run blocks until ctx is canceled. A failing backup run is logged and the
// schedule keeps going; only a broken cron expression or metrics server is
// fatal.
func (d *Daemon) Run(ctx context.Context) error {
	c := cron.New()
	_, err := c.AddFunc(d.expr, func() {
		if _, err := d.runner.Run(ctx); err != nil {
			d.logger.Error().Err(err).Msg("scheduled backup failed")
		}
	})
	if err != nil {
		return fmt.Errorf("parse cron expression %q: %w", d.expr, err)
	}

	srv := metrics.NewServer(d.listen)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Info().Str("addr", d.listen).Msg("metrics server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		d.logger.Info().Str("cron", d.expr).Msg("backup schedule started")
		c.Start()
		<-ctx.Done()
		// Let an in-flight run finish before exiting.
		<-c.Stop().Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	})

	return g.Wait()
}
