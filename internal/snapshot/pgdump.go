package snapshot

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/config"
)

// PgDump invokes the pg_dump CLI against the live database connection.
type PgDump struct {
	cfg    config.PostgresConfig
	logger zerolog.Logger
}

// NewPgDump creates a pg_dump backed Dumper.
func NewPgDump(cfg config.PostgresConfig, logger zerolog.Logger) *PgDump {
	return &PgDump{
		cfg:    cfg,
		logger: logger.With().Str("component", "pg-dump").Logger(),
	}
}

// Dump writes a plain-format logical dump to destPath. The password goes
// through PGPASSWORD so it never appears in the process list.
func (d *PgDump) Dump(ctx context.Context, destPath string) error {
	args := []string{
		"-h", d.cfg.Host,
		"-p", strconv.Itoa(d.cfg.Port),
		"-U", d.cfg.User,
		"-d", d.cfg.Database,
		"--no-owner",
		"-f", destPath,
	}
	d.logger.Debug().Strs("args", args).Msg("executing pg_dump")

	cmd := exec.CommandContext(ctx, "pg_dump", args...)
	cmd.Env = append(os.Environ(), "PGPASSWORD="+d.cfg.Password)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("pg_dump failed: %w: %s", err, string(output))
	}
	return nil
}
