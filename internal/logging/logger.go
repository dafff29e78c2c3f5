package logging

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/config"
)

// maxLogFileBytes caps the persistent run log; at open, an oversized log is
// rotated aside to <name>.1 (one generation is enough for a daily cron job).
const maxLogFileBytes = 10 << 20

// NewLogger creates the run logger: colored console output when stdout is a
// terminal, plus a timestamped append-only log file so cron runs leave a
// trace regardless of outcome.
func NewLogger(cfg *config.Config) (zerolog.Logger, func(), error) {
	file, err := openLogFile(cfg.LogFile)
	if err != nil {
		return zerolog.Nop(), nil, err
	}

	var console zerolog.LevelWriter
	if isatty.IsTerminal(os.Stdout.Fd()) {
		console = zerolog.MultiLevelWriter(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		console = zerolog.MultiLevelWriter(os.Stdout)
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(console, file)).
		With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	closer := func() { file.Close() }
	return logger.Level(level), closer, nil
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if info, err := os.Stat(path); err == nil && info.Size() > maxLogFileBytes {
		// Best effort; a failed rotation must not block the run.
		_ = os.Rename(path, path+".1")
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return file, nil
}
