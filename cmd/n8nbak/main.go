package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/flowops/n8nbak/internal/archive"
	"github.com/flowops/n8nbak/internal/backup"
	"github.com/flowops/n8nbak/internal/compose"
	"github.com/flowops/n8nbak/internal/config"
	"github.com/flowops/n8nbak/internal/logging"
	"github.com/flowops/n8nbak/internal/metrics"
	"github.com/flowops/n8nbak/internal/model"
	"github.com/flowops/n8nbak/internal/notify"
	"github.com/flowops/n8nbak/internal/remote"
	"github.com/flowops/n8nbak/internal/restore"
	"github.com/flowops/n8nbak/internal/retention"
	"github.com/flowops/n8nbak/internal/runlock"
	"github.com/flowops/n8nbak/internal/schedule"
	"github.com/flowops/n8nbak/internal/snapshot"
)

const version = "1.2.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "backup":
		fs := flag.NewFlagSet("backup", flag.ExitOnError)
		configPath := fs.String("config", "", "Path to YAML config file (optional)")
		fs.Parse(os.Args[2:])
		run(*configPath, cmdBackup)

	case "restore":
		fs := flag.NewFlagSet("restore", flag.ExitOnError)
		configPath := fs.String("config", "", "Path to YAML config file (optional)")
		source := fs.String("source", "", "Local archive path, or 'remote' to pick from the remote store (required)")
		selectIdx := fs.Int("select", 0, "1-based index into the newest-first remote listing")
		fs.Parse(os.Args[2:])

		if *source == "" {
			fmt.Fprintln(os.Stderr, "Error: -source flag is required")
			fs.Usage()
			os.Exit(1)
		}
		run(*configPath, func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
			return cmdRestore(ctx, cfg, logger, *source, *selectIdx)
		})

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		configPath := fs.String("config", "", "Path to YAML config file (optional)")
		remoteOnly := fs.Bool("remote", false, "List the remote retention set instead of the local one")
		fs.Parse(os.Args[2:])
		run(*configPath, func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
			return cmdList(ctx, cfg, logger, *remoteOnly)
		})

	case "verify":
		fs := flag.NewFlagSet("verify", flag.ExitOnError)
		fs.Parse(os.Args[2:])
		if fs.NArg() < 1 {
			fmt.Fprintln(os.Stderr, "Usage: n8nbak verify <archive-path>")
			os.Exit(1)
		}
		if err := cmdVerify(fs.Arg(0)); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s: OK\n", fs.Arg(0))

	case "prune":
		fs := flag.NewFlagSet("prune", flag.ExitOnError)
		configPath := fs.String("config", "", "Path to YAML config file (optional)")
		fs.Parse(os.Args[2:])
		run(*configPath, cmdPrune)

	case "schedule":
		fs := flag.NewFlagSet("schedule", flag.ExitOnError)
		configPath := fs.String("config", "", "Path to YAML config file (optional)")
		cronExpr := fs.String("cron", "0 3 * * *", "Cron expression for backup runs")
		listen := fs.String("listen", ":9321", "Metrics/health listen address")
		fs.Parse(os.Args[2:])
		run(*configPath, func(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
			return cmdSchedule(ctx, cfg, logger, *cronExpr, *listen)
		})

	case "version":
		fmt.Println("n8nbak " + version)

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// run loads config, sets up logging and signal handling, and executes one
// command. Exit code 0 only on full success.
func run(configPath string, cmd func(context.Context, *config.Config, zerolog.Logger) error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.NewLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd(ctx, cfg, logger); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		closeLog()
		os.Exit(1)
	}
}

// newRunner wires the backup pipeline from config. m may be nil outside
// schedule mode.
func newRunner(cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (*backup.Runner, error) {
	store, err := remote.New(cfg, logger)
	if err != nil {
		return nil, err
	}

	var dumper snapshot.Dumper
	if cfg.Kind() == model.DatabasePostgres {
		dumper = snapshot.NewPgDump(cfg.Postgres, logger)
	}
	producer := snapshot.NewProducer(cfg, dumper, version, logger)
	telegram := notify.NewTelegram(cfg.Telegram, logger)

	return backup.NewRunner(cfg, producer, store, telegram, m, logger), nil
}

func cmdBackup(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	runner, err := newRunner(cfg, nil, logger)
	if err != nil {
		return err
	}
	_, err = runner.Run(ctx)
	return err
}

func cmdRestore(ctx context.Context, cfg *config.Config, logger zerolog.Logger, source string, selectIdx int) error {
	store, err := remote.New(cfg, logger)
	if err != nil {
		return err
	}

	// Restore and backup runs against one install dir never overlap.
	lock, err := runlock.Acquire(cfg.BackupDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	ctl := compose.NewController(cfg.InstallDir, logger)
	waiter := restore.NewPgxWaiter(cfg.Postgres, logger)
	replayer := restore.NewPsqlReplayer(cfg.Postgres, logger)

	r := restore.NewRestorer(cfg, ctl, waiter, replayer, store, logger)
	return r.Run(ctx, restore.Request{Source: source, Select: selectIdx})
}

func cmdList(ctx context.Context, cfg *config.Config, logger zerolog.Logger, remoteOnly bool) error {
	if remoteOnly {
		store, err := remote.New(cfg, logger)
		if err != nil {
			return err
		}
		if store == nil {
			return fmt.Errorf("no remote profile configured")
		}
		objects, err := store.List(ctx)
		if err != nil {
			return err
		}
		for _, o := range objects {
			fmt.Printf("%s\t%d\t%s\n", o.Name, o.SizeBytes, o.LastModified.Format("2006-01-02 15:04:05"))
		}
		return nil
	}

	archives, err := retention.ListLocal(cfg.BackupDir)
	if err != nil {
		return err
	}
	for _, a := range archives {
		fmt.Printf("%s\t%d\t%s\n", a.Name, a.SizeBytes, a.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// cmdVerify integrity-checks one archive without restoring it: full read,
// single top-level directory, exactly one database payload.
func cmdVerify(path string) error {
	if err := archive.Validate(path); err != nil {
		return err
	}
	entries, err := archive.List(path)
	if err != nil {
		return err
	}
	root, err := archive.Root(entries)
	if err != nil {
		return err
	}

	var hasSQLite, hasDump bool
	for _, e := range entries {
		switch strings.TrimPrefix(e, root+"/") {
		case model.SQLitePayload:
			hasSQLite = true
		case model.PostgresPayload:
			hasDump = true
		}
	}
	if hasSQLite == hasDump {
		return fmt.Errorf("%w in %s", archive.ErrAmbiguousBackup, path)
	}
	return nil
}

func cmdPrune(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	deleted, err := retention.PruneLocal(cfg.BackupDir, cfg.Retention.LocalCount, logger)
	if err != nil {
		return err
	}
	fmt.Printf("pruned %d local archives\n", len(deleted))

	store, err := remote.New(cfg, logger)
	if err != nil {
		return err
	}
	if store != nil {
		remoteDeleted := retention.PruneRemote(ctx, store, cfg.RemoteMaxAge(), logger)
		fmt.Printf("pruned %d remote archives\n", len(remoteDeleted))
	}
	return nil
}

func cmdSchedule(ctx context.Context, cfg *config.Config, logger zerolog.Logger, cronExpr, listen string) error {
	m := metrics.New(prometheus.DefaultRegisterer)
	runner, err := newRunner(cfg, m, logger)
	if err != nil {
		return err
	}
	return schedule.NewDaemon(runner, cronExpr, listen, logger).Run(ctx)
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  n8nbak backup   [-config FILE]
  n8nbak restore  -source <local-path|remote> [-select N] [-config FILE]
  n8nbak list     [-remote] [-config FILE]
  n8nbak verify   <archive-path>
  n8nbak prune    [-config FILE]
  n8nbak schedule [-cron EXPR] [-listen ADDR] [-config FILE]
  n8nbak version

Commands:
  backup    Snapshot the database and config, archive, prune, upload, notify
  restore   Rebuild a live install from a local or remote archive
  list      Show the local (or remote) retention set, newest first
  verify    Integrity-check one archive without restoring it
  prune     Apply retention alone: local by count, remote by age
  schedule  Run backups on a cron schedule with /metrics and /healthz
  version   Print the version`)
}
