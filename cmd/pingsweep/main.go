package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tmater/pingsweep/internal/check"
	"github.com/tmater/pingsweep/internal/config"
	"github.com/tmater/pingsweep/internal/logging"
	"github.com/tmater/pingsweep/internal/netrange"
	"github.com/tmater/pingsweep/internal/scan"
	"github.com/tmater/pingsweep/internal/store"
)

const (
	exitOK          = 0
	exitError       = 1
	exitInterrupted = 130
)

type flags struct {
	config   string
	cidr     string
	workers  int
	timeout  time.Duration
	dsn      string
	progress string
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "path to config file (pingsweep.yaml)")
	flag.StringVar(&f.cidr, "cidr", "", "IPv4 range to scan, e.g. 192.168.1.0/24")
	flag.IntVar(&f.workers, "workers", 0, "maximum concurrent probes")
	flag.DurationVar(&f.timeout, "timeout", 0, "reply timeout per probe")
	flag.StringVar(&f.dsn, "dsn", "", "PostgreSQL connection URL")
	flag.StringVar(&f.progress, "progress", "", "progress output: log, bar or none")
	flag.Parse()

	os.Exit(run(f))
}

func run(f flags) int {
	cfg, err := config.Load(f.config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %s\n", err)
		return exitError
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitError
	}

	log, logFile, err := logging.New(cfg.Log, logOptions(cfg)...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %s\n", err)
		return exitError
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r, err := netrange.Parse(cfg.Scan.CIDR)
	if err != nil {
		log.WithError(err).Error("invalid scan range")
		return exitError
	}

	db, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Error("failed to connect to database")
		return exitError
	}
	defer db.Close()
	log.Info("connected to database")

	if cfg.Database.Migrate {
		if err := db.Migrate(ctx); err != nil {
			log.WithError(err).Error("failed to migrate database")
			if errors.Is(err, context.Canceled) {
				return exitInterrupted
			}
			return exitError
		}
	}

	dialect := check.DetectDialect(runtime.GOOS)
	runner := &check.Runner{
		Binary:  cfg.Scan.PingBinary,
		Dialect: dialect,
		Grace:   cfg.Scan.Grace,
	}

	reporter, closeReporter := newReporter(cfg, log)
	defer closeReporter()

	scanner := scan.New(runner, check.ParserFor(dialect), db,
		scan.WithLogger(log),
		scan.WithReporter(reporter),
		scan.WithHostsOnly(cfg.Scan.SkipNetworkBroadcast),
	)

	sum, scanErr := scanner.Scan(ctx, scan.NewRun(r, cfg.Scan.Workers, cfg.Scan.Timeout))
	closeReporter()
	sum.Log(log)

	// Reporting runs after an interrupt too, so it must not inherit the
	// cancelled context.
	reportCtx := context.WithoutCancel(ctx)
	report(reportCtx, log, db, sum)
	if cfg.Database.RetentionDays > 0 {
		evict(reportCtx, log, db, cfg.Database.RetentionDays)
	}
	if cfg.Webhook != "" {
		notify(reportCtx, log, cfg.Webhook, sum, scanErr)
	}

	if scanErr != nil {
		if errors.Is(scanErr, context.Canceled) {
			log.Warn("scan interrupted by user")
			return exitInterrupted
		}
		log.WithError(scanErr).Error("scan failed")
		return exitError
	}
	return exitOK
}

// apply overrides cfg with every flag that was given a value.
func (f flags) apply(cfg *config.Config) {
	if f.cidr != "" {
		cfg.Scan.CIDR = f.cidr
	}
	if f.workers != 0 {
		cfg.Scan.Workers = f.workers
	}
	if f.timeout != 0 {
		cfg.Scan.Timeout = f.timeout
	}
	if f.dsn != "" {
		cfg.Database.DSN = f.dsn
	}
	if f.progress != "" {
		cfg.Progress = f.progress
	}
}

// logOptions keeps log lines from tearing the progress bar.
func logOptions(cfg *config.Config) []logging.Option {
	if cfg.Progress == config.ProgressBar {
		return []logging.Option{logging.WithoutConsole()}
	}
	return nil
}

func newReporter(cfg *config.Config, log logrus.FieldLogger) (scan.Reporter, func()) {
	switch cfg.Progress {
	case config.ProgressBar:
		bar := scan.NewBarReporter("Scanning " + cfg.Scan.CIDR)
		return bar, bar.Close
	case config.ProgressNone:
		return scan.ReporterFunc(func(int, int) {}), func() {}
	default:
		return &scan.LogReporter{Log: log, Every: cfg.ProgressEvery}, func() {}
	}
}
