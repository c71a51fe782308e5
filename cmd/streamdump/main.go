package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/STRATINT/streamdump/internal/config"
	"github.com/STRATINT/streamdump/internal/database"
	"github.com/STRATINT/streamdump/internal/fanout"
	"github.com/STRATINT/streamdump/internal/logging"
	"github.com/STRATINT/streamdump/internal/metrics"
	"github.com/STRATINT/streamdump/internal/oauth"
	"github.com/STRATINT/streamdump/internal/progress"
	"github.com/STRATINT/streamdump/internal/server"
	"github.com/STRATINT/streamdump/internal/sink"
	"github.com/STRATINT/streamdump/internal/stream"
)

// Exit codes
const (
	ExitSuccess        = 0
	ExitReplicaFailure = 1
	ExitInvalidArgs    = 2
	ExitConfigError    = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("streamdump", flag.ContinueOnError)
	fs.SetOutput(stderr)

	configFile := fs.String("config", "", "YAML run configuration file")
	output := fs.String("output", "", "Output directory or bucket URL (default \"target\")")
	url := fs.String("url", "", "Streaming endpoint URL")
	policy := fs.String("policy", "", "Failure policy: collect or fail-fast")

	fs.Usage = func() {
		fmt.Fprintln(stderr, `Usage: streamdump [options] [replicas]

Open replicas concurrent signed connections to a streaming endpoint and write
each response body to <output>/stream_<i>.dat. replicas defaults to 2.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitSuccess
		}
		return ExitInvalidArgs
	}

	var replicas int
	switch fs.NArg() {
	case 0:
	case 1:
		n, err := config.ParseReplicas(fs.Arg(0))
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
		replicas = n
	default:
		fmt.Fprintln(stderr, "Error: at most one positional argument (replicas) is accepted")
		fs.Usage()
		return ExitInvalidArgs
	}

	startupLogger := slog.New(slog.NewJSONHandler(stderr, nil))

	cfg, err := config.Load()
	if err != nil {
		startupLogger.Error("failed to load config", "error", err)
		return ExitConfigError
	}
	if *configFile != "" {
		fromFile, err := config.LoadFromFile(*configFile)
		if err != nil {
			startupLogger.Error("failed to load config file", "path", *configFile, "error", err)
			return ExitConfigError
		}
		cfg = cfg.Merge(fromFile)
	}

	var flags config.Config
	flags.Stream.URL = *url
	flags.Stream.Replicas = replicas
	flags.Stream.Policy = *policy
	flags.Output.Dir = *output
	cfg = cfg.Merge(flags)

	if err := cfg.Validate(); err != nil {
		startupLogger.Error("invalid configuration", "error", err)
		return ExitConfigError
	}

	logger, err := logging.NewWithWriter(cfg.Logging, stderr)
	if err != nil {
		startupLogger.Error("failed to init logger", "error", err)
		return ExitConfigError
	}

	creds, err := config.LoadCredentials(cfg.CredentialsFile)
	if err != nil {
		logger.Error("failed to load credentials", "error", err)
		return ExitConfigError
	}

	failurePolicy, err := fanout.ParsePolicy(cfg.Stream.Policy)
	if err != nil {
		logger.Error("invalid failure policy", "error", err)
		return ExitConfigError
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, stopping replicas", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	out, err := sink.New(ctx, cfg.Output.Dir)
	if err != nil {
		logger.Error("failed to open output", "output", cfg.Output.Dir, "error", err)
		return ExitConfigError
	}
	defer out.Close()

	signer := oauth.NewSigner(oauth.Credentials{
		ConsumerKey:       creds.ConsumerKey,
		ConsumerSecret:    creds.ConsumerSecret,
		AccessToken:       creds.AccessToken,
		AccessTokenSecret: creds.AccessTokenSecret,
	})
	connector := stream.NewConnector(cfg.Stream.URL, signer, nil, logger)

	reporter := progress.NewReporter(cfg.Stream.Replicas, cfg.Stream.ProgressInterval, logger)
	observers := []fanout.Observer{fanout.CopyCounter(reporter.Copied)}

	if cfg.Metrics.Addr != "" {
		collector, err := metrics.NewStreamCollector()
		if err != nil {
			logger.Error("failed to create metrics collector", "error", err)
			return ExitConfigError
		}
		observers = append(observers, collector)

		srv := server.New(cfg.Metrics.Addr, logger, collector.Handler())
		if err := srv.Start(); err != nil {
			logger.Error("failed to start metrics server", "error", err)
			return ExitConfigError
		}
		defer func() {
			if err := srv.Shutdown(context.Background()); err != nil {
				logger.Warn("metrics server shutdown error", "error", err)
			}
		}()
	}

	var recorder fanout.Recorder
	if cfg.Database.URL != "" {
		db, err := openRunLedger(ctx, cfg.Database, logger)
		if err != nil {
			logger.Error("failed to open run ledger", "error", err)
			return ExitConfigError
		}
		defer db.Close()
		recorder = database.NewReplicaRunRepository(db)
	}

	driver := fanout.NewDriver(connector, out, fanout.Options{
		Endpoint:    cfg.Stream.URL,
		Policy:      failurePolicy,
		BufferSize:  cfg.Stream.BufferSize,
		ConnectRate: cfg.Stream.ConnectRate,
		Recorder:    recorder,
		Observers:   observers,
		Logger:      logger,
	})

	reporter.Start()
	report, err := driver.Run(ctx, cfg.Stream.Replicas)
	reporter.Stop()

	if err != nil {
		for _, res := range report.Failed() {
			logger.Error("replica did not complete",
				"run_id", report.RunID,
				"replica", res.Index,
				"status", res.Status,
				"error", res.Err)
		}
		return ExitReplicaFailure
	}
	return ExitSuccess
}

// openRunLedger connects, applies migrations and prunes old rows.
func openRunLedger(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*sql.DB, error) {
	dbCfg := database.DefaultConfig()
	dbCfg.URL = cfg.URL

	db, err := database.Connect(ctx, dbCfg)
	if err != nil {
		return nil, err
	}
	if err := database.RunMigrations(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.Retention > 0 {
		deleted, err := database.NewReplicaRunRepository(db).DeleteOlderThan(ctx, cfg.Retention)
		if err != nil {
			logger.Warn("failed to prune replica runs", "error", err)
		} else if deleted > 0 {
			logger.Info("pruned replica runs", "deleted", deleted, "retention", cfg.Retention)
		}
	}
	return db, nil
}
