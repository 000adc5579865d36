package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/renderinc/annotation-search/internal/config"
	"github.com/renderinc/annotation-search/internal/indexer"
	"github.com/renderinc/annotation-search/internal/logging"
	"github.com/renderinc/annotation-search/internal/reindex"
	"github.com/renderinc/annotation-search/internal/search"
	"github.com/renderinc/annotation-search/internal/storage"
	"github.com/renderinc/annotation-search/internal/tasks"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	flagDataDir   string
	flagLogLevel  string
	flagLogFormat string
	flagEnvFile   string
)

var rootCmd = &cobra.Command{
	Use:   "annotation-search",
	Short: "Keep the annotation search index in sync with the annotation store",
	Long: `annotation-search indexes annotations from the SQLite annotation store into
Bleve search indexes. While a full reindex builds a replacement index, every
live write is applied to both the serving index and the replacement.

Configuration is read from ANNOTATION_SEARCH_* environment variables and an
optional .env file; flags override both.`,
	SilenceUsage: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagDataDir, "data-dir", "", "Directory for database and index files (default ./data)")
	pf.StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&flagLogFormat, "log-format", "", "Log format: json or console")
	pf.StringVar(&flagEnvFile, "env-file", ".env", "Optional file of environment variables")
}

// app holds the wired components shared by every command
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	db       *storage.DB
	settings *storage.Settings
	cluster  *search.Cluster
	bulk     *search.BatchIndexer
	queue    *tasks.Queue
	coord    *indexer.Coordinator
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagEnvFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("data-dir") {
		cfg.DataDir = flagDataDir
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.LogFormat = flagLogFormat
	}

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.NewLogger(logging.Config{Format: cfg.LogFormat, Level: cfg.LogLevel})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	cluster, err := search.OpenCluster(cfg.IndexDir(), cfg.IndexAlias)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open search index: %w", err)
	}

	settings := storage.NewSettings(db)
	bulk := search.NewBatchIndexer(search.BatchIndexerConfig{
		BatchSize:   cfg.BulkBatchSize,
		MaxAttempts: cfg.BulkMaxAttempts,
		RetryDelay:  cfg.BulkRetryDelay,
	}, db, cluster, logger)

	queue := tasks.NewQueue(tasks.Config{
		Workers:     cfg.Workers,
		MaxAttempts: cfg.MaxTaskAttempts,
		RetryDelay:  cfg.TaskRetryDelay,
	}, logger)

	coord := indexer.NewCoordinator(db, cluster, bulk, settings, queue, logger, indexer.Options{
		PrimaryTarget:   cfg.IndexAlias,
		RetryFailedBulk: cfg.RetryFailedBulk,
	})
	for name, h := range coord.Handlers() {
		queue.Register(name, h)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		settings: settings,
		cluster:  cluster,
		bulk:     bulk,
		queue:    queue,
		coord:    coord,
	}, nil
}

func (a *app) reindexer(progress search.BatchProgressFunc) *reindex.Reindexer {
	return reindex.New(a.db, a.cluster, a.settings, a.bulk.WithProgress(progress), a.logger)
}

func (a *app) Close() {
	if err := a.cluster.Close(); err != nil {
		a.logger.Warn("close search index", zap.Error(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("close database", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// runTasks schedules tasks, serves the queue until they and their
// follow-ups are done, then stops the workers
func (a *app) runTasks(ctx context.Context, ts ...tasks.Task) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.queue.Run(ctx) }()

	for _, t := range ts {
		if err := a.queue.Schedule(ctx, t); err != nil {
			return fmt.Errorf("schedule %s: %w", t, err)
		}
	}

	err := a.queue.Drain(ctx)
	cancel()
	<-done
	return err
}
