package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sensorcloud/centrepoint-sync/internal/pipeline"
	"github.com/sensorcloud/centrepoint-sync/pkg/centrepoint"
	"github.com/sensorcloud/centrepoint-sync/pkg/clients"
	"github.com/sensorcloud/centrepoint-sync/pkg/config"
	"github.com/sensorcloud/centrepoint-sync/pkg/loader"
	s3loader "github.com/sensorcloud/centrepoint-sync/pkg/loader/s3"
	snowflakeloader "github.com/sensorcloud/centrepoint-sync/pkg/loader/snowflake"
	"github.com/sensorcloud/centrepoint-sync/pkg/logger"
	"github.com/sensorcloud/centrepoint-sync/pkg/metrics"
	"github.com/sensorcloud/centrepoint-sync/pkg/state"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "centrepoint-sync",
		Short: "Incremental sync from the ActiGraph CentrePoint API to warehouse storage",
		Long: `centrepoint-sync pulls daily statistics from the ActiGraph CentrePoint API
and loads them, append-only, into S3 or Snowflake. Runs are incremental: each
run resumes from the highest lastEpochDateTimeUtc seen by prior runs.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("centrepoint-sync %s\n", version)
		},
	})

	root.AddCommand(newRunCommand())
	root.AddCommand(newLoadersCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRunCommand() *cobra.Command {
	var (
		configPath string
		fullReload bool
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one sync run",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if fullReload {
				cfg.Source.FullReload = true
			}
			if logLevel != "" {
				cfg.Observability.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			if err := logger.Init(logger.Config{Level: cfg.Observability.LogLevel, Encoding: "json"}); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// Every log line of this run carries the run ID and the
			// study/subject being synced.
			ctx = context.WithValue(ctx, logger.RunIDKey, uuid.NewString())
			ctx = context.WithValue(ctx, logger.StudyIDKey, cfg.Source.StudyID)
			ctx = context.WithValue(ctx, logger.SubjectIDKey, cfg.Source.SubjectID)
			log := logger.WithContext(ctx)

			if cfg.Observability.EnableMetrics && cfg.Observability.MetricsAddr != "" {
				go serveMetrics(cfg.Observability.MetricsAddr, log)
			}

			run, err := buildRun(cfg, log)
			if err != nil {
				return err
			}

			result, err := run.Run(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("sync completed: %d emitted, %d skipped, cursor %s (%s)\n",
				result.RecordsEmitted, result.RecordsSkipped, result.FinalCursor, result.Duration.Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "sync.yaml", "Path to sync configuration file")
	cmd.Flags().BoolVar(&fullReload, "full-reload", false, "Ignore persisted cursor state and re-fetch all history")
	cmd.Flags().StringVar(&logLevel, "log-level", "", "Override configured log level (debug, info, warn, error)")
	return cmd
}

func newLoadersCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "loaders",
		Short: "List available destination loaders",
		Run: func(cmd *cobra.Command, args []string) {
			_ = logger.Init(logger.Config{Level: "error", Encoding: "console"})
			reg := newLoaderRegistry(logger.Get())
			for _, name := range reg.Types() {
				fmt.Println(name)
			}
		},
	}
}

// newLoaderRegistry registers all built-in destination loaders.
func newLoaderRegistry(log *zap.Logger) *loader.Registry {
	reg := loader.NewRegistry(log)
	_ = reg.Register("s3", s3loader.New)
	_ = reg.Register("snowflake", snowflakeloader.New)
	return reg
}

// buildRun wires one sync run from configuration.
func buildRun(cfg *config.SyncConfig, log *zap.Logger) (*pipeline.SyncRun, error) {
	httpClient := clients.NewHTTPClient(cfg.Timeouts)
	auth := centrepoint.NewClientCredentialsAuth(cfg.Credentials(), httpClient, log)
	fetcher := centrepoint.NewClient(cfg.Source.BaseURL, httpClient, auth,
		clients.NewRetryPolicy(cfg.Reliability), log)

	load, err := newLoaderRegistry(log).Create(cfg.Destination, log)
	if err != nil {
		return nil, err
	}

	store := state.NewFileStore(cfg.State.Path)
	return pipeline.NewSyncRun(cfg, fetcher, load, store, log), nil
}

func serveMetrics(addr string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	log.Info("metrics endpoint listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics endpoint stopped", zap.Error(err))
	}
}
