package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/datapex/batchflow/internal/pipeline"
	"github.com/datapex/batchflow/pkg/config"
	"github.com/datapex/batchflow/pkg/connector/core"
	"github.com/datapex/batchflow/pkg/connector/registry"
	"github.com/datapex/batchflow/pkg/logger"
	"github.com/datapex/batchflow/pkg/observability"

	// Import all available connectors to register them
	_ "github.com/datapex/batchflow/pkg/connector/destinations/jsonfile"
	_ "github.com/datapex/batchflow/pkg/connector/destinations/memory"
	_ "github.com/datapex/batchflow/pkg/connector/sources/csv"
	_ "github.com/datapex/batchflow/pkg/connector/sources/simulated"
)

var version = "0.1.0"

func main() {
	root := &cobra.Command{
		Use:   "batchflow",
		Short: "Batchflow - batch ETL pipeline with memoized enrichment",
		Long: `Batchflow drains a set of source connectors in batches, enriches and
validates each record through memoized caches, and persists the results
through a write-buffering store.`,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Batchflow v%s\n", version)
			fmt.Printf("Go version: %s\n", runtime.Version())
			fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available connectors",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available source connectors:")
			for _, name := range registry.ListSources() {
				fmt.Printf("  - %s\n", name)
			}
			fmt.Println("\nAvailable sink connectors:")
			for _, name := range registry.ListSinks() {
				fmt.Printf("  - %s\n", name)
			}
		},
	})

	var configFile string
	var batchSize, batches int
	var parallelSources bool
	var logLevel string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline",
		Long: `Run a pipeline with the given configuration file.

Example:
  batchflow run --config pipeline.yaml --batches 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if cmd.Flags().Changed("batch-size") {
				cfg.Performance.BatchSize = batchSize
			}
			if cmd.Flags().Changed("parallel-sources") {
				cfg.Performance.ParallelSources = parallelSources
			}
			if cmd.Flags().Changed("log-level") {
				cfg.Observability.LogLevel = logLevel
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			return runPipeline(cfg, batches)
		},
	}

	runCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to pipeline configuration file (yaml or json, required)")
	_ = runCmd.MarkFlagRequired("config")
	runCmd.Flags().IntVar(&batchSize, "batch-size", 50, "Number of records requested from each source per batch")
	runCmd.Flags().IntVar(&batches, "batches", 1, "How many batches to process before exiting")
	runCmd.Flags().BoolVar(&parallelSources, "parallel-sources", false, "Fetch from all sources concurrently")
	runCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runPipeline wires connectors from the registry and processes the
// requested number of batches.
func runPipeline(cfg *config.PipelineConfig, batches int) error {
	if batches <= 0 {
		return fmt.Errorf("batches must be positive, got %d", batches)
	}

	if err := logger.Init(logger.Config{Level: cfg.Observability.LogLevel, Encoding: "json"}); err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	log := logger.With(zap.String("component", "batchflow-cli"), zap.String("pipeline", cfg.Name))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var opts []pipeline.Option
	if cfg.Observability.EnableTracing {
		shutdown, err := observability.Init(observability.Config{
			ServiceName:    "batchflow",
			ServiceVersion: version,
			Environment:    "production",
			SamplingRate:   1.0,
		})
		if err != nil {
			return fmt.Errorf("tracing initialization failed: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				log.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
		opts = append(opts, pipeline.WithObserver(pipeline.NewTracingObserver()))
	}

	sources := make([]core.Source, 0, len(cfg.Sources))
	for _, srcCfg := range cfg.Sources {
		src, err := registry.CreateSource(srcCfg)
		if err != nil {
			return fmt.Errorf("failed to create source '%s': %w", srcCfg.Name, err)
		}
		sources = append(sources, src)
	}

	sink, err := registry.CreateSink(cfg.Sink)
	if err != nil {
		return fmt.Errorf("failed to create sink '%s': %w", cfg.Sink.Type, err)
	}

	for _, src := range sources {
		if status := src.Health(ctx); !status.OK() {
			log.Warn("source reported unhealthy",
				zap.String("source", src.Name()),
				zap.Error(status.Error))
		}
	}
	if status := sink.Health(ctx); !status.OK() {
		log.Warn("sink reported unhealthy",
			zap.String("sink", sink.Name()),
			zap.Error(status.Error))
	}

	p, err := pipeline.New(cfg, sources, sink, opts...)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	log.Info("starting pipeline",
		zap.Int("sources", len(sources)),
		zap.String("sink", cfg.Sink.Type),
		zap.Int("batch_size", cfg.Performance.BatchSize),
		zap.Int("batches", batches),
		zap.Bool("parallel_sources", cfg.Performance.ParallelSources))

	start := time.Now()
	var runErr error
	for i := 0; i < batches; i++ {
		if ctx.Err() != nil {
			log.Warn("interrupted, stopping after current batch", zap.Int("completed_batches", i))
			break
		}

		result, err := p.ProcessBatch(ctx, cfg.Performance.BatchSize)
		if err != nil {
			// Batch errors are fail-soft inside the pipeline; record the
			// last one and keep going so healthy sources stay drained.
			log.Error("batch completed with errors", zap.Int("batch", i+1), zap.Error(err))
			runErr = err
		}
		log.Info("batch summary",
			zap.Int("batch", i+1),
			zap.Int64("fetched", result.Fetched),
			zap.Int64("transformed", result.Transformed),
			zap.Int64("validated", result.Validated),
			zap.Int64("persisted", result.Persisted),
			zap.Int64("dropped", result.Dropped))
	}

	duration := time.Since(start)
	persisted := p.Store().Persisted()
	log.Info("pipeline finished",
		zap.Duration("duration", duration),
		zap.Int64("records_persisted", persisted),
		zap.Float64("records_per_second", float64(persisted)/duration.Seconds()))

	for _, src := range sources {
		if err := src.Close(ctx); err != nil {
			log.Warn("failed to close source", zap.String("source", src.Name()), zap.Error(err))
		}
	}
	if err := sink.Close(ctx); err != nil {
		log.Warn("failed to close sink", zap.Error(err))
	}

	if runErr != nil {
		return fmt.Errorf("pipeline completed with errors: %w", runErr)
	}
	return nil
}
