// Command stream-archiver copies a bounded range of a JetStream event
// stream into line-delimited text files, dropping per-key duplicate and
// out-of-order records, with exactly-once committed output across restarts.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/derekm/flink-tools/internal/checkpoint"
	"github.com/derekm/flink-tools/internal/dedup"
	"github.com/derekm/flink-tools/internal/extract"
	"github.com/derekm/flink-tools/internal/observability"
	"github.com/derekm/flink-tools/internal/pipeline"
	"github.com/derekm/flink-tools/internal/sink"
	"github.com/derekm/flink-tools/internal/source"
	"github.com/derekm/flink-tools/internal/state"
)

// Config holds all stream archiver configuration.
type Config struct {
	// JobName identifies the job in logs, metrics, and checkpoint files
	JobName string `env:"JOB_NAME" envDefault:"stream-archiver"`

	// LogLevel is the log level (debug, info, warn, error)
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// LogFormat is the log format (json, text)
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// MetricsAddr is the Prometheus exposition listen address
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9102"`

	// MaxRestarts bounds restart-from-checkpoint attempts before giving up
	MaxRestarts int `env:"MAX_RESTARTS" envDefault:"3"`

	// Source configuration
	Source source.Config `envPrefix:""`

	// Extract configuration
	Extract extract.Config `envPrefix:""`

	// Dedup configuration
	Dedup dedup.Config `envPrefix:""`

	// Sink configuration
	Sink sink.Config `envPrefix:""`

	// Checkpoint configuration
	Checkpoint checkpoint.Config `envPrefix:""`

	// Pipeline configuration
	Pipeline pipeline.Config `envPrefix:""`
}

func main() {
	// Load configuration from environment
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Error("failed to parse config", "error", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	logger.Info("starting stream archiver",
		"job", cfg.JobName,
		"input_stream", cfg.Source.Stream,
		"start_position", cfg.Source.StartPosition,
		"end_position", cfg.Source.EndPosition,
		"output_path", cfg.Sink.OutputPath,
		"parallelism", cfg.Pipeline.Parallelism,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Setup observability
	obs, err := observability.New(cfg.JobName)
	if err != nil {
		logger.Error("failed to create observability module", "error", err)
		os.Exit(1)
	}
	defer obs.Shutdown(context.Background())

	metrics, err := observability.NewMetrics(obs.Meter())
	if err != nil {
		logger.Error("failed to create metrics", "error", err)
		os.Exit(1)
	}

	obs.ServeMetrics(cfg.MetricsAddr, logger)

	// Connect to NATS
	client, err := source.NewClient(ctx, cfg.Source, logger)
	if err != nil {
		logger.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := client.Drain(); err != nil {
			logger.Warn("failed to drain NATS connection", "error", err)
			client.Close()
		}
	}()

	if err := client.HealthCheck(ctx); err != nil {
		logger.Error("NATS health check failed", "error", err)
		os.Exit(1)
	}

	// Optionally provision the input stream (dev convenience)
	if cfg.Source.Provision.Create {
		mgr := source.NewStreamManager(client.JetStream(), cfg.Source.Stream, cfg.Source.Provision, logger)
		if _, err := mgr.EnsureStream(ctx); err != nil {
			logger.Error("failed to ensure stream", "error", err)
			os.Exit(1)
		}
	}

	stream, err := client.JetStream().Stream(ctx, cfg.Source.Stream)
	if err != nil {
		logger.Error("input stream not available", "stream", cfg.Source.Stream, "error", err)
		os.Exit(1)
	}

	// Resolve the read range exactly once, before anything starts
	rng, err := source.ResolveRange(ctx, stream, cfg.Source.StartPosition, cfg.Source.EndPosition)
	if err != nil {
		logger.Error("failed to resolve range", "error", err)
		os.Exit(1)
	}
	logger.Info("resolved range", "range", rng)

	// Open the checkpoint database
	ckptDir := cfg.Checkpoint.Path
	if ckptDir == "" {
		ckptDir = filepath.Join(cfg.Sink.OutputPath, ".checkpoints")
	}
	if err := os.MkdirAll(ckptDir, 0o755); err != nil {
		logger.Error("failed to create checkpoint directory", "error", err)
		os.Exit(1)
	}
	db, err := state.Open(filepath.Join(ckptDir, cfg.JobName+".db"))
	if err != nil {
		logger.Error("failed to open checkpoint database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Pick the segment backend
	var backend sink.Backend
	if cfg.Sink.S3.Enabled {
		s3Client, err := sink.NewS3Client(ctx, cfg.Sink.S3, logger)
		if err != nil {
			logger.Error("failed to create S3 client", "error", err)
			os.Exit(1)
		}
		if err := s3Client.EnsureBucket(ctx); err != nil {
			logger.Error("failed to ensure bucket", "error", err)
			os.Exit(1)
		}
		if err := s3Client.HealthCheck(ctx); err != nil {
			logger.Error("S3 health check failed", "error", err)
			os.Exit(1)
		}
		backend = sink.NewS3Backend(s3Client, logger)
	} else {
		backend = sink.NewLocalBackend(cfg.Sink.OutputPath, logger)
	}

	ckpt := checkpoint.New(db, backend, cfg.Sink.OutputPath, metrics, logger)
	reader := source.NewReader(stream, rng, cfg.Source, logger)
	pipe := pipeline.New(
		cfg.Pipeline,
		cfg.Checkpoint.Interval,
		reader,
		extract.New(cfg.Extract),
		cfg.Dedup,
		cfg.Sink.OutputPath,
		backend,
		ckpt,
		metrics,
		logger,
	)

	// Run, restarting from the last checkpoint on recoverable failures
	attempts := 0
	for {
		err := pipe.Run(ctx)
		if err == nil {
			logger.Info("job completed", "job", cfg.JobName)
			return
		}
		if ctx.Err() != nil {
			// Explicit stop; committed output is consistent.
			logger.Info("job stopped", "job", cfg.JobName)
			return
		}
		if pipeline.IsFatal(err) {
			logger.Error("job failed", "error", err)
			os.Exit(1)
		}
		attempts++
		if attempts > cfg.MaxRestarts {
			logger.Error("restarts exhausted", "attempts", attempts, "error", err)
			os.Exit(1)
		}
		metrics.PipelineRestarts.Add(ctx, 1)
		logger.Warn("restarting from last checkpoint",
			"attempt", attempts,
			"max_restarts", cfg.MaxRestarts,
			"error", err,
		)
		time.Sleep(time.Second)
	}
}

// setupLogger creates a logger based on configuration.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
