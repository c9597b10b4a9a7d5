package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	fileadapter "github.com/couchcryptid/me-compute/internal/adapter/file"
	httpadapter "github.com/couchcryptid/me-compute/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/me-compute/internal/adapter/kafka"
	"github.com/couchcryptid/me-compute/internal/adapter/multi"
	"github.com/couchcryptid/me-compute/internal/adapter/scorer"
	"github.com/couchcryptid/me-compute/internal/adapter/sqlstore"
	"github.com/couchcryptid/me-compute/internal/aggregate"
	"github.com/couchcryptid/me-compute/internal/config"
	"github.com/couchcryptid/me-compute/internal/estimator"
	"github.com/couchcryptid/me-compute/internal/observability"
	"github.com/couchcryptid/me-compute/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return 1
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	proc, err := config.LoadProcess(cfg.ProcessConfigPath)
	if err != nil {
		logger.Error("failed to load processing config", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Anomaly scoring is feature-flagged via SCORER_ENABLED / SCORER_URL.
	var anomalyScorer estimator.AnomalyScorer
	if cfg.ScorerEnabled {
		client := scorer.NewClient(cfg.ScorerURL, cfg.ScorerTimeout, metrics, logger)
		anomalyScorer = scorer.NewCachedScorer(client, cfg.ScorerCacheSize, metrics)
		metrics.ScorerEnabled.Set(1)
		logger.Info("anomaly scoring enabled", "cache_size", cfg.ScorerCacheSize, "timeout", cfg.ScorerTimeout)
	} else {
		logger.Info("anomaly scoring disabled")
	}

	est, err := estimator.New(proc.EstimatorConfig(), anomalyScorer)
	if err != nil {
		logger.Error("failed to create estimator", "error", err)
		return 1
	}
	agg := aggregate.New(proc.Strategy(), proc.Aggregate.Rounding, logger)

	extractor, closeExtractor, err := newExtractor(cfg, logger)
	if err != nil {
		logger.Error("failed to open source", "error", err)
		return 1
	}
	defer closeExtractor()

	loader, store, err := newLoader(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open sinks", "error", err)
		return 1
	}
	defer func() {
		if err := loader.Close(); err != nil {
			logger.Error("sink close error", "error", err)
		}
	}()

	p := pipeline.New(extractor, est, agg, loader, logger, metrics, pipeline.Options{
		BatchSize:    cfg.BatchSize,
		Workers:      cfg.Workers,
		EventTimeout: cfg.EventTimeout,
	})

	var events httpadapter.EventStore
	if store != nil {
		events = store
	}
	srv := httpadapter.NewServer(cfg.HTTPAddr, p, events, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Run the pipeline in the foreground; a file source ends on its own.
	code := 0
	if err := p.Run(ctx); err != nil {
		logger.Error("pipeline error", "error", err)
		code = 1
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return code
}

func newExtractor(cfg *config.Config, logger *slog.Logger) (pipeline.BatchExtractor, func(), error) {
	var (
		extractor pipeline.BatchExtractor
		closer    io.Closer
	)
	switch cfg.Source {
	case config.SourceFile:
		ext, err := fileadapter.NewExtractor(cfg.InputPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("reading waveforms from file", "path", cfg.InputPath)
		extractor, closer = ext, ext
	default:
		reader := kafkaadapter.NewReader(cfg, logger)
		extractor, closer = reader, reader
	}
	return extractor, func() {
		if err := closer.Close(); err != nil {
			logger.Error("source close error", "error", err)
		}
	}, nil
}

// newLoader opens every configured sink. The SQL store is also returned so
// the HTTP server can serve stored events.
func newLoader(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*multi.Loader, *sqlstore.Store, error) {
	var loaders []multi.BatchLoader
	fail := func(err error) (*multi.Loader, *sqlstore.Store, error) {
		return nil, nil, errors.Join(err, multi.New(loaders...).Close())
	}

	if cfg.KafkaSinkEnabled {
		loaders = append(loaders, kafkaadapter.NewWriter(cfg, logger))
	}
	if cfg.OutputDir != "" {
		csvLoader, err := fileadapter.NewLoader(cfg.OutputDir)
		if err != nil {
			return fail(err)
		}
		loaders = append(loaders, csvLoader)
		logger.Info("writing CSV outputs", "dir", cfg.OutputDir)
	}
	var store *sqlstore.Store
	if cfg.DBDSN != "" {
		var err error
		store, err = sqlstore.Open(ctx, cfg.DBDriver, cfg.DBDSN, logger)
		if err != nil {
			return fail(err)
		}
		loaders = append(loaders, store)
	}

	if len(loaders) == 0 {
		return fail(errors.New("no sink configured: set KAFKA_BROKERS, OUTPUT_DIR or DB_DSN"))
	}
	return multi.New(loaders...), store, nil
}
