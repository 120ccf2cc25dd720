package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/needmap-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/needmap-service/internal/adapter/kafka"
	"github.com/couchcryptid/needmap-service/internal/adapter/mapbox"
	"github.com/couchcryptid/needmap-service/internal/adapter/postgres"
	"github.com/couchcryptid/needmap-service/internal/adapter/provider"
	"github.com/couchcryptid/needmap-service/internal/catalog"
	"github.com/couchcryptid/needmap-service/internal/config"
	"github.com/couchcryptid/needmap-service/internal/observability"
	"github.com/couchcryptid/needmap-service/internal/pipeline"
	"github.com/couchcryptid/needmap-service/internal/scoring"
	"github.com/couchcryptid/needmap-service/internal/store"
	"github.com/jonboulle/clockwork"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Geocoding of address-only provider records (feature-flagged via
	// MAPBOX_ENABLED / MAPBOX_TOKEN).
	var feedOpts []provider.FeedOption
	if cfg.MapboxEnabled {
		client := mapbox.NewClient(cfg.MapboxToken, cfg.MapboxTimeout, logger, metrics)
		feedOpts = append(feedOpts, provider.WithGeocoder(mapbox.NewCachedGeocoder(client, cfg.MapboxCacheSize, metrics)))
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.MapboxCacheSize, "timeout", cfg.MapboxTimeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	// Catalog of provider feeds, in configured priority order.
	feeds, err := provider.NewFeeds(cfg.Sources, cfg.SourceTimeout, logger, metrics, feedOpts...)
	if err != nil {
		logger.Error("failed to configure sources", "error", err)
		os.Exit(1)
	}
	if len(feeds) == 0 {
		logger.Warn("no SOURCES configured, catalog will be empty")
	}
	sources := make([]catalog.Source, len(feeds))
	for i, f := range feeds {
		sources[i] = f
	}
	cat := catalog.New(sources, logger, metrics,
		catalog.WithTTL(cfg.CatalogTTL),
		catalog.WithSourceTimeout(cfg.SourceTimeout),
		catalog.WithDedupPrecision(cfg.DedupPrecision),
	)

	// Observation store.
	checkers := []httpadapter.ReadinessChecker{cat}
	var obsStore store.Store
	var pg *postgres.Store
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pg, err = postgres.Connect(ctx, cfg.PostgresDSN, clock, cfg.ObservationRetention)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		obsStore = pg
		checkers = append(checkers, pg)
		logger.Info("observation store", "backend", "postgres")
	default:
		obsStore = store.NewMemory(clock, cfg.ObservationRetention)
		logger.Info("observation store", "backend", "memory", "retention", cfg.ObservationRetention)
	}

	// Optional Kafka ingest and fan-out.
	var reader *kafkaadapter.Reader
	var writer *kafkaadapter.Writer
	var p *pipeline.Pipeline
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger)
		obsStore = store.NewPublishingStore(obsStore, writer, logger)

		reader = kafkaadapter.NewReader(cfg, logger)
		p = pipeline.New(reader, pipeline.NewTransformer(metrics), pipeline.NewStoreLoader(obsStore, metrics),
			logger, metrics, cfg.BatchSize)
		checkers = append(checkers, p)
		logger.Info("kafka ingest enabled", "source_topic", cfg.KafkaSourceTopic, "sink_topic", cfg.KafkaSinkTopic)
	} else {
		logger.Info("kafka ingest disabled")
	}

	params := scoring.DefaultParams()
	params.GridStep = cfg.GridStepDegrees
	params.Radius = cfg.DensityRadiusDegrees
	params.Threshold = cfg.NeedThreshold
	params.MaxResults = cfg.MaxRecommendations
	scorer := scoring.NewScorer(params, cfg.ScoringWorkers, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.API{
		Catalog:   cat,
		Store:     obsStore,
		Scorer:    scorer,
		HexCellKm: cfg.HexCellKm,
	}, httpadapter.AllReady(checkers...), logger, metrics)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Warm the catalog so the first request does not pay for the fan-out.
	go func() {
		snap, err := cat.Get(ctx)
		if err != nil {
			logger.Warn("catalog warm-up failed", "error", err)
			return
		}
		logger.Info("catalog warmed", "resources", len(snap.Results), "sources", snap.Sources)
	}()

	// Start ingest pipeline.
	if p != nil {
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if pg != nil {
		pg.Close()
	}

	logger.Info("shutdown complete")
}
