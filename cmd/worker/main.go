// Package main provides the entrypoint for the sitewatch background worker.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/xcelerate/sitewatch/internal/database"
	"github.com/xcelerate/sitewatch/internal/imagery"
	"github.com/xcelerate/sitewatch/internal/imagery/sentinelhub"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
	"github.com/xcelerate/sitewatch/internal/report"
	"github.com/xcelerate/sitewatch/internal/site"
	"github.com/xcelerate/sitewatch/internal/telemetry"
	"github.com/xcelerate/sitewatch/internal/timeline"
	"github.com/xcelerate/sitewatch/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "sitewatch-worker"

	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().Str("build_time", BuildTime).Msg("starting sitewatch worker")

	projectID := os.Getenv("PUBSUB_PROJECT_ID")
	subscription := os.Getenv("PUBSUB_SUBSCRIPTION")
	if projectID == "" || subscription == "" {
		log.Fatal().Msg("PUBSUB_PROJECT_ID and PUBSUB_SUBSCRIPTION are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Init(ctx, telemetry.ConfigFromEnv(serviceName, Version, getEnvOrDefault("APP_ENV", "development")))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	var reportRepo report.Repository = report.NewInMemoryRepository()
	if dbConfig := database.ConfigFromEnv(); dbConfig.Enabled() {
		pool, dbErr := database.Connect(ctx, dbConfig)
		if dbErr != nil {
			log.Fatal().Err(dbErr).Msg("failed to connect to database")
		}
		defer pool.Close()
		reportRepo = report.NewPostgresRepository(pool)
	} else {
		log.Warn().Msg("database not configured - reports created by jobs are not persisted")
	}

	var tileCache imagery.TileCache = imagery.NewMemoryTileCache(0)
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisDB, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()
		tileCache = imagery.NewRedisTileCache(rdb)
	} else {
		log.Warn().Msg("REDIS_ADDR not set - prefetched tiles are not shared with the API")
	}

	shConfig := sentinelhub.ConfigFromEnv()
	shConfig.Registry = resilience.NewRegistry()
	shConfig.Logger = log
	var tiles timeline.TileGetter
	if shConfig.Configured() {
		tiles = imagery.NewService(imagery.ServiceConfig{
			Provider:     sentinelhub.NewClient(shConfig),
			ProviderName: sentinelhub.ProviderName,
			Cache:        tileCache,
			Logger:       log,
		})
	} else {
		log.Warn().Msg("Sentinel Hub not configured - prefetch jobs are acked without fetching")
	}
	timelines := timeline.NewGenerator(timeline.Config{
		Tiles:  tiles,
		Logger: log,
	})

	sites, err := site.Load(getEnvOrDefault("SITES_FILE", "configs/sites.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load site catalog")
	}

	prefetch := worker.NewPrefetchJob(worker.PrefetchJobConfig{
		Config:   worker.DefaultPrefetchConfig(),
		Timeline: timelines,
		Logger:   log,
	})
	// Without imagery, prefetch messages settle as not configured.
	var dispatchPrefetch *worker.PrefetchJob
	if tiles != nil {
		dispatchPrefetch = prefetch
	}
	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		Reports: report.NewService(report.ServiceConfig{
			Repository: reportRepo,
			Logger:     log,
		}),
		Prefetch: dispatchPrefetch,
		Sites:    sites,
		Logger:   log,
	})

	handler, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
		ProjectID:        projectID,
		SubscriptionName: subscription,
		Dispatcher:       dispatcher,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create pubsub handler")
	}
	defer func() { _ = handler.Close() }()

	// The worker exposes a health endpoint for its container platform.
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		m := prefetch.Metrics()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"status":           "healthy",
			"version":          Version,
			"prefetch_runs":    m.Runs,
			"tiles_warmed":     m.TilesWarmed,
			"last_prefetch_at": m.LastRunAt,
		})
	})
	server := &http.Server{
		Addr:         ":" + getEnvOrDefault("APP_PORT", "8080"),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("health server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return handler.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down worker")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker stopped with error")
		return
	}
	log.Info().Msg("worker stopped")
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
