// Package main provides the entrypoint for the sitewatch API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/analysis"
	"github.com/xcelerate/sitewatch/internal/api"
	"github.com/xcelerate/sitewatch/internal/api/handler"
	"github.com/xcelerate/sitewatch/internal/api/middleware"
	"github.com/xcelerate/sitewatch/internal/auth"
	"github.com/xcelerate/sitewatch/internal/database"
	"github.com/xcelerate/sitewatch/internal/imagery"
	"github.com/xcelerate/sitewatch/internal/imagery/sentinelhub"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
	"github.com/xcelerate/sitewatch/internal/report"
	"github.com/xcelerate/sitewatch/internal/risk"
	"github.com/xcelerate/sitewatch/internal/risk/overpass"
	"github.com/xcelerate/sitewatch/internal/site"
	"github.com/xcelerate/sitewatch/internal/telemetry"
	"github.com/xcelerate/sitewatch/internal/timeline"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "sitewatch-api"

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting sitewatch API")

	port := getEnvOrDefault("APP_PORT", "8080")
	env := getEnvOrDefault("APP_ENV", "development")

	ctx := context.Background()

	telemetryCfg := telemetry.ConfigFromEnv(serviceName, Version, env)
	tp, err := telemetry.Init(ctx, telemetryCfg)
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
	if telemetryCfg.Enabled {
		log.Info().
			Str("otlp_endpoint", telemetryCfg.OTLPEndpoint).
			Float64("sample_ratio", telemetryCfg.SampleRatio).
			Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	providerMetrics, err := middleware.NewProviderMetrics()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize provider metrics")
	}

	registry := resilience.NewRegistry()
	var checks []handler.DependencyCheck

	// Tile cache: Redis when configured, otherwise in-process.
	var tileCache imagery.TileCache = imagery.NewMemoryTileCache(0)
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisDB, _ := strconv.Atoi(getEnvOrDefault("REDIS_DB", "0"))
		rdb := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		})
		defer func() { _ = rdb.Close() }()

		redisCache := imagery.NewRedisTileCache(rdb)
		tileCache = redisCache
		checks = append(checks, handler.DependencyCheck{Name: "redis", Check: redisCache.Ping})
		log.Info().Str("addr", addr).Msg("redis tile cache configured")
	} else {
		log.Warn().Msg("REDIS_ADDR not set - tiles cached in memory")
	}

	// Report store: PostgreSQL when configured, otherwise in-memory.
	var reportRepo report.Repository = report.NewInMemoryRepository()
	dbConfig := database.ConfigFromEnv()
	if dbConfig.Enabled() {
		pool, dbErr := database.Connect(ctx, dbConfig)
		if dbErr != nil {
			log.Fatal().Err(dbErr).Msg("failed to connect to database")
		}
		defer pool.Close()

		pgRepo := report.NewPostgresRepository(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to ensure report schema")
		}
		reportRepo = pgRepo
		checks = append(checks, handler.DependencyCheck{Name: "database", Check: pingPool(pool)})
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")
	} else {
		log.Warn().Msg("database not configured - reports are kept in memory")
	}

	// Imagery: Sentinel Hub behind the tile cache.
	shConfig := sentinelhub.ConfigFromEnv()
	if !shConfig.Configured() {
		log.Warn().Msg("Sentinel Hub not configured - timelines will use fallback imagery")
	}
	shConfig.Registry = registry
	shConfig.Logger = log
	tiles := imagery.NewService(imagery.ServiceConfig{
		Provider:     sentinelhub.NewClient(shConfig),
		ProviderName: sentinelhub.ProviderName,
		Cache:        tileCache,
		Metrics:      providerMetrics,
		Logger:       log,
	})

	// Unconfigured imagery skips tile fetches so timelines go straight to fallback.
	var timelineTiles timeline.TileGetter
	if shConfig.Configured() {
		timelineTiles = tiles
	}
	timelines := timeline.NewGenerator(timeline.Config{
		Tiles:       timelineTiles,
		TileBaseURL: getEnvOrDefault("TILE_BASE_URL", "/v1/imagery/tile"),
		Logger:      log,
	})

	scanner := risk.NewScanner(risk.ScannerConfig{
		Source: overpass.NewClient(overpass.ClientConfig{
			URL:      os.Getenv("OVERPASS_URL"),
			Registry: registry,
		}),
		SourceName: overpass.ProviderName,
		Metrics:    providerMetrics,
		Logger:     log,
	})

	sites, err := site.Load(getEnvOrDefault("SITES_FILE", "configs/sites.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load site catalog")
	}
	log.Info().Int("sites", sites.Len()).Msg("site catalog loaded")

	reports := report.NewService(report.ServiceConfig{
		Repository: reportRepo,
		Timeline:   timelines,
		Risk:       scanner,
		Sites:      sites,
		Logger:     log,
	})

	var checker handler.SiteChecker
	if aiURL := os.Getenv("AI_SERVICE_URL"); aiURL != "" {
		checker = analysis.NewClient(analysis.ClientConfig{
			BaseURL:  aiURL,
			Registry: registry,
			Logger:   log,
		})
	} else {
		log.Warn().Msg("AI_SERVICE_URL not set - site checks are disabled")
	}

	var validator middleware.TokenValidator
	if key := os.Getenv("JWT_SIGNING_KEY"); key != "" {
		validator = auth.NewJWTService(auth.JWTConfig{
			SigningKey: key,
			Issuer:     getEnvOrDefault("JWT_ISSUER", "https://sitewatch.example.com"),
			Audience:   getEnvOrDefault("JWT_AUDIENCE", serviceName),
		})
	} else {
		log.Warn().Msg("JWT_SIGNING_KEY not set - report writes are rejected")
	}

	router := api.NewRouter(api.RouterConfig{
		Version:        Version,
		BuildTime:      BuildTime,
		Logger:         log,
		ServiceName:    serviceName,
		RequireTLS:     getEnvOrDefault("REQUIRE_TLS", "false") == "true",
		Metrics:        metrics,
		TokenValidator: validator,
		Tiles:          tiles,
		Timeline:       timelines,
		Risk:           scanner,
		Reports:        reports,
		Sites:          sites,
		Checker:        checker,
		Registry:       registry,
		Checks:         checks,
	})

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return
	}

	log.Info().Msg("server stopped")
}

func pingPool(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error { return pool.Ping(ctx) }
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
