// Package api wires the sitewatch HTTP API.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/xcelerate/sitewatch/internal/api/handler"
	"github.com/xcelerate/sitewatch/internal/api/middleware"
	"github.com/xcelerate/sitewatch/internal/provider/resilience"
	"github.com/xcelerate/sitewatch/internal/site"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	RequireTLS  bool
	Metrics     *middleware.Metrics

	// TokenValidator guards report-writing endpoints.
	TokenValidator middleware.TokenValidator

	Tiles    handler.TileGetter
	Timeline handler.TimelineGenerator
	Risk     handler.RiskAssessor
	Reports  handler.ReportService
	Sites    *site.Catalog
	Checker  handler.SiteChecker

	Registry *resilience.Registry
	Checks   []handler.DependencyCheck
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "sitewatch-api"
	}
	sites := cfg.Sites
	if sites == nil {
		sites, _ = site.NewCatalog(nil)
	}

	// Order matters: the request ID must exist before tracing and logging read it.
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.RequireTLS(cfg.RequireTLS))
	r.Use(middleware.RequireJSON)

	opsHandler := handler.NewOpsHandler(cfg.Version, cfg.BuildTime, cfg.Registry, cfg.Checks...)
	geometryHandler := handler.NewGeometryHandler(cfg.Logger)
	imageryHandler := handler.NewImageryHandler(cfg.Tiles, cfg.Logger)
	timelineHandler := handler.NewTimelineHandler(cfg.Timeline, cfg.Logger)
	riskHandler := handler.NewRiskHandler(cfg.Risk, cfg.Logger)
	reportHandler := handler.NewReportHandler(cfg.Reports, cfg.Logger)
	siteHandler := handler.NewSiteHandler(sites, cfg.Checker, cfg.Reports, cfg.Logger)

	authMiddleware := middleware.Auth(cfg.TokenValidator)
	writeRateLimit := middleware.RateLimitByUser(middleware.WriteRateLimit)
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		r.With(standardRateLimit).Post("/geometry/bbox", geometryHandler.BoundingBox)

		// The dashboard loads twelve tiles per timeline, so tiles get their own budget.
		r.With(middleware.RateLimitByIP(middleware.TileRateLimit)).Get("/imagery/tile", imageryHandler.Tile)
		r.With(standardRateLimit).Post("/timeline", timelineHandler.Build)
		r.With(middleware.RateLimitByIP(middleware.ExpensiveRateLimit)).Post("/risk:scan", riskHandler.Scan)

		r.Route("/reports", func(r chi.Router) {
			r.With(standardRateLimit).Get("/", reportHandler.List)
			r.With(authMiddleware, writeRateLimit).Post("/", reportHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.With(standardRateLimit).Get("/", reportHandler.Get)
				r.With(middleware.RateLimitByIP(middleware.ExpensiveRateLimit)).Get("/view", reportHandler.View)
				r.With(authMiddleware, writeRateLimit).Patch("/status", reportHandler.UpdateStatus)
			})
		})

		r.Route("/sites", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", siteHandler.List)
			r.Get("/{name}", siteHandler.Get)
			r.With(authMiddleware, writeRateLimit).Post("/{name}/check", siteHandler.Check)
		})
	})

	return r
}
