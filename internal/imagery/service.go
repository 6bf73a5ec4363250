package imagery

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// MetricsRecorder receives provider call and cache outcomes.
type MetricsRecorder interface {
	RecordRequest(provider, operation string, duration time.Duration, err error)
	RecordCacheHit(provider, operation string)
	RecordCacheMiss(provider, operation string)
}

// ServiceConfig holds configuration for the imagery service.
type ServiceConfig struct {
	// Provider fetches tiles on cache misses.
	Provider Provider

	// ProviderName labels metrics (default: "imagery").
	ProviderName string

	// Cache stores fetched tiles. Defaults to a MemoryTileCache.
	Cache TileCache

	// CacheTTL is how long a tile stays cached (default: 7 days).
	CacheTTL time.Duration

	// Metrics is optional.
	Metrics MetricsRecorder

	Logger zerolog.Logger
}

// Service serves tiles from cache, falling back to the provider.
type Service struct {
	provider     Provider
	providerName string
	cache        TileCache
	cacheTTL     time.Duration
	metrics      MetricsRecorder
	logger       zerolog.Logger
}

// NewService creates a new imagery service.
func NewService(cfg ServiceConfig) *Service {
	cache := cfg.Cache
	if cache == nil {
		cache = NewMemoryTileCache(0)
	}
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 7 * 24 * time.Hour
	}
	name := cfg.ProviderName
	if name == "" {
		name = "imagery"
	}

	return &Service{
		provider:     cfg.Provider,
		providerName: name,
		cache:        cache,
		cacheTTL:     ttl,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// GetTile returns the tile for req. Cache errors are logged and treated as
// misses; provider errors are returned unchanged and never cached.
func (s *Service) GetTile(ctx context.Context, req TileRequest) (*Tile, error) {
	req = req.Normalize()
	key := req.CacheKey()

	tile, err := s.cache.Get(ctx, key)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("tile cache read failed")
	}
	if tile != nil {
		if s.metrics != nil {
			s.metrics.RecordCacheHit(s.providerName, "tile")
		}
		return tile, nil
	}
	if s.metrics != nil {
		s.metrics.RecordCacheMiss(s.providerName, "tile")
	}

	start := time.Now()
	tile, err = s.provider.FetchTile(ctx, req)
	if s.metrics != nil {
		s.metrics.RecordRequest(s.providerName, "tile", time.Since(start), err)
	}
	if err != nil {
		return nil, err
	}
	if tile.CacheMaxAge < DefaultCacheMaxAge {
		tile.CacheMaxAge = DefaultCacheMaxAge
	}

	if err := s.cache.Set(ctx, key, tile, s.cacheTTL); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("tile cache write failed")
	}

	s.logger.Debug().
		Str("key", key).
		Int("bytes", len(tile.Data)).
		Dur("duration", time.Since(start)).
		Msg("fetched tile")

	return tile, nil
}
