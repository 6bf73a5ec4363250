package imagery_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xcelerate/sitewatch/internal/geometry"
	"github.com/xcelerate/sitewatch/internal/imagery"
)

// mockProvider is a test double for imagery.Provider.
type mockProvider struct {
	mu       sync.Mutex
	calls    int
	requests []imagery.TileRequest
	tile     *imagery.Tile
	err      error
}

func (m *mockProvider) FetchTile(_ context.Context, req imagery.TileRequest) (*imagery.Tile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	t := *m.tile
	return &t, nil
}

func (m *mockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// failingCache errors on every call.
type failingCache struct{}

func (failingCache) Get(context.Context, string) (*imagery.Tile, error) {
	return nil, errors.New("connection refused")
}

func (failingCache) Set(context.Context, string, *imagery.Tile, time.Duration) error {
	return errors.New("connection refused")
}

var box = geometry.BoundingBox{MinLat: 22.5, MaxLat: 22.52, MinLng: 83.85, MaxLng: 83.86}

func TestService_CachesTiles(t *testing.T) {
	provider := &mockProvider{tile: &imagery.Tile{Data: []byte("jpeg"), ContentType: "image/jpeg"}}
	svc := imagery.NewService(imagery.ServiceConfig{Provider: provider, Logger: zerolog.Nop()})

	req := imagery.TileRequest{BBox: box, TimeRange: imagery.MonthWindow(2024, time.May)}

	first, err := svc.GetTile(context.Background(), req)
	require.NoError(t, err)
	second, err := svc.GetTile(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, provider.Calls(), "second call should be served from cache")
	assert.Equal(t, imagery.DefaultCacheMaxAge, first.CacheMaxAge)

	// Options are normalized before reaching the provider.
	assert.Equal(t, imagery.DefaultOptions(), provider.requests[0].Options)
}

func TestService_DifferentWindowsAreDifferentTiles(t *testing.T) {
	provider := &mockProvider{tile: &imagery.Tile{Data: []byte("jpeg")}}
	svc := imagery.NewService(imagery.ServiceConfig{Provider: provider, Logger: zerolog.Nop()})

	for _, m := range []time.Month{time.January, time.February} {
		_, err := svc.GetTile(context.Background(), imagery.TileRequest{BBox: box, TimeRange: imagery.MonthWindow(2024, m)})
		require.NoError(t, err)
	}
	assert.Equal(t, 2, provider.Calls())
}

func TestService_ErrorsAreNotCached(t *testing.T) {
	provider := &mockProvider{err: &imagery.UnavailableError{StatusCode: 503, ProviderBody: "busy"}}
	svc := imagery.NewService(imagery.ServiceConfig{Provider: provider, Logger: zerolog.Nop()})
	req := imagery.TileRequest{BBox: box, TimeRange: imagery.MonthWindow(2024, time.May)}

	_, err := svc.GetTile(context.Background(), req)
	var unavailable *imagery.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, 503, unavailable.StatusCode)

	_, err = svc.GetTile(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, 2, provider.Calls())
}

func TestService_CacheFailureFallsThroughToProvider(t *testing.T) {
	provider := &mockProvider{tile: &imagery.Tile{Data: []byte("jpeg")}}
	svc := imagery.NewService(imagery.ServiceConfig{
		Provider: provider,
		Cache:    failingCache{},
		Logger:   zerolog.Nop(),
	})

	tile, err := svc.GetTile(context.Background(), imagery.TileRequest{BBox: box, TimeRange: imagery.MonthWindow(2024, time.May)})
	require.NoError(t, err)
	assert.Equal(t, []byte("jpeg"), tile.Data)
}

func TestMemoryTileCache_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	cache := imagery.NewMemoryTileCache(2)

	require.NoError(t, cache.Set(ctx, "a", &imagery.Tile{Data: []byte("a")}, time.Hour))
	require.NoError(t, cache.Set(ctx, "b", &imagery.Tile{Data: []byte("b")}, time.Hour))

	// Touch a so that b becomes the eviction candidate.
	got, _ := cache.Get(ctx, "a")
	require.NotNil(t, got)

	require.NoError(t, cache.Set(ctx, "c", &imagery.Tile{Data: []byte("c")}, time.Hour))
	assert.Equal(t, 2, cache.Len())

	got, _ = cache.Get(ctx, "b")
	assert.Nil(t, got)
	got, _ = cache.Get(ctx, "a")
	assert.NotNil(t, got)
	got, _ = cache.Get(ctx, "c")
	assert.NotNil(t, got)
}

func TestMemoryTileCache_Expiry(t *testing.T) {
	ctx := context.Background()
	cache := imagery.NewMemoryTileCache(4)

	require.NoError(t, cache.Set(ctx, "k", &imagery.Tile{Data: []byte("x")}, -time.Second))
	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Zero(t, cache.Len())
}

func TestTileRequest_CacheKey(t *testing.T) {
	req := imagery.TileRequest{BBox: box, TimeRange: imagery.MonthWindow(2024, time.May)}

	assert.Equal(t,
		"83.85,22.5,83.86,22.52|2024-05-01/2024-05-28|TRUE-COLOR-L2A|20|512x512|image/jpeg",
		req.CacheKey())

	// Explicit defaults and zero options share a key.
	req2 := req
	req2.Options = imagery.DefaultOptions()
	assert.Equal(t, req.CacheKey(), req2.CacheKey())

	cloudFree := req
	cloudFree.Options = imagery.Options{MaxCloudCover: imagery.CloudCover(0)}
	assert.Equal(t,
		"83.85,22.5,83.86,22.52|2024-05-01/2024-05-28|TRUE-COLOR-L2A|0|512x512|image/jpeg",
		cloudFree.CacheKey())
}

func TestParseTimeRange(t *testing.T) {
	r, err := imagery.ParseTimeRange("2024-02-01/2024-02-28")
	require.NoError(t, err)
	assert.Equal(t, imagery.MonthWindow(2024, time.February), r)
	assert.Equal(t, "2024-02-01/2024-02-28", r.String())

	for _, s := range []string{"", "2024-02-01", "2024-02-28/2024-02-01", "x/y"} {
		_, err := imagery.ParseTimeRange(s)
		assert.ErrorIs(t, err, imagery.ErrInvalidTimeRange, "input %q", s)
	}
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "tile:abc", imagery.RedisKey("abc"))
}
