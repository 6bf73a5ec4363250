package imagery

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TileCache stores tiles by TileRequest.CacheKey.
// Get returns (nil, nil) on a miss.
type TileCache interface {
	Get(ctx context.Context, key string) (*Tile, error)
	Set(ctx context.Context, key string, tile *Tile, ttl time.Duration) error
}

// MemoryTileCache is a size-bounded LRU cache with per-entry expiry.
type MemoryTileCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
	now      func() time.Time
}

type memoryEntry struct {
	key       string
	tile      *Tile
	expiresAt time.Time
}

// NewMemoryTileCache creates an in-process cache holding at most capacity tiles.
func NewMemoryTileCache(capacity int) *MemoryTileCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryTileCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
		now:      time.Now,
	}
}

// Get returns a cached tile, or nil when absent or expired.
func (c *MemoryTileCache) Get(_ context.Context, key string) (*Tile, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, nil
	}
	entry := el.Value.(*memoryEntry)
	if !c.now().Before(entry.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, nil
	}
	c.order.MoveToFront(el)
	return entry.tile, nil
}

// Set stores a tile, evicting the least recently used entry when full.
func (c *MemoryTileCache) Set(_ context.Context, key string, tile *Tile, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*memoryEntry)
		entry.tile = tile
		entry.expiresAt = expiresAt
		c.order.MoveToFront(el)
		return nil
	}

	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, tile: tile, expiresAt: expiresAt})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*memoryEntry).key)
	}
	return nil
}

// Len returns the number of cached entries, expired ones included.
func (c *MemoryTileCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// RedisTileCache stores tiles in Redis hashes under "tile:<key>".
type RedisTileCache struct {
	rdb *redis.Client
}

// NewRedisTileCache wraps an existing Redis client.
func NewRedisTileCache(rdb *redis.Client) *RedisTileCache {
	return &RedisTileCache{rdb: rdb}
}

// RedisKey returns the Redis key used for a cache key.
func RedisKey(key string) string {
	return "tile:" + key
}

// Get reads a tile hash.
func (c *RedisTileCache) Get(ctx context.Context, key string) (*Tile, error) {
	vals, err := c.rdb.HGetAll(ctx, RedisKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	data, ok := vals["data"]
	if !ok {
		return nil, nil
	}

	maxAge := DefaultCacheMaxAge
	if v, ok := vals["max_age"]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			maxAge = d
		}
	}

	return &Tile{
		Data:        []byte(data),
		ContentType: vals["content_type"],
		CacheMaxAge: maxAge,
	}, nil
}

// Set writes a tile hash and its expiry in one transaction.
func (c *RedisTileCache) Set(ctx context.Context, key string, tile *Tile, ttl time.Duration) error {
	k := RedisKey(key)
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k,
			"data", tile.Data,
			"content_type", tile.ContentType,
			"max_age", tile.CacheMaxAge.String(),
		)
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	return err
}

// Ping checks the Redis connection. Used by the readiness probe.
func (c *RedisTileCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}
