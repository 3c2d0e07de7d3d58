package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"granix/internal/metrics"
	"granix/internal/model"
)

// Cache stores lookup results, including misses (nil point).
type Cache interface {
	Get(ctx context.Context, key string) (pt *model.GeoPoint, found bool, err error)
	Set(ctx context.Context, key string, pt *model.GeoPoint) error
}

// CachedGeocoder serves repeated queries from a Cache.
type CachedGeocoder struct {
	next  Geocoder
	cache Cache
	log   *zap.Logger
}

func NewCachedGeocoder(next Geocoder, cache Cache, log *zap.Logger) *CachedGeocoder {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedGeocoder{next: next, cache: cache, log: log}
}

func cacheKey(query string, opts Options) string {
	return strings.ToLower(strings.TrimSpace(query)) + "|" + opts.key()
}

func (c *CachedGeocoder) Geocode(ctx context.Context, query string, opts Options) (*model.GeoPoint, error) {
	key := cacheKey(query, opts)
	if pt, ok, err := c.cache.Get(ctx, key); err != nil {
		c.log.Warn("geocode cache read failed", zap.Error(err))
	} else if ok {
		metrics.GeocodeRequests.WithLabelValues("cache").Inc()
		return pt, nil
	}
	pt, err := c.next.Geocode(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, pt); err != nil {
		c.log.Warn("geocode cache write failed", zap.Error(err))
	}
	return pt, nil
}

type memEntry struct {
	pt      *model.GeoPoint
	expires time.Time
}

// MemoryCache is a process-local Cache with a fixed TTL.
type MemoryCache struct {
	mu  sync.Mutex
	ttl time.Duration
	m   map[string]memEntry
	now func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, m: map[string]memEntry{}, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (*model.GeoPoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok {
		return nil, false, nil
	}
	if c.ttl > 0 && c.now().After(e.expires) {
		delete(c.m, key)
		return nil, false, nil
	}
	return e.pt, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, pt *model.GeoPoint) error {
	c.mu.Lock()
	c.m[key] = memEntry{pt: pt, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// RedisCache keeps lookups in Redis so replicas share them.
type RedisCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: %w", err)
	}
	return &RedisCache{rdb: redis.NewClient(opt), ttl: ttl, prefix: "geocode:"}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (*model.GeoPoint, bool, error) {
	b, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var pt *model.GeoPoint
	if err := json.Unmarshal(b, &pt); err != nil {
		return nil, false, err
	}
	return pt, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, pt *model.GeoPoint) error {
	b, err := json.Marshal(pt)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.prefix+key, b, c.ttl).Err()
}

func (c *RedisCache) Close() error { return c.rdb.Close() }
