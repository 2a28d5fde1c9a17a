// Package redis provides a cache.Cache backed by Redis. Entries are stored as
// JSON strings under a key prefix with a Redis TTL matching their expiry, so
// expired entries normally disappear server-side; reads still check the
// stored expiry so a skewed clock never serves stale results.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

// DefaultPrefix namespaces cache keys.
const DefaultPrefix = "research:cache:"

type (
	// Cache is a Redis cache.Cache.
	Cache struct {
		rdb    *redis.Client
		prefix string
		now    func() time.Time
	}

	// Option configures a Cache.
	Option func(*Cache)
)

var _ cache.Cache = (*Cache)(nil)

// WithPrefix overrides the key prefix.
func WithPrefix(prefix string) Option {
	return func(c *Cache) { c.prefix = prefix }
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns a Cache using rdb.
func New(rdb *redis.Client, opts ...Option) (*Cache, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required")
	}
	c := &Cache{rdb: rdb, prefix: DefaultPrefix, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Name implements health.Pinger.
func (c *Cache) Name() string { return "cache-redis" }

// Ping implements health.Pinger.
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, query, provider string) ([]run.Source, bool, error) {
	if provider == "" {
		return nil, false, cache.ErrProviderRequired
	}
	key := c.prefix + cache.Key(query, provider)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var e cache.Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, false, fmt.Errorf("decode cache entry: %w", err)
	}
	if e.Expired(c.now()) {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			return nil, false, fmt.Errorf("redis del: %w", err)
		}
		return nil, false, nil
	}
	return e.Results, true, nil
}

// Put implements cache.Cache. A non-positive ttl deletes any existing entry
// since the new one would already be expired.
func (c *Cache) Put(ctx context.Context, query, provider string, results []run.Source, ttl time.Duration) error {
	if provider == "" {
		return cache.ErrProviderRequired
	}
	e := cache.NewEntry(query, provider, results, ttl, c.now())
	key := c.prefix + e.Key
	if ttl <= 0 {
		return c.rdb.Del(ctx, key).Err()
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := c.rdb.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// EvictExpired implements cache.Cache by scanning the prefix.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	now := c.now()
	removed := 0
	iter := c.rdb.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("redis get: %w", err)
		}
		var e cache.Entry
		if err := json.Unmarshal(raw, &e); err != nil || e.Expired(now) {
			n, err := c.rdb.Del(ctx, key).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}
