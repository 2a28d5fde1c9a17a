// Package inmem provides an in-memory result cache. Readers share a read
// lock; a read that finds an expired entry upgrades to the write lock to
// delete it.
package inmem

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

type (
	// Cache is an in-memory cache.Cache.
	Cache struct {
		mu      sync.RWMutex
		entries map[string]cache.Entry
		now     func() time.Time
	}

	// Option configures a Cache.
	Option func(*Cache)
)

var _ cache.Cache = (*Cache)(nil)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New returns an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]cache.Entry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, query, provider string) ([]run.Source, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if provider == "" {
		return nil, false, cache.ErrProviderRequired
	}
	key := cache.Key(query, provider)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.Expired(c.now()) {
		return slices.Clone(e.Results), true, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// A concurrent Put may have refreshed the entry since the read lock was
	// released.
	if cur, ok := c.entries[key]; ok {
		if !cur.Expired(c.now()) {
			return slices.Clone(cur.Results), true, nil
		}
		delete(c.entries, key)
	}
	return nil, false, nil
}

// Put implements cache.Cache.
func (c *Cache) Put(ctx context.Context, query, provider string, results []run.Source, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if provider == "" {
		return cache.ErrProviderRequired
	}
	e := cache.NewEntry(query, provider, results, ttl, c.now())
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Key] = e
	return nil
}

// EvictExpired implements cache.Cache.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if e.Expired(now) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
