// Package mongo provides a cache.Cache persisted in MongoDB. A TTL index lets
// the server reap expired entries; Get still checks expiry and removes what
// it finds stale.
package mongo

import (
	"context"
	"errors"
	"time"

	clientsmongo "github.com/md-hameem/Autonomous-Deep-Research-Agent/features/cache/mongo/clients/mongo"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

// Cache implements cache.Cache by delegating to the Mongo client.
type Cache struct {
	client clientsmongo.Client
	now    func() time.Time
}

var _ cache.Cache = (*Cache)(nil)

// NewCache builds a Cache using the provided client.
func NewCache(client clientsmongo.Client) (*Cache, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Cache{client: client, now: time.Now}, nil
}

// Get implements cache.Cache.
func (c *Cache) Get(ctx context.Context, query, provider string) ([]run.Source, bool, error) {
	if provider == "" {
		return nil, false, cache.ErrProviderRequired
	}
	key := cache.Key(query, provider)
	e, err := c.client.LoadEntry(ctx, key)
	if errors.Is(err, clientsmongo.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if e.Expired(c.now()) {
		return nil, false, c.client.DeleteEntry(ctx, key)
	}
	return e.Results, true, nil
}

// Put implements cache.Cache.
func (c *Cache) Put(ctx context.Context, query, provider string, results []run.Source, ttl time.Duration) error {
	if provider == "" {
		return cache.ErrProviderRequired
	}
	return c.client.SaveEntry(ctx, cache.NewEntry(query, provider, results, ttl, c.now()))
}

// EvictExpired implements cache.Cache.
func (c *Cache) EvictExpired(ctx context.Context) (int, error) {
	return c.client.DeleteExpired(ctx, c.now())
}
