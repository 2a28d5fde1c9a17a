// Package mongo hosts the MongoDB client used by the result cache.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"goa.design/clue/health"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache"
)

const (
	defaultCollection = "research_cache"
	defaultOpTimeout  = 5 * time.Second
	clientName        = "cache-mongo"
)

// ErrNotFound is returned by LoadEntry when no entry exists for a key.
var ErrNotFound = errors.New("cache entry not found")

// Client exposes Mongo-backed operations on cache entries.
type Client interface {
	health.Pinger

	LoadEntry(ctx context.Context, key string) (cache.Entry, error)
	SaveEntry(ctx context.Context, e cache.Entry) error
	DeleteEntry(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Options configures the Mongo cache client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	entries collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB and ensures the collection indexes,
// including a TTL index on expires_at.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	name := opts.Collection
	if name == "" {
		name = defaultCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	coll := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(name)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, coll); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, coll, timeout)
}

func (c *client) Name() string {
	return clientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) LoadEntry(ctx context.Context, key string) (cache.Entry, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc cache.Entry
	if err := c.entries.FindOne(ctx, bson.M{"key": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return cache.Entry{}, ErrNotFound
		}
		return cache.Entry{}, err
	}
	return doc, nil
}

func (c *client) SaveEntry(ctx context.Context, e cache.Entry) error {
	if e.Key == "" {
		return errors.New("cache key is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	e.CreatedAt = e.CreatedAt.UTC()
	e.ExpiresAt = e.ExpiresAt.UTC()
	return c.entries.ReplaceOne(ctx, bson.M{"key": e.Key}, e)
}

func (c *client) DeleteEntry(ctx context.Context, key string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.entries.DeleteMany(ctx, bson.M{"key": key})
	return err
}

func (c *client) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	n, err := c.entries.DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now.UTC()}})
	return int(n), err
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

func ensureIndexes(ctx context.Context, coll collection) error {
	return coll.CreateIndexes(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
}

func newClientWithCollection(mongoClient *mongodriver.Client, entries collection, timeout time.Duration) (*client, error) {
	if entries == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{mongo: mongoClient, entries: entries, timeout: timeout}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any) singleResult
	ReplaceOne(ctx context.Context, filter any, doc any) error
	DeleteMany(ctx context.Context, filter any) (int64, error)
	CreateIndexes(ctx context.Context, models []mongodriver.IndexModel) error
}

type singleResult interface {
	Decode(val any) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, doc any) error {
	_, err := c.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any) (int64, error) {
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (c mongoCollection) CreateIndexes(ctx context.Context, models []mongodriver.IndexModel) error {
	_, err := c.coll.Indexes().CreateMany(ctx, models)
	return err
}
