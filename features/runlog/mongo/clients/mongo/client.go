// Package mongo implements the low-level MongoDB client behind the research
// event log.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"goa.design/clue/health"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/stream"
)

type (
	// Client exposes Mongo-backed operations for the run event log.
	Client interface {
		health.Pinger

		// Append stores e. Storing the same run and sequence number twice
		// keeps the latest copy.
		Append(ctx context.Context, e stream.Event) error
		// List returns up to limit events of runID with a sequence number
		// greater than after, in sequence order.
		List(ctx context.Context, runID string, after, limit int) ([]stream.Event, error)
	}

	// Options configures the Mongo client implementation.
	Options struct {
		Client     *mongodriver.Client
		Database   string
		Collection string
		Timeout    time.Duration
	}

	client struct {
		mongo   *mongodriver.Client
		coll    collection
		timeout time.Duration
	}

	eventDocument struct {
		RunID     string    `bson:"run_id"`
		Seq       int       `bson:"seq"`
		Phase     string    `bson:"phase"`
		Iteration int       `bson:"iteration"`
		Payload   []byte    `bson:"payload"`
		Timestamp time.Time `bson:"timestamp"`
	}
)

const (
	defaultCollection = "research_events"
	defaultTimeout    = 5 * time.Second
	clientName        = "runlog-mongo"
)

// New returns a Client backed by the provided MongoDB client.
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
		timeout = defaultTimeout
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

func (c *client) Append(ctx context.Context, e stream.Event) error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.Phase == "" {
		return errors.New("event phase is required")
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	doc := eventDocument{
		RunID:     e.RunID,
		Seq:       e.Seq,
		Phase:     string(e.Phase),
		Iteration: e.Iteration,
		Payload:   payload,
		Timestamp: e.Timestamp.UTC(),
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.coll.ReplaceOne(ctx, bson.M{"run_id": e.RunID, "seq": e.Seq}, doc)
}

func (c *client) List(ctx context.Context, runID string, after, limit int) (events []stream.Event, err error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	if limit <= 0 {
		return nil, errors.New("limit must be > 0")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"run_id": runID, "seq": bson.M{"$gt": after}}
	cur, err := c.coll.Find(ctx, filter, bson.D{{Key: "seq", Value: 1}}, int64(limit))
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := cur.Close(ctx); err == nil && cerr != nil {
			err = cerr
		}
	}()
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		var e stream.Event
		if err := json.Unmarshal(doc.Payload, &e); err != nil {
			return nil, fmt.Errorf("decode event %s/%d: %w", doc.RunID, doc.Seq, err)
		}
		events = append(events, e)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return events, nil
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
			Keys:    bson.D{{Key: "run_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "timestamp", Value: -1}},
		},
	})
}

func newClientWithCollection(mongoClient *mongodriver.Client, coll collection, timeout time.Duration) (*client, error) {
	if coll == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &client{mongo: mongoClient, coll: coll, timeout: timeout}, nil
}

type collection interface {
	Find(ctx context.Context, filter any, sort bson.D, limit int64) (cursor, error)
	ReplaceOne(ctx context.Context, filter any, doc any) error
	CreateIndexes(ctx context.Context, models []mongodriver.IndexModel) error
}

type cursor interface {
	Close(ctx context.Context) error
	Decode(val any) error
	Err() error
	Next(ctx context.Context) bool
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) Find(ctx context.Context, filter any, sort bson.D, limit int64) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, options.Find().SetSort(sort).SetLimit(limit))
	if err != nil {
		return nil, err
	}
	return cur, nil
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, doc any) error {
	_, err := c.coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
	return err
}

func (c mongoCollection) CreateIndexes(ctx context.Context, models []mongodriver.IndexModel) error {
	_, err := c.coll.Indexes().CreateMany(ctx, models)
	return err
}
