// Package mongo hosts the MongoDB client used by the session store.
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

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session"
)

const (
	defaultRunsCollection = "research_runs"
	defaultOpTimeout      = 5 * time.Second
	sessionClientName     = "session-mongo"
)

// Client exposes Mongo-backed operations for run snapshots.
type Client interface {
	health.Pinger

	SaveSnapshot(ctx context.Context, snap run.Snapshot) error
	LoadSnapshot(ctx context.Context, runID string) (run.Snapshot, error)
	ListSnapshots(ctx context.Context, limit int) ([]run.Snapshot, error)
}

// Options configures the Mongo session client.
type Options struct {
	Client         *mongodriver.Client
	Database       string
	RunsCollection string
	Timeout        time.Duration
}

type client struct {
	mongo   *mongodriver.Client
	runs    collection
	timeout time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	runsCollection := opts.RunsCollection
	if runsCollection == "" {
		runsCollection = defaultRunsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	runs := mongoCollection{coll: opts.Client.Database(opts.Database).Collection(runsCollection)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, runs); err != nil {
		return nil, err
	}
	return newClientWithCollection(opts.Client, runs, timeout)
}

func (c *client) Name() string {
	return sessionClientName
}

func (c *client) Ping(ctx context.Context) error {
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) SaveSnapshot(ctx context.Context, snap run.Snapshot) error {
	if snap.RunID == "" {
		return session.ErrRunIDRequired
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	return c.runs.ReplaceOne(ctx, bson.M{"run_id": snap.RunID}, fromSnapshot(snap))
}

func (c *client) LoadSnapshot(ctx context.Context, runID string) (run.Snapshot, error) {
	if runID == "" {
		return run.Snapshot{}, session.ErrRunIDRequired
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc runDocument
	if err := c.runs.FindOne(ctx, bson.M{"run_id": runID}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return run.Snapshot{}, session.ErrNotFound
		}
		return run.Snapshot{}, err
	}
	return doc.toSnapshot(), nil
}

func (c *client) ListSnapshots(ctx context.Context, limit int) ([]run.Snapshot, error) {
	if limit <= 0 {
		limit = session.DefaultListLimit
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	cur, err := c.runs.Find(ctx, bson.M{}, bson.D{{Key: "updated_at", Value: -1}}, int64(limit))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cur.Close(ctx)
	}()
	var out []run.Snapshot
	for cur.Next(ctx) {
		var doc runDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toSnapshot())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// runDocument is the stored form of a snapshot. Times are normalized to UTC
// so round trips compare equal regardless of the writer's zone.
type runDocument struct {
	run.Snapshot `bson:",inline"`
}

func fromSnapshot(snap run.Snapshot) runDocument {
	snap = snap.Clone()
	snap.CreatedAt = snap.CreatedAt.UTC()
	snap.UpdatedAt = snap.UpdatedAt.UTC()
	for i := range snap.Sources {
		snap.Sources[i].RetrievedAt = snap.Sources[i].RetrievedAt.UTC()
	}
	return runDocument{Snapshot: snap}
}

func (doc runDocument) toSnapshot() run.Snapshot {
	return doc.Snapshot.Clone()
}

func ensureIndexes(ctx context.Context, runs collection) error {
	return runs.CreateIndexes(ctx, []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "run_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "updated_at", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "phase", Value: 1}},
		},
	})
}

func newClientWithCollection(mongoClient *mongodriver.Client, runs collection, timeout time.Duration) (*client, error) {
	if runs == nil {
		return nil, errors.New("collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{mongo: mongoClient, runs: runs, timeout: timeout}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any) singleResult
	Find(ctx context.Context, filter any, sort bson.D, limit int64) (cursor, error)
	ReplaceOne(ctx context.Context, filter any, doc any) error
	CreateIndexes(ctx context.Context, models []mongodriver.IndexModel) error
}

type singleResult interface {
	Decode(val any) error
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

func (c mongoCollection) FindOne(ctx context.Context, filter any) singleResult {
	return c.coll.FindOne(ctx, filter)
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
