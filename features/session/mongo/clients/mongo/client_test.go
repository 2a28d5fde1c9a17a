package mongo

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/session"
)

func TestEnsureIndexes(t *testing.T) {
	runs := newFakeRunsCollection()
	require.NoError(t, ensureIndexes(context.Background(), runs))
	require.Equal(t, 3, runs.indexCreated)
}

func TestSaveLoadSnapshot(t *testing.T) {
	client := mustNewTestClient(t)
	loc := time.FixedZone("X", 3600)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, loc)
	snap := run.Snapshot{
		RunID:     "run-1",
		Topic:     "fusion energy",
		Phase:     run.PhaseSearching,
		Queries:   []string{"tokamak"},
		Sources:   []run.Source{{URL: "u", RetrievedAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, client.SaveSnapshot(context.Background(), snap))

	loaded, err := client.LoadSnapshot(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, "fusion energy", loaded.Topic)
	require.Equal(t, run.PhaseSearching, loaded.Phase)
	require.Equal(t, time.UTC, loaded.UpdatedAt.Location())
	require.True(t, loaded.UpdatedAt.Equal(now))
	require.True(t, loaded.Sources[0].RetrievedAt.Equal(now))
	// The caller's snapshot is untouched.
	require.Equal(t, loc, snap.CreatedAt.Location())

	snap.Phase = run.PhaseDone
	snap.Report = "# Report"
	require.NoError(t, client.SaveSnapshot(context.Background(), snap))
	loaded, err = client.LoadSnapshot(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, run.PhaseDone, loaded.Phase)
	require.Equal(t, "# Report", loaded.Report)
}

func TestListSnapshotsNewestFirst(t *testing.T) {
	client := mustNewTestClient(t)
	base := time.Now().UTC()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, client.SaveSnapshot(context.Background(), run.Snapshot{
			RunID:     id,
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	out, err := client.ListSnapshots(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, "c", out[0].RunID)
	require.Equal(t, "b", out[1].RunID)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	client := mustNewTestClient(t)
	_, err := client.LoadSnapshot(context.Background(), "missing")
	require.ErrorIs(t, err, session.ErrNotFound)
}

func TestValidation(t *testing.T) {
	client := mustNewTestClient(t)
	require.ErrorIs(t, client.SaveSnapshot(context.Background(), run.Snapshot{}), session.ErrRunIDRequired)
	_, err := client.LoadSnapshot(context.Background(), "")
	require.ErrorIs(t, err, session.ErrRunIDRequired)
	_, err = New(Options{})
	require.EqualError(t, err, "mongo client is required")
}

func mustNewTestClient(t *testing.T) Client {
	t.Helper()
	c, err := newClientWithCollection(nil, newFakeRunsCollection(), time.Second)
	require.NoError(t, err)
	return c
}

type fakeRunsCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]runDocument
}

func newFakeRunsCollection() *fakeRunsCollection {
	return &fakeRunsCollection{docs: make(map[string]runDocument)}
}

func (c *fakeRunsCollection) FindOne(_ context.Context, filter any) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[filter.(bson.M)["run_id"].(string)]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: &doc}
}

func (c *fakeRunsCollection) Find(_ context.Context, _ any, sortBy bson.D, limit int64) (cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(sortBy) != 1 || sortBy[0].Key != "updated_at" || sortBy[0].Value != -1 {
		return nil, errors.New("unsupported sort")
	}
	docs := make([]runDocument, 0, len(c.docs))
	for _, d := range c.docs {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].UpdatedAt.After(docs[j].UpdatedAt) })
	if limit > 0 && int64(len(docs)) > limit {
		docs = docs[:limit]
	}
	return &fakeCursor{docs: docs, idx: -1}, nil
}

func (c *fakeRunsCollection) ReplaceOne(_ context.Context, filter any, doc any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := doc.(runDocument)
	if !ok {
		return errors.New("unsupported document")
	}
	c.docs[filter.(bson.M)["run_id"].(string)] = d
	return nil
}

func (c *fakeRunsCollection) CreateIndexes(_ context.Context, models []mongodriver.IndexModel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexCreated += len(models)
	return nil
}

type fakeSingleResult struct {
	doc *runDocument
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	target, ok := val.(*runDocument)
	if !ok {
		return errors.New("unsupported target")
	}
	*target = runDocument{Snapshot: r.doc.Clone()}
	return nil
}

type fakeCursor struct {
	docs []runDocument
	idx  int
}

func (c *fakeCursor) Close(context.Context) error { return nil }

func (c *fakeCursor) Decode(val any) error {
	if c.idx < 0 || c.idx >= len(c.docs) {
		return errors.New("no document")
	}
	target, ok := val.(*runDocument)
	if !ok {
		return errors.New("unsupported target")
	}
	*target = runDocument{Snapshot: slices.Clone(c.docs)[c.idx].Clone()}
	return nil
}

func (c *fakeCursor) Err() error { return nil }

func (c *fakeCursor) Next(context.Context) bool {
	if c.idx+1 >= len(c.docs) {
		return false
	}
	c.idx++
	return true
}
