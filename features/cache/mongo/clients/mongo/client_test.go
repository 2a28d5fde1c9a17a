package mongo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

func TestEnsureIndexes(t *testing.T) {
	coll := newFakeCollection()
	require.NoError(t, ensureIndexes(context.Background(), coll))
	require.Equal(t, 2, coll.indexCreated)
}

func TestSaveLoadEntry(t *testing.T) {
	c := mustNewTestClient(t)
	ctx := context.Background()
	now := time.Now()
	e := cache.NewEntry("Quantum", "tavily", []run.Source{{URL: "u"}}, time.Hour, now)
	require.NoError(t, c.SaveEntry(ctx, e))

	got, err := c.LoadEntry(ctx, e.Key)
	require.NoError(t, err)
	require.Equal(t, e.Key, got.Key)
	require.Equal(t, "quantum", got.Query)
	require.Equal(t, time.UTC, got.ExpiresAt.Location())
	require.Len(t, got.Results, 1)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	c := mustNewTestClient(t)
	_, err := c.LoadEntry(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveRequiresKey(t *testing.T) {
	c := mustNewTestClient(t)
	require.Error(t, c.SaveEntry(context.Background(), cache.Entry{}))
}

func TestDeleteExpired(t *testing.T) {
	c := mustNewTestClient(t)
	ctx := context.Background()
	now := time.Now()
	require.NoError(t, c.SaveEntry(ctx, cache.NewEntry("a", "p", nil, time.Minute, now)))
	require.NoError(t, c.SaveEntry(ctx, cache.NewEntry("b", "p", nil, time.Hour, now)))

	n, err := c.DeleteExpired(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	_, err = c.LoadEntry(ctx, cache.Key("b", "p"))
	require.NoError(t, err)

	require.NoError(t, c.DeleteEntry(ctx, cache.Key("b", "p")))
	_, err = c.LoadEntry(ctx, cache.Key("b", "p"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	_, err = newClientWithCollection(nil, nil, 0)
	require.Error(t, err)
}

func mustNewTestClient(t *testing.T) Client {
	t.Helper()
	c, err := newClientWithCollection(nil, newFakeCollection(), time.Second)
	require.NoError(t, err)
	return c
}

type fakeCollection struct {
	mu           sync.Mutex
	indexCreated int
	docs         map[string]cache.Entry
}

func newFakeCollection() *fakeCollection {
	return &fakeCollection{docs: make(map[string]cache.Entry)}
}

func (c *fakeCollection) FindOne(_ context.Context, filter any) singleResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, ok := c.docs[filter.(bson.M)["key"].(string)]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: &doc}
}

func (c *fakeCollection) ReplaceOne(_ context.Context, filter any, doc any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := doc.(cache.Entry)
	if !ok {
		return errors.New("unsupported document")
	}
	c.docs[filter.(bson.M)["key"].(string)] = e
	return nil
}

func (c *fakeCollection) DeleteMany(_ context.Context, filter any) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f := filter.(bson.M)
	if key, ok := f["key"].(string); ok {
		if _, found := c.docs[key]; !found {
			return 0, nil
		}
		delete(c.docs, key)
		return 1, nil
	}
	cutoff := f["expires_at"].(bson.M)["$lte"].(time.Time)
	var n int64
	for k, e := range c.docs {
		if !e.ExpiresAt.After(cutoff) {
			delete(c.docs, k)
			n++
		}
	}
	return n, nil
}

func (c *fakeCollection) CreateIndexes(_ context.Context, models []mongodriver.IndexModel) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indexCreated += len(models)
	return nil
}

type fakeSingleResult struct {
	doc *cache.Entry
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	target, ok := val.(*cache.Entry)
	if !ok {
		return errors.New("unsupported target")
	}
	*target = *r.doc
	return nil
}
