package inmem

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newClock() *clock {
	return &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := New()
	src := []run.Source{{URL: "https://go.dev", Title: "Go"}}
	require.NoError(t, c.Put(ctx, "Golang", "tavily", src, time.Hour))

	got, ok, err := c.Get(ctx, "  golang ", "tavily")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, src, got)

	_, ok, err = c.Get(ctx, "golang", "wikipedia")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestResultsAreCopied(t *testing.T) {
	ctx := context.Background()
	c := New()
	src := []run.Source{{URL: "a"}}
	require.NoError(t, c.Put(ctx, "q", "p", src, time.Hour))
	src[0].URL = "mutated-input"

	got, _, _ := c.Get(ctx, "q", "p")
	require.Equal(t, "a", got[0].URL)
	got[0].URL = "mutated-output"

	again, _, _ := c.Get(ctx, "q", "p")
	require.Equal(t, "a", again[0].URL)
}

func TestZeroTTLExpiresOnNextRead(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	c := New(WithClock(clk.Now))
	require.NoError(t, c.Put(ctx, "q", "p", []run.Source{{URL: "u"}}, 0))
	require.Equal(t, 1, c.Len())

	_, ok, err := c.Get(ctx, "q", "p")
	require.NoError(t, err)
	require.False(t, ok)
	require.Zero(t, c.Len(), "expired entry is deleted by the read that finds it")
}

func TestZeroTTLProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ttl=0 entries are never returned", prop.ForAll(
		func(q, p string) bool {
			ctx := context.Background()
			c := New()
			if err := c.Put(ctx, q, "p"+p, []run.Source{{URL: q}}, 0); err != nil {
				return false
			}
			_, ok, err := c.Get(ctx, q, "p"+p)
			return err == nil && !ok
		},
		gen.AlphaString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestLazyExpiry(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	c := New(WithClock(clk.Now))
	require.NoError(t, c.Put(ctx, "q", "p", nil, time.Minute))

	clk.Advance(30 * time.Second)
	_, ok, _ := c.Get(ctx, "q", "p")
	require.True(t, ok)

	clk.Advance(30 * time.Second)
	_, ok, _ = c.Get(ctx, "q", "p")
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestEvictExpired(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	c := New(WithClock(clk.Now))
	require.NoError(t, c.Put(ctx, "short", "p", nil, time.Second))
	require.NoError(t, c.Put(ctx, "long", "p", nil, time.Hour))
	require.NoError(t, c.Put(ctx, "zero", "p", nil, 0))

	clk.Advance(2 * time.Second)
	n, err := c.EvictExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, 1, c.Len())
}

func TestProviderRequired(t *testing.T) {
	ctx := context.Background()
	c := New()
	require.ErrorIs(t, c.Put(ctx, "q", "", nil, time.Hour), cache.ErrProviderRequired)
	_, _, err := c.Get(ctx, "q", "")
	require.ErrorIs(t, err, cache.ErrProviderRequired)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := New()
	require.ErrorIs(t, c.Put(ctx, "q", "p", nil, time.Hour), context.Canceled)
	_, _, err := c.Get(ctx, "q", "p")
	require.ErrorIs(t, err, context.Canceled)
}

func TestConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c := New()
	var wg sync.WaitGroup
	for i := range 32 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.Put(ctx, fmt.Sprintf("q%d", i%4), "p", []run.Source{{URL: fmt.Sprint(i)}}, time.Hour)
		}()
		go func() {
			defer wg.Done()
			_, _, _ = c.Get(ctx, fmt.Sprintf("q%d", i%4), "p")
		}()
	}
	wg.Wait()
	require.Equal(t, 4, c.Len())
}
