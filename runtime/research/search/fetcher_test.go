package search

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/retry"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

var fastRetry = retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	p := NewProvider("flaky", func(context.Context, string, int) ([]Candidate, error) {
		if calls.Add(1) < 3 {
			return nil, errors.New("503")
		}
		return []Candidate{{URL: "https://x.example"}}, nil
	})
	res := NewFetcher(fastRetry, telemetry.Set{}).Fetch(context.Background(), p, "q", 5)
	require.NoError(t, res.Err)
	require.Equal(t, 3, res.Attempts)
	require.Len(t, res.Candidates, 1)
}

func TestFetchExhaustedReturnsEmpty(t *testing.T) {
	rec := telemetry.NewRecorder()
	p := NewProvider("down", func(context.Context, string, int) ([]Candidate, error) {
		return nil, errors.New("connection refused")
	})
	res := NewFetcher(fastRetry, telemetry.Set{Metrics: rec}).Fetch(context.Background(), p, "q", 5)
	var exhausted *retry.ExhaustedError
	require.ErrorAs(t, res.Err, &exhausted)
	require.Empty(t, res.Candidates)
	require.Equal(t, 3, res.Attempts)
	require.InDelta(t, 3.0, rec.Counter(telemetry.MetricSearchAttempts), 0)
	require.InDelta(t, 1.0, rec.Counter(telemetry.MetricSearchFailures), 0)
}

func TestFetchMalformedFailsImmediately(t *testing.T) {
	var calls atomic.Int32
	p := NewProvider("strict", func(context.Context, string, int) ([]Candidate, error) {
		calls.Add(1)
		return nil, fmt.Errorf("bad request: %w", ErrMalformedQuery)
	})
	res := NewFetcher(fastRetry, telemetry.Set{}).Fetch(context.Background(), p, "q", 5)
	require.ErrorIs(t, res.Err, ErrMalformedQuery)
	require.Equal(t, int32(1), calls.Load())

	res = NewFetcher(fastRetry, telemetry.Set{}).Fetch(context.Background(), p, "   ", 5)
	require.ErrorIs(t, res.Err, ErrMalformedQuery)
	require.Zero(t, res.Attempts)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchTrimsToLimit(t *testing.T) {
	p := NewProvider("chatty", func(context.Context, string, int) ([]Candidate, error) {
		return []Candidate{{URL: "a"}, {URL: "b"}, {URL: "c"}}, nil
	})
	res := NewFetcher(fastRetry, telemetry.Set{}).Fetch(context.Background(), p, "q", 2)
	require.Len(t, res.Candidates, 2)
}

func TestFetchInFlightCallIsNotCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewProvider("slow", func(callCtx context.Context, _ string, _ int) ([]Candidate, error) {
		cancel()
		time.Sleep(5 * time.Millisecond)
		if callCtx.Err() != nil {
			return nil, callCtx.Err()
		}
		return []Candidate{{URL: "https://done.example"}}, nil
	})
	res := NewFetcher(fastRetry, telemetry.Set{}).Fetch(ctx, p, "q", 5)
	require.NoError(t, res.Err)
	require.Len(t, res.Candidates, 1)
}

func TestFetchCallIsBoundedByTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := NewProvider("hung", func(callCtx context.Context, _ string, _ int) ([]Candidate, error) {
		cancel()
		<-callCtx.Done()
		return nil, callCtx.Err()
	})
	f := NewFetcher(retry.Config{MaxAttempts: 1}, telemetry.Set{})
	f.callTimeout = 20 * time.Millisecond

	done := make(chan FetchResult, 1)
	go func() { done <- f.Fetch(ctx, p, "q", 5) }()
	select {
	case res := <-done:
		require.ErrorIs(t, res.Err, context.DeadlineExceeded)
		require.Empty(t, res.Candidates)
		require.Equal(t, 1, res.Attempts)
	case <-time.After(2 * time.Second):
		t.Fatal("fetch did not return after the call timeout")
	}
}

func TestExecutorAppliesCallTimeout(t *testing.T) {
	ex, err := NewExecutor(nil, nil, Options{CallTimeout: time.Minute})
	require.NoError(t, err)
	require.Equal(t, time.Minute, ex.fetcher.callTimeout)

	ex, err = NewExecutor(nil, nil, Options{})
	require.NoError(t, err)
	require.Equal(t, DefaultCallTimeout, ex.fetcher.callTimeout)
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "héll", Truncate("héllo", 4))
	require.Equal(t, "hi", Truncate("hi", 4))
	require.Equal(t, "hi", Truncate("hi", 0))
}
