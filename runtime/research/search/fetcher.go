package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/retry"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

type (
	// Fetcher calls a provider with bounded retries and linear backoff.
	Fetcher struct {
		cfg         retry.Config
		tel         telemetry.Set
		callTimeout time.Duration
	}

	// FetchResult is the outcome of one Fetch. Err is set when the call
	// ended without results (exhausted retries, malformed query or
	// cancellation); Candidates is empty in that case.
	FetchResult struct {
		Candidates []Candidate
		Attempts   int
		Err        error
	}
)

// DefaultCallTimeout bounds a single provider call.
const DefaultCallTimeout = 30 * time.Second

// NewFetcher returns a Fetcher using cfg and DefaultCallTimeout.
func NewFetcher(cfg retry.Config, tel telemetry.Set) *Fetcher {
	return &Fetcher{cfg: cfg, tel: tel.WithDefaults(), callTimeout: DefaultCallTimeout}
}

// Fetch runs p.Search for query. Failures never escape as errors: an
// exhausted fetch yields an empty FetchResult with Err describing why.
//
// Cancellation of ctx is observed before each attempt and during backoff.
// A provider call that already started runs to completion on a context
// detached from ctx; the caller decides whether to keep its results. Each
// call is still bounded by the fetcher's call timeout.
func (f *Fetcher) Fetch(ctx context.Context, p Provider, query string, limit int) FetchResult {
	if strings.TrimSpace(query) == "" {
		return FetchResult{Err: fmt.Errorf("%w: empty query", ErrMalformedQuery)}
	}
	ctx, span := f.tel.Tracer.Start(ctx, "research.search.fetch")
	defer span.End()
	span.AddEvent("fetch", "provider", p.Name(), "query", query)

	var (
		out      []Candidate
		attempts int
		start    = time.Now()
	)
	call := func(ctx context.Context) error {
		attempts++
		f.tel.Metrics.IncCounter(telemetry.MetricSearchAttempts, 1, "provider", p.Name())
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.callTimeout)
		defer cancel()
		cands, err := p.Search(callCtx, query, limit)
		if err != nil {
			if errors.Is(err, ErrMalformedQuery) {
				return retry.Permanent(err)
			}
			return err
		}
		out = cands
		return nil
	}
	onFailure := func(attempt int, err error) {
		f.tel.Logger.Warn(ctx, "search attempt failed",
			"provider", p.Name(), "query", query, "attempt", attempt, "err", err)
	}
	err := retry.Do(ctx, f.cfg, call, onFailure)
	f.tel.Metrics.RecordTimer("research.search.fetch.duration", time.Since(start), "provider", p.Name())
	if err != nil {
		f.tel.Metrics.IncCounter(telemetry.MetricSearchFailures, 1, "provider", p.Name())
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return FetchResult{Attempts: attempts, Err: err}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return FetchResult{Candidates: out, Attempts: attempts}
}
