package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/cache"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/retry"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/run"
	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

const (
	// DefaultConcurrency is the default cap on in-flight provider calls.
	DefaultConcurrency = 5
	// DefaultResultsPerQuery is the default per-provider result limit.
	DefaultResultsPerQuery = 5
)

// ErrNoProviders is returned by Execute when the executor has no providers.
var ErrNoProviders = errors.New("no search providers registered")

type (
	// Options configures an Executor. Zero values select defaults.
	Options struct {
		// Concurrency caps in-flight provider calls across the whole batch.
		Concurrency int
		// ResultsPerQuery is the limit passed to each provider call.
		ResultsPerQuery int
		// TTL is the lifetime of results written to the cache.
		TTL time.Duration
		// Retry configures the per-call retry loop.
		Retry retry.Config
		// CallTimeout bounds each provider call. Defaults to
		// DefaultCallTimeout.
		CallTimeout time.Duration
		// TrustBonus overrides DefaultTrustBonus.
		TrustBonus map[string]float64
		// Telemetry instruments fetches and cache lookups.
		Telemetry telemetry.Set
		// Now overrides the clock used to stamp sources.
		Now func() time.Time
	}

	// Executor runs query batches against every registered provider.
	Executor struct {
		providers   []Provider
		cache       cache.Cache
		fetcher     *Fetcher
		scorer      Scorer
		concurrency int
		limit       int
		ttl         time.Duration
		tel         telemetry.Set
		now         func() time.Time
	}

	task struct {
		query    string
		provider Provider
	}
)

// NewExecutor builds an executor over providers. c may be nil to disable
// caching. Provider names must be unique and non-empty since they key the
// cache.
func NewExecutor(providers []Provider, c cache.Cache, opts Options) (*Executor, error) {
	seen := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		name := p.Name()
		if name == "" {
			return nil, errors.New("search provider name is required")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("search provider %q registered twice", name)
		}
		seen[name] = struct{}{}
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.ResultsPerQuery <= 0 {
		opts.ResultsPerQuery = DefaultResultsPerQuery
	}
	if opts.TTL == 0 {
		opts.TTL = cache.DefaultTTL
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.TrustBonus == nil {
		opts.TrustBonus = DefaultTrustBonus
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	tel := opts.Telemetry.WithDefaults()
	fetcher := NewFetcher(opts.Retry, tel)
	fetcher.callTimeout = opts.CallTimeout
	return &Executor{
		providers:   append([]Provider(nil), providers...),
		cache:       c,
		fetcher:     fetcher,
		scorer:      Scorer{TrustBonus: opts.TrustBonus},
		concurrency: opts.Concurrency,
		limit:       opts.ResultsPerQuery,
		ttl:         opts.TTL,
		tel:         tel,
		now:         opts.Now,
	}, nil
}

// Providers returns the registered provider names in registration order.
func (e *Executor) Providers() []string {
	names := make([]string, len(e.providers))
	for i, p := range e.providers {
		names[i] = p.Name()
	}
	return names
}

// Execute searches every query with every provider and returns the ranked
// sources. Provider failures only reduce the result set; Execute fails only
// when there are no providers or ctx ends before the batch completes, in
// which case results gathered so far are discarded.
func (e *Executor) Execute(ctx context.Context, topic string, queries []string) ([]run.Source, error) {
	if len(e.providers) == 0 {
		return nil, ErrNoProviders
	}
	tasks := make([]task, 0, len(queries)*len(e.providers))
	for _, q := range queries {
		for _, p := range e.providers {
			tasks = append(tasks, task{query: q, provider: p})
		}
	}

	// Each task writes its own slot so the flattened order is the submission
	// order regardless of completion order.
	slots := make([][]run.Source, len(tasks))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, t := range tasks {
		g.Go(func() error {
			slots[i] = e.run(ctx, t)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var all []run.Source
	for _, s := range slots {
		all = append(all, s...)
	}
	ranked := e.scorer.Rank(topic, all)
	e.tel.Metrics.RecordGauge(telemetry.MetricSources, float64(len(ranked)))
	return ranked, nil
}

func (e *Executor) run(ctx context.Context, t task) []run.Source {
	name := t.provider.Name()
	if cached, ok := e.lookup(ctx, t.query, name); ok {
		return cached
	}
	if ctx.Err() != nil {
		return nil
	}
	res := e.fetcher.Fetch(ctx, t.provider, t.query, e.limit)
	if res.Err != nil {
		if ctx.Err() == nil {
			e.tel.Logger.Warn(ctx, "search exhausted",
				"provider", name, "query", t.query, "attempts", res.Attempts, "err", res.Err)
		}
		return nil
	}
	retrieved := e.now().UTC()
	sources := make([]run.Source, 0, len(res.Candidates))
	for _, c := range res.Candidates {
		sources = append(sources, run.Source{
			URL:         c.URL,
			Title:       c.Title,
			Content:     c.Content,
			Query:       t.query,
			Provider:    name,
			RetrievedAt: retrieved,
		})
	}
	if e.cache != nil && ctx.Err() == nil {
		if err := e.cache.Put(ctx, t.query, name, sources, e.ttl); err != nil {
			e.tel.Logger.Warn(ctx, "cache write failed", "provider", name, "query", t.query, "err", err)
		}
	}
	return sources
}

func (e *Executor) lookup(ctx context.Context, query, provider string) ([]run.Source, bool) {
	if e.cache == nil {
		return nil, false
	}
	cached, ok, err := e.cache.Get(ctx, query, provider)
	if err != nil {
		e.tel.Logger.Warn(ctx, "cache read failed", "provider", provider, "query", query, "err", err)
		return nil, false
	}
	if !ok {
		e.tel.Metrics.IncCounter(telemetry.MetricCacheMisses, 1, "provider", provider)
		return nil, false
	}
	e.tel.Metrics.IncCounter(telemetry.MetricCacheHits, 1, "provider", provider)
	// Cached sources keep their provenance but the query that produced them
	// is the one being run now.
	for i := range cached {
		cached[i].Query = query
	}
	return cached, true
}
