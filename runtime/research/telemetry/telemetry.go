// Package telemetry defines the logging, metrics and tracing seams used by the
// research runtime. Implementations delegate to Clue and OpenTelemetry; the
// noop variants keep tests and embedded uses quiet.
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger captures structured logging. keyvals alternate string keys and
	// values.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics exposes counter, timer and gauge helpers. tags alternate keys
	// and values.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, duration time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer abstracts span creation.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is an in-flight tracing span.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, attrs ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error, opts ...trace.EventOption)
	}

	// Set groups the three instruments so components take a single option.
	Set struct {
		Logger  Logger
		Metrics Metrics
		Tracer  Tracer
	}
)

// Metric names emitted by the research runtime.
const (
	MetricTransitions    = "research.transitions"
	MetricPhaseDuration  = "research.phase.duration"
	MetricSearchAttempts = "research.search.attempts"
	MetricSearchFailures = "research.search.exhausted"
	MetricCacheHits      = "research.cache.hits"
	MetricCacheMisses    = "research.cache.misses"
	MetricSources        = "research.sources"
)

// WithDefaults returns s with every nil instrument replaced by its noop
// implementation.
func (s Set) WithDefaults() Set {
	if s.Logger == nil {
		s.Logger = NewNoopLogger()
	}
	if s.Metrics == nil {
		s.Metrics = NewNoopMetrics()
	}
	if s.Tracer == nil {
		s.Tracer = NewNoopTracer()
	}
	return s
}

// NewClueSet returns a Set backed by Clue logging and the global OTEL
// providers.
func NewClueSet() Set {
	return Set{
		Logger:  NewClueLogger(),
		Metrics: NewClueMetrics(),
		Tracer:  NewClueTracer(),
	}
}
