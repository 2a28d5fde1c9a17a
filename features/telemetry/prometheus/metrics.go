// Package prometheus exports engine metrics in the Prometheus text format.
// Metric names use the dotted form the engine records ("research.cache.hits")
// and are rewritten to Prometheus conventions on first use: dots become
// underscores, counters gain a _total suffix and timers a _seconds suffix.
package prometheus

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

type (
	// Metrics implements telemetry.Metrics on a dedicated registry.
	Metrics struct {
		reg     *prometheus.Registry
		buckets []float64

		mu         sync.Mutex
		counters   map[string]*prometheus.CounterVec
		histograms map[string]*prometheus.HistogramVec
		gauges     map[string]*prometheus.GaugeVec
		labels     map[string][]string
	}

	// Option customizes New.
	Option func(*Metrics)
)

var _ telemetry.Metrics = (*Metrics)(nil)

// WithBuckets sets the histogram buckets used for timers, in seconds.
func WithBuckets(b ...float64) Option {
	return func(m *Metrics) { m.buckets = b }
}

// WithRuntimeCollectors registers the Go runtime and process collectors.
func WithRuntimeCollectors() Option {
	return func(m *Metrics) {
		m.reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
}

// New returns an empty Metrics.
func New(opts ...Option) *Metrics {
	m := &Metrics{
		reg:        prometheus.NewRegistry(),
		buckets:    []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		labels:     make(map[string][]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// IncCounter adds value to the named counter. Negative values are ignored.
func (m *Metrics) IncCounter(name string, value float64, tags ...string) {
	if value < 0 {
		return
	}
	name = metricName(name, "_total")
	keys, values := splitTags(tags)
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help(name)}, keys)
		if !m.register(name, keys, vec) {
			return
		}
		m.counters[name] = vec
	}
	if !m.matches(name, keys) {
		return
	}
	vec.WithLabelValues(values...).Add(value)
}

// RecordTimer observes duration on the named histogram.
func (m *Metrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	name = metricName(name, "_seconds")
	keys, values := splitTags(tags)
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help(name), Buckets: m.buckets}, keys)
		if !m.register(name, keys, vec) {
			return
		}
		m.histograms[name] = vec
	}
	if !m.matches(name, keys) {
		return
	}
	vec.WithLabelValues(values...).Observe(duration.Seconds())
}

// RecordGauge sets the named gauge.
func (m *Metrics) RecordGauge(name string, value float64, tags ...string) {
	name = metricName(name, "")
	keys, values := splitTags(tags)
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: help(name)}, keys)
		if !m.register(name, keys, vec) {
			return
		}
		m.gauges[name] = vec
	}
	if !m.matches(name, keys) {
		return
	}
	vec.WithLabelValues(values...).Set(value)
}

// register adds c under name. A name reused with another metric kind is
// dropped.
func (m *Metrics) register(name string, keys []string, c prometheus.Collector) bool {
	if _, taken := m.labels[name]; taken {
		return false
	}
	if err := m.reg.Register(c); err != nil {
		return false
	}
	m.labels[name] = keys
	return true
}

// matches reports whether keys is the label set name was created with.
// Prometheus rejects observations with a different label set.
func (m *Metrics) matches(name string, keys []string) bool {
	return slices.Equal(m.labels[name], keys)
}

func metricName(name, suffix string) string {
	var b strings.Builder
	for i, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_', r == ':':
			b.WriteRune(r)
		case r >= '0' && r <= '9' && i > 0:
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if suffix != "" && !strings.HasSuffix(out, suffix) {
		out += suffix
	}
	return out
}

// splitTags turns key/value pairs into label names and values. A trailing
// key without a value gets an empty value. Keys are sanitized like metric
// names.
func splitTags(tags []string) ([]string, []string) {
	n := (len(tags) + 1) / 2
	keys := make([]string, 0, n)
	values := make([]string, 0, n)
	for i := 0; i < len(tags); i += 2 {
		keys = append(keys, metricName(tags[i], ""))
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		values = append(values, v)
	}
	return keys, values
}

func help(name string) string {
	return strings.ReplaceAll(name, "_", " ")
}
