package prometheus

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/md-hameem/Autonomous-Deep-Research-Agent/runtime/research/telemetry"
)

func TestMetricName(t *testing.T) {
	require.Equal(t, "research_cache_hits_total", metricName(telemetry.MetricCacheHits, "_total"))
	require.Equal(t, "research_phase_duration_seconds", metricName(telemetry.MetricPhaseDuration, "_seconds"))
	require.Equal(t, "x_total", metricName("x_total", "_total"))
	require.Equal(t, "_lives", metricName("9lives", ""))
}

func TestCounterAccumulatesPerLabel(t *testing.T) {
	m := New()
	m.IncCounter(telemetry.MetricSearchAttempts, 1, "provider", "tavily")
	m.IncCounter(telemetry.MetricSearchAttempts, 2, "provider", "tavily")
	m.IncCounter(telemetry.MetricSearchAttempts, 1, "provider", "wikipedia")
	m.IncCounter(telemetry.MetricSearchAttempts, -5, "provider", "wikipedia")

	vec := m.counters["research_search_attempts_total"]
	require.NotNil(t, vec)
	require.Equal(t, 3.0, testutil.ToFloat64(vec.WithLabelValues("tavily")))
	require.Equal(t, 1.0, testutil.ToFloat64(vec.WithLabelValues("wikipedia")))
}

func TestMismatchedLabelsIgnored(t *testing.T) {
	m := New()
	m.IncCounter("runs", 1, "phase", "done")
	m.IncCounter("runs", 1, "provider", "x")
	require.Equal(t, 1, testutil.CollectAndCount(m.counters["runs_total"]))
}

func TestGaugeAndTimer(t *testing.T) {
	m := New(WithBuckets(1, 10))
	m.RecordGauge(telemetry.MetricSources, 7)
	m.RecordGauge(telemetry.MetricSources, 4)
	m.RecordTimer(telemetry.MetricPhaseDuration, 2*time.Second, "phase", "searching")

	require.Equal(t, 4.0, testutil.ToFloat64(m.gauges["research_sources"].WithLabelValues()))
	require.Equal(t, 1, testutil.CollectAndCount(m.histograms["research_phase_duration_seconds"]))
}

func TestKindConflictDropped(t *testing.T) {
	m := New()
	m.RecordGauge("depth_total", 1)
	m.IncCounter("depth", 1)
	require.NotContains(t, m.counters, "depth_total")
}

func TestHandlerServesRegistry(t *testing.T) {
	m := New(WithRuntimeCollectors())
	m.IncCounter(telemetry.MetricCacheMisses, 1, "provider", "serper")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `research_cache_misses_total{provider="serper"} 1`)
	require.Contains(t, string(body), "go_goroutines")
}
