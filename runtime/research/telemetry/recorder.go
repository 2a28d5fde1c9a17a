package telemetry

import (
	"sync"
	"time"
)

// Recorder is an in-memory Metrics implementation that sums counters and
// keeps the last gauge value per metric name. It is safe for concurrent use
// and intended for tests and the CLI summary.
type Recorder struct {
	mu       sync.Mutex
	counters map[string]float64
	timers   map[string][]time.Duration
	gauges   map[string]float64
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		counters: make(map[string]float64),
		timers:   make(map[string][]time.Duration),
		gauges:   make(map[string]float64),
	}
}

// IncCounter adds value to the named counter; tags are ignored.
func (r *Recorder) IncCounter(name string, value float64, _ ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[name] += value
}

// RecordTimer appends duration to the named timer.
func (r *Recorder) RecordTimer(name string, duration time.Duration, _ ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.timers[name] = append(r.timers[name], duration)
}

// RecordGauge stores value as the latest reading of the named gauge.
func (r *Recorder) RecordGauge(name string, value float64, _ ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gauges[name] = value
}

// Counter returns the accumulated value of the named counter.
func (r *Recorder) Counter(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counters[name]
}

// Timings returns the number of timer observations for name.
func (r *Recorder) Timings(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers[name])
}

// Gauge returns the last recorded value of the named gauge.
func (r *Recorder) Gauge(name string) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gauges[name]
}
