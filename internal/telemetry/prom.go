package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PromMetrics is a Metrics implementation backed by Prometheus client
// vectors, registered lazily per metric name on first use so callers do
// not need to pre-declare every counter/timer/gauge.
type PromMetrics struct {
	registry *prometheus.Registry

	mu        sync.Mutex
	counters  map[string]*prometheus.CounterVec
	timers    map[string]*prometheus.HistogramVec
	gauges    map[string]*prometheus.GaugeVec
}

// NewPromMetrics constructs a PromMetrics backed by the given registry.
// Pass prometheus.NewRegistry() to keep metrics isolated from the default
// global registry, or prometheus.DefaultRegisterer-compatible registries
// when exposing a single process-wide /metrics endpoint.
func NewPromMetrics(registry *prometheus.Registry) *PromMetrics {
	return &PromMetrics{
		registry: registry,
		counters: make(map[string]*prometheus.CounterVec),
		timers:   make(map[string]*prometheus.HistogramVec),
		gauges:   make(map[string]*prometheus.GaugeVec),
	}
}

func tagKeys(tags []string) []string {
	keys := make([]string, 0, len(tags)/2)
	for i := 0; i < len(tags); i += 2 {
		keys = append(keys, tags[i])
	}
	return keys
}

func tagValues(tags []string) prometheus.Labels {
	labels := prometheus.Labels{}
	for i := 0; i < len(tags); i += 2 {
		v := ""
		if i+1 < len(tags) {
			v = tags[i+1]
		}
		labels[tags[i]] = v
	}
	return labels
}

func (m *PromMetrics) IncCounter(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, tagKeys(tags))
		m.registry.MustRegister(vec)
		m.counters[name] = vec
	}
	vec.With(tagValues(tags)).Add(value)
}

func (m *PromMetrics) RecordTimer(name string, duration time.Duration, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.timers[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name}, tagKeys(tags))
		m.registry.MustRegister(vec)
		m.timers[name] = vec
	}
	vec.With(tagValues(tags)).Observe(duration.Seconds())
}

func (m *PromMetrics) RecordGauge(name string, value float64, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, tagKeys(tags))
		m.registry.MustRegister(vec)
		m.gauges[name] = vec
	}
	vec.With(tagValues(tags)).Set(value)
}
