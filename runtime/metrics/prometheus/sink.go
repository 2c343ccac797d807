package prometheus

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/raffel-dev/raffel/core"
)

// Sink is the concrete Prometheus-backed implementation of the router's
// MetricSink external interface. Unlike the fixed collectors in metrics.go
// (which back the Record* helpers used internally by adapters), Sink lets
// arbitrary interceptors register ad-hoc counters/gauges/histograms keyed
// by name and label set, creating the underlying vector lazily on first use.
type Sink struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewSink creates a Sink registered against reg (use Exporter.Registry()).
func NewSink(reg *prometheus.Registry) *Sink {
	return &Sink{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func labelValues(names []string, labels map[string]string) []string {
	values := make([]string, len(names))
	for i, n := range names {
		values[i] = labels[n]
	}
	return values
}

// Counter returns (creating on first use) a counter named name, pre-applied
// with the given label values.
func (s *Sink) Counter(name string, labels map[string]string) core.Counter {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := labelNames(labels)
	vec, ok := s.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      "raffel custom counter " + name,
		}, names)
		s.registry.MustRegister(vec)
		s.counters[name] = vec
	}
	return vec.WithLabelValues(labelValues(names, labels)...)
}

// Gauge returns (creating on first use) a gauge named name.
func (s *Sink) Gauge(name string, labels map[string]string) core.Gauge {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := labelNames(labels)
	vec, ok := s.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      "raffel custom gauge " + name,
		}, names)
		s.registry.MustRegister(vec)
		s.gauges[name] = vec
	}
	return vec.WithLabelValues(labelValues(names, labels)...)
}

// Histogram returns (creating on first use) a histogram named name.
func (s *Sink) Histogram(name string, labels map[string]string) core.Histogram {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := labelNames(labels)
	vec, ok := s.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      "raffel custom histogram " + name,
			Buckets:   prometheus.DefBuckets,
		}, names)
		s.registry.MustRegister(vec)
		s.histograms[name] = vec
	}
	return vec.WithLabelValues(labelValues(names, labels)...)
}

