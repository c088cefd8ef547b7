// Package metrics exposes conversion counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the loader's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	resources   *prometheus.CounterVec // status: loaded, skipped
	facts       prometheus.Counter
	diagnostics *prometheus.CounterVec // kind: mapping_gap, structural_anomaly, unimplemented_value
	duration    prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resources: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdw",
			Name:      "resources_total",
			Help:      "Resources processed by the loader",
		}, []string{"status"}),
		facts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cdw",
			Name:      "facts_total",
			Help:      "Observation facts emitted",
		}),
		diagnostics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdw",
			Name:      "diagnostics_total",
			Help:      "Recoverable conversion conditions",
		}, []string{"kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdw",
			Name:      "conversion_duration_seconds",
			Help:      "Time to convert and store one resource",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
	}
	m.registry.MustRegister(
		m.resources, m.facts, m.diagnostics, m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Resource(status string) {
	if m == nil {
		return
	}
	m.resources.WithLabelValues(status).Inc()
}

func (m *Metrics) Facts(n int) {
	if m == nil {
		return
	}
	m.facts.Add(float64(n))
}

func (m *Metrics) Diagnostic(kind string) {
	if m == nil {
		return
	}
	m.diagnostics.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveConversion(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
