package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for location requests.
type Metrics struct {
	Requests        *prometheus.CounterVec   // labels: strategy, outcome={ok,UNAVAILABLE,...}
	RequestDuration *prometheus.HistogramVec // labels: strategy
	RequestPending  prometheus.Gauge
	BackendFixes    *prometheus.CounterVec // labels: backend={gps,network,fused}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsForTesting creates Metrics on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewMetricsWith(prometheus.NewRegistry())
}

// NewMetricsWith creates Metrics and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locfix",
			Name:      "requests_total",
			Help:      "Location requests by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "locfix",
			Name:      "request_duration_seconds",
			Help:      "Time from submit to resolution of a location request.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"strategy"}),
		RequestPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "locfix",
			Name:      "request_pending",
			Help:      "1 while a location request is outstanding.",
		}),
		BackendFixes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "locfix",
			Name:      "backend_fixes_total",
			Help:      "Fixes decoded or received from each location back-end.",
		}, []string{"backend"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.Requests,
			m.RequestDuration,
			m.RequestPending,
			m.BackendFixes,
		)
	}
	return m
}
