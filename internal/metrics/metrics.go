// Package metrics holds the Prometheus instruments of the ingestion path and
// an optional /metrics endpoint for sync runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all ingestion metrics.
type Registry struct {
	Fetches        *prometheus.CounterVec
	RowsUpserted   prometheus.Counter
	SymbolFailures prometheus.Counter
	GateWait       prometheus.Histogram

	registry *prometheus.Registry
}

// NewRegistry creates the ingestion metrics on a private registry.
func NewRegistry() *Registry {
	r := &Registry{
		Fetches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantrun_ingest_fetches_total",
				Help: "Upstream fetches by source and outcome",
			},
			[]string{"source", "outcome"},
		),
		RowsUpserted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quantrun_ingest_rows_total",
				Help: "Quote rows upserted to the store",
			},
		),
		SymbolFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quantrun_ingest_symbol_failures_total",
				Help: "Symbols whose sync plan failed after all sources",
			},
		),
		GateWait: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quantrun_ingest_gate_wait_seconds",
				Help:    "Time spent waiting on the upstream rate gate",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),
		registry: prometheus.NewRegistry(),
	}
	r.registry.MustRegister(r.Fetches, r.RowsUpserted, r.SymbolFailures, r.GateWait)
	return r
}

// Handler serves the registry for a /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
