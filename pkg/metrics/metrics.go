// Package metrics defines the Prometheus metric collectors used by the
// miner and the dictionary API, and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the platform.
type Metrics struct {
	HTTPRequestsTotal        *prometheus.CounterVec
	HTTPRequestDuration      *prometheus.HistogramVec
	HTTPRequestsInFlight     prometheus.Gauge
	EMIterationsTotal        prometheus.Counter
	AverageCost              prometheus.Gauge
	DictionarySize           prometheus.Gauge
	StepDuration             *prometheus.HistogramVec
	TransactionsDecodedTotal prometheus.Counter
	StructuralTrialsTotal    *prometheus.CounterVec
	TransactionsLoadedTotal  *prometheus.CounterVec
	CacheHitsTotal           prometheus.Counter
	CacheMissesTotal         prometheus.Counter
	CircuitBreakerState      *prometheus.GaugeVec
}

// Outcome labels of StructuralTrialsTotal.
const (
	TrialSupported   = "supported"
	TrialUnsupported = "unsupported"
	TrialError       = "error"
)

// New creates all metrics and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		EMIterationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "em_iterations_total",
				Help: "Total hard EM generations completed.",
			},
		),
		AverageCost: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "em_average_cost",
				Help: "Average per-transaction encoding cost after the latest generation.",
			},
		),
		DictionarySize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "em_dictionary_size",
				Help: "Number of generators with positive probability.",
			},
		),
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "em_step_duration_seconds",
				Help:    "Duration of EM phases in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"phase"},
		),
		TransactionsDecodedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "em_transactions_decoded_total",
				Help: "Total transactions decoded by the E-step.",
			},
		),
		StructuralTrialsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "em_structural_trials_total",
				Help: "Structural trials by outcome (supported, unsupported, error).",
			},
			[]string{"outcome"},
		),
		TransactionsLoadedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "corpus_transactions_loaded_total",
				Help: "Transactions loaded into a corpus by source.",
			},
			[]string{"source"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dictionary_cache_hits_total",
				Help: "Total number of dictionary cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dictionary_cache_misses_total",
				Help: "Total number of dictionary cache misses.",
			},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.EMIterationsTotal,
		m.AverageCost,
		m.DictionarySize,
		m.StepDuration,
		m.TransactionsDecodedTotal,
		m.StructuralTrialsTotal,
		m.TransactionsLoadedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
