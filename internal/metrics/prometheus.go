// Package metrics records ingestion, evaluation and HTTP metrics with
// Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds every collector the service exports.
type Recorder struct {
	gatherer prometheus.Gatherer

	ingested       *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	venueHealthy   *prometheus.GaugeVec
	evaluations    *prometheus.CounterVec
	signals        *prometheus.CounterVec
	signalsExpired prometheus.Counter
	latency        *prometheus.HistogramVec
	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
}

// New creates a recorder registered with reg. A nil reg uses a fresh
// registry, which keeps tests from colliding on the global one.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Recorder{
		gatherer: reg,
		ingested: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuearb_ingested_total",
				Help: "Records written by venue ingestion, by kind (market, order_book, trade)",
			},
			[]string{"venue", "kind"},
		),
		ingestErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuearb_ingest_errors_total",
				Help: "Ingestion failures by venue and operation",
			},
			[]string{"venue", "op"},
		),
		venueHealthy: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "venuearb_venue_healthy",
				Help: "1 when the venue's last acquisition pass succeeded",
			},
			[]string{"venue"},
		),
		evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuearb_pair_evaluations_total",
				Help: "Pair evaluations by outcome (signal, suppressed, error)",
			},
			[]string{"outcome"},
		),
		signals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuearb_signals_total",
				Help: "Signals emitted by strategy and arbitrage flag",
			},
			[]string{"strategy", "arbitrage"},
		),
		signalsExpired: f.NewCounter(
			prometheus.CounterOpts{
				Name: "venuearb_signals_expired_total",
				Help: "Signals transitioned to expired",
			},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "venuearb_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		httpRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "venuearb_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route", "method", "status"},
		),
		httpDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "venuearb_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),
	}
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// RecordIngested counts n records of kind written for venue.
func (r *Recorder) RecordIngested(venue, kind string, n int) {
	if n <= 0 {
		return
	}
	r.ingested.WithLabelValues(venue, kind).Add(float64(n))
}

// RecordIngestError counts an ingestion failure.
func (r *Recorder) RecordIngestError(venue, op string) {
	r.ingestErrors.WithLabelValues(venue, op).Inc()
}

// SetVenueHealthy records the venue's health.
func (r *Recorder) SetVenueHealthy(venue string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	r.venueHealthy.WithLabelValues(venue).Set(v)
}

// RecordEvaluation counts one pair evaluation outcome.
func (r *Recorder) RecordEvaluation(outcome string) {
	r.evaluations.WithLabelValues(outcome).Inc()
}

// RecordSignal counts an emitted signal.
func (r *Recorder) RecordSignal(strategy string, arbitrage bool) {
	flag := "false"
	if arbitrage {
		flag = "true"
	}
	r.signals.WithLabelValues(strategy, flag).Inc()
}

// RecordExpired counts expired signals.
func (r *Recorder) RecordExpired(n int64) {
	if n > 0 {
		r.signalsExpired.Add(float64(n))
	}
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// RecordHTTP records one served request.
func (r *Recorder) RecordHTTP(route, method, status string, seconds float64) {
	r.httpRequests.WithLabelValues(route, method, status).Inc()
	r.httpDuration.WithLabelValues(route, method).Observe(seconds)
}
