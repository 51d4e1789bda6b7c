// Package metrics defines the Prometheus metric collectors used across the
// annotator and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the annotator. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	RetrievalsTotal      *prometheus.CounterVec
	RetrievalLatency     *prometheus.HistogramVec
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	GroupBuildDuration   prometheus.Histogram
	GroupsTotal          prometheus.Gauge
	SpanEditsTotal       *prometheus.CounterVec
	PatternPassDuration  prometheus.Histogram
	PatternsRetained     prometheus.Gauge
	ActiveSessions       prometheus.Gauge
	EventsDroppedTotal   prometheus.Counter
}

// New creates all collectors and registers them with reg. A nil reg uses
// the default Prometheus registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
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
		RetrievalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "retrievals_total",
				Help: "Term index retrievals by kind (full, topk) and result (hit, empty, error).",
			},
			[]string{"kind", "result"},
		),
		RetrievalLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "retrieval_latency_seconds",
				Help:    "Term index retrieval latency in seconds.",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"kind"},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_hits_total",
				Help: "Total number of shared result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "result_cache_misses_total",
				Help: "Total number of shared result cache misses.",
			},
		),
		GroupBuildDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "group_build_duration_seconds",
				Help:    "Duration of a seed and expansion pass.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
		),
		GroupsTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "groups_total",
				Help: "Number of groups after the most recent build.",
			},
		),
		SpanEditsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "span_edits_total",
				Help: "Candidate spans by editor outcome.",
			},
			[]string{"outcome"},
		),
		PatternPassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pattern_pass_duration_seconds",
				Help:    "Duration of a full pattern scoring pass.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
		),
		PatternsRetained: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "patterns_retained",
				Help: "Number of (feature, label) pairs retained by the last pass.",
			},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "active_sessions",
				Help: "Number of logged-in annotation sessions.",
			},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "annotation_events_dropped_total",
				Help: "Annotation events dropped because the buffer was full.",
			},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RetrievalsTotal,
		m.RetrievalLatency,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.GroupBuildDuration,
		m.GroupsTotal,
		m.SpanEditsTotal,
		m.PatternPassDuration,
		m.PatternsRetained,
		m.ActiveSessions,
		m.EventsDroppedTotal,
	)

	return m
}

// ObserveRetrieval records one term index call.
func (m *Metrics) ObserveRetrieval(kind string, seconds float64, n int, err error) {
	if m == nil {
		return
	}
	result := "hit"
	switch {
	case err != nil:
		result = "error"
	case n == 0:
		result = "empty"
	}
	m.RetrievalsTotal.WithLabelValues(kind, result).Inc()
	m.RetrievalLatency.WithLabelValues(kind).Observe(seconds)
}

// ObserveCache records a shared result cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.Inc()
	} else {
		m.CacheMissesTotal.Inc()
	}
}

// ObserveGroupBuild records a finished group pass.
func (m *Metrics) ObserveGroupBuild(seconds float64, groups int) {
	if m == nil {
		return
	}
	m.GroupBuildDuration.Observe(seconds)
	m.GroupsTotal.Set(float64(groups))
}

// ObserveSpanEdit counts one editor outcome.
func (m *Metrics) ObserveSpanEdit(outcome string) {
	if m == nil {
		return
	}
	m.SpanEditsTotal.WithLabelValues(outcome).Inc()
}

// ObservePatternPass records a finished scoring pass.
func (m *Metrics) ObservePatternPass(seconds float64, retained int) {
	if m == nil {
		return
	}
	m.PatternPassDuration.Observe(seconds)
	m.PatternsRetained.Set(float64(retained))
}

// SessionOpened and SessionClosed track the active session gauge.
func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}

// EventDropped counts an event lost to back-pressure.
func (m *Metrics) EventDropped() {
	if m != nil {
		m.EventsDroppedTotal.Inc()
	}
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// HandlerFor returns a scrape handler for a custom registry.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
