// Package metrics provides Prometheus instrumentation for bookrag.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for bookrag.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
	CacheHitsTotal  *prometheus.CounterVec
	StreamTokens    *prometheus.CounterVec
	MCPRequests     *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all bookrag metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrag_requests_total",
				Help: "Total HTTP requests by endpoint and status code.",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bookrag_request_duration_seconds",
				Help:    "HTTP request latency distribution.",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		ActiveRequests: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bookrag_active_requests",
				Help: "Number of requests currently being processed.",
			},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrag_cache_hits_total",
				Help: "Response cache lookups by tier (exact, semantic, miss).",
			},
			[]string{"tier"},
		),
		StreamTokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrag_stream_tokens_total",
				Help: "Tokens forwarded to clients by ingress kind.",
			},
			[]string{"kind"},
		),
		MCPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bookrag_mcp_requests_total",
				Help: "MCP JSON-RPC requests by method and result code.",
			},
			[]string{"method", "code"},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.CacheHitsTotal,
		m.StreamTokens,
		m.MCPRequests,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed request's metrics.
func (m *Metrics) RecordRequest(endpoint string, statusCode int, duration time.Duration) {
	status := strconv.Itoa(statusCode)
	m.RequestsTotal.WithLabelValues(endpoint, status).Inc()
	m.RequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// RecordCacheResult records an exact/semantic/miss cache lookup.
func (m *Metrics) RecordCacheResult(tier string) {
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// RecordStreamToken records one forwarded token for an ingress kind.
func (m *Metrics) RecordStreamToken(kind string) {
	m.StreamTokens.WithLabelValues(kind).Inc()
}

// RecordMCPRequest records an MCP JSON-RPC method call's outcome.
func (m *Metrics) RecordMCPRequest(method, code string) {
	m.MCPRequests.WithLabelValues(method, code).Inc()
}

// Middleware returns an HTTP middleware that instruments requests.
func (m *Metrics) Middleware(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.ActiveRequests.Inc()
		defer m.ActiveRequests.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rw, r)

		m.RecordRequest(endpoint, rw.statusCode, time.Since(start))
	}
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying ResponseWriter's Flusher, so SSE
// handlers behind Middleware keep working — http.ResponseWriter alone
// does not expose Flush.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
