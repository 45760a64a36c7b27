// Package metrics holds the Prometheus instrumentation for the edge server.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request classes used as metric labels.
const (
	ClassStatic    = "static"
	ClassProxy     = "proxy"
	ClassWebsocket = "websocket"
)

// Metrics holds all Prometheus metrics for the pzserve process.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	UpstreamLatency     prometheus.Histogram
	UpstreamErrorsTotal prometheus.Counter

	WebsocketSessionsTotal prometheus.Counter
}

// New creates a Metrics instance with every collector registered on its own
// registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pzserve_http_requests_total",
			Help: "Total number of HTTP requests served by class, method and status",
		},
		[]string{"class", "method", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pzserve_http_request_duration_seconds",
			Help:    "End-to-end request duration in seconds by class",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"class"},
	)

	upstreamLatency := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pzserve_upstream_latency_seconds",
			Help:    "Time from outbound dispatch to backend response headers",
			Buckets: prometheus.DefBuckets,
		},
	)

	upstreamErrorsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pzserve_upstream_errors_total",
			Help: "Total number of failed backend calls",
		},
	)

	websocketSessionsTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pzserve_websocket_sessions_total",
			Help: "Total number of websocket sessions bridged to the backend",
		},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		upstreamLatency,
		upstreamErrorsTotal,
		websocketSessionsTotal,
	)

	return &Metrics{
		registry:               registry,
		RequestsTotal:          requestsTotal,
		RequestDuration:        requestDuration,
		UpstreamLatency:        upstreamLatency,
		UpstreamErrorsTotal:    upstreamErrorsTotal,
		WebsocketSessionsTotal: websocketSessionsTotal,
	}
}

// Registry returns the Prometheus registry backing this instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records one completed request.
func (m *Metrics) RecordRequest(class, method string, status int, seconds float64) {
	m.RequestsTotal.WithLabelValues(class, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(class).Observe(seconds)
}

// RecordUpstreamLatency records the headers-received latency of one backend
// call.
func (m *Metrics) RecordUpstreamLatency(seconds float64) {
	m.UpstreamLatency.Observe(seconds)
}

// RecordUpstreamError records a failed backend call.
func (m *Metrics) RecordUpstreamError() {
	m.UpstreamErrorsTotal.Inc()
}

// RecordWebsocketSession records an established websocket bridge.
func (m *Metrics) RecordWebsocketSession() {
	m.WebsocketSessionsTotal.Inc()
}
