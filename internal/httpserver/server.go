// Package httpserver serves two traffic classes from one listening port:
// static files from a local directory and transparent forwarding of API
// traffic to a single upstream backend.
package httpserver

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/pzserve/pzserve/internal/config"
	"github.com/pzserve/pzserve/internal/metrics"
)

const streamBufferSize = 32 * 1024

// Server dispatches inbound requests to the static resolver or the proxy
// forwarder. It holds no per-request state; the shared fields are read-only
// after construction, so concurrent requests need no synchronization.
type Server struct {
	cfg     config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	client   *http.Client
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
}

// New constructs a server for the given configuration.
func New(cfg config.Config, logger *slog.Logger, m *metrics.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		logger:  logger.With("component", "httpserver"),
		metrics: m,
		client: &http.Client{
			// Zero keeps the historical no-deadline behavior.
			Timeout: cfg.UpstreamTimeout,
		},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  streamBufferSize,
			WriteBufferSize: streamBufferSize,
			// The edge sits in front of the backend; origin policy is
			// the backend's concern.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the root handler: the correlator wraps a two-way router
// that sends `<prefix>/*` to the proxy forwarder and everything else,
// including the bare prefix itself, to the static resolver.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	// Paths pass through unmodified; the static resolver applies its own
	// traversal guard instead of relying on URL cleaning.
	r.SkipClean(true)

	r.PathPrefix(s.cfg.APIPathPrefix + "/").HandlerFunc(s.handleProxy)
	r.PathPrefix("/").HandlerFunc(s.handleStatic)

	return s.correlate(r)
}
