package server

import (
	"net/http"
	"time"

	"github.com/raffel-dev/raffel/core"
	"github.com/raffel-dev/raffel/core/ratelimit"
	"github.com/raffel-dev/raffel/runtime/events"
)

const (
	defaultHost             = ""
	defaultHTTPPort         = 8080
	defaultTCPPort          = 8081
	defaultUDPPort          = 8082
	defaultBasePath         = ""
	defaultMaxBodySize      = 1 << 20
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownGrace    = 10 * time.Second
	defaultWSMaxConnections = 1024
)

// Option configures a Server at construction: a struct of defaults, mutated
// in order by whichever Options the caller supplies.
type Option func(*Server)

// WithHost sets the bind address of the HTTP listener. The TCP and UDP
// adapters listen on all interfaces on their own ports; host does not apply
// to them.
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithHTTPPort sets the port serving HTTP/REST, SSE, JSON-RPC, and
// WebSocket — all HTTP-upgradeable protocols share one listener.
func WithHTTPPort(port int) Option {
	return func(s *Server) { s.httpPort = port }
}

// WithTCPPort enables the raw-TCP adapter on port. TCP stays disabled
// unless this option is given.
func WithTCPPort(port int) Option {
	return func(s *Server) { s.tcpPort = port; s.tcpEnabled = true }
}

// WithUDPPort enables the UDP adapter on port.
func WithUDPPort(port int) Option {
	return func(s *Server) { s.udpPort = port; s.udpEnabled = true }
}

// WithBasePath sets the path prefix the HTTP adapter strips before
// resolving a procedure name.
func WithBasePath(basePath string) Option {
	return func(s *Server) { s.basePath = basePath }
}

// WithMaxBodySize overrides the HTTP and JSON-RPC adapters' request body cap.
func WithMaxBodySize(n int64) Option {
	return func(s *Server) { s.maxBodySize = n }
}

// WithReadTimeout overrides the shared HTTP server's read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(s *Server) { s.readTimeout = d }
}

// WithWriteTimeout overrides the shared HTTP server's write timeout.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// WithIdleTimeout overrides the shared HTTP server's keep-alive idle timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.idleTimeout = d }
}

// WithShutdownGrace bounds how long Shutdown waits for in-flight calls
// (HTTP requests, WebSocket sessions, TCP streams) to drain before closing
// transports unconditionally.
func WithShutdownGrace(d time.Duration) Option {
	return func(s *Server) { s.shutdownGrace = d }
}

// WithWSMaxConnections bounds concurrently upgraded WebSocket sockets.
func WithWSMaxConnections(n int64) Option {
	return func(s *Server) { s.wsMaxConnections = n }
}

// WithValidator attaches v as the Router's JSON-Schema validator. Pass
// runtime/validators.NewSchemaValidator() for the bundled implementation.
func WithValidator(v core.Validator) Option {
	return func(s *Server) { s.validator = v }
}

// WithTracer attaches t as the Router's distributed tracer. Pass
// runtime/telemetry.NewOTelTracer(tp) for the bundled OTel implementation.
func WithTracer(t core.Tracer) Option {
	return func(s *Server) { s.tracer = t }
}

// WithMetrics attaches m as the Router's metric sink and, if scrapeHandler
// is non-nil (typically a *prometheus.Exporter's Handler()), mounts it at
// /metrics on the shared HTTP listener.
func WithMetrics(m core.MetricSink, scrapeHandler http.Handler) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsHandler = scrapeHandler
	}
}

// WithRateLimit adds a token-bucket rate limiter to the interceptor chain,
// rejecting calls per limiter.New's semantics once the bucket for a key is
// exhausted.
func WithRateLimit(limiter *ratelimit.Limiter) Option {
	return func(s *Server) { s.rateLimiters = append(s.rateLimiters, limiter) }
}

// WithInterceptors appends additional interceptors to the chain, running
// after any rate limiters added via WithRateLimit, in the order given.
func WithInterceptors(interceptors ...core.Interceptor) Option {
	return func(s *Server) { s.extraInterceptors = append(s.extraInterceptors, interceptors...) }
}

// WithEvents attaches bus as the Router's lifecycle event publisher.
// Server itself subscribes a debug-log listener; callers can add their own
// via bus.Subscribe/SubscribeAll before passing it in, or afterward on the
// same bus (also reachable as Server.Router.Events).
func WithEvents(bus *events.EventBus) Option {
	return func(s *Server) { s.events = bus }
}
