// Package server composes core.Router with one adapter per transport
// (HTTP/REST+SSE, JSON-RPC, WebSocket, TCP, UDP) into a single process with
// one construction-time Option set and one Shutdown sequence.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/raffel-dev/raffel/core"
	"github.com/raffel-dev/raffel/runtime/events"
	"github.com/raffel-dev/raffel/transport/httpadapter"
	"github.com/raffel-dev/raffel/transport/jsonrpc"
	"github.com/raffel-dev/raffel/transport/tcp"
	"github.com/raffel-dev/raffel/transport/udp"
	"github.com/raffel-dev/raffel/transport/ws"

	raffelerrors "github.com/raffel-dev/raffel/pkg/errors"
	"github.com/raffel-dev/raffel/core/ratelimit"
)

// Server composes a core.Router with every transport adapter: HTTP/REST+SSE,
// JSON-RPC, and WebSocket share one *http.Server on one port since all three
// are HTTP-upgradeable and the CLI surface names a single --port; TCP and UDP
// get their own dedicated listeners since they are raw-socket protocols with
// no HTTP framing to multiplex on.
type Server struct {
	Router *core.Router
	Engine *ws.Engine

	host     string
	httpPort int
	basePath string

	tcpEnabled bool
	tcpPort    int
	udpEnabled bool
	udpPort    int

	maxBodySize      int64
	readTimeout      time.Duration
	writeTimeout     time.Duration
	idleTimeout      time.Duration
	shutdownGrace    time.Duration
	wsMaxConnections int64

	validator         core.Validator
	tracer            core.Tracer
	metrics           core.MetricSink
	metricsHandler    http.Handler
	events            *events.EventBus
	rateLimiters      []*ratelimit.Limiter
	extraInterceptors []core.Interceptor

	logger *slog.Logger

	httpAdapter    *httpadapter.Adapter
	jsonrpcAdapter *jsonrpc.Adapter
	wsAdapter      *ws.Adapter
	tcpAdapter     *tcp.Adapter
	udpAdapter     *udp.Adapter

	httpSrv *http.Server
	httpLn  net.Listener

	ready atomic.Bool
	wg    sync.WaitGroup
}

// HTTPAddr returns the shared HTTP listener's bound address. Only valid
// once ListenAndServe has been called; used by tests and by callers that
// bound to port 0 and need to discover the assigned port.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpLn == nil {
		return nil
	}
	return s.httpLn.Addr()
}

// New builds a Server around registry, applying opts in order. The Router's
// Chain is assembled from any rate limiters (WithRateLimit) followed by any
// extra interceptors (WithInterceptors), in that order.
func New(registry *core.Registry, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		host:             defaultHost,
		httpPort:         defaultHTTPPort,
		tcpPort:          defaultTCPPort,
		udpPort:          defaultUDPPort,
		basePath:         defaultBasePath,
		maxBodySize:      defaultMaxBodySize,
		readTimeout:      defaultReadTimeout,
		writeTimeout:     defaultWriteTimeout,
		idleTimeout:      defaultIdleTimeout,
		shutdownGrace:    defaultShutdownGrace,
		wsMaxConnections: defaultWSMaxConnections,
		logger:           logger,
		Engine:           ws.NewEngine(),
	}
	for _, opt := range opts {
		opt(s)
	}

	chain := buildChain(s.rateLimiters, s.extraInterceptors)
	s.Router = core.NewRouter(registry, chain, logger)
	s.Router.Validator = s.validator
	s.Router.Tracer = s.tracer
	s.Router.Metrics = s.metrics
	s.Router.Events = s.events
	if s.events != nil {
		s.events.SubscribeAll(func(e *events.Event) {
			logger.Debug("call lifecycle event", "type", e.Type, "request_id", e.RequestID)
		})
	}

	s.httpAdapter = httpadapter.New(s.Router, s.basePath)
	s.httpAdapter.MaxBodySize = s.maxBodySize
	s.jsonrpcAdapter = jsonrpc.New(s.Router)
	s.jsonrpcAdapter.MaxBodySize = s.maxBodySize
	s.wsAdapter = ws.New(s.Router, s.Engine, logger, s.wsMaxConnections)

	if s.tcpEnabled {
		s.tcpAdapter = tcp.New(s.Router, logger, s.tcpPort)
	}
	if s.udpEnabled {
		s.udpAdapter = udp.New(s.Router, logger, s.udpPort)
	}

	return s
}

func buildChain(limiters []*ratelimit.Limiter, extra []core.Interceptor) *core.Chain {
	interceptors := make([]core.Interceptor, 0, len(limiters)+len(extra))
	for _, l := range limiters {
		interceptors = append(interceptors, l.Interceptor())
	}
	interceptors = append(interceptors, extra...)
	return core.NewChain(interceptors...)
}

// Ready reports true once ListenAndServe has bound the HTTP listener and
// started the TCP/UDP adapters (which bind their sockets on their own
// goroutines), and false again once Shutdown begins, backing the HTTP
// adapter's /readyz.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// mux builds the shared HTTP mux: the HTTP/REST+SSE adapter's own mux at
// the base path, JSON-RPC at /rpc, WebSocket at /ws, and an optional
// /metrics scrape endpoint.
func (s *Server) mux() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", s.httpAdapter.Handler(s.Ready))
	mux.Handle("/rpc", s.jsonrpcAdapter)
	mux.Handle("/ws", s.wsAdapter)
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}
	return mux
}

// ListenAndServe binds every enabled listener and blocks until Shutdown is
// called or a listener fails. It returns the first error encountered.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.host, s.httpPort))
	if err != nil {
		return raffelerrors.Wrap(raffelerrors.Unavailable, "server", "ListenAndServe", err).
			WithDetails(map[string]any{"listener": "http", "port": s.httpPort})
	}
	s.httpLn = ln
	s.Router.Registry.Freeze()

	s.httpSrv = &http.Server{
		Handler:      s.mux(),
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
		IdleTimeout:  s.idleTimeout,
	}

	errCh := make(chan error, 3)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- raffelerrors.Wrap(raffelerrors.Unavailable, "server", "ListenAndServe", err).
				WithDetails(map[string]any{"listener": "http", "port": s.httpPort})
		}
	}()

	if s.tcpAdapter != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.tcpAdapter.ListenAndServe(); err != nil {
				errCh <- raffelerrors.Wrap(raffelerrors.Unavailable, "server", "ListenAndServe", err).
					WithDetails(map[string]any{"listener": "tcp", "port": s.tcpPort})
			}
		}()
	}

	if s.udpAdapter != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.udpAdapter.ListenAndServe(); err != nil {
				errCh <- raffelerrors.Wrap(raffelerrors.Unavailable, "server", "ListenAndServe", err).
					WithDetails(map[string]any{"listener": "udp", "port": s.udpPort})
			}
		}()
	}

	s.ready.Store(true)
	s.logger.Info("server listening", "host", s.host, "http_port", s.httpPort,
		"tcp_enabled", s.tcpEnabled, "udp_enabled", s.udpEnabled)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
		return nil
	}
}

// Shutdown drains in-flight calls across every enabled transport within the
// configured grace period (or ctx's own deadline, whichever is tighter),
// then closes all listeners: stop accepting, let in-flight work finish,
// close transports, release ports.
func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)

	graceCtx, cancel := context.WithTimeout(ctx, s.shutdownGrace)
	defer cancel()

	var errs []error

	if err := s.wsAdapter.AcquireForShutdown(graceCtx); err != nil {
		s.logger.Warn("websocket connections did not drain before shutdown grace expired", "error", err)
	}

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(graceCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.tcpAdapter != nil {
		if err := s.tcpAdapter.Shutdown(graceCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.udpAdapter != nil {
		if err := s.udpAdapter.Shutdown(graceCtx); err != nil {
			errs = append(errs, err)
		}
	}

	s.wg.Wait()
	return errors.Join(errs...)
}
