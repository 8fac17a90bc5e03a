// Package api serves the relayer's HTTP surface.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snzup/subscription-relayer/relayer/metrics"
)

// Options configures the HTTP server
type Options struct {
	Port int
	// RateLimit is the request rate allowed per client address, 0 disables it
	RateLimit      float64
	RateBurst      int
	RequestTimeout time.Duration
	ProbeTimeout   time.Duration
}

// Server provides HTTP endpoints
type Server struct {
	svc      ChallengeService
	prober   Prober
	gatherer prometheus.Gatherer
	metrics  *metrics.Metrics
	limiter  *clientLimiter
	opts     Options
	logger   zerolog.Logger

	handler http.Handler
	server  *http.Server

	mu   sync.Mutex
	addr net.Addr
}

// NewServer creates a new Server instance. A nil gatherer serves the
// default Prometheus registry.
func NewServer(svc ChallengeService, prober Prober, gatherer prometheus.Gatherer, m *metrics.Metrics, opts Options, logger zerolog.Logger) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 3 * time.Second
	}
	s := &Server{
		svc:      svc,
		prober:   prober,
		gatherer: gatherer,
		metrics:  m,
		limiter:  newClientLimiter(opts.RateLimit, opts.RateBurst),
		opts:     opts,
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.handler = s.setupRoutes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for embedding and tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start binds the port and serves in the background. A bind failure is
// returned before anything is served.
func (s *Server) Start() error {
	if s.server == nil {
		return fmt.Errorf("query server is nil")
	}

	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind to address %s: %w", s.server.Addr, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("query server listening")

	go func() {
		err := s.server.Serve(ln)
		switch err {
		case nil:
			s.logger.Info().Msg("Query server stopped normally")
		case http.ErrServerClosed:
			s.logger.Info().Msg("Query server closed gracefully")
		default:
			s.logger.Error().Err(err).Msg("Query server error")
		}
	}()
	return nil
}

// Addr returns the bound address once Start succeeded
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop gracefully shuts down the HTTP server, letting in-flight requests
// finish until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return err
	}
	return nil
}
