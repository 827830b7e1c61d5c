package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mercator-hq/sweeper/pkg/config"
	"mercator-hq/sweeper/pkg/retention"
	"mercator-hq/sweeper/pkg/retention/service"
	"mercator-hq/sweeper/pkg/telemetry/health"
)

// ChannelLister lists the channels under retention.
type ChannelLister interface {
	ListChannels(ctx context.Context) ([]service.ChannelSummary, error)
}

// AuditReader reads the audit trail.
type AuditReader interface {
	QueryAudit(ctx context.Context, query retention.AuditQuery) ([]*retention.AuditEntry, error)
}

// StatusFunc reports the scheduler's current state.
type StatusFunc func(ctx context.Context) (Status, error)

// Version identifies the running build.
type Version struct {
	Version   string
	Commit    string
	BuildTime string
}

// Deps are the handlers' data sources. Nil sources answer 404.
type Deps struct {
	Health   *health.Checker
	Metrics  http.Handler
	Channels ChannelLister
	Audit    AuditReader
	Status   StatusFunc
	Version  Version
	Logger   *slog.Logger
}

// Server is the ops HTTP server.
type Server struct {
	config     *config.ServerConfig
	metricPath string
	deps       Deps
	logger     *slog.Logger

	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
	addr         string
}

// New creates an ops server. metricsPath is where Deps.Metrics is mounted;
// empty uses the default.
func New(cfg *config.ServerConfig, metricsPath string, deps Deps) *Server {
	if metricsPath == "" {
		metricsPath = config.DefaultMetricsPath
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:     cfg,
		metricPath: metricsPath,
		deps:       deps,
		logger:     logger.With("component", "server"),
	}
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoverer(s.logger))
	r.Use(requestLogger(s.logger))

	if s.deps.Health != nil {
		r.Get("/healthz", s.deps.Health.LivenessHandler())
		r.Get("/readyz", s.deps.Health.ReadinessHandler())
	}
	r.Get("/version", health.VersionHandler(s.deps.Version.Version, s.deps.Version.Commit, s.deps.Version.BuildTime))
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, s.metricPath, s.deps.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/channels", s.handleChannels)
		r.Get("/audit", s.handleAudit)
		r.Get("/status", s.handleStatus)
	})
	return r
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.ListenAddress, err)
	}
	return s.Serve(ln)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		ln.Close()
		return fmt.Errorf("server is already running")
	}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.isRunning = true
	s.addr = ln.Addr().String()
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("starting ops server", "address", s.addr)
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Addr returns the address the server listens on, once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// IsRunning reports whether the server is serving.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// until ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		srv := s.httpServer
		running := s.isRunning
		s.mu.Unlock()
		if !running || srv == nil {
			return
		}

		start := time.Now()
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Error("error during server shutdown", "error", err)
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		s.logger.Info("ops server stopped", "duration_ms", time.Since(start).Milliseconds())
	})

	return shutdownErr
}
