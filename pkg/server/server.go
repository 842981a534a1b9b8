// Package server provides the relay's HTTP listener and routing table.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ccrelay/ccrelay/pkg/config"
	"github.com/ccrelay/ccrelay/pkg/proxy"
	"github.com/ccrelay/ccrelay/pkg/proxy/handlers"
	"github.com/ccrelay/ccrelay/pkg/proxy/middleware"
	"github.com/ccrelay/ccrelay/pkg/registry"
	"github.com/ccrelay/ccrelay/pkg/routing"
	"github.com/ccrelay/ccrelay/pkg/telemetry/metrics"
)

// shutdownTimeout bounds graceful shutdown. In-flight streams get this long
// to finish before the listener is torn down.
const shutdownTimeout = 15 * time.Second

// Server is the relay's HTTP front: one listener carrying both service
// pipelines plus the local health, status, and metrics endpoints.
type Server struct {
	cfg          *config.Config
	reg          *registry.Registry
	router       *routing.Router
	exec         *proxy.Executor
	metrics      *metrics.RelayMetrics
	version      string
	lanURL       string
	httpServer   *http.Server
	shutdownOnce sync.Once
	mu           sync.RWMutex
	isRunning    bool
}

// NewServer assembles the relay server. metrics may be nil when the
// endpoint is disabled.
func NewServer(cfg *config.Config, reg *registry.Registry, router *routing.Router, exec *proxy.Executor, m *metrics.RelayMetrics, version, lanURL string) *Server {
	return &Server{
		cfg:     cfg,
		reg:     reg,
		router:  router,
		exec:    exec,
		metrics: m,
		version: version,
		lanURL:  lanURL,
	}
}

// ListenAddr returns the address the server binds.
func (s *Server) ListenAddr() string {
	return fmt.Sprintf("%s:%d", s.cfg.Listen.Address, s.cfg.Listen.Port)
}

// Start starts the HTTP server and blocks until ctx is canceled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return fmt.Errorf("server is already running")
	}
	s.isRunning = true
	s.mu.Unlock()

	s.httpServer = &http.Server{
		Addr:              s.ListenAddr(),
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.Listen.ReadHeaderTimeout,
		IdleTimeout:       s.cfg.Listen.IdleTimeout,
		// No WriteTimeout: it would sever long-lived event streams.
	}

	errChan := make(chan error, 1)
	go func() {
		slog.Info("relay listening",
			"address", s.httpServer.Addr,
			"lan_url", s.lanURL,
		)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err := <-errChan:
		return err
	}
}

// Shutdown gracefully drains and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.mu.Lock()
		if !s.isRunning {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		slog.Info("initiating graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
				slog.Error("error during server shutdown", "error", err)
				shutdownErr = fmt.Errorf("server shutdown error: %w", err)
			}
		}

		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()

		slog.Info("relay stopped")
	})

	return shutdownErr
}

// Handler builds the routing table and middleware chain.
//
// Service paths mirror what the CLIs send: the claude CLI posts to
// /v1/messages and the codex CLI posts to /responses (newer builds) or
// /v1/responses.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Forward routes are POST-only; the mux answers 405 for anything else.
	if s.reg.Len(registry.ServiceClaude) > 0 {
		claude := handlers.NewForwarder(registry.ServiceClaude, s.exec, s.metrics)
		mux.Handle("POST /v1/messages", claude)
		mux.Handle("POST /v1/messages/", claude)
	}
	if s.reg.Len(registry.ServiceCodex) > 0 {
		codex := handlers.NewForwarder(registry.ServiceCodex, s.exec, s.metrics)
		mux.Handle("POST /responses", codex)
		mux.Handle("POST /responses/", codex)
		mux.Handle("POST /v1/responses", codex)
		mux.Handle("POST /v1/responses/", codex)
	}

	mux.Handle("/healthz", handlers.Health(s.reg))
	mux.Handle("/status", handlers.NewStatus(s.reg, s.router, s.version, s.ListenAddr(), s.lanURL))

	if s.metrics != nil && s.cfg.Telemetry.Metrics.Enabled {
		mux.Handle(s.cfg.Telemetry.Metrics.Path, s.metrics.Handler())
	}

	var handler http.Handler = mux
	handler = middleware.BodyLimit(s.cfg.Limits.MaxBodyBytes)(handler)
	handler = middleware.Logging(handler)
	handler = middleware.RequestID(handler)
	handler = middleware.Recovery(handler)

	return handler
}

// IsRunning reports whether the server has been started and not stopped.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
