// Package server exposes the read-mostly status API: liveness, engine
// progress, positions and the risk gate, plus the manual kill-switch reset.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfish/polyarb/internal/server/handler"
	"github.com/quantfish/polyarb/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port   int
	APIKey string // empty disables authentication
}

// Handlers aggregates the handlers the server registers.
type Handlers struct {
	Health    *handler.HealthHandler
	Status    *handler.StatusHandler
	Positions *handler.PositionHandler
	Risk      *handler.RiskHandler
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a Server with all routes registered. The health endpoint is
// reachable without authentication; everything under /api/v1 is behind the
// API key when one is configured.
func New(cfg Config, handlers Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/status", handlers.Status.Status)
	api.HandleFunc("GET /api/v1/positions", handlers.Positions.ListPositions)
	api.HandleFunc("GET /api/v1/risk", handlers.Risk.Summary)
	api.HandleFunc("POST /api/v1/risk/reset", handlers.Risk.ResetKillSwitch)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", handlers.Health.Health)
	root.Handle("/api/v1/", middleware.Auth(cfg.APIKey)(api))

	h := middleware.Logging(logger)(root)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Start listens for HTTP requests until the server errors or shuts down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
