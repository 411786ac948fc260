// Package server exposes the betting API over HTTP and websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/macrobet/internal/domain"
	"github.com/alanyoungcy/macrobet/internal/server/handler"
	"github.com/alanyoungcy/macrobet/internal/server/middleware"
	"github.com/alanyoungcy/macrobet/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables auth
	RateLimit   int    // write requests per RateWindow per IP; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health *handler.HealthHandler
	Events *handler.EventHandler
	Bets   *handler.BetHandler
	Users  *handler.UserHandler
}

// Server is the HTTP + websocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in the middleware
// chain. hub and limiter may be nil.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)

	mux.HandleFunc("POST /api/events", h.Events.Create)
	mux.HandleFunc("GET /api/events/upcoming", h.Events.ListUpcoming)
	mux.HandleFunc("GET /api/events/{id}", h.Events.Get)
	mux.HandleFunc("GET /api/events/{id}/odds", h.Events.Odds)
	mux.HandleFunc("POST /api/events/{id}/actual", h.Events.PostActual)
	mux.HandleFunc("GET /api/events/{id}/report", h.Events.Report)

	mux.HandleFunc("POST /api/bets", h.Bets.Place)
	mux.HandleFunc("GET /api/bets/user/{userId}", h.Bets.ListByUser)

	mux.HandleFunc("POST /api/users", h.Users.Create)
	mux.HandleFunc("GET /api/users/{id}", h.Users.Get)

	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var chain http.Handler = mux
	chain = middleware.Auth(cfg.APIKey)(chain)
	chain = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateWindow)(chain)
	chain = middleware.Logging(logger)(chain)
	chain = middleware.CORS(cfg.CORSOrigins)(chain)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           chain,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		handler: chain,
		logger:  logger.With(slog.String("component", "server")),
	}
}

// Handler returns the full middleware-wrapped handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
