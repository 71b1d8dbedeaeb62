// Package server is the HTTP + WebSocket control API.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/venuearb/internal/domain"
	"github.com/alanyoungcy/venuearb/internal/server/handler"
	"github.com/alanyoungcy/venuearb/internal/server/middleware"
	"github.com/alanyoungcy/venuearb/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port               int
	CORSOrigins        []string
	APIKey             string // if empty, authentication is disabled
	RateLimitPerMinute int    // 0 disables rate limiting
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health    *handler.HealthHandler
	Ingestion *handler.IngestionHandler
	Arbitrage *handler.ArbitrageHandler
	Metrics   http.Handler // optional
}

// Server is the headless HTTP + WebSocket control API.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS, logging, auth
// and rate limiting, outermost first. limiter and rec may be nil.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, rec middleware.HTTPRecorder, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/ingestion/venues", handlers.Ingestion.ListVenues)
	mux.HandleFunc("POST /api/ingestion/discover", handlers.Ingestion.Discover)
	mux.HandleFunc("POST /api/ingestion/ingest", handlers.Ingestion.Ingest)
	mux.HandleFunc("POST /api/ingestion/start", handlers.Ingestion.Start)
	mux.HandleFunc("POST /api/ingestion/stop", handlers.Ingestion.Stop)
	mux.HandleFunc("GET /api/ingestion/status", handlers.Ingestion.Status)
	mux.HandleFunc("POST /api/ingestion/test/{venue}", handlers.Ingestion.TestConnection)

	mux.HandleFunc("POST /api/arbitrage/evaluate", handlers.Arbitrage.Evaluate)
	mux.HandleFunc("GET /api/arbitrage/signals", handlers.Arbitrage.ListSignals)
	mux.HandleFunc("GET /api/arbitrage/signals/{id}", handlers.Arbitrage.GetSignal)
	mux.HandleFunc("POST /api/arbitrage/cleanup", handlers.Arbitrage.Cleanup)
	mux.HandleFunc("GET /api/arbitrage/stats", handlers.Arbitrage.Stats)

	if handlers.Metrics != nil {
		mux.Handle("GET /metrics", handlers.Metrics)
	}
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	if limiter != nil {
		h = middleware.RateLimit(limiter, cfg.RateLimitPerMinute, time.Minute)(h)
	}
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger, rec)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // full ingestion runs inside a request
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
