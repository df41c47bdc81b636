// Package server exposes the risk engine over HTTP and streams bus events to
// WebSocket clients.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wesso80/marketscannerpros-sub008/internal/domain"
	"github.com/wesso80/marketscannerpros-sub008/internal/metrics"
	"github.com/wesso80/marketscannerpros-sub008/internal/server/handler"
	"github.com/wesso80/marketscannerpros-sub008/internal/server/middleware"
	"github.com/wesso80/marketscannerpros-sub008/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per window per client; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Risk, Exit and Evolution may be nil when the process mode does not run the
// corresponding service.
type Handlers struct {
	Health    *handler.HealthHandler
	Risk      *handler.RiskHandler
	Exit      *handler.ExitHandler
	Evolution *handler.EvolutionHandler
}

// Server is the HTTP + WebSocket API server of the risk daemon.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered on the ServeMux.
// It wires up middleware (CORS, logging, rate limit, auth) and attaches the
// WebSocket hub and the metrics endpoint. limiter, hub and m may be nil.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, m *metrics.Metrics, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	if h := handlers.Risk; h != nil {
		mux.HandleFunc("POST /api/risk/snapshot", h.Snapshot)
		mux.HandleFunc("POST /api/risk/exit-plan", h.ExitPlan)
		mux.HandleFunc("POST /api/risk/size", h.Size)
		mux.HandleFunc("POST /api/risk/leverage", h.Leverage)
		mux.HandleFunc("POST /api/risk/candidate", h.Candidate)
	}

	if h := handlers.Exit; h != nil {
		mux.HandleFunc("POST /api/exit/evaluate", h.Evaluate)
		mux.HandleFunc("POST /api/positions", h.OpenPosition)
		mux.HandleFunc("GET /api/positions/{id}/verdict", h.LatestVerdict)
	}

	if h := handlers.Evolution; h != nil {
		mux.HandleFunc("POST /api/evolution/run", h.Run)
		mux.HandleFunc("GET /api/evolution/{group}/latest", h.Latest)
		mux.HandleFunc("GET /api/evolution/{group}/history", h.History)
		mux.HandleFunc("GET /api/params/{group}", h.Params)
	}

	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	// Build the middleware chain.
	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, "/api/health", "/metrics")(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(h)
	}
	h = middleware.Logging(logger, m)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	// Evolution runs are synchronous, so writes get a long deadline.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
	}
}

// Handler returns the root handler including middleware.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
