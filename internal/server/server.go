// Package server exposes the paper trading API over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/alanyoungcy/paperbot/internal/domain"
	"github.com/alanyoungcy/paperbot/internal/server/handler"
	"github.com/alanyoungcy/paperbot/internal/server/middleware"
	"github.com/alanyoungcy/paperbot/internal/server/ws"
)

const healthPath = "/api/health"

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // if empty, authentication is disabled

	// RateLimit is requests per RateWindow per client IP. Zero disables it.
	RateLimit  int
	RateWindow time.Duration
}

// Handlers aggregates the HTTP handlers the server registers. Nil optional
// handlers leave their routes unregistered.
type Handlers struct {
	Health    *handler.HealthHandler
	Portfolio *handler.PortfolioHandler
	Trades    *handler.TradeHandler
	Metrics   *handler.MetricsHandler
	AutoTrade *handler.AutoTradeHandler
	Signals   *handler.SignalHandler // optional
	Audit     *handler.AuditHandler  // optional
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer registers all routes and wraps them in the middleware chain.
// limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, hub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+healthPath, handlers.Health.HealthCheck)

	mux.HandleFunc("GET /api/portfolio", handlers.Portfolio.GetPortfolio)
	mux.HandleFunc("GET /api/portfolio/positions", handlers.Portfolio.ListPositions)
	mux.HandleFunc("GET /api/portfolio/trades", handlers.Portfolio.ListClosedTrades)
	mux.HandleFunc("POST /api/portfolio/reset", handlers.Portfolio.Reset)
	mux.HandleFunc("POST /api/portfolio/save", handlers.Portfolio.Save)
	mux.HandleFunc("POST /api/portfolio/load", handlers.Portfolio.Load)

	mux.HandleFunc("POST /api/trades", handlers.Trades.PlaceTrade)
	mux.HandleFunc("GET /api/metrics", handlers.Metrics.GetMetrics)

	mux.HandleFunc("GET /api/autotrade/status", handlers.AutoTrade.GetStatus)
	mux.HandleFunc("POST /api/autotrade/start", handlers.AutoTrade.Start)
	mux.HandleFunc("POST /api/autotrade/stop", handlers.AutoTrade.Stop)
	mux.HandleFunc("PUT /api/autotrade/config", handlers.AutoTrade.UpdateConfig)
	mux.HandleFunc("POST /api/autotrade/clear-processed", handlers.AutoTrade.ClearProcessed)
	mux.HandleFunc("GET /api/autotrade/decisions", handlers.AutoTrade.ListDecisions)

	if handlers.Signals != nil {
		mux.HandleFunc("POST /api/signals", handlers.Signals.PostSignals)
	}
	if handlers.Audit != nil {
		mux.HandleFunc("GET /api/audit", handlers.Audit.ListAudit)
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey, healthPath)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		window := cfg.RateWindow
		if window <= 0 {
			window = time.Second
		}
		h = middleware.RateLimit(limiter, cfg.RateLimit, window, logger)(h)
	}
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      h,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		handler: h,
		logger:  logger,
	}
}

// Handler returns the fully wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("server: starting", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: serve: %w", err)
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
