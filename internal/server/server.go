// Package server assembles the HTTP router and the middleware shared by all
// routes: request IDs, logging, metrics, panic recovery, CORS and the API key
// and rate limit gates of protected routes.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/api/response"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/auth"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/ratelimit"
)

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 100 << 10

// Config holds the parameters of the HTTP layer.
type Config struct {
	Port int

	// AllowedOrigin is the single CORS origin. Empty disables CORS headers.
	AllowedOrigin string

	// Keys and Limiter gate the protected routes.
	Keys    *auth.KeySet
	Limiter *ratelimit.Limiter

	// RequestTimeout bounds protected requests. Zero means no timeout.
	RequestTimeout time.Duration

	// ServiceName names the server spans.
	ServiceName string
}

type Server struct {
	Router *chi.Mux
	Port   int

	cfg        Config
	logger     *slog.Logger
	errors     *ErrorHandler
	httpServer *http.Server
}

func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "life-insurance-api"
	}

	s := &Server{
		Router: chi.NewRouter(),
		Port:   cfg.Port,
		cfg:    cfg,
		logger: logger,
		errors: NewErrorHandler(logger),
	}

	r := s.Router

	// Wrap with OpenTelemetry HTTP instrumentation
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, cfg.ServiceName)
	})
	r.Use(middleware.Heartbeat("/healthz"))

	// Apply middleware in order
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	r.Use(MetricsMiddleware)
	r.Use(s.errors.Recover)
	r.Use(CORSMiddleware(cfg.AllowedOrigin))
	r.Use(middleware.RequestSize(MaxBodyBytes))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		response.Failure(w, http.StatusNotFound, response.MsgNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Failure(w, http.StatusMethodNotAllowed, response.MsgMethodNotAllowed)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	return s
}

// Protected mounts a route group at prefix behind the API key and rate limit
// gates. The gates run before routing inside the group, so unmatched paths and
// methods under prefix are rejected by them first. All protected groups share
// one limiter, so an identity has a single quota.
func (s *Server) Protected(prefix string, fn func(r chi.Router)) {
	s.Router.Route(prefix, func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.Keys))
		r.Use(RateLimitMiddleware(s.cfg.Limiter, s.errors))
		r.Use(TimeoutMiddleware(s.cfg.RequestTimeout))
		fn(r)
	})
}

// Errors returns the catch-all error handler.
func (s *Server) Errors() *ErrorHandler {
	return s.errors
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.Router
}

// Start listens on the configured port and serves until Shutdown.
// It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", slog.String("addr", ln.Addr().String()))
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
