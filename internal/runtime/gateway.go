// Package runtime provides the Gateway struct: it builds the backend, the
// rate limit store and the HTTP server from configuration and manages their
// lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/auth"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/backend"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/config"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/frontdoor"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/ratelimit"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/server"
)

// Gateway is the main entry point for running the API.
// It can be embedded in larger applications or run standalone.
type Gateway struct {
	cfg *config.Config

	// Dependencies (injected via options or built from config)
	backend    backend.Backend
	store      ratelimit.Store
	httpClient *http.Client
	logger     *slog.Logger
	version    string

	limiter *ratelimit.Limiter
	server  *server.Server

	// Lifecycle management
	mu       sync.Mutex
	ln       net.Listener
	cancel   context.CancelFunc
	serveErr chan error
}

// New creates a Gateway from cfg. Backend and rate limit store are built from
// cfg unless supplied with WithBackend and WithLimiterStore.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, errors.New("config required")
	}

	gw := &Gateway{
		cfg:      cfg,
		logger:   slog.Default(),
		serveErr: make(chan error, 1),
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(gw); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if gw.backend == nil {
		b, err := newBackend(ctx, cfg, gw.httpClient, gw.version)
		if err != nil {
			return nil, fmt.Errorf("create backend: %w", err)
		}
		gw.backend = b
	}

	if gw.store == nil {
		s, err := newLimiterStore(ctx, cfg)
		if err != nil {
			gw.backend.Close()
			return nil, fmt.Errorf("create rate limit store: %w", err)
		}
		gw.store = s
	}

	keys := auth.ParseKeys(cfg.Auth.APIKeys)
	if keys.Len() == 0 {
		gw.logger.Warn("no API keys configured, every protected request will be rejected")
	}

	gw.limiter = ratelimit.New(gw.store, cfg.RateLimit.MaxRequests, ratelimit.WithWindow(cfg.RateLimit.Window))

	gw.server = server.New(server.Config{
		Port:           cfg.Server.Port,
		AllowedOrigin:  cfg.Server.ApplicationURL,
		Keys:           keys,
		Limiter:        gw.limiter,
		RequestTimeout: cfg.Backend.Timeout,
		ServiceName:    cfg.Tracing.ServiceName,
	}, gw.logger)
	frontdoor.NewHandler(gw.backend, gw.server.Errors(), gw.logger).Mount(gw.server)

	gw.logger.Info("gateway configured",
		slog.String("backend", cfg.Backend.Type),
		slog.String("rate_limit_store", cfg.RateLimit.Store),
		slog.Int("max_requests", cfg.RateLimit.MaxRequests),
		slog.Duration("window", cfg.RateLimit.Window),
		slog.Int("api_keys", keys.Len()))

	return gw, nil
}

// Handler returns the HTTP handler, for embedding or tests.
func (g *Gateway) Handler() http.Handler {
	return g.server.Handler()
}

// Start binds the listener and serves in the background. Bind errors are
// returned directly; later serve errors are delivered on Err.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.ln != nil {
		return errors.New("gateway already started")
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", g.cfg.Server.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	g.ln = ln

	ctx, g.cancel = context.WithCancel(ctx)
	if mem, ok := g.store.(*ratelimit.MemoryStore); ok {
		mem.StartJanitor(ctx)
	}

	go func() {
		g.serveErr <- g.server.Serve(ln)
	}()

	g.logger.Info("gateway started", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr returns the bound address, or nil before Start.
func (g *Gateway) Addr() net.Addr {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return nil
	}
	return g.ln.Addr()
}

// Err delivers the result of the serve loop once it exits.
func (g *Gateway) Err() <-chan error {
	return g.serveErr
}

// Shutdown gracefully stops the gateway: in-flight requests are drained,
// then the rate limit store and the backend are closed.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.logger.Info("shutting down gateway")

	if g.cancel != nil {
		g.cancel()
	}

	var errs []error

	// Stop HTTP server
	if err := g.server.Shutdown(ctx); err != nil {
		g.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	// Close resources
	if err := g.limiter.Close(); err != nil {
		g.logger.Error("failed to close rate limit store", slog.String("error", err.Error()))
		errs = append(errs, err)
	}
	if err := g.backend.Close(); err != nil {
		g.logger.Error("failed to close backend", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	g.logger.Info("gateway shutdown complete")
	return errors.Join(errs...)
}
