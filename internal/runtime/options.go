package runtime

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/backend"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/ratelimit"
)

// Option is a functional option for configuring a Gateway.
type Option func(*Gateway) error

// WithLogger sets the logger used by the gateway and its middleware.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		g.logger = logger
		return nil
	}
}

// WithBackend uses b instead of the backend selected by configuration.
// The gateway takes ownership and closes it on Shutdown.
func WithBackend(b backend.Backend) Option {
	return func(g *Gateway) error {
		if b == nil {
			return errors.New("backend cannot be nil")
		}
		g.backend = b
		return nil
	}
}

// WithLimiterStore uses s instead of the rate limit store selected by
// configuration. The gateway closes it on Shutdown.
func WithLimiterStore(s ratelimit.Store) Option {
	return func(g *Gateway) error {
		if s == nil {
			return errors.New("rate limit store cannot be nil")
		}
		g.store = s
		return nil
	}
}

// WithHTTPClient sets the HTTP client used by the Supabase backend.
func WithHTTPClient(c *http.Client) Option {
	return func(g *Gateway) error {
		g.httpClient = c
		return nil
	}
}

// WithVersion sets the version reported in the backend User-Agent.
func WithVersion(version string) Option {
	return func(g *Gateway) error {
		g.version = version
		return nil
	}
}
