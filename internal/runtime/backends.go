package runtime

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/backend"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/backend/sqldb"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/backend/supabase"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/config"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/ratelimit"
)

// newBackend builds the backend selected by cfg.Backend.Type.
func newBackend(ctx context.Context, cfg *config.Config, httpClient *http.Client, version string) (backend.Backend, error) {
	switch cfg.Backend.Type {
	case "supabase":
		opts := []supabase.ClientOption{}
		if httpClient != nil {
			opts = append(opts, supabase.WithHTTPClient(httpClient))
		}
		if version != "" {
			opts = append(opts, supabase.WithUserAgent("life-insurance-api/"+version))
		}
		return supabase.NewClient(cfg.Backend.Supabase.URL, cfg.Backend.Supabase.Key, opts...), nil

	case "postgres":
		return sqldb.New(ctx, sqldb.Config{Driver: "postgres", DSN: cfg.Backend.DatabaseURL})

	case "sqlite":
		path := cfg.SQLitePath()
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		return sqldb.NewSQLite(ctx, path)

	default:
		return nil, fmt.Errorf("unknown backend type %q", cfg.Backend.Type)
	}
}

// newLimiterStore builds the store selected by cfg.RateLimit.Store.
func newLimiterStore(ctx context.Context, cfg *config.Config) (ratelimit.Store, error) {
	switch cfg.RateLimit.Store {
	case "memory":
		return ratelimit.NewMemoryStore(), nil
	case "redis":
		return ratelimit.DialRedis(ctx, cfg.RateLimit.RedisURL)
	default:
		return nil, fmt.Errorf("unknown rate limit store %q", cfg.RateLimit.Store)
	}
}

// ensureDir creates the parent directory of a SQLite file path.
func ensureDir(path string) error {
	if path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}
