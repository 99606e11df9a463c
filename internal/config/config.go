package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultFile is the optional YAML file read before the environment.
const DefaultFile = "config.yaml"

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Backend   BackendConfig   `koanf:"backend"`
	Log       LogConfig       `koanf:"log"`
	Tracing   TracingConfig   `koanf:"tracing"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
	// ApplicationURL is the only origin allowed by CORS.
	ApplicationURL string `koanf:"application_url"`
}

type AuthConfig struct {
	// APIKeys is the raw comma-separated allow-list.
	APIKeys string `koanf:"api_keys"`
}

type RateLimitConfig struct {
	MaxRequests int           `koanf:"max_requests"`
	Window      time.Duration `koanf:"window"`
	Store       string        `koanf:"store"` // memory, redis
	RedisURL    string        `koanf:"redis_url"`
}

type BackendConfig struct {
	Type        string         `koanf:"type"` // supabase, postgres, sqlite
	Supabase    SupabaseConfig `koanf:"supabase"`
	DatabaseURL string         `koanf:"database_url"`
	// Timeout bounds each backend call. Zero waits indefinitely.
	Timeout time.Duration `koanf:"timeout"`
}

type SupabaseConfig struct {
	URL string `koanf:"url"`
	Key string `koanf:"key"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TracingConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
}

// envKeys maps the flat environment variable names onto config paths.
var envKeys = map[string]string{
	"PORT":                       "server.port",
	"APPLICATION_URL":            "server.application_url",
	"API_KEYS":                   "auth.api_keys",
	"MAX_REQUEST_PER_15_MINUTES": "ratelimit.max_requests",
	"RATE_LIMIT_STORE":           "ratelimit.store",
	"REDIS_URL":                  "ratelimit.redis_url",
	"BACKEND":                    "backend.type",
	"SUPABASE_URL":               "backend.supabase.url",
	"SUPABASE_KEY":               "backend.supabase.key",
	"DATABASE_URL":               "backend.database_url",
	"BACKEND_TIMEOUT":            "backend.timeout",
	"LOG_LEVEL":                  "log.level",
	"LOG_FORMAT":                 "log.format",
	"TRACING_ENABLED":            "tracing.enabled",
	"OTEL_SERVICE_NAME":          "tracing.service_name",
}

var defaults = map[string]interface{}{
	"server.port":            3000,
	"server.application_url": "http://localhost:3000",
	"auth.api_keys":          "",
	"ratelimit.max_requests": 10,
	"ratelimit.window":       "15m",
	"ratelimit.store":        "memory",
	"backend.type":           "supabase",
	"log.level":              "info",
	"log.format":             "json",
	"tracing.service_name":   "life-insurance-api",
}

// Load reads configuration from defaults, the optional YAML file at path and
// finally the environment. An empty path means DefaultFile.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultFile
	}

	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	// Empty variables fall back to the defaults, as with `VAR || default`.
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		mapped, ok := envKeys[key]
		if !ok || strings.TrimSpace(value) == "" {
			return "", nil
		}
		return mapped, value
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Backend.Type = strings.ToLower(strings.TrimSpace(cfg.Backend.Type))
	cfg.RateLimit.Store = strings.ToLower(strings.TrimSpace(cfg.RateLimit.Store))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports the first setting that cannot produce a working gateway.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d", c.Server.Port)
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("MAX_REQUEST_PER_15_MINUTES must be positive, got %d", c.RateLimit.MaxRequests)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate limit window must be positive, got %s", c.RateLimit.Window)
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("BACKEND_TIMEOUT must not be negative, got %s", c.Backend.Timeout)
	}

	switch c.RateLimit.Store {
	case "memory":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_STORE=redis")
		}
	default:
		return fmt.Errorf("unsupported RATE_LIMIT_STORE %q", c.RateLimit.Store)
	}

	switch c.Backend.Type {
	case "supabase":
		if c.Backend.Supabase.URL == "" || c.Backend.Supabase.Key == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the supabase backend")
		}
	case "postgres":
		if c.Backend.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case "sqlite":
	default:
		return fmt.Errorf("unsupported BACKEND %q", c.Backend.Type)
	}

	return nil
}

// SQLitePath returns the database path for the sqlite backend.
func (c *Config) SQLitePath() string {
	if c.Backend.DatabaseURL != "" {
		return c.Backend.DatabaseURL
	}
	return "./data/gateway.db"
}
