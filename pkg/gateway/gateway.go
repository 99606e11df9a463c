// Package gateway provides the public API for embedding the life insurance
// API gateway. This is the stable API for external consumers.
package gateway

import (
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/config"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/runtime"
)

// Gateway is the main entry point for running the gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// Config is the gateway configuration.
type Config = config.Config

// New creates a new Gateway from cfg and the given options.
// Example:
//
//	cfg, err := gateway.LoadConfig("")
//	gw, err := gateway.New(ctx, cfg, gateway.WithLogger(logger))
var New = runtime.New

// LoadConfig reads configuration from defaults, an optional YAML file and the
// environment.
var LoadConfig = config.Load

// Configuration options
var (
	WithLogger       = runtime.WithLogger
	WithVersion      = runtime.WithVersion
	WithHTTPClient   = runtime.WithHTTPClient
	WithBackend      = runtime.WithBackend
	WithLimiterStore = runtime.WithLimiterStore
)
