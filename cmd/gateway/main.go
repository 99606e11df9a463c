package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/config"
	"github.com/Sky-Gem-Solutions/life-insurance-api/internal/telemetry"
	"github.com/Sky-Gem-Solutions/life-insurance-api/pkg/gateway"
)

var version = "dev"

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "path to optional YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer(telemetry.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	}, logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gw, err := gateway.New(ctx, cfg,
		gateway.WithLogger(logger),
		gateway.WithVersion(version),
	)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	if err := gw.Start(ctx); err != nil {
		log.Fatalf("Failed to start gateway: %v", err)
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping gateway")
	case err := <-gw.Err():
		if err != nil {
			logger.Error("server error", slog.String("error", err.Error()))
			exitCode = 1
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		exitCode = 1
	}

	logger.Info("gateway shutdown complete")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
