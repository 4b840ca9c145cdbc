// Propline onboarding - tenant signup, payment intents and Stripe reconciliation
package main

import (
	"context"
	"os"
	"time"

	"github.com/propline/onboarding/internal/config"
	"github.com/propline/onboarding/internal/logging"
	"github.com/propline/onboarding/internal/server"
	"github.com/propline/onboarding/internal/traces"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting propline onboarding",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger = logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"database", cfg.DatabaseURL != "",
		"redis", cfg.RedisURL != "",
		"currency", cfg.StripeCurrency,
	)

	ctx := context.Background()

	shutdownTracing, err := traces.Init(ctx, cfg.OTLPEndpoint, Version, logger)
	if err != nil {
		logger.Error("failed to init tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Error("tracing shutdown error", "error", err)
		}
	}()

	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
