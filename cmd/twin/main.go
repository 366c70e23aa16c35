// Command twin runs an in-memory stand-in for the keno backend and its
// identity provider on one port, for local development and integration tests.
//
// Configuration comes from TWIN_* environment variables (a .env file in the
// working directory is loaded first) and, optionally, the YAML file named by
// TWIN_CONFIG.
package main

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/sakif/keno-client/internal/config"
	"github.com/sakif/keno-client/internal/server"
)

func main() {
	// A missing .env is fine.
	_ = godotenv.Load()

	cfg, err := config.LoadTwin(os.Getenv("TWIN_CONFIG"))
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	level, _ := config.ParseLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	if cfg.TokenSecret == config.DefaultTwin().TokenSecret {
		logger.Warn("TWIN_TOKEN_SECRET not set, using the built-in development secret")
	}

	srv, err := server.New(*cfg, nil, logger)
	if err != nil {
		logger.Error("failed to create twin", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start blocks until SIGINT or SIGTERM.
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
