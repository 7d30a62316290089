// Parley coordinator server: exposes the multi-agent messaging core
// over HTTP and owns the background turn-timeout supervisor.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/parleyhq/parley/pkg/api"
	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/coordinator"
	"github.com/parleyhq/parley/pkg/database"
	"github.com/parleyhq/parley/pkg/lock"
	"github.com/parleyhq/parley/pkg/store"
)

func main() {
	envPath := flag.String("env-file", ".env", "Path to the environment file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", *envPath)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting parley", "http_port", cfg.HTTPPort)

	ctx := context.Background()

	dbClient, err := database.NewClient(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Error("Error closing database client", "error", err)
		}
	}()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.DB())
	locks := coordinator.NewPGLocker(lock.NewManager(dbClient.DB(), cfg.LockAcquireTimeout))
	coord := coordinator.New(cfg, st, locks)
	slog.Info("Coordinator initialized")

	httpServer := api.NewServer(dbClient, coord)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + cfg.HTTPPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := httpServer.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop intake first, then drain timers, parked callers, and
	// detached handlers, then close the pool (via defer).
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 10*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	coordShutdownCtx, coordCancel := context.WithTimeout(ctx, 30*time.Second)
	defer coordCancel()
	if err := coord.Shutdown(coordShutdownCtx); err != nil {
		slog.Warn("Coordinator shutdown incomplete", "error", err)
	}

	slog.Info("Shutdown complete")
}
