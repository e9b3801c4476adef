// The sweeper periodically deletes expired download tokens. Each run is
// guarded by a lease row in the store, so several sweeper instances (or
// a sweeper next to the main application) never run the batch twice.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"smliser/internal/config"
	"smliser/internal/store"
)

const leaseName = "token-sweep"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogger(cfg.Logging)

	db, err := store.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	owner := uuid.NewString()
	slog.Info("sweeper starting",
		slog.String("owner", owner),
		slog.Duration("interval", cfg.Sweep.Interval))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ticker := time.NewTicker(cfg.Sweep.Interval)
	defer ticker.Stop()

	// Sweep once at startup, then on every tick.
	sweep(ctx, db, owner, cfg.Sweep.LeaseTTL)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sweeper shutting down")
			return
		case <-ticker.C:
			sweep(ctx, db, owner, cfg.Sweep.LeaseTTL)
		}
	}
}

func sweep(ctx context.Context, db *store.Store, owner string, leaseTTL time.Duration) {
	ok, err := db.AcquireLease(ctx, leaseName, owner, leaseTTL)
	if err != nil {
		slog.Error("failed to acquire sweep lease", "error", err)
		return
	}
	if !ok {
		slog.Debug("sweep lease held elsewhere, skipping run")
		return
	}
	defer func() {
		if err := db.ReleaseLease(ctx, leaseName, owner); err != nil {
			slog.Warn("failed to release sweep lease", "error", err)
		}
	}()

	n, err := db.DeleteExpiredTokens(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("token sweep failed", "error", err)
		return
	}
	slog.Info("token sweep complete", slog.Int("removed", n))
}

func setupLogger(cfg config.LoggingConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
