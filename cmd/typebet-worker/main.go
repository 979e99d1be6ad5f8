package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"typebet/internal/config"
	"typebet/internal/db"
	"typebet/internal/game"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, "typebet-worker")
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx, pool); err != nil {
			logger.Error("migration failed", "err", err)
			os.Exit(1)
		}
	}

	// Rules only matter for settlement; the worker never prices attempts.
	svc := game.NewService(pool, logger, game.DefaultRules())

	if cfg.RunOnce {
		if err := reconcile(ctx, svc, logger); err != nil {
			logger.Error("reconcile failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.ReconcileEvery)
	defer ticker.Stop()

	logger.Info("worker started", "reconcile_every", cfg.ReconcileEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := reconcile(ctx, svc, logger); err != nil {
				logger.Error("reconcile failed", "err", err)
			}
		}
	}
}

// reconcile logs the ledger's health, then recomputes every rank.
func reconcile(ctx context.Context, svc *game.Service, logger *slog.Logger) error {
	health, err := svc.CheckRanks(ctx)
	if err != nil {
		return err
	}
	if !health.Dense {
		logger.Warn("rank ledger drift detected",
			"active_players", health.ActivePlayers,
			"entries", health.Entries,
			"distinct_ranks", health.DistinctRanks,
			"min_rank", health.MinRank,
			"max_rank", health.MaxRank,
			"inactive_entries", health.InactiveEntries,
		)
	}
	_, err = svc.ReconcileRanks(ctx)
	return err
}
