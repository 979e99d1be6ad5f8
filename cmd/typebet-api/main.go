package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"typebet/internal/accounts"
	"typebet/internal/api"
	"typebet/internal/config"
	"typebet/internal/db"
	"typebet/internal/game"

	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := config.LoadDotEnv(); err != nil {
		slog.Error("load .env", "err", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, "typebet-api")
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

	rules := game.Rules{
		MinBet:         cfg.Rules.MinBet,
		MaxBet:         cfg.Rules.MaxBet,
		StarterBalance: cfg.Rules.StarterBalance,
		RecoveryGrant:  cfg.Rules.RecoveryGrant,
	}
	accountsClient := accounts.NewClient(cfg.AccountsURL, cfg.AccountsAPIKey)
	gameSvc := game.NewService(pool, logger, rules)

	server := api.New(cfg, logger, accountsClient, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("typebet api listening", "addr", cfg.Addr, "min_bet", rules.MinBet, "max_bet", rules.MaxBet)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("typebet api stopped")
}
