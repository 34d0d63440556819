package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Aethery0y/Aot-sub000/internal/app"
	"github.com/Aethery0y/Aot-sub000/internal/arena"
	"github.com/Aethery0y/Aot-sub000/internal/config"
	"github.com/Aethery0y/Aot-sub000/internal/ledger"
	"github.com/Aethery0y/Aot-sub000/internal/redeem"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	env, err := app.Open(ctx, cfg.Shared, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer env.Close()

	ledgerSvc := ledger.NewService(env.Store, env.Locks, ledger.Options{Sink: env.Sink, Powers: env.Content.Powers, Logger: logger})
	codes := redeem.NewService(env.Store, env.Locks, ledgerSvc, redeem.Options{Sink: env.Sink, Logger: logger})
	ranker := arena.NewRanker(env.Store, logger)

	if cfg.RunOnce {
		if err := tick(ctx, logger, codes, ranker); err != nil {
			logger.Error("tick failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	ticker := time.NewTicker(cfg.SweepEvery)
	defer ticker.Stop()

	logger.Info("worker started", "sweep_every", cfg.SweepEvery.String())
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			if err := tick(ctx, logger, codes, ranker); err != nil && ctx.Err() == nil {
				logger.Error("tick failed", "err", err)
			}
		}
	}
}

// tick deactivates expired codes and rebuilds the arena ranking.
func tick(ctx context.Context, logger *slog.Logger, codes *redeem.Service, ranker *arena.Ranker) error {
	expired, err := codes.SweepExpired(ctx)
	if err != nil {
		return err
	}
	ranked, err := ranker.Recompute(ctx)
	if err != nil {
		return err
	}
	logger.Info("worker tick complete", "expired_codes", expired, "ranked", ranked)
	return nil
}
