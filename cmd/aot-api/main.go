package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Aethery0y/Aot-sub000/internal/api"
	"github.com/Aethery0y/Aot-sub000/internal/app"
	"github.com/Aethery0y/Aot-sub000/internal/arena"
	"github.com/Aethery0y/Aot-sub000/internal/combat"
	"github.com/Aethery0y/Aot-sub000/internal/config"
	"github.com/Aethery0y/Aot-sub000/internal/game"
	"github.com/Aethery0y/Aot-sub000/internal/ledger"
	"github.com/Aethery0y/Aot-sub000/internal/redeem"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
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

	rnd := game.NewTimeRand()
	if cfg.RNGSeed != 0 {
		rnd = game.NewRand(cfg.RNGSeed)
	}

	ranker := arena.NewRanker(env.Store, logger)
	scheduler := arena.NewScheduler(ranker, cfg.RankingInterval, cfg.RankingMinGap, logger)

	ledgerSvc := ledger.NewService(env.Store, env.Locks, ledger.Options{
		Sink:   env.Sink,
		Powers: env.Content.Powers,
		Rand:   rnd,
		Logger: logger,
	})
	redeemSvc := redeem.NewService(env.Store, env.Locks, ledgerSvc, redeem.Options{
		Sink:   env.Sink,
		Logger: logger,
	})
	combatSvc := combat.NewService(env.Store, env.Locks, ledgerSvc, env.Content.Tiers,
		combat.NewGenerator(env.Content.Tiers, env.Content.Opponents, rnd),
		combat.NewResolver(rnd, cfg.BaseReward, cfg.ConsolationBase),
		combat.Options{Arena: scheduler, Sink: env.Sink, Logger: logger},
	)

	server := api.New(cfg, logger, api.Deps{
		Ledger: ledgerSvc,
		Redeem: redeemSvc,
		Combat: combatSvc,
		Ranker: ranker,
		Arena:  scheduler,
		Rand:   rnd,
	})
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		scheduler.Run(ctx)
		return nil
	})
	g.Go(func() error {
		env.Locks.RunSweeper(ctx, cfg.LockCeiling/2)
		return nil
	})
	g.Go(func() error {
		logger.Info("aot api listening", "addr", cfg.Addr, "store", cfg.Store, "locks", cfg.LockBackend)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("api stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("api shutdown")
}
