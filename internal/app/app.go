// Package app wires the storage, lock and audit backends selected by
// configuration. Both binaries build their services on top of an Env.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Aethery0y/Aot-sub000/internal/audit"
	"github.com/Aethery0y/Aot-sub000/internal/config"
	"github.com/Aethery0y/Aot-sub000/internal/content"
	"github.com/Aethery0y/Aot-sub000/internal/db"
	"github.com/Aethery0y/Aot-sub000/internal/lock"
	"github.com/Aethery0y/Aot-sub000/internal/store"
	"github.com/Aethery0y/Aot-sub000/internal/store/memory"
	"github.com/Aethery0y/Aot-sub000/internal/store/postgres"
)

type Env struct {
	Store   store.Store
	Locks   *lock.Manager
	Sink    audit.Sink
	Content *content.Content

	closers []func() error
}

// Open builds an Env. On error everything opened so far is closed again.
func Open(ctx context.Context, cfg config.Shared, logger *slog.Logger) (_ *Env, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	env := &Env{}
	defer func() {
		if err != nil {
			_ = env.Close()
		}
	}()

	env.Content, err = content.Load(cfg.ContentPath)
	if err != nil {
		return nil, err
	}

	var pool *pgxpool.Pool
	switch cfg.Store {
	case config.StorePostgres:
		pool, err = db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return nil, err
		}
		env.closers = append(env.closers, func() error { pool.Close(); return nil })
		if cfg.Migrate {
			if err := db.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
		env.Store = postgres.New(pool, logger)
	case config.StoreMemory:
		logger.Warn("using in-memory store, state is lost on exit")
		env.Store = memory.New()
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	var backend lock.Backend
	switch cfg.LockBackend {
	case config.LockPostgres:
		if pool == nil {
			return nil, fmt.Errorf("postgres lock backend needs the postgres store")
		}
		// Held advisory locks pin their connection, so they get a pool of
		// their own and never starve the transactions they guard.
		lockPool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.LockPoolMaxConns, MinConns: 1})
		if err != nil {
			return nil, fmt.Errorf("lock pool: %w", err)
		}
		env.closers = append(env.closers, func() error { lockPool.Close(); return nil })
		backend = lock.NewPGAdvisory(lockPool)
	case config.LockRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		env.closers = append(env.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		backend = lock.NewRedis(client, "")
	case config.LockMemory:
		backend = lock.NewMemory()
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.LockBackend)
	}
	env.Locks = lock.NewManager(backend, lock.Options{
		Timeout:       cfg.LockTimeout,
		Ceiling:       cfg.LockCeiling,
		RetryInterval: cfg.LockRetryInterval,
		Logger:        logger,
	})

	sinks := audit.Multi{audit.NewLogSink(logger)}
	if len(cfg.KafkaBrokers) > 0 {
		producer, err := audit.NewKafkaProducer(cfg.KafkaBrokers)
		if err != nil {
			return nil, err
		}
		kafka := audit.NewKafkaSink(producer, cfg.KafkaTopic)
		env.closers = append(env.closers, kafka.Close)
		sinks = append(sinks, kafka)
		logger.Info("audit events published to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	env.Sink = sinks
	return env, nil
}

// Close releases backends in reverse order of opening.
func (e *Env) Close() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
