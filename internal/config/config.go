package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"

	LockPostgres = "postgres"
	LockRedis    = "redis"
	LockMemory   = "memory"
)

// Shared holds settings common to the API and the worker.
type Shared struct {
	Store       string `env:"AOT_STORE" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	DBMaxConns  int32  `env:"AOT_DB_MAX_CONNS" envDefault:"20"`
	DBMinConns  int32  `env:"AOT_DB_MIN_CONNS" envDefault:"2"`
	Migrate     bool   `env:"AOT_MIGRATE" envDefault:"true"`

	LockBackend       string        `env:"AOT_LOCK_BACKEND" envDefault:"postgres"`
	LockPoolMaxConns  int32         `env:"AOT_LOCK_POOL_MAX_CONNS" envDefault:"20"`
	RedisAddr         string        `env:"AOT_REDIS_ADDR"`
	RedisPassword     string        `env:"AOT_REDIS_PASSWORD"`
	LockTimeout       time.Duration `env:"AOT_LOCK_TIMEOUT" envDefault:"30s"`
	LockCeiling       time.Duration `env:"AOT_LOCK_CEILING" envDefault:"5m"`
	LockRetryInterval time.Duration `env:"AOT_LOCK_RETRY_INTERVAL" envDefault:"50ms"`

	ContentPath  string   `env:"AOT_CONTENT_PATH"`
	KafkaBrokers []string `env:"AOT_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string   `env:"AOT_KAFKA_TOPIC" envDefault:"aot.economy"`
	LogLevel     string   `env:"AOT_LOG_LEVEL" envDefault:"info"`
}

type APIConfig struct {
	Shared

	Addr            string        `env:"AOT_API_ADDR" envDefault:":8080"`
	APIToken        string        `env:"AOT_API_TOKEN"`
	AdminToken      string        `env:"AOT_ADMIN_TOKEN"`
	RankingInterval time.Duration `env:"AOT_RANKING_INTERVAL" envDefault:"1m"`
	RankingMinGap   time.Duration `env:"AOT_RANKING_MIN_GAP" envDefault:"2s"`
	BaseReward      int64         `env:"AOT_BASE_REWARD" envDefault:"10"`
	ConsolationBase int64         `env:"AOT_CONSOLATION_BASE" envDefault:"2"`
	RNGSeed         int64         `env:"AOT_RNG_SEED"`
}

type WorkerConfig struct {
	Shared

	SweepEvery time.Duration `env:"AOT_SWEEP_EVERY" envDefault:"1m"`
	RunOnce    bool          `env:"AOT_WORKER_RUN_ONCE"`
}

type CLIConfig struct {
	APIBaseURL string `env:"AOT_API_BASE_URL" envDefault:"http://localhost:8080"`
	APIToken   string `env:"AOT_API_TOKEN"`
	AdminToken string `env:"AOT_ADMIN_TOKEN"`
}

func LoadAPIFromEnv() (APIConfig, error) {
	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.Addr = port
	}
	if err := cfg.Shared.validate(); err != nil {
		return cfg, err
	}
	if cfg.APIToken == "" {
		return cfg, fmt.Errorf("AOT_API_TOKEN is required")
	}
	if cfg.RankingInterval <= 0 {
		return cfg, fmt.Errorf("AOT_RANKING_INTERVAL must be > 0")
	}
	return cfg, nil
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Shared.validate(); err != nil {
		return cfg, err
	}
	if cfg.Store == StoreMemory {
		return cfg, fmt.Errorf("worker needs a shared store, AOT_STORE=memory is not supported")
	}
	if cfg.SweepEvery <= 0 {
		return cfg, fmt.Errorf("AOT_SWEEP_EVERY must be > 0")
	}
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := env.Parse(&cfg); err != nil {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return cfg
}

func (s Shared) validate() error {
	switch s.Store {
	case StorePostgres:
		if strings.TrimSpace(s.DatabaseURL) == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("AOT_STORE must be postgres or memory, got %q", s.Store)
	}
	switch s.LockBackend {
	case LockPostgres:
		if s.Store != StorePostgres {
			return fmt.Errorf("AOT_LOCK_BACKEND=postgres needs AOT_STORE=postgres")
		}
		if s.LockPoolMaxConns <= 0 {
			return fmt.Errorf("AOT_LOCK_POOL_MAX_CONNS must be > 0")
		}
	case LockRedis:
		if s.RedisAddr == "" {
			return fmt.Errorf("AOT_REDIS_ADDR is required for the redis lock backend")
		}
	case LockMemory:
	default:
		return fmt.Errorf("AOT_LOCK_BACKEND must be postgres, redis or memory, got %q", s.LockBackend)
	}
	if s.LockTimeout <= 0 || s.LockCeiling <= 0 {
		return fmt.Errorf("lock timeout and ceiling must be > 0")
	}
	if s.LockCeiling < s.LockTimeout {
		return fmt.Errorf("AOT_LOCK_CEILING (%s) must not be shorter than AOT_LOCK_TIMEOUT (%s)", s.LockCeiling, s.LockTimeout)
	}
	return nil
}

func (s Shared) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
