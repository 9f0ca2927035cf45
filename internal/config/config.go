package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Router    RouterConfig
	Queue     QueueConfig
	Scheduler SchedulerConfig
	Log       LogConfig
}

type ServerConfig struct {
	Address string `env:"SERVER_ADDRESS,default=:8080"`
}

type DatabaseConfig struct {
	Driver string `env:"DATABASE_DRIVER,default=pgx"`
	URL    string `env:"DATABASE_URL,required"`
}

type RedisConfig struct {
	Address  string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB,default=0"`
}

func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

type RouterConfig struct {
	// URL is a single gateway template used for every backend.
	URL string `env:"ROUTER_URL"`
	// URLs maps backend names to templates; "default" is the fallback.
	URLs map[string]string `env:"ROUTER_URLS,delimiter=;"`

	Password  string        `env:"ROUTER_PASSWORD"`
	Silent    bool          `env:"ROUTER_SILENT,default=false"`
	Timeout   time.Duration `env:"ROUTER_TIMEOUT,default=10s"`
	Apps      []string      `env:"ROUTER_APPS,default=echo"`
	Blacklist []string      `env:"ROUTER_BLACKLIST"`
}

// SendEnabled reports whether outgoing messages are dispatched at all. With no
// gateway template, messages stay queued for relays polling the outbox.
func (r RouterConfig) SendEnabled() bool {
	return r.URL != "" || len(r.URLs) > 0
}

type QueueConfig struct {
	Backend string `env:"QUEUE_BACKEND,default=memory"`
	Workers int    `env:"WORKERS,default=4"`
	Size    int    `env:"QUEUE_SIZE,default=1024"`
}

type SchedulerConfig struct {
	Interval      time.Duration `env:"SWEEP_INTERVAL,default=1m"`
	Limit         int           `env:"SWEEP_LIMIT,default=100"`
	StaleAfter    time.Duration `env:"SWEEP_STALE_AFTER,default=5m"`
	SendLeaseTTL  time.Duration `env:"SEND_LEASE_TTL,default=60s"`
	SweepLeaseTTL time.Duration `env:"SWEEP_LEASE_TTL,default=300s"`
}

type LogConfig struct {
	Level string `env:"LOG_LEVEL,default=info"`
	JSON  bool   `env:"LOG_JSON,default=true"`
}

func (l LogConfig) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func Load(ctx context.Context) (*Config, error) {
	return LoadWith(ctx, envconfig.OsLookuper())
}

func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("parsing env vars: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []error

	switch cfg.Database.Driver {
	case "pgx", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("DATABASE_DRIVER must be pgx or sqlite3, got %q", cfg.Database.Driver))
	}

	if cfg.Router.URL != "" && len(cfg.Router.URLs) > 0 {
		errs = append(errs, errors.New("ROUTER_URL and ROUTER_URLS are mutually exclusive"))
	}
	if len(cfg.Router.URLs) > 0 {
		if _, ok := cfg.Router.URLs["default"]; !ok {
			errs = append(errs, errors.New("ROUTER_URLS must contain a default entry"))
		}
	}
	if cfg.Router.Timeout <= 0 {
		errs = append(errs, errors.New("ROUTER_TIMEOUT must be > 0"))
	}

	switch cfg.Queue.Backend {
	case "memory":
	case "redis":
		if !cfg.Redis.Enabled() {
			errs = append(errs, errors.New("QUEUE_BACKEND=redis requires REDIS_ADDR"))
		}
	default:
		errs = append(errs, fmt.Errorf("QUEUE_BACKEND must be memory or redis, got %q", cfg.Queue.Backend))
	}
	if cfg.Queue.Workers <= 0 {
		errs = append(errs, errors.New("WORKERS must be > 0"))
	}
	if cfg.Queue.Size <= 0 {
		errs = append(errs, errors.New("QUEUE_SIZE must be > 0"))
	}

	if cfg.Scheduler.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL must be > 0"))
	}
	if cfg.Scheduler.Limit <= 0 {
		errs = append(errs, errors.New("SWEEP_LIMIT must be > 0"))
	}
	if cfg.Scheduler.StaleAfter <= 0 {
		errs = append(errs, errors.New("SWEEP_STALE_AFTER must be > 0"))
	}
	if cfg.Scheduler.SendLeaseTTL <= 0 {
		errs = append(errs, errors.New("SEND_LEASE_TTL must be > 0"))
	}
	if cfg.Scheduler.SweepLeaseTTL <= 0 {
		errs = append(errs, errors.New("SWEEP_LEASE_TTL must be > 0"))
	}

	// a gateway call must finish before its claim can be taken over
	if cfg.Router.Timeout > 0 {
		if cfg.Scheduler.SendLeaseTTL > 0 && cfg.Router.Timeout >= cfg.Scheduler.SendLeaseTTL {
			errs = append(errs, fmt.Errorf("ROUTER_TIMEOUT (%s) must be shorter than SEND_LEASE_TTL (%s)",
				cfg.Router.Timeout, cfg.Scheduler.SendLeaseTTL))
		}
		if cfg.Scheduler.StaleAfter > 0 && cfg.Router.Timeout >= cfg.Scheduler.StaleAfter {
			errs = append(errs, fmt.Errorf("ROUTER_TIMEOUT (%s) must be shorter than SWEEP_STALE_AFTER (%s)",
				cfg.Router.Timeout, cfg.Scheduler.StaleAfter))
		}
	}

	for i, app := range cfg.Router.Apps {
		cfg.Router.Apps[i] = strings.ToLower(strings.TrimSpace(app))
	}

	return joinErrors(errs)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
