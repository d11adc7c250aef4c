// Package app wires the limiter and its backends from configuration.
package app

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ryhazerus/quota"
	"github.com/ryhazerus/quota/internal/config"
	"github.com/ryhazerus/quota/store"
	"github.com/ryhazerus/quota/store/redis"
	"github.com/ryhazerus/quota/store/upstash"
)

// App holds the long-lived components of quotad.
type App struct {
	Config  *config.Config
	Logger  *zap.Logger
	Limiter *quota.Limiter
	Plans   quota.Plans

	sqlite *store.SQLiteStore
}

// New builds the limiter described by cfg. Extra options are applied after
// the configured ones.
func New(cfg *config.Config, logger *zap.Logger, opts ...quota.Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{Config: cfg, Logger: logger, Plans: cfg.Plans()}

	base := []quota.Option{quota.WithLogger(logger.Named("quota"))}

	distributed, err := newDistributed(cfg, logger)
	if err != nil {
		return nil, err
	}
	if distributed != nil {
		base = append(base, quota.WithDistributed(store.NewBreaker(distributed, store.BreakerConfig{
			MaxFailures: cfg.BreakerFailures,
			Cooldown:    cfg.BreakerCooldown,
		}, logger.Named("breaker"))))
	}

	if cfg.LocalStore == config.LocalSQLite {
		s, err := store.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			// The in-memory store still backs the chain.
			logger.Warn("sqlite fallback store unavailable, using memory only",
				zap.String("path", cfg.SQLitePath), zap.Error(err))
		} else {
			a.sqlite = s
			base = append(base, quota.WithLocal(s))
		}
	}

	a.Limiter = quota.New(append(base, opts...)...)

	mode := cfg.DistributedMode()
	if mode == "" {
		logger.Warn("no distributed rate limit backend configured, quotas are enforced per process",
			zap.String("local_store", cfg.LocalStore))
	} else {
		logger.Info("rate limit backend selected",
			zap.String("distributed", mode),
			zap.String("local_store", cfg.LocalStore),
			zap.Duration("timeout", cfg.Timeout))
	}
	return a, nil
}

func newDistributed(cfg *config.Config, logger *zap.Logger) (store.Backend, error) {
	switch cfg.DistributedMode() {
	case config.BackendUpstash:
		return upstash.New(upstash.Config{
			URL:     cfg.UpstashURL,
			Token:   cfg.UpstashToken,
			Timeout: cfg.Timeout,
		}), nil
	case config.BackendRedis:
		opts, err := goredis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
		return redis.NewRedisStore(goredis.NewClient(opts), redis.WithTimeout(cfg.Timeout)), nil
	default:
		return nil, nil
	}
}

// RunJanitor drops expired local counters every interval until ctx ends.
func (a *App) RunJanitor(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep drops expired local counters once.
func (a *App) Sweep(ctx context.Context) {
	n := a.Limiter.Memory().Sweep()
	if a.sqlite != nil {
		purged, err := a.sqlite.Purge(ctx)
		if err != nil {
			a.Logger.Warn("sqlite purge failed", zap.Error(err))
		}
		n += int(purged)
	}
	if n > 0 {
		a.Logger.Debug("expired local counters removed", zap.Int("count", n))
	}
}

// Close releases the limiter and its backends.
func (a *App) Close() error {
	return a.Limiter.Close()
}
