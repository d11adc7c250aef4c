package store

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerConfig holds the configuration for a Breaker.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures int
	// Cooldown is how long the breaker stays open before letting a probe through.
	Cooldown time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests int
}

// DefaultBreakerConfig returns the configuration used when none is given.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:      5,
		Cooldown:         30 * time.Second,
		HalfOpenRequests: 1,
	}
}

// Compile-time interface check.
var _ Backend = (*Breaker)(nil)

// Breaker wraps a distributed Backend with a circuit breaker. While the
// breaker is open every call fails fast with a KindUnavailable error.
type Breaker struct {
	next Backend
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next. A nil logger disables state change logging.
func NewBreaker(next Backend, cfg BreakerConfig, logger *zap.Logger) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.HalfOpenRequests <= 0 {
		cfg.HalfOpenRequests = def.HalfOpenRequests
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	settings := gobreaker.Settings{
		Name:        next.Name(),
		MaxRequests: uint32(cfg.HalfOpenRequests),
		Timeout:     cfg.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("rate limit backend breaker state changed",
				zap.String("backend", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			// An unconfigured backend is not an outage.
			return err == nil || errors.Is(err, ErrNotConfigured)
		},
	}

	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Name implements Backend.
func (b *Breaker) Name() string { return b.next.Name() }

// Configured reports whether the wrapped backend is configured. Backends
// without a Configured method are assumed to be.
func (b *Breaker) Configured() bool {
	if c, ok := b.next.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

// State reports the breaker state: "closed", "half-open" or "open".
func (b *Breaker) State() string { return b.cb.State().String() }

// Check implements Backend.
func (b *Breaker) Check(ctx context.Context, key string, window time.Duration, max, cost int64) (Result, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Check(ctx, key, window, max, cost)
	})
	if err != nil {
		return Result{}, b.wrap("check", err)
	}
	return v.(Result), nil
}

// Peek implements Backend.
func (b *Breaker) Peek(ctx context.Context, key string, window time.Duration, max int64) (Snapshot, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Peek(ctx, key, window, max)
	})
	if err != nil {
		return Snapshot{}, b.wrap("peek", err)
	}
	return v.(Snapshot), nil
}

// ResetPrefix implements Backend.
func (b *Breaker) ResetPrefix(ctx context.Context, prefix string) (int64, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.ResetPrefix(ctx, prefix)
	})
	if err != nil {
		return 0, b.wrap("reset", err)
	}
	return v.(int64), nil
}

// Close closes the wrapped backend.
func (b *Breaker) Close() error {
	return b.next.Close()
}

func (b *Breaker) wrap(op string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return NewError(KindUnavailable, b.next.Name(), op, err)
	}
	return err
}
