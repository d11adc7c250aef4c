package store

import (
	"context"
	"time"
)

// Result is the outcome of a counting attempt.
type Result struct {
	Allowed   bool
	Remaining int64
	ResetAt   time.Time
}

// Snapshot is a read-only view of a counter's quota.
type Snapshot struct {
	Remaining int64
	ResetAt   time.Time
}

// Backend defines the interface for fixed-window counter backends.
//
// Implementations must make Check atomic per key: two concurrent callers
// can never both observe the last unit of quota.
type Backend interface {
	// Name identifies the backend in logs, metrics and reset reports.
	Name() string

	// Check adds cost to the counter for key if the result stays within max.
	// A rejected check leaves the stored count unchanged.
	Check(ctx context.Context, key string, window time.Duration, max, cost int64) (Result, error)

	// Peek reports the remaining quota for key without modifying it. A
	// missing or expired key reports full quota and a fresh window.
	Peek(ctx context.Context, key string, window time.Duration, max int64) (Snapshot, error)

	// ResetPrefix deletes every counter whose key starts with prefix and
	// returns how many were removed.
	ResetPrefix(ctx context.Context, prefix string) (int64, error)

	// Close releases any resources held by the backend.
	Close() error
}

func clamp(v, max int64) int64 {
	if v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

type options struct {
	now func() time.Time
}

// Option configures a local store.
type Option func(*options)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}
