package quota

import (
	"time"

	"go.uber.org/zap"

	"github.com/ryhazerus/quota/store"
)

// Option configures the Limiter.
type Option func(*Limiter)

// WithDistributed sets the shared backend tried first on every call.
// A backend returning store.ErrNotConfigured is skipped silently.
func WithDistributed(b store.Backend) Option {
	return func(l *Limiter) {
		l.distributed = b
	}
}

// WithLocal appends a process-local backend to the fallback chain. The
// chain always ends with an in-memory store, so a failing local backend
// never leaves a request unanswered.
func WithLocal(b store.Backend) Option {
	return func(l *Limiter) {
		l.local = append(l.local, b)
	}
}

// WithLogger sets the logger used to report backend failures.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		l.logger = logger
	}
}

// WithRecorder injects a metrics backend.
func WithRecorder(r Recorder) Option {
	return func(l *Limiter) {
		l.recorder = r
	}
}

// WithClock overrides the time source of the limiter and of its built-in
// memory store.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithOnLimited sets a callback that fires when Allow finds a rule's quota
// exhausted. It fires for Enforce and Shadow rules alike.
func WithOnLimited(fn func(r Rule, identity string, res Result)) Option {
	return func(l *Limiter) {
		l.onLimited = fn
	}
}
