package quota

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/ryhazerus/quota/store"
)

// Result is the outcome of a counting attempt.
type Result = store.Result

// Snapshot is a read-only view of a key's quota.
type Snapshot = store.Snapshot

// BackendDistributed is the name reported for work done by the shared backend.
const BackendDistributed = "distributed"

// ResetReport describes the outcome of ResetPrefix.
type ResetReport struct {
	Deleted int64  `json:"deletedCount"`
	Backend string `json:"backend"`
}

// Limiter is the main entry point of the package. It counts requests against
// fixed windows, preferring a shared distributed backend and falling back to
// process-local stores when that backend is absent or failing.
//
// Limiter methods never return errors. Backend failures are logged, counted
// through the Recorder and answered by the next backend in the chain.
type Limiter struct {
	distributed store.Backend
	local       []store.Backend
	memory      *store.MemoryStore
	logger      *zap.Logger
	recorder    Recorder
	onLimited   func(Rule, string, Result)
	now         func() time.Time
}

// New creates a new Limiter with the given options.
// Without options it counts in memory only.
func New(opts ...Option) *Limiter {
	l := &Limiter{}
	for _, o := range opts {
		o(l)
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	if l.recorder == nil {
		l.recorder = NoopRecorder{}
	}
	if l.now == nil {
		l.now = time.Now
	}
	l.memory = store.NewMemoryStore(store.WithClock(l.now))
	return l
}

// Distributed reports whether a shared backend is wired in. It does not
// report whether that backend is currently healthy.
func (l *Limiter) Distributed() bool {
	if l.distributed == nil {
		return false
	}
	if c, ok := l.distributed.(interface{ Configured() bool }); ok {
		return c.Configured()
	}
	return true
}

// Memory returns the in-memory store that ends the fallback chain.
func (l *Limiter) Memory() *store.MemoryStore {
	return l.memory
}

// Check counts one unit against key.
func (l *Limiter) Check(ctx context.Context, key string, window time.Duration, max int64) Result {
	return l.CheckN(ctx, key, window, max, 1)
}

// CheckN counts cost units against key. A rejected call leaves the counter
// unchanged. The returned Result is always usable.
func (l *Limiter) CheckN(ctx context.Context, key string, window time.Duration, max, cost int64) Result {
	if max < 1 || window <= 0 {
		l.logger.Debug("rate limit check with invalid quota",
			zap.String("key", key),
			zap.Int64("max", max),
			zap.Duration("window", window),
		)
		return Result{Allowed: false, Remaining: 0, ResetAt: l.now()}
	}
	if cost < 1 {
		cost = 1
	}

	for _, b := range l.chain() {
		start := time.Now()
		res, err := b.Check(ctx, key, window, max, cost)
		if err != nil {
			l.fail(b, "check", key, err)
			continue
		}
		l.observe(b, start, res.Allowed)
		return res
	}

	start := time.Now()
	res, _ := l.memory.Check(ctx, key, window, max, cost)
	l.observe(l.memory, start, res.Allowed)
	return res
}

// Now returns the current time on the limiter's clock.
func (l *Limiter) Now() time.Time {
	return l.now()
}

// Peek reports the remaining quota for key without counting.
func (l *Limiter) Peek(ctx context.Context, key string, window time.Duration, max int64) Snapshot {
	if max < 1 || window <= 0 {
		return Snapshot{Remaining: 0, ResetAt: l.now()}
	}

	for _, b := range l.chain() {
		snap, err := b.Peek(ctx, key, window, max)
		if err != nil {
			l.fail(b, "peek", key, err)
			continue
		}
		return snap
	}

	snap, _ := l.memory.Peek(ctx, key, window, max)
	return snap
}

// ResetPrefix deletes every counter whose key starts with prefix on the
// first backend that accepts the request. An empty prefix deletes nothing.
func (l *Limiter) ResetPrefix(ctx context.Context, prefix string) ResetReport {
	if prefix == "" {
		l.logger.Warn("refusing rate limit reset with empty prefix")
		return ResetReport{Backend: l.memory.Name()}
	}

	for _, b := range l.chain() {
		n, err := b.ResetPrefix(ctx, prefix)
		if err != nil {
			l.fail(b, "reset", prefix, err)
			continue
		}
		l.logger.Info("rate limit counters reset",
			zap.String("prefix", prefix),
			zap.Int64("deleted", n),
			zap.String("backend", b.Name()),
		)
		return ResetReport{Deleted: n, Backend: l.reportName(b)}
	}

	n, _ := l.memory.ResetPrefix(ctx, prefix)
	return ResetReport{Deleted: n, Backend: l.memory.Name()}
}

// Allow checks a Rule for identity. A Shadow rule over quota reports
// Allowed with zero remaining.
func (l *Limiter) Allow(ctx context.Context, r Rule, identity string) Result {
	res := l.CheckN(ctx, r.Key(identity), r.Window, r.Max, r.cost())
	if res.Allowed {
		return res
	}

	if l.onLimited != nil {
		l.onLimited(r, identity, res)
	}
	if r.Mode == Shadow {
		l.logger.Info("shadow rate limit exceeded",
			zap.String("rule", r.Name),
			zap.String("identity", identity),
		)
		res.Allowed = true
		res.Remaining = 0
	}
	return res
}

// Usage peeks a Rule for identity.
func (l *Limiter) Usage(ctx context.Context, r Rule, identity string) Snapshot {
	return l.Peek(ctx, r.Key(identity), r.Window, r.Max)
}

// Close releases every backend held by the limiter.
func (l *Limiter) Close() error {
	var errs []error
	if l.distributed != nil {
		errs = append(errs, l.distributed.Close())
	}
	for _, b := range l.local {
		errs = append(errs, b.Close())
	}
	errs = append(errs, l.memory.Close())
	return errors.Join(errs...)
}

// RetryAfterSeconds returns the Retry-After value for a window ending at
// resetAt, rounded up and never below one second.
func RetryAfterSeconds(resetAt, now time.Time) int64 {
	secs := int64(math.Ceil(float64(resetAt.Sub(now)) / float64(time.Second)))
	if secs < 1 {
		return 1
	}
	return secs
}

func (l *Limiter) chain() []store.Backend {
	if l.distributed == nil {
		return l.local
	}
	out := make([]store.Backend, 0, len(l.local)+1)
	out = append(out, l.distributed)
	return append(out, l.local...)
}

func (l *Limiter) reportName(b store.Backend) string {
	if b == l.distributed {
		return BackendDistributed
	}
	return b.Name()
}

func (l *Limiter) fail(b store.Backend, op, key string, err error) {
	if errors.Is(err, store.ErrNotConfigured) {
		return
	}
	kind := store.KindOf(err)
	l.logger.Warn("rate limit backend failed, falling back",
		zap.String("backend", b.Name()),
		zap.String("op", op),
		zap.String("kind", string(kind)),
		zap.String("key", key),
		zap.Error(err),
	)
	l.recorder.Add(MetricFallback, 1, map[string]string{
		"backend": b.Name(),
		"op":      op,
		"kind":    string(kind),
	})
}

func (l *Limiter) observe(b store.Backend, start time.Time, allowed bool) {
	l.recorder.Add(MetricCheck, 1, map[string]string{
		"backend": b.Name(),
		"allowed": strconv.FormatBool(allowed),
	})
	l.recorder.Observe(MetricLatency, float64(time.Since(start).Microseconds())/1000, map[string]string{
		"backend": b.Name(),
	})
}
