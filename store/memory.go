package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

type counter struct {
	count   int64
	resetAt time.Time
}

// Compile-time interface check.
var _ Backend = (*MemoryStore)(nil)

// MemoryStore is an in-memory Backend implementation.
// It is safe for concurrent use. Counters are lost on process restart and
// are not shared between processes.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter
	now      func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		counters: make(map[string]*counter),
		now:      buildOptions(opts).now,
	}
}

// Name implements Backend.
func (m *MemoryStore) Name() string { return "memory" }

// Check adds cost to the counter for key in the current window.
func (m *MemoryStore) Check(_ context.Context, key string, window time.Duration, max, cost int64) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c, ok := m.counters[key]
	if !ok || !now.Before(c.resetAt) {
		c = &counter{count: cost, resetAt: now.Add(window)}
		m.counters[key] = c
		return Result{Allowed: true, Remaining: clamp(max-cost, max), ResetAt: c.resetAt}, nil
	}

	if c.count+cost > max {
		return Result{Allowed: false, Remaining: clamp(max-c.count, max), ResetAt: c.resetAt}, nil
	}

	c.count += cost
	return Result{Allowed: true, Remaining: clamp(max-c.count, max), ResetAt: c.resetAt}, nil
}

// Peek returns the remaining quota for key without counting.
func (m *MemoryStore) Peek(_ context.Context, key string, window time.Duration, max int64) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	c, ok := m.counters[key]
	if !ok || !now.Before(c.resetAt) {
		return Snapshot{Remaining: max, ResetAt: now.Add(window)}, nil
	}
	return Snapshot{Remaining: clamp(max-c.count, max), ResetAt: c.resetAt}, nil
}

// ResetPrefix removes every counter whose key starts with prefix.
func (m *MemoryStore) ResetPrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for k := range m.counters {
		if strings.HasPrefix(k, prefix) {
			delete(m.counters, k)
			n++
		}
	}
	return n, nil
}

// Len returns the number of counters held, including expired ones that
// have not been swept yet.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// Sweep drops expired counters and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	n := 0
	for k, c := range m.counters {
		if !now.Before(c.resetAt) {
			delete(m.counters, k)
			n++
		}
	}
	return n
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}
