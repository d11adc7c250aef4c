// Package storetest provides a conformance suite for store.Backend
// implementations.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryhazerus/quota/store"
)

// Harness is a backend under test plus control over its notion of time.
type Harness struct {
	Backend store.Backend
	// Advance moves the backend's clock forward by d.
	Advance func(d time.Duration)
	// Now returns the time the backend uses to compute reset times.
	Now func() time.Time
}

// Factory creates a fresh, empty backend for one subtest.
type Factory func(t *testing.T) Harness

// Run exercises the fixed-window contract against backends built by f.
func Run(t *testing.T, f Factory) {
	t.Run("Sequence", func(t *testing.T) { testSequence(t, f(t)) })
	t.Run("RejectDoesNotCount", func(t *testing.T) { testRejectDoesNotCount(t, f(t)) })
	t.Run("WindowExpiry", func(t *testing.T) { testWindowExpiry(t, f(t)) })
	t.Run("PeekMissing", func(t *testing.T) { testPeekMissing(t, f(t)) })
	t.Run("PeekDoesNotCount", func(t *testing.T) { testPeekDoesNotCount(t, f(t)) })
	t.Run("CostAboveMax", func(t *testing.T) { testCostAboveMax(t, f(t)) })
	t.Run("KeysIsolated", func(t *testing.T) { testKeysIsolated(t, f(t)) })
	t.Run("ResetPrefix", func(t *testing.T) { testResetPrefix(t, f(t)) })
	t.Run("ResetPrefixLiteralGlob", func(t *testing.T) { testResetPrefixLiteralGlob(t, f(t)) })
	t.Run("Concurrent", func(t *testing.T) { testConcurrent(t, f(t)) })
}

func assertFreshReset(t *testing.T, h Harness, resetAt time.Time, window time.Duration) {
	t.Helper()
	want := h.Now().Add(window)
	assert.WithinDuration(t, want, resetAt, time.Second)
}

func testSequence(t *testing.T, h Harness) {
	ctx := context.Background()
	for i := int64(1); i <= 5; i++ {
		res, err := h.Backend.Check(ctx, "seq:user-1", time.Minute, 5, 1)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "call %d", i)
		assert.Equal(t, 5-i, res.Remaining, "call %d", i)
		assertFreshReset(t, h, res.ResetAt, time.Minute)
	}

	res, err := h.Backend.Check(ctx, "seq:user-1", time.Minute, 5, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.True(t, res.ResetAt.After(h.Now()))
}

func testRejectDoesNotCount(t *testing.T, h Harness) {
	ctx := context.Background()

	res, err := h.Backend.Check(ctx, "sync:org-1", time.Minute, 5, 3)
	require.NoError(t, err)
	require.True(t, res.Allowed)
	assert.Equal(t, int64(2), res.Remaining)

	res, err = h.Backend.Check(ctx, "sync:org-1", time.Minute, 5, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(2), res.Remaining)

	res, err = h.Backend.Check(ctx, "sync:org-1", time.Minute, 5, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func testWindowExpiry(t *testing.T, h Harness) {
	ctx := context.Background()

	res, err := h.Backend.Check(ctx, "exp:user-1", time.Millisecond, 1, 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = h.Backend.Check(ctx, "exp:user-1", time.Millisecond, 1, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	h.Advance(5 * time.Millisecond)

	res, err = h.Backend.Check(ctx, "exp:user-1", time.Millisecond, 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func testPeekMissing(t *testing.T, h Harness) {
	snap, err := h.Backend.Peek(context.Background(), "peek:nobody", time.Hour, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(20), snap.Remaining)
	assertFreshReset(t, h, snap.ResetAt, time.Hour)
}

func testPeekDoesNotCount(t *testing.T, h Harness) {
	ctx := context.Background()

	_, err := h.Backend.Check(ctx, "peek:user-1", time.Hour, 20, 4)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		snap, err := h.Backend.Peek(ctx, "peek:user-1", time.Hour, 20)
		require.NoError(t, err)
		assert.Equal(t, int64(16), snap.Remaining)
		assert.True(t, snap.ResetAt.After(h.Now()))
	}
}

func testCostAboveMax(t *testing.T, h Harness) {
	res, err := h.Backend.Check(context.Background(), "big:user-1", time.Minute, 3, 10)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func testKeysIsolated(t *testing.T, h Harness) {
	ctx := context.Background()

	res, err := h.Backend.Check(ctx, "iso:a", time.Minute, 1, 1)
	require.NoError(t, err)
	require.True(t, res.Allowed)

	res, err = h.Backend.Check(ctx, "iso:b", time.Minute, 1, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func testResetPrefix(t *testing.T, h Harness) {
	ctx := context.Background()
	for _, k := range []string{"ai:org-1", "ai:org-2", "predict:user-1"} {
		_, err := h.Backend.Check(ctx, k, time.Hour, 10, 1)
		require.NoError(t, err)
	}

	n, err := h.Backend.ResetPrefix(ctx, "ai:")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	snap, err := h.Backend.Peek(ctx, "ai:org-1", time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(10), snap.Remaining)

	snap, err = h.Backend.Peek(ctx, "predict:user-1", time.Hour, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(9), snap.Remaining)

	n, err = h.Backend.ResetPrefix(ctx, "ai:")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testResetPrefixLiteralGlob(t *testing.T, h Harness) {
	ctx := context.Background()
	for _, k := range []string{"a*b:1", "axb:1", "AI:1"} {
		_, err := h.Backend.Check(ctx, k, time.Hour, 10, 1)
		require.NoError(t, err)
	}

	n, err := h.Backend.ResetPrefix(ctx, "a*b:")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = h.Backend.ResetPrefix(ctx, "ai:")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "prefix match must be case-sensitive")
}

func testConcurrent(t *testing.T, h Harness) {
	ctx := context.Background()
	const (
		workers = 200
		max     = 100
	)

	var allowed atomic.Int64
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.Backend.Check(ctx, "conc:shared", time.Minute, max, 1)
			if err != nil {
				errs <- err
				return
			}
			if res.Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int64(max), allowed.Load(), fmt.Sprintf("%d workers against limit %d", workers, max))
}
