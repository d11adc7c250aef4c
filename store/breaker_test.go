package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyBackend fails every call with err and counts the calls it received.
type flakyBackend struct {
	err   error
	calls int
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Check(context.Context, string, time.Duration, int64, int64) (Result, error) {
	f.calls++
	if f.err != nil {
		return Result{}, f.err
	}
	return Result{Allowed: true, Remaining: 1}, nil
}

func (f *flakyBackend) Peek(context.Context, string, time.Duration, int64) (Snapshot, error) {
	f.calls++
	return Snapshot{Remaining: 2}, f.err
}

func (f *flakyBackend) ResetPrefix(context.Context, string) (int64, error) {
	f.calls++
	return 3, f.err
}

func (f *flakyBackend) Close() error { return nil }

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	next := &flakyBackend{err: NewError(KindTransport, "flaky", "check", errors.New("down"))}
	b := NewBreaker(next, BreakerConfig{MaxFailures: 3, Cooldown: time.Hour}, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Check(ctx, "k", time.Minute, 5, 1)
		require.Error(t, err)
		assert.Equal(t, KindTransport, KindOf(err))
	}
	assert.Equal(t, "open", b.State())

	_, err := b.Check(ctx, "k", time.Minute, 5, 1)
	require.Error(t, err)
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Equal(t, 3, next.calls, "open breaker must not reach the backend")
}

func TestBreakerIgnoresNotConfigured(t *testing.T) {
	next := &flakyBackend{err: ErrNotConfigured}
	b := NewBreaker(next, BreakerConfig{MaxFailures: 1, Cooldown: time.Hour}, nil)

	for i := 0; i < 5; i++ {
		_, err := b.Peek(context.Background(), "k", time.Minute, 5)
		assert.ErrorIs(t, err, ErrNotConfigured)
	}
	assert.Equal(t, "closed", b.State())
	assert.Equal(t, 5, next.calls)
}

func TestBreakerPassesResults(t *testing.T) {
	b := NewBreaker(&flakyBackend{}, DefaultBreakerConfig(), nil)
	ctx := context.Background()

	res, err := b.Check(ctx, "k", time.Minute, 5, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	snap, err := b.Peek(ctx, "k", time.Minute, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Remaining)

	n, err := b.ResetPrefix(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "flaky", b.Name())
}
