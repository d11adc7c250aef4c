package quota

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUsage(t *testing.T) {
	reset := time.UnixMilli(1_700_000_000_000)
	u, ok := ParseUsage(BuildHeaders(Snapshot{Remaining: 8, ResetAt: reset}, 20))
	require.True(t, ok)

	assert.Equal(t, int64(20), u.Limit)
	assert.Equal(t, int64(8), u.Remaining)
	assert.True(t, u.ResetAt.Equal(reset))
	assert.Equal(t, int64(12), u.Used())
	assert.Equal(t, 60, u.PercentUsed())
}

func TestParseUsageMissingHeaders(t *testing.T) {
	h := http.Header{}
	h.Set(HeaderLimit, "20")
	h.Set(HeaderRemaining, "abc")
	h.Set(HeaderReset, "1700000000000")

	_, ok := ParseUsage(h)
	assert.False(t, ok)

	_, ok = ParseUsage(http.Header{})
	assert.False(t, ok)
}

func TestPercentUsed(t *testing.T) {
	tests := []struct {
		u    Usage
		want int
	}{
		{Usage{Limit: 20, Remaining: 20}, 0},
		{Usage{Limit: 20, Remaining: 0}, 100},
		{Usage{Limit: 3, Remaining: 1}, 67},
		{Usage{Limit: 0, Remaining: 0}, 0},
		{Usage{Limit: 5, Remaining: 9}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.u.PercentUsed(), "usage %+v", tt.u)
	}
}

func TestFormatResetIn(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "now"},
		{-time.Second, "now"},
		{time.Millisecond, "1s"},
		{999 * time.Millisecond, "1s"},
		{42 * time.Second, "42s"},
		{5 * time.Minute, "5m"},
		{5*time.Minute + 3*time.Second, "5m 3s"},
		{time.Hour, "1h"},
		{2*time.Hour + 59*time.Minute + 30*time.Second, "2h 59m"},
		{3 * time.Hour, "3h"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatResetIn(tt.d), "duration %v", tt.d)
	}
}

func TestUsageStatus(t *testing.T) {
	now := time.Now()
	u := Usage{Limit: 20, Remaining: 8, ResetAt: now.Add(65 * time.Minute)}

	assert.Equal(t, "12 of 20 AI interactions used (60%), resets in 1h 5m", u.Status(CategoryAI, now))
	assert.Contains(t, u.Status(CategorySync, now), "syncs")
	assert.Equal(t, time.Duration(0), u.ResetIn(now.Add(2*time.Hour)))
}

func TestResolveMessage(t *testing.T) {
	ai := ResolveMessage(http.StatusTooManyRequests, "raw body", CategoryAI)
	sync := ResolveMessage(http.StatusTooManyRequests, "raw body", CategorySync)

	assert.Equal(t, CategoryAI.LimitMessage(), ai)
	assert.Equal(t, CategorySync.LimitMessage(), sync)
	assert.NotEqual(t, ai, sync)

	assert.Equal(t, "team not found", ResolveMessage(http.StatusNotFound, "team not found", CategoryAI))
	assert.Equal(t, "", ResolveMessage(http.StatusInternalServerError, "", CategorySync))
}
