package quota

import (
	"net/http"
	"strconv"
	"time"
)

// Rate limit response headers.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// BuildHeaders returns the rate limit headers for a quota of max. The reset
// header carries the window end in epoch milliseconds. Negative values are
// reported as zero.
func BuildHeaders(s Snapshot, max int64) http.Header {
	h := make(http.Header, 3)
	SetHeaders(h, s, max)
	return h
}

// SetHeaders writes the rate limit headers into h.
func SetHeaders(h http.Header, s Snapshot, max int64) {
	h.Set(HeaderLimit, strconv.FormatInt(nonNegative(max), 10))
	h.Set(HeaderRemaining, strconv.FormatInt(nonNegative(s.Remaining), 10))
	h.Set(HeaderReset, strconv.FormatInt(nonNegative(s.ResetAt.UnixMilli()), 10))
}

// SetRetryAfter writes the Retry-After header for a window ending at resetAt.
func SetRetryAfter(h http.Header, resetAt, now time.Time) {
	h.Set(HeaderRetryAfter, strconv.FormatInt(RetryAfterSeconds(resetAt, now), 10))
}

// SnapshotOf returns the read-only view of a Result.
func SnapshotOf(r Result) Snapshot {
	return Snapshot{Remaining: r.Remaining, ResetAt: r.ResetAt}
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
