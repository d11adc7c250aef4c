package store

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CheckScript is the Lua script distributed backends evaluate to count a
// request atomically. It takes one key and the arguments window (ms), max
// and cost, and replies {allowed, remaining, ttl_ms}.
//
//go:embed check.lua
var CheckScript string

// CheckArgs returns the script arguments for a check.
func CheckArgs(window time.Duration, max, cost int64) []any {
	return []any{window.Milliseconds(), max, cost}
}

// ParseCheckReply converts a script reply into a Result. The reply may come
// from a native Redis client (int64 elements) or from decoded JSON
// (json.Number, float64 or string elements).
func ParseCheckReply(reply any, max int64, now time.Time) (Result, error) {
	vals, ok := reply.([]any)
	if !ok {
		return Result{}, fmt.Errorf("unexpected script reply %T", reply)
	}
	if len(vals) != 3 {
		return Result{}, fmt.Errorf("script reply has %d elements, want 3", len(vals))
	}

	allowed, err := ToInt64(vals[0])
	if err != nil {
		return Result{}, fmt.Errorf("allowed: %w", err)
	}
	remaining, err := ToInt64(vals[1])
	if err != nil {
		return Result{}, fmt.Errorf("remaining: %w", err)
	}
	ttl, err := ToInt64(vals[2])
	if err != nil {
		return Result{}, fmt.Errorf("ttl: %w", err)
	}
	if ttl < 0 {
		return Result{}, fmt.Errorf("negative ttl %d", ttl)
	}

	return Result{
		Allowed:   allowed == 1,
		Remaining: clamp(remaining, max),
		ResetAt:   now.Add(time.Duration(ttl) * time.Millisecond),
	}, nil
}

// PeekSnapshot converts a GET value and a PTTL reply into a Snapshot. A nil
// value or a ttl of -2 means the key does not exist. A ttl of -1 (no expiry)
// keeps the stored count and reports a full window, matching the repair the
// check script applies on the next call.
func PeekSnapshot(value any, ttl int64, window time.Duration, max int64, now time.Time) (Snapshot, error) {
	if value == nil || ttl == -2 {
		return Snapshot{Remaining: max, ResetAt: now.Add(window)}, nil
	}
	count, err := ToInt64(value)
	if err != nil {
		return Snapshot{}, fmt.Errorf("count: %w", err)
	}
	reset := window
	if ttl >= 0 {
		reset = time.Duration(ttl) * time.Millisecond
	}
	return Snapshot{
		Remaining: clamp(max-count, max),
		ResetAt:   now.Add(reset),
	}, nil
}

// ToInt64 coerces the integer representations used by Redis clients.
func ToInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, err
		}
		return int64(f), nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(n), 10, 64)
	default:
		return 0, fmt.Errorf("not an integer: %T", v)
	}
}
