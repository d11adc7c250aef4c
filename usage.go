package quota

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Category groups call sites that share user-facing wording.
type Category int

const (
	CategoryGeneral Category = iota
	CategoryAI
	CategorySync
)

func (c Category) String() string {
	switch c {
	case CategoryAI:
		return "ai"
	case CategorySync:
		return "sync"
	default:
		return "general"
	}
}

// noun names what is being counted, in the plural.
func (c Category) noun() string {
	switch c {
	case CategoryAI:
		return "AI interactions"
	case CategorySync:
		return "syncs"
	default:
		return "requests"
	}
}

// LimitMessage is shown to users who hit the quota of the category.
func (c Category) LimitMessage() string {
	switch c {
	case CategoryAI:
		return "Your team has used all of its AI interactions for now. Try again after the limit resets, or upgrade to Supporter for a higher limit."
	case CategorySync:
		return "Too many sync requests. Wait a moment before syncing again."
	default:
		return "Too many requests. Slow down and try again shortly."
	}
}

// ResolveMessage returns the message to show for a failed response. A 429
// maps to the category's limit message; any other status keeps raw.
func ResolveMessage(status int, raw string, c Category) string {
	if status == http.StatusTooManyRequests {
		return c.LimitMessage()
	}
	return raw
}

// Usage is the client-side view of a quota, read from response headers.
type Usage struct {
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// ParseUsage reads the rate limit headers. It reports false when any of
// them is missing or malformed.
func ParseUsage(h http.Header) (Usage, bool) {
	limit, ok := headerInt(h, HeaderLimit)
	if !ok {
		return Usage{}, false
	}
	remaining, ok := headerInt(h, HeaderRemaining)
	if !ok {
		return Usage{}, false
	}
	reset, ok := headerInt(h, HeaderReset)
	if !ok {
		return Usage{}, false
	}
	return Usage{Limit: limit, Remaining: remaining, ResetAt: time.UnixMilli(reset)}, true
}

func headerInt(h http.Header, name string) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(h.Get(name)), 10, 64)
	if err != nil || v < 0 {
		return 0, false
	}
	return v, true
}

// Used returns the units consumed in the current window.
func (u Usage) Used() int64 {
	used := u.Limit - u.Remaining
	if used < 0 {
		return 0
	}
	if used > u.Limit {
		return u.Limit
	}
	return used
}

// PercentUsed returns the share of the quota consumed, 0 to 100.
func (u Usage) PercentUsed() int {
	if u.Limit <= 0 {
		return 0
	}
	return int(math.Round(float64(u.Used()) * 100 / float64(u.Limit)))
}

// ResetIn returns the time left until the window resets, never negative.
func (u Usage) ResetIn(now time.Time) time.Duration {
	d := u.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Status summarizes the usage for display, e.g.
// "12 of 20 AI interactions used (60%), resets in 1h 5m".
func (u Usage) Status(c Category, now time.Time) string {
	return fmt.Sprintf("%d of %d %s used (%d%%), resets in %s",
		u.Used(), u.Limit, c.noun(), u.PercentUsed(), FormatResetIn(u.ResetIn(now)))
}

// FormatResetIn renders a countdown using its two largest units. Any
// positive duration shows at least "1s"; zero or less is "now".
func FormatResetIn(d time.Duration) string {
	if d <= 0 {
		return "now"
	}

	secs := int64(math.Ceil(d.Seconds()))
	h := secs / 3600
	m := (secs % 3600) / 60
	s := secs % 60

	switch {
	case h > 0 && m > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case h > 0:
		return fmt.Sprintf("%dh", h)
	case m > 0 && s > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	case m > 0:
		return fmt.Sprintf("%dm", m)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
