package quota

import "time"

// Mode defines what a Rule does once its quota is exhausted.
type Mode int

const (
	// Enforce rejects requests over quota.
	Enforce Mode = iota
	// Shadow lets requests over quota through. They are reported and fire the
	// limited callback but do not add to the counter. Useful when rolling out
	// a new quota.
	Shadow
)

func (m Mode) String() string {
	switch m {
	case Enforce:
		return "enforce"
	case Shadow:
		return "shadow"
	default:
		return "unknown"
	}
}

// Rule describes the quota applied at one call site.
type Rule struct {
	Name   string        // key namespace, e.g. "predict"
	Window time.Duration // fixed window length
	Max    int64         // units allowed per window
	Cost   int64         // units per call; zero means one
	Mode   Mode
}

// Key returns the counter key for identity under this rule.
func (r Rule) Key(identity string) string {
	return r.Name + ":" + identity
}

// Prefix returns the prefix that selects every counter of this rule.
func (r Rule) Prefix() string {
	return r.Name + ":"
}

// WithCost returns a copy of r charging cost units per call.
func (r Rule) WithCost(cost int64) Rule {
	r.Cost = cost
	return r
}

func (r Rule) cost() int64 {
	if r.Cost < 1 {
		return 1
	}
	return r.Cost
}

// Built-in rules of the API. The AI rule depends on the plan tier and is
// built by Plans.AIRule.
var (
	// PredictRule limits match predictions per user.
	PredictRule = Rule{Name: "predict", Window: time.Minute, Max: 30}
	// TeamLookupRule limits public team lookups per client IP.
	TeamLookupRule = Rule{Name: "team-lookup", Window: time.Minute, Max: 60}
	// EventSyncRule limits event data syncs per organization. Callers set
	// the cost to the number of matches synced.
	EventSyncRule = Rule{Name: "event-sync", Window: time.Hour, Max: 500}
)
