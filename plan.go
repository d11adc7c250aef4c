package quota

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// PlanTier is a normalized subscription tier.
type PlanTier string

const (
	PlanFree      PlanTier = "free"
	PlanSupporter PlanTier = "supporter"
)

// AIRuleName is the namespace of the AI interaction counters.
const AIRuleName = "ai-interactions"

// ErrInvalidPlans is returned by Plans.Validate.
var ErrInvalidPlans = errors.New("quota: invalid plan limits")

var supporterAliases = map[string]bool{
	"supporter":        true,
	"gifted_supporter": true,
	"gifted-supporter": true,
	"gifted supporter": true,
}

// NormalizePlanTier maps a raw plan string to a PlanTier. Matching ignores
// case and surrounding whitespace. Anything unrecognized is PlanFree.
func NormalizePlanTier(raw string) PlanTier {
	if supporterAliases[strings.ToLower(strings.TrimSpace(raw))] {
		return PlanSupporter
	}
	return PlanFree
}

// Plans holds the per-tier AI interaction limits.
type Plans struct {
	Free      int64
	Supporter int64
	Window    time.Duration
}

// DefaultPlans returns the standard AI quotas.
func DefaultPlans() Plans {
	return Plans{Free: 20, Supporter: 60, Window: 3 * time.Hour}
}

// Validate checks that every tier has a quota, the supporter tier gets
// strictly more than the free tier and the window is positive.
func (p Plans) Validate() error {
	if p.Free < 1 {
		return fmt.Errorf("%w: free limit must be positive, got %d", ErrInvalidPlans, p.Free)
	}
	if p.Supporter <= p.Free {
		return fmt.Errorf("%w: supporter limit %d must exceed free limit %d", ErrInvalidPlans, p.Supporter, p.Free)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidPlans, p.Window)
	}
	return nil
}

// Limit returns the AI interaction limit of tier.
func (p Plans) Limit(tier PlanTier) int64 {
	if tier == PlanSupporter {
		return p.Supporter
	}
	return p.Free
}

// TeamAILimit returns the AI interaction limit for a raw plan string.
func (p Plans) TeamAILimit(raw string) int64 {
	return p.Limit(NormalizePlanTier(raw))
}

// AIRule returns the AI interaction rule for a raw plan string. Counters
// are shared across tiers so an upgrade keeps the usage already spent.
func (p Plans) AIRule(raw string) Rule {
	return Rule{Name: AIRuleName, Window: p.Window, Max: p.TeamAILimit(raw)}
}

// TeamAILimit returns the default AI interaction limit for a raw plan string.
func TeamAILimit(raw string) int64 {
	return DefaultPlans().TeamAILimit(raw)
}
