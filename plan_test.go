package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePlanTier(t *testing.T) {
	tests := map[string]PlanTier{
		"supporter":          PlanSupporter,
		"  Supporter ":       PlanSupporter,
		"SUPPORTER":          PlanSupporter,
		"gifted_supporter":   PlanSupporter,
		"Gifted-Supporter":   PlanSupporter,
		"gifted supporter":   PlanSupporter,
		"free":               PlanFree,
		"":                   PlanFree,
		"   ":                PlanFree,
		"enterprise":         PlanFree,
		"supporter-ish":      PlanFree,
		"super\x00supporter": PlanFree,
	}
	for raw, want := range tests {
		assert.Equal(t, want, NormalizePlanTier(raw), "raw %q", raw)
	}
}

func TestTeamAILimit(t *testing.T) {
	assert.Equal(t, int64(20), TeamAILimit("free"))
	assert.Equal(t, int64(60), TeamAILimit("gifted_supporter"))
	assert.Equal(t, int64(20), TeamAILimit("unknown"))
	assert.Greater(t, TeamAILimit("supporter"), TeamAILimit("free"))
}

func TestPlansValidate(t *testing.T) {
	assert.NoError(t, DefaultPlans().Validate())

	bad := []Plans{
		{Free: 0, Supporter: 10, Window: time.Hour},
		{Free: 10, Supporter: 10, Window: time.Hour},
		{Free: 10, Supporter: 5, Window: time.Hour},
		{Free: 10, Supporter: 20, Window: 0},
	}
	for _, p := range bad {
		assert.ErrorIs(t, p.Validate(), ErrInvalidPlans, "plans %+v", p)
	}
}

func TestPlansAIRule(t *testing.T) {
	p := Plans{Free: 5, Supporter: 50, Window: time.Hour}

	free := p.AIRule("free")
	sup := p.AIRule(" supporter ")

	assert.Equal(t, int64(5), free.Max)
	assert.Equal(t, int64(50), sup.Max)
	assert.Equal(t, time.Hour, sup.Window)
	assert.Equal(t, free.Key("org-1"), sup.Key("org-1"), "tiers share one counter")
	assert.Equal(t, "ai-interactions:org-1", sup.Key("org-1"))
	assert.Equal(t, 3*time.Hour, DefaultPlans().Window)
}
