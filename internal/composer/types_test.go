package composer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linasec/lina/internal/risk"
)

func TestComputeAggregateTier(t *testing.T) {
	plan := &Plan{
		Steps: []PlanStep{
			{Number: 1, Tier: risk.TierSafe},
			{Number: 2, Tier: risk.TierCritical},
			{Number: 3, Tier: risk.TierMedium},
		},
	}
	plan.ComputeAggregateTier()
	assert.Equal(t, risk.TierCritical, plan.AggregateTier)

	for _, step := range plan.Steps {
		assert.LessOrEqual(t, int(step.Tier), int(plan.AggregateTier))
	}
}

func TestComputeAggregateTierEmpty(t *testing.T) {
	plan := &Plan{}
	plan.ComputeAggregateTier()
	assert.Equal(t, risk.TierSafe, plan.AggregateTier)
}
