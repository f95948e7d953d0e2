package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTierOrdering(t *testing.T) {
	ordered := []Tier{TierSafe, TierLow, TierMedium, TierHigh, TierRisky, TierCritical, TierBlocked}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, int(ordered[i-1]), int(ordered[i]),
			"%s must rank below %s", ordered[i-1], ordered[i])
	}
}

func TestParseTier(t *testing.T) {
	tests := []struct {
		input string
		want  Tier
		ok    bool
	}{
		{"SAFE", TierSafe, true},
		{"safe", TierSafe, true},
		{"LOW", TierLow, true},
		{"MEDIUM", TierMedium, true},
		{"HIGH", TierHigh, true},
		{"RISKY", TierRisky, true},
		{"CRITICAL", TierCritical, true},
		{"BLOCKED", TierBlocked, true},
		{"bogus", TierSafe, false},
		{"", TierSafe, false},
	}

	for _, tt := range tests {
		got, ok := ParseTier(tt.input)
		assert.Equal(t, tt.ok, ok, "ParseTier(%q)", tt.input)
		if ok {
			assert.Equal(t, tt.want, got, "ParseTier(%q)", tt.input)
		}
	}
}

func TestTierRoundTrip(t *testing.T) {
	for _, tier := range []Tier{TierSafe, TierLow, TierMedium, TierHigh, TierRisky, TierCritical, TierBlocked} {
		parsed, ok := ParseTier(tier.String())
		assert.True(t, ok)
		assert.Equal(t, tier, parsed)
	}
}

func TestMax(t *testing.T) {
	assert.Equal(t, TierHigh, Max(TierLow, TierHigh))
	assert.Equal(t, TierHigh, Max(TierHigh, TierLow))
	assert.Equal(t, TierBlocked, Max(TierBlocked, TierCritical))
	assert.Equal(t, TierSafe, Max(TierSafe, TierSafe))
}

func TestBlocked(t *testing.T) {
	assert.True(t, TierBlocked.Blocked())
	assert.False(t, TierCritical.Blocked())
	assert.False(t, TierSafe.Blocked())
}
