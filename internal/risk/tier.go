package risk

import "strings"

// Tier is the ordered risk classification attached to a command before
// execution. Higher values are more restrictive.
type Tier int

const (
	TierSafe Tier = iota
	TierLow
	TierMedium
	TierHigh
	TierRisky
	TierCritical
	TierBlocked
)

// String returns the canonical upper-case tier name
func (t Tier) String() string {
	switch t {
	case TierSafe:
		return "SAFE"
	case TierLow:
		return "LOW"
	case TierMedium:
		return "MEDIUM"
	case TierHigh:
		return "HIGH"
	case TierRisky:
		return "RISKY"
	case TierCritical:
		return "CRITICAL"
	case TierBlocked:
		return "BLOCKED"
	default:
		return "UNKNOWN"
	}
}

// ParseTier parses a tier name; ok is false for unknown names
func ParseTier(s string) (Tier, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SAFE":
		return TierSafe, true
	case "LOW":
		return TierLow, true
	case "MEDIUM":
		return TierMedium, true
	case "HIGH":
		return TierHigh, true
	case "RISKY":
		return TierRisky, true
	case "CRITICAL":
		return TierCritical, true
	case "BLOCKED":
		return TierBlocked, true
	default:
		return TierSafe, false
	}
}

// Max returns the more restrictive of two tiers
func Max(a, b Tier) Tier {
	if a >= b {
		return a
	}
	return b
}

// Blocked reports whether the tier forbids execution outright
func (t Tier) Blocked() bool {
	return t == TierBlocked
}
