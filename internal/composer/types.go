package composer

import (
	"errors"

	"github.com/linasec/lina/internal/risk"
)

// ErrUnresolvable marks an intent that maps to no known tool. Surfaced to
// the user as "I don't understand", never silently replaced with a default
// tool.
var ErrUnresolvable = errors.New("composer: no tool matches the request")

// Command is one concrete, executable tool invocation
type Command struct {
	// Tool is the owning tool identifier
	Tool string `json:"tool"`
	// Template is the raw template the command was built from, empty when
	// the model composed the line directly
	Template string `json:"template,omitempty"`
	// Bindings are the resolved placeholder values
	Bindings map[string]string `json:"bindings,omitempty"`
	// Line is the resolved executable command string
	Line string `json:"line"`
	// SessionID is the owning session, set by the request pipeline
	SessionID string `json:"session_id,omitempty"`
}

// PlanStep is one independently triggerable step of a Plan
type PlanStep struct {
	Number          int       `json:"step"`
	Tool            string    `json:"tool_name"`
	CommandTemplate string    `json:"command_template"`
	Phase           string    `json:"phase"`
	Description     string    `json:"description"`
	ExpectedOutput  string    `json:"expected_output,omitempty"`
	Tier            risk.Tier `json:"tier,omitempty"`
}

// Plan is an ordered set of steps covering a multi-stage intent. Steps are
// executed out-of-band, one Command per triggered step; the Plan itself
// carries no execution state.
type Plan struct {
	MissionSummary string     `json:"mission_summary"`
	EstimatedTime  string     `json:"estimated_time,omitempty"`
	Steps          []PlanStep `json:"plan"`
	// AggregateTier is the maximum tier among the steps
	AggregateTier risk.Tier `json:"aggregate_tier"`
}

// ComputeAggregateTier recomputes the plan tier as the maximum of the step
// tiers. Holds the invariant aggregate >= every step tier.
func (p *Plan) ComputeAggregateTier() {
	agg := risk.TierSafe
	for _, step := range p.Steps {
		agg = risk.Max(agg, step.Tier)
	}
	p.AggregateTier = agg
}

// Phases accepted in generated plans, in their caller-meaningful order
var validPhases = map[string]struct{}{
	"RECONNAISSANCE":    {},
	"ENUMERATION":       {},
	"SCANNING":          {},
	"ANALYSIS":          {},
	"EXPLOITATION":      {},
	"POST-EXPLOITATION": {},
}
