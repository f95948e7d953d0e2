package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linasec/lina/internal/logger"
)

const planningPrompt = `You are a cybersecurity mission planner assisting a %s.
Break the goal below into an ordered multi-step plan, with descriptions and
expected output pitched at that operator. Use only the listed
tools. Order the steps by phase: RECONNAISSANCE, ENUMERATION, SCANNING,
ANALYSIS, EXPLOITATION, POST-EXPLOITATION. Respond with ONLY JSON in this
exact shape:

{
  "mission_summary": "one sentence",
  "estimated_time": "e.g. 15-30 minutes",
  "plan": [
    {
      "step": 1,
      "phase": "RECONNAISSANCE",
      "tool_name": "nmap",
      "command_template": "nmap -sn {target}",
      "description": "what this step achieves",
      "expected_output": "what the user should look for"
    }
  ]
}

GOAL: %q

AVAILABLE TOOLS:
%s`

// GeneratePlan expands a multi-stage goal into an ordered Plan. Steps are
// validated against the catalog where the model names a tool; unknown tool
// names fail the whole plan so the user never gets an unrunnable step
// silently.
func (c *Composer) GeneratePlan(ctx context.Context, goal, role string) (*Plan, error) {
	operator := strings.TrimSpace(role)
	if operator == "" {
		operator = "cybersecurity student"
	}

	response, err := c.client.Complete(ctx, fmt.Sprintf(planningPrompt, operator, goal, c.toolSummary()))
	if err != nil {
		return nil, fmt.Errorf("plan generation failed: %w", err)
	}

	block, err := extractJSONBlock(response)
	if err != nil {
		return nil, fmt.Errorf("plan generation produced no valid JSON: %w", err)
	}

	var plan Plan
	if err := json.Unmarshal([]byte(block), &plan); err != nil {
		return nil, fmt.Errorf("plan generation produced malformed JSON: %w", err)
	}

	if err := c.validatePlan(&plan); err != nil {
		return nil, err
	}

	logger.Info("composer: generated %d-step plan for %q", len(plan.Steps), goal)
	return &plan, nil
}

func (c *Composer) validatePlan(plan *Plan) error {
	if strings.TrimSpace(plan.MissionSummary) == "" {
		return fmt.Errorf("generated plan has no mission summary")
	}
	if len(plan.Steps) == 0 {
		return fmt.Errorf("generated plan has no steps")
	}

	for i := range plan.Steps {
		step := &plan.Steps[i]
		if step.Number == 0 {
			step.Number = i + 1
		}
		step.Tool = strings.ToLower(strings.TrimSpace(step.Tool))
		if step.Tool == "" {
			return fmt.Errorf("plan step %d names no tool", step.Number)
		}
		if !c.catalog.Has(step.Tool) {
			return fmt.Errorf("%w: plan step %d uses unknown tool %q", ErrUnresolvable, step.Number, step.Tool)
		}
		if strings.TrimSpace(step.CommandTemplate) == "" {
			return fmt.Errorf("plan step %d has no command template", step.Number)
		}
		if strings.TrimSpace(step.Description) == "" {
			return fmt.Errorf("plan step %d has no description", step.Number)
		}
		step.Phase = strings.ToUpper(strings.TrimSpace(step.Phase))
		if _, ok := validPhases[step.Phase]; !ok {
			logger.Warn("composer: plan step %d has unusual phase %q", step.Number, step.Phase)
		}
	}

	return nil
}
