package risk

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/linasec/lina/internal/llm"
	"github.com/linasec/lina/internal/logger"
)

// Assessment is the result of classifying one command. Produced fresh per
// command and attached to the execution record.
type Assessment struct {
	Tier Tier `json:"tier"`
	// MatchedRule is the pattern of the static rule that decided the tier,
	// empty when the model fallback decided.
	MatchedRule   string `json:"matched_rule,omitempty"`
	ModelInferred bool   `json:"model_inferred,omitempty"`
	Rationale     string `json:"rationale"`
}

// Classifier assesses command risk with a two-layer approach: ordered
// static pattern rules first, then a generative-model fallback. The static
// layer is deterministic and side-effect free; the model layer is bounded
// by a timeout and fails closed.
type Classifier struct {
	rules          []Rule
	client         llm.Client
	unresolvedTier Tier

	mu    sync.RWMutex
	cache map[uint64]Assessment
}

// NewClassifier builds a classifier. client may be nil, in which case any
// command no rule matches gets the unresolved tier.
func NewClassifier(rules []Rule, client llm.Client, unresolvedTier Tier) *Classifier {
	if unresolvedTier < TierHigh {
		// fail-closed floor: an unresolved verdict must never land below
		// the confirmation threshold
		unresolvedTier = TierHigh
	}
	return &Classifier{
		rules:          rules,
		client:         client,
		unresolvedTier: unresolvedTier,
		cache:          make(map[uint64]Assessment),
	}
}

const riskPrompt = `You are a command risk analyst for a Linux security workstation.
Assess the risk of running this command: %s

Respond with EXACTLY one of:
- "Safe" if the command cannot damage the system or remote targets.
- "Risky: <one sentence reason>" otherwise.
No other text.`

// Classify returns the risk assessment for command. toolID is advisory
// context for the model fallback. The command string is never modified.
func (c *Classifier) Classify(ctx context.Context, command, toolID string) Assessment {
	command = strings.TrimSpace(command)
	if command == "" {
		return Assessment{
			Tier:      c.unresolvedTier,
			Rationale: "No command provided for risk assessment.",
		}
	}

	key := xxhash.Sum64String(command)
	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached
	}

	if rule := matchRules(c.rules, command); rule != nil {
		assessment := Assessment{
			Tier:        rule.tier,
			MatchedRule: rule.Pattern,
			Rationale:   rule.Explanation,
		}
		// Only rule matches are cached: they are deterministic, the model
		// fallback is not.
		c.mu.Lock()
		c.cache[key] = assessment
		c.mu.Unlock()
		logger.Info("risk: static match %q -> %s", rule.Pattern, assessment.Tier)
		return assessment
	}

	return c.classifyWithModel(ctx, command, toolID)
}

func (c *Classifier) classifyWithModel(ctx context.Context, command, toolID string) Assessment {
	if c.client == nil {
		return Assessment{
			Tier:      c.unresolvedTier,
			Rationale: "No rule matched and no model is configured; treating as unresolved.",
		}
	}

	subject := fmt.Sprintf("`%s`", command)
	if toolID != "" {
		subject = fmt.Sprintf("`%s` (tool: %s)", command, toolID)
	}

	response, err := c.client.Complete(ctx, fmt.Sprintf(riskPrompt, subject))
	if err != nil {
		logger.Error("risk: model fallback failed for %q: %v", command, err)
		return Assessment{
			Tier:          c.unresolvedTier,
			ModelInferred: true,
			Rationale:     fmt.Sprintf("Risk analysis unavailable (%v); defaulting to %s.", err, c.unresolvedTier),
		}
	}

	return parseModelVerdict(response, c.unresolvedTier)
}

func parseModelVerdict(response string, unresolved Tier) Assessment {
	verdict := strings.TrimSpace(strings.Trim(response, "`"))
	lower := strings.ToLower(verdict)

	switch {
	case lower == "safe":
		return Assessment{
			Tier:          TierSafe,
			ModelInferred: true,
			Rationale:     "Model analysis found no risk indicators.",
		}
	case strings.HasPrefix(lower, "risky:"):
		reason := strings.TrimSpace(verdict[len("risky:"):])
		if reason == "" {
			reason = "Model flagged the command as risky."
		}
		return Assessment{
			Tier:          TierRisky,
			ModelInferred: true,
			Rationale:     reason,
		}
	default:
		logger.Warn("risk: unexpected model verdict %q", verdict)
		return Assessment{
			Tier:          unresolved,
			ModelInferred: true,
			Rationale:     "Model verdict was not in the expected format; treating as unresolved.",
		}
	}
}
