package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"

	"github.com/linasec/lina/internal/logger"
)

// Rule is one static pattern check. Rules are evaluated in order and the
// first match wins.
type Rule struct {
	Pattern     string `json:"pattern"`
	Tier        string `json:"risk"`
	Explanation string `json:"explanation"`

	re   *regexp.Regexp
	tier Tier
}

// defaultRules cover the destructive patterns the static guard must catch
// even when no external risk database is configured.
var defaultRules = []Rule{
	{Pattern: `rm\s+(-[a-zA-Z]*\s+)*(-rf|-fr|--no-preserve-root)`, Tier: "BLOCKED", Explanation: "Recursive forced deletion can destroy the filesystem."},
	{Pattern: `\bmkfs(\.[a-z0-9]+)?\b`, Tier: "BLOCKED", Explanation: "Formatting a filesystem wipes its contents."},
	{Pattern: `\bdd\b.*\bof=/dev/(sd|hd|nvme|mmcblk)`, Tier: "BLOCKED", Explanation: "Writing raw bytes to a block device destroys data."},
	{Pattern: `\bshred\b.*\s/dev/`, Tier: "BLOCKED", Explanation: "Shredding a device is irreversible."},
	{Pattern: `:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`, Tier: "BLOCKED", Explanation: "Fork bomb exhausts system resources."},
	{Pattern: `>\s*/dev/(sd|hd|nvme)`, Tier: "BLOCKED", Explanation: "Redirecting output over a block device destroys data."},
	{Pattern: `\bchmod\s+(-[a-zA-Z]*\s+)*777\s+/(\s|$)`, Tier: "CRITICAL", Explanation: "World-writable root filesystem breaks system security."},
	{Pattern: `\biptables\s+(-F|--flush)`, Tier: "HIGH", Explanation: "Flushing firewall rules drops all protections."},
	{Pattern: `\b(shutdown|poweroff|reboot|halt)\b`, Tier: "HIGH", Explanation: "Power state changes interrupt every running task."},
	{Pattern: `\bnmap\b.*(-sS|-sU|-O\b)`, Tier: "MEDIUM", Explanation: "Raw-socket scans require privileges and are intrusive on remote targets."},
	{Pattern: `\b(nmap|ping|traceroute)\b.*\b(localhost|127\.0\.0\.1)\b`, Tier: "SAFE", Explanation: "Scanning the local host is contained."},
	{Pattern: `^\s*(ls|pwd|whoami|id|date|uname|df|free|uptime)\b`, Tier: "SAFE", Explanation: "Read-only system inspection."},
}

// LoadRules reads pattern rules from a JSON risk database and appends the
// built-in defaults after them, so user rules take precedence. A missing
// file yields only the defaults.
func LoadRules(path string) ([]Rule, error) {
	rules := make([]Rule, 0, len(defaultRules))

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			logger.Warn("risk: no risk database at %s, using built-in rules only", path)
		case err != nil:
			return nil, fmt.Errorf("failed to read risk database %s: %w", path, err)
		default:
			var loaded []Rule
			if err := json.Unmarshal(data, &loaded); err != nil {
				return nil, fmt.Errorf("failed to parse risk database %s: %w", path, err)
			}
			rules = append(rules, loaded...)
		}
	}

	rules = append(rules, defaultRules...)
	return compileRules(rules), nil
}

// compileRules drops rules with invalid regexes or unknown tiers rather
// than failing the whole load.
func compileRules(rules []Rule) []Rule {
	out := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			logger.Warn("risk: invalid rule pattern %q: %v", rule.Pattern, err)
			continue
		}
		tier, ok := ParseTier(rule.Tier)
		if !ok {
			logger.Warn("risk: rule %q has unknown tier %q", rule.Pattern, rule.Tier)
			continue
		}
		rule.re = re
		rule.tier = tier
		out = append(out, rule)
	}
	return out
}

// match returns the first rule whose pattern matches command
func matchRules(rules []Rule, command string) *Rule {
	for i := range rules {
		if rules[i].re.MatchString(command) {
			return &rules[i]
		}
	}
	return nil
}
