package composer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/linasec/lina/internal/catalog"
	"github.com/linasec/lina/internal/llm"
	"github.com/linasec/lina/internal/logger"
)

// Composer turns free-text intent into a Command or a Plan using the
// two-stage Librarian (tool selection) and Scholar (command composition)
// pipeline. Composition is mode-agnostic: the caller's mode only affects
// what happens with the result downstream.
type Composer struct {
	client  llm.Client
	catalog *catalog.Catalog
}

// New creates a Composer over the given catalog and model client
func New(client llm.Client, cat *catalog.Catalog) *Composer {
	return &Composer{client: client, catalog: cat}
}

const librarianPrompt = `You are a tool classification librarian for a %s.
Identify which single tool from the list below best serves the request.
Respond with ONLY the tool's name, a single word.

USER REQUEST: %q

AVAILABLE TOOLS:
%s

TOOL NAME:`

// SelectTool resolves intent to a registered tool identifier. Returns
// ErrUnresolvable when neither the model's answer nor any keyword match
// names a known tool.
func (c *Composer) SelectTool(ctx context.Context, intent, role string) (string, error) {
	if name := c.keywordMatch(intent); name != "" {
		logger.Debug("composer: keyword match %q for %q", name, intent)
		return name, nil
	}

	summary := c.toolSummary()
	response, err := c.client.Complete(ctx, fmt.Sprintf(librarianPrompt, role, intent, summary))
	if err != nil {
		return "", fmt.Errorf("tool selection failed: %w", err)
	}

	fields := strings.Fields(strings.ToLower(strings.Trim(strings.TrimSpace(response), "`")))
	if len(fields) == 0 {
		return "", ErrUnresolvable
	}
	name := fields[0]
	if !c.catalog.Has(name) {
		logger.Warn("composer: model proposed unknown tool %q", name)
		return "", ErrUnresolvable
	}
	return name, nil
}

// keywordMatch checks descriptor keywords against the intent so common
// requests resolve without a model round trip.
func (c *Composer) keywordMatch(intent string) string {
	lower := strings.ToLower(intent)
	for _, tool := range c.catalog.List() {
		if strings.Contains(lower, tool.Name) {
			return tool.Name
		}
		for _, kw := range tool.Keywords {
			if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
				return tool.Name
			}
		}
	}
	return ""
}

func (c *Composer) toolSummary() string {
	var sb strings.Builder
	for _, tool := range c.catalog.List() {
		sb.WriteString("- ")
		sb.WriteString(tool.Name)
		if tool.Description != "" {
			sb.WriteString(": ")
			sb.WriteString(tool.Description)
		}
		if len(tool.Keywords) > 0 {
			sb.WriteString(" (keywords: ")
			sb.WriteString(strings.Join(tool.Keywords, ", "))
			sb.WriteString(")")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

const scholarPrompt = `You are an expert command-line specialist for security tools.
Construct one precise, syntactically correct shell command for the request
below, using the tool's parameter registry. Respond with ONLY the command.

USER REQUEST: %q

TOOL: %s

TOOL PARAMETER REGISTRY:
%s

FINAL COMMAND:`

// ComposeCommand builds the executable command line for toolID. It first
// tries to fill one of the descriptor's templates from entities extracted
// out of the intent; if no template can be completed it asks the model.
func (c *Composer) ComposeCommand(ctx context.Context, intent, toolID string) (*Command, error) {
	tool, err := c.catalog.Get(toolID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvable, toolID)
	}

	bindings := extractEntities(intent).bindings()
	for _, template := range tool.Templates {
		if line, used, ok := fillTemplate(template, bindings); ok {
			return &Command{
				Tool:     tool.Name,
				Template: template,
				Bindings: used,
				Line:     line,
			}, nil
		}
	}

	return c.composeWithModel(ctx, intent, tool)
}

// composeWithModel asks the model for a command line, feeding it the
// tool's parameter registry when one exists.
func (c *Composer) composeWithModel(ctx context.Context, intent string, tool *catalog.ToolDescriptor) (*Command, error) {
	registry, err := c.catalog.ParameterRegistry(tool.Name)
	if err != nil {
		return nil, err
	}
	registryText := "{}"
	if registry != nil {
		registryText = string(registry)
	}

	response, err := c.client.Complete(ctx, fmt.Sprintf(scholarPrompt, intent, tool.Name, registryText))
	if err != nil {
		return nil, fmt.Errorf("command composition failed: %w", err)
	}

	line := cleanCommandResponse(response)
	if line == "" {
		return nil, fmt.Errorf("command composition produced no command for %s", tool.Name)
	}
	if !strings.HasPrefix(line, tool.Name) {
		logger.Warn("composer: composed command does not start with tool name: %q", line)
	}

	return &Command{Tool: tool.Name, Line: line}, nil
}

// Compose runs the full Librarian then Scholar pipeline for a single-tool
// intent.
func (c *Composer) Compose(ctx context.Context, intent, role string) (*Command, error) {
	toolID, err := c.SelectTool(ctx, intent, role)
	if err != nil {
		return nil, err
	}
	return c.ComposeCommand(ctx, intent, toolID)
}

// CandidateLines produces up to max distinct command candidates for a
// tool: every descriptor template that can be completed from the intent's
// entities becomes one candidate, topped up with a model-composed command
// when slots remain. Used by suggester mode.
func (c *Composer) CandidateLines(ctx context.Context, intent, toolID string, max int) []*Command {
	tool, err := c.catalog.Get(toolID)
	if err != nil {
		return nil
	}
	if max <= 0 {
		max = 3
	}

	seen := make(map[string]struct{})
	var out []*Command

	bindings := extractEntities(intent).bindings()
	for _, template := range tool.Templates {
		if len(out) >= max {
			return out
		}
		line, used, ok := fillTemplate(template, bindings)
		if !ok {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, &Command{Tool: tool.Name, Template: template, Bindings: used, Line: line})
	}

	if len(out) < max && c.client != nil {
		if cmd, err := c.composeWithModel(ctx, intent, tool); err == nil {
			if _, dup := seen[cmd.Line]; !dup {
				out = append(out, cmd)
			}
		}
	}
	return out
}

// cleanCommandResponse strips markdown fences and surrounding backticks
// from a model reply, keeping the first non-empty line.
func cleanCommandResponse(response string) string {
	text := strings.TrimSpace(response)
	text = strings.TrimPrefix(text, "```bash")
	text = strings.TrimPrefix(text, "```sh")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.Trim(strings.TrimSpace(text), "`")

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}

// extractJSONBlock pulls a JSON document out of a model reply that may be
// wrapped in markdown fences or prose.
func extractJSONBlock(response string) (string, error) {
	text := strings.TrimSpace(response)
	if strings.Contains(text, "```") {
		var inner []string
		inside := false
		for _, line := range strings.Split(text, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inside = !inside
				continue
			}
			if inside {
				inner = append(inner, line)
			}
		}
		text = strings.TrimSpace(strings.Join(inner, "\n"))
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return "", fmt.Errorf("response contains no JSON object")
	}
	candidate := text[start : end+1]
	if !json.Valid([]byte(candidate)) {
		return "", fmt.Errorf("response JSON is invalid")
	}
	return candidate, nil
}
