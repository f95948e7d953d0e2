// Package brain is the request pipeline: it triages free-text input,
// drives composition and risk classification, and hands approved commands
// to the execution orchestrator.
package brain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/linasec/lina/internal/catalog"
	"github.com/linasec/lina/internal/composer"
	"github.com/linasec/lina/internal/consts"
	"github.com/linasec/lina/internal/executor"
	"github.com/linasec/lina/internal/history"
	"github.com/linasec/lina/internal/llm"
	"github.com/linasec/lina/internal/logger"
	"github.com/linasec/lina/internal/risk"
	"github.com/linasec/lina/internal/session"
)

// Intent is the coarse category of one user request
type Intent string

const (
	IntentPlan         Intent = "plan_request"
	IntentTool         Intent = "tool_request"
	IntentCommand      Intent = "command_request"
	IntentExplanation  Intent = "explanation_request"
	IntentConversation Intent = "general_conversation"
)

// ResultKind tags what a processed request produced
type ResultKind string

const (
	KindCommand ResultKind = "command"
	KindOptions ResultKind = "options"
	KindPlan    ResultKind = "plan"
	KindText    ResultKind = "text"
)

// CommandResult pairs a composed command with its risk assessment
type CommandResult struct {
	Command    *composer.Command `json:"command"`
	Assessment risk.Assessment   `json:"assessment"`
	// ConfirmationRequired is set when the tier demands an explicit
	// confirm flag before execution
	ConfirmationRequired bool `json:"confirmation_required"`
}

// Result is the outcome of ProcessRequest
type Result struct {
	Intent  Intent           `json:"intent"`
	Kind    ResultKind       `json:"kind"`
	Command *CommandResult   `json:"command,omitempty"`
	Options []*CommandResult `json:"options,omitempty"`
	Plan    *composer.Plan   `json:"plan,omitempty"`
	Text    string           `json:"text,omitempty"`
}

// Brain wires the composer, classifier and orchestrator behind a single
// request pipeline.
type Brain struct {
	client       llm.Client
	catalog      *catalog.Catalog
	composer     *composer.Composer
	classifier   *risk.Classifier
	orchestrator *executor.Orchestrator
	sessions     *session.Manager
	store        *history.Store

	syncWindow time.Duration
}

// New assembles the pipeline. store may be nil to disable the audit log.
func New(client llm.Client, cat *catalog.Catalog, comp *composer.Composer,
	cls *risk.Classifier, orch *executor.Orchestrator, sessions *session.Manager,
	store *history.Store) *Brain {
	return &Brain{
		client:       client,
		catalog:      cat,
		composer:     comp,
		classifier:   cls,
		orchestrator: orch,
		sessions:     sessions,
		store:        store,
		syncWindow:   consts.DefaultSyncWindow,
	}
}

const triagePrompt = `Classify the user request into exactly one category.
Respond with ONLY the category name.

Categories:
- plan_request: asks for a multi-step plan, strategy, methodology or full assessment
- tool_request: asks which tool to use, or asks to use a named tool
- command_request: asks for a concrete action against a target (scan, enumerate, crack, capture)
- explanation_request: asks what something is, how it works, or what output means
- general_conversation: greetings, small talk, anything else

USER REQUEST: %q

CATEGORY:`

var planKeywords = []string{"plan", "strategy", "methodology", "step by step", "full assessment", "pentest of", "workflow"}

var explanationKeywords = []string{"what is", "what does", "explain", "how does", "why does", "meaning of", "tell me about"}

// Triage decides the intent with keyword fast paths, falling back to the
// model. An unreachable model degrades to command_request so the pipeline
// stays usable without a provider.
func (b *Brain) Triage(ctx context.Context, text string) Intent {
	lower := strings.ToLower(text)
	for _, kw := range planKeywords {
		if strings.Contains(lower, kw) {
			return IntentPlan
		}
	}
	for _, kw := range explanationKeywords {
		if strings.Contains(lower, kw) {
			return IntentExplanation
		}
	}

	if b.client == nil {
		return IntentCommand
	}
	response, err := b.client.Complete(ctx, fmt.Sprintf(triagePrompt, text))
	if err != nil {
		logger.Warn("brain: triage fallback after model error: %v", err)
		return IntentCommand
	}
	switch Intent(strings.ToLower(strings.TrimSpace(response))) {
	case IntentPlan:
		return IntentPlan
	case IntentTool:
		return IntentTool
	case IntentExplanation:
		return IntentExplanation
	case IntentConversation:
		return IntentConversation
	default:
		return IntentCommand
	}
}

// ProcessRequest runs one user request through triage, composition and
// classification. It never executes anything; execution is a separate,
// explicit call.
func (b *Brain) ProcessRequest(ctx context.Context, sessionID, text string) (*Result, error) {
	sess, err := b.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.AddTurn("user", text)

	intent := b.Triage(ctx, text)
	logger.Debug("brain: session %s intent %s", sessionID, intent)

	var res *Result
	switch intent {
	case IntentPlan:
		res, err = b.handlePlan(ctx, sess, text)
	case IntentExplanation:
		res, err = b.handleExplanation(ctx, sess, text)
	case IntentConversation:
		res, err = b.handleConversation(ctx, sess, text)
	default:
		if sess.Mode() == session.ModeSuggester {
			res, err = b.handleSuggester(ctx, sess, text)
		} else {
			res, err = b.handleCommand(ctx, sess, text, intent)
		}
	}
	if err != nil {
		return nil, err
	}

	if res.Text != "" {
		sess.AddTurn("assistant", res.Text)
	}
	return res, nil
}

func (b *Brain) handleCommand(ctx context.Context, sess *session.Session, text string, intent Intent) (*Result, error) {
	cmd, err := b.composer.Compose(ctx, text, string(sess.Role()))
	if err != nil {
		b.record(ctx, sess.ID(), text, "", "", "", "compose_failed")
		return nil, err
	}
	cmd.SessionID = sess.ID()

	assessment := b.classifier.Classify(ctx, cmd.Line, cmd.Tool)
	b.record(ctx, sess.ID(), text, cmd.Tool, cmd.Line, assessment.Tier.String(), "composed")

	return &Result{
		Intent: intent,
		Kind:   KindCommand,
		Command: &CommandResult{
			Command:              cmd,
			Assessment:           assessment,
			ConfirmationRequired: needsConfirmation(assessment.Tier),
		},
	}, nil
}

// handleSuggester returns up to three candidate commands for the request:
// every descriptor template that can be filled from the extracted entities
// becomes an option, topped up by one model-composed command.
func (b *Brain) handleSuggester(ctx context.Context, sess *session.Session, text string) (*Result, error) {
	toolID, err := b.composer.SelectTool(ctx, text, string(sess.Role()))
	if err != nil {
		return nil, err
	}

	lines := b.composer.CandidateLines(ctx, text, toolID, 3)
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no candidate commands for %s", composer.ErrUnresolvable, toolID)
	}

	options := make([]*CommandResult, 0, len(lines))
	for _, cmd := range lines {
		cmd.SessionID = sess.ID()
		assessment := b.classifier.Classify(ctx, cmd.Line, cmd.Tool)
		options = append(options, &CommandResult{
			Command:              cmd,
			Assessment:           assessment,
			ConfirmationRequired: needsConfirmation(assessment.Tier),
		})
	}
	b.record(ctx, sess.ID(), text, toolID, options[0].Command.Line, options[0].Assessment.Tier.String(), "suggested")

	return &Result{Intent: IntentTool, Kind: KindOptions, Options: options}, nil
}

func (b *Brain) handlePlan(ctx context.Context, sess *session.Session, text string) (*Result, error) {
	plan, err := b.composer.GeneratePlan(ctx, text, roleLabel(sess.Role()))
	if err != nil {
		b.record(ctx, sess.ID(), text, "", "", "", "plan_failed")
		return nil, err
	}

	// classify each step template so the client can render per-step risk
	// before any step is triggered
	for i := range plan.Steps {
		assessment := b.classifier.Classify(ctx, plan.Steps[i].CommandTemplate, plan.Steps[i].Tool)
		plan.Steps[i].Tier = assessment.Tier
	}
	plan.ComputeAggregateTier()

	sess.RecordPlan()
	b.record(ctx, sess.ID(), text, "", "", plan.AggregateTier.String(), "plan_generated")

	return &Result{Intent: IntentPlan, Kind: KindPlan, Plan: plan}, nil
}

const explanationPrompt = `You are a cybersecurity mentor talking to a %s.
Answer the question below clearly, at a depth appropriate to the audience.
Keep the answer under 200 words.

RECENT CONVERSATION:
%s

QUESTION: %s

ANSWER:`

func (b *Brain) handleExplanation(ctx context.Context, sess *session.Session, text string) (*Result, error) {
	if b.client == nil {
		return nil, fmt.Errorf("brain: no model provider configured for explanations")
	}
	answer, err := b.client.Complete(ctx, fmt.Sprintf(explanationPrompt,
		roleLabel(sess.Role()), renderTurns(sess.RecentTurns(consts.MaxRecentHistory)), text))
	if err != nil {
		return nil, fmt.Errorf("explanation failed: %w", err)
	}
	sess.RecordExplanation()
	b.record(ctx, sess.ID(), text, "", "", "", "explained")
	return &Result{Intent: IntentExplanation, Kind: KindText, Text: strings.TrimSpace(answer)}, nil
}

const conversationPrompt = `You are LINA, a concise cybersecurity assistant talking to a %s.
Reply to the message below in at most two sentences.

MESSAGE: %s

REPLY:`

func (b *Brain) handleConversation(ctx context.Context, sess *session.Session, text string) (*Result, error) {
	if b.client == nil {
		return &Result{Intent: IntentConversation, Kind: KindText,
			Text: "Hello. Describe a security task and I will compose the command for it."}, nil
	}
	reply, err := b.client.Complete(ctx, fmt.Sprintf(conversationPrompt, roleLabel(sess.Role()), text))
	if err != nil {
		return nil, fmt.Errorf("conversation failed: %w", err)
	}
	return &Result{Intent: IntentConversation, Kind: KindText, Text: strings.TrimSpace(reply)}, nil
}

// ExecuteRequest asks for one command line to run under a session
type ExecuteRequest struct {
	SessionID string `json:"session_id"`
	Tool      string `json:"tool"`
	Line      string `json:"command"`
	// Confirm acknowledges a tier that requires explicit approval
	Confirm bool `json:"confirm"`
	// TimeoutSeconds overrides the default execution timeout when > 0
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
}

// ExecuteResult reports a started (or already finished) execution
type ExecuteResult struct {
	ExecutionID string          `json:"execution_id"`
	Assessment  risk.Assessment `json:"assessment"`
	// ConfirmationRequired is set instead of an execution when the tier
	// demands approval and Confirm was false
	ConfirmationRequired bool `json:"confirmation_required,omitempty"`
	// Snapshot is filled when the execution finished within the short
	// synchronous window
	Snapshot *executor.Snapshot `json:"snapshot,omitempty"`
}

// Execute classifies a command line and, if admissible, submits it for
// supervised execution. Commands finishing within the synchronous window
// return their final snapshot inline; everything else returns an id to
// poll or stream.
func (b *Brain) Execute(ctx context.Context, req ExecuteRequest) (*ExecuteResult, error) {
	sess, err := b.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Line) == "" {
		return nil, fmt.Errorf("brain: empty command")
	}

	tool := req.Tool
	if tool == "" {
		tool = strings.Fields(req.Line)[0]
	}

	assessment := b.classifier.Classify(ctx, req.Line, tool)
	if assessment.Tier.Blocked() {
		b.record(ctx, sess.ID(), req.Line, tool, req.Line, assessment.Tier.String(), "blocked")
		return nil, fmt.Errorf("%w: %s", executor.ErrBlocked, assessment.Rationale)
	}
	if needsConfirmation(assessment.Tier) && !req.Confirm {
		return &ExecuteResult{Assessment: assessment, ConfirmationRequired: true}, nil
	}

	cmd := &composer.Command{Tool: tool, Line: req.Line, SessionID: sess.ID()}
	var subOpts executor.SubmitOptions
	if req.TimeoutSeconds > 0 {
		subOpts.Timeout = time.Duration(req.TimeoutSeconds) * time.Second
	} else if desc, derr := b.catalog.Get(tool); derr == nil && desc.TimeoutSeconds > 0 {
		subOpts.Timeout = time.Duration(desc.TimeoutSeconds) * time.Second
	}

	exe, err := b.orchestrator.Submit(cmd, assessment, subOpts)
	if err != nil {
		outcome := "submit_failed"
		if errors.Is(err, executor.ErrToolUnavailable) {
			outcome = "tool_unavailable"
		}
		b.record(ctx, sess.ID(), req.Line, tool, req.Line, assessment.Tier.String(), outcome)
		return nil, err
	}

	sess.RecordCommand(tool)
	b.record(ctx, sess.ID(), req.Line, tool, req.Line, assessment.Tier.String(), "executed")

	result := &ExecuteResult{ExecutionID: exe.ID, Assessment: assessment}
	if snap, ok := b.waitSync(exe); ok {
		result.Snapshot = &snap
	}
	return result, nil
}

// waitSync waits up to the synchronous window for the execution to reach
// a terminal state.
func (b *Brain) waitSync(exe *executor.Execution) (executor.Snapshot, bool) {
	events, stop := exe.Subscribe()
	defer stop()

	timer := time.NewTimer(b.syncWindow)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return exe.Snapshot(), true
			}
			if ev.Terminal {
				return exe.Snapshot(), true
			}
		case <-timer.C:
			return executor.Snapshot{}, false
		}
	}
}

// needsConfirmation reports whether the tier requires an explicit confirm
// flag before execution. BLOCKED never reaches this check.
func needsConfirmation(t risk.Tier) bool {
	return t >= risk.TierMedium
}

func roleLabel(r session.Role) string {
	switch r {
	case session.RoleForensicExpert:
		return "forensic expert"
	case session.RolePenetrationTester:
		return "penetration tester"
	default:
		return "cybersecurity student"
	}
}

func renderTurns(turns []session.Turn) string {
	if len(turns) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for _, t := range turns {
		sb.WriteString(t.Role)
		sb.WriteString(": ")
		sb.WriteString(t.Content)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (b *Brain) record(ctx context.Context, sessionID, request, tool, command, tier, outcome string) {
	b.store.Record(ctx, history.Entry{
		SessionID: sessionID,
		Request:   request,
		Tool:      tool,
		Command:   command,
		RiskTier:  tier,
		Outcome:   outcome,
	})
}
