package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linasec/lina/internal/consts"
)

// ErrSessionNotFound is returned when a session id does not resolve to a
// live session. Callers surfacing this over the API should hint that the
// client must create a new session.
var ErrSessionNotFound = errors.New("session not found")

// Role describes the operator persona a session runs under. It shapes the
// tone and depth of generated explanations.
type Role string

const (
	RoleStudent           Role = "student"
	RoleForensicExpert    Role = "forensic_expert"
	RolePenetrationTester Role = "penetration_tester"
)

// ParseRole maps a wire string to a Role, defaulting to student.
func ParseRole(s string) Role {
	switch s {
	case string(RoleForensicExpert):
		return RoleForensicExpert
	case string(RolePenetrationTester):
		return RolePenetrationTester
	default:
		return RoleStudent
	}
}

// Mode selects how much back-and-forth a session expects before a command
// is executed.
type Mode string

const (
	// ModeQuick composes and returns a single command per request.
	ModeQuick Mode = "quick"
	// ModeInteractive keeps conversation context between requests.
	ModeInteractive Mode = "interactive"
	// ModeSuggester returns up to three candidate commands instead of one.
	ModeSuggester Mode = "suggester"
)

// ParseMode maps a wire string to a Mode, defaulting to interactive.
func ParseMode(s string) Mode {
	switch s {
	case string(ModeQuick):
		return ModeQuick
	case string(ModeSuggester):
		return ModeSuggester
	default:
		return ModeInteractive
	}
}

// Turn is a single conversation entry retained for LLM context.
type Turn struct {
	Role    string    `json:"role"` // "user" or "assistant"
	Content string    `json:"content"`
	At      time.Time `json:"at"`
}

// Session holds per-client state. All fields behind mu; callers go through
// Manager methods rather than touching sessions directly.
type Session struct {
	mu sync.Mutex

	id        string
	role      Role
	mode      Mode
	createdAt time.Time

	commandsExecuted      int
	toolsUsed             map[string]struct{}
	plansGenerated        int
	explanationsRequested int

	turns []Turn
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Role returns the session persona.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// Mode returns the session interaction mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode switches the interaction mode mid-session.
func (s *Session) SetMode(m Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = m
}

// RecordCommand notes one executed command and the tool that produced it.
func (s *Session) RecordCommand(tool string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandsExecuted++
	if tool != "" {
		s.toolsUsed[tool] = struct{}{}
	}
}

// RecordPlan notes one generated multi-step plan.
func (s *Session) RecordPlan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plansGenerated++
}

// RecordExplanation notes one explanation request.
func (s *Session) RecordExplanation() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.explanationsRequested++
}

// AddTurn appends a conversation entry, trimming the oldest entries once
// the retained window exceeds MaxConversationTurns.
func (s *Session) AddTurn(role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, Turn{Role: role, Content: content, At: time.Now()})
	if len(s.turns) > consts.MaxConversationTurns {
		s.turns = s.turns[len(s.turns)-consts.MaxConversationTurns:]
	}
}

// RecentTurns returns up to n of the most recent conversation entries,
// oldest first.
func (s *Session) RecentTurns(n int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 || n > len(s.turns) {
		n = len(s.turns)
	}
	out := make([]Turn, n)
	copy(out, s.turns[len(s.turns)-n:])
	return out
}

// Analytics is a point-in-time summary of session activity.
type Analytics struct {
	SessionID             string   `json:"session_id"`
	Role                  Role     `json:"role"`
	Mode                  Mode     `json:"mode"`
	CreatedAt             string   `json:"created_at"`
	DurationMinutes       float64  `json:"duration_minutes"`
	CommandsExecuted      int      `json:"commands_executed"`
	UniqueToolsUsed       int      `json:"unique_tools_used"`
	ToolsUsed             []string `json:"tools_used"`
	PlansGenerated        int      `json:"plans_generated"`
	ExplanationsRequested int      `json:"explanations_requested"`
}

// Analytics snapshots the session counters. The tools list is sorted so
// repeated calls yield stable output.
func (s *Session) Analytics() Analytics {
	s.mu.Lock()
	defer s.mu.Unlock()
	tools := make([]string, 0, len(s.toolsUsed))
	for t := range s.toolsUsed {
		tools = append(tools, t)
	}
	sort.Strings(tools)
	return Analytics{
		SessionID:             s.id,
		Role:                  s.role,
		Mode:                  s.mode,
		CreatedAt:             s.createdAt.UTC().Format(time.RFC3339),
		DurationMinutes:       time.Since(s.createdAt).Minutes(),
		CommandsExecuted:      s.commandsExecuted,
		UniqueToolsUsed:       len(tools),
		ToolsUsed:             tools,
		PlansGenerated:        s.plansGenerated,
		ExplanationsRequested: s.explanationsRequested,
	}
}

// Manager owns the live session table. Sessions are in-memory only and
// disappear on restart.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager returns an empty session table.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers a new session and returns it.
func (m *Manager) Create(role Role, mode Mode) *Session {
	s := &Session{
		id:        uuid.NewString(),
		role:      role,
		mode:      mode,
		createdAt: time.Now(),
		toolsUsed: make(map[string]struct{}),
	}
	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()
	return s
}

// Get resolves a session id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes a session. Deleting an unknown id is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
