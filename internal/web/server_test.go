//go:build !windows

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linasec/lina/internal/brain"
	"github.com/linasec/lina/internal/catalog"
	"github.com/linasec/lina/internal/composer"
	"github.com/linasec/lina/internal/executor"
	"github.com/linasec/lina/internal/risk"
	"github.com/linasec/lina/internal/session"
)

type mockClient struct {
	responses []string
	index     int
}

func (m *mockClient) Complete(ctx context.Context, prompt string) (string, error) {
	if m.index >= len(m.responses) {
		return "", nil
	}
	resp := m.responses[m.index]
	m.index++
	return resp, nil
}

func (m *mockClient) GetModelName() string { return "mock-model" }

type fixture struct {
	server       *Server
	sessions     *session.Manager
	orchestrator *executor.Orchestrator
}

func newFixture(t *testing.T, client *mockClient) *fixture {
	t.Helper()

	dir := t.TempDir()
	registry := `[
		{"name": "nmap", "description": "network scanner",
		 "keywords": ["scan", "port"],
		 "templates": ["nmap -sV -p {port} {target}", "nmap -sV {target}"]},
		{"name": "echo", "description": "echoes text", "keywords": ["echo"]}
	]`
	path := filepath.Join(dir, "tool_registry.json")
	require.NoError(t, os.WriteFile(path, []byte(registry), 0644))

	cat, err := catalog.Load(path, dir, time.Minute)
	require.NoError(t, err)
	t.Cleanup(func() { cat.Close() })

	rules, err := risk.LoadRules("")
	require.NoError(t, err)
	classifier := risk.NewClassifier(rules, client, risk.TierHigh)

	comp := composer.New(client, cat)
	orch := executor.New(executor.Options{KillGrace: 200 * time.Millisecond})
	t.Cleanup(orch.Stop)

	sessions := session.NewManager()
	b := brain.New(client, cat, comp, classifier, orch, sessions, nil)

	return &fixture{
		server:       NewServer("localhost:0", b, sessions, cat, orch),
		sessions:     sessions,
		orchestrator: orch,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &mockClient{})
	rec := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, &mockClient{})

	rec := f.do(t, http.MethodPost, "/api/session",
		map[string]string{"role": "penetration_tester", "mode": "quick"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[map[string]string](t, rec)
	id := created["session_id"]
	require.NotEmpty(t, id)
	assert.Equal(t, "penetration_tester", created["role"])
	assert.Equal(t, "quick", created["mode"])

	rec = f.do(t, http.MethodGet, "/api/session/"+id, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodDelete, "/api/session/"+id, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/session/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSessionNotFoundHintsRecreate(t *testing.T) {
	f := newFixture(t, &mockClient{})
	rec := f.do(t, http.MethodGet, "/api/session/ghost", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["recreate_session"])
}

func TestSessionCreateEmptyBody(t *testing.T) {
	f := newFixture(t, &mockClient{})
	rec := f.do(t, http.MethodPost, "/api/session", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[map[string]string](t, rec)
	assert.Equal(t, "student", created["role"])
	assert.Equal(t, "interactive", created["mode"])
}

func TestSessionAnalytics(t *testing.T) {
	f := newFixture(t, &mockClient{})
	sess := f.sessions.Create(session.RoleStudent, session.ModeInteractive)
	sess.RecordCommand("nmap")

	rec := f.do(t, http.MethodGet, "/api/session/"+sess.ID()+"/analytics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	analytics := decode[session.Analytics](t, rec)
	assert.Equal(t, 1, analytics.CommandsExecuted)
	assert.Equal(t, []string{"nmap"}, analytics.ToolsUsed)
}

func TestRequestComposesCommand(t *testing.T) {
	f := newFixture(t, &mockClient{responses: []string{"command_request"}})
	sess := f.sessions.Create(session.RoleStudent, session.ModeInteractive)

	rec := f.do(t, http.MethodPost, "/api/request",
		map[string]string{"session_id": sess.ID(), "text": "scan port 443 on 10.0.0.1"})
	require.Equal(t, http.StatusOK, rec.Code)

	result := decode[brain.Result](t, rec)
	assert.Equal(t, brain.KindCommand, result.Kind)
	require.NotNil(t, result.Command)
	assert.Equal(t, "nmap -sV -p 443 10.0.0.1", result.Command.Command.Line)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t, &mockClient{})

	rec := f.do(t, http.MethodPost, "/api/request", map[string]string{"session_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/request",
		map[string]string{"session_id": "ghost", "text": "scan 10.0.0.1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestUnresolvable(t *testing.T) {
	f := newFixture(t, &mockClient{responses: []string{"command_request", "nothing fits"}})
	sess := f.sessions.Create(session.RoleStudent, session.ModeInteractive)

	rec := f.do(t, http.MethodPost, "/api/request",
		map[string]string{"session_id": sess.ID(), "text": "bake me a cake"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExecuteBlocked(t *testing.T) {
	f := newFixture(t, &mockClient{})
	sess := f.sessions.Create(session.RoleStudent, session.ModeInteractive)

	rec := f.do(t, http.MethodPost, "/api/execute", brain.ExecuteRequest{
		SessionID: sess.ID(),
		Line:      "rm -rf /",
		Confirm:   true,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExecuteConfirmationRequired(t *testing.T) {
	f := newFixture(t, &mockClient{})
	sess := f.sessions.Create(session.RoleStudent, session.ModeInteractive)

	rec := f.do(t, http.MethodPost, "/api/execute", brain.ExecuteRequest{
		SessionID: sess.ID(),
		Tool:      "nmap",
		Line:      "nmap -sS 10.0.0.5",
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	result := decode[brain.ExecuteResult](t, rec)
	assert.True(t, result.ConfirmationRequired)
	assert.Empty(t, result.ExecutionID)
}

func TestExecuteAndPoll(t *testing.T) {
	f := newFixture(t, &mockClient{})
	sess := f.sessions.Create(session.RoleStudent, session.ModeInteractive)

	rec := f.do(t, http.MethodPost, "/api/execute", brain.ExecuteRequest{
		SessionID: sess.ID(),
		Tool:      "echo",
		Line:      "echo from-api",
		Confirm:   true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[brain.ExecuteResult](t, rec)
	require.NotEmpty(t, result.ExecutionID)
	require.NotNil(t, result.Snapshot)
	assert.Equal(t, "from-api\n", result.Snapshot.Output)

	rec = f.do(t, http.MethodGet, "/api/executions/"+result.ExecutionID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[executor.Snapshot](t, rec)
	assert.Equal(t, executor.StateCompleted, snap.State)
	assert.Equal(t, "from-api\n", snap.Output)
}

func TestExecutionNotFound(t *testing.T) {
	f := newFixture(t, &mockClient{})
	rec := f.do(t, http.MethodGet, "/api/executions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/executions/ghost/cancel", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolsListing(t *testing.T) {
	f := newFixture(t, &mockClient{})

	rec := f.do(t, http.MethodGet, "/api/tools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string][]map[string]any](t, rec)
	require.Len(t, body["tools"], 2)
	assert.Equal(t, "nmap", body["tools"][0]["name"])

	rec = f.do(t, http.MethodGet, "/api/tools/nmap", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/tools/hydra", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExecutionStream(t *testing.T) {
	f := newFixture(t, &mockClient{})
	sess := f.sessions.Create(session.RoleStudent, session.ModeInteractive)

	res, err := f.server.brain.Execute(context.Background(), brain.ExecuteRequest{
		SessionID: sess.ID(),
		Tool:      "echo",
		Line:      "printf 'one\\ntwo\\n'",
		Confirm:   true,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(f.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/executions/" + res.ExecutionID + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	var output strings.Builder
	terminals := 0
	for {
		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "chunk":
			output.WriteString(msg.Chunk)
		case "terminal":
			terminals++
			assert.Equal(t, string(executor.StateCompleted), msg.State)
		}
		if msg.Type == "terminal" {
			break
		}
	}
	assert.Equal(t, 1, terminals)
	assert.Equal(t, "one\ntwo\n", output.String())
}

func TestStreamUnknownExecution(t *testing.T) {
	f := newFixture(t, &mockClient{})
	rec := f.do(t, http.MethodGet, "/api/executions/ghost/stream", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
