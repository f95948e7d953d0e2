// Package web exposes the request pipeline over HTTP: REST endpoints for
// sessions, composition and execution, plus a websocket stream of live
// execution output.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/linasec/lina/internal/brain"
	"github.com/linasec/lina/internal/catalog"
	"github.com/linasec/lina/internal/composer"
	"github.com/linasec/lina/internal/executor"
	"github.com/linasec/lina/internal/llm"
	"github.com/linasec/lina/internal/logger"
	"github.com/linasec/lina/internal/session"
)

// Server provides the HTTP interface
type Server struct {
	brain        *brain.Brain
	sessions     *session.Manager
	catalog      *catalog.Catalog
	orchestrator *executor.Orchestrator

	addr   string
	router *httprouter.Router
	server *http.Server
}

// NewServer creates the API server
func NewServer(addr string, b *brain.Brain, sessions *session.Manager,
	cat *catalog.Catalog, orch *executor.Orchestrator) *Server {
	s := &Server{
		brain:        b,
		sessions:     sessions,
		catalog:      cat,
		orchestrator: orch,
		addr:         addr,
		router:       httprouter.New(),
	}
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.router,
	}
	logger.Info("web: listening on %s", s.addr)
	return s.server.ListenAndServe()
}

// Stop shuts the HTTP server down gracefully
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	s.router.POST("/api/session", s.handleSessionCreate)
	s.router.GET("/api/session/:id", s.handleSessionGet)
	s.router.DELETE("/api/session/:id", s.handleSessionDelete)
	s.router.GET("/api/session/:id/analytics", s.handleSessionAnalytics)

	s.router.POST("/api/request", s.handleRequest)
	s.router.POST("/api/execute", s.handleExecute)

	s.router.GET("/api/executions/:id", s.handleExecutionGet)
	s.router.POST("/api/executions/:id/cancel", s.handleExecutionCancel)
	s.router.GET("/api/executions/:id/stream", s.handleExecutionStream)

	s.router.GET("/api/tools", s.handleTools)
	s.router.GET("/api/tools/:name", s.handleToolGet)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("web: encode response: %v", err)
	}
}

type errorBody struct {
	Error           string `json:"error"`
	RecreateSession bool   `json:"recreate_session,omitempty"`
}

// writeError maps pipeline sentinel errors onto HTTP statuses
func writeError(w http.ResponseWriter, err error) {
	body := errorBody{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		status = http.StatusNotFound
		body.RecreateSession = true
	case errors.Is(err, executor.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, executor.ErrBlocked):
		status = http.StatusForbidden
	case errors.Is(err, executor.ErrToolUnavailable):
		status = http.StatusConflict
	case errors.Is(err, composer.ErrUnresolvable):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, llm.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, catalog.ErrUnknownTool):
		status = http.StatusNotFound
	}

	writeJSON(w, status, body)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.sessions.Count(),
	})
}

type sessionCreateRequest struct {
	Role string `json:"role"`
	Mode string `json:"mode"`
}

type sessionCreateResponse struct {
	SessionID string       `json:"session_id"`
	Role      session.Role `json:"role"`
	Mode      session.Mode `json:"mode"`
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req sessionCreateRequest
	if r.Body != nil {
		// an empty body creates a default session
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	sess := s.sessions.Create(session.ParseRole(req.Role), session.ParseMode(req.Mode))
	logger.Info("web: created session %s (%s/%s)", sess.ID(), sess.Role(), sess.Mode())
	writeJSON(w, http.StatusCreated, sessionCreateResponse{
		SessionID: sess.ID(),
		Role:      sess.Role(),
		Mode:      sess.Mode(),
	})
}

func (s *Server) handleSessionGet(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	sess, err := s.sessions.Get(ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionCreateResponse{
		SessionID: sess.ID(),
		Role:      sess.Role(),
		Mode:      sess.Mode(),
	})
}

func (s *Server) handleSessionDelete(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	s.sessions.Delete(ps.ByName("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionAnalytics(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	sess, err := s.sessions.Get(ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.Analytics())
}

type requestBody struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req requestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	result, err := s.brain.ProcessRequest(r.Context(), req.SessionID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req brain.ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	result, err := s.brain.Execute(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if result.ConfirmationRequired {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

func (s *Server) handleExecutionGet(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	snap, err := s.orchestrator.Poll(ps.ByName("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleExecutionCancel(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	if err := s.orchestrator.Cancel(ps.ByName("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	tools := s.catalog.List()
	type entry struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name,omitempty"`
		Description string `json:"description,omitempty"`
		Category    string `json:"category,omitempty"`
		Installed   bool   `json:"installed"`
	}
	out := make([]entry, 0, len(tools))
	for _, t := range tools {
		out = append(out, entry{
			Name:        t.Name,
			DisplayName: t.DisplayName,
			Description: t.Description,
			Category:    t.Category,
			Installed:   s.catalog.Installed(t.Name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": out})
}

func (s *Server) handleToolGet(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	tool, err := s.catalog.Get(ps.ByName("name"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tool":      tool,
		"installed": s.catalog.Installed(tool.Name),
	})
}
