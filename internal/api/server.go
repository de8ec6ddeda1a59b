// Package api is the HTTP surface: session lifecycle, the task
// catalog, submissions, progress, and rankings. No business logic
// lives here, only decoding, validation, and status mapping.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"codeshare/internal/broadcast"
	"codeshare/internal/presence"
	"codeshare/internal/ranking"
	"codeshare/internal/registry"
	"codeshare/internal/tasks"
	"codeshare/pkg/types"
)

// EventLog is the read side of the session audit log. Nil-able so the
// server runs with history disabled.
type EventLog interface {
	SessionEvents(ctx context.Context, sessionID string) ([]types.SessionEvent, error)
}

// Server routes the REST endpoints. It implements http.Handler.
type Server struct {
	registry *registry.Registry
	presence *presence.Manager
	router   *broadcast.Router
	engine   *tasks.Engine
	ranking  *ranking.Service
	events   EventLog // nil when the event log is disabled

	mux      *http.ServeMux
	validate *validator.Validate
	log      zerolog.Logger
}

// NewServer wires the REST layer. events may be nil.
func NewServer(reg *registry.Registry, pres *presence.Manager, router *broadcast.Router, engine *tasks.Engine, rank *ranking.Service, events EventLog, log zerolog.Logger) *Server {
	s := &Server{
		registry: reg,
		presence: pres,
		router:   router,
		engine:   engine,
		ranking:  rank,
		events:   events,
		mux:      http.NewServeMux(),
		validate: validator.New(),
		log:      log.With().Str("component", "api").Logger(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.Handle("/api/create-session", s.wrap(s.handleCreateSession))
	s.mux.Handle("/api/join-session", s.wrap(s.handleJoinSession))
	s.mux.Handle("/api/tasks", s.wrap(s.handleTasks))
	s.mux.Handle("/api/validate-task", s.wrap(s.handleValidateTask))
	s.mux.Handle("/api/student/", s.wrap(s.handleStudentByID))
	s.mux.Handle("/api/session/", s.wrap(s.handleSessionByID))
	s.mux.Handle("/health", s.wrap(s.handleHealth))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) wrap(h http.HandlerFunc) http.Handler {
	return s.corsMiddleware(s.jsonMiddleware(h))
}

// Request/response shapes. Field names follow the channel payloads so
// HTTP and websocket clients share one vocabulary.

type CreateSessionRequest struct {
	TeacherName string `json:"teacherName" validate:"required,min=1,max=100"`
}

type CreateSessionResponse struct {
	SessionID   string `json:"sessionId"`
	TeacherID   string `json:"teacherId"`
	TeacherName string `json:"teacherName"`
}

type JoinSessionRequest struct {
	SessionID   string `json:"sessionId" validate:"required,len=6"`
	StudentName string `json:"studentName" validate:"required,min=1,max=100"`
}

type JoinSessionResponse struct {
	StudentID    string `json:"studentId"`
	SessionID    string `json:"sessionId"`
	StudentName  string `json:"studentName"`
	CodeTemplate string `json:"codeTemplate"`
	Points       int    `json:"points"`
}

type ValidateTaskRequest struct {
	StudentID string `json:"studentId" validate:"required"`
	TaskID    int    `json:"taskId" validate:"required,gt=0"`
	Code      string `json:"code" validate:"required"`
}

type ValidateTaskResponse struct {
	Passed        bool               `json:"passed"`
	Score         int                `json:"score"`
	Results       []types.RuleResult `json:"results"`
	Points        int                `json:"points"`
	TaskCompleted bool               `json:"taskCompleted"`
	Attempts      int                `json:"attempts"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req CreateSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	sess, teacherID, err := s.registry.CreateSession(req.TeacherName)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.encode(w, CreateSessionResponse{
		SessionID:   sess.ID(),
		TeacherID:   teacherID,
		TeacherName: sess.TeacherName(),
	})
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JoinSessionRequest
	if !s.decode(w, r, &req) {
		return
	}

	code := strings.ToUpper(strings.TrimSpace(req.SessionID))
	if !types.IsValidSessionCode(code) {
		s.sendError(w, "Invalid session code", http.StatusBadRequest)
		return
	}

	st, template, err := s.registry.JoinSession(code, req.StudentName)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	s.encode(w, JoinSessionResponse{
		StudentID:    st.ID,
		SessionID:    code,
		StudentName:  st.Name,
		CodeTemplate: template,
		Points:       st.Points,
	})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.encode(w, s.engine.Catalog().List())
}

func (s *Server) handleValidateTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ValidateTaskRequest
	if !s.decode(w, r, &req) {
		return
	}

	sess, ok := s.registry.SessionForStudent(req.StudentID)
	if !ok {
		s.sendError(w, "Student not in any active session", http.StatusNotFound)
		return
	}

	result, outcome, err := s.engine.Submit(sess, req.StudentID, req.TaskID, req.Code)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}

	if outcome.CompletedNow {
		s.router.SessionWide(sess.ID(), types.EventPointsUpdate, struct {
			StudentID     string `json:"studentId"`
			Points        int    `json:"points"`
			TaskCompleted string `json:"taskCompleted"`
		}{StudentID: req.StudentID, Points: outcome.Points, TaskCompleted: outcome.Task.Title})
	}

	s.encode(w, ValidateTaskResponse{
		Passed:        result.Passed,
		Score:         result.Score,
		Results:       result.Results,
		Points:        outcome.Points,
		TaskCompleted: outcome.CompletedNow,
		Attempts:      outcome.Record.Attempts,
	})
}

// handleStudentByID serves GET /api/student/{id}/progress.
func (s *Server) handleStudentByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/student/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "progress" {
		s.sendError(w, "Not found", http.StatusNotFound)
		return
	}
	studentID := parts[0]

	sess, ok := s.registry.SessionForStudent(studentID)
	if !ok {
		s.sendError(w, "Student not in any active session", http.StatusNotFound)
		return
	}
	s.encode(w, sess.Progress(studentID))
}

// handleSessionByID serves GET /api/session/{id}/ranking,
// GET /api/session/{id}/events, and DELETE /api/session/{id}.
func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/api/session/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		s.sendError(w, "Session ID required", http.StatusBadRequest)
		return
	}
	sessionID := strings.ToUpper(parts[0])

	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.endSession(w, sessionID)
	case len(parts) == 2 && parts[1] == "ranking" && r.Method == http.MethodGet:
		s.sessionRanking(w, sessionID)
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		s.sessionEvents(w, r, sessionID)
	default:
		s.sendError(w, "Not found", http.StatusNotFound)
	}
}

// endSession tears a session down. Ending an unknown session succeeds:
// the caller wanted it gone and it is gone.
func (s *Server) endSession(w http.ResponseWriter, sessionID string) {
	if sess, ok := s.registry.EndSession(sessionID); ok {
		s.presence.DisconnectAll(sess)
	}
	s.encode(w, map[string]string{"message": "Session ended"})
}

func (s *Server) sessionRanking(w http.ResponseWriter, sessionID string) {
	entries, err := s.ranking.Rank(sessionID)
	if err != nil {
		s.sendDomainError(w, err)
		return
	}
	s.encode(w, entries)
}

func (s *Server) sessionEvents(w http.ResponseWriter, r *http.Request, sessionID string) {
	if s.events == nil {
		s.sendError(w, "Event log disabled", http.StatusNotFound)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	events, err := s.events.SessionEvents(ctx, sessionID)
	if err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("event log query failed")
		s.sendError(w, "Failed to load session events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []types.SessionEvent{}
	}
	s.encode(w, events)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.encode(w, map[string]any{
		"status":          "healthy",
		"timestamp":       time.Now().UTC(),
		"active_sessions": s.registry.ActiveCount(),
	})
}

// decode reads, validates, and reports one JSON request body.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		s.sendError(w, "Validation failed: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) encode(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("response encoding failed")
	}
}

// sendDomainError maps the error taxonomy onto HTTP statuses.
func (s *Server) sendDomainError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, types.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, types.ErrResourceExhausted):
		status = http.StatusServiceUnavailable
	case errors.Is(err, types.ErrConflict):
		status = http.StatusConflict
	}
	s.sendError(w, err.Error(), status)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
