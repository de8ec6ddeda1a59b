// Package registry owns the set of active sessions and the join-code
// namespace. It is the only cross-session shared structure; its lock
// covers the uniqueness-check-then-insert sequence so concurrent
// creates can never mint duplicate codes.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"codeshare/internal/state"
	"codeshare/pkg/types"
)

// Registry creates, looks up, and expires sessions.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*state.Session // join code -> session
	students map[string]string         // student id -> join code

	codeAttempts int
	idleWindow   time.Duration
	log          zerolog.Logger
}

// New creates an empty registry. codeAttempts bounds collision retries
// during code generation; idleWindow is how long a teacherless session
// survives before the reaper removes it.
func New(codeAttempts int, idleWindow time.Duration, log zerolog.Logger) *Registry {
	return &Registry{
		sessions:     make(map[string]*state.Session),
		students:     make(map[string]string),
		codeAttempts: codeAttempts,
		idleWindow:   idleWindow,
		log:          log.With().Str("component", "registry").Logger(),
	}
}

// CreateSession registers a new session under a fresh unique join code
// and returns its state plus the minted teacher id.
func (r *Registry) CreateSession(teacherName string) (*state.Session, string, error) {
	if !types.IsValidName(teacherName) {
		return nil, "", types.InvalidInputf("teacher name must be 1-100 non-blank characters")
	}

	teacherID := uuid.New().String()

	r.mu.Lock()
	defer r.mu.Unlock()

	code, err := r.generateCodeLocked()
	if err != nil {
		return nil, "", err
	}

	sess := state.New(code, teacherID, teacherName, types.DefaultTemplate, time.Now())
	r.sessions[code] = sess

	r.log.Info().Str("session", code).Str("teacher", teacherName).Msg("session created")
	return sess, teacherID, nil
}

// JoinSession creates a student entry in the named session and returns
// the student snapshot plus the session's current template.
func (r *Registry) JoinSession(code, studentName string) (types.Student, string, error) {
	if !types.IsValidName(studentName) {
		return types.Student{}, "", types.InvalidInputf("student name must be 1-100 non-blank characters")
	}

	sess, ok := r.Lookup(code)
	if !ok {
		return types.Student{}, "", types.NotFoundf("session %s not found", code)
	}

	studentID := uuid.New().String()
	st := sess.UpsertStudent(studentID, studentName, time.Now())

	r.mu.Lock()
	r.students[studentID] = code
	r.mu.Unlock()

	r.log.Info().Str("session", code).Str("student", studentName).Str("id", studentID).Msg("student joined")
	return st, sess.Template(), nil
}

// Lookup resolves an active session by join code.
func (r *Registry) Lookup(code string) (*state.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[code]
	return sess, ok
}

// SessionForStudent resolves the session a student belongs to.
func (r *Registry) SessionForStudent(studentID string) (*state.Session, bool) {
	r.mu.RLock()
	code, ok := r.students[studentID]
	if !ok {
		r.mu.RUnlock()
		return nil, false
	}
	sess, ok := r.sessions[code]
	r.mu.RUnlock()
	return sess, ok
}

// ForgetStudent drops the student id index entry after eviction.
func (r *Registry) ForgetStudent(studentID string) {
	r.mu.Lock()
	delete(r.students, studentID)
	r.mu.Unlock()
}

// EndSession removes a session and returns its state so the caller can
// disconnect members. Ending an unknown or already-ended session is a
// no-op, not an error.
func (r *Registry) EndSession(code string) (*state.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[code]
	if !ok {
		return nil, false
	}
	delete(r.sessions, code)
	for _, st := range sess.Students() {
		delete(r.students, st.ID)
	}

	r.log.Info().Str("session", code).Msg("session ended")
	return sess, true
}

// ActiveCount returns the number of active sessions.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep removes every session that has been teacherless for longer
// than the idle window and returns them for member cleanup.
func (r *Registry) Sweep(now time.Time) []*state.Session {
	r.mu.RLock()
	var expired []string
	for code, sess := range r.sessions {
		if since, ok := sess.TeacherlessSince(); ok && now.Sub(since) >= r.idleWindow {
			expired = append(expired, code)
		}
	}
	r.mu.RUnlock()

	var removed []*state.Session
	for _, code := range expired {
		if sess, ok := r.EndSession(code); ok {
			r.log.Info().Str("session", code).Msg("idle session reaped")
			removed = append(removed, sess)
		}
	}
	return removed
}

// Run drives the idle-session reaper until ctx is cancelled. onExpire
// is invoked for each reaped session so the caller can close member
// connections.
func (r *Registry) Run(ctx context.Context, interval time.Duration, onExpire func(*state.Session)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			for _, sess := range r.Sweep(now) {
				if onExpire != nil {
					onExpire(sess)
				}
			}
		case <-ctx.Done():
			return
		}
	}
}
