// Package presence tracks which users are connected to the realtime
// channel and runs the disconnect grace period for students.
package presence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"codeshare/internal/registry"
	"codeshare/internal/state"
	"codeshare/pkg/interfaces"
	"codeshare/pkg/types"
)

// Manager owns the userID -> connection table and the per-student
// grace timers. A student who drops keeps their roster entry for the
// grace window; only when the timer fires without a reconnect is the
// student evicted and the roster change announced.
type Manager struct {
	registry *registry.Registry
	grace    time.Duration
	log      zerolog.Logger

	mu          sync.Mutex
	conns       map[string]interfaces.Conn // user id -> live connection
	graceTimers map[string]*time.Timer     // student id -> pending eviction

	broadcaster interfaces.Broadcaster
}

// NewManager creates a presence manager with the given disconnect
// grace window.
func NewManager(reg *registry.Registry, grace time.Duration, log zerolog.Logger) *Manager {
	return &Manager{
		registry:    reg,
		grace:       grace,
		log:         log.With().Str("component", "presence").Logger(),
		conns:       make(map[string]interfaces.Conn),
		graceTimers: make(map[string]*time.Timer),
	}
}

// SetBroadcaster wires the broadcast layer in after construction.
// Presence needs it only for roster changes it detects on its own
// (grace-timer expiry), which is why the dependency points this way.
func (m *Manager) SetBroadcaster(b interfaces.Broadcaster) {
	m.mu.Lock()
	m.broadcaster = b
	m.mu.Unlock()
}

// JoinTeacher binds conn as the session's teacher connection. Only the
// user id minted at session creation may claim the teacher seat. A
// previous teacher connection, if any, is closed: the newest
// connection always wins.
func (m *Manager) JoinTeacher(conn interfaces.Conn) (*state.Session, error) {
	sess, ok := m.registry.Lookup(conn.SessionCode())
	if !ok {
		return nil, types.NotFoundf("session %s not found", conn.SessionCode())
	}
	if conn.UserID() != sess.TeacherID() {
		return nil, types.Unauthorizedf("user is not the teacher of session %s", sess.ID())
	}

	sess.MarkTeacherConnected(conn.ConnID())

	m.mu.Lock()
	prev := m.conns[conn.UserID()]
	m.conns[conn.UserID()] = conn
	m.mu.Unlock()

	if prev != nil && prev.ConnID() != conn.ConnID() {
		go func() { _ = prev.Close() }()
	}

	m.log.Info().Str("session", sess.ID()).Str("conn", conn.ConnID()).Msg("teacher connected")
	return sess, nil
}

// JoinStudent binds conn as a student's live connection. The student
// entry must already exist from the HTTP join; the channel connect
// only attaches to it. rejoined reports whether this is a reconnect of
// a known student rather than their first appearance, so callers can
// suppress a duplicate joined announcement.
func (m *Manager) JoinStudent(conn interfaces.Conn) (types.Student, *state.Session, bool, error) {
	sess, ok := m.registry.Lookup(conn.SessionCode())
	if !ok {
		return types.Student{}, nil, false, types.NotFoundf("session %s not found", conn.SessionCode())
	}
	prev, known := sess.Student(conn.UserID())
	if !known {
		return types.Student{}, nil, false, types.Unauthorizedf("student %s has not joined session %s", conn.UserID(), sess.ID())
	}

	rejoined := prev.Status == types.StatusConnected

	m.mu.Lock()
	if timer, ok := m.graceTimers[conn.UserID()]; ok {
		timer.Stop()
		delete(m.graceTimers, conn.UserID())
		rejoined = true
	}
	old := m.conns[conn.UserID()]
	m.conns[conn.UserID()] = conn
	m.mu.Unlock()

	if old != nil && old.ConnID() != conn.ConnID() {
		go func() { _ = old.Close() }()
	}

	st, err := sess.MarkConnected(conn.UserID(), conn.ConnID())
	if err != nil {
		return types.Student{}, nil, false, err
	}

	m.log.Info().Str("session", sess.ID()).Str("student", st.ID).
		Bool("rejoined", rejoined).Msg("student connected")
	return st, sess, rejoined, nil
}

// Disconnect handles a connection loss. For students it starts the
// grace timer instead of evicting immediately; for teachers it starts
// the session's teacherless clock. A stale close from a connection
// that has already been replaced is ignored.
func (m *Manager) Disconnect(conn interfaces.Conn) {
	m.mu.Lock()
	current, ok := m.conns[conn.UserID()]
	if !ok || current.ConnID() != conn.ConnID() {
		m.mu.Unlock()
		return
	}
	delete(m.conns, conn.UserID())
	m.mu.Unlock()

	sess, ok := m.registry.Lookup(conn.SessionCode())
	if !ok {
		return
	}

	if conn.Role() == types.RoleTeacher {
		if sess.MarkTeacherDisconnected(conn.ConnID(), time.Now()) {
			m.log.Info().Str("session", sess.ID()).Msg("teacher disconnected")
		}
		return
	}

	st, ok := sess.MarkDisconnected(conn.UserID(), conn.ConnID())
	if !ok {
		return
	}
	m.startGraceTimer(sess.ID(), st.ID)
	m.log.Info().Str("session", sess.ID()).Str("student", st.ID).
		Dur("grace", m.grace).Msg("student disconnected, grace started")
}

// Leave evicts a student immediately, skipping the grace period. Used
// when a student explicitly leaves the session.
func (m *Manager) Leave(conn interfaces.Conn) {
	if conn.Role() != types.RoleStudent {
		return
	}

	m.mu.Lock()
	if current, ok := m.conns[conn.UserID()]; ok && current.ConnID() == conn.ConnID() {
		delete(m.conns, conn.UserID())
	}
	if timer, ok := m.graceTimers[conn.UserID()]; ok {
		timer.Stop()
		delete(m.graceTimers, conn.UserID())
	}
	m.mu.Unlock()

	sess, ok := m.registry.Lookup(conn.SessionCode())
	if !ok {
		return
	}
	m.evictStudent(sess, conn.UserID())
}

// startGraceTimer schedules eviction for a disconnected student. A
// new timer replaces any pending one so repeated drops never stack.
func (m *Manager) startGraceTimer(sessionID, studentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if timer, ok := m.graceTimers[studentID]; ok {
		timer.Stop()
	}
	m.graceTimers[studentID] = time.AfterFunc(m.grace, func() {
		m.onGraceExpired(sessionID, studentID)
	})
}

// onGraceExpired fires when a student's grace window elapses without a
// reconnect. The connected re-check closes the race with a reconnect
// that landed between the timer firing and this running.
func (m *Manager) onGraceExpired(sessionID, studentID string) {
	m.mu.Lock()
	delete(m.graceTimers, studentID)
	m.mu.Unlock()

	sess, ok := m.registry.Lookup(sessionID)
	if !ok {
		return
	}
	if st, ok := sess.Student(studentID); !ok || st.Status == types.StatusConnected {
		return
	}

	m.log.Info().Str("session", sessionID).Str("student", studentID).Msg("grace expired, evicting student")
	m.evictStudent(sess, studentID)
}

// evictStudent removes a student from the roster and announces the
// departure to the remaining members.
func (m *Manager) evictStudent(sess *state.Session, studentID string) {
	st, ok := sess.RemoveStudent(studentID)
	if !ok {
		return
	}
	m.registry.ForgetStudent(studentID)

	m.mu.Lock()
	b := m.broadcaster
	m.mu.Unlock()
	if b != nil {
		b.SessionWide(sess.ID(), types.EventStudentLeft, struct {
			StudentID string `json:"studentId"`
		}{StudentID: st.ID})
	}
}

// Connection returns a user's live connection.
func (m *Manager) Connection(userID string) (interfaces.Conn, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[userID]
	return conn, ok
}

// SessionConnections returns every live connection bound to the named
// session.
func (m *Manager) SessionConnections(sessionCode string) []interfaces.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []interfaces.Conn
	for _, conn := range m.conns {
		if conn.SessionCode() == sessionCode {
			out = append(out, conn)
		}
	}
	return out
}

// DisconnectAll closes every connection in a session and drops its
// grace timers. Called when a session ends or is reaped; the session
// is already out of the registry, so no per-student announcements are
// needed.
func (m *Manager) DisconnectAll(sess *state.Session) {
	members := sess.Students()

	m.mu.Lock()
	conns := make([]interfaces.Conn, 0, len(members)+1)
	if conn, ok := m.conns[sess.TeacherID()]; ok {
		conns = append(conns, conn)
		delete(m.conns, sess.TeacherID())
	}
	for _, st := range members {
		if timer, ok := m.graceTimers[st.ID]; ok {
			timer.Stop()
			delete(m.graceTimers, st.ID)
		}
		if conn, ok := m.conns[st.ID]; ok {
			conns = append(conns, conn)
			delete(m.conns, st.ID)
		}
	}
	m.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
	m.log.Info().Str("session", sess.ID()).Int("connections", len(conns)).Msg("session connections closed")
}
