// Package broadcast fans events out to session members. It decides
// who receives what; connection ordering and backpressure live in the
// connection's own write queue.
package broadcast

import (
	"encoding/json"

	"github.com/rs/zerolog"

	"codeshare/internal/presence"
	"codeshare/internal/registry"
	"codeshare/pkg/interfaces"
	"codeshare/pkg/types"
)

// Router targets events at sessions, roles, and individual users. A
// failed write to one member never stops delivery to the rest; the
// connection's own failure path handles the broken member.
type Router struct {
	presence *presence.Manager
	registry *registry.Registry
	recorder interfaces.EventRecorder // nil when the event log is disabled
	log      zerolog.Logger
}

// NewRouter creates a router. recorder may be nil.
func NewRouter(p *presence.Manager, reg *registry.Registry, recorder interfaces.EventRecorder, log zerolog.Logger) *Router {
	return &Router{
		presence: p,
		registry: reg,
		recorder: recorder,
		log:      log.With().Str("component", "broadcast").Logger(),
	}
}

// SessionWide delivers an event to every connected member of a
// session, teacher included.
func (r *Router) SessionWide(sessionID, event string, payload any) {
	for _, conn := range r.presence.SessionConnections(sessionID) {
		r.send(conn, event, payload)
	}
	r.record(sessionID, event, "", payload)
}

// ToStudents delivers an event to every connected student in a
// session.
func (r *Router) ToStudents(sessionID, event string, payload any) {
	for _, conn := range r.presence.SessionConnections(sessionID) {
		if conn.Role() != types.RoleStudent {
			continue
		}
		r.send(conn, event, payload)
	}
	r.record(sessionID, event, types.RoleStudent, payload)
}

// ToTeacher delivers an event to the session's teacher if connected.
// A disconnected teacher is not an error; the event is simply not
// deliverable right now.
func (r *Router) ToTeacher(sessionID, event string, payload any) {
	sess, ok := r.registry.Lookup(sessionID)
	if !ok {
		return
	}
	if conn, ok := r.presence.Connection(sess.TeacherID()); ok {
		r.send(conn, event, payload)
	}
	r.record(sessionID, event, types.RoleTeacher, payload)
}

// ToStudent delivers an event to one student. Delivery to an absent
// or disconnected student is silently dropped.
func (r *Router) ToStudent(sessionID, studentID, event string, payload any) {
	conn, ok := r.presence.Connection(studentID)
	if !ok || conn.SessionCode() != sessionID {
		return
	}
	r.send(conn, event, payload)
	r.record(sessionID, event, studentID, payload)
}

// CodeUpdate forwards one student's code change to the teacher, but
// only while seq is still the student's latest accepted write. A
// stale sequence means a newer update has already been stored, so
// forwarding this one would reorder what the teacher sees.
func (r *Router) CodeUpdate(sessionID, studentID, code string, seq uint64) {
	sess, ok := r.registry.Lookup(sessionID)
	if !ok {
		return
	}
	latest, ok := sess.StudentCodeSeq(studentID)
	if !ok || seq < latest {
		r.log.Debug().Str("session", sessionID).Str("student", studentID).
			Uint64("seq", seq).Uint64("latest", latest).Msg("stale code update dropped")
		return
	}

	r.ToTeacher(sessionID, types.EventStudentCodeUpdate, struct {
		StudentID string `json:"studentId"`
		Code      string `json:"code"`
	}{StudentID: studentID, Code: code})
}

// SendError delivers an error event to a single connection.
func (r *Router) SendError(conn interfaces.Conn, msg string) {
	r.send(conn, types.EventError, struct {
		Message string `json:"message"`
	}{Message: msg})
}

func (r *Router) send(conn interfaces.Conn, event string, payload any) {
	if err := conn.WriteEvent(event, payload); err != nil {
		r.log.Warn().Err(err).Str("event", event).Str("conn", conn.ConnID()).Msg("event delivery failed")
	}
}

func (r *Router) record(sessionID, event, recipient string, payload any) {
	if r.recorder == nil {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		r.log.Warn().Err(err).Str("event", event).Msg("event payload not recordable")
		return
	}
	r.recorder.Record(sessionID, event, recipient, raw)
}
