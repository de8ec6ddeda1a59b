// Package interfaces holds the small contracts crossed by more than
// one component, so packages depend on behavior instead of each other.
package interfaces

// Conn is a live client connection as the routing layers see it:
// identity plus an ordered, non-blocking event writer. Implemented by
// internal/websocket.Connection; tests substitute fakes.
type Conn interface {
	ConnID() string
	UserID() string
	Role() string
	SessionCode() string
	WriteEvent(event string, payload any) error
	Close() error
}

// EventRecorder receives a best-effort copy of every delivered event
// for the session audit log. Record must never block the caller.
type EventRecorder interface {
	Record(sessionID, event, recipient string, payload []byte)
}

// Broadcaster is the presence manager's hook for emitting roster
// changes it detects asynchronously (grace-timer expiry).
type Broadcaster interface {
	SessionWide(sessionID, event string, payload any)
}
