package types

import (
	"encoding/json"
	"time"
)

// Connection roles. A session has exactly one teacher; everyone else
// joins as a student.
const (
	RoleTeacher = "teacher"
	RoleStudent = "student"
)

// Student connection status tracked by the presence manager.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// Client-to-server events. This is the closed set the dispatcher
// accepts; anything else is answered with an error event.
const (
	EventJoinSession    = "join-session"
	EventCodeUpdate     = "code-update"
	EventUpdateTemplate = "update-template"
	EventSetTask        = "set-task"
	EventSendHint       = "send-hint"
	EventGetStudentCode = "get-student-code"
	EventLeaveSession   = "leave-session"
)

// Server-to-client events.
const (
	EventInitialData       = "initial-data"
	EventStudentsList      = "students-list"
	EventStudentJoined     = "student-joined"
	EventStudentLeft       = "student-left"
	EventStudentCodeUpdate = "student-code-update"
	EventStudentCode       = "student-code"
	EventTemplateUpdated   = "template-updated"
	EventTaskAssigned      = "task-assigned"
	EventReceiveHint       = "receive-hint"
	EventPointsUpdate      = "points-update"
	EventError             = "error"
)

// Envelope is the wire frame for every WebSocket message in both
// directions: an event name plus an event-specific JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Session is the registry-level view of one classroom session. The
// live mutable parts (roster, template, task, points) are owned by the
// session state and reachable only through its accessors.
type Session struct {
	ID            string    `json:"id"`
	TeacherID     string    `json:"teacherId"`
	TeacherName   string    `json:"teacherName"`
	Template      string    `json:"template"`
	CurrentTaskID int       `json:"currentTaskId"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Student is a roster entry. The ID is stable across reconnects;
// ConnID is empty while the student is disconnected. CodeSeq is a
// monotonic counter stamped on every accepted code update, used by the
// broadcast router for last-write-wins delivery.
type Student struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Points    int       `json:"points"`
	Code      string    `json:"-"`
	ConnID    string    `json:"-"`
	Status    string    `json:"status"`
	JoinedAt  time.Time `json:"joinedAt"`
	JoinOrder int       `json:"-"`
	CodeSeq   uint64    `json:"-"`
}

// StudentSummary is the payload shape shared by the students-list
// event and the ranking endpoint.
type StudentSummary struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int    `json:"points"`
}

// Task difficulty levels.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// RuleKind selects how a validation rule checks submitted code.
type RuleKind string

const (
	RuleContains RuleKind = "contains"  // case-insensitive substring
	RuleRegex    RuleKind = "regex"     // regular expression match
	RuleMinCount RuleKind = "min_count" // substring occurs at least Min times
)

// ValidationRule is one ordered check in a task's rule set. Pattern is
// interpreted according to Kind; Min applies to RuleMinCount only.
type ValidationRule struct {
	Kind    RuleKind
	Pattern string
	Min     int
	Message string
}

// Task is an immutable catalog entry. Rules are never serialized to
// clients so the catalog does not leak its own checks.
type Task struct {
	ID          int              `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Difficulty  string           `json:"difficulty"`
	Points      int              `json:"points"`
	StarterCode string           `json:"starter_code"`
	Hints       []string         `json:"hints"`
	Rules       []ValidationRule `json:"-"`
}

// Progress statuses for a (student, task) pair.
const (
	ProgressNotStarted = "not_started"
	ProgressInProgress = "in_progress"
	ProgressCompleted  = "completed"
)

// ProgressRecord tracks one student's attempts on one task. Exactly
// one record exists per (student, task) pair.
type ProgressRecord struct {
	StudentID string `json:"student_id"`
	TaskID    int    `json:"task_id"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	BestScore int    `json:"best_score"`
}

// RuleResult is the outcome of a single validation rule.
type RuleResult struct {
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// ValidationResult is the full outcome of validating a submission.
// Passed is true only when every rule passed (Score == 100); partial
// credit is reported but never counts as completion.
type ValidationResult struct {
	Passed  bool         `json:"passed"`
	Score   int          `json:"score"`
	Results []RuleResult `json:"results"`
}

// SessionEvent is one row of the append-only session event log.
type SessionEvent struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Event     string          `json:"event"`
	Recipient string          `json:"recipient,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
