// Package state holds the authoritative mutable record for one
// session. Every mutation happens under the session's own mutex, so
// within a session effects are observed in the order they were
// applied; sessions never share state and never contend.
package state

import (
	"sort"
	"sync"
	"time"

	"codeshare/pkg/types"
)

// Session is the live state of one classroom session. Mutators return
// the resulting snapshot so broadcasts carry non-stale values without
// a separate read.
type Session struct {
	id          string
	teacherID   string
	teacherName string
	createdAt   time.Time

	mu               sync.Mutex
	template         string
	currentTaskID    int
	teacherConnID    string
	teacherlessSince time.Time // zero while the teacher is connected
	joinCounter      int
	students         map[string]*types.Student
	progress         map[string]map[int]*types.ProgressRecord
}

// New creates session state with an empty roster. The session counts
// as teacherless until the teacher's channel connection arrives.
func New(id, teacherID, teacherName, template string, now time.Time) *Session {
	return &Session{
		id:               id,
		teacherID:        teacherID,
		teacherName:      teacherName,
		createdAt:        now,
		template:         template,
		teacherlessSince: now,
		students:         make(map[string]*types.Student),
		progress:         make(map[string]map[int]*types.ProgressRecord),
	}
}

func (s *Session) ID() string           { return s.id }
func (s *Session) TeacherID() string    { return s.teacherID }
func (s *Session) TeacherName() string  { return s.teacherName }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// Snapshot returns the registry-level view of the session.
func (s *Session) Snapshot() types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return types.Session{
		ID:            s.id,
		TeacherID:     s.teacherID,
		TeacherName:   s.teacherName,
		Template:      s.template,
		CurrentTaskID: s.currentTaskID,
		CreatedAt:     s.createdAt,
	}
}

// SetTemplate replaces the shared template and returns it.
func (s *Session) SetTemplate(template string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.template = template
	return s.template
}

// Template returns the current shared template.
func (s *Session) Template() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.template
}

// SetCurrentTask records the active task id and returns it.
func (s *Session) SetCurrentTask(taskID int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentTaskID = taskID
	return s.currentTaskID
}

// CurrentTask returns the active task id, 0 when none is assigned.
func (s *Session) CurrentTask() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTaskID
}

// UpsertStudent creates a roster entry or returns the existing one.
// Points, code, and join order survive re-joins; only the name is
// refreshed.
func (s *Session) UpsertStudent(id, name string, now time.Time) types.Student {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.students[id]; ok {
		st.Name = name
		return *st
	}

	s.joinCounter++
	st := &types.Student{
		ID:        id,
		Name:      name,
		Status:    types.StatusDisconnected,
		JoinedAt:  now,
		JoinOrder: s.joinCounter,
	}
	s.students[id] = st
	return *st
}

// RemoveStudent evicts a student and their progress records.
func (s *Session) RemoveStudent(id string) (types.Student, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[id]
	if !ok {
		return types.Student{}, false
	}
	delete(s.students, id)
	delete(s.progress, id)
	return *st, true
}

// Student returns a snapshot of one roster entry.
func (s *Session) Student(id string) (types.Student, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[id]
	if !ok {
		return types.Student{}, false
	}
	return *st, true
}

// Students returns roster snapshots in join order.
func (s *Session) Students() []types.Student {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]types.Student, 0, len(s.students))
	for _, st := range s.students {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].JoinOrder < out[j].JoinOrder })
	return out
}

// StudentSummaries returns the students-list payload in join order.
func (s *Session) StudentSummaries() []types.StudentSummary {
	students := s.Students()
	out := make([]types.StudentSummary, len(students))
	for i, st := range students {
		out[i] = types.StudentSummary{ID: st.ID, Name: st.Name, Points: st.Points}
	}
	return out
}

// SetStudentCode stores the latest code for a student and stamps it
// with the student's next sequence number. The sequence is the
// last-write-wins authority for code-update delivery.
func (s *Session) SetStudentCode(id, code string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[id]
	if !ok {
		return 0, types.NotFoundf("student %s not in session %s", id, s.id)
	}
	st.Code = code
	st.CodeSeq++
	return st.CodeSeq, nil
}

// StudentCodeSeq returns the latest accepted code sequence number.
func (s *Session) StudentCodeSeq(id string) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[id]
	if !ok {
		return 0, false
	}
	return st.CodeSeq, true
}

// AddPoints increases a student's total by delta and returns the new
// total. Points are monotonic: negative deltas are rejected.
func (s *Session) AddPoints(id string, delta int) (int, error) {
	if delta < 0 {
		return 0, types.InvalidInputf("point delta must be non-negative, got %d", delta)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[id]
	if !ok {
		return 0, types.NotFoundf("student %s not in session %s", id, s.id)
	}
	st.Points += delta
	return st.Points, nil
}

// MarkConnected binds a student to a live connection.
func (s *Session) MarkConnected(id, connID string) (types.Student, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[id]
	if !ok {
		return types.Student{}, types.NotFoundf("student %s not in session %s", id, s.id)
	}
	st.ConnID = connID
	st.Status = types.StatusConnected
	return *st, nil
}

// MarkDisconnected clears a student's connection binding, but only if
// connID still matches: a stale close must not detach a replacement
// connection that registered in the meantime.
func (s *Session) MarkDisconnected(id, connID string) (types.Student, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.students[id]
	if !ok || st.ConnID != connID {
		return types.Student{}, false
	}
	st.ConnID = ""
	st.Status = types.StatusDisconnected
	return *st, true
}

// MarkTeacherConnected binds the teacher connection and returns the
// previous connection id, empty if there was none.
func (s *Session) MarkTeacherConnected(connID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.teacherConnID
	s.teacherConnID = connID
	s.teacherlessSince = time.Time{}
	return prev
}

// MarkTeacherDisconnected clears the teacher binding if connID still
// matches and starts the teacherless clock for the idle reaper.
func (s *Session) MarkTeacherDisconnected(connID string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.teacherConnID != connID {
		return false
	}
	s.teacherConnID = ""
	s.teacherlessSince = now
	return true
}

// TeacherConnID returns the live teacher connection id, empty while
// the teacher is disconnected.
func (s *Session) TeacherConnID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.teacherConnID
}

// TeacherlessSince reports when the session lost its teacher
// connection. ok is false while a teacher is connected.
func (s *Session) TeacherlessSince() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.teacherlessSince.IsZero() {
		return time.Time{}, false
	}
	return s.teacherlessSince, true
}

// RecordAttempt applies one validation outcome to the (student, task)
// progress record. It returns completedNow true only on the first
// transition into completed status; the caller awards points exactly
// when completedNow is true, which is what makes scoring idempotent.
func (s *Session) RecordAttempt(studentID string, taskID, score int, passed bool) (bool, types.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.students[studentID]; !ok {
		return false, types.ProgressRecord{}, types.NotFoundf("student %s not in session %s", studentID, s.id)
	}

	byTask, ok := s.progress[studentID]
	if !ok {
		byTask = make(map[int]*types.ProgressRecord)
		s.progress[studentID] = byTask
	}

	rec, ok := byTask[taskID]
	if !ok {
		rec = &types.ProgressRecord{
			StudentID: studentID,
			TaskID:    taskID,
			Status:    types.ProgressNotStarted,
		}
		byTask[taskID] = rec
	}

	rec.Attempts++
	if score > rec.BestScore {
		rec.BestScore = score
	}

	completedNow := false
	if passed && rec.Status != types.ProgressCompleted {
		rec.Status = types.ProgressCompleted
		completedNow = true
	} else if rec.Status != types.ProgressCompleted {
		rec.Status = types.ProgressInProgress
	}

	return completedNow, *rec, nil
}

// Progress returns a student's progress records ordered by task id.
func (s *Session) Progress(studentID string) []types.ProgressRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	byTask := s.progress[studentID]
	out := make([]types.ProgressRecord, 0, len(byTask))
	for _, rec := range byTask {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskID < out[j].TaskID })
	return out
}
