package broadcast

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"codeshare/internal/presence"
	"codeshare/internal/registry"
	"codeshare/internal/state"
	"codeshare/pkg/types"
)

type fakeConn struct {
	connID  string
	userID  string
	role    string
	session string

	mu     sync.Mutex
	events []string
}

func (f *fakeConn) ConnID() string      { return f.connID }
func (f *fakeConn) UserID() string      { return f.userID }
func (f *fakeConn) Role() string        { return f.role }
func (f *fakeConn) SessionCode() string { return f.session }
func (f *fakeConn) Close() error        { return nil }

func (f *fakeConn) WriteEvent(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeConn) received(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == event {
			n++
		}
	}
	return n
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []string
}

func (f *fakeRecorder) Record(sessionID, event, recipient string, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, event)
}

func (f *fakeRecorder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

type fixture struct {
	registry *registry.Registry
	presence *presence.Manager
	router   *Router
	recorder *fakeRecorder
	session  *state.Session

	teacher *fakeConn
	student *fakeConn
	studID  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	reg := registry.New(25, 30*time.Minute, zerolog.Nop())
	sess, teacherID, err := reg.CreateSession("Ms Harris")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	pres := presence.NewManager(reg, time.Minute, zerolog.Nop())
	rec := &fakeRecorder{}
	router := NewRouter(pres, reg, rec, zerolog.Nop())
	pres.SetBroadcaster(router)

	teacher := &fakeConn{connID: "ct", userID: teacherID, role: types.RoleTeacher, session: sess.ID()}
	if _, err := pres.JoinTeacher(teacher); err != nil {
		t.Fatalf("JoinTeacher: %v", err)
	}

	st, _, err := reg.JoinSession(sess.ID(), "Dana")
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	student := &fakeConn{connID: "cs", userID: st.ID, role: types.RoleStudent, session: sess.ID()}
	if _, _, _, err := pres.JoinStudent(student); err != nil {
		t.Fatalf("JoinStudent: %v", err)
	}

	return &fixture{
		registry: reg, presence: pres, router: router, recorder: rec,
		session: sess, teacher: teacher, student: student, studID: st.ID,
	}
}

func TestSessionWideReachesEveryone(t *testing.T) {
	fx := newFixture(t)

	fx.router.SessionWide(fx.session.ID(), types.EventPointsUpdate, map[string]int{"points": 10})

	if fx.teacher.received(types.EventPointsUpdate) != 1 {
		t.Error("teacher missed session-wide event")
	}
	if fx.student.received(types.EventPointsUpdate) != 1 {
		t.Error("student missed session-wide event")
	}
	if fx.recorder.count() != 1 {
		t.Errorf("recorder saw %d events, want 1", fx.recorder.count())
	}
}

func TestToStudentsExcludesTeacher(t *testing.T) {
	fx := newFixture(t)

	fx.router.ToStudents(fx.session.ID(), types.EventTemplateUpdated, "<h1>new</h1>")

	if fx.teacher.received(types.EventTemplateUpdated) != 0 {
		t.Error("teacher received a students-only event")
	}
	if fx.student.received(types.EventTemplateUpdated) != 1 {
		t.Error("student missed a students-only event")
	}
}

func TestToTeacherTargetsOnlyTeacher(t *testing.T) {
	fx := newFixture(t)

	fx.router.ToTeacher(fx.session.ID(), types.EventStudentCodeUpdate, nil)

	if fx.teacher.received(types.EventStudentCodeUpdate) != 1 {
		t.Error("teacher missed a teacher-only event")
	}
	if fx.student.received(types.EventStudentCodeUpdate) != 0 {
		t.Error("student received a teacher-only event")
	}
}

func TestToStudentSilentlyDropsAbsentTarget(t *testing.T) {
	fx := newFixture(t)

	fx.router.ToStudent(fx.session.ID(), "nobody", types.EventReceiveHint, map[string]string{"hint": "try <h1>"})

	if fx.student.received(types.EventReceiveHint) != 0 {
		t.Error("hint delivered to the wrong student")
	}
}

func TestToStudentDelivers(t *testing.T) {
	fx := newFixture(t)

	fx.router.ToStudent(fx.session.ID(), fx.studID, types.EventReceiveHint, map[string]string{"hint": "try <h1>"})

	if fx.student.received(types.EventReceiveHint) != 1 {
		t.Error("hint not delivered")
	}
	if fx.teacher.received(types.EventReceiveHint) != 0 {
		t.Error("hint leaked to teacher")
	}
}

func TestCodeUpdateDropsStaleSequence(t *testing.T) {
	fx := newFixture(t)

	seq1, err := fx.session.SetStudentCode(fx.studID, "draft one")
	if err != nil {
		t.Fatalf("SetStudentCode: %v", err)
	}
	seq2, err := fx.session.SetStudentCode(fx.studID, "draft two")
	if err != nil {
		t.Fatalf("SetStudentCode: %v", err)
	}

	// The older write arrives late; it must not reach the teacher.
	fx.router.CodeUpdate(fx.session.ID(), fx.studID, "draft one", seq1)
	if fx.teacher.received(types.EventStudentCodeUpdate) != 0 {
		t.Error("stale code update delivered")
	}

	fx.router.CodeUpdate(fx.session.ID(), fx.studID, "draft two", seq2)
	if fx.teacher.received(types.EventStudentCodeUpdate) != 1 {
		t.Error("latest code update not delivered")
	}
}

func TestSendError(t *testing.T) {
	fx := newFixture(t)

	fx.router.SendError(fx.student, "something went wrong")
	if fx.student.received(types.EventError) != 1 {
		t.Error("error event not delivered")
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	reg := registry.New(25, 30*time.Minute, zerolog.Nop())
	sess, _, _ := reg.CreateSession("Ms Harris")
	pres := presence.NewManager(reg, time.Minute, zerolog.Nop())
	router := NewRouter(pres, reg, nil, zerolog.Nop())

	// No recorder, no connections: must not panic.
	router.SessionWide(sess.ID(), types.EventPointsUpdate, nil)
}
