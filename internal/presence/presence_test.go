package presence

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

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
	closed bool
	events []string
}

func (f *fakeConn) ConnID() string      { return f.connID }
func (f *fakeConn) UserID() string      { return f.userID }
func (f *fakeConn) Role() string        { return f.role }
func (f *fakeConn) SessionCode() string { return f.session }

func (f *fakeConn) WriteEvent(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeBroadcaster) SessionWide(sessionID, event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeBroadcaster) seen(event string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.events {
		if e == event {
			return true
		}
	}
	return false
}

type fixture struct {
	registry  *registry.Registry
	manager   *Manager
	broadcast *fakeBroadcaster
	session   *state.Session
	teacherID string
}

func newFixture(t *testing.T, grace time.Duration) *fixture {
	t.Helper()
	reg := registry.New(25, 30*time.Minute, zerolog.Nop())
	sess, teacherID, err := reg.CreateSession("Ms Harris")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	m := NewManager(reg, grace, zerolog.Nop())
	b := &fakeBroadcaster{}
	m.SetBroadcaster(b)

	return &fixture{registry: reg, manager: m, broadcast: b, session: sess, teacherID: teacherID}
}

func (fx *fixture) joinStudent(t *testing.T, connID string) (types.Student, *fakeConn) {
	t.Helper()
	st, _, err := fx.registry.JoinSession(fx.session.ID(), "Dana")
	if err != nil {
		t.Fatalf("JoinSession: %v", err)
	}
	conn := &fakeConn{connID: connID, userID: st.ID, role: types.RoleStudent, session: fx.session.ID()}
	joined, _, rejoined, err := fx.manager.JoinStudent(conn)
	if err != nil {
		t.Fatalf("JoinStudent: %v", err)
	}
	if rejoined {
		t.Fatal("first connect reported as rejoin")
	}
	return joined, conn
}

func TestJoinTeacherRejectsImpostor(t *testing.T) {
	fx := newFixture(t, time.Minute)

	conn := &fakeConn{connID: "c1", userID: "not-the-teacher", role: types.RoleTeacher, session: fx.session.ID()}
	if _, err := fx.manager.JoinTeacher(conn); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("got %v, want unauthorized", err)
	}
}

func TestJoinTeacherReplacesPreviousConnection(t *testing.T) {
	fx := newFixture(t, time.Minute)

	first := &fakeConn{connID: "c1", userID: fx.teacherID, role: types.RoleTeacher, session: fx.session.ID()}
	if _, err := fx.manager.JoinTeacher(first); err != nil {
		t.Fatalf("JoinTeacher: %v", err)
	}

	second := &fakeConn{connID: "c2", userID: fx.teacherID, role: types.RoleTeacher, session: fx.session.ID()}
	if _, err := fx.manager.JoinTeacher(second); err != nil {
		t.Fatalf("JoinTeacher: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !first.isClosed() {
		if time.Now().After(deadline) {
			t.Fatal("previous teacher connection never closed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if fx.session.TeacherConnID() != "c2" {
		t.Errorf("teacher conn = %s, want c2", fx.session.TeacherConnID())
	}
}

func TestJoinStudentRequiresRosterEntry(t *testing.T) {
	fx := newFixture(t, time.Minute)

	conn := &fakeConn{connID: "c1", userID: "never-joined", role: types.RoleStudent, session: fx.session.ID()}
	if _, _, _, err := fx.manager.JoinStudent(conn); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("got %v, want unauthorized", err)
	}
}

func TestGraceExpiryEvictsStudent(t *testing.T) {
	fx := newFixture(t, 30*time.Millisecond)
	st, conn := fx.joinStudent(t, "c1")

	fx.manager.Disconnect(conn)

	// The roster entry must survive the disconnect itself.
	if _, ok := fx.session.Student(st.ID); !ok {
		t.Fatal("student evicted before grace expired")
	}

	deadline := time.Now().Add(time.Second)
	for {
		if _, ok := fx.session.Student(st.ID); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("student never evicted after grace expiry")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !fx.broadcast.seen(types.EventStudentLeft) {
		t.Error("no student-left announcement after eviction")
	}
	if _, ok := fx.registry.SessionForStudent(st.ID); ok {
		t.Error("evicted student still indexed in registry")
	}
}

func TestReconnectCancelsGraceTimer(t *testing.T) {
	fx := newFixture(t, 50*time.Millisecond)
	st, conn := fx.joinStudent(t, "c1")

	fx.manager.Disconnect(conn)

	replacement := &fakeConn{connID: "c2", userID: st.ID, role: types.RoleStudent, session: fx.session.ID()}
	_, _, rejoined, err := fx.manager.JoinStudent(replacement)
	if err != nil {
		t.Fatalf("JoinStudent: %v", err)
	}
	if !rejoined {
		t.Error("reconnect within grace not reported as rejoin")
	}

	time.Sleep(120 * time.Millisecond)
	if _, ok := fx.session.Student(st.ID); !ok {
		t.Error("reconnected student was evicted anyway")
	}
	if fx.broadcast.seen(types.EventStudentLeft) {
		t.Error("student-left announced despite reconnect")
	}
}

func TestStaleDisconnectIsIgnored(t *testing.T) {
	fx := newFixture(t, 30*time.Millisecond)
	st, old := fx.joinStudent(t, "c1")

	replacement := &fakeConn{connID: "c2", userID: st.ID, role: types.RoleStudent, session: fx.session.ID()}
	if _, _, _, err := fx.manager.JoinStudent(replacement); err != nil {
		t.Fatalf("JoinStudent: %v", err)
	}

	// Closing the replaced connection must not start a grace timer.
	fx.manager.Disconnect(old)
	time.Sleep(100 * time.Millisecond)

	if _, ok := fx.session.Student(st.ID); !ok {
		t.Error("stale disconnect evicted an active student")
	}
}

func TestLeaveEvictsImmediately(t *testing.T) {
	fx := newFixture(t, time.Hour)
	st, conn := fx.joinStudent(t, "c1")

	fx.manager.Leave(conn)

	if _, ok := fx.session.Student(st.ID); ok {
		t.Error("student still on roster after leaving")
	}
	if !fx.broadcast.seen(types.EventStudentLeft) {
		t.Error("no student-left announcement after leave")
	}
}

func TestTeacherDisconnectStartsIdleClock(t *testing.T) {
	fx := newFixture(t, time.Minute)

	conn := &fakeConn{connID: "c1", userID: fx.teacherID, role: types.RoleTeacher, session: fx.session.ID()}
	if _, err := fx.manager.JoinTeacher(conn); err != nil {
		t.Fatalf("JoinTeacher: %v", err)
	}
	if _, ok := fx.session.TeacherlessSince(); ok {
		t.Fatal("session teacherless while teacher connected")
	}

	fx.manager.Disconnect(conn)
	if _, ok := fx.session.TeacherlessSince(); !ok {
		t.Error("teacher disconnect did not start the idle clock")
	}
}

func TestDisconnectAllClosesEveryConnection(t *testing.T) {
	fx := newFixture(t, time.Minute)

	teacher := &fakeConn{connID: "ct", userID: fx.teacherID, role: types.RoleTeacher, session: fx.session.ID()}
	fx.manager.JoinTeacher(teacher)
	_, student := fx.joinStudent(t, "cs")

	fx.manager.DisconnectAll(fx.session)

	if !teacher.isClosed() || !student.isClosed() {
		t.Error("DisconnectAll left connections open")
	}
	if _, ok := fx.manager.Connection(fx.teacherID); ok {
		t.Error("teacher connection still tracked")
	}
	if len(fx.manager.SessionConnections(fx.session.ID())) != 0 {
		t.Error("session connections still tracked")
	}
}
