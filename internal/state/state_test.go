package state

import (
	"errors"
	"testing"
	"time"

	"codeshare/pkg/types"
)

func newTestSession() *Session {
	return New("ABC123", "teacher-1", "Ms Harris", types.DefaultTemplate, time.Now())
}

func TestUpsertStudentPreservesPointsOnRejoin(t *testing.T) {
	sess := newTestSession()
	now := time.Now()

	sess.UpsertStudent("s1", "Dana", now)
	if _, err := sess.AddPoints("s1", 25); err != nil {
		t.Fatalf("AddPoints: %v", err)
	}

	st := sess.UpsertStudent("s1", "Dana R", now.Add(time.Minute))
	if st.Points != 25 {
		t.Errorf("rejoin lost points: got %d, want 25", st.Points)
	}
	if st.Name != "Dana R" {
		t.Errorf("rejoin did not refresh name: got %q", st.Name)
	}
	if st.JoinOrder != 1 {
		t.Errorf("rejoin changed join order: got %d, want 1", st.JoinOrder)
	}
}

func TestStudentsReturnedInJoinOrder(t *testing.T) {
	sess := newTestSession()
	now := time.Now()
	sess.UpsertStudent("s1", "First", now)
	sess.UpsertStudent("s2", "Second", now)
	sess.UpsertStudent("s3", "Third", now)

	students := sess.Students()
	if len(students) != 3 {
		t.Fatalf("got %d students, want 3", len(students))
	}
	for i, want := range []string{"s1", "s2", "s3"} {
		if students[i].ID != want {
			t.Errorf("position %d: got %s, want %s", i, students[i].ID, want)
		}
	}
}

func TestSetStudentCodeSequenceIsMonotonic(t *testing.T) {
	sess := newTestSession()
	sess.UpsertStudent("s1", "Dana", time.Now())

	var prev uint64
	for i := 0; i < 10; i++ {
		seq, err := sess.SetStudentCode("s1", "<h1>draft</h1>")
		if err != nil {
			t.Fatalf("SetStudentCode: %v", err)
		}
		if seq <= prev {
			t.Fatalf("sequence not monotonic: %d after %d", seq, prev)
		}
		prev = seq
	}

	latest, ok := sess.StudentCodeSeq("s1")
	if !ok || latest != prev {
		t.Errorf("StudentCodeSeq = %d, %v; want %d, true", latest, ok, prev)
	}
}

func TestAddPointsRejectsNegativeDelta(t *testing.T) {
	sess := newTestSession()
	sess.UpsertStudent("s1", "Dana", time.Now())

	if _, err := sess.AddPoints("s1", -5); !errors.Is(err, types.ErrInvalidInput) {
		t.Errorf("negative delta: got %v, want invalid input", err)
	}
	if st, _ := sess.Student("s1"); st.Points != 0 {
		t.Errorf("points changed by rejected delta: %d", st.Points)
	}
}

func TestMarkDisconnectedIgnoresStaleConnID(t *testing.T) {
	sess := newTestSession()
	sess.UpsertStudent("s1", "Dana", time.Now())

	if _, err := sess.MarkConnected("s1", "conn-old"); err != nil {
		t.Fatalf("MarkConnected: %v", err)
	}
	if _, err := sess.MarkConnected("s1", "conn-new"); err != nil {
		t.Fatalf("MarkConnected: %v", err)
	}

	if _, ok := sess.MarkDisconnected("s1", "conn-old"); ok {
		t.Error("stale close detached the replacement connection")
	}
	st, _ := sess.Student("s1")
	if st.Status != types.StatusConnected || st.ConnID != "conn-new" {
		t.Errorf("student detached: status=%s conn=%s", st.Status, st.ConnID)
	}
}

func TestTeacherlessClock(t *testing.T) {
	sess := newTestSession()

	// Fresh sessions count as teacherless until the teacher connects.
	if _, ok := sess.TeacherlessSince(); !ok {
		t.Error("new session not teacherless")
	}

	sess.MarkTeacherConnected("conn-1")
	if _, ok := sess.TeacherlessSince(); ok {
		t.Error("teacherless while teacher connected")
	}

	dropped := time.Now()
	if !sess.MarkTeacherDisconnected("conn-1", dropped) {
		t.Fatal("disconnect with matching conn id rejected")
	}
	since, ok := sess.TeacherlessSince()
	if !ok || !since.Equal(dropped) {
		t.Errorf("TeacherlessSince = %v, %v; want %v, true", since, ok, dropped)
	}

	// A stale disconnect must not restart the clock.
	sess.MarkTeacherConnected("conn-2")
	if sess.MarkTeacherDisconnected("conn-1", time.Now()) {
		t.Error("stale teacher disconnect accepted")
	}
}

func TestRecordAttemptAwardsCompletionOnce(t *testing.T) {
	sess := newTestSession()
	sess.UpsertStudent("s1", "Dana", time.Now())

	completed, rec, err := sess.RecordAttempt("s1", 1, 50, false)
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if completed {
		t.Error("failing attempt reported as completion")
	}
	if rec.Status != types.ProgressInProgress || rec.Attempts != 1 || rec.BestScore != 50 {
		t.Errorf("unexpected record: %+v", rec)
	}

	completed, rec, err = sess.RecordAttempt("s1", 1, 100, true)
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if !completed {
		t.Error("first passing attempt not reported as completion")
	}
	if rec.Status != types.ProgressCompleted || rec.BestScore != 100 {
		t.Errorf("unexpected record: %+v", rec)
	}

	// Passing again must not report completion a second time.
	completed, rec, err = sess.RecordAttempt("s1", 1, 100, true)
	if err != nil {
		t.Fatalf("RecordAttempt: %v", err)
	}
	if completed {
		t.Error("repeat pass reported as new completion")
	}
	if rec.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", rec.Attempts)
	}
}

func TestRecordAttemptKeepsBestScore(t *testing.T) {
	sess := newTestSession()
	sess.UpsertStudent("s1", "Dana", time.Now())

	sess.RecordAttempt("s1", 2, 75, false)
	_, rec, _ := sess.RecordAttempt("s1", 2, 25, false)
	if rec.BestScore != 75 {
		t.Errorf("best score regressed: got %d, want 75", rec.BestScore)
	}
}

func TestProgressOrderedByTask(t *testing.T) {
	sess := newTestSession()
	sess.UpsertStudent("s1", "Dana", time.Now())

	sess.RecordAttempt("s1", 3, 50, false)
	sess.RecordAttempt("s1", 1, 100, true)
	sess.RecordAttempt("s1", 2, 0, false)

	recs := sess.Progress("s1")
	if len(recs) != 3 {
		t.Fatalf("got %d records, want 3", len(recs))
	}
	for i, want := range []int{1, 2, 3} {
		if recs[i].TaskID != want {
			t.Errorf("position %d: task %d, want %d", i, recs[i].TaskID, want)
		}
	}
}

func TestRemoveStudentDropsProgress(t *testing.T) {
	sess := newTestSession()
	sess.UpsertStudent("s1", "Dana", time.Now())
	sess.RecordAttempt("s1", 1, 100, true)

	if _, ok := sess.RemoveStudent("s1"); !ok {
		t.Fatal("remove failed")
	}
	if recs := sess.Progress("s1"); len(recs) != 0 {
		t.Errorf("progress survived removal: %v", recs)
	}
	if _, ok := sess.RemoveStudent("s1"); ok {
		t.Error("second removal succeeded")
	}
}
