package conflict

import (
	"errors"
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func newTestEngine() *Engine {
	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	return NewEngine(&logger)
}

// openFixture opens the canonical two-sided edit of line 2.
func openFixture(e *Engine) *Record {
	return e.Open("r1", "a\nb\nc", "a\nB1\nc", "a\nB2\nc", "uA", "alice", "uB", "bob")
}

func TestOpenBlocksLastEditor(t *testing.T) {
	e := newTestEngine()
	rec := openFixture(e)
	if rec == nil {
		t.Fatal("expected a record")
	}
	if rec.MainChanger() != "uB" {
		t.Errorf("main changer = %q, want uB", rec.MainChanger())
	}

	blocked, ok := e.BlockedBy("uA")
	if !ok || blocked.ID != rec.ID {
		t.Fatal("uA should be edit-blocked by the record")
	}
	if _, ok := e.BlockedBy("uB"); ok {
		t.Error("the main changer must not be blocked")
	}
	if e.Pending() != 1 {
		t.Errorf("pending = %d, want 1", e.Pending())
	}
}

func TestOpenNoDivergenceNoRecord(t *testing.T) {
	e := newTestEngine()
	if rec := e.Open("r1", "a\nb", "a\nX", "a\nX", "uA", "alice", "uB", "bob"); rec != nil {
		t.Errorf("identical edits produced a record: %+v", rec)
	}
	if e.Pending() != 0 {
		t.Errorf("pending = %d, want 0", e.Pending())
	}
}

func TestResolveForce(t *testing.T) {
	e := newTestEngine()
	rec := openFixture(e)

	got, err := e.Resolve(rec.ID, ResolutionForce, "uB")
	if err != nil {
		t.Fatalf("force failed: %v", err)
	}
	if got.State != StateResolved || got.Resolution != ResolutionForce {
		t.Errorf("state=%q resolution=%q", got.State, got.Resolution)
	}
	if _, ok := e.BlockedBy("uA"); ok {
		t.Error("uA should be unblocked after force")
	}
	if e.Pending() != 0 {
		t.Errorf("pending = %d, want 0", e.Pending())
	}
	if got.CodeB != "a\nB2\nc" {
		t.Errorf("pending code = %q", got.CodeB)
	}
}

func TestShareAndAIResolveStayPending(t *testing.T) {
	e := newTestEngine()
	rec := openFixture(e)

	for _, resolution := range []string{ResolutionShare, ResolutionAIResolve} {
		got, err := e.Resolve(rec.ID, resolution, "uB")
		if err != nil {
			t.Fatalf("%s failed: %v", resolution, err)
		}
		if got.State != StatePending {
			t.Errorf("%s: state = %q, want pending", resolution, got.State)
		}
		if _, ok := e.BlockedBy("uA"); !ok {
			t.Errorf("%s: uA should remain blocked", resolution)
		}
	}

	// A later explicit force still works.
	if _, err := e.Resolve(rec.ID, ResolutionForce, "uB"); err != nil {
		t.Fatalf("late force failed: %v", err)
	}
	if e.Pending() != 0 {
		t.Error("record should be discarded after late force")
	}
}

func TestResolveValidation(t *testing.T) {
	e := newTestEngine()
	rec := openFixture(e)

	if _, err := e.Resolve("nope", ResolutionForce, "uB"); !errors.Is(err, ErrUnknownConflict) {
		t.Errorf("unknown id: got %v", err)
	}
	if _, err := e.Resolve(rec.ID, ResolutionForce, "uA"); !errors.Is(err, ErrNotMainChanger) {
		t.Errorf("wrong user: got %v", err)
	}
	if _, err := e.Resolve(rec.ID, "coinflip", "uB"); !errors.Is(err, ErrUnknownResolution) {
		t.Errorf("bad resolution: got %v", err)
	}

	// Record must still be pending after the failed attempts.
	if _, ok := e.Get(rec.ID); !ok {
		t.Error("record vanished after rejected resolutions")
	}
}

func TestDropUserReleasesRecords(t *testing.T) {
	e := newTestEngine()
	rec := openFixture(e)

	released := e.DropUser("uB")
	if len(released) != 1 || released[0].ID != rec.ID {
		t.Fatalf("released = %+v", released)
	}
	if _, ok := e.BlockedBy("uA"); ok {
		t.Error("uA should be unblocked when the main changer departs")
	}
	if e.Pending() != 0 {
		t.Errorf("pending = %d, want 0", e.Pending())
	}
}

func TestDropRoomDiscardsRecords(t *testing.T) {
	e := newTestEngine()
	openFixture(e)
	e.Open("r2", "x", "y", "z", "uC", "carol", "uD", "dave")

	e.DropRoom("r1")
	if e.Pending() != 1 {
		t.Errorf("pending = %d, want 1", e.Pending())
	}
	if _, ok := e.BlockedBy("uA"); ok {
		t.Error("r1 participant should be unblocked")
	}
	if _, ok := e.BlockedBy("uC"); !ok {
		t.Error("r2 record should be untouched")
	}
}
