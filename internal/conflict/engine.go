package conflict

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

var (
	ErrUnknownConflict   = errors.New("unknown conflict")
	ErrNotMainChanger    = errors.New("only the main changer may resolve this conflict")
	ErrUnknownResolution = errors.New("unknown resolution")
)

// Engine drives the per-record resolution workflow. Like the room
// manager it is owned by the hub goroutine and takes no locks.
//
// The main-changer designation is deterministic: the author of the
// later-arriving code change (server receipt order, which the event
// loop makes total) is the main changer; the other participant is
// edit-blocked until the record resolves.
type Engine struct {
	records map[string]*Record // by conflict id
	blocked map[string]string  // blocked user id -> conflict id
	logger  zerolog.Logger
}

func NewEngine(logger *zerolog.Logger) *Engine {
	return &Engine{
		records: make(map[string]*Record),
		blocked: make(map[string]string),
		logger:  logger.With().Str("component", "conflicts").Logger(),
	}
}

// Open runs detection for an incoming edit against the room's baseline
// and the buffer currently held by the last editor. When the edits
// diverge, a pending record is created, the last editor (userA) is
// edit-blocked, and the record is returned; otherwise nil.
func (e *Engine) Open(roomID, baseline, current, incoming, userA, nameA, userB, nameB string) *Record {
	rec := Detect(baseline, current, incoming, userA, userB)
	if rec == nil {
		return nil
	}
	rec.RoomID = roomID
	rec.NameA = nameA
	rec.NameB = nameB

	e.records[rec.ID] = rec
	e.blocked[userA] = rec.ID

	e.logger.Info().
		Str("conflict", rec.ID).
		Str("room", roomID).
		Str("main_changer", userB).
		Str("blocked", userA).
		Str("change_type", string(rec.ChangeType)).
		Int("lines", len(rec.Lines)).
		Bool("significant", rec.Significant).
		Msg("conflict detected")
	return rec
}

// Get looks up a pending record.
func (e *Engine) Get(conflictID string) (*Record, bool) {
	rec, ok := e.records[conflictID]
	return rec, ok
}

// BlockedBy returns the record currently edit-blocking userID, if any.
func (e *Engine) BlockedBy(userID string) (*Record, bool) {
	id, ok := e.blocked[userID]
	if !ok {
		return nil, false
	}
	rec, ok := e.records[id]
	return rec, ok
}

// Resolve applies one of the three actions to a pending record on
// behalf of byUser. Only "force" transitions the record to resolved and
// discards it; "share" and "ai_resolve" leave it pending for a later
// explicit resolution.
func (e *Engine) Resolve(conflictID, resolution, byUser string) (*Record, error) {
	rec, ok := e.records[conflictID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConflict, conflictID)
	}
	if byUser != rec.MainChanger() {
		return nil, ErrNotMainChanger
	}

	switch resolution {
	case ResolutionForce:
		e.close(rec, ResolutionForce)
	case ResolutionShare, ResolutionAIResolve:
		// Stays pending.
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownResolution, resolution)
	}

	e.logger.Info().
		Str("conflict", conflictID).
		Str("resolution", resolution).
		Str("state", string(rec.State)).
		Msg("conflict resolution")
	return rec, nil
}

// DropUser releases every record a departing user participates in.
// A departing main changer forfeits the pending edit: the record is
// resolved in favor of the current buffer. A departing blocked
// participant just dissolves the record. Returned records let the hub
// notify whoever remains.
func (e *Engine) DropUser(userID string) []*Record {
	var released []*Record
	for _, rec := range e.records {
		if rec.UserA != userID && rec.UserB != userID {
			continue
		}
		e.close(rec, ResolutionForce)
		released = append(released, rec)
		e.logger.Info().
			Str("conflict", rec.ID).
			Str("user", userID).
			Msg("conflict released by departure")
	}
	return released
}

// DropRoom discards every record owned by a destroyed room.
func (e *Engine) DropRoom(roomID string) {
	for id, rec := range e.records {
		if rec.RoomID != roomID {
			continue
		}
		delete(e.blocked, rec.UserA)
		delete(e.records, id)
	}
}

// Pending reports how many records are unresolved, for stats.
func (e *Engine) Pending() int { return len(e.records) }

func (e *Engine) close(rec *Record, resolution string) {
	rec.State = StateResolved
	rec.Resolution = resolution
	delete(e.blocked, rec.UserA)
	delete(e.records, rec.ID)
}
