// Package room owns per-room collaborative state: the shared code
// buffer, its version counter, and the ordered member set.
//
// All state here is owned by the hub's event loop goroutine. Nothing in
// this package takes a lock; mutual exclusion is structural.
package room

import "time"

// DefaultCode seeds a freshly created room's buffer.
const DefaultCode = "# Write your Python code here\nprint(\"Hello, world!\")\n"

// Member is one connection's seat in a room, in join order.
type Member struct {
	ConnID   string
	UserID   string
	Username string
}

// Room is a named shared editing session.
type Room struct {
	ID           string
	Code         string
	Version      int
	LastEditor   string // user id of the most recent editor
	LastEditorAt time.Time

	// Baseline is the buffer as it stood before the most recent code
	// change. The conflict engine diffs incoming edits against it.
	Baseline string

	members []Member
	dirty   bool
}

// Members returns the member set in join order. The slice is a copy;
// callers may iterate while the room mutates.
func (r *Room) Members() []Member {
	out := make([]Member, len(r.members))
	copy(out, r.members)
	return out
}

// MemberConnIDs lists member connection ids in join order, optionally
// skipping one connection (the broadcast sender).
func (r *Room) MemberConnIDs(except string) []string {
	out := make([]string, 0, len(r.members))
	for _, m := range r.members {
		if m.ConnID != except {
			out = append(out, m.ConnID)
		}
	}
	return out
}

func (r *Room) addMember(m Member) {
	r.members = append(r.members, m)
}

func (r *Room) removeMember(connID string) (Member, bool) {
	for i, m := range r.members {
		if m.ConnID == connID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return m, true
		}
	}
	return Member{}, false
}

func (r *Room) memberByUser(userID string) (Member, bool) {
	for _, m := range r.members {
		if m.UserID == userID {
			return m, true
		}
	}
	return Member{}, false
}
