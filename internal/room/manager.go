package room

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/protocol"
)

// Broadcaster delivers encoded envelopes to connections. The hub
// implements it; tests substitute a recorder.
type Broadcaster interface {
	ToConn(connID string, payload []byte)
	ToConns(connIDs []string, payload []byte)
	ToMonitors(payload []byte)
}

// SnapshotStore is the opaque persistence collaborator consulted at
// room creation and save boundaries.
type SnapshotStore interface {
	LoadSnapshot(roomID string) (code string, version int, ok bool, err error)
	SaveSnapshot(roomID, code string, version int) error
}

// Manager tracks all live rooms and keeps the Connection/Room
// membership invariant: a room's member set is exactly the connections
// whose room id points at it.
type Manager struct {
	rooms  map[string]*Room
	byConn map[string]string // connection id -> room id

	store  SnapshotStore
	bc     Broadcaster
	logger zerolog.Logger
}

func NewManager(store SnapshotStore, bc Broadcaster, logger *zerolog.Logger) *Manager {
	return &Manager{
		rooms:  make(map[string]*Room),
		byConn: make(map[string]string),
		store:  store,
		bc:     bc,
		logger: logger.With().Str("component", "rooms").Logger(),
	}
}

// Join adds the connection to roomID, creating the room lazily. The
// joiner receives room_joined with the room's current buffer (never a
// stale default once any edit happened), peers receive user_joined, and
// monitors a refreshed room_update.
func (m *Manager) Join(connID, roomID, userID, username string) *Room {
	if _, ok := m.byConn[connID]; ok {
		m.Leave(connID)
	}

	r, ok := m.rooms[roomID]
	if !ok {
		r = m.createRoom(roomID)
	}

	r.addMember(Member{ConnID: connID, UserID: userID, Username: username})
	m.byConn[connID] = roomID
	r.LastEditorAt = time.Now()

	users := m.userList(r)
	m.bc.ToConn(connID, protocol.RoomJoined(roomID, userID, username, r.Code, r.Version, users))
	m.bc.ToConns(r.MemberConnIDs(connID), protocol.UserJoined(userID, username, users))
	m.bc.ToMonitors(protocol.RoomUpdate(roomID, users, r.Version, r.LastEditor))

	m.logger.Info().
		Str("room", roomID).
		Str("user", userID).
		Int("members", len(r.members)).
		Msg("user joined")
	return r
}

func (m *Manager) createRoom(roomID string) *Room {
	r := &Room{ID: roomID, Code: DefaultCode, Baseline: DefaultCode}
	if m.store != nil {
		code, version, ok, err := m.store.LoadSnapshot(roomID)
		if err != nil {
			m.logger.Error().Err(err).Str("room", roomID).Msg("snapshot load failed")
		} else if ok {
			r.Code = code
			r.Baseline = code
			r.Version = version
		}
	}
	m.rooms[roomID] = r
	m.logger.Info().Str("room", roomID).Int("version", r.Version).Msg("room created")
	return r
}

// Leave removes the connection from its room, if any. An emptied room
// is persisted once and discarded.
func (m *Manager) Leave(connID string) {
	roomID, ok := m.byConn[connID]
	if !ok {
		return
	}
	delete(m.byConn, connID)

	r := m.rooms[roomID]
	member, ok := r.removeMember(connID)
	if !ok {
		return
	}

	m.bc.ToConn(connID, protocol.RoomLeft(roomID))

	// A departed last editor must not be charged with future conflicts:
	// the next change from a remaining member applies unopposed against
	// the buffer they left behind.
	if r.LastEditor == member.UserID {
		if _, still := r.memberByUser(member.UserID); !still {
			r.LastEditor = ""
			r.Baseline = r.Code
		}
	}

	if len(r.members) == 0 {
		m.saveRoom(r)
		delete(m.rooms, roomID)
		m.bc.ToMonitors(protocol.RoomUpdate(roomID, nil, r.Version, r.LastEditor))
		m.logger.Info().Str("room", roomID).Msg("room closed (empty)")
		return
	}

	users := m.userList(r)
	m.bc.ToConns(r.MemberConnIDs(""), protocol.UserLeft(member.UserID, member.Username, users))
	m.bc.ToMonitors(protocol.RoomUpdate(roomID, users, r.Version, r.LastEditor))
	m.logger.Info().
		Str("room", roomID).
		Str("user", member.UserID).
		Int("members", len(r.members)).
		Msg("user left")
}

// ApplyCodeChange replaces the room buffer wholesale (last-write-wins),
// bumps the version, and fans the new buffer out to every other member
// plus the monitor mirror. Returns the new version.
func (m *Manager) ApplyCodeChange(roomID, editorConnID, code string) int {
	r, ok := m.rooms[roomID]
	if !ok {
		return 0
	}

	editor, _ := r.memberByConn(editorConnID)

	r.Baseline = r.Code
	r.Code = code
	r.Version++
	r.LastEditor = editor.UserID
	r.LastEditorAt = time.Now()
	r.dirty = true

	m.bc.ToConns(r.MemberConnIDs(editorConnID), protocol.CodeSync(code, r.Version, editor.UserID, editor.Username))
	m.bc.ToMonitors(protocol.MonitorCodeChange(roomID, code, editor.UserID, editor.Username, r.Version))

	m.logger.Debug().
		Str("room", roomID).
		Str("user", editor.UserID).
		Int("version", r.Version).
		Msg("code change applied")
	return r.Version
}

// Room returns the live room for roomID, if any.
func (m *Manager) Room(roomID string) (*Room, bool) {
	r, ok := m.rooms[roomID]
	return r, ok
}

// RoomOf maps a connection to the room it currently occupies.
func (m *Manager) RoomOf(connID string) (*Room, bool) {
	roomID, ok := m.byConn[connID]
	if !ok {
		return nil, false
	}
	r, ok := m.rooms[roomID]
	return r, ok
}

// Members returns roomID's member list in join order.
func (m *Manager) Members(roomID string) []Member {
	r, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	return r.Members()
}

// MemberByUser finds userID's seat in roomID.
func (m *Manager) MemberByUser(roomID, userID string) (Member, bool) {
	r, ok := m.rooms[roomID]
	if !ok {
		return Member{}, false
	}
	return r.memberByUser(userID)
}

// Count reports how many rooms are live.
func (m *Manager) Count() int { return len(m.rooms) }

// ActiveCounts maps room id to member count, for stats.
func (m *Manager) ActiveCounts() map[string]int {
	out := make(map[string]int, len(m.rooms))
	for id, r := range m.rooms {
		out[id] = len(r.members)
	}
	return out
}

// Snapshots lists every live room's current state for monitor catch-up.
func (m *Manager) Snapshots() [][]byte {
	out := make([][]byte, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, protocol.RoomUpdate(r.ID, m.userList(r), r.Version, r.LastEditor))
	}
	return out
}

// FlushDirty persists every room edited since the last flush.
func (m *Manager) FlushDirty() int {
	if m.store == nil {
		return 0
	}
	n := 0
	for _, r := range m.rooms {
		if !r.dirty {
			continue
		}
		if m.saveRoom(r) {
			n++
		}
	}
	return n
}

func (m *Manager) saveRoom(r *Room) bool {
	if m.store == nil || !r.dirty {
		return false
	}
	if err := m.store.SaveSnapshot(r.ID, r.Code, r.Version); err != nil {
		m.logger.Error().Err(err).Str("room", r.ID).Msg("snapshot save failed")
		return false
	}
	r.dirty = false
	return true
}

func (m *Manager) userList(r *Room) []protocol.UserInfo {
	users := make([]protocol.UserInfo, len(r.members))
	for i, mem := range r.members {
		users[i] = protocol.UserInfo{UserID: mem.UserID, Username: mem.Username}
	}
	return users
}

func (r *Room) memberByConn(connID string) (Member, bool) {
	for _, m := range r.members {
		if m.ConnID == connID {
			return m, true
		}
	}
	return Member{}, false
}
