// Package hub runs the synchronization core's event loop. One goroutine
// owns every piece of room, connection, and conflict state; per-socket
// reader and writer goroutines only move bytes. Messages from a single
// connection are handled in strict arrival order, and no handler ever
// runs concurrently with another, so none of the state needs a lock.
package hub

import (
	"context"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/ai"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/conflict"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/protocol"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/room"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/wsproto"
)

type inboundChunk struct {
	conn *Conn
	data []byte
}

// Assistant is the external AI collaborator surface the hub consumes.
type Assistant interface {
	Analyze(ctx context.Context, req ai.Request) (string, error)
}

// ChatStore receives chat lines for history persistence.
type ChatStore interface {
	SaveChatMessage(roomID, userID, username, message string) error
}

type Config struct {
	SnapshotStore room.SnapshotStore
	ChatStore     ChatStore
	Assistant     Assistant
	Logger        *zerolog.Logger
}

type Hub struct {
	conns    map[string]*Conn
	bySock   map[net.Conn]*Conn
	monitors []*Conn

	rooms     *room.Manager
	conflicts *conflict.Engine
	chat      ChatStore
	assistant Assistant

	register   chan net.Conn
	unregister chan *Conn
	inbound    chan inboundChunk
	control    chan func()

	logger zerolog.Logger
}

func New(cfg Config) *Hub {
	h := &Hub{
		conns:      make(map[string]*Conn),
		bySock:     make(map[net.Conn]*Conn),
		chat:       cfg.ChatStore,
		assistant:  cfg.Assistant,
		register:   make(chan net.Conn),
		unregister: make(chan *Conn),
		inbound:    make(chan inboundChunk, 64),
		control:    make(chan func()),
		logger:     cfg.Logger.With().Str("component", "hub").Logger(),
	}
	h.rooms = room.NewManager(cfg.SnapshotStore, h, cfg.Logger)
	h.conflicts = conflict.NewEngine(cfg.Logger)
	return h
}

// Serve accepts raw TCP connections and hands them to the event loop.
func (h *Hub) Serve(ctx context.Context, l net.Listener) {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	for {
		sock, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			h.logger.Error().Err(err).Msg("accept failed")
			return
		}
		select {
		case h.register <- sock:
		case <-ctx.Done():
			sock.Close()
			return
		}
	}
}

// Run is the event loop. It returns once ctx is cancelled, after a
// final snapshot flush.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case sock := <-h.register:
			h.addConn(sock)
		case c := <-h.unregister:
			h.teardown(c)
		case chunk := <-h.inbound:
			h.ingest(chunk.conn, chunk.data)
		case fn := <-h.control:
			fn()
		}
	}
}

// Enqueue schedules fn on the event loop goroutine. Used by background
// services (autosave, AI completions) to touch loop-owned state safely.
func (h *Hub) Enqueue(fn func()) {
	h.control <- fn
}

// Stats is a synchronous snapshot of live counters for the HTTP API.
type StatsSnapshot struct {
	Connections      int            `json:"connections"`
	Monitors         int            `json:"monitors"`
	Rooms            int            `json:"rooms"`
	PendingConflicts int            `json:"pending_conflicts"`
	RoomUsers        map[string]int `json:"room_users"`
}

func (h *Hub) Stats() StatsSnapshot {
	reply := make(chan StatsSnapshot, 1)
	h.control <- func() {
		reply <- StatsSnapshot{
			Connections:      len(h.conns),
			Monitors:         len(h.monitors),
			Rooms:            h.rooms.Count(),
			PendingConflicts: h.conflicts.Pending(),
			RoomUsers:        h.rooms.ActiveCounts(),
		}
	}
	return <-reply
}

// FlushRooms persists dirty room buffers; called from the loop via
// Enqueue by the autosave service.
func (h *Hub) FlushRooms() {
	if n := h.rooms.FlushDirty(); n > 0 {
		h.logger.Debug().Int("rooms", n).Msg("autosaved room buffers")
	}
}

func (h *Hub) addConn(sock net.Conn) {
	c := &Conn{
		id:      uuid.NewString(),
		sock:    sock,
		send:    make(chan []byte, sendQueueSize),
		role:    RoleParticipant,
		limiter: newConnLimiter(),
	}
	h.conns[c.id] = c
	h.bySock[sock] = c

	go c.writePump(h)
	go c.readPump(h)

	h.logger.Debug().
		Str("conn", c.id).
		Str("remote", sock.RemoteAddr().String()).
		Msg("connection accepted")
}

// lookupBySocket maps an OS-level socket back to its logical
// connection.
func (h *Hub) lookupBySocket(sock net.Conn) (*Conn, bool) {
	c, ok := h.bySock[sock]
	return c, ok
}

// teardown unconditionally cleans up a connection: conflict release,
// room departure broadcast, registry removal. Idempotent, and always
// completed within the loop iteration that triggered it.
func (h *Hub) teardown(c *Conn) {
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	delete(h.conns, c.id)
	delete(h.bySock, c.sock)

	if c.role == RoleMonitor {
		h.removeMonitor(c)
	}

	// Leave path runs before the record is dropped so the membership
	// invariant holds throughout.
	if r, ok := h.rooms.RoomOf(c.id); ok {
		roomID := r.ID
		h.releaseConflicts(c, roomID)
		h.rooms.Leave(c.id)
		if _, stillLive := h.rooms.Room(roomID); !stillLive {
			h.conflicts.DropRoom(roomID)
		}
	}

	close(c.send)
	h.logger.Debug().Str("conn", c.id).Msg("connection closed")
}

// releaseConflicts notifies a departing user's counterparts that their
// pending records are gone and their edits unblocked.
func (h *Hub) releaseConflicts(c *Conn, roomID string) {
	for _, rec := range h.conflicts.DropUser(c.userID) {
		payload := protocol.ConflictResolved(rec.ID, rec.Resolution, "", 0)
		h.ToConns(h.roomConnIDs(roomID, c.id), payload)
		h.ToMonitors(payload)
	}
}

func (h *Hub) roomConnIDs(roomID, except string) []string {
	r, ok := h.rooms.Room(roomID)
	if !ok {
		return nil
	}
	return r.MemberConnIDs(except)
}

// ingest appends raw bytes to the connection's buffer and parses as
// much as the buffer allows: first the handshake, then complete
// frames. Partial frames stay buffered until more bytes arrive.
func (h *Hub) ingest(c *Conn, data []byte) {
	if _, ok := h.conns[c.id]; !ok {
		return
	}
	c.buf = append(c.buf, data...)

	if !c.handshaked {
		end := wsproto.HandshakeEnd(c.buf)
		if end < 0 {
			if len(c.buf) > wsproto.MaxHandshakeSize {
				h.protocolError(c, "handshake too large")
			}
			return
		}
		hs, err := wsproto.ParseHandshake(c.buf[:end])
		if err != nil {
			h.protocolError(c, err.Error())
			return
		}
		c.buf = c.buf[end:]
		c.handshaked = true
		c.enqueue(hs.Response())
		h.logger.Debug().Str("conn", c.id).Str("path", hs.Path).Msg("handshake complete")
	}

	for {
		frame, consumed, err := wsproto.DecodeFrame(c.buf)
		if err != nil {
			h.protocolError(c, err.Error())
			return
		}
		if consumed == 0 {
			return
		}
		c.buf = c.buf[consumed:]

		switch frame.Opcode {
		case wsproto.OpcodeText:
			h.dispatch(c, frame.Payload)
		case wsproto.OpcodeClose:
			h.teardown(c)
			return
		default:
			// Binary, ping, pong: accepted and dropped.
		}

		if _, ok := h.conns[c.id]; !ok {
			return
		}
	}
}

// protocolError closes the connection without a JSON reply: before or
// outside a valid frame stream there is no channel to answer on.
func (h *Hub) protocolError(c *Conn, reason string) {
	h.logger.Warn().Str("conn", c.id).Str("reason", reason).Msg("protocol error")
	h.teardown(c)
}

func (h *Hub) removeMonitor(c *Conn) {
	for i, m := range h.monitors {
		if m == c {
			h.monitors = append(h.monitors[:i], h.monitors[i+1:]...)
			return
		}
	}
}

func (h *Hub) shutdown() {
	h.rooms.FlushDirty()
	for _, c := range h.conns {
		h.teardown(c)
	}

	// Give pumps a moment to observe their closed sockets and drain.
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case c := <-h.unregister:
			h.teardown(c)
		case <-h.inbound:
		case sock := <-h.register:
			sock.Close()
		case fn := <-h.control:
			fn()
		case <-deadline:
			h.logger.Info().Msg("hub stopped")
			return
		}
	}
}

// Broadcaster implementation. Fan-out iterates recipients in the join
// order the caller supplies; a stalled peer is disconnected rather than
// allowed to stall the loop.

func (h *Hub) ToConn(connID string, payload []byte) {
	if c, ok := h.conns[connID]; ok {
		c.enqueueFrame(payload)
	}
}

func (h *Hub) ToConns(connIDs []string, payload []byte) {
	frame := wsproto.EncodeText(payload)
	for _, id := range connIDs {
		if c, ok := h.conns[id]; ok {
			c.enqueue(frame)
		}
	}
}

func (h *Hub) ToMonitors(payload []byte) {
	if len(h.monitors) == 0 {
		return
	}
	frame := wsproto.EncodeText(payload)
	for _, m := range h.monitors {
		m.enqueue(frame)
	}
}
