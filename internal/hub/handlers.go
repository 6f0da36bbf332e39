package hub

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/ai"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/conflict"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/protocol"
)

// dispatch decodes one text payload and routes it to its handler.
// Message-level problems answer with an error envelope and leave the
// connection open.
func (h *Hub) dispatch(c *Conn, payload []byte) {
	if !c.limiter.Allow() {
		c.warnings++
		if c.warnings > maxRateWarnings {
			h.logger.Warn().Str("conn", c.id).Msg("disconnecting for sustained rate abuse")
			h.teardown(c)
			return
		}
		c.enqueueFrame(protocol.Error("rate limit exceeded, message dropped"))
		return
	}

	msg, err := protocol.DecodeInbound(payload)
	if err != nil {
		c.enqueueFrame(protocol.Error(err.Error()))
		return
	}

	switch m := msg.(type) {
	case *protocol.JoinRoom:
		h.handleJoin(c, m)
	case *protocol.LeaveRoom:
		h.handleLeave(c)
	case *protocol.CodeChange:
		h.handleCodeChange(c, m.Code)
	case *protocol.ChatMessage:
		h.handleChat(c, m.Message)
	case *protocol.ConflictResolution:
		h.handleConflictResolution(c, m)
	case *protocol.AIRequest:
		h.handleAIRequest(c, m)
	case *protocol.Ping:
		c.enqueueFrame(protocol.Pong())
	case *protocol.TeacherMonitor:
		h.handleMonitor(c, m)
	}
}

func (h *Hub) handleJoin(c *Conn, m *protocol.JoinRoom) {
	if c.role == RoleMonitor {
		c.enqueueFrame(protocol.Error("monitors cannot join rooms"))
		return
	}
	c.userID = m.UserID
	c.username = m.Username
	h.rooms.Join(c.id, m.RoomID, m.UserID, m.Username)
}

func (h *Hub) handleLeave(c *Conn) {
	r, ok := h.rooms.RoomOf(c.id)
	if !ok {
		c.enqueueFrame(protocol.Error("not in a room"))
		return
	}
	roomID := r.ID
	h.releaseConflicts(c, roomID)
	h.rooms.Leave(c.id)
	if _, stillLive := h.rooms.Room(roomID); !stillLive {
		h.conflicts.DropRoom(roomID)
	}
}

func (h *Hub) handleCodeChange(c *Conn, code string) {
	r, ok := h.rooms.RoomOf(c.id)
	if !ok {
		c.enqueueFrame(protocol.Error("join a room before editing"))
		return
	}

	if rec, blocked := h.conflicts.BlockedBy(c.userID); blocked {
		c.enqueueFrame(protocol.Error(fmt.Sprintf(
			"edits are blocked until conflict %s is resolved by %s", rec.ID, rec.NameB)))
		return
	}

	// A second editor touching the buffer is checked against the
	// baseline the current buffer grew from. The incoming edit's
	// author becomes the main changer (later server receipt wins).
	if r.LastEditor != "" && r.LastEditor != c.userID {
		lastName := r.LastEditor
		if member, ok := h.rooms.MemberByUser(r.ID, r.LastEditor); ok {
			lastName = member.Username
		}
		rec := h.conflicts.Open(r.ID, r.Baseline, r.Code, code,
			r.LastEditor, lastName, c.userID, c.username)
		if rec != nil {
			h.announceConflict(r.ID, rec)
			return
		}
	}

	h.rooms.ApplyCodeChange(r.ID, c.id, code)
}

func (h *Hub) announceConflict(roomID string, rec *conflict.Record) {
	payload := protocol.ConflictDetected(
		rec.ID, roomID,
		rec.UserA, rec.UserB, rec.NameA, rec.NameB,
		rec.MainChanger(), rec.Lines, string(rec.ChangeType), rec.Significant)

	for _, userID := range []string{rec.UserA, rec.UserB} {
		if member, ok := h.rooms.MemberByUser(roomID, userID); ok {
			h.ToConn(member.ConnID, payload)
		}
	}
	h.ToMonitors(payload)
}

func (h *Hub) handleChat(c *Conn, message string) {
	r, ok := h.rooms.RoomOf(c.id)
	if !ok {
		c.enqueueFrame(protocol.Error("join a room before chatting"))
		return
	}
	h.postChat(r.ID, c.userID, c.username, message)
}

func (h *Hub) postChat(roomID, userID, username, message string) {
	if h.chat != nil {
		if err := h.chat.SaveChatMessage(roomID, userID, username, message); err != nil {
			h.logger.Error().Err(err).Str("room", roomID).Msg("chat persist failed")
		}
	}
	h.ToConns(h.roomConnIDs(roomID, ""), protocol.ChatBroadcast(userID, username, message))
}

func (h *Hub) handleConflictResolution(c *Conn, m *protocol.ConflictResolution) {
	byUser := m.UserID
	if byUser == "" {
		byUser = c.userID
	}

	rec, err := h.conflicts.Resolve(m.ConflictID, m.Resolution, byUser)
	if err != nil {
		c.enqueueFrame(protocol.Error(err.Error()))
		return
	}

	switch m.Resolution {
	case conflict.ResolutionForce:
		version := h.rooms.ApplyCodeChange(rec.RoomID, c.id, rec.CodeB)
		payload := protocol.ConflictResolved(rec.ID, conflict.ResolutionForce, rec.CodeB, version)
		h.ToConns(h.roomConnIDs(rec.RoomID, ""), payload)
		h.ToMonitors(payload)

	case conflict.ResolutionShare:
		h.postChat(rec.RoomID, c.userID, c.username, rec.Summary())

	case conflict.ResolutionAIResolve:
		h.relayAnalysis(c, "conflict_resolution", uuid.NewString(), ai.Request{
			Action:       "conflict_analysis",
			UserCode:     rec.CodeB,
			ConflictCode: rec.CodeA,
			UserName:     rec.NameB,
			ConflictUser: rec.NameA,
			RoomID:       rec.RoomID,
		})
	}
}

func (h *Hub) handleAIRequest(c *Conn, m *protocol.AIRequest) {
	requestID := m.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	h.relayAnalysis(c, m.Action, requestID, ai.Request{
		Action:       m.Action,
		UserCode:     m.Data.UserCode,
		ConflictCode: m.Data.ConflictCode,
		UserName:     m.Data.UserName,
		ConflictUser: m.Data.ConflictUser,
		RoomID:       m.Data.RoomID,
	})
}

// relayAnalysis performs the remote assistant call off the loop and
// re-enters through Enqueue to deliver the outcome. A failed call is a
// request-scoped error, never a connection-level one.
func (h *Hub) relayAnalysis(c *Conn, action, requestID string, req ai.Request) {
	if h.assistant == nil {
		c.enqueueFrame(protocol.AIError(action, requestID, ai.ErrNotConfigured.Error()))
		return
	}
	connID := c.id
	go func() {
		text, err := h.assistant.Analyze(context.Background(), req)
		h.Enqueue(func() {
			target, ok := h.conns[connID]
			if !ok {
				return
			}
			if err != nil {
				target.enqueueFrame(protocol.AIError(action, requestID, err.Error()))
				return
			}
			target.enqueueFrame(protocol.AIResponse(action, requestID, text))
		})
	}()
}

func (h *Hub) handleMonitor(c *Conn, m *protocol.TeacherMonitor) {
	if m.Action != "register" {
		c.enqueueFrame(protocol.Error(fmt.Sprintf("unknown teacher_monitor action %q", m.Action)))
		return
	}
	if c.role == RoleMonitor {
		return
	}
	if _, ok := h.rooms.RoomOf(c.id); ok {
		c.enqueueFrame(protocol.Error("leave the room before registering as monitor"))
		return
	}

	c.role = RoleMonitor
	h.monitors = append(h.monitors, c)

	// Catch the new observer up on every live room.
	for _, snapshot := range h.rooms.Snapshots() {
		c.enqueueFrame(snapshot)
	}
	h.logger.Info().Str("conn", c.id).Msg("monitor registered")
}
