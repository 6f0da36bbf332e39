// Package protocol defines the JSON envelopes exchanged over the wire.
// Every message carries a "type" discriminator; inbound payloads decode
// into one typed struct per variant, validated at decode time.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound message types.
const (
	TypeJoinRoom           = "join_room"
	TypeLeaveRoom          = "leave_room"
	TypeCodeChange         = "code_change"
	TypeChatMessage        = "chat_message"
	TypeConflictResolution = "conflict_resolution"
	TypeAIRequest          = "ai_request"
	TypePing               = "ping"
	TypeTeacherMonitor     = "teacher_monitor"
)

// Outbound message types.
const (
	TypeRoomJoined       = "room_joined"
	TypeRoomLeft         = "room_left"
	TypeUserJoined       = "user_joined"
	TypeUserLeft         = "user_left"
	TypeCodeSync         = "code_sync"
	TypeConflictDetected = "conflict_detected"
	TypeConflictResolved = "conflict_resolved"
	TypeAIResponse       = "ai_response"
	TypePong             = "pong"
	TypeError            = "error"
	TypeRoomUpdate       = "room_update"
)

var (
	ErrInvalidJSON  = errors.New("invalid json")
	ErrMissingType  = errors.New("missing type field")
	ErrMissingField = errors.New("missing required field")
)

// UnknownTypeError names the unrecognized discriminator so the error
// envelope can echo it back.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

type JoinRoom struct {
	RoomID   string `json:"room_id"`
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

type LeaveRoom struct{}

type CodeChange struct {
	Code string `json:"code"`
}

type ChatMessage struct {
	Message string `json:"message"`
}

type ConflictResolution struct {
	ConflictID string `json:"conflict_id"`
	Resolution string `json:"resolution"`
	UserID     string `json:"user_id"`
}

type AIRequestData struct {
	UserCode     string `json:"userCode"`
	ConflictCode string `json:"conflictCode"`
	UserName     string `json:"userName"`
	ConflictUser string `json:"conflictUser"`
	RoomID       string `json:"roomId"`
}

type AIRequest struct {
	Action    string        `json:"action"`
	RequestID string        `json:"requestId"`
	Data      AIRequestData `json:"data"`
}

type Ping struct{}

type TeacherMonitor struct {
	Action string `json:"action"`
}

// DecodeInbound parses raw into the typed struct matching its "type"
// field. The returned value is a pointer to one of the inbound structs
// above.
func DecodeInbound(raw []byte) (any, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, ErrInvalidJSON
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoom
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, ErrInvalidJSON
		}
		if m.RoomID == "" || m.UserID == "" || m.Username == "" {
			return nil, fmt.Errorf("%w: join_room needs room_id, user_id, username", ErrMissingField)
		}
		return &m, nil
	case TypeLeaveRoom:
		return &LeaveRoom{}, nil
	case TypeCodeChange:
		// An empty buffer is a legal edit; no field validation here.
		var m CodeChange
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, ErrInvalidJSON
		}
		return &m, nil
	case TypeChatMessage:
		var m ChatMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, ErrInvalidJSON
		}
		if m.Message == "" {
			return nil, fmt.Errorf("%w: chat_message needs message", ErrMissingField)
		}
		return &m, nil
	case TypeConflictResolution:
		var m ConflictResolution
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, ErrInvalidJSON
		}
		if m.ConflictID == "" || m.Resolution == "" {
			return nil, fmt.Errorf("%w: conflict_resolution needs conflict_id, resolution", ErrMissingField)
		}
		return &m, nil
	case TypeAIRequest:
		var m AIRequest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, ErrInvalidJSON
		}
		if m.Action == "" {
			return nil, fmt.Errorf("%w: ai_request needs action", ErrMissingField)
		}
		return &m, nil
	case TypePing:
		return &Ping{}, nil
	case TypeTeacherMonitor:
		var m TeacherMonitor
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, ErrInvalidJSON
		}
		return &m, nil
	default:
		return nil, &UnknownTypeError{Type: env.Type}
	}
}
