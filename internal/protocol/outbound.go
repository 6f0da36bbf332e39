package protocol

import (
	"encoding/json"
	"time"
)

// UserInfo is one entry in a room's member listing, in join order.
type UserInfo struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// ConflictLine is one per-line diff entry in a conflict notification.
type ConflictLine struct {
	LineNumber int    `json:"line_number"`
	Original   string `json:"original"`
	VersionA   string `json:"version_a"`
	VersionB   string `json:"version_b"`
}

type roomJoined struct {
	Type        string     `json:"type"`
	RoomID      string     `json:"room_id"`
	UserID      string     `json:"user_id"`
	Username    string     `json:"username"`
	CurrentCode string     `json:"current_code"`
	Version     int        `json:"version"`
	Users       []UserInfo `json:"users"`
	Timestamp   int64      `json:"timestamp"`
}

type roomLeft struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type presence struct {
	Type      string     `json:"type"`
	UserID    string     `json:"user_id"`
	Username  string     `json:"username"`
	Users     []UserInfo `json:"users"`
	Timestamp int64      `json:"timestamp"`
}

type codeSync struct {
	Type      string `json:"type"`
	Code      string `json:"code"`
	Version   int    `json:"version"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Timestamp int64  `json:"timestamp"`
}

type chatBroadcast struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type conflictDetected struct {
	Type        string         `json:"type"`
	ConflictID  string         `json:"conflict_id"`
	RoomID      string         `json:"room_id"`
	UserA       string         `json:"user_a"`
	UserB       string         `json:"user_b"`
	NameA       string         `json:"name_a"`
	NameB       string         `json:"name_b"`
	MainChanger string         `json:"main_changer"`
	Lines       []ConflictLine `json:"lines"`
	ChangeType  string         `json:"change_type"`
	Significant bool           `json:"significant"`
	Timestamp   int64          `json:"timestamp"`
}

type conflictResolved struct {
	Type       string `json:"type"`
	ConflictID string `json:"conflict_id"`
	Resolution string `json:"resolution"`
	Code       string `json:"code,omitempty"`
	Version    int    `json:"version,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}

type aiResponse struct {
	Type      string `json:"type"`
	Action    string `json:"action"`
	RequestID string `json:"requestId"`
	Success   bool   `json:"success"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

type pong struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type errorEnvelope struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type roomUpdate struct {
	Type       string     `json:"type"`
	RoomID     string     `json:"room_id"`
	Users      []UserInfo `json:"users"`
	Version    int        `json:"version"`
	LastEditor string     `json:"last_editor"`
	Timestamp  int64      `json:"timestamp"`
}

type monitorCodeChange struct {
	Type      string `json:"type"`
	RoomID    string `json:"room_id"`
	Code      string `json:"code"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Version   int    `json:"version"`
	Timestamp int64  `json:"timestamp"`
}

func now() int64 { return time.Now().Unix() }

// mustJSON marshals v, which is always one of the envelope structs
// above and cannot fail.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func RoomJoined(roomID, userID, username, code string, version int, users []UserInfo) []byte {
	return mustJSON(roomJoined{TypeRoomJoined, roomID, userID, username, code, version, users, now()})
}

func RoomLeft(roomID string) []byte {
	return mustJSON(roomLeft{TypeRoomLeft, roomID})
}

func UserJoined(userID, username string, users []UserInfo) []byte {
	return mustJSON(presence{TypeUserJoined, userID, username, users, now()})
}

func UserLeft(userID, username string, users []UserInfo) []byte {
	return mustJSON(presence{TypeUserLeft, userID, username, users, now()})
}

func CodeSync(code string, version int, userID, username string) []byte {
	return mustJSON(codeSync{TypeCodeSync, code, version, userID, username, now()})
}

func ChatBroadcast(userID, username, message string) []byte {
	return mustJSON(chatBroadcast{TypeChatMessage, userID, username, message, now()})
}

func ConflictDetected(conflictID, roomID, userA, userB, nameA, nameB, mainChanger string,
	lines []ConflictLine, changeType string, significant bool) []byte {
	return mustJSON(conflictDetected{
		Type: TypeConflictDetected, ConflictID: conflictID, RoomID: roomID,
		UserA: userA, UserB: userB, NameA: nameA, NameB: nameB,
		MainChanger: mainChanger, Lines: lines, ChangeType: changeType,
		Significant: significant, Timestamp: now(),
	})
}

func ConflictResolved(conflictID, resolution, code string, version int) []byte {
	return mustJSON(conflictResolved{TypeConflictResolved, conflictID, resolution, code, version, now()})
}

func AIResponse(action, requestID, response string) []byte {
	return mustJSON(aiResponse{Type: TypeAIResponse, Action: action, RequestID: requestID, Success: true, Response: response})
}

func AIError(action, requestID, errMsg string) []byte {
	return mustJSON(aiResponse{Type: TypeAIResponse, Action: action, RequestID: requestID, Success: false, Error: errMsg})
}

func Pong() []byte {
	return mustJSON(pong{TypePong, now()})
}

func Error(message string) []byte {
	return mustJSON(errorEnvelope{TypeError, message})
}

func RoomUpdate(roomID string, users []UserInfo, version int, lastEditor string) []byte {
	return mustJSON(roomUpdate{TypeRoomUpdate, roomID, users, version, lastEditor, now()})
}

func MonitorCodeChange(roomID, code, userID, username string, version int) []byte {
	return mustJSON(monitorCodeChange{TypeCodeChange, roomID, code, userID, username, version, now()})
}
