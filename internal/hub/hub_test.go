package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/ai"
)

// The tests below exercise the hand-rolled transport end to end with a
// real RFC6455 client implementation on the other side.

type fakeAssistant struct {
	response string
	err      error
}

func (f *fakeAssistant) Analyze(ctx context.Context, req ai.Request) (string, error) {
	return f.response, f.err
}

type chatRecorder struct {
	lines []string
}

func (c *chatRecorder) SaveChatMessage(roomID, userID, username, message string) error {
	c.lines = append(c.lines, roomID+"/"+userID+": "+message)
	return nil
}

func startTestHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()

	if cfg.Logger == nil {
		logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
		cfg.Logger = &logger
	}
	h := New(cfg)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	go h.Serve(ctx, l)
	t.Cleanup(func() {
		cancel()
		time.Sleep(50 * time.Millisecond)
	})

	return h, "ws://" + l.Addr().String() + "/ws"
}

func dialClient(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("bad envelope %q: %v", data, err)
	}
	return env
}

// readUntil skips envelopes until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		env := readEnvelope(t, conn)
		if env["type"] == msgType {
			return env
		}
	}
	t.Fatalf("no %s envelope within 10 messages", msgType)
	return nil
}

func join(t *testing.T, conn *websocket.Conn, roomID, userID, username string) map[string]any {
	t.Helper()
	sendJSON(t, conn, map[string]string{
		"type": "join_room", "room_id": roomID, "user_id": userID, "username": username,
	})
	return readUntil(t, conn, "room_joined")
}

func TestJoinBroadcastAndExclusion(t *testing.T) {
	_, url := startTestHub(t, Config{})

	c1 := dialClient(t, url)
	joined := join(t, c1, "r1", "u1", "alice")
	if joined["room_id"] != "r1" || joined["current_code"] == "" {
		t.Fatalf("bad room_joined: %v", joined)
	}

	c2 := dialClient(t, url)
	join(t, c2, "r1", "u2", "bob")

	if env := readUntil(t, c1, "user_joined"); env["user_id"] != "u2" {
		t.Fatalf("bad user_joined: %v", env)
	}

	sendJSON(t, c2, map[string]string{"type": "code_change", "code": "x = 1"})

	env := readUntil(t, c1, "code_sync")
	if env["code"] != "x = 1" || env["user_id"] != "u2" {
		t.Fatalf("bad code_sync: %v", env)
	}

	// The sender must not see its own change echoed: the next thing c2
	// receives after a ping is the pong, not a code_sync.
	sendJSON(t, c2, map[string]string{"type": "ping"})
	if env := readEnvelope(t, c2); env["type"] != "pong" {
		t.Fatalf("expected pong, got %v", env)
	}
}

func TestLateJoinerGetsLatestBuffer(t *testing.T) {
	_, url := startTestHub(t, Config{})

	c1 := dialClient(t, url)
	join(t, c1, "r1", "u1", "alice")
	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "print(1)"})

	// Settle the edit before the second join.
	sendJSON(t, c1, map[string]string{"type": "ping"})
	readUntil(t, c1, "pong")

	c2 := dialClient(t, url)
	joined := join(t, c2, "r1", "u2", "bob")
	if joined["current_code"] != "print(1)" {
		t.Fatalf("late joiner got %q, want print(1)", joined["current_code"])
	}
	if joined["version"] != float64(1) {
		t.Fatalf("late joiner version = %v, want 1", joined["version"])
	}
}

func TestChatReachesEveryoneAndPersists(t *testing.T) {
	rec := &chatRecorder{}
	_, url := startTestHub(t, Config{ChatStore: rec})

	c1 := dialClient(t, url)
	join(t, c1, "r1", "u1", "alice")
	c2 := dialClient(t, url)
	join(t, c2, "r1", "u2", "bob")
	readUntil(t, c1, "user_joined")

	sendJSON(t, c1, map[string]string{"type": "chat_message", "message": "hello"})

	for _, conn := range []*websocket.Conn{c1, c2} {
		env := readUntil(t, conn, "chat_message")
		if env["message"] != "hello" || env["user_id"] != "u1" {
			t.Fatalf("bad chat envelope: %v", env)
		}
	}
	if len(rec.lines) != 1 {
		t.Fatalf("chat persisted %d lines, want 1", len(rec.lines))
	}
}

func TestErrorEnvelopesKeepConnectionOpen(t *testing.T) {
	_, url := startTestHub(t, Config{})
	c := dialClient(t, url)

	// Unknown type.
	sendJSON(t, c, map[string]string{"type": "self_destruct"})
	env := readEnvelope(t, c)
	if env["type"] != "error" {
		t.Fatalf("expected error, got %v", env)
	}
	if msg, _ := env["message"].(string); !strings.Contains(msg, "self_destruct") {
		t.Fatalf("error should name the unknown type: %v", env)
	}

	// Invalid JSON.
	if err := c.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if env := readEnvelope(t, c); env["type"] != "error" {
		t.Fatalf("expected error, got %v", env)
	}

	// Action before join_room.
	sendJSON(t, c, map[string]string{"type": "code_change", "code": "x"})
	if env := readEnvelope(t, c); env["type"] != "error" {
		t.Fatalf("expected error, got %v", env)
	}

	// Still alive.
	sendJSON(t, c, map[string]string{"type": "ping"})
	if env := readEnvelope(t, c); env["type"] != "pong" {
		t.Fatalf("connection should survive message errors, got %v", env)
	}
}

func TestMonitorMirrorsRooms(t *testing.T) {
	_, url := startTestHub(t, Config{})

	m := dialClient(t, url)
	sendJSON(t, m, map[string]string{"type": "teacher_monitor", "action": "register"})

	c1 := dialClient(t, url)
	join(t, c1, "r1", "u1", "alice")

	env := readUntil(t, m, "room_update")
	if env["room_id"] != "r1" {
		t.Fatalf("bad room_update: %v", env)
	}

	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "y = 2"})
	env = readUntil(t, m, "code_change")
	if env["room_id"] != "r1" || env["code"] != "y = 2" {
		t.Fatalf("bad mirror: %v", env)
	}
}

func TestConflictLifecycle(t *testing.T) {
	_, url := startTestHub(t, Config{})

	c1 := dialClient(t, url)
	join(t, c1, "r1", "uA", "alice")
	c2 := dialClient(t, url)
	join(t, c2, "r1", "uB", "bob")
	readUntil(t, c1, "user_joined")

	// alice establishes the baseline, then edits line 2.
	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "a\nb\nc"})
	readUntil(t, c2, "code_sync")
	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "a\nB1\nc"})
	readUntil(t, c2, "code_sync")

	// bob edits the same line from the stale baseline: conflict.
	sendJSON(t, c2, map[string]string{"type": "code_change", "code": "a\nB2\nc"})

	detA := readUntil(t, c1, "conflict_detected")
	detB := readUntil(t, c2, "conflict_detected")
	if detA["conflict_id"] != detB["conflict_id"] {
		t.Fatal("participants saw different conflict ids")
	}
	if detB["main_changer"] != "uB" {
		t.Fatalf("main changer = %v, want uB", detB["main_changer"])
	}
	lines, _ := detA["lines"].([]any)
	if len(lines) != 1 {
		t.Fatalf("conflict lines = %v, want exactly one entry", detA["lines"])
	}
	line, _ := lines[0].(map[string]any)
	if line["line_number"] != float64(2) || line["version_a"] != "B1" || line["version_b"] != "B2" {
		t.Fatalf("bad conflict line: %v", line)
	}

	// The blocked side cannot edit while the record is pending.
	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "a\nB1!\nc"})
	if env := readEnvelope(t, c1); env["type"] != "error" {
		t.Fatalf("blocked edit should error, got %v", env)
	}

	// The main changer forces their version.
	sendJSON(t, c2, map[string]string{
		"type": "conflict_resolution", "conflict_id": detB["conflict_id"].(string),
		"resolution": "force", "user_id": "uB",
	})

	sync := readUntil(t, c1, "code_sync")
	if sync["code"] != "a\nB2\nc" {
		t.Fatalf("forced buffer = %q", sync["code"])
	}
	resolved := readUntil(t, c1, "conflict_resolved")
	if resolved["resolution"] != "force" {
		t.Fatalf("bad conflict_resolved: %v", resolved)
	}
	readUntil(t, c2, "conflict_resolved")

	// alice is unblocked again.
	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "a\nB2\nc\nd"})
	if env := readUntil(t, c2, "code_sync"); env["code"] != "a\nB2\nc\nd" {
		t.Fatalf("post-resolution edit lost: %v", env)
	}
}

func TestMainChangerDisconnectUnblocks(t *testing.T) {
	h, url := startTestHub(t, Config{})

	c1 := dialClient(t, url)
	join(t, c1, "r1", "uA", "alice")
	c2 := dialClient(t, url)
	join(t, c2, "r1", "uB", "bob")
	readUntil(t, c1, "user_joined")

	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "a\nb"})
	readUntil(t, c2, "code_sync")
	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "a\nX"})
	readUntil(t, c2, "code_sync")
	sendJSON(t, c2, map[string]string{"type": "code_change", "code": "a\nY"})
	readUntil(t, c1, "conflict_detected")

	// bob vanishes mid-resolution; alice must not stay blocked.
	c2.Close()

	readUntil(t, c1, "conflict_resolved")
	readUntil(t, c1, "user_left")

	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "a\nZ"})
	sendJSON(t, c1, map[string]string{"type": "ping"})
	readUntil(t, c1, "pong")

	stats := h.Stats()
	if stats.PendingConflicts != 0 {
		t.Errorf("pending conflicts = %d, want 0", stats.PendingConflicts)
	}
	if stats.Connections != 1 {
		t.Errorf("connections = %d, want 1", stats.Connections)
	}
}

func TestEditAfterLastEditorLeavesAppliesClean(t *testing.T) {
	_, url := startTestHub(t, Config{})

	c1 := dialClient(t, url)
	join(t, c1, "r1", "uA", "alice")
	c2 := dialClient(t, url)
	join(t, c2, "r1", "uB", "bob")
	c3 := dialClient(t, url)
	join(t, c3, "r1", "uC", "carol")

	sendJSON(t, c1, map[string]string{"type": "code_change", "code": "a\nb\nc"})
	readUntil(t, c2, "code_sync")
	readUntil(t, c3, "code_sync")

	sendJSON(t, c1, map[string]string{"type": "leave_room"})
	readUntil(t, c2, "user_left")
	readUntil(t, c3, "user_left")

	// bob's edit diverges from the buffer alice left behind; with the
	// editor gone it must apply directly, not open a conflict charged
	// to an absent participant.
	sendJSON(t, c2, map[string]string{"type": "code_change", "code": "a\nX\nc"})
	env := readUntil(t, c3, "code_sync")
	if env["code"] != "a\nX\nc" || env["user_id"] != "uB" {
		t.Fatalf("unexpected code_sync: %v", env)
	}
}

func TestAIRequestRelay(t *testing.T) {
	_, url := startTestHub(t, Config{Assistant: &fakeAssistant{response: "merge them"}})

	c := dialClient(t, url)
	join(t, c, "r1", "u1", "alice")

	sendJSON(t, c, map[string]any{
		"type": "ai_request", "action": "conflict_analysis", "requestId": "q1",
		"data": map[string]string{
			"userCode": "a", "conflictCode": "b",
			"userName": "alice", "conflictUser": "bob", "roomId": "r1",
		},
	})

	env := readUntil(t, c, "ai_response")
	if env["success"] != true || env["response"] != "merge them" || env["requestId"] != "q1" {
		t.Fatalf("bad ai_response: %v", env)
	}
}

func TestAIFailureIsRequestScoped(t *testing.T) {
	_, url := startTestHub(t, Config{Assistant: &fakeAssistant{err: fmt.Errorf("model timeout")}})

	c := dialClient(t, url)
	join(t, c, "r1", "u1", "alice")

	sendJSON(t, c, map[string]any{"type": "ai_request", "action": "x", "data": map[string]string{}})
	env := readUntil(t, c, "ai_response")
	if env["success"] != false || env["error"] != "model timeout" {
		t.Fatalf("bad ai_response: %v", env)
	}

	// Connection unaffected.
	sendJSON(t, c, map[string]string{"type": "ping"})
	readUntil(t, c, "pong")
}

func TestDisconnectCleansMembership(t *testing.T) {
	h, url := startTestHub(t, Config{})

	c1 := dialClient(t, url)
	join(t, c1, "r1", "u1", "alice")
	c2 := dialClient(t, url)
	join(t, c2, "r1", "u2", "bob")
	readUntil(t, c1, "user_joined")

	c2.Close()
	env := readUntil(t, c1, "user_left")
	if env["user_id"] != "u2" {
		t.Fatalf("bad user_left: %v", env)
	}

	c1.Close()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s := h.Stats(); s.Rooms == 0 && s.Connections == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("stats never drained: %+v", h.Stats())
}

func TestRegistryTracksSockets(t *testing.T) {
	h, url := startTestHub(t, Config{})

	c := dialClient(t, url)
	join(t, c, "r1", "u1", "alice")

	done := make(chan struct{})
	h.Enqueue(func() {
		defer close(done)
		if len(h.conns) != 1 {
			t.Errorf("registry size = %d, want 1", len(h.conns))
		}
		for sock, conn := range h.bySock {
			got, ok := h.lookupBySocket(sock)
			if !ok || got != conn {
				t.Error("lookupBySocket disagrees with registry")
			}
		}
	})
	<-done
}
