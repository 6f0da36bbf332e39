package hub

import (
	"net"
	"time"

	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/ratelimit"
	"github.com/js0980420/PythonLearn-Zeabur-PHP-sub002/internal/wsproto"
)

// Role distinguishes editing participants from read-only observers.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleMonitor     Role = "monitor"
)

const (
	writeWait         = 10 * time.Second
	readChunkSize     = 4096
	sendQueueSize     = 256
	messagesPerSecond = 100
	messageBurst      = 200

	// Sustained limiter violations before the connection is dropped.
	maxRateWarnings = 1000
)

func newConnLimiter() *ratelimit.Bucket {
	return ratelimit.NewBucket(messagesPerSecond, messageBurst)
}

// Conn couples a socket's transport state (handshake progress, pending
// unparsed bytes) with its logical identity. All fields except send and
// sock are owned by the hub goroutine.
type Conn struct {
	id   string
	sock net.Conn
	send chan []byte

	handshaked bool
	buf        []byte // accumulated, not yet parsed

	userID   string
	username string
	role     Role

	limiter  *ratelimit.Bucket
	warnings int
}

// enqueue queues payload for delivery. A full queue means the peer
// stopped draining; the socket is closed and cleanup follows through
// the normal disconnect path.
func (c *Conn) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		c.sock.Close()
		return false
	}
}

// enqueueFrame wraps payload in a text frame before queueing.
func (c *Conn) enqueueFrame(payload []byte) bool {
	return c.enqueue(wsproto.EncodeText(payload))
}

// readPump shovels raw bytes from the socket into the hub loop. It does
// no parsing: handshake and frame assembly happen on the hub goroutine
// so per-connection arrival order is preserved end to end.
func (c *Conn) readPump(h *Hub) {
	defer func() {
		h.unregister <- c
	}()

	chunk := make([]byte, readChunkSize)
	for {
		n, err := c.sock.Read(chunk)
		if n > 0 {
			data := make([]byte, n)
			copy(data, chunk[:n])
			h.inbound <- inboundChunk{conn: c, data: data}
		}
		if err != nil {
			return
		}
	}
}

// writePump drains the send queue onto the socket. When the queue is
// closed by the hub it emits a close frame and shuts the socket.
func (c *Conn) writePump(h *Hub) {
	for payload := range c.send {
		c.sock.SetWriteDeadline(time.Now().Add(writeWait))
		if _, err := c.sock.Write(payload); err != nil {
			// Transport error: same cleanup as a client close.
			c.sock.Close()
			h.unregister <- c
			for range c.send {
				// Drain until the hub closes the queue.
			}
			return
		}
	}

	c.sock.SetWriteDeadline(time.Now().Add(writeWait))
	c.sock.Write(wsproto.EncodeClose())
	c.sock.Close()
}
