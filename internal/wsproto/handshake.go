// Package wsproto implements the restricted RFC6455 subset this server
// speaks: the HTTP upgrade handshake and text/close frames.
package wsproto

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// WebSocketGUID is the fixed key-hashing GUID from RFC6455 section 1.3.
const WebSocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxHandshakeSize bounds how many bytes we buffer waiting for the end
// of the upgrade request.
const MaxHandshakeSize = 8192

var (
	ErrMissingKey       = errors.New("missing Sec-WebSocket-Key header")
	ErrMalformedRequest = errors.New("malformed upgrade request")
)

var headerTerminator = []byte("\r\n\r\n")

// Handshake is a parsed client upgrade request.
type Handshake struct {
	Path      string
	Key       string
	AcceptKey string
}

// HandshakeEnd reports the number of bytes up to and including the
// header terminator, or -1 if the request is still incomplete.
func HandshakeEnd(buf []byte) int {
	idx := bytes.Index(buf, headerTerminator)
	if idx < 0 {
		return -1
	}
	return idx + len(headerTerminator)
}

// ParseHandshake validates the upgrade request in header and computes
// the accept key. header must contain the complete request including
// the blank-line terminator.
func ParseHandshake(header []byte) (*Handshake, error) {
	lines := strings.Split(string(header), "\r\n")
	if len(lines) == 0 {
		return nil, ErrMalformedRequest
	}

	reqLine := strings.Fields(lines[0])
	if len(reqLine) != 3 || reqLine[0] != "GET" || !strings.HasPrefix(reqLine[2], "HTTP/1.") {
		return nil, ErrMalformedRequest
	}

	hs := &Handshake{Path: reqLine[1]}
	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, ErrMalformedRequest
		}
		if strings.EqualFold(strings.TrimSpace(name), "Sec-WebSocket-Key") {
			hs.Key = strings.TrimSpace(value)
		}
	}

	if hs.Key == "" {
		return nil, ErrMissingKey
	}
	hs.AcceptKey = AcceptKey(hs.Key)
	return hs, nil
}

// AcceptKey computes the Sec-WebSocket-Accept value for a client key,
// per RFC6455 section 1.3: base64(sha1(key + GUID)).
func AcceptKey(clientKey string) string {
	sum := sha1.Sum([]byte(clientKey + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Response renders the 101 Switching Protocols reply for this handshake.
func (h *Handshake) Response() []byte {
	return []byte(fmt.Sprintf(
		"HTTP/1.1 101 Switching Protocols\r\n"+
			"Upgrade: websocket\r\n"+
			"Connection: Upgrade\r\n"+
			"Sec-WebSocket-Accept: %s\r\n\r\n",
		h.AcceptKey))
}
