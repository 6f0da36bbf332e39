package wsproto

import (
	"encoding/binary"
	"errors"
)

// WebSocket opcodes this server cares about. Everything else decodes
// fine but is dropped by the caller.
const (
	OpcodeText  byte = 0x1
	OpcodeClose byte = 0x8

	finBit  byte = 0x80
	maskBit byte = 0x80
)

// MaxFramePayload caps a single frame's payload to keep one client from
// exhausting memory.
const MaxFramePayload = 1 << 20 // 1 MiB

var ErrFrameTooLarge = errors.New("frame payload exceeds maximum allowed size")

// Frame is a single decoded WebSocket frame. Transient: it lives only
// between decode and dispatch.
type Frame struct {
	Fin     bool
	Opcode  byte
	Masked  bool
	Payload []byte
}

// DecodeFrame parses one frame from the front of buf.
//
// It is pure over its input: no hidden state, so callers handle partial
// TCP reads by re-invoking it as their buffer grows. An incomplete frame
// yields (zero, 0, nil) with no bytes consumed. On success the returned
// count is the total frame length to discard from buf.
func DecodeFrame(buf []byte) (Frame, int, error) {
	if len(buf) < 2 {
		return Frame{}, 0, nil
	}

	fin := buf[0]&finBit != 0
	opcode := buf[0] & 0x0F
	masked := buf[1]&maskBit != 0
	length := uint64(buf[1] & 0x7F)
	offset := 2

	switch length {
	case 126:
		if len(buf) < offset+2 {
			return Frame{}, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[offset:]))
		offset += 2
	case 127:
		if len(buf) < offset+8 {
			return Frame{}, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[offset:])
		offset += 8
	}

	// Compared while still unsigned: a 64-bit length with the top bit
	// set must not survive to a signed conversion.
	if length > MaxFramePayload {
		return Frame{}, 0, ErrFrameTooLarge
	}

	var maskKey [4]byte
	if masked {
		if len(buf) < offset+4 {
			return Frame{}, 0, nil
		}
		copy(maskKey[:], buf[offset:offset+4])
		offset += 4
	}

	total := offset + int(length)
	if len(buf) < total {
		return Frame{}, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, buf[offset:total])
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i%4]
		}
	}

	return Frame{
		Fin:     fin,
		Opcode:  opcode,
		Masked:  masked,
		Payload: payload,
	}, total, nil
}

// EncodeText serializes payload as a single unmasked final text frame.
// Server-to-client frames are never masked.
func EncodeText(payload []byte) []byte {
	return encode(OpcodeText, payload)
}

// EncodeClose builds an empty close frame.
func EncodeClose() []byte {
	return encode(OpcodeClose, nil)
}

func encode(opcode byte, payload []byte) []byte {
	var hdr [10]byte
	hdr[0] = finBit | opcode

	var n int
	switch plen := len(payload); {
	case plen <= 125:
		hdr[1] = byte(plen)
		n = 2
	case plen <= 0xFFFF:
		hdr[1] = 126
		binary.BigEndian.PutUint16(hdr[2:], uint16(plen))
		n = 4
	default:
		hdr[1] = 127
		binary.BigEndian.PutUint64(hdr[2:], uint64(plen))
		n = 10
	}

	out := make([]byte, 0, n+len(payload))
	out = append(out, hdr[:n]...)
	out = append(out, payload...)
	return out
}
