package protocol

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// WebSocket GUID per RFC 6455 section 4.2.2.
const wsGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// MaxFramePayload bounds a single frame read from the peer.
const MaxFramePayload = 1 << 20

// ErrFrameTooLarge is returned for frames above MaxFramePayload.
var ErrFrameTooLarge = errors.New("websocket frame too large")

// AcceptKey computes the Sec-WebSocket-Accept value for a given key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + wsGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewKey returns a random Sec-WebSocket-Key.
func NewKey() string {
	b := make([]byte, 16)
	rand.Read(b) //nolint:errcheck
	return base64.StdEncoding.EncodeToString(b)
}

// ReadFrame reads a single WebSocket frame from r.
// It handles extended payload lengths and optional masking.
func ReadFrame(r *bufio.Reader) (opcode byte, payload []byte, err error) {
	var header [2]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}

	opcode = header[0] & 0x0F
	masked := header[1]&0x80 != 0
	length := uint64(header[1] & 0x7F)

	switch length {
	case 126:
		var ext [2]byte
		if _, err = io.ReadFull(r, ext[:]); err != nil {
			return 0, nil, err
		}
		length = uint64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err = io.ReadFull(r, ext[:]); err != nil {
			return 0, nil, err
		}
		length = binary.BigEndian.Uint64(ext[:])
	}
	if length > MaxFramePayload {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}

	var maskKey [4]byte
	if masked {
		if _, err = io.ReadFull(r, maskKey[:]); err != nil {
			return 0, nil, err
		}
	}

	payload = make([]byte, length)
	if _, err = io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	if masked {
		for i := range payload {
			payload[i] ^= maskKey[i&3]
		}
	}
	return opcode, payload, nil
}

// WriteFrame writes a single final frame. Client frames must be masked.
func WriteFrame(w io.Writer, opcode byte, payload []byte, mask bool) error {
	length := len(payload)

	// 2-byte header + up to 8 extended length bytes + 4 mask + payload
	frame := make([]byte, 0, 2+8+4+length)
	frame = append(frame, 0x80|opcode)

	var maskBit byte
	if mask {
		maskBit = 0x80
	}
	switch {
	case length < 126:
		frame = append(frame, byte(length)|maskBit)
	case length < 65536:
		frame = append(frame, 126|maskBit, byte(length>>8), byte(length))
	default:
		frame = append(frame, 127|maskBit)
		frame = binary.BigEndian.AppendUint64(frame, uint64(length))
	}

	if !mask {
		frame = append(frame, payload...)
		_, err := w.Write(frame)
		return err
	}

	var maskKey [4]byte
	rand.Read(maskKey[:]) //nolint:errcheck
	frame = append(frame, maskKey[:]...)
	off := len(frame)
	frame = frame[:off+length]
	for i, b := range payload {
		frame[off+i] = b ^ maskKey[i&3]
	}
	_, err := w.Write(frame)
	return err
}

// ClosePayload encodes a close frame body with a status code and reason.
func ClosePayload(code uint16, reason string) []byte {
	b := binary.BigEndian.AppendUint16(nil, code)
	return append(b, reason...)
}
