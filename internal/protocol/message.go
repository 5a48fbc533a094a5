// Package protocol defines the live log tail's WebSocket wire format and a
// minimal RFC 6455 implementation shared by the server and otactl.
package protocol

import (
	"encoding/json"
	"time"
)

// WebSocket opcodes per RFC 6455.
const (
	OpContinue = 0
	OpText     = 1
	OpBinary   = 2
	OpClose    = 8
	OpPing     = 9
	OpPong     = 10
)

// Message types sent by the server on a tail connection.
const (
	TypeHello  = "hello"
	TypeRecord = "record"
	TypeError  = "error"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Hello opens a tail session and names the stream being followed.
type Hello struct {
	Stream string `json:"stream"`
	File   string `json:"file"`
}

// LogRecord is one flushed device log line.
type LogRecord struct {
	Stream string    `json:"stream"`
	Time   time.Time `json:"time"`
	Line   string    `json:"line"`
}

// ErrorPayload reports a server-side failure before the connection closes.
type ErrorPayload struct {
	Error string `json:"error"`
}

// NewMessage marshals payload into an envelope of type t.
func NewMessage(t string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Type: t, Payload: raw}, nil
}
