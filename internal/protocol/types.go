package protocol

import "encoding/json"

// Outbound envelope types sent to the speech engine via stdin.
const (
	TypeEvent         = "EVENT"
	TypeResponse      = "RESPONSE"
	TypeStreamMessage = "STREAM_MESSAGE"
	TypeLog           = "LOG"
)

// Error kinds carried in the error field of RESPONSE and STREAM_MESSAGE payloads.
const (
	ErrKindStackTrace      = "STACK_TRACE"
	ErrKindUnsafeRequest   = "UNSAFE_REQUEST"
	ErrKindUnknownRequest  = "UNKNOWN_REQUEST"
	ErrKindPanic           = "PANIC"
	ErrKindStreamException = "STREAM_EXCEPTION"
)

// Envelope is one line of the wire protocol. Data is kept raw so that
// handlers decode it into their own shape, keyed by Type.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	ID   string          `json:"id,omitempty"`
}

// EventData is the payload of an EVENT envelope.
type EventData struct {
	EventType string `json:"eventType"`
	Data      any    `json:"data"`
}

// ResponseData is the payload of a RESPONSE envelope. Error is nil on success.
type ResponseData struct {
	ID    string  `json:"id"`
	Value any     `json:"value"`
	Error *string `json:"error"`
}

// StreamData is the payload of a STREAM_MESSAGE envelope.
type StreamData struct {
	StreamID string  `json:"stream_id"`
	Value    any     `json:"value"`
	Error    *string `json:"error"`
}

// LogData is the payload of a LOG envelope received from the engine.
type LogData struct {
	Value string `json:"value"`
	Level string `json:"level,omitempty"`
}

// ErrorKind returns a pointer suitable for the error field of a payload.
func ErrorKind(kind string) *string {
	if kind == "" {
		return nil
	}
	return &kind
}
