package protocol

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/mattjoyce/voxbridge/internal/log"
)

// maxLineBytes caps a single inbound line. Longer lines are treated as a read error.
const maxLineBytes = 16 * 1024 * 1024

// Transport frames envelopes over the engine's stdin/stdout. It owns no
// business logic: outbound envelopes are written one per line under a mutex,
// inbound lines are decoded and handed to the receive callback.
type Transport struct {
	mu sync.Mutex
	w  io.Writer // nil while no process is attached

	recvMu  sync.RWMutex
	receive func(Envelope)

	logger *slog.Logger
}

// NewTransport creates a detached transport.
func NewTransport() *Transport {
	return &Transport{logger: log.WithComponent("transport")}
}

// Attach points the transport at a running process's stdin.
func (t *Transport) Attach(w io.Writer) {
	t.mu.Lock()
	t.w = w
	t.mu.Unlock()
}

// Detach marks the transport as not running. Subsequent sends fail.
func (t *Transport) Detach() {
	t.mu.Lock()
	t.w = nil
	t.mu.Unlock()
}

// Running reports whether a process is attached.
func (t *Transport) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.w != nil
}

// OnReceive installs the callback invoked for every decoded inbound envelope.
// Only the first installation takes effect.
func (t *Transport) OnReceive(fn func(Envelope)) {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()
	if t.receive != nil {
		t.logger.Warn("receive callback already installed, ignoring")
		return
	}
	t.receive = fn
}

// SendEnvelope writes env as one line. Returns false if no process is attached
// or the write fails; a failed write detaches the transport.
func (t *Transport) SendEnvelope(env Envelope) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.w == nil {
		return false
	}
	if err := EncodeEnvelope(t.w, env); err != nil {
		t.logger.Debug("send failed, detaching", "type", env.Type, "error", err)
		t.w = nil
		return false
	}
	return true
}

// Send builds an envelope from msgType and data and writes it.
func (t *Transport) Send(msgType string, data any) bool {
	if !t.Running() {
		return false
	}
	return t.SendEnvelope(NewEnvelope(msgType, data))
}

// SendEvent sends a one-shot EVENT notification.
func (t *Transport) SendEvent(eventType string, data any) bool {
	return t.Send(TypeEvent, EventData{EventType: eventType, Data: data})
}

// SendResponse sends the RESPONSE for request id.
func (t *Transport) SendResponse(id string, value any, errKind *string) bool {
	return t.Send(TypeResponse, ResponseData{ID: id, Value: value, Error: errKind})
}

// SendStream sends one STREAM_MESSAGE for stream id.
func (t *Transport) SendStream(streamID string, value any, errKind *string) bool {
	return t.Send(TypeStreamMessage, StreamData{StreamID: streamID, Value: value, Error: errKind})
}

// ReadFrom consumes newline-delimited envelopes from r until EOF or a read
// error. Malformed lines are dropped silently.
func (t *Transport) ReadFrom(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		env, err := DecodeEnvelope(scanner.Bytes())
		if err != nil {
			continue
		}
		t.recvMu.RLock()
		fn := t.receive
		t.recvMu.RUnlock()
		if fn != nil {
			fn(env)
		}
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		return err
	}
	return nil
}
