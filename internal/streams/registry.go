package streams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/protocol"
)

// Stream names understood by the bridge. UPDATE_TICKED is cadence driven;
// the ON_* streams fire from host event hooks.
const (
	NameUpdateTicked                = "UPDATE_TICKED"
	NameOnWarped                    = "ON_WARPED"
	NameOnMenuChanged               = "ON_MENU_CHANGED"
	NameOnObjectListChanged         = "ON_OBJECT_LIST_CHANGED"
	NameOnTerrainFeatureListChanged = "ON_TERRAIN_FEATURE_LIST_CHANGED"
)

var (
	ErrUnknownStream   = errors.New("unknown stream")
	ErrDuplicateStream = errors.New("duplicate stream id")
)

// Stream is a caller-registered subscription.
type Stream struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// Ticks returns the cadence interval. Missing or non-positive values mean every tick.
func (s *Stream) Ticks() uint64 {
	switch v := s.Data["ticks"].(type) {
	case float64:
		if v >= 1 && !math.IsInf(v, 0) {
			return uint64(v)
		}
	case int:
		if v >= 1 {
			return uint64(v)
		}
	case int64:
		if v >= 1 {
			return uint64(v)
		}
	case uint64:
		if v >= 1 {
			return v
		}
	}
	return 1
}

// SnapshotType returns which snapshot a cadence stream asks for. Older
// engine builds send it under "state" rather than "type".
func (s *Stream) SnapshotType() string {
	if v, ok := s.Data["type"].(string); ok && v != "" {
		return v
	}
	if v, ok := s.Data["state"].(string); ok {
		return v
	}
	return ""
}

// Emitter delivers STREAM_MESSAGE envelopes.
type Emitter interface {
	SendStream(streamID string, value any, errKind *string) bool
}

// Producer builds the value for a cadence stream.
type Producer func(ctx context.Context, snapshotType string) (any, error)

// Registry maps stream id to Stream. It is written from the host thread only;
// the lock exists so out-of-band readers (admin API) can list it.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Stream
	order []string

	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*Stream),
		logger: log.WithComponent("streams"),
	}
}

// Open registers a stream. An empty id allocates "<name>_<uuid>".
func (r *Registry) Open(name, id string, data map[string]any) (*Stream, error) {
	if name == "" {
		return nil, fmt.Errorf("stream name is empty")
	}
	if id == "" {
		id = fmt.Sprintf("%s_%s", name, uuid.NewString())
	}
	if data == nil {
		data = make(map[string]any)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateStream, id)
	}
	s := &Stream{ID: id, Name: name, Data: data}
	r.byID[id] = s
	r.order = append(r.order, id)
	r.logger.Debug("stream opened", "stream_id", id, "name", name)
	return s, nil
}

// Close removes a stream by id.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStream, id)
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.logger.Debug("stream closed", "stream_id", id)
	return nil
}

// Get returns a copy of the stream with the given id.
func (r *Registry) Get(id string) (Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	if !ok {
		return Stream{}, false
	}
	return *s, true
}

// List returns the registered streams in registration order.
func (r *Registry) List() []Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Stream, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.byID[id])
	}
	return out
}

// Len returns the number of registered streams.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Tick emits a value for every UPDATE_TICKED stream whose interval divides
// tick. Producer failures are delivered to the subscriber, never returned.
func (r *Registry) Tick(ctx context.Context, tick uint64, produce Producer, out Emitter) int {
	sent := 0
	for _, s := range r.named(NameUpdateTicked) {
		if tick%s.Ticks() != 0 {
			continue
		}
		value, errKind := r.produce(ctx, produce, s)
		if out.SendStream(s.ID, value, errKind) {
			sent++
		}
	}
	return sent
}

// Broadcast sends value to every stream registered under name.
func (r *Registry) Broadcast(name string, value any, out Emitter) int {
	sent := 0
	for _, s := range r.named(name) {
		if out.SendStream(s.ID, value, nil) {
			sent++
		}
	}
	return sent
}

func (r *Registry) named(name string) []Stream {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Stream
	for _, id := range r.order {
		if s := r.byID[id]; s.Name == name {
			out = append(out, *s)
		}
	}
	return out
}

func (r *Registry) produce(ctx context.Context, produce Producer, s Stream) (value any, errKind *string) {
	defer func() {
		if rec := recover(); rec != nil {
			value = fmt.Sprintf("panic: %v\n%s", rec, debug.Stack())
			errKind = protocol.ErrorKind(protocol.ErrKindStreamException)
		}
	}()
	v, err := produce(ctx, s.SnapshotType())
	if err != nil {
		log.WithStream(s.ID).Debug("stream producer failed", "error", err)
		return err.Error(), protocol.ErrorKind(protocol.ErrKindStreamException)
	}
	return v, nil
}
