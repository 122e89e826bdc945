// Package host glues the bridge into the host's per-frame update loop.
//
// The Integrator is called once per loop phase on the host thread. It drains
// the dispatcher queues, re-asserts held input, advances cadence streams and
// turns host lifecycle events into one-shot EVENT and STREAM_MESSAGE
// envelopes for the speech engine.
package host

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mattjoyce/voxbridge/internal/dispatch"
	"github.com/mattjoyce/voxbridge/internal/events"
	"github.com/mattjoyce/voxbridge/internal/input"
	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/session"
	"github.com/mattjoyce/voxbridge/internal/streams"
)

// Event types sent to the speech engine.
const (
	EventSaveLoaded                = "SAVE_LOADED"
	EventTerrainFeatureListChanged = "TERRAIN_FEATURE_LIST_CHANGED"
	EventSpeechMimicked            = "SPEECH_MIMICKED"
)

// Outbound is the subset of the transport the integrator writes to.
type Outbound interface {
	SendEvent(eventType string, data any) bool
	SendStream(streamID string, value any, errKind *string) bool
}

// Drainer drains one phase queue under its budget.
type Drainer interface {
	Drain(ctx context.Context, phase dispatch.Phase) int
}

// Topology is the part of the navigation graph the integrator invalidates.
type Topology interface {
	Invalidate()
	Reset()
}

// Notifier shows a transient message to the player.
type Notifier interface {
	Notify(msg string)
}

// IntegratorConfig wires an Integrator.
type IntegratorConfig struct {
	Dispatcher Drainer
	Sessions   session.Holder
	Out        Outbound
	Graph      Topology
	Input      input.Device
	Produce    streams.Producer
	Notifier   Notifier
	Hub        *events.Hub
}

// Integrator implements the per-phase host hooks.
type Integrator struct {
	cfg    IntegratorConfig
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	queued string
}

func NewIntegrator(cfg IntegratorConfig) *Integrator {
	return &Integrator{cfg: cfg, logger: log.WithComponent("host")}
}

// UpdateTicking runs before the host updates its state.
func (i *Integrator) UpdateTicking(ctx context.Context, tick uint64) {
	i.cfg.Dispatcher.Drain(ctx, dispatch.PhaseTicking)
	s := i.cfg.Sessions.Session()
	if s == nil || i.cfg.Input == nil {
		return
	}
	for _, b := range s.Held.Buttons() {
		i.cfg.Input.SetDown(b)
	}
}

// ReleaseButtons lifts buttons a finished engine run left held down.
func (i *Integrator) ReleaseButtons(buttons []string) {
	if i.cfg.Input == nil || len(buttons) == 0 {
		return
	}
	for _, b := range buttons {
		i.cfg.Input.SetUp(b)
	}
	i.logger.Debug("released held buttons", "buttons", buttons)
}

// UnvalidatedUpdateTicked runs even while the host's validated phases are
// suspended (for example during the end-of-day shipping screen). Requests
// are only drained here in that situation, under the allow-list.
func (i *Integrator) UnvalidatedUpdateTicked(ctx context.Context, tick uint64, validatedSuspended bool) {
	if !validatedSuspended {
		return
	}
	i.cfg.Dispatcher.Drain(ctx, dispatch.PhaseUnvalidated)
}

// UpdateTicked runs after the host updated its state.
func (i *Integrator) UpdateTicked(ctx context.Context, tick uint64) {
	i.cfg.Dispatcher.Drain(ctx, dispatch.PhaseTicked)
	s := i.cfg.Sessions.Session()
	if s == nil || i.cfg.Produce == nil {
		return
	}
	s.Streams.Tick(ctx, tick, i.cfg.Produce, i.cfg.Out)
}

// SaveLoaded rebuilds the navigation graph, tells the engine and shows any
// notification that arrived before a save was loaded.
func (i *Integrator) SaveLoaded() {
	if i.cfg.Graph != nil {
		i.cfg.Graph.Reset()
	}
	i.cfg.Out.SendEvent(EventSaveLoaded, nil)
	i.cfg.Hub.Publish(events.TopicHostEvent, map[string]any{"event": EventSaveLoaded})

	i.mu.Lock()
	i.loaded = true
	msg := i.queued
	i.queued = ""
	i.mu.Unlock()
	if msg != "" {
		i.notify(msg)
	}
}

// LocationListChanged marks the navigation graph stale.
func (i *Integrator) LocationListChanged() {
	if i.cfg.Graph != nil {
		i.cfg.Graph.Invalidate()
	}
	i.cfg.Hub.Publish(events.TopicHostEvent, map[string]any{"event": "LOCATION_LIST_CHANGED"})
}

// WarpEvent is the ON_WARPED stream value.
type WarpEvent struct {
	Timestamp   int64  `json:"timestamp"`
	OldLocation string `json:"oldLocation"`
	NewLocation string `json:"newLocation"`
}

// Warped reports the player moving between locations.
func (i *Integrator) Warped(oldLocation, newLocation string) {
	ev := WarpEvent{
		Timestamp:   time.Now().UnixMilli(),
		OldLocation: oldLocation,
		NewLocation: newLocation,
	}
	i.broadcast(streams.NameOnWarped, ev)
}

// MenuChanged reports the active menu changing. Either side may be nil.
func (i *Integrator) MenuChanged(oldMenu, newMenu *Menu) {
	i.broadcast(streams.NameOnMenuChanged, map[string]any{
		"oldMenu": oldMenu,
		"newMenu": newMenu,
	})
}

// ObjectListChanged reports objects added or removed in a location.
func (i *Integrator) ObjectListChanged(location string) {
	i.broadcast(streams.NameOnObjectListChanged, map[string]any{"location": location})
}

// TerrainFeatureListChanged reports terrain features removed from a location.
func (i *Integrator) TerrainFeatureListChanged(location string, removed []Tile) {
	entries := make([]map[string]any, 0, len(removed))
	for _, t := range removed {
		entries = append(entries, map[string]any{"currentTileLocation": t})
	}
	value := map[string]any{"location": location, "removed": entries}
	i.cfg.Out.SendEvent(EventTerrainFeatureListChanged, value)
	i.broadcast(streams.NameOnTerrainFeatureListChanged, value)
}

// MimicSpeech asks the engine to act as if the phrase had been recognised.
func (i *Integrator) MimicSpeech(said string) bool {
	return i.cfg.Out.SendEvent(EventSpeechMimicked, map[string]any{"said": said})
}

// Notify shows msg now, or after the next save load if none is loaded yet.
// Only the latest pending message is kept.
func (i *Integrator) Notify(msg string) {
	i.mu.Lock()
	if !i.loaded {
		i.queued = msg
		i.mu.Unlock()
		return
	}
	i.mu.Unlock()
	i.notify(msg)
}

func (i *Integrator) notify(msg string) {
	i.cfg.Hub.Publish(events.TopicNotification, map[string]any{"message": msg})
	if i.cfg.Notifier != nil {
		i.cfg.Notifier.Notify(msg)
	}
}

func (i *Integrator) broadcast(name string, value any) {
	i.cfg.Hub.Publish(events.TopicHostEvent, map[string]any{"stream": name, "value": value})
	s := i.cfg.Sessions.Session()
	if s == nil {
		return
	}
	if n := s.Streams.Broadcast(name, value, i.cfg.Out); n > 0 {
		i.logger.Debug("host event streamed", "stream", name, "subscribers", n)
	}
}
