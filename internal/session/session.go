// Package session holds the per-run automation state shared between the
// dispatcher, the stream manager and the host integrator. A Session lives
// exactly as long as one engine process; on exit the supervisor swaps in a
// fresh one instead of mutating the old one, which drops every queued
// request, stream subscription and held button of the dead run.
package session

import (
	"time"

	"github.com/mattjoyce/voxbridge/internal/input"
	"github.com/mattjoyce/voxbridge/internal/queue"
	"github.com/mattjoyce/voxbridge/internal/streams"
)

// Session is the state owned by one engine run.
type Session struct {
	// Ticking holds requests drained in the UpdateTicking phase.
	Ticking *queue.Queue
	// Ticked holds requests drained in the UpdateTicked and unvalidated phases.
	Ticked *queue.Queue

	Streams   *streams.Registry
	Held      *input.Held
	CreatedAt time.Time
}

// New returns an empty session.
func New() *Session {
	return &Session{
		Ticking:   queue.New(),
		Ticked:    queue.New(),
		Streams:   streams.NewRegistry(),
		Held:      input.NewHeld(),
		CreatedAt: time.Now().UTC(),
	}
}

// Holder publishes the current session. Readers on any goroutine see either
// the old session or the new one, never a mix.
type Holder interface {
	Session() *Session
}
