package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/mattjoyce/voxbridge/internal/events"
	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/protocol"
	"github.com/mattjoyce/voxbridge/internal/queue"
	"github.com/mattjoyce/voxbridge/internal/session"
)

// Phase names a point in the host's per-frame update loop.
type Phase string

const (
	PhaseTicking     Phase = "UpdateTicking"
	PhaseTicked      Phase = "UpdateTicked"
	PhaseUnvalidated Phase = "UnvalidatedUpdateTicked"
)

// Validated reports whether handlers may run unrestricted in p.
func (p Phase) Validated() bool { return p != PhaseUnvalidated }

// Request types the dispatcher knows about itself.
const (
	TypeLog          = protocol.TypeLog
	TypeRequestBatch = "REQUEST_BATCH"
)

// DefaultBudget is the per-phase drain budget.
const DefaultBudget = 5 * time.Millisecond

// DefaultUnvalidatedAllow lists the request types that may execute while
// the host's state mutation has not been validated yet.
var DefaultUnvalidatedAllow = []string{
	"HEARTBEAT",
	TypeRequestBatch,
	"NEW_STREAM",
	"STOP_STREAM",
	"GET_ACTIVE_MENU",
	"GET_MOUSE_POSITION",
	"SET_MOUSE_POSITION",
	"SET_MOUSE_POSITION_RELATIVE",
	"MOUSE_CLICK",
	"UPDATE_HELD_BUTTONS",
	"RELEASE_ALL_KEYS",
	"PRESS_KEY",
}

var (
	ErrUnsafeRequest  = errors.New("request type not allowed in unvalidated phase")
	ErrUnknownRequest = errors.New("no handler registered for request type")
)

// Responder sends the single RESPONSE for a request.
type Responder interface {
	SendResponse(id string, value any, errKind *string) bool
}

// Options tunes a Dispatcher. Zero values fall back to defaults.
type Options struct {
	Budget           time.Duration
	UnvalidatedAllow []string
	// TickingRequests are drained in the UpdateTicking phase; everything
	// else waits for UpdateTicked.
	TickingRequests []string
	Hub             *events.Hub
}

// Dispatcher routes inbound envelopes into the session queues and drains
// them on the host thread.
type Dispatcher struct {
	reg      *Registry
	out      Responder
	sessions session.Holder
	hub      *events.Hub
	budget   time.Duration
	allow    map[string]bool
	ticking  map[string]bool
	logger   *slog.Logger
}

// New creates a dispatcher.
func New(reg *Registry, out Responder, sessions session.Holder, opts Options) *Dispatcher {
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	allowList := opts.UnvalidatedAllow
	if allowList == nil {
		allowList = DefaultUnvalidatedAllow
	}
	return &Dispatcher{
		reg:      reg,
		out:      out,
		sessions: sessions,
		hub:      opts.Hub,
		budget:   opts.Budget,
		allow:    toSet(allowList),
		ticking:  toSet(opts.TickingRequests),
		logger:   log.WithComponent("dispatch"),
	}
}

// Budget returns the default per-phase drain budget.
func (d *Dispatcher) Budget() time.Duration { return d.budget }

// Receive is the transport receive callback. It may run on any goroutine.
// LOG envelopes go straight to the bridge log; everything else is queued.
func (d *Dispatcher) Receive(env protocol.Envelope) {
	if env.Type == TypeLog {
		d.logEngine(env)
		return
	}
	s := d.sessions.Session()
	if s == nil {
		d.logger.Debug("no session, dropping request", "type", env.Type, "id", env.ID)
		return
	}
	if d.ticking[env.Type] {
		s.Ticking.Enqueue(env)
		return
	}
	s.Ticked.Enqueue(env)
}

func (d *Dispatcher) logEngine(env protocol.Envelope) {
	entry := protocol.DecodeLog(env)
	msg := entry.Value
	engine := log.WithComponent("engine")
	switch log.ParseLevel(entry.Level) {
	case slog.LevelDebug:
		engine.Debug(msg)
	case slog.LevelWarn:
		engine.Warn(msg)
	case slog.LevelError:
		engine.Error(msg)
	default:
		engine.Info(msg)
	}
}

// Drain processes the phase queue under the dispatcher's default budget.
func (d *Dispatcher) Drain(ctx context.Context, phase Phase) int {
	return d.DrainBudget(ctx, phase, d.budget)
}

// DrainBudget pops and handles requests for phase until the queue is empty
// or the elapsed time reaches budget. A non-empty queue always yields at
// least one handled request. Returns the number handled.
func (d *Dispatcher) DrainBudget(ctx context.Context, phase Phase, budget time.Duration) int {
	s := d.sessions.Session()
	if s == nil {
		return 0
	}
	q := d.queueFor(s, phase)
	start := time.Now()
	handled := 0
	for {
		env, ok := q.Dequeue()
		if !ok {
			return handled
		}
		d.Handle(ctx, phase, s, env)
		handled++
		if time.Since(start) >= budget || ctx.Err() != nil {
			return handled
		}
	}
}

func (d *Dispatcher) queueFor(s *session.Session, phase Phase) *queue.Queue {
	if phase == PhaseTicking {
		return s.Ticking
	}
	return s.Ticked
}

// Handle executes one envelope and sends its RESPONSE.
func (d *Dispatcher) Handle(ctx context.Context, phase Phase, s *session.Session, env protocol.Envelope) {
	value, errKind := d.Execute(ctx, &Request{Envelope: env, Phase: phase, Session: s})
	d.Respond(env, value, errKind)
}

// Respond sends exactly one RESPONSE correlated by env.ID.
func (d *Dispatcher) Respond(env protocol.Envelope, value any, errKind *string) {
	if errKind != nil {
		d.hub.Publish(events.TopicRequestFailed, map[string]any{
			"id":    env.ID,
			"type":  env.Type,
			"error": *errKind,
			"value": value,
		})
	}
	if d.out == nil {
		return
	}
	if !d.out.SendResponse(env.ID, value, errKind) {
		log.WithRequest(env.ID, env.Type).Debug("response dropped, engine not running")
	}
}

// Execute runs the handler for req and returns the response value and error
// kind. Failures never escape: errors, panics, unknown and unsafe types all
// become a diagnostic value with a non-nil kind.
func (d *Dispatcher) Execute(ctx context.Context, req *Request) (value any, errKind *string) {
	logger := log.WithRequest(req.ID, req.Type)

	if !req.Phase.Validated() && !d.allow[req.Type] {
		logger.Debug("refused unsafe request", "phase", string(req.Phase))
		return fmt.Sprintf("%s: %s", ErrUnsafeRequest, req.Type), protocol.ErrorKind(protocol.ErrKindUnsafeRequest)
	}

	if req.Type == TypeRequestBatch {
		return d.executeBatch(ctx, req)
	}

	h, ok := d.reg.Lookup(req.Type)
	if !ok {
		logger.Debug("unknown request type")
		return fmt.Sprintf("%s: %s", ErrUnknownRequest, req.Type), protocol.ErrorKind(protocol.ErrKindUnknownRequest)
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("request handler panicked", "panic", r)
			value = fmt.Sprintf("panic: %v\n%s", r, debug.Stack())
			errKind = protocol.ErrorKind(protocol.ErrKindPanic)
		}
	}()

	v, err := h(ctx, req)
	if err != nil {
		logger.Debug("request handler failed", "error", err)
		return fmt.Sprintf("%+v", err), protocol.ErrorKind(protocol.ErrKindStackTrace)
	}
	return v, nil
}

// BatchItem is one sub-request inside REQUEST_BATCH.
type BatchItem struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// BatchResult is one sub-response inside a REQUEST_BATCH response value.
type BatchResult struct {
	Value any     `json:"value"`
	Error *string `json:"error"`
}

func (d *Dispatcher) executeBatch(ctx context.Context, req *Request) (any, *string) {
	items, err := protocol.DecodeData[[]BatchItem](req.Envelope)
	if err != nil {
		return fmt.Sprintf("decode batch: %v", err), protocol.ErrorKind(protocol.ErrKindStackTrace)
	}
	results := make([]BatchResult, 0, len(items))
	for _, item := range items {
		sub := &Request{
			Envelope: protocol.Envelope{Type: item.Type, Data: item.Data, ID: req.ID},
			Phase:    req.Phase,
			Session:  req.Session,
		}
		if item.Type == TypeRequestBatch {
			results = append(results, BatchResult{
				Value: "nested REQUEST_BATCH is not supported",
				Error: protocol.ErrorKind(protocol.ErrKindUnknownRequest),
			})
			continue
		}
		v, kind := d.Execute(ctx, sub)
		results = append(results, BatchResult{Value: v, Error: kind})
	}
	return results, nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}
