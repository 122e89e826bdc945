package host

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mattjoyce/voxbridge/internal/log"
)

// DefaultTickRate matches a 60 frames per second host.
const DefaultTickRate = time.Second / 60

var ErrLoopStopped = errors.New("host loop stopped")

// State is what the loop needs to know about the host each frame.
type State interface {
	// ValidatedSuspended reports whether the host is skipping its validated
	// update phases this frame.
	ValidatedSuspended() bool
}

// Loop drives the integrator at a fixed frame rate on a single goroutine,
// which plays the role of the host thread. Work from other goroutines that
// touches host state is posted onto it.
type Loop struct {
	integ  *Integrator
	state  State
	rate   time.Duration
	posts  chan func()
	tick   atomic.Uint64
	done   chan struct{}
	logger *slog.Logger
}

func NewLoop(integ *Integrator, state State, rate time.Duration) *Loop {
	if rate <= 0 {
		rate = DefaultTickRate
	}
	return &Loop{
		integ:  integ,
		state:  state,
		rate:   rate,
		posts:  make(chan func(), 256),
		done:   make(chan struct{}),
		logger: log.WithComponent("host-loop"),
	}
}

// Tick returns the number of frames run so far.
func (l *Loop) Tick() uint64 { return l.tick.Load() }

// Run executes frames until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	l.logger.Info("host loop started", "rate", l.rate.String())

	ticker := time.NewTicker(l.rate)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Frame(ctx)
		case <-ctx.Done():
			l.logger.Info("host loop stopped", "ticks", l.Tick())
			return nil
		}
	}
}

// Frame runs posted work and then one pass through the phases. While the
// host suspends its validated loop only the unvalidated phase runs.
func (l *Loop) Frame(ctx context.Context) {
	l.runPosted()
	tick := l.tick.Add(1)
	suspended := l.state != nil && l.state.ValidatedSuspended()
	if !suspended {
		l.integ.UpdateTicking(ctx, tick)
	}
	l.integ.UnvalidatedUpdateTicked(ctx, tick, suspended)
	if !suspended {
		l.integ.UpdateTicked(ctx, tick)
	}
}

func (l *Loop) runPosted() {
	for {
		select {
		case fn := <-l.posts:
			fn()
		default:
			return
		}
	}
}

// Post schedules fn to run at the start of the next frame.
func (l *Loop) Post(ctx context.Context, fn func()) error {
	select {
	case l.posts <- fn:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do runs fn on the host thread and waits for it to finish.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if err := l.Post(ctx, func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
