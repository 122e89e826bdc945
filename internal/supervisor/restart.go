package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/mattjoyce/voxbridge/internal/events"
)

// DefaultRestartDelay is the wait between an unexpected exit and relaunch.
const DefaultRestartDelay = 5 * time.Second

const (
	MsgRestarting = "Restarting speech recognition..."
	MsgStopped    = "Stopped speech recognition"
)

// Notifier shows a transient message to the player.
type Notifier interface {
	Notify(msg string)
}

// RestartPolicy relaunches the engine after every exit unless the last user
// action was Stop.
type RestartPolicy struct {
	sup      *Supervisor
	delay    time.Duration
	notifier Notifier
	hub      *events.Hub

	mu      sync.Mutex
	enabled bool
	timer   *time.Timer
	ctx     context.Context
}

// NewRestartPolicy creates an enabled policy. Call Attach to hook it up as
// the supervisor's exit handler.
func NewRestartPolicy(ctx context.Context, delay time.Duration, notifier Notifier, hub *events.Hub) *RestartPolicy {
	if delay < 0 {
		delay = DefaultRestartDelay
	}
	return &RestartPolicy{ctx: ctx, delay: delay, notifier: notifier, hub: hub, enabled: true}
}

// Attach binds the policy to sup.
func (p *RestartPolicy) Attach(sup *Supervisor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sup = sup
}

// Enabled reports whether exits are followed by a relaunch.
func (p *RestartPolicy) Enabled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.enabled
}

// Disable turns relaunching off without touching a running engine.
func (p *RestartPolicy) Disable() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = false
}

// OnExit is the supervisor exit callback.
func (p *RestartPolicy) OnExit(info ExitInfo) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.enabled || p.ctx.Err() != nil {
		p.notify(MsgStopped)
		p.hub.Publish(events.TopicEngineStopped, info)
		return
	}
	// Restart already launched a new run after this exit was published.
	if p.sup.Running() {
		p.sup.logger.Debug("speech engine already relaunched", "run_id", info.RunID)
		return
	}
	p.notify(MsgRestarting)
	p.hub.Publish(events.TopicEngineRestarting, map[string]any{"run_id": info.RunID, "delay": p.delay.String()})
	p.sup.logger.Debug("speech engine exited, relaunching", "delay", p.delay)

	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.delay, p.relaunch)
}

func (p *RestartPolicy) relaunch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timer = nil
	if !p.enabled || p.ctx.Err() != nil || p.sup == nil || p.sup.Running() {
		return
	}
	if err := p.sup.Launch(p.ctx); err != nil {
		p.sup.logger.Error("relaunch failed", "error", err)
	}
}

// Restart re-enables restarts. A running engine is killed (and relaunched by
// the exit handler); a stopped one is launched now. Launch decisions are made
// under the policy lock so an exit handler racing with Restart never starts
// a second run.
func (p *RestartPolicy) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = true

	if p.sup.Running() {
		p.sup.Terminate()
		return nil
	}
	if p.timer != nil {
		return nil
	}
	return p.sup.Launch(p.ctx)
}

// Stop disables restarts and kills the engine.
func (p *RestartPolicy) Stop() {
	p.mu.Lock()
	p.enabled = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	sup := p.sup
	p.mu.Unlock()
	sup.Terminate()
}

func (p *RestartPolicy) notify(msg string) {
	if p.notifier != nil {
		p.notifier.Notify(msg)
	}
}
