// Package supervisor launches the speech engine process, wires its standard
// streams to the transport and reacts to its exit.
//
// The supervisor owns the current session. Every exit swaps in a fresh
// session so stream subscriptions, queued requests and held input of the
// dead run are dropped together.
package supervisor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mattjoyce/voxbridge/internal/events"
	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/protocol"
	"github.com/mattjoyce/voxbridge/internal/session"
)

// State of the supervised process.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateExited
	StateKilled
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateKilled:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var ErrAlreadyRunning = errors.New("speech engine already running")

// RunRecorder persists run history.
type RunRecorder interface {
	RecordStart(ctx context.Context, runID string, pid int, spec Spec, startedAt time.Time) error
	RecordExit(ctx context.Context, info ExitInfo, endedAt time.Time) error
}

// Options configures a Supervisor.
type Options struct {
	// OnExit runs after the session has been replaced. It owns releasing
	// ExitInfo.Released on the host device.
	OnExit func(ExitInfo)
	Runs   RunRecorder
	Hub    *events.Hub
}

// Supervisor manages exactly one engine process at a time.
type Supervisor struct {
	spec      Spec
	spawner   Spawner
	transport *protocol.Transport
	opts      Options
	logger    *slog.Logger

	state   atomic.Int32
	current atomic.Pointer[session.Session]

	mu        sync.Mutex
	proc      Process
	runID     string
	startedAt time.Time
	killed    bool
}

// New creates a supervisor in the Stopped state with an empty session.
func New(spec Spec, spawner Spawner, transport *protocol.Transport, opts Options) *Supervisor {
	s := &Supervisor{
		spec:      spec,
		spawner:   spawner,
		transport: transport,
		opts:      opts,
		logger:    log.WithComponent("supervisor"),
	}
	s.current.Store(session.New())
	return s
}

// Session returns the session of the current run.
func (s *Supervisor) Session() *session.Session {
	return s.current.Load()
}

// State returns the current process state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Running reports whether a process is live.
func (s *Supervisor) Running() bool {
	return s.State() == StateRunning
}

// Launch spawns the engine. Spawn failures are returned to the caller and
// never retried here.
func (s *Supervisor) Launch(ctx context.Context) error {
	s.mu.Lock()
	if s.proc != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state.Store(int32(StateStarting))

	proc, err := s.spawner.Spawn(ctx, s.spec)
	if err != nil {
		s.state.Store(int32(StateStopped))
		s.mu.Unlock()
		s.logger.Error("failed to launch speech engine", "executable", s.spec.Executable, "error", err)
		return fmt.Errorf("launch speech engine: %w", err)
	}

	runID := uuid.NewString()
	s.proc = proc
	s.runID = runID
	s.startedAt = time.Now().UTC()
	s.killed = false
	s.transport.Attach(proc.Stdin())
	s.state.Store(int32(StateRunning))
	startedAt := s.startedAt
	s.mu.Unlock()

	s.logger.Info("speech engine launched", "run_id", runID, "pid", proc.PID(), "executable", s.spec.Executable)
	if s.opts.Runs != nil {
		if err := s.opts.Runs.RecordStart(ctx, runID, proc.PID(), s.spec, startedAt); err != nil {
			s.logger.Warn("failed to record run start", "run_id", runID, "error", err)
		}
	}
	s.opts.Hub.Publish(events.TopicEngineLaunched, map[string]any{"run_id": runID, "pid": proc.PID()})

	var readers sync.WaitGroup
	readers.Add(2)
	go func() {
		defer readers.Done()
		if err := s.transport.ReadFrom(proc.Stdout()); err != nil {
			s.logger.Debug("engine stdout closed", "run_id", runID, "error", err)
		}
	}()
	go func() {
		defer readers.Done()
		s.logStderr(runID, proc.Stderr())
	}()
	go func() {
		readers.Wait()
		code, waitErr := proc.Wait()
		s.handleExit(proc, code, waitErr)
	}()
	return nil
}

func (s *Supervisor) logStderr(runID string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		s.logger.Error("speech engine error", "run_id", runID, "line", scanner.Text())
	}
}

func (s *Supervisor) handleExit(proc Process, code int, waitErr error) {
	s.mu.Lock()
	if s.proc != proc {
		s.mu.Unlock()
		return
	}
	info := ExitInfo{
		RunID:    s.runID,
		PID:      proc.PID(),
		Code:     code,
		Killed:   s.killed,
		Duration: time.Since(s.startedAt),
	}
	if waitErr != nil {
		info.Err = waitErr.Error()
	}
	s.transport.Detach()
	s.proc = nil
	if info.Killed {
		s.state.Store(int32(StateKilled))
	} else {
		s.state.Store(int32(StateExited))
	}
	old := s.current.Swap(session.New())
	info.Released = old.Held.ReleaseAll()
	s.mu.Unlock()

	s.logger.Info("speech engine exited", "run_id", info.RunID, "code", info.Code, "killed", info.Killed)
	if s.opts.Runs != nil {
		if err := s.opts.Runs.RecordExit(context.Background(), info, time.Now().UTC()); err != nil {
			s.logger.Warn("failed to record run exit", "run_id", info.RunID, "error", err)
		}
	}
	s.opts.Hub.Publish(events.TopicEngineExited, info)

	if s.opts.OnExit != nil {
		s.opts.OnExit(info)
	}
	s.state.CompareAndSwap(int32(StateKilled), int32(StateStopped))
	s.state.CompareAndSwap(int32(StateExited), int32(StateStopped))
}

// Terminate force-kills the running process. Killing a process that has
// already exited is not an error.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	proc := s.proc
	if proc != nil {
		s.killed = true
	}
	s.mu.Unlock()
	if proc == nil {
		return
	}
	if err := proc.Kill(); err != nil {
		s.logger.Debug("kill speech engine", "error", err)
	}
}
