package supervisor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/voxbridge/internal/events"
	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/protocol"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type nopWriteCloser struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *nopWriteCloser) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}
func (w *nopWriteCloser) Close() error { return nil }

type fakeProcess struct {
	pid     int
	stdin   *nopWriteCloser
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	once sync.Once
	code int
}

func newFakeProcess(pid int) *fakeProcess {
	p := &fakeProcess{pid: pid, stdin: &nopWriteCloser{}}
	p.stdoutR, p.stdoutW = io.Pipe()
	p.stderrR, p.stderrW = io.Pipe()
	return p
}

func (p *fakeProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *fakeProcess) Stdout() io.Reader     { return p.stdoutR }
func (p *fakeProcess) Stderr() io.Reader     { return p.stderrR }
func (p *fakeProcess) PID() int              { return p.pid }
func (p *fakeProcess) Kill() error           { p.exit(-1); return nil }
func (p *fakeProcess) Wait() (int, error)    { return p.code, nil }

// exit simulates the process ending; closing the pipes unblocks the readers.
func (p *fakeProcess) exit(code int) {
	p.once.Do(func() {
		p.code = code
		_ = p.stdoutW.Close()
		_ = p.stderrW.Close()
	})
}

type fakeSpawner struct {
	mu    sync.Mutex
	procs []*fakeProcess
	err   error
}

func (s *fakeSpawner) Spawn(ctx context.Context, spec Spec) (Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	p := newFakeProcess(100 + len(s.procs))
	s.procs = append(s.procs, p)
	return p, nil
}

func (s *fakeSpawner) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.procs)
}

func (s *fakeSpawner) last() *fakeProcess {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procs[len(s.procs)-1]
}

type notes struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notes) Notify(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *notes) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

type memRuns struct {
	mu     sync.Mutex
	starts []string
	exits  []ExitInfo
}

func (r *memRuns) RecordStart(ctx context.Context, runID string, pid int, spec Spec, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, runID)
	return nil
}

func (r *memRuns) RecordExit(ctx context.Context, info ExitInfo, endedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, info)
	return nil
}

func TestNewSpec(t *testing.T) {
	spec := NewSpec("/opt/mod", "", "", "", nil)
	assert.Equal(t, "/opt/mod/lib/speech-client/dist/speech-client", spec.Executable)
	assert.Equal(t, []string{"--python_root", "/opt/mod/lib/speech-client/dist"}, spec.Args)
	assert.Equal(t, "/opt/mod", spec.Dir)

	dbg := NewSpec("/opt/mod", "/usr/bin/python3", "/src/client", "/src/client/main.py", []string{"--verbose"})
	assert.Equal(t, "/usr/bin/python3", dbg.Executable)
	assert.Equal(t, []string{"/src/client/main.py", "--python_root", "/src/client", "--verbose"}, dbg.Args)
}

func TestSupervisor_LaunchWiresTransport(t *testing.T) {
	spawner := &fakeSpawner{}
	tr := protocol.NewTransport()
	received := make(chan protocol.Envelope, 1)
	tr.OnReceive(func(env protocol.Envelope) { received <- env })

	runs := &memRuns{}
	sup := New(Spec{Executable: "engine"}, spawner, tr, Options{Runs: runs})
	require.NoError(t, sup.Launch(context.Background()))
	assert.Equal(t, StateRunning, sup.State())
	assert.True(t, tr.Running())
	assert.ErrorIs(t, sup.Launch(context.Background()), ErrAlreadyRunning)

	proc := spawner.last()
	_, err := proc.stdoutW.Write([]byte(`{"type":"HEARTBEAT","id":"1","data":null}` + "\n"))
	require.NoError(t, err)

	select {
	case env := <-received:
		assert.Equal(t, "HEARTBEAT", env.Type)
	case <-time.After(time.Second):
		t.Fatal("envelope not delivered")
	}

	assert.True(t, tr.SendEvent("SAVE_LOADED", nil))
	assert.Contains(t, proc.stdin.buf.String(), `"SAVE_LOADED"`)

	sup.Terminate()
	require.Eventually(t, func() bool { return sup.State() == StateStopped }, time.Second, 5*time.Millisecond)
	assert.False(t, tr.Running())

	runs.mu.Lock()
	defer runs.mu.Unlock()
	require.Len(t, runs.starts, 1)
	require.Len(t, runs.exits, 1)
	assert.True(t, runs.exits[0].Killed)
	assert.Equal(t, runs.starts[0], runs.exits[0].RunID)
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	spawner := &fakeSpawner{err: errors.New("exec: not found")}
	sup := New(Spec{Executable: "missing"}, spawner, protocol.NewTransport(), Options{})

	err := sup.Launch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.Equal(t, StateStopped, sup.State())
}

func TestSupervisor_TerminateWhenStopped(t *testing.T) {
	sup := New(Spec{}, &fakeSpawner{}, protocol.NewTransport(), Options{})
	assert.NotPanics(t, sup.Terminate)
}

func TestSupervisor_ExitRelaunchesOnceWithEmptySession(t *testing.T) {
	spawner := &fakeSpawner{}
	tr := protocol.NewTransport()
	note := &notes{}
	hub := events.NewHub(32)

	policy := NewRestartPolicy(context.Background(), 20*time.Millisecond, note, hub)
	sup := New(Spec{Executable: "engine"}, spawner, tr, Options{OnExit: policy.OnExit, Hub: hub})
	policy.Attach(sup)

	require.NoError(t, sup.Launch(context.Background()))
	first := sup.Session()
	_, err := first.Streams.Open("UPDATE_TICKED", "s1", map[string]any{"ticks": 1})
	require.NoError(t, err)
	first.Held.Update([]string{"W"}, nil)

	spawner.last().exit(1)

	require.Eventually(t, func() bool { return spawner.count() == 2 && sup.Running() }, time.Second, 5*time.Millisecond)
	// No further launches after the single relaunch.
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 2, spawner.count())

	s := sup.Session()
	assert.NotSame(t, first, s)
	assert.Equal(t, 0, s.Streams.Len())
	assert.Empty(t, s.Held.Buttons())
	assert.Equal(t, []string{MsgRestarting}, note.all())

	topics := map[string]int{}
	for _, ev := range hub.SnapshotSince(0) {
		topics[ev.Type]++
	}
	assert.Equal(t, 2, topics[events.TopicEngineLaunched])
	assert.Equal(t, 1, topics[events.TopicEngineExited])
	assert.Equal(t, 1, topics[events.TopicEngineRestarting])
}

func TestSupervisor_ExitReportsHeldButtons(t *testing.T) {
	spawner := &fakeSpawner{}
	exits := make(chan ExitInfo, 1)
	sup := New(Spec{}, spawner, protocol.NewTransport(), Options{OnExit: func(info ExitInfo) { exits <- info }})

	require.NoError(t, sup.Launch(context.Background()))
	sup.Session().Held.Update([]string{"W", "A"}, nil)
	spawner.last().exit(0)

	select {
	case info := <-exits:
		assert.Equal(t, []string{"A", "W"}, info.Released)
	case <-time.After(time.Second):
		t.Fatal("exit not reported")
	}
	assert.Empty(t, sup.Session().Held.Buttons())
}

func TestRestartPolicy_StopDisablesRelaunch(t *testing.T) {
	spawner := &fakeSpawner{}
	note := &notes{}
	policy := NewRestartPolicy(context.Background(), 10*time.Millisecond, note, nil)
	sup := New(Spec{}, spawner, protocol.NewTransport(), Options{OnExit: policy.OnExit})
	policy.Attach(sup)

	require.NoError(t, sup.Launch(context.Background()))
	policy.Stop()

	require.Eventually(t, func() bool { return sup.State() == StateStopped }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 1, spawner.count())
	assert.False(t, policy.Enabled())
	assert.Equal(t, []string{MsgStopped}, note.all())

	// Restart re-enables and launches immediately when nothing is running.
	require.NoError(t, policy.Restart())
	assert.Equal(t, 2, spawner.count())
	assert.True(t, sup.Running())
}

func TestRestartPolicy_RestartKillsRunningEngine(t *testing.T) {
	spawner := &fakeSpawner{}
	policy := NewRestartPolicy(context.Background(), time.Millisecond, nil, nil)
	sup := New(Spec{}, spawner, protocol.NewTransport(), Options{OnExit: policy.OnExit})
	policy.Attach(sup)

	require.NoError(t, sup.Launch(context.Background()))
	require.NoError(t, policy.Restart())

	require.Eventually(t, func() bool { return spawner.count() == 2 && sup.Running() }, time.Second, 5*time.Millisecond)
}

func TestRestartPolicy_RestartDuringExitLaunchesOnce(t *testing.T) {
	spawner := &fakeSpawner{}
	hub := events.NewHub(32)
	policy := NewRestartPolicy(context.Background(), 10*time.Millisecond, nil, hub)
	restartErr := make(chan error, 1)
	sup := New(Spec{}, spawner, protocol.NewTransport(), Options{
		Hub: hub,
		// Restart lands after the exit is published but before the policy
		// hears about it.
		OnExit: func(info ExitInfo) {
			restartErr <- policy.Restart()
			policy.OnExit(info)
		},
	})
	policy.Attach(sup)

	require.NoError(t, sup.Launch(context.Background()))
	spawner.last().exit(1)

	select {
	case err := <-restartErr:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("exit handler did not run")
	}
	require.Eventually(t, func() bool { return spawner.count() == 2 && sup.Running() }, time.Second, 5*time.Millisecond)

	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, 2, spawner.count())
	assert.True(t, sup.Running())

	policy.mu.Lock()
	assert.Nil(t, policy.timer)
	policy.mu.Unlock()
	for _, ev := range hub.SnapshotSince(0) {
		assert.NotEqual(t, events.TopicEngineRestarting, ev.Type)
	}
}

func TestRestartPolicy_DisableKeepsEngineRunning(t *testing.T) {
	spawner := &fakeSpawner{}
	note := &notes{}
	policy := NewRestartPolicy(context.Background(), time.Millisecond, note, nil)
	sup := New(Spec{}, spawner, protocol.NewTransport(), Options{OnExit: policy.OnExit})
	policy.Attach(sup)

	require.NoError(t, sup.Launch(context.Background()))
	policy.Disable()
	assert.True(t, sup.Running())
	assert.False(t, policy.Enabled())

	spawner.last().exit(2)
	require.Eventually(t, func() bool { return sup.State() == StateStopped }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, spawner.count())
	assert.Equal(t, []string{MsgStopped}, note.all())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "killed", StateKilled.String())
	assert.Equal(t, "state(42)", State(42).String())
}
