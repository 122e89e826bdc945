package host

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/voxbridge/internal/dispatch"
)

type suspendState struct{ suspended bool }

func (s *suspendState) ValidatedSuspended() bool { return s.suspended }

func TestLoop_FramePhases(t *testing.T) {
	f := setupIntegrator(t, nil)
	state := &suspendState{}
	loop := NewLoop(f.integ, state, time.Hour)

	loop.Frame(context.Background())
	assert.Equal(t, uint64(1), loop.Tick())
	assert.Equal(t, []dispatch.Phase{dispatch.PhaseTicking, dispatch.PhaseTicked}, f.drain.get())

	state.suspended = true
	loop.Frame(context.Background())
	assert.Equal(t, []dispatch.Phase{
		dispatch.PhaseTicking, dispatch.PhaseTicked,
		dispatch.PhaseUnvalidated,
	}, f.drain.get())

	state.suspended = false
	loop.Frame(context.Background())
	assert.Equal(t, uint64(3), loop.Tick())
	assert.Len(t, f.drain.get(), 5)
}

func TestLoop_PostRunsBeforePhases(t *testing.T) {
	f := setupIntegrator(t, nil)
	loop := NewLoop(f.integ, nil, time.Hour)

	var drainedBefore int
	require.NoError(t, loop.Post(context.Background(), func() {
		drainedBefore = len(f.drain.get())
	}))
	loop.Frame(context.Background())
	assert.Equal(t, 0, drainedBefore)
}

func TestLoop_RunAndDo(t *testing.T) {
	f := setupIntegrator(t, nil)
	loop := NewLoop(f.integ, nil, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	ran := false
	require.NoError(t, loop.Do(context.Background(), func() { ran = true }))
	assert.True(t, ran)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Greater(t, loop.Tick(), uint64(0))
	assert.ErrorIs(t, loop.Do(context.Background(), func() {}), ErrLoopStopped)
}
