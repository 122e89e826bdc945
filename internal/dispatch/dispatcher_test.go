package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/mattjoyce/voxbridge/internal/events"
	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/protocol"
	"github.com/mattjoyce/voxbridge/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type response struct {
	ID      string
	Value   any
	ErrKind *string
}

type responses struct {
	mu  sync.Mutex
	all []response
}

func (r *responses) SendResponse(id string, value any, errKind *string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.all = append(r.all, response{ID: id, Value: value, ErrKind: errKind})
	return true
}

func (r *responses) get() []response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]response(nil), r.all...)
}

type fixedHolder struct{ s *session.Session }

func (h fixedHolder) Session() *session.Session { return h.s }

func setupDispatcher(t *testing.T, opts Options) (*Dispatcher, *Registry, *responses, *session.Session) {
	t.Helper()
	reg := NewRegistry()
	out := &responses{}
	s := session.New()
	return New(reg, out, fixedHolder{s}, opts), reg, out, s
}

func kind(k *string) string {
	if k == nil {
		return ""
	}
	return *k
}

func TestDispatcher_ReceiveRoutesQueues(t *testing.T) {
	d, _, _, s := setupDispatcher(t, Options{TickingRequests: []string{"PRESS_KEY"}})

	d.Receive(protocol.Envelope{Type: "PRESS_KEY", ID: "1"})
	d.Receive(protocol.Envelope{Type: "GET_ROUTE", ID: "2"})
	d.Receive(protocol.NewEnvelope(TypeLog, map[string]any{"value": "hello", "level": "INFO"}))

	assert.Equal(t, 1, s.Ticking.Len())
	assert.Equal(t, 1, s.Ticked.Len())
}

func TestDispatcher_DrainRespondsOncePerRequest(t *testing.T) {
	d, reg, out, s := setupDispatcher(t, Options{Budget: time.Second})
	reg.Register("HEARTBEAT", func(ctx context.Context, req *Request) (any, error) {
		return true, nil
	})

	for _, id := range []string{"a", "b", "c"} {
		d.Receive(protocol.Envelope{Type: "HEARTBEAT", ID: id})
	}

	n := d.Drain(context.Background(), PhaseTicked)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, s.Ticked.Len())

	got := out.get()
	require.Len(t, got, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, got[i].ID)
		assert.Equal(t, true, got[i].Value)
		assert.Nil(t, got[i].ErrKind)
	}
}

func TestDispatcher_ZeroBudgetStillMakesProgress(t *testing.T) {
	d, reg, out, s := setupDispatcher(t, Options{})
	reg.Register("HEARTBEAT", func(ctx context.Context, req *Request) (any, error) {
		return true, nil
	})
	for i := 0; i < 5; i++ {
		d.Receive(protocol.Envelope{Type: "HEARTBEAT", ID: "x"})
	}

	n := d.DrainBudget(context.Background(), PhaseTicked, 0)
	assert.Equal(t, 1, n)
	assert.Equal(t, 4, s.Ticked.Len())
	assert.Len(t, out.get(), 1)
}

func TestDispatcher_BudgetLeavesRemainderQueued(t *testing.T) {
	d, reg, _, s := setupDispatcher(t, Options{})
	reg.Register("SLOW", func(ctx context.Context, req *Request) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	})
	for i := 0; i < 4; i++ {
		d.Receive(protocol.Envelope{Type: "SLOW", ID: "x"})
	}

	n := d.DrainBudget(context.Background(), PhaseTicked, 2*time.Millisecond)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, s.Ticked.Len())
}

func TestDispatcher_UnsafeRequestNeverRunsHandler(t *testing.T) {
	hub := events.NewHub(8)
	d, reg, out, _ := setupDispatcher(t, Options{Hub: hub})
	fired := false
	reg.Register("GET_ROUTE", func(ctx context.Context, req *Request) (any, error) {
		fired = true
		return "route", nil
	})

	d.Receive(protocol.Envelope{Type: "GET_ROUTE", ID: "r1"})
	d.Drain(context.Background(), PhaseUnvalidated)

	assert.False(t, fired)
	got := out.get()
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
	assert.Equal(t, protocol.ErrKindUnsafeRequest, kind(got[0].ErrKind))

	failed := hub.SnapshotSince(0)
	require.Len(t, failed, 1)
	assert.Equal(t, events.TopicRequestFailed, failed[0].Type)
}

func TestDispatcher_AllowListedRunsInUnvalidatedPhase(t *testing.T) {
	d, reg, out, _ := setupDispatcher(t, Options{})
	reg.Register("HEARTBEAT", func(ctx context.Context, req *Request) (any, error) {
		assert.Equal(t, PhaseUnvalidated, req.Phase)
		return true, nil
	})

	d.Receive(protocol.Envelope{Type: "HEARTBEAT", ID: "h"})
	d.Drain(context.Background(), PhaseUnvalidated)

	got := out.get()
	require.Len(t, got, 1)
	assert.Nil(t, got[0].ErrKind)
}

func TestDispatcher_ExecuteFailures(t *testing.T) {
	d, reg, _, s := setupDispatcher(t, Options{})
	reg.Register("BOOM", func(ctx context.Context, req *Request) (any, error) {
		return nil, errors.New("location not loaded")
	})
	reg.Register("PANIC", func(ctx context.Context, req *Request) (any, error) {
		panic("nil host")
	})

	tests := []struct {
		name     string
		reqType  string
		wantKind string
		contains string
	}{
		{name: "handler error", reqType: "BOOM", wantKind: protocol.ErrKindStackTrace, contains: "location not loaded"},
		{name: "handler panic", reqType: "PANIC", wantKind: protocol.ErrKindPanic, contains: "nil host"},
		{name: "unknown type", reqType: "NOPE", wantKind: protocol.ErrKindUnknownRequest, contains: "NOPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, k := d.Execute(context.Background(), &Request{
				Envelope: protocol.Envelope{Type: tt.reqType, ID: "1"},
				Phase:    PhaseTicked,
				Session:  s,
			})
			assert.Equal(t, tt.wantKind, kind(k))
			assert.Contains(t, v, tt.contains)
		})
	}
}

func TestDispatcher_FailureDoesNotAffectNeighbours(t *testing.T) {
	d, reg, out, _ := setupDispatcher(t, Options{Budget: time.Second})
	reg.Register("BOOM", func(ctx context.Context, req *Request) (any, error) {
		return nil, errors.New("bad")
	})
	reg.Register("HEARTBEAT", func(ctx context.Context, req *Request) (any, error) {
		return true, nil
	})

	d.Receive(protocol.Envelope{Type: "HEARTBEAT", ID: "1"})
	d.Receive(protocol.Envelope{Type: "BOOM", ID: "2"})
	d.Receive(protocol.Envelope{Type: "HEARTBEAT", ID: "3"})
	d.Drain(context.Background(), PhaseTicked)

	got := out.get()
	require.Len(t, got, 3)
	assert.Nil(t, got[0].ErrKind)
	assert.Equal(t, protocol.ErrKindStackTrace, kind(got[1].ErrKind))
	assert.Nil(t, got[2].ErrKind)
}

func TestDispatcher_RequestBatch(t *testing.T) {
	d, reg, out, _ := setupDispatcher(t, Options{})
	reg.Register("HEARTBEAT", func(ctx context.Context, req *Request) (any, error) {
		return true, nil
	})
	reg.Register("ECHO", func(ctx context.Context, req *Request) (any, error) {
		return protocol.DecodeData[string](req.Envelope)
	})

	batch := []map[string]any{
		{"type": "HEARTBEAT"},
		{"type": "ECHO", "data": "hi"},
	}

	t.Run("validated phase runs all", func(t *testing.T) {
		d.Receive(protocol.NewEnvelope(TypeRequestBatch, batch))
		d.Drain(context.Background(), PhaseTicked)
		got := out.get()
		require.Len(t, got, 1)
		assert.Nil(t, got[0].ErrKind)

		raw, err := json.Marshal(got[0].Value)
		require.NoError(t, err)
		assert.JSONEq(t, `[{"value":true,"error":null},{"value":"hi","error":null}]`, string(raw))
	})

	t.Run("unvalidated phase refuses disallowed items", func(t *testing.T) {
		out.all = nil
		d.Receive(protocol.NewEnvelope(TypeRequestBatch, batch))
		d.Drain(context.Background(), PhaseUnvalidated)
		got := out.get()
		require.Len(t, got, 1)

		results, ok := got[0].Value.([]BatchResult)
		require.True(t, ok)
		require.Len(t, results, 2)
		assert.Nil(t, results[0].Error)
		assert.Equal(t, protocol.ErrKindUnsafeRequest, kind(results[1].Error))
	})
}

func TestDispatcher_NoSessionDropsSilently(t *testing.T) {
	d := New(NewRegistry(), &responses{}, fixedHolder{}, Options{})
	assert.NotPanics(t, func() {
		d.Receive(protocol.Envelope{Type: "HEARTBEAT", ID: "1"})
		assert.Equal(t, 0, d.Drain(context.Background(), PhaseTicked))
	})
}

func TestRegistry_Types(t *testing.T) {
	reg := NewRegistry()
	noop := func(ctx context.Context, req *Request) (any, error) { return nil, nil }
	reg.Register("PRESS_KEY", noop)
	reg.Register("HEARTBEAT", noop)

	assert.Equal(t, []string{"HEARTBEAT", "PRESS_KEY"}, reg.Types())
	_, ok := reg.Lookup("MISSING")
	assert.False(t, ok)
}
