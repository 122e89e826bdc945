package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimRight(b.buf.String(), "\n"), "\n")
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("broken pipe") }

func TestTransport_SendWhenDetached(t *testing.T) {
	tr := NewTransport()
	assert.False(t, tr.Running())
	assert.False(t, tr.SendEvent("SAVE_LOADED", nil))
}

func TestTransport_SendAttached(t *testing.T) {
	tr := NewTransport()
	var out lockedBuffer
	tr.Attach(&out)

	require.True(t, tr.SendResponse("req-1", "pong", nil))
	kind := ErrKindStackTrace
	require.True(t, tr.SendStream("s-1", "boom", &kind))

	lines := out.Lines()
	require.Len(t, lines, 2)

	resp, err := DecodeEnvelope([]byte(lines[0]))
	require.NoError(t, err)
	assert.Equal(t, TypeResponse, resp.Type)
	data, err := DecodeData[ResponseData](resp)
	require.NoError(t, err)
	assert.Equal(t, "req-1", data.ID)
	assert.Equal(t, "pong", data.Value)
	assert.Nil(t, data.Error)

	stream, err := DecodeData[StreamData](mustEnvelope(t, lines[1]))
	require.NoError(t, err)
	assert.Equal(t, "s-1", stream.StreamID)
	require.NotNil(t, stream.Error)
	assert.Equal(t, ErrKindStackTrace, *stream.Error)
}

func TestTransport_WriteFailureDetaches(t *testing.T) {
	tr := NewTransport()
	tr.Attach(brokenWriter{})
	assert.False(t, tr.SendEvent("X", nil))
	assert.False(t, tr.Running())
}

func TestTransport_ConcurrentSendsDoNotInterleave(t *testing.T) {
	tr := NewTransport()
	var out lockedBuffer
	tr.Attach(&out)

	payload := strings.Repeat("x", 4096)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				tr.SendEvent("TICK", payload)
			}
		}()
	}
	wg.Wait()

	lines := out.Lines()
	assert.Len(t, lines, 16*20)
	for _, line := range lines {
		_, err := DecodeEnvelope([]byte(line))
		require.NoError(t, err, "line was torn: %q", line[:min(len(line), 80)])
	}
}

func TestTransport_ReadFromDropsMalformed(t *testing.T) {
	tr := NewTransport()
	var got []Envelope
	tr.OnReceive(func(env Envelope) { got = append(got, env) })

	input := strings.Join([]string{
		`{"type":"HEARTBEAT","id":"1","data":null}`,
		`garbage`,
		``,
		`{"id":"no-type"}`,
		`{"type":"STOP_STREAM","id":"2","data":"s-1"}`,
	}, "\n")

	require.NoError(t, tr.ReadFrom(strings.NewReader(input)))
	require.Len(t, got, 2)
	assert.Equal(t, "HEARTBEAT", got[0].Type)
	assert.Equal(t, "STOP_STREAM", got[1].Type)
}

func TestTransport_OnReceiveInstalledOnce(t *testing.T) {
	tr := NewTransport()
	first, second := 0, 0
	tr.OnReceive(func(Envelope) { first++ })
	tr.OnReceive(func(Envelope) { second++ })

	require.NoError(t, tr.ReadFrom(strings.NewReader(`{"type":"HEARTBEAT","id":"1","data":null}`)))
	assert.Equal(t, 1, first)
	assert.Equal(t, 0, second)
}

func TestTransport_PipeRoundTrip(t *testing.T) {
	pr, pw := io.Pipe()
	tr := NewTransport()
	tr.Attach(pw)

	done := make(chan string, 1)
	go func() {
		line, _ := bufio.NewReader(pr).ReadString('\n')
		done <- line
	}()

	require.True(t, tr.SendEvent("SPEECH_MIMICKED", map[string]string{"said": "open inventory"}))
	line := <-done
	env := mustEnvelope(t, line)
	ev, err := DecodeData[EventData](env)
	require.NoError(t, err)
	assert.Equal(t, "SPEECH_MIMICKED", ev.EventType)
	assert.Equal(t, map[string]any{"said": "open inventory"}, ev.Data)
}

func mustEnvelope(t *testing.T, line string) Envelope {
	t.Helper()
	env, err := DecodeEnvelope([]byte(line))
	require.NoError(t, err)
	return env
}
