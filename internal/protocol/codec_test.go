package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"
)

func TestEncodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		wantErr bool
		checkFn func(t *testing.T, output string)
	}{
		{
			name: "response envelope",
			env:  NewEnvelope(TypeResponse, ResponseData{ID: "abc", Value: 42}),
			checkFn: func(t *testing.T, output string) {
				if !strings.Contains(output, `"type":"RESPONSE"`) {
					t.Error("missing type field")
				}
				if !strings.Contains(output, `"id":"abc"`) {
					t.Error("missing correlation id")
				}
				if !strings.Contains(output, `"error":null`) {
					t.Error("error should be null on success")
				}
			},
		},
		{
			name: "single line",
			env:  NewEnvelope(TypeEvent, EventData{EventType: "SAVE_LOADED"}),
			checkFn: func(t *testing.T, output string) {
				if strings.Count(output, "\n") != 1 || !strings.HasSuffix(output, "\n") {
					t.Errorf("want exactly one trailing newline, got %q", output)
				}
			},
		},
		{
			name:    "missing type",
			env:     Envelope{Data: json.RawMessage(`{}`)},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := EncodeEnvelope(&buf, tt.env)

			if (err != nil) != tt.wantErr {
				t.Errorf("EncodeEnvelope() error = %v, wantErr %v", err, tt.wantErr)
				return
			}

			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, buf.String())
			}
		})
	}
}

func TestDecodeEnvelope(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		checkFn func(t *testing.T, env Envelope)
	}{
		{
			name:  "request with id",
			input: `{"type":"HEARTBEAT","id":"7f1","data":null}`,
			checkFn: func(t *testing.T, env Envelope) {
				if env.Type != "HEARTBEAT" || env.ID != "7f1" {
					t.Errorf("unexpected envelope %+v", env)
				}
			},
		},
		{
			name:  "trailing carriage return",
			input: "{\"type\":\"PRESS_KEY\",\"id\":\"1\",\"data\":{\"key\":\"E\"}}\r",
			checkFn: func(t *testing.T, env Envelope) {
				if env.Type != "PRESS_KEY" {
					t.Errorf("want PRESS_KEY, got %s", env.Type)
				}
			},
		},
		{name: "invalid JSON", input: `{not json}`, wantErr: true},
		{name: "missing type", input: `{"id":"1"}`, wantErr: true},
		{name: "empty line", input: ``, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := DecodeEnvelope([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeEnvelope() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.checkFn != nil {
				tt.checkFn(t, env)
			}
		})
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	in := Envelope{
		Type: "NEW_STREAM",
		ID:   "req-9",
		Data: json.RawMessage(`{"name":"UPDATE_TICKED","data":{"type":"PLAYER_STATUS","ticks":3}}`),
	}

	var buf bytes.Buffer
	if err := EncodeEnvelope(&buf, in); err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeEnvelope(buf.Bytes())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if out.Type != in.Type || out.ID != in.ID {
		t.Errorf("round trip mismatch: %+v vs %+v", out, in)
	}
	var a, b any
	_ = json.Unmarshal(in.Data, &a)
	_ = json.Unmarshal(out.Data, &b)
	if !jsonEqual(a, b) {
		t.Errorf("data mismatch: %s vs %s", in.Data, out.Data)
	}
}

func TestDecodeData(t *testing.T) {
	type point struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	p, err := DecodeData[point](Envelope{Type: "SET_MOUSE_POSITION", Data: json.RawMessage(`{"x":3,"y":4}`)})
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if p.X != 3 || p.Y != 4 {
		t.Errorf("got %+v", p)
	}

	zero, err := DecodeData[point](Envelope{Type: "GET_MOUSE_POSITION", Data: json.RawMessage(`null`)})
	if err != nil || zero != (point{}) {
		t.Errorf("null data should decode to zero value, got %+v err %v", zero, err)
	}

	if _, err := DecodeData[point](Envelope{Type: "X", Data: json.RawMessage(`"nope"`)}); err == nil {
		t.Error("want error for mismatched payload shape")
	}
}

func TestDecodeLog(t *testing.T) {
	tests := []struct {
		name string
		data string
		want LogData
	}{
		{"bare string", `"listening"`, LogData{Value: "listening"}},
		{"structured", `{"value":"boom","level":"error"}`, LogData{Value: "boom", Level: "error"}},
		{"other shape", `[1,2]`, LogData{Value: "[1,2]"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeLog(Envelope{Type: TypeLog, Data: json.RawMessage(tt.data)})
			if got != tt.want {
				t.Errorf("DecodeLog() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

type failingMarshaler struct{}

func (failingMarshaler) MarshalJSON() ([]byte, error) {
	return nil, errors.New("nope")
}

type node struct {
	Name string `json:"name"`
	Next *node  `json:"next,omitempty"`
}

type snapshot struct {
	Location string           `json:"location"`
	OnChange func()           `json:"on_change"`
	Events   chan int         `json:"events"`
	Ratio    float64          `json:"ratio"`
	Broken   failingMarshaler `json:"broken"`
	Hidden   string           `json:"-"`
	When     time.Time        `json:"when"`
	Tags     map[string]any   `json:"tags"`
	private  int
}

func TestMarshalLenient(t *testing.T) {
	t.Run("plain value passes through", func(t *testing.T) {
		got := MarshalLenient(map[string]int{"a": 1})
		if string(got) != `{"a":1}` {
			t.Errorf("got %s", got)
		}
	})

	t.Run("drops unserializable fields", func(t *testing.T) {
		s := snapshot{
			Location: "Farm",
			OnChange: func() {},
			Events:   make(chan int),
			Ratio:    math.NaN(),
			Hidden:   "secret",
			When:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
			Tags:     map[string]any{"ok": true, "bad": complex(1, 2)},
			private:  1,
		}
		var out map[string]any
		if err := json.Unmarshal(MarshalLenient(s), &out); err != nil {
			t.Fatalf("lenient output is not JSON: %v", err)
		}
		if out["location"] != "Farm" {
			t.Errorf("location lost: %v", out)
		}
		for _, dropped := range []string{"on_change", "events", "ratio", "broken", "Hidden", "private"} {
			if _, ok := out[dropped]; ok {
				t.Errorf("field %q should have been dropped", dropped)
			}
		}
		if out["when"] != "2026-01-02T03:04:05Z" {
			t.Errorf("time should keep its MarshalJSON form, got %v", out["when"])
		}
		tags, _ := out["tags"].(map[string]any)
		if tags["ok"] != true {
			t.Errorf("tags.ok lost: %v", tags)
		}
		if _, ok := tags["bad"]; ok {
			t.Error("complex map value should be dropped")
		}
	})

	t.Run("drops cycles", func(t *testing.T) {
		a := &node{Name: "a"}
		b := &node{Name: "b", Next: a}
		a.Next = b

		var out map[string]any
		if err := json.Unmarshal(MarshalLenient(a), &out); err != nil {
			t.Fatalf("lenient output is not JSON: %v", err)
		}
		if out["name"] != "a" {
			t.Errorf("got %v", out)
		}
		next, _ := out["next"].(map[string]any)
		if next["name"] != "b" {
			t.Errorf("second hop lost: %v", out)
		}
		if _, ok := next["next"]; ok {
			t.Error("back-reference should have been dropped")
		}
	})

	t.Run("slice positions preserved", func(t *testing.T) {
		got := MarshalLenient([]any{1, func() {}, "x"})
		if string(got) != `[1,null,"x"]` {
			t.Errorf("got %s", got)
		}
	})

	t.Run("top level unserializable", func(t *testing.T) {
		if got := MarshalLenient(make(chan int)); string(got) != "null" {
			t.Errorf("got %s", got)
		}
	})
}

func jsonEqual(a, b any) bool {
	ab, _ := json.Marshal(a)
	bb, _ := json.Marshal(b)
	return bytes.Equal(ab, bb)
}
