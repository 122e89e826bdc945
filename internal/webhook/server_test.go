package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/voxbridge/internal/log"
)

func TestMain(m *testing.M) {
	log.Setup("ERROR")
	os.Exit(m.Run())
}

type fakeHost struct {
	said      []string
	delivered bool
	err       error
}

func (h *fakeHost) MimicSpeech(ctx context.Context, said string) (bool, error) {
	if h.err != nil {
		return false, h.err
	}
	h.said = append(h.said, said)
	return h.delivered, nil
}

const secret = "phone-secret"

func newServer(h Mimicker) http.Handler {
	return New(Config{
		Listen: "127.0.0.1:0",
		Endpoints: []EndpointConfig{
			{Path: "/hooks/phone", Secret: secret},
			{Path: "/hooks/tiny", Secret: secret, SignatureHeader: "X-Signature", MaxBodySize: 16},
		},
	}, h, log.WithComponent("webhook")).Handler()
}

func post(h http.Handler, path, header, signature string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(header, signature)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlePhrase_Delivered(t *testing.T) {
	host := &fakeHost{delivered: true}
	h := newServer(host)
	body := []byte(`{"said":"  open the shipping bin "}`)

	rec := post(h, "/hooks/phone", DefaultSignatureHeader, Sign(body, secret), body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp PhraseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "delivered", resp.Status)
	assert.Equal(t, []string{"open the shipping bin"}, host.said)
}

func TestHandlePhrase_Rejections(t *testing.T) {
	phrase := []byte(`{"said":"hi"}`)

	tests := []struct {
		name      string
		host      *fakeHost
		path      string
		header    string
		body      []byte
		signature string
		want      int
	}{
		{name: "missing signature", host: &fakeHost{delivered: true}, path: "/hooks/phone", header: DefaultSignatureHeader, body: phrase, want: http.StatusForbidden},
		{name: "bad signature", host: &fakeHost{delivered: true}, path: "/hooks/phone", header: DefaultSignatureHeader, body: phrase, signature: Sign(phrase, "nope"), want: http.StatusForbidden},
		{name: "custom header", host: &fakeHost{delivered: true}, path: "/hooks/tiny", header: "X-Signature", body: phrase, signature: Sign(phrase, secret), want: http.StatusAccepted},
		{name: "too large", host: &fakeHost{delivered: true}, path: "/hooks/tiny", header: "X-Signature", body: []byte(`{"said":"a much longer phrase"}`), want: http.StatusRequestEntityTooLarge},
		{name: "not json", host: &fakeHost{delivered: true}, path: "/hooks/phone", header: DefaultSignatureHeader, body: []byte("hello"), want: http.StatusBadRequest},
		{name: "blank phrase", host: &fakeHost{delivered: true}, path: "/hooks/phone", header: DefaultSignatureHeader, body: []byte(`{"said":" "}`), want: http.StatusBadRequest},
		{name: "nobody listening", host: &fakeHost{}, path: "/hooks/phone", header: DefaultSignatureHeader, body: phrase, want: http.StatusConflict},
		{name: "host down", host: &fakeHost{err: errors.New("loop stopped")}, path: "/hooks/phone", header: DefaultSignatureHeader, body: phrase, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := tt.signature
			if sig == "" && !strings.Contains(tt.name, "missing") {
				sig = Sign(tt.body, secret)
			}
			rec := post(newServer(tt.host), tt.path, tt.header, sig, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
			if tt.want == http.StatusForbidden {
				assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())
			}
		})
	}
}

func TestHandlePhrase_UnknownPath(t *testing.T) {
	rec := post(newServer(&fakeHost{}), "/hooks/unknown", DefaultSignatureHeader, "x", []byte(`{}`))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(Config{Endpoints: []EndpointConfig{{Path: "/p", Secret: "s"}}}, &fakeHost{}, log.WithComponent("webhook"))
	ep := s.endpoints["/p"]
	assert.Equal(t, int64(DefaultMaxBodySize), ep.MaxBodySize)
	assert.Equal(t, DefaultSignatureHeader, ep.SignatureHeader)
}
