package webhook

import "context"

// Mimicker delivers a phrase to the speech engine. It reports whether a
// speech handler was listening.
type Mimicker interface {
	MimicSpeech(ctx context.Context, said string) (bool, error)
}

// Config holds webhook server configuration.
type Config struct {
	Listen    string
	Endpoints []EndpointConfig
}

// EndpointConfig is one signed phrase endpoint.
type EndpointConfig struct {
	Path            string
	Secret          string
	SignatureHeader string
	// MaxBodySize in bytes. Zero means DefaultMaxBodySize.
	MaxBodySize int64
}

// PhraseRequest is the body of a webhook call.
type PhraseRequest struct {
	Said string `json:"said"`
}

// PhraseResponse is returned when a phrase was delivered.
type PhraseResponse struct {
	Status string `json:"status"`
	Said   string `json:"said"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

const (
	DefaultMaxBodySize     = 64 * 1024
	DefaultSignatureHeader = "X-Hub-Signature-256"
)
