package streams

import (
	"encoding/json"
	"fmt"

	"github.com/mattjoyce/voxbridge/internal/protocol"
)

// OpenRequest is the NEW_STREAM payload.
type OpenRequest struct {
	Name     string         `json:"name"`
	StreamID string         `json:"stream_id,omitempty"`
	Data     map[string]any `json:"data"`
}

// DecodeOpen reads a NEW_STREAM payload.
func DecodeOpen(env protocol.Envelope) (OpenRequest, error) {
	req, err := protocol.DecodeData[OpenRequest](env)
	if err != nil {
		return req, err
	}
	if req.Name == "" {
		return req, fmt.Errorf("NEW_STREAM missing name")
	}
	return req, nil
}

// DecodeStopID reads a STOP_STREAM payload: either the bare id or {stream_id}.
func DecodeStopID(env protocol.Envelope) (string, error) {
	var id string
	if err := json.Unmarshal(env.Data, &id); err == nil && id != "" {
		return id, nil
	}
	var obj struct {
		StreamID string `json:"stream_id"`
	}
	if err := json.Unmarshal(env.Data, &obj); err == nil && obj.StreamID != "" {
		return obj.StreamID, nil
	}
	return "", fmt.Errorf("STOP_STREAM missing stream id")
}
