package api

import (
	"github.com/mattjoyce/voxbridge/internal/host"
	"github.com/mattjoyce/voxbridge/internal/runlog"
	"github.com/mattjoyce/voxbridge/internal/streams"
)

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	Engine        string `json:"engine"`
	Streams       int    `json:"streams"`
	GraphNodes    int    `json:"graph_nodes"`
	Fingerprint   string `json:"graph_fingerprint"`
}

// StreamsResponse is returned by GET /streams.
type StreamsResponse struct {
	Streams []streams.Stream `json:"streams"`
}

// RouteResponse is returned by GET /route.
type RouteResponse struct {
	From  string   `json:"from"`
	To    string   `json:"to"`
	Found bool     `json:"found"`
	Route []string `json:"route"`
}

// RunsResponse is returned by GET /runs.
type RunsResponse struct {
	Runs []runlog.Run `json:"runs"`
}

// EngineResponse is returned by the engine control endpoints.
type EngineResponse struct {
	Status string `json:"status"`
	Engine string `json:"engine"`
}

// MimicRequest is the JSON body for POST /mimic.
type MimicRequest struct {
	Said string `json:"said"`
}

// MimicResponse reports whether the phrase reached the engine.
type MimicResponse struct {
	Delivered bool `json:"delivered"`
}

// WarpRequest is the JSON body for POST /host/warp.
type WarpRequest struct {
	Location string `json:"location"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// WarpResponse is returned by POST /host/warp.
type WarpResponse struct {
	OldLocation string `json:"oldLocation"`
	NewLocation string `json:"newLocation"`
}

// MenuRequest is the JSON body for POST /host/menu. An empty type closes the
// active menu.
type MenuRequest struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// MenuResponse is returned by POST /host/menu.
type MenuResponse struct {
	OldMenu *host.Menu `json:"oldMenu"`
	NewMenu *host.Menu `json:"newMenu"`
}

// LocationRequest is the JSON body for POST /host/objects. An empty location
// means the player's location.
type LocationRequest struct {
	Location string `json:"location"`
}

// TerrainRequest is the JSON body for POST /host/terrain.
type TerrainRequest struct {
	Location string      `json:"location"`
	Removed  []host.Tile `json:"removed"`
}

// HostEventResponse acknowledges a host hook.
type HostEventResponse struct {
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
}
