package api

import "net/http"

type endpoint struct {
	method, path, summary string
	ok                    string
}

var endpoints = []endpoint{
	{"get", "/healthz", "Bridge and engine health", "200"},
	{"get", "/streams", "Active stream subscriptions of the current run", "200"},
	{"get", "/route", "Shortest location route (from defaults to the player location)", "200"},
	{"get", "/runs", "Recent speech engine runs", "200"},
	{"get", "/runs/{id}", "One speech engine run", "200"},
	{"get", "/events", "Bridge event stream (text/event-stream)", "200"},
	{"get", "/events/ws", "Bridge event stream over WebSocket", "101"},
	{"post", "/engine/restart", "Kill and relaunch the speech engine", "202"},
	{"post", "/engine/stop", "Stop the speech engine and disable restarts", "202"},
	{"post", "/mimic", "Send SPEECH_MIMICKED to the engine", "202"},
	{"post", "/host/warp", "Move the player in the simulated host", "200"},
	{"post", "/host/menu", "Open or close a menu in the simulated host", "200"},
	{"post", "/host/locations", "Load a new location into the simulated host", "201"},
	{"post", "/host/save", "Simulate a save being loaded", "202"},
	{"post", "/host/objects", "Report objects changed in a location", "202"},
	{"post", "/host/terrain", "Report terrain features removed from a location", "202"},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the admin API. The
// engine request types accepted by the dispatcher are listed under
// x-request-types.
func buildOpenAPIDoc(requestTypes []string, secured bool) map[string]any {
	paths := map[string]any{}
	for _, ep := range endpoints {
		op := map[string]any{
			"summary": ep.summary,
			"responses": map[string]any{
				ep.ok: map[string]any{"description": "OK"},
			},
		}
		if secured && ep.path != "/healthz" {
			op["security"] = []any{map[string]any{"BearerAuth": []string{}}}
			op["responses"].(map[string]any)["401"] = map[string]any{"description": "Unauthorized"}
		}
		item, _ := paths[ep.path].(map[string]any)
		if item == nil {
			item = map[string]any{}
			paths[ep.path] = item
		}
		item[ep.method] = op
	}

	if requestTypes == nil {
		requestTypes = []string{}
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "voxbridge admin",
			"version": "1.0",
		},
		"paths": paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
		"x-request-types": requestTypes,
	}
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	var types []string
	if s.deps.Requests != nil {
		types = s.deps.Requests.Types()
	}
	s.writeJSON(w, http.StatusOK, buildOpenAPIDoc(types, s.secured()))
}
