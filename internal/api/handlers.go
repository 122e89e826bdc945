package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/voxbridge/internal/navgraph"
	"github.com/mattjoyce/voxbridge/internal/runlog"
	"github.com/mattjoyce/voxbridge/internal/streams"
)

const maxBodyBytes = 1 << 20

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	resp := HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
	if s.deps.Engine != nil {
		resp.Engine = s.deps.Engine.State().String()
		if sess := s.deps.Engine.Session(); sess != nil {
			resp.Streams = sess.Streams.Len()
		}
	}
	if s.deps.Router != nil {
		resp.GraphNodes = len(s.deps.Router.Nodes())
		resp.Fingerprint = s.deps.Router.Fingerprint()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleStreams handles GET /streams.
func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	resp := StreamsResponse{Streams: []streams.Stream{}}
	if s.deps.Engine != nil {
		if sess := s.deps.Engine.Session(); sess != nil {
			resp.Streams = append(resp.Streams, sess.Streams.List()...)
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleRoute handles GET /route?from=&to=. An empty from means the player's
// current location.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	if s.deps.Router == nil {
		s.writeError(w, http.StatusServiceUnavailable, "navigation unavailable")
		return
	}
	to := strings.TrimSpace(r.URL.Query().Get("to"))
	if to == "" {
		s.writeError(w, http.StatusBadRequest, "to is required")
		return
	}
	from := strings.TrimSpace(r.URL.Query().Get("from"))
	if from == "" {
		if s.deps.Host == nil {
			s.writeError(w, http.StatusBadRequest, "from is required")
			return
		}
		current, err := s.deps.Host.CurrentLocation(r.Context())
		if err != nil {
			s.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		from = current
	}

	route, found, err := s.deps.Router.FindRouteTo(from, to)
	if err != nil {
		if errors.Is(err, navgraph.ErrUnknownLocation) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("route lookup failed", "from", from, "to", to, "error", err)
		s.writeError(w, http.StatusInternalServerError, "route lookup failed")
		return
	}
	if route == nil {
		route = []string{}
	}
	s.writeJSON(w, http.StatusOK, RouteResponse{From: from, To: to, Found: found, Route: route})
}

// handleRuns handles GET /runs?limit=N.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeJSON(w, http.StatusOK, RunsResponse{})
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	runs, err := s.deps.Runs.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	s.writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// handleRun handles GET /runs/{id}.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		s.writeError(w, http.StatusNotFound, "run history disabled")
		return
	}
	run, err := s.deps.Runs.Get(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, runlog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// handleEngineRestart handles POST /engine/restart.
func (s *Server) handleEngineRestart(w http.ResponseWriter, r *http.Request) {
	if s.deps.Control == nil {
		s.writeError(w, http.StatusServiceUnavailable, "engine control unavailable")
		return
	}
	if err := s.deps.Control.Restart(); err != nil {
		s.logger.Error("engine restart failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, EngineResponse{Status: "restarting", Engine: s.engineState()})
}

// handleEngineStop handles POST /engine/stop.
func (s *Server) handleEngineStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Control == nil {
		s.writeError(w, http.StatusServiceUnavailable, "engine control unavailable")
		return
	}
	s.deps.Control.Stop()
	s.writeJSON(w, http.StatusAccepted, EngineResponse{Status: "stopping", Engine: s.engineState()})
}

// handleMimic handles POST /mimic.
func (s *Server) handleMimic(w http.ResponseWriter, r *http.Request) {
	if s.deps.Host == nil {
		s.writeError(w, http.StatusServiceUnavailable, "host unavailable")
		return
	}
	var req MimicRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Said) == "" {
		s.writeError(w, http.StatusBadRequest, "said is required")
		return
	}

	delivered, err := s.deps.Host.MimicSpeech(r.Context(), req.Said)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	status := http.StatusAccepted
	if !delivered {
		status = http.StatusConflict
	}
	s.writeJSON(w, status, MimicResponse{Delivered: delivered})
}

// handleWarp handles POST /host/warp.
func (s *Server) handleWarp(w http.ResponseWriter, r *http.Request) {
	if s.deps.Host == nil {
		s.writeError(w, http.StatusServiceUnavailable, "host unavailable")
		return
	}
	var req WarpRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Location) == "" {
		s.writeError(w, http.StatusBadRequest, "location is required")
		return
	}

	old, err := s.deps.Host.Warp(r.Context(), req.Location, req.X, req.Y)
	if err != nil {
		if errors.Is(err, navgraph.ErrUnknownLocation) {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, WarpResponse{OldLocation: old, NewLocation: req.Location})
}

func (s *Server) engineState() string {
	if s.deps.Engine == nil {
		return ""
	}
	return s.deps.Engine.State().String()
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
