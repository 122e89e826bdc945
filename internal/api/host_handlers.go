package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/mattjoyce/voxbridge/internal/host"
	"github.com/mattjoyce/voxbridge/internal/navgraph"
	"github.com/mattjoyce/voxbridge/internal/world"
)

func (s *Server) requireHost(w http.ResponseWriter) bool {
	if s.deps.Host == nil {
		s.writeError(w, http.StatusServiceUnavailable, "host unavailable")
		return false
	}
	return true
}

// handleMenu handles POST /host/menu.
func (s *Server) handleMenu(w http.ResponseWriter, r *http.Request) {
	if !s.requireHost(w) {
		return
	}
	var req MenuRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	var menu *host.Menu
	if t := strings.TrimSpace(req.Type); t != "" {
		menu = &host.Menu{Type: t, Data: req.Data}
	}
	old, err := s.deps.Host.SetMenu(r.Context(), menu)
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, MenuResponse{OldMenu: old, NewMenu: menu})
}

// handleAddLocation handles POST /host/locations.
func (s *Server) handleAddLocation(w http.ResponseWriter, r *http.Request) {
	if !s.requireHost(w) {
		return
	}
	var loc navgraph.Location
	if !s.decodeBody(w, r, &loc) {
		return
	}
	if strings.TrimSpace(loc.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if err := s.deps.Host.AddLocation(r.Context(), loc); err != nil {
		if errors.Is(err, world.ErrLocationExists) {
			s.writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, HostEventResponse{Status: "added", Location: loc.Name})
}

// handleLoadSave handles POST /host/save.
func (s *Server) handleLoadSave(w http.ResponseWriter, r *http.Request) {
	if !s.requireHost(w) {
		return
	}
	if err := s.deps.Host.LoadSave(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, HostEventResponse{Status: "loaded"})
}

// handleObjects handles POST /host/objects.
func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	if !s.requireHost(w) {
		return
	}
	var req LocationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	loc, ok := s.locationOrCurrent(w, r, req.Location)
	if !ok {
		return
	}
	if err := s.deps.Host.ObjectsChanged(r.Context(), loc); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, HostEventResponse{Status: "reported", Location: loc})
}

// handleTerrain handles POST /host/terrain.
func (s *Server) handleTerrain(w http.ResponseWriter, r *http.Request) {
	if !s.requireHost(w) {
		return
	}
	var req TerrainRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if len(req.Removed) == 0 {
		s.writeError(w, http.StatusBadRequest, "removed is required")
		return
	}
	loc, ok := s.locationOrCurrent(w, r, req.Location)
	if !ok {
		return
	}
	if err := s.deps.Host.TerrainRemoved(r.Context(), loc, req.Removed); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, HostEventResponse{Status: "reported", Location: loc})
}

func (s *Server) locationOrCurrent(w http.ResponseWriter, r *http.Request, loc string) (string, bool) {
	if loc = strings.TrimSpace(loc); loc != "" {
		return loc, true
	}
	current, err := s.deps.Host.CurrentLocation(r.Context())
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return "", false
	}
	return current, true
}
