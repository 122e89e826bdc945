package requests

import (
	"context"
	"fmt"
)

// Snapshot types served to UPDATE_TICKED streams.
const (
	SnapshotPlayerStatus = "PLAYER_STATUS"
	SnapshotLocation     = "LOCATION"
)

// LocationSnapshot is the LOCATION stream value.
type LocationSnapshot struct {
	Name     string `json:"name"`
	Outdoors bool   `json:"outdoors"`
	Building string `json:"building,omitempty"`
}

// Produce implements streams.Producer.
func (h *Handlers) Produce(ctx context.Context, snapshotType string) (any, error) {
	switch snapshotType {
	case SnapshotPlayerStatus, TypeGetPlayerStatus:
		return h.Host.PlayerStatus(), nil
	case SnapshotLocation:
		name := h.Host.CurrentLocation()
		node, err := h.Router.Location(name)
		if err != nil {
			return nil, err
		}
		return LocationSnapshot{Name: node.Name, Outdoors: node.Outdoors, Building: node.Building}, nil
	case TypeGetActiveMenu:
		return h.Host.ActiveMenu(), nil
	default:
		return nil, fmt.Errorf("unknown snapshot type %q", snapshotType)
	}
}
