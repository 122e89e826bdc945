// Package requests holds the built-in request handlers the bridge answers
// on behalf of the host, and the snapshot producer for cadence streams.
package requests

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/voxbridge/internal/dispatch"
	"github.com/mattjoyce/voxbridge/internal/host"
	"github.com/mattjoyce/voxbridge/internal/input"
	"github.com/mattjoyce/voxbridge/internal/navgraph"
	"github.com/mattjoyce/voxbridge/internal/protocol"
	"github.com/mattjoyce/voxbridge/internal/streams"
)

// Request types served here.
const (
	TypeHeartbeat                = "HEARTBEAT"
	TypeNewStream                = "NEW_STREAM"
	TypeStopStream               = "STOP_STREAM"
	TypeGetActiveMenu            = "GET_ACTIVE_MENU"
	TypeGetMousePosition         = "GET_MOUSE_POSITION"
	TypeSetMousePosition         = "SET_MOUSE_POSITION"
	TypeSetMousePositionRelative = "SET_MOUSE_POSITION_RELATIVE"
	TypeMouseClick               = "MOUSE_CLICK"
	TypeUpdateHeldButtons        = "UPDATE_HELD_BUTTONS"
	TypeReleaseAllKeys           = "RELEASE_ALL_KEYS"
	TypePressKey                 = "PRESS_KEY"
	TypeGetRoute                 = "GET_ROUTE"
	TypeGetLocationConnection    = "GET_LOCATION_CONNECTION"
	TypeGetPlayerStatus          = "GET_PLAYER_STATUS"
)

var ErrNoSession = errors.New("request has no session")

// Host is the read side of the host state the handlers need.
type Host interface {
	PlayerStatus() host.PlayerStatus
	ActiveMenu() *host.Menu
	CurrentLocation() string
}

// Router answers navigation queries.
type Router interface {
	FindRouteTo(start, target string) ([]string, bool, error)
	Connection(from, to string) (navgraph.Connection, error)
	Location(name string) (navgraph.Node, error)
}

// Handlers binds the built-in handlers to their collaborators.
type Handlers struct {
	Host   Host
	Device input.Device
	Router Router
}

// Register installs every built-in handler into reg.
func (h *Handlers) Register(reg *dispatch.Registry) {
	reg.Register(TypeHeartbeat, h.heartbeat)
	reg.Register(TypeNewStream, h.newStream)
	reg.Register(TypeStopStream, h.stopStream)
	reg.Register(TypeGetActiveMenu, h.activeMenu)
	reg.Register(TypeGetMousePosition, h.mousePosition)
	reg.Register(TypeSetMousePosition, h.setMousePosition)
	reg.Register(TypeSetMousePositionRelative, h.setMousePositionRelative)
	reg.Register(TypeMouseClick, h.mouseClick)
	reg.Register(TypeUpdateHeldButtons, h.updateHeld)
	reg.Register(TypeReleaseAllKeys, h.releaseAll)
	reg.Register(TypePressKey, h.pressKey)
	reg.Register(TypeGetRoute, h.route)
	reg.Register(TypeGetLocationConnection, h.connection)
	reg.Register(TypeGetPlayerStatus, h.playerStatus)
}

func (h *Handlers) heartbeat(ctx context.Context, req *dispatch.Request) (any, error) {
	return true, nil
}

func (h *Handlers) newStream(ctx context.Context, req *dispatch.Request) (any, error) {
	if req.Session == nil {
		return nil, ErrNoSession
	}
	open, err := streams.DecodeOpen(req.Envelope)
	if err != nil {
		return nil, err
	}
	s, err := req.Session.Streams.Open(open.Name, open.StreamID, open.Data)
	if err != nil {
		return nil, err
	}
	return s.ID, nil
}

func (h *Handlers) stopStream(ctx context.Context, req *dispatch.Request) (any, error) {
	if req.Session == nil {
		return nil, ErrNoSession
	}
	id, err := streams.DecodeStopID(req.Envelope)
	if err != nil {
		return nil, err
	}
	if err := req.Session.Streams.Close(id); err != nil {
		return nil, err
	}
	return nil, nil
}

func (h *Handlers) activeMenu(ctx context.Context, req *dispatch.Request) (any, error) {
	return h.Host.ActiveMenu(), nil
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (h *Handlers) mousePosition(ctx context.Context, req *dispatch.Request) (any, error) {
	x, y := h.Device.MousePosition()
	return point{X: x, Y: y}, nil
}

func (h *Handlers) setMousePosition(ctx context.Context, req *dispatch.Request) (any, error) {
	p, err := protocol.DecodeData[point](req.Envelope)
	if err != nil {
		return nil, err
	}
	h.Device.SetMousePosition(p.X, p.Y)
	return nil, nil
}

func (h *Handlers) setMousePositionRelative(ctx context.Context, req *dispatch.Request) (any, error) {
	p, err := protocol.DecodeData[point](req.Envelope)
	if err != nil {
		return nil, err
	}
	x, y := h.Device.MousePosition()
	h.Device.SetMousePosition(x+p.X, y+p.Y)
	return nil, nil
}

func (h *Handlers) mouseClick(ctx context.Context, req *dispatch.Request) (any, error) {
	in, err := protocol.DecodeData[struct {
		Btn string `json:"btn"`
	}](req.Envelope)
	if err != nil {
		return nil, err
	}
	btn := in.Btn
	if btn == "" {
		btn = "left"
	}
	if btn != "left" && btn != "right" {
		return nil, fmt.Errorf("unknown mouse button %q", btn)
	}
	x, y := h.Device.MousePosition()
	h.Device.Click(btn, x, y)
	return nil, nil
}

func (h *Handlers) updateHeld(ctx context.Context, req *dispatch.Request) (any, error) {
	if req.Session == nil {
		return nil, ErrNoSession
	}
	in, err := protocol.DecodeData[struct {
		ToHold    []string `json:"toHold"`
		ToRelease []string `json:"toRelease"`
	}](req.Envelope)
	if err != nil {
		return nil, err
	}
	req.Session.Held.Update(in.ToHold, in.ToRelease)
	for _, b := range in.ToRelease {
		h.Device.SetUp(b)
	}
	for _, b := range in.ToHold {
		h.Device.SetDown(b)
	}
	return nil, nil
}

func (h *Handlers) releaseAll(ctx context.Context, req *dispatch.Request) (any, error) {
	if req.Session == nil {
		return nil, ErrNoSession
	}
	for _, b := range req.Session.Held.ReleaseAll() {
		h.Device.SetUp(b)
	}
	return nil, nil
}

func (h *Handlers) pressKey(ctx context.Context, req *dispatch.Request) (any, error) {
	in, err := protocol.DecodeData[struct {
		Key string `json:"key"`
	}](req.Envelope)
	if err != nil {
		return nil, err
	}
	if in.Key == "" {
		return nil, errors.New("PRESS_KEY missing key")
	}
	h.Device.Press(in.Key)
	return nil, nil
}

// RouteQuery is the GET_ROUTE payload. From defaults to the player's location.
type RouteQuery struct {
	From string `json:"fromLocation"`
	To   string `json:"toLocation"`
}

func (h *Handlers) route(ctx context.Context, req *dispatch.Request) (any, error) {
	q, err := protocol.DecodeData[RouteQuery](req.Envelope)
	if err != nil {
		return nil, err
	}
	if q.To == "" {
		return nil, errors.New("GET_ROUTE missing toLocation")
	}
	if q.From == "" {
		q.From = h.Host.CurrentLocation()
	}
	route, found, err := h.Router.FindRouteTo(q.From, q.To)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return route, nil
}

func (h *Handlers) connection(ctx context.Context, req *dispatch.Request) (any, error) {
	q, err := protocol.DecodeData[RouteQuery](req.Envelope)
	if err != nil {
		return nil, err
	}
	if q.From == "" {
		q.From = h.Host.CurrentLocation()
	}
	return h.Router.Connection(q.From, q.To)
}

func (h *Handlers) playerStatus(ctx context.Context, req *dispatch.Request) (any, error) {
	return h.Host.PlayerStatus(), nil
}
