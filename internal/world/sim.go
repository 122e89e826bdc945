package world

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/mattjoyce/voxbridge/internal/host"
	"github.com/mattjoyce/voxbridge/internal/log"
	"github.com/mattjoyce/voxbridge/internal/navgraph"
)

const maxRecent = 64

var (
	// ErrNoSuchLocation is returned for warp targets the world does not define.
	ErrNoSuchLocation = navgraph.ErrUnknownLocation
	// ErrLocationExists is returned when adding a location twice.
	ErrLocationExists = errors.New("location already loaded")
)

// Sim is the simulated host state. Mutators are meant to be called on the
// host loop goroutine; the lock lets the admin API read it concurrently.
type Sim struct {
	mu        sync.RWMutex
	locations []navgraph.Location
	player    host.PlayerStatus
	menu      *host.Menu
	suspend   map[string]bool

	down    map[string]bool
	presses []string
	clicks  []Click
	mouseX  int
	mouseY  int
	notices []string
	logger  *slog.Logger
}

// Click records one simulated mouse click.
type Click struct {
	Button string `json:"button"`
	X      int    `json:"x"`
	Y      int    `json:"y"`
}

func New(f *File) *Sim {
	suspend := make(map[string]bool, len(f.SuspendMenus))
	for _, m := range f.SuspendMenus {
		suspend[m] = true
	}
	return &Sim{
		locations: append([]navgraph.Location(nil), f.Locations...),
		player: host.PlayerStatus{
			Location:    f.Player.Location,
			Position:    host.Tile{X: f.Player.X, Y: f.Player.Y},
			Facing:      f.Player.Facing,
			Money:       f.Player.Money,
			Health:      f.Player.Health,
			Stamina:     f.Player.Stamina,
			CanMove:     true,
			CurrentTool: f.Player.Tool,
		},
		suspend: suspend,
		down:    make(map[string]bool),
		logger:  log.WithComponent("world"),
	}
}

// Locations implements navgraph.World.
func (s *Sim) Locations() []navgraph.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]navgraph.Location(nil), s.locations...)
}

// AddLocation loads a new top-level location.
func (s *Sim) AddLocation(loc navgraph.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if loc.Name == "" {
		return errors.New("location name is empty")
	}
	if hasLocation(s.locations, loc.Name) {
		return fmt.Errorf("%w: %s", ErrLocationExists, loc.Name)
	}
	s.locations = append(s.locations, loc)
	return nil
}

// ValidatedSuspended implements host.State: the validated phases are skipped
// while a suspending menu (such as the shipping summary) is open.
func (s *Sim) ValidatedSuspended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.menu != nil && s.suspend[s.menu.Type]
}

func (s *Sim) PlayerStatus() host.PlayerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p := s.player
	p.CanMove = s.menu == nil
	return p
}

// CurrentLocation is the player's location name.
func (s *Sim) CurrentLocation() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.player.Location
}

func (s *Sim) ActiveMenu() *host.Menu {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyMenu(s.menu)
}

// SetMenu opens m (nil closes the menu) and returns the previous one.
func (s *Sim) SetMenu(m *host.Menu) *host.Menu {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.menu
	s.menu = copyMenu(m)
	return old
}

func copyMenu(m *host.Menu) *host.Menu {
	if m == nil {
		return nil
	}
	c := &host.Menu{Type: m.Type}
	if m.Data != nil {
		c.Data = make(map[string]any, len(m.Data))
		for k, v := range m.Data {
			c.Data[k] = v
		}
	}
	return c
}

// Warp moves the player to target and returns the previous location.
func (s *Sim) Warp(target string, x, y int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !hasLocation(s.locations, target) {
		return "", fmt.Errorf("%w: %s", ErrNoSuchLocation, target)
	}
	old := s.player.Location
	s.player.Location = target
	s.player.Position = host.Tile{X: x, Y: y}
	return old, nil
}

// SetDown implements input.Device.
func (s *Sim) SetDown(button string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down[button] = true
}

func (s *Sim) SetUp(button string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.down, button)
}

func (s *Sim) Press(button string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.presses = appendBounded(s.presses, button)
}

func (s *Sim) Click(button string, x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mouseX, s.mouseY = x, y
	s.clicks = append(s.clicks, Click{Button: button, X: x, Y: y})
	if len(s.clicks) > maxRecent {
		s.clicks = s.clicks[len(s.clicks)-maxRecent:]
	}
}

func (s *Sim) MousePosition() (int, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mouseX, s.mouseY
}

func (s *Sim) SetMousePosition(x, y int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mouseX, s.mouseY = x, y
}

// Down lists buttons currently held on the device, sorted.
func (s *Sim) Down() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.down))
	for b := range s.down {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// Presses returns the most recent key presses, oldest first.
func (s *Sim) Presses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.presses...)
}

// Clicks returns the most recent mouse clicks, oldest first.
func (s *Sim) Clicks() []Click {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Click(nil), s.clicks...)
}

// Notify implements host.Notifier by logging the message as a HUD message.
func (s *Sim) Notify(msg string) {
	s.mu.Lock()
	s.notices = appendBounded(s.notices, msg)
	s.mu.Unlock()
	s.logger.Info("hud message", "message", msg)
}

func (s *Sim) Notices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.notices...)
}

func appendBounded(list []string, v string) []string {
	list = append(list, v)
	if len(list) > maxRecent {
		list = list[len(list)-maxRecent:]
	}
	return list
}
