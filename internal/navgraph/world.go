package navgraph

//go:generate mockgen -destination=mocks/mock_world.go -package=mocks github.com/mattjoyce/voxbridge/internal/navgraph World

// World exposes the host's currently loaded locations. Implementations
// return acyclic value snapshots; the graph never holds live host objects.
type World interface {
	Locations() []Location
}

// Location is one loaded map in the host world.
type Location struct {
	Name      string     `json:"name" yaml:"name"`
	Outdoors  bool       `json:"outdoors" yaml:"outdoors"`
	Warps     []Warp     `json:"warps,omitempty" yaml:"warps"`
	Doors     []Door     `json:"doors,omitempty" yaml:"doors"`
	Buildings []Building `json:"buildings,omitempty" yaml:"buildings"`
}

// Warp is a walk-off tile that moves the player to Target.
type Warp struct {
	X      int    `json:"x" yaml:"x"`
	Y      int    `json:"y" yaml:"y"`
	Target string `json:"target" yaml:"target"`
}

// Door is an interactable tile leading to Target.
type Door struct {
	X      int    `json:"x" yaml:"x"`
	Y      int    `json:"y" yaml:"y"`
	Target string `json:"target" yaml:"target"`
}

// Building is a structure placed on a location. Its door is relative to the
// building's tile origin. Interior is nil for buildings that cannot be entered.
type Building struct {
	Name     string    `json:"name" yaml:"name"`
	TileX    int       `json:"tile_x" yaml:"tile_x"`
	TileY    int       `json:"tile_y" yaml:"tile_y"`
	DoorX    int       `json:"door_x" yaml:"door_x"`
	DoorY    int       `json:"door_y" yaml:"door_y"`
	Interior *Location `json:"interior,omitempty" yaml:"interior"`
}

// Connection is a directed edge from one location to another.
type Connection struct {
	TargetName       string `json:"targetName"`
	X                int    `json:"x"`
	Y                int    `json:"y"`
	IsDoor           bool   `json:"isDoor"`
	TargetIsOutdoors bool   `json:"targetIsOutdoors"`
}
