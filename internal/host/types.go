package host

// Menu is an acyclic snapshot of the active menu.
type Menu struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Tile is a map coordinate.
type Tile struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// PlayerStatus is the PLAYER_STATUS snapshot.
type PlayerStatus struct {
	Location    string  `json:"location"`
	Position    Tile    `json:"position"`
	Facing      int     `json:"facingDirection"`
	Money       int     `json:"money"`
	Health      int     `json:"health"`
	Stamina     float64 `json:"stamina"`
	CanMove     bool    `json:"canMove"`
	CurrentTool string  `json:"currentTool,omitempty"`
}
