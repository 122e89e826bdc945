// Package world is a simulated host used to run the bridge without the
// game. A YAML world file describes the locations, buildings and player; the
// resulting Sim serves as navigation world, host state, input device and
// notifier.
package world

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/mattjoyce/voxbridge/internal/navgraph"
)

//go:embed world.schema.json
var schemaJSON []byte

//go:embed default.yaml
var defaultWorld []byte

const schemaURL = "world.schema.json"

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// File is the on-disk world description.
type File struct {
	Player       Player              `yaml:"player"`
	SuspendMenus []string            `yaml:"suspend_menus"`
	Locations    []navgraph.Location `yaml:"locations"`
}

// Player is the starting player state.
type Player struct {
	Location string  `yaml:"location"`
	X        int     `yaml:"x"`
	Y        int     `yaml:"y"`
	Facing   int     `yaml:"facing"`
	Money    int     `yaml:"money"`
	Health   int     `yaml:"health"`
	Stamina  float64 `yaml:"stamina"`
	Tool     string  `yaml:"tool"`
}

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource(schemaURL, bytes.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("add world schema: %w", err)
			return
		}
		schema, schemaErr = c.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Default returns the built-in world.
func Default() (*File, error) {
	return Parse(defaultWorld)
}

// LoadFile reads and validates a world file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read world file: %w", err)
	}
	return Parse(data)
}

// Parse validates YAML world data against the schema and decodes it.
func Parse(data []byte) (*File, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse world yaml: %w", err)
	}
	// Round trip through JSON so the validator sees JSON number types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert world yaml: %w", err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("convert world yaml: %w", err)
	}

	s, err := compiledSchema()
	if err != nil {
		return nil, err
	}
	if err := s.Validate(generic); err != nil {
		return nil, fmt.Errorf("invalid world file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode world file: %w", err)
	}
	if f.Player.Health == 0 {
		f.Player.Health = 100
	}
	if f.Player.Stamina == 0 {
		f.Player.Stamina = 270
	}
	if !hasLocation(f.Locations, f.Player.Location) {
		return nil, fmt.Errorf("invalid world file: player location %q is not defined", f.Player.Location)
	}
	return &f, nil
}

func hasLocation(locs []navgraph.Location, name string) bool {
	for _, l := range locs {
		if l.Name == name {
			return true
		}
		for _, b := range l.Buildings {
			if b.Interior != nil && hasLocation([]navgraph.Location{*b.Interior}, name) {
				return true
			}
		}
	}
	return false
}
