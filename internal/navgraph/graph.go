// Package navgraph builds a directed graph of the host's loaded locations
// and answers shortest-route queries over it.
//
// The graph is an immutable snapshot published through an atomic pointer.
// Topology changes bump a generation counter; a snapshot built for an older
// generation is stale and never served. The next query rebuilds it wholesale
// under a mutex, so readers either see a current snapshot in full or wait for
// the new one.
package navgraph

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/zeebo/blake3"

	"github.com/mattjoyce/voxbridge/internal/log"
)

var (
	// ErrUnknownLocation means a name is not a node of the current graph.
	ErrUnknownLocation = errors.New("unknown location")
	// ErrNoConnection means two locations are not adjacent.
	ErrNoConnection = errors.New("no connection between locations")
)

// Node is one location in a snapshot. Building is the name of the building
// owning this location as its interior, empty for top-level locations.
type Node struct {
	Name     string
	Outdoors bool
	Building string
}

type snapshot struct {
	gen   uint64
	nodes map[string]Node
	edges map[string][]Connection
	order []string
}

// Graph caches the navigation graph for a World.
type Graph struct {
	world World

	current atomic.Pointer[snapshot]
	gen     atomic.Uint64

	mu       sync.Mutex // serialises rebuilds
	onChange func(fingerprint string, nodes int)
	logger   *slog.Logger
}

// New creates a graph over w. Nothing is built until the first query or an
// explicit Rebuild.
func New(w World) *Graph {
	g := &Graph{world: w, logger: log.WithComponent("navgraph")}
	g.gen.Store(1)
	return g
}

// OnRebuild installs a callback fired after every rebuild.
func (g *Graph) OnRebuild(fn func(fingerprint string, nodes int)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onChange = fn
}

// Invalidate marks the graph stale; the next query rebuilds it. Queries
// issued after Invalidate returns never see the previous snapshot.
func (g *Graph) Invalidate() {
	g.gen.Add(1)
}

// Ready reports whether a fresh snapshot is published.
func (g *Graph) Ready() bool {
	return g.fresh() != nil
}

func (g *Graph) fresh() *snapshot {
	if snap := g.current.Load(); snap != nil && snap.gen == g.gen.Load() {
		return snap
	}
	return nil
}

// Reset rebuilds immediately. Used on save load.
func (g *Graph) Reset() {
	g.Invalidate()
	g.Rebuild()
}

// Rebuild enumerates the world and atomically replaces the snapshot.
func (g *Graph) Rebuild() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rebuildLocked()
}

func (g *Graph) rebuildLocked() *snapshot {
	// Read the generation first: an Invalidate during enumeration leaves the
	// new snapshot stale and forces another pass.
	gen := g.gen.Load()
	snap := build(g.world.Locations(), g.logger)
	snap.gen = gen
	g.current.Store(snap)

	fp := snap.fingerprint()
	g.logger.Debug("navigation graph rebuilt", "nodes", len(snap.order), "fingerprint", fp)
	if g.onChange != nil {
		g.onChange(fp, len(snap.order))
	}
	return snap
}

func (g *Graph) snapshot() *snapshot {
	if snap := g.fresh(); snap != nil {
		return snap
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if snap := g.fresh(); snap != nil {
		return snap
	}
	return g.rebuildLocked()
}

func build(locations []Location, logger *slog.Logger) *snapshot {
	snap := &snapshot{
		nodes: make(map[string]Node),
		edges: make(map[string][]Connection),
	}

	var all []Location
	var collect func(loc Location, owner string)
	collect = func(loc Location, owner string) {
		if strings.TrimSpace(loc.Name) == "" {
			return
		}
		if _, dup := snap.nodes[loc.Name]; dup {
			logger.Debug("duplicate location skipped", "location", loc.Name)
			return
		}
		snap.nodes[loc.Name] = Node{Name: loc.Name, Outdoors: loc.Outdoors, Building: owner}
		snap.order = append(snap.order, loc.Name)
		all = append(all, loc)
		for _, b := range loc.Buildings {
			if b.Interior != nil {
				collect(*b.Interior, b.Name)
			}
		}
	}
	for _, loc := range locations {
		collect(loc, "")
	}

	for _, loc := range all {
		edges := make([]Connection, 0, len(loc.Warps)+len(loc.Doors)+len(loc.Buildings))
		for _, w := range loc.Warps {
			target, ok := snap.nodes[w.Target]
			if !ok {
				continue
			}
			edges = append(edges, Connection{TargetName: w.Target, X: w.X, Y: w.Y, TargetIsOutdoors: target.Outdoors})
		}
		for _, d := range loc.Doors {
			target, ok := snap.nodes[d.Target]
			if !ok {
				logger.Debug("door target not loaded", "location", loc.Name, "target", d.Target)
				continue
			}
			edges = append(edges, Connection{TargetName: d.Target, X: d.X, Y: d.Y, IsDoor: true, TargetIsOutdoors: target.Outdoors})
		}
		for _, b := range loc.Buildings {
			if b.Interior == nil || b.Interior.Name == "" {
				continue
			}
			edges = append(edges, Connection{
				TargetName: b.Interior.Name,
				X:          b.DoorX + b.TileX,
				Y:          b.DoorY + b.TileY,
				IsDoor:     true,
			})
		}
		snap.edges[loc.Name] = edges
	}
	return snap
}

// FindRoute runs a breadth-first search from start, visiting neighbours in
// edge order, and returns the path to the first dequeued node satisfying
// isTarget, start first. found is false when no node matches.
func (g *Graph) FindRoute(start string, isTarget func(Node) bool) (route []string, found bool, err error) {
	return g.snapshot().findRoute(start, isTarget)
}

func (s *snapshot) findRoute(start string, isTarget func(Node) bool) ([]string, bool, error) {
	if _, ok := s.nodes[start]; !ok {
		return nil, false, fmt.Errorf("%w: %s", ErrUnknownLocation, start)
	}

	prev := map[string]string{}
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if isTarget(s.nodes[cur]) {
			return reconstruct(cur, prev), true, nil
		}
		for _, e := range s.edges[cur] {
			if seen[e.TargetName] {
				continue
			}
			seen[e.TargetName] = true
			prev[e.TargetName] = cur
			queue = append(queue, e.TargetName)
		}
	}
	return nil, false, nil
}

// FindRouteTo routes to the location named target, or to the interior of the
// building named target. A location name takes precedence over a building
// name; a building name shared by several buildings matches any of their
// interiors, nearest first.
func (g *Graph) FindRouteTo(start, target string) ([]string, bool, error) {
	snap := g.snapshot()
	if _, ok := snap.nodes[target]; ok {
		return snap.findRoute(start, func(n Node) bool { return n.Name == target })
	}
	return snap.findRoute(start, func(n Node) bool { return n.Building != "" && n.Building == target })
}

func reconstruct(last string, prev map[string]string) []string {
	route := []string{last}
	for cur := last; ; {
		p, ok := prev[cur]
		if !ok {
			break
		}
		route = append(route, p)
		cur = p
	}
	for i, j := 0, len(route)-1; i < j; i, j = i+1, j-1 {
		route[i], route[j] = route[j], route[i]
	}
	return route
}

// Connection returns the edge leading from one location to an adjacent one.
func (g *Graph) Connection(from, to string) (Connection, error) {
	snap := g.snapshot()
	edges, ok := snap.edges[from]
	if !ok {
		return Connection{}, fmt.Errorf("%w: %s", ErrUnknownLocation, from)
	}
	for _, e := range edges {
		if e.TargetName == to {
			return e, nil
		}
	}
	return Connection{}, fmt.Errorf("%w: %s -> %s", ErrNoConnection, from, to)
}

// Location looks up a node by name.
func (g *Graph) Location(name string) (Node, error) {
	snap := g.snapshot()
	n, ok := snap.nodes[name]
	if !ok {
		return Node{}, fmt.Errorf("%w: %s", ErrUnknownLocation, name)
	}
	return n, nil
}

// Nodes returns node names in enumeration order.
func (g *Graph) Nodes() []string {
	snap := g.snapshot()
	return append([]string(nil), snap.order...)
}

// Edges returns a copy of the adjacency map.
func (g *Graph) Edges() map[string][]Connection {
	snap := g.snapshot()
	out := make(map[string][]Connection, len(snap.edges))
	for k, v := range snap.edges {
		out[k] = append([]Connection(nil), v...)
	}
	return out
}

// Fingerprint digests the node and edge sets. Equal topologies give equal
// fingerprints regardless of enumeration order.
func (g *Graph) Fingerprint() string {
	return g.snapshot().fingerprint()
}

func (s *snapshot) fingerprint() string {
	names := append([]string(nil), s.order...)
	sort.Strings(names)

	h := blake3.New()
	var buf [8]byte
	writeStr := func(v string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(v)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(v))
	}
	writeInt := func(v int) {
		binary.LittleEndian.PutUint64(buf[:], uint64(int64(v)))
		_, _ = h.Write(buf[:])
	}
	for _, name := range names {
		n := s.nodes[name]
		writeStr(n.Name)
		writeStr(n.Building)
		edges := append([]Connection(nil), s.edges[name]...)
		sort.SliceStable(edges, func(i, j int) bool {
			if edges[i].TargetName != edges[j].TargetName {
				return edges[i].TargetName < edges[j].TargetName
			}
			if edges[i].X != edges[j].X {
				return edges[i].X < edges[j].X
			}
			return edges[i].Y < edges[j].Y
		})
		writeInt(len(edges))
		for _, e := range edges {
			writeStr(e.TargetName)
			writeInt(e.X)
			writeInt(e.Y)
			if e.IsDoor {
				writeInt(1)
			} else {
				writeInt(0)
			}
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
