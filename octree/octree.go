// Package octree implements a level-of-detail spatial index over decoded
// splat scenes, independent of any one file format. Nodes live in an arena
// keyed by stable integer ids; the streaming subsystem that owns LOD data
// drives reference counts and a logical clock, and an explicit sweep
// releases cold data instead of relying on garbage collection.
package octree

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"go.viam.com/splat/splat"
)

// NodeID is a stable arena index. The zero value is never a valid id.
type NodeID int

// NoNode marks an absent parent or child reference.
const NoNode NodeID = 0

// Box is an axis-aligned bounding box.
type Box struct {
	Min, Max r3.Vector
}

// Contains reports whether p lies inside the box (inclusive).
func (b Box) Contains(p r3.Vector) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// LODLevel is one level-of-detail rendition of a node's region. Either
// Points is populated inline or Resource names an external payload loaded
// on demand.
type LODLevel struct {
	SplatCount int
	// SSEThreshold is the largest screen-space error this level
	// satisfies.
	SSEThreshold float64
	Points       []splat.Point
	Resource     string

	loaded bool
}

// Loaded reports whether the level's point data is resident.
func (l *LODLevel) Loaded() bool {
	return l.loaded || l.Resource == ""
}

// Node is one octree cell.
type Node struct {
	ID     NodeID
	Bounds Box
	// Levels is ordered finest-first: ascending SSE threshold,
	// descending detail.
	Levels   []LODLevel
	Children []NodeID
	Parent   NodeID
	Depth    int

	refs     int
	lastUsed uint64
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// SelectLOD returns the index of the coarsest level whose threshold the
// given screen-space error meets; if none qualifies the finest level is
// returned.
func (n *Node) SelectLOD(sse float64) int {
	for i := len(n.Levels) - 1; i >= 0; i-- {
		if n.Levels[i].SSEThreshold <= sse {
			return i
		}
	}
	return 0
}

// Arena owns every node of one octree. It is not safe for concurrent
// mutation; the tick counter alone may be advanced from any goroutine.
type Arena struct {
	nodes  map[NodeID]*Node
	nextID NodeID
	tick   atomic.Uint64
}

// NewArena returns an empty node arena.
func NewArena() *Arena {
	return &Arena{nodes: map[NodeID]*Node{}, nextID: 1}
}

// Add validates and inserts a node, assigning and returning its id.
func (a *Arena) Add(n *Node) (NodeID, error) {
	for i := 1; i < len(n.Levels); i++ {
		if n.Levels[i].SSEThreshold < n.Levels[i-1].SSEThreshold {
			return NoNode, errors.Errorf(
				"node levels not finest-first: threshold %g after %g",
				n.Levels[i].SSEThreshold, n.Levels[i-1].SSEThreshold)
		}
	}
	for i := range n.Levels {
		if n.Levels[i].Resource == "" && n.Levels[i].Points != nil {
			n.Levels[i].loaded = true
		}
	}
	n.ID = a.nextID
	a.nextID++
	a.nodes[n.ID] = n
	return n.ID, nil
}

// Node returns the node for an id.
func (a *Arena) Node(id NodeID) (*Node, bool) {
	n, ok := a.nodes[id]
	return n, ok
}

// Len returns the number of nodes in the arena.
func (a *Arena) Len() int {
	return len(a.nodes)
}

// AdvanceTick moves the logical clock forward one step and returns the new
// tick. The caller advances it once per frame or per streaming pass.
func (a *Arena) AdvanceTick() uint64 {
	return a.tick.Inc()
}

// Tick returns the current logical time.
func (a *Arena) Tick() uint64 {
	return a.tick.Load()
}

// Retain pins a node's LOD data against eviction.
func (a *Arena) Retain(id NodeID) {
	if n, ok := a.nodes[id]; ok {
		n.refs++
		n.lastUsed = a.tick.Load()
	}
}

// Release drops a pin taken by Retain.
func (a *Arena) Release(id NodeID) {
	if n, ok := a.nodes[id]; ok && n.refs > 0 {
		n.refs--
		n.lastUsed = a.tick.Load()
	}
}

// Touch records use of a node at the current tick without pinning it.
func (a *Arena) Touch(id NodeID) {
	if n, ok := a.nodes[id]; ok {
		n.lastUsed = a.tick.Load()
	}
}

// SetLevelPoints installs streamed-in point data for one externally backed
// LOD level.
func (a *Arena) SetLevelPoints(id NodeID, level int, pts []splat.Point) error {
	n, ok := a.nodes[id]
	if !ok {
		return errors.Errorf("no node %d", id)
	}
	if level < 0 || level >= len(n.Levels) {
		return errors.Errorf("node %d has no level %d", id, level)
	}
	n.Levels[level].Points = pts
	n.Levels[level].loaded = true
	n.lastUsed = a.tick.Load()
	return nil
}

// EvictSweep releases the point data of every externally backed level on
// unreferenced nodes that have been idle for at least cooldown ticks, and
// returns how many levels were evicted.
func (a *Arena) EvictSweep(now, cooldown uint64) int {
	evicted := 0
	for _, n := range a.nodes {
		if n.refs > 0 || now-n.lastUsed < cooldown {
			continue
		}
		for i := range n.Levels {
			l := &n.Levels[i]
			if l.Resource != "" && l.loaded {
				l.Points = nil
				l.loaded = false
				evicted++
			}
		}
	}
	return evicted
}
