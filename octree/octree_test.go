package octree

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/splat/splat"
)

func TestBoxContains(t *testing.T) {
	b := Box{Min: r3.Vector{X: -1, Y: -1, Z: -1}, Max: r3.Vector{X: 1, Y: 1, Z: 1}}
	test.That(t, b.Contains(r3.Vector{}), test.ShouldBeTrue)
	test.That(t, b.Contains(r3.Vector{X: 1, Y: 1, Z: 1}), test.ShouldBeTrue)
	test.That(t, b.Contains(r3.Vector{X: 1.001}), test.ShouldBeFalse)
	test.That(t, b.Contains(r3.Vector{Y: -2}), test.ShouldBeFalse)
}

func TestSelectLOD(t *testing.T) {
	n := &Node{Levels: []LODLevel{
		{SplatCount: 1000, SSEThreshold: 1},
		{SplatCount: 250, SSEThreshold: 4},
		{SplatCount: 60, SSEThreshold: 16},
	}}

	// Large error tolerates the coarsest level.
	test.That(t, n.SelectLOD(100), test.ShouldEqual, 2)
	test.That(t, n.SelectLOD(16), test.ShouldEqual, 2)
	// Middling error selects the middle level.
	test.That(t, n.SelectLOD(5), test.ShouldEqual, 1)
	// Tiny error falls back to the finest level.
	test.That(t, n.SelectLOD(0.5), test.ShouldEqual, 0)
}

func TestArenaAdd(t *testing.T) {
	a := NewArena()
	id, err := a.Add(&Node{Levels: []LODLevel{
		{SSEThreshold: 1}, {SSEThreshold: 4},
	}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, id, test.ShouldNotEqual, NoNode)
	test.That(t, a.Len(), test.ShouldEqual, 1)

	n, ok := a.Node(id)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, n.ID, test.ShouldEqual, id)
	test.That(t, n.IsLeaf(), test.ShouldBeTrue)

	_, ok = a.Node(NodeID(99))
	test.That(t, ok, test.ShouldBeFalse)
}

func TestArenaAddRejectsUnorderedLevels(t *testing.T) {
	a := NewArena()
	_, err := a.Add(&Node{Levels: []LODLevel{
		{SSEThreshold: 4}, {SSEThreshold: 1},
	}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, a.Len(), test.ShouldEqual, 0)
}

func TestInlineLevelsAreLoaded(t *testing.T) {
	a := NewArena()
	id, err := a.Add(&Node{Levels: []LODLevel{
		{SSEThreshold: 1, Points: make([]splat.Point, 3)},
		{SSEThreshold: 4, Resource: "tile-0-coarse.spz"},
	}})
	test.That(t, err, test.ShouldBeNil)

	n, _ := a.Node(id)
	test.That(t, n.Levels[0].Loaded(), test.ShouldBeTrue)
	test.That(t, n.Levels[1].Loaded(), test.ShouldBeFalse)
}

func TestSetLevelPoints(t *testing.T) {
	a := NewArena()
	id, err := a.Add(&Node{Levels: []LODLevel{
		{SSEThreshold: 1, Resource: "tile-0.spz"},
	}})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, a.SetLevelPoints(id, 0, make([]splat.Point, 5)), test.ShouldBeNil)
	n, _ := a.Node(id)
	test.That(t, n.Levels[0].Loaded(), test.ShouldBeTrue)
	test.That(t, len(n.Levels[0].Points), test.ShouldEqual, 5)

	test.That(t, a.SetLevelPoints(id, 3, nil), test.ShouldNotBeNil)
	test.That(t, a.SetLevelPoints(NodeID(42), 0, nil), test.ShouldNotBeNil)
}

func TestEvictSweep(t *testing.T) {
	a := NewArena()
	id, err := a.Add(&Node{Levels: []LODLevel{
		{SSEThreshold: 1, Resource: "tile.spz"},
	}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.SetLevelPoints(id, 0, make([]splat.Point, 5)), test.ShouldBeNil)

	// Still warm: within the cooldown window nothing is evicted.
	for i := 0; i < 3; i++ {
		a.AdvanceTick()
	}
	test.That(t, a.EvictSweep(a.Tick(), 10), test.ShouldEqual, 0)

	// Cold and unreferenced: evicted.
	for i := 0; i < 20; i++ {
		a.AdvanceTick()
	}
	test.That(t, a.EvictSweep(a.Tick(), 10), test.ShouldEqual, 1)
	n, _ := a.Node(id)
	test.That(t, n.Levels[0].Loaded(), test.ShouldBeFalse)
	test.That(t, n.Levels[0].Points, test.ShouldBeNil)

	// A second sweep finds nothing left to evict.
	test.That(t, a.EvictSweep(a.Tick(), 10), test.ShouldEqual, 0)
}

func TestEvictSweepSkipsRetained(t *testing.T) {
	a := NewArena()
	id, err := a.Add(&Node{Levels: []LODLevel{
		{SSEThreshold: 1, Resource: "tile.spz"},
	}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.SetLevelPoints(id, 0, make([]splat.Point, 2)), test.ShouldBeNil)

	a.Retain(id)
	for i := 0; i < 20; i++ {
		a.AdvanceTick()
	}
	test.That(t, a.EvictSweep(a.Tick(), 5), test.ShouldEqual, 0)

	// Releasing refreshes lastUsed, so the node needs to go cold again.
	a.Release(id)
	test.That(t, a.EvictSweep(a.Tick(), 5), test.ShouldEqual, 0)
	for i := 0; i < 10; i++ {
		a.AdvanceTick()
	}
	test.That(t, a.EvictSweep(a.Tick(), 5), test.ShouldEqual, 1)
}

func TestEvictSweepSkipsInlineLevels(t *testing.T) {
	a := NewArena()
	_, err := a.Add(&Node{Levels: []LODLevel{
		{SSEThreshold: 1, Points: make([]splat.Point, 4)},
	}})
	test.That(t, err, test.ShouldBeNil)
	for i := 0; i < 20; i++ {
		a.AdvanceTick()
	}
	// Inline levels have no resource to reload from; they are never swept.
	test.That(t, a.EvictSweep(a.Tick(), 5), test.ShouldEqual, 0)
}

func TestTouchRefreshesIdleClock(t *testing.T) {
	a := NewArena()
	id, err := a.Add(&Node{Levels: []LODLevel{
		{SSEThreshold: 1, Resource: "tile.spz"},
	}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a.SetLevelPoints(id, 0, make([]splat.Point, 1)), test.ShouldBeNil)

	for i := 0; i < 20; i++ {
		a.AdvanceTick()
	}
	a.Touch(id)
	test.That(t, a.EvictSweep(a.Tick(), 5), test.ShouldEqual, 0)
}
