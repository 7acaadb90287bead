package index

import (
	"testing"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cube"
)

func fullCube() cube.Cube {
	return cube.Cube{
		X: cube.Interval{Lo: 0, Hi: 10},
		Y: cube.Interval{Lo: 0, Hi: 10},
		T: cube.Interval{Lo: 0, Hi: 10},
	}
}

func TestDirectoryPublishAndResolveHit(t *testing.T) {
	d := NewDirectory()
	entry := IndexEntry{
		NodeID:     cacheid.NodeID(1),
		SemanticID: "op/a",
		EntryID:    cacheid.EntryID(1),
		Bounds:     cube.CacheCube{Cube: fullCube(), Resolution: cube.NoResolution},
	}
	d.Publish(cachetype.Raster, entry)

	q := cube.QueryCube{Cube: cube.Cube{
		X: cube.Interval{Lo: 1, Hi: 2},
		Y: cube.Interval{Lo: 1, Hi: 2},
		T: cube.Interval{Lo: 1, Hi: 2},
	}}
	result := d.Resolve(cachetype.Raster, "op/a", q)
	if result.Kind != cube.Hit {
		t.Fatalf("Resolve = %+v, want Hit", result)
	}
	if result.HitKey.NodeID != entry.NodeID || result.HitKey.EntryID != entry.EntryID {
		t.Errorf("HitKey = %+v, want {%v %v}", result.HitKey, entry.NodeID, entry.EntryID)
	}
}

func TestDirectoryResolveMissUnknownSemanticID(t *testing.T) {
	d := NewDirectory()
	result := d.Resolve(cachetype.Raster, "nope", cube.QueryCube{Cube: fullCube()})
	if result.Kind != cube.Miss {
		t.Errorf("Resolve on empty directory = %v, want Miss", result.Kind)
	}
}

func TestDirectoryConfirmRemoval(t *testing.T) {
	d := NewDirectory()
	entry := IndexEntry{NodeID: 1, SemanticID: "op/a", EntryID: 1, Bounds: cube.CacheCube{Cube: fullCube()}}
	d.Publish(cachetype.Raster, entry)
	d.ConfirmRemoval(cachetype.Raster, "op/a", 1, 1)

	result := d.Resolve(cachetype.Raster, "op/a", cube.QueryCube{Cube: fullCube()})
	if result.Kind != cube.Miss {
		t.Errorf("Resolve after ConfirmRemoval = %v, want Miss", result.Kind)
	}
}

func TestDirectoryCompleteMove(t *testing.T) {
	d := NewDirectory()
	src := IndexEntry{NodeID: 1, SemanticID: "op/a", EntryID: 1, Bounds: cube.CacheCube{Cube: fullCube()}}
	d.Publish(cachetype.Raster, src)

	dst := IndexEntry{NodeID: 2, SemanticID: "op/a", EntryID: 5, Bounds: cube.CacheCube{Cube: fullCube()}}
	d.CompleteMove(cachetype.Raster, "op/a", Ref{NodeID: 1, EntryID: 1}, dst)

	result := d.Resolve(cachetype.Raster, "op/a", cube.QueryCube{Cube: fullCube()})
	if result.Kind != cube.Hit || result.HitKey.NodeID != 2 {
		t.Errorf("Resolve after CompleteMove = %+v, want Hit on node 2", result)
	}
}

func TestDirectoryDropNode(t *testing.T) {
	d := NewDirectory()
	d.Publish(cachetype.Raster, IndexEntry{NodeID: 1, SemanticID: "op/a", EntryID: 1, Bounds: cube.CacheCube{Cube: fullCube()}})
	d.Publish(cachetype.Points, IndexEntry{NodeID: 1, SemanticID: "op/b", EntryID: 2, Bounds: cube.CacheCube{Cube: fullCube()}})
	d.Publish(cachetype.Raster, IndexEntry{NodeID: 2, SemanticID: "op/a", EntryID: 3, Bounds: cube.CacheCube{Cube: fullCube()}})

	d.DropNode(1)

	if got := d.AllForNode(1); len(got) != 0 {
		t.Errorf("AllForNode(1) after DropNode = %v, want none", got)
	}
	if got := d.AllForNode(2); len(got) != 1 {
		t.Errorf("AllForNode(2) after DropNode(1) = %v, want 1 entry untouched", got)
	}
}
