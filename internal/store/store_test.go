package store

import (
	"testing"
	"time"

	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cube"
)

// fifoRelevance scores entries by LastAccess, so the oldest-touched
// entry is always evicted first — a simple, deterministic stand-in for
// LRU in these tests.
type fifoRelevance struct{}

func newFifoRelevance() *fifoRelevance {
	return &fifoRelevance{}
}

func (f *fifoRelevance) Score(access AccessStats, cost CostProfile, now time.Time) float64 {
	// More recently inserted/accessed entries score higher (more
	// valuable, evicted last); the oldest LastAccess always scores
	// lowest and is evicted first.
	return float64(access.LastAccess.UnixNano())
}

func boundsOf(c cube.Cube) cube.CacheCube {
	return cube.CacheCube{Cube: c, Resolution: cube.NoResolution}
}

func fullCube() cube.Cube {
	return cube.Cube{
		X: cube.Interval{Lo: 0, Hi: 10},
		Y: cube.Interval{Lo: 0, Hi: 10},
		T: cube.Interval{Lo: 0, Hi: 10},
	}
}

func TestStorePutGet(t *testing.T) {
	s := New(cachetype.Raster, 1024, newFifoRelevance())

	id, err := s.Put("op/a", []byte("hello"), boundsOf(fullCube()), CostProfile{})
	if err != nil {
		t.Fatalf("Put returned error: %v", err)
	}

	entry, err := s.Get("op/a", id)
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if string(entry.Payload) != "hello" {
		t.Errorf("Payload = %q, want %q", entry.Payload, "hello")
	}
	if entry.Access.AccessCount != 1 {
		t.Errorf("AccessCount = %d, want 1", entry.Access.AccessCount)
	}
}

func TestStoreGetMissing(t *testing.T) {
	s := New(cachetype.Raster, 1024, newFifoRelevance())
	if _, err := s.Get("op/a", 999); err != ErrNoSuchEntry {
		t.Errorf("Get on missing entry = %v, want ErrNoSuchEntry", err)
	}
}

func TestStorePutExceedsBudgetOutright(t *testing.T) {
	s := New(cachetype.Raster, 4, newFifoRelevance())
	if _, err := s.Put("op/a", []byte("too big"), boundsOf(fullCube()), CostProfile{}); err != ErrInsufficientCapacity {
		t.Errorf("Put oversized payload = %v, want ErrInsufficientCapacity", err)
	}
}

func TestStorePutEvictsToMakeRoom(t *testing.T) {
	s := New(cachetype.Raster, 10, newFifoRelevance())

	id1, err := s.Put("op/a", []byte("12345"), boundsOf(fullCube()), CostProfile{})
	if err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := s.Put("op/a", []byte("67890"), boundsOf(fullCube()), CostProfile{}); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}
	time.Sleep(time.Millisecond)

	// Third put needs room the budget doesn't otherwise have; the first
	// (oldest) entry must be evicted to make space.
	if _, err := s.Put("op/a", []byte("abcde"), boundsOf(fullCube()), CostProfile{}); err != nil {
		t.Fatalf("third Put failed: %v", err)
	}

	if _, err := s.Get("op/a", id1); err != ErrNoSuchEntry {
		t.Errorf("expected the oldest entry to have been evicted, got err=%v", err)
	}
}

func TestStoreRemoveIdempotent(t *testing.T) {
	s := New(cachetype.Raster, 1024, newFifoRelevance())
	id, _ := s.Put("op/a", []byte("hello"), boundsOf(fullCube()), CostProfile{})

	if err := s.Remove("op/a", id); err != nil {
		t.Fatalf("first Remove failed: %v", err)
	}
	if err := s.Remove("op/a", id); err != ErrNoSuchEntry {
		t.Errorf("second Remove = %v, want ErrNoSuchEntry (idempotent)", err)
	}
}

func TestStoreQueryHit(t *testing.T) {
	s := New(cachetype.Raster, 1024, newFifoRelevance())
	id, _ := s.Put("op/a", []byte("hello"), boundsOf(fullCube()), CostProfile{})

	q := cube.QueryCube{Cube: cube.Cube{
		X: cube.Interval{Lo: 1, Hi: 2},
		Y: cube.Interval{Lo: 1, Hi: 2},
		T: cube.Interval{Lo: 1, Hi: 2},
	}}
	result := s.Query("op/a", q)
	if result.Kind != cube.Hit || result.HitKey != id {
		t.Errorf("Query result = %+v, want Hit(%v)", result, id)
	}
}

func TestStoreQueryMissUnknownSemanticID(t *testing.T) {
	s := New(cachetype.Raster, 1024, newFifoRelevance())
	result := s.Query("unknown", cube.QueryCube{Cube: fullCube()})
	if result.Kind != cube.Miss {
		t.Errorf("Query on unknown semantic id = %v, want Miss", result.Kind)
	}
}

func TestStoreGetStatsDeltaResetsCounter(t *testing.T) {
	s := New(cachetype.Raster, 1024, newFifoRelevance())
	id, _ := s.Put("op/a", []byte("hello"), boundsOf(fullCube()), CostProfile{})
	s.Get("op/a", id)
	s.Get("op/a", id)

	deltas := s.GetStatsDelta()
	if len(deltas) != 1 || deltas[0].AccessCount != 2 {
		t.Fatalf("GetStatsDelta = %+v, want one entry with AccessCount 2", deltas)
	}

	if deltas := s.GetStatsDelta(); len(deltas) != 0 {
		t.Errorf("second GetStatsDelta = %+v, want none (counters reset)", deltas)
	}
}
