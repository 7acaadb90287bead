package placement

import (
	"testing"

	"github.com/dreamware/geocache/internal/cacheid"
)

func TestCapacityStrategyNodeForNewEntryPicksMostFree(t *testing.T) {
	c := NewCapacityStrategy()
	nodes := []NodeCapacity{
		{NodeID: 1, UsedBytes: 90, TotalBytes: 100},
		{NodeID: 2, UsedBytes: 10, TotalBytes: 100},
	}
	got, err := c.NodeForNewEntry(nodes, NewEntryInfo{ByteSize: 5})
	if err != nil {
		t.Fatalf("NodeForNewEntry returned error: %v", err)
	}
	if got != 2 {
		t.Errorf("NodeForNewEntry = %v, want node 2 (most free space)", got)
	}
}

func TestCapacityStrategyNodeForNewEntryNoRoom(t *testing.T) {
	c := NewCapacityStrategy()
	nodes := []NodeCapacity{{NodeID: 1, UsedBytes: 99, TotalBytes: 100}}
	if _, err := c.NodeForNewEntry(nodes, NewEntryInfo{ByteSize: 50}); err != ErrNoCapacity {
		t.Errorf("NodeForNewEntry with no room = %v, want ErrNoCapacity", err)
	}
}

func TestCapacityStrategyDistributeMovesOverflow(t *testing.T) {
	c := NewCapacityStrategy()
	nodes := []NodeCapacity{
		{NodeID: 1, UsedBytes: 95, TotalBytes: 100},
		{NodeID: 2, UsedBytes: 5, TotalBytes: 100},
	}
	entries := []PlacedEntry{
		{NodeID: 1, SemanticID: "op/a", EntryID: 1, ByteSize: 10},
	}
	moves, err := c.Distribute(entries, nodes)
	if err != nil {
		t.Fatalf("Distribute returned error: %v", err)
	}
	if len(moves) != 1 || moves[0].To != cacheid.NodeID(2) {
		t.Errorf("Distribute = %+v, want one move to node 2", moves)
	}
}

func TestCapacityStrategyDistributeLeavesUnderTargetInPlace(t *testing.T) {
	c := NewCapacityStrategy()
	nodes := []NodeCapacity{
		{NodeID: 1, UsedBytes: 10, TotalBytes: 100},
		{NodeID: 2, UsedBytes: 10, TotalBytes: 100},
	}
	entries := []PlacedEntry{{NodeID: 1, SemanticID: "op/a", EntryID: 1, ByteSize: 5}}
	moves, err := c.Distribute(entries, nodes)
	if err != nil {
		t.Fatalf("Distribute returned error: %v", err)
	}
	if len(moves) != 0 {
		t.Errorf("Distribute = %+v, want no moves (both nodes under target)", moves)
	}
}
