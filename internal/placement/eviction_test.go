package placement

import (
	"testing"
	"time"

	"github.com/dreamware/geocache/internal/index"
	"github.com/dreamware/geocache/internal/store"
)

func entryAccess(t time.Time) store.AccessStats {
	return store.AccessStats{LastAccess: t}
}

func TestSelectEvictionsPicksLeastValuableFirst(t *testing.T) {
	now := time.Now()
	nodes := []NodeCapacity{{NodeID: 1, UsedBytes: 95, TotalBytes: 100}}
	entries := []index.IndexEntry{
		{NodeID: 1, SemanticID: "op/old", EntryID: 1, ByteSize: 50, Access: entryAccess(now.Add(-time.Hour))},
		{NodeID: 1, SemanticID: "op/new", EntryID: 2, ByteSize: 45, Access: entryAccess(now)},
	}

	evictions := SelectEvictions(entries, nodes, LRU{}, now)
	if len(evictions) != 1 || evictions[0].EntryID != 1 {
		t.Errorf("SelectEvictions = %+v, want only the older entry (id 1)", evictions)
	}
}

func TestSelectEvictionsNoneUnderTarget(t *testing.T) {
	now := time.Now()
	nodes := []NodeCapacity{{NodeID: 1, UsedBytes: 10, TotalBytes: 100}}
	entries := []index.IndexEntry{
		{NodeID: 1, SemanticID: "op/a", EntryID: 1, ByteSize: 10, Access: entryAccess(now)},
	}

	if got := SelectEvictions(entries, nodes, LRU{}, now); len(got) != 0 {
		t.Errorf("SelectEvictions under target = %+v, want none", got)
	}
}
