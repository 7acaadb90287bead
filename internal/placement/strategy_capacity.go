package placement

import (
	"github.com/dreamware/geocache/internal/cacheid"
)

// CapacityStrategy balances bytes across nodes: a new entry goes to
// whichever candidate currently has the most free space, and a reorg
// pass tries to leave entries where they are, moving only the overflow
// from over-target nodes to whichever node has the most room at the time
// — re-sorting after every placement so no single node is starved
// (spec.md §4.6).
type CapacityStrategy struct{}

// NewCapacityStrategy constructs a CapacityStrategy. It carries no state
// between calls.
func NewCapacityStrategy() *CapacityStrategy {
	return &CapacityStrategy{}
}

// NodeForNewEntry implements ReorgStrategy.
func (c *CapacityStrategy) NodeForNewEntry(candidates []NodeCapacity, entry NewEntryInfo) (cacheid.NodeID, error) {
	best, ok := mostFree(candidates, entry.ByteSize)
	if !ok {
		return 0, ErrNoCapacity
	}
	return best, nil
}

// mostFree returns the candidate with the most free space that can still
// fit size bytes, or false if none can.
func mostFree(candidates []NodeCapacity, size int64) (cacheid.NodeID, bool) {
	best := -1
	var bestFree int64 = -1
	for i, n := range candidates {
		if n.FreeBytes() < size {
			continue
		}
		if n.FreeBytes() > bestFree {
			bestFree = n.FreeBytes()
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return candidates[best].NodeID, true
}

// Distribute implements ReorgStrategy: entries on nodes whose usage
// exceeds the target ratio (spec.md §4.6's min(total_used/total_cap,
// 0.8)) are moved, relevance-ascending per the caller's ordering of
// entries, to whichever node currently has the most free space.
func (c *CapacityStrategy) Distribute(entries []PlacedEntry, nodes []NodeCapacity) ([]MoveItem, error) {
	byNode := make(map[cacheid.NodeID]*NodeCapacity, len(nodes))
	working := make([]NodeCapacity, len(nodes))
	copy(working, nodes)
	for i := range working {
		byNode[working[i].NodeID] = &working[i]
	}

	target := targetUsage(nodes)

	var moves []MoveItem
	for _, e := range entries {
		src, ok := byNode[e.NodeID]
		if !ok || src.TotalBytes <= 0 || float64(src.UsedBytes)/float64(src.TotalBytes) <= target {
			continue
		}

		dst, found := mostFreeExcluding(working, e.ByteSize, e.NodeID)
		if !found {
			continue
		}
		moves = append(moves, MoveItem{CacheType: e.CacheType, SemanticID: e.SemanticID, EntryID: e.EntryID, From: e.NodeID, To: dst})

		src.UsedBytes -= e.ByteSize
		byNode[dst].UsedBytes += e.ByteSize
	}
	return moves, nil
}

func mostFreeExcluding(nodes []NodeCapacity, size int64, exclude cacheid.NodeID) (cacheid.NodeID, bool) {
	best := -1
	var bestFree int64 = -1
	for i, n := range nodes {
		if n.NodeID == exclude || n.FreeBytes() < size {
			continue
		}
		if n.FreeBytes() > bestFree {
			bestFree = n.FreeBytes()
			best = i
		}
	}
	if best == -1 {
		return 0, false
	}
	return nodes[best].NodeID, true
}

// targetUsage implements spec.md §4.6's target_usage = min(total_used /
// total_cap, 0.8).
func targetUsage(nodes []NodeCapacity) float64 {
	var usedSum, capSum int64
	for _, n := range nodes {
		usedSum += n.UsedBytes
		capSum += n.TotalBytes
	}
	if capSum <= 0 {
		return 0.8
	}
	ratio := float64(usedSum) / float64(capSum)
	if ratio > 0.8 {
		return 0.8
	}
	return ratio
}

// NodeFailed implements ReorgStrategy. CapacityStrategy carries no
// per-node state to forget.
func (c *CapacityStrategy) NodeFailed(cacheid.NodeID) {}
