package placement

import (
	"sort"
	"time"

	"github.com/dreamware/geocache/internal/index"
	"github.com/dreamware/geocache/internal/store"
)

// SelectEvictions implements spec.md §4.6's target-usage eviction
// selection: entries on nodes whose usage exceeds TargetUsage are
// candidates, chosen in relevance-ascending order (least valuable first)
// until each over-target node is back at or under target.
func SelectEvictions(entries []index.IndexEntry, nodes []NodeCapacity, relevance store.RelevanceFunction, now time.Time) []index.IndexEntry {
	target := targetUsage(nodes)

	usage := make(map[uint32]*NodeCapacity, len(nodes))
	working := make([]NodeCapacity, len(nodes))
	copy(working, nodes)
	for i := range working {
		usage[uint32(working[i].NodeID)] = &working[i]
	}

	byNode := make(map[uint32][]index.IndexEntry)
	for _, e := range entries {
		byNode[uint32(e.NodeID)] = append(byNode[uint32(e.NodeID)], e)
	}

	var evictions []index.IndexEntry
	for nodeID, nodeEntries := range byNode {
		n, ok := usage[nodeID]
		if !ok || n.TotalBytes <= 0 {
			continue
		}
		sort.SliceStable(nodeEntries, func(i, j int) bool {
			return relevance.Score(nodeEntries[i].Access, nodeEntries[i].Cost, now) <
				relevance.Score(nodeEntries[j].Access, nodeEntries[j].Cost, now)
		})

		used := n.UsedBytes
		for _, e := range nodeEntries {
			if float64(used)/float64(n.TotalBytes) <= target {
				break
			}
			evictions = append(evictions, e)
			used -= e.ByteSize
		}
	}
	return evictions
}
