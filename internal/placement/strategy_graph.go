package placement

import (
	"sort"
	"strings"
	"sync"

	"github.com/dreamware/geocache/internal/cacheid"
)

// GraphStrategy groups entries by semantic-id substring containment — a
// semantic id that contains another as a substring is treated as its
// parent in a forest — and packs each root's subtree onto a single node
// via breadth-first traversal, so entries derived from the same
// computation stay co-located. It remembers the order roots were last
// packed in so repeated passes don't needlessly reshuffle stable subtrees
// (spec.md §4.6).
type GraphStrategy struct {
	mu        sync.Mutex
	lastOrder []cacheid.SemanticID
}

// NewGraphStrategy constructs a GraphStrategy with no remembered
// ordering.
func NewGraphStrategy() *GraphStrategy {
	return &GraphStrategy{}
}

// NodeForNewEntry places a new entry on the candidate with the most free
// space that can hold it. It does not look at where the entry's
// substring relatives are cached.
func (g *GraphStrategy) NodeForNewEntry(candidates []NodeCapacity, entry NewEntryInfo) (cacheid.NodeID, error) {
	id, ok := mostFree(candidates, entry.ByteSize)
	if !ok {
		return 0, ErrNoCapacity
	}
	return id, nil
}

// graphNode is one semantic id's node in the containment forest.
type graphNode struct {
	id       cacheid.SemanticID
	parent   cacheid.SemanticID
	hasParent bool
	entries  []PlacedEntry
}

// buildForest groups entries by SemanticID and determines each semantic
// id's nearest containing parent: the shortest other semantic id that
// contains it as a substring (spec.md §4.6 "parent ⊇ child by substring
// containment").
func buildForest(entries []PlacedEntry) map[cacheid.SemanticID]*graphNode {
	bySemID := make(map[cacheid.SemanticID][]PlacedEntry)
	for _, e := range entries {
		bySemID[e.SemanticID] = append(bySemID[e.SemanticID], e)
	}

	ids := make([]cacheid.SemanticID, 0, len(bySemID))
	for id := range bySemID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	nodes := make(map[cacheid.SemanticID]*graphNode, len(ids))
	for _, id := range ids {
		nodes[id] = &graphNode{id: id, entries: bySemID[id]}
	}

	for _, id := range ids {
		var bestParent cacheid.SemanticID
		bestLen := -1
		for _, other := range ids {
			if other == id {
				continue
			}
			if strings.Contains(string(other), string(id)) && (bestLen < 0 || len(other) < bestLen) {
				bestParent = other
				bestLen = len(other)
			}
		}
		if bestLen >= 0 {
			nodes[id].parent = bestParent
			nodes[id].hasParent = true
		}
	}

	return nodes
}

// roots returns every semantic id with no containing parent, in stable
// sorted order.
func roots(nodes map[cacheid.SemanticID]*graphNode) []cacheid.SemanticID {
	var out []cacheid.SemanticID
	for id, n := range nodes {
		if !n.hasParent {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// children returns every node whose parent is id.
func children(nodes map[cacheid.SemanticID]*graphNode, id cacheid.SemanticID) []cacheid.SemanticID {
	var out []cacheid.SemanticID
	for childID, n := range nodes {
		if n.hasParent && n.parent == id {
			out = append(out, childID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Distribute packs each root's subtree, visited breadth-first, onto the
// root's node, assigning roots to nodes round-robin in node-id order.
// Node capacity is not checked.
func (g *GraphStrategy) Distribute(entries []PlacedEntry, nodes []NodeCapacity) ([]MoveItem, error) {
	forest := buildForest(entries)
	rootIDs := g.orderedRoots(forest)

	working := make([]NodeCapacity, len(nodes))
	copy(working, nodes)
	sort.Slice(working, func(i, j int) bool { return working[i].NodeID < working[j].NodeID })

	var moves []MoveItem
	nodeIdx := 0

	for _, rootID := range rootIDs {
		if len(working) == 0 {
			break
		}
		target := working[nodeIdx%len(working)]
		nodeIdx++

		queue := []cacheid.SemanticID{rootID}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			n := forest[id]
			if n == nil {
				continue
			}
			for _, e := range n.entries {
				if e.NodeID != target.NodeID {
					moves = append(moves, MoveItem{
						CacheType:  e.CacheType,
						SemanticID: e.SemanticID,
						EntryID:    e.EntryID,
						From:       e.NodeID,
						To:         target.NodeID,
					})
				}
			}
			queue = append(queue, children(forest, id)...)
		}
	}

	g.mu.Lock()
	g.lastOrder = rootIDs
	g.mu.Unlock()

	return moves, nil
}

// orderedRoots returns this pass's roots, preferring the previous pass's
// order for any root still present so stable subtrees keep their
// assignment across passes, with newly-appeared roots appended after.
func (g *GraphStrategy) orderedRoots(forest map[cacheid.SemanticID]*graphNode) []cacheid.SemanticID {
	current := roots(forest)
	currentSet := make(map[cacheid.SemanticID]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}

	g.mu.Lock()
	previous := g.lastOrder
	g.mu.Unlock()

	var ordered []cacheid.SemanticID
	seen := make(map[cacheid.SemanticID]bool)
	for _, id := range previous {
		if currentSet[id] && !seen[id] {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}
	for _, id := range current {
		if !seen[id] {
			ordered = append(ordered, id)
			seen[id] = true
		}
	}
	return ordered
}

// NodeFailed forgets the remembered root ordering, since a failed node
// invalidates it entirely.
func (g *GraphStrategy) NodeFailed(cacheid.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastOrder = nil
}
