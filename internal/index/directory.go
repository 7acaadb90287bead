package index

import (
	"sync"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/store"
)

// IndexEntry mirrors one node's stored entry, without its payload: enough
// to resolve queries and drive placement decisions from the coordinator.
// Access is folded in from each node's periodic STATS reports (spec.md
// §6), not updated on every query the way the node-local copy is; Cost
// is whatever the entry passed to Publish or CompleteMove carried.
type IndexEntry struct {
	CacheType  cachetype.CacheType
	NodeID     cacheid.NodeID
	SemanticID cacheid.SemanticID
	EntryID    cacheid.EntryID
	Bounds     cube.CacheCube
	ByteSize   int64
	Access     store.AccessStats
	Cost       store.CostProfile
}

// Ref identifies a resolved entry by the node that owns it and its id on
// that node — the pair a client needs to fetch the payload from delivery.
type Ref struct {
	NodeID  cacheid.NodeID
	EntryID cacheid.EntryID
}

type typeIndex struct {
	mu       sync.RWMutex
	bySemID  map[cacheid.SemanticID][]IndexEntry
}

// Directory is the coordinator's mirror of every node's local stores,
// keyed by CacheType then SemanticID. Safe for concurrent use; every
// accessor returns copies so callers can never mutate internal state
// (same discipline as the teacher's ShardRegistry).
type Directory struct {
	mu      sync.RWMutex
	byType  map[cachetype.CacheType]*typeIndex
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{byType: make(map[cachetype.CacheType]*typeIndex)}
}

func (d *Directory) typeIndexFor(ct cachetype.CacheType, create bool) *typeIndex {
	d.mu.RLock()
	ti, ok := d.byType[ct]
	d.mu.RUnlock()
	if ok || !create {
		return ti
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if ti, ok = d.byType[ct]; ok {
		return ti
	}
	ti = &typeIndex{bySemID: make(map[cacheid.SemanticID][]IndexEntry)}
	d.byType[ct] = ti
	return ti
}

// Publish records a newly stored entry, called when a node reports a
// successful Put (spec.md §4.3 event i).
func (d *Directory) Publish(ct cachetype.CacheType, entry IndexEntry) {
	entry.CacheType = ct
	ti := d.typeIndexFor(ct, true)
	ti.mu.Lock()
	defer ti.mu.Unlock()
	ti.bySemID[entry.SemanticID] = append(ti.bySemID[entry.SemanticID], entry)
}

// ConfirmRemoval drops an entry once its owning node has confirmed the
// removal (spec.md §4.3 event ii).
func (d *Directory) ConfirmRemoval(ct cachetype.CacheType, semanticID cacheid.SemanticID, nodeID cacheid.NodeID, entryID cacheid.EntryID) {
	ti := d.typeIndexFor(ct, false)
	if ti == nil {
		return
	}
	ti.mu.Lock()
	defer ti.mu.Unlock()
	entries := ti.bySemID[semanticID]
	for i, e := range entries {
		if e.NodeID == nodeID && e.EntryID == entryID {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(entries) == 0 {
		delete(ti.bySemID, semanticID)
	} else {
		ti.bySemID[semanticID] = entries
	}
}

// CompleteMove atomically replaces a source entry with its destination
// once a move finishes (spec.md §4.3 event iii, §4.8 Move state
// SOURCE_DROPPED). The destination entry is filed under ct and
// semanticID.
func (d *Directory) CompleteMove(ct cachetype.CacheType, semanticID cacheid.SemanticID, from Ref, to IndexEntry) {
	to.CacheType = ct
	to.SemanticID = semanticID
	ti := d.typeIndexFor(ct, true)
	ti.mu.Lock()
	defer ti.mu.Unlock()
	entries := ti.bySemID[semanticID]
	for i, e := range entries {
		if e.NodeID == from.NodeID && e.EntryID == from.EntryID {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	ti.bySemID[semanticID] = append(entries, to)
}

// DropNode removes every entry owned by nodeID across every CacheType,
// called when a node transitions to GONE (spec.md §6, §4.8).
func (d *Directory) DropNode(nodeID cacheid.NodeID) {
	d.mu.RLock()
	indices := make([]*typeIndex, 0, len(d.byType))
	for _, ti := range d.byType {
		indices = append(indices, ti)
	}
	d.mu.RUnlock()

	for _, ti := range indices {
		ti.mu.Lock()
		for semID, entries := range ti.bySemID {
			kept := entries[:0:0]
			for _, e := range entries {
				if e.NodeID != nodeID {
					kept = append(kept, e)
				}
			}
			if len(kept) == 0 {
				delete(ti.bySemID, semID)
			} else {
				ti.bySemID[semID] = kept
			}
		}
		ti.mu.Unlock()
	}
}

// UpdateStats folds one node's periodic STATS report into the index's
// copy of an entry's access bookkeeping, used by eviction selection
// (spec.md §4.6) since that scoring needs live data, not the point-in-time
// snapshot taken at Publish. STATS reports never carry cost data (see
// protocol.EntryStats), so Cost is left untouched — it is set once at
// Publish and at CompleteMove, never clobbered back to zero here.
func (d *Directory) UpdateStats(ct cachetype.CacheType, semanticID cacheid.SemanticID, nodeID cacheid.NodeID, entryID cacheid.EntryID, access store.AccessStats) {
	ti := d.typeIndexFor(ct, false)
	if ti == nil {
		return
	}
	ti.mu.Lock()
	defer ti.mu.Unlock()
	entries := ti.bySemID[semanticID]
	for i := range entries {
		if entries[i].NodeID == nodeID && entries[i].EntryID == entryID {
			entries[i].Access = access
			return
		}
	}
}

// Resolve implements spec.md §4.3's coordinator-side resolution: the same
// matching and greedy-selection rule as the local store's Query
// (internal/cube.Puzzle), spanning entries across every node.
func (d *Directory) Resolve(ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube) cube.Result[Ref] {
	ti := d.typeIndexFor(ct, false)
	if ti == nil {
		return cube.Result[Ref]{Kind: cube.Miss}
	}

	ti.mu.RLock()
	entries := ti.bySemID[semanticID]
	candidates := make([]cube.Candidate[Ref], 0, len(entries))
	for _, e := range entries {
		candidates = append(candidates, cube.Candidate[Ref]{
			Key:        Ref{NodeID: e.NodeID, EntryID: e.EntryID},
			Bounds:     e.Bounds.Cube,
			Resolution: e.Bounds.Resolution,
		})
	}
	ti.mu.RUnlock()

	return cube.Puzzle(query, candidates)
}

// All returns every entry in the directory, across every CacheType and
// node — the input Distribute and SelectEvictions need to compute a
// reorg plan.
func (d *Directory) All() []IndexEntry {
	d.mu.RLock()
	indices := make([]*typeIndex, 0, len(d.byType))
	for _, ti := range d.byType {
		indices = append(indices, ti)
	}
	d.mu.RUnlock()

	var out []IndexEntry
	for _, ti := range indices {
		ti.mu.RLock()
		for _, entries := range ti.bySemID {
			out = append(out, entries...)
		}
		ti.mu.RUnlock()
	}
	return out
}

// AllForNode returns every entry currently attributed to nodeID, across
// every CacheType — used by placement to compute per-node usage.
func (d *Directory) AllForNode(nodeID cacheid.NodeID) []IndexEntry {
	d.mu.RLock()
	indices := make([]*typeIndex, 0, len(d.byType))
	for _, ti := range d.byType {
		indices = append(indices, ti)
	}
	d.mu.RUnlock()

	var out []IndexEntry
	for _, ti := range indices {
		ti.mu.RLock()
		for _, entries := range ti.bySemID {
			for _, e := range entries {
				if e.NodeID == nodeID {
					out = append(out, e)
				}
			}
		}
		ti.mu.RUnlock()
	}
	return out
}
