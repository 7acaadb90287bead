package placement

import (
	"errors"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cube"
)

// NodeCapacity is one node's byte budget and current usage — the unit
// every ReorgStrategy decision is made over. The coordinator fills it
// with totals summed over all of the node's CacheTypes.
type NodeCapacity struct {
	NodeID     cacheid.NodeID
	UsedBytes  int64
	TotalBytes int64
}

// FreeBytes returns the node's remaining room.
func (n NodeCapacity) FreeBytes() int64 {
	return n.TotalBytes - n.UsedBytes
}

// UsageRatio returns used/total, or 1.0 for a zero-capacity node (treated
// as already full, never a placement target).
func (n NodeCapacity) UsageRatio() float64 {
	if n.TotalBytes <= 0 {
		return 1.0
	}
	return float64(n.UsedBytes) / float64(n.TotalBytes)
}

// NewEntryInfo describes an entry about to be inserted, before it has a
// home node — the input to NodeForNewEntry.
type NewEntryInfo struct {
	CacheType  cachetype.CacheType
	SemanticID cacheid.SemanticID
	Bounds     cube.CacheCube
	ByteSize   int64
}

// PlacedEntry is one entry already resident somewhere, the input to
// Distribute.
type PlacedEntry struct {
	CacheType  cachetype.CacheType
	NodeID     cacheid.NodeID
	SemanticID cacheid.SemanticID
	EntryID    cacheid.EntryID
	Bounds     cube.CacheCube
	ByteSize   int64
}

// MoveItem is one planned relocation: entry currently on From should end
// up on To. The coordinator turns this into a Mover-driven move (spec.md
// §4.6 "Move protocol").
type MoveItem struct {
	CacheType  cachetype.CacheType
	SemanticID cacheid.SemanticID
	EntryID    cacheid.EntryID
	From, To   cacheid.NodeID
}

// ErrNoCapacity is returned by NodeForNewEntry when no candidate node has
// room for the entry.
var ErrNoCapacity = errors.New("placement: no node has capacity for this entry")

// ErrUnsupportedCRS is returned by GeoStrategy when an entry's CRS tag
// isn't one of the two coordinate systems it knows how to reproject
// (spec.md §9's open question resolution; see DESIGN.md).
var ErrUnsupportedCRS = errors.New("placement: unsupported coordinate system for geographic placement")

// ReorgStrategy decides where new entries go, how existing entries
// should be redistributed during a reorg pass, and how to react to a node
// disappearing. Implemented by CapacityStrategy, GeoStrategy, and
// GraphStrategy (spec.md §4.6).
type ReorgStrategy interface {
	// NodeForNewEntry picks the destination node for an entry that just
	// missed the cache, from the given candidate nodes.
	NodeForNewEntry(candidates []NodeCapacity, entry NewEntryInfo) (cacheid.NodeID, error)

	// Distribute computes a plan of moves that brings entries into the
	// strategy's preferred layout across nodes, respecting capacity.
	Distribute(entries []PlacedEntry, nodes []NodeCapacity) ([]MoveItem, error)

	// NodeFailed lets a stateful strategy (GeoStrategy's z-range
	// boundaries, GraphStrategy's root ordering) forget a node that is
	// now GONE.
	NodeFailed(nodeID cacheid.NodeID)
}

// ErrUnknownReorgStrategy is a StrategyMisconfigured condition (spec.md
// §7), fatal at startup.
type ErrUnknownReorgStrategy struct{ Name string }

func (e ErrUnknownReorgStrategy) Error() string {
	return "placement: unknown reorg strategy " + e.Name
}

// NewReorgStrategy is the configuration-string factory for ReorgStrategy,
// mirroring NewRelevanceFunction.
func NewReorgStrategy(name string) (ReorgStrategy, error) {
	switch name {
	case "capacity":
		return NewCapacityStrategy(), nil
	case "geographic":
		return NewGeoStrategy(), nil
	case "graph":
		return NewGraphStrategy(), nil
	default:
		return nil, ErrUnknownReorgStrategy{Name: name}
	}
}
