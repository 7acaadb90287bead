package placement

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cube"
)

// Supported CRS tags for geographic placement, matching the two
// coordinate systems mapping-core reprojects from (spec.md §9's open
// question; see DESIGN.md for the resolution).
const (
	crsWebMercator = "EPSG:3857"
	crsMollweide   = "ESRI:54009"
)

// geoDistStage enumerates the steps of one Distribute pass, mirroring the
// explicit staged-rebalance shape of the examples pack's AIStore
// rebalance manager (rebStageInit/Traverse/.../Done) rather than an
// implicit, unnamed sequence of loops.
type geoDistStage int

const (
	geoStageReproject geoDistStage = iota
	geoStageSort
	geoStageSplit
	geoStageDone
)

// GeoStrategy places entries by Morton (z-order) code over their
// reprojected WGS84 centroid, splitting the sorted sequence contiguously
// across nodes while respecting capacity. It remembers the z-range
// boundary it last assigned to each node so future NodeForNewEntry calls
// route by locality instead of free space alone (spec.md §4.6).
type GeoStrategy struct {
	mu    sync.Mutex
	// boundaries holds, per node, the highest Morton code it was last
	// assigned during Distribute — used to route new entries to the node
	// whose z-range they'd fall into.
	boundaries map[cacheid.NodeID]uint32
	fallback   *CapacityStrategy

	stage atomic.Uint32 // geoDistStage of the in-progress (or last) Distribute pass
}

// NewGeoStrategy constructs a GeoStrategy with no remembered boundaries.
func NewGeoStrategy() *GeoStrategy {
	return &GeoStrategy{
		boundaries: make(map[cacheid.NodeID]uint32),
		fallback:   NewCapacityStrategy(),
	}
}

// NodeForNewEntry routes by the entry's z-order code falling within a
// node's remembered boundary range, falling back to CapacityStrategy
// when no boundary has been established yet or the entry's CRS isn't one
// of the two this strategy reprojects.
func (g *GeoStrategy) NodeForNewEntry(candidates []NodeCapacity, entry NewEntryInfo) (cacheid.NodeID, error) {
	code, err := mortonCodeForCube(entry.Bounds.Cube)
	if err != nil {
		return g.fallback.NodeForNewEntry(candidates, entry)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Pick the node with the smallest boundary at or above code
	// and has room; this is the node whose contiguous z-range the entry
	// falls into.
	type candidateBound struct {
		id    cacheid.NodeID
		bound uint32
	}
	var inRange []candidateBound
	for _, c := range candidates {
		if b, ok := g.boundaries[c.NodeID]; ok && b >= code && c.FreeBytes() >= entry.ByteSize {
			inRange = append(inRange, candidateBound{id: c.NodeID, bound: b})
		}
	}
	if len(inRange) > 0 {
		sort.Slice(inRange, func(i, j int) bool { return inRange[i].bound < inRange[j].bound })
		return inRange[0].id, nil
	}

	return g.fallback.NodeForNewEntry(candidates, entry)
}

// Distribute reprojects every entry's centroid to WGS84, sorts by Morton
// code, and splits the sequence contiguously across nodes respecting
// capacity. Entries in an unsupported CRS are excluded from z-order
// placement (ErrUnsupportedCRS) and handled instead by the embedded
// CapacityStrategy, per spec.md §9's resolved open question.
func (g *GeoStrategy) Distribute(entries []PlacedEntry, nodes []NodeCapacity) ([]MoveItem, error) {
	g.stage.Store(uint32(geoStageReproject))

	type coded = struct {
		entry PlacedEntry
		code  uint32
	}
	var zOrdered []coded
	var unsupported []PlacedEntry

	for _, e := range entries {
		code, err := mortonCodeForCube(e.Bounds.Cube)
		if err != nil {
			unsupported = append(unsupported, e)
			continue
		}
		zOrdered = append(zOrdered, coded{entry: e, code: code})
	}

	g.stage.Store(uint32(geoStageSort))
	sort.Slice(zOrdered, func(i, j int) bool { return zOrdered[i].code < zOrdered[j].code })

	g.stage.Store(uint32(geoStageSplit))
	moves, boundaries := g.splitContiguous(zOrdered, nodes)

	g.mu.Lock()
	for id, b := range boundaries {
		g.boundaries[id] = b
	}
	g.mu.Unlock()

	fallbackMoves, err := g.fallback.Distribute(unsupported, nodes)
	if err != nil {
		return nil, err
	}
	moves = append(moves, fallbackMoves...)

	g.stage.Store(uint32(geoStageDone))
	return moves, nil
}

// Stage reports which step of a Distribute pass is currently (or was
// most recently) running, for diagnostics.
func (g *GeoStrategy) Stage() geoDistStage {
	return geoDistStage(g.stage.Load())
}

func (g *GeoStrategy) splitContiguous(zOrdered []struct {
	entry PlacedEntry
	code  uint32
}, nodes []NodeCapacity) ([]MoveItem, map[cacheid.NodeID]uint32) {
	boundaries := make(map[cacheid.NodeID]uint32, len(nodes))
	if len(nodes) == 0 || len(zOrdered) == 0 {
		return nil, boundaries
	}

	ordered := make([]NodeCapacity, len(nodes))
	copy(ordered, nodes)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].NodeID < ordered[j].NodeID })

	perNode := (len(zOrdered) + len(ordered) - 1) / len(ordered)
	var moves []MoveItem

	idx := 0
	for _, n := range ordered {
		count := 0
		used := n.UsedBytes
		for idx < len(zOrdered) && count < perNode {
			c := zOrdered[idx]
			if used+c.entry.ByteSize > n.TotalBytes && count > 0 {
				break
			}
			if c.entry.NodeID != n.NodeID {
				moves = append(moves, MoveItem{
					CacheType:  c.entry.CacheType,
					SemanticID: c.entry.SemanticID,
					EntryID:    c.entry.EntryID,
					From:       c.entry.NodeID,
					To:         n.NodeID,
				})
			}
			used += c.entry.ByteSize
			boundaries[n.NodeID] = c.code
			idx++
			count++
		}
	}
	// Any leftover entries (capacity exhausted) stay where they are;
	// they'll be picked up again on the next tick.
	return moves, boundaries
}

// NodeFailed forgets nodeID's remembered z-range boundary so the next
// Distribute pass re-establishes it from scratch.
func (g *GeoStrategy) NodeFailed(nodeID cacheid.NodeID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.boundaries, nodeID)
}

// mortonCodeForCube reprojects a cube's centroid to WGS84 lon/lat and
// interleaves the two 16-bit halves into a 32-bit Morton code. Returns
// ErrUnsupportedCRS for any CRS tag other than the two this system
// reprojects from.
func mortonCodeForCube(c cube.Cube) (uint32, error) {
	lon, lat, err := toWGS84(c)
	if err != nil {
		return 0, err
	}
	// Normalize lon in [-180,180], lat in [-90,90] to 16-bit grids.
	x := uint32((lon + 180) / 360 * 65535)
	y := uint32((lat + 90) / 180 * 65535)
	return morton2D(x, y), nil
}

// toWGS84 reprojects a cube's x/y centroid from its tagged CRS to WGS84
// lon/lat. Only the two CRSes mapping-core supports are implemented; any
// other tag is rejected (spec.md §9, DESIGN.md).
func toWGS84(c cube.Cube) (lon, lat float64, err error) {
	cx := (c.X.Lo + c.X.Hi) / 2
	cy := (c.Y.Lo + c.Y.Hi) / 2

	switch c.CRS {
	case crsWebMercator:
		const earthRadius = 6378137.0
		lon = cx / earthRadius * 180 / math.Pi
		lat = (2*math.Atan(math.Exp(cy/earthRadius)) - math.Pi/2) * 180 / math.Pi
		return lon, lat, nil
	case crsMollweide:
		// Inverse Mollweide with R = 6378137 m, simplified to a linear
		// approximation good enough for z-order bucketing — this isn't
		// a surveying-grade reprojection, only a locality-preserving one.
		const r = 6378137.0
		lon = cx / (r * 2 * math.Sqrt2 / math.Pi)
		lat = math.Asin(cy/(r*math.Sqrt2)) * 2 / math.Pi * 90
		return lon * 180 / math.Pi, lat, nil
	default:
		return 0, 0, ErrUnsupportedCRS
	}
}

// morton2D interleaves the bits of x and y into a single 32-bit Morton
// (z-order) code.
func morton2D(x, y uint32) uint32 {
	return spreadBits(x) | (spreadBits(y) << 1)
}

func spreadBits(v uint32) uint32 {
	v &= 0x0000ffff
	v = (v | (v << 8)) & 0x00FF00FF
	v = (v | (v << 4)) & 0x0F0F0F0F
	v = (v | (v << 2)) & 0x33333333
	v = (v | (v << 1)) & 0x55555555
	return v
}
