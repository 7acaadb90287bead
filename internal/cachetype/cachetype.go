// Package cachetype enumerates the kinds of payload the cache stores.
// Every local store, index directory, and wire message is parameterized
// by exactly one CacheType (spec.md §3).
package cachetype

import "fmt"

// CacheType identifies which kind of typed payload an entry, store, or
// query concerns.
type CacheType uint8

const (
	Raster CacheType = iota
	Points
	Lines
	Polygons
	Plot
)

// All lists every defined CacheType in declaration order, used by the
// node process to pre-create one local store per type at startup.
var All = []CacheType{Raster, Points, Lines, Polygons, Plot}

// String implements fmt.Stringer, also used for the wire-protocol and
// CLI-flag spelling of a CacheType.
func (t CacheType) String() string {
	switch t {
	case Raster:
		return "raster"
	case Points:
		return "points"
	case Lines:
		return "lines"
	case Polygons:
		return "polygons"
	case Plot:
		return "plot"
	default:
		return fmt.Sprintf("cachetype(%d)", uint8(t))
	}
}

// ParseCacheType is the inverse of String, used when decoding CLI flags
// and config files. It returns an error for any spelling not produced by
// String.
func ParseCacheType(s string) (CacheType, error) {
	for _, t := range All {
		if t.String() == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("cachetype: unknown cache type %q", s)
}
