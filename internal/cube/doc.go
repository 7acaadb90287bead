// Package cube implements the axis-aligned interval algebra that underlies
// every lookup, puzzle, and placement decision in the cache: intersection,
// containment, canonical difference, and volume over 3-D (x, y, time)
// cubes.
//
// A Cube is a product of three closed Interval values. An Interval is empty
// iff Lo > Hi; an empty interval acts as the identity element for union.
// All arithmetic is double precision, matching the producer interface's
// floating point rectangles — there is no fixed-point or integer grid
// underneath.
//
// QueryCube augments a Cube with an optional pixel scale (x, y); a nil
// scale means the query carries no resolution preference (RestypeNone).
// CacheCube augments a Cube with a ResolutionInfo, which a stored entry
// carries permanently.
//
// Difference always returns its canonical x-then-y-then-t slab partition,
// so two equal inputs always produce the same remainder list in the same
// order — callers (the local store and the coordinator resolver) depend on
// this determinism for reproducible puzzle plans.
package cube
