package cube

// Cube is a 3-D axis-aligned closed cube over x, y, and time. CRS and
// TimeType are opaque string tags: the cache core never interprets them
// beyond equality, leaving coordinate-system and calendar semantics to the
// producer side of the system (spec.md §1).
type Cube struct {
	X, Y, T  Interval
	CRS      string
	TimeType string
}

// Empty reports whether any one of the three axes is empty, which makes
// the whole cube empty.
func (c Cube) Empty() bool {
	return c.X.Empty() || c.Y.Empty() || c.T.Empty()
}

// sameTags reports whether c and other carry the same CRS/TimeType tags.
// Cubes with mismatched tags never intersect, contain, or combine —
// comparing coordinates across coordinate systems is meaningless here.
func (c Cube) sameTags(other Cube) bool {
	return c.CRS == other.CRS && c.TimeType == other.TimeType
}

// Intersects reports whether c and other share at least one point.
func (c Cube) Intersects(other Cube) bool {
	if !c.sameTags(other) {
		return false
	}
	return c.X.Intersects(other.X) && c.Y.Intersects(other.Y) && c.T.Intersects(other.T)
}

// Contains reports whether c entirely covers other (c ⊇ other).
func (c Cube) Contains(other Cube) bool {
	if other.Empty() {
		return true
	}
	if !c.sameTags(other) {
		return false
	}
	return c.X.Contains(other.X) && c.Y.Contains(other.Y) && c.T.Contains(other.T)
}

// ContainsForQuery is the predicate used by both the local store and the
// coordinator resolver to decide whether a stored bounds satisfies a
// query: full (non-strict) containment of the query by the stored cube,
// so equal cubes qualify. Kept as a
// named method, rather than inlined at each call site, so the two
// resolvers can never drift (ported from the bounds-containment check in
// mapping-core's index_cache.cpp).
func (c Cube) ContainsForQuery(query Cube) bool {
	return c.Contains(query)
}

// Intersection returns the overlap of c and other. The result is empty if
// the cubes don't intersect or carry mismatched tags.
func (c Cube) Intersection(other Cube) Cube {
	if !c.Intersects(other) {
		return Cube{X: Interval{Lo: 1, Hi: 0}, Y: Interval{Lo: 1, Hi: 0}, T: Interval{Lo: 1, Hi: 0}, CRS: c.CRS, TimeType: c.TimeType}
	}
	return Cube{
		X:        c.X.Intersection(other.X),
		Y:        c.Y.Intersection(other.Y),
		T:        c.T.Intersection(other.T),
		CRS:      c.CRS,
		TimeType: c.TimeType,
	}
}

// Volume returns the product of the three axis lengths, 0 if c is empty.
func (c Cube) Volume() float64 {
	if c.Empty() {
		return 0
	}
	return c.X.Length() * c.Y.Length() * c.T.Length()
}

// Difference returns the canonical partition of c \ other: a set of
// disjoint axis-aligned cubes whose union is c minus other, except for a
// boundaryEpsilon-wide band along each face of the intersection, which no
// part covers (see boundaryEpsilon). The partition always slabs in x,
// then y, then t order, so two equal calls produce the same list in the
// same order (spec.md §4.1).
//
// If other doesn't intersect c, Difference returns []Cube{c} unchanged.
// If other entirely contains c, Difference returns nil.
func (c Cube) Difference(other Cube) []Cube {
	if !c.Intersects(other) {
		return []Cube{c}
	}
	ix := c.X.Intersection(other.X)
	iy := c.Y.Intersection(other.Y)
	it := c.T.Intersection(other.T)

	var out []Cube

	// x-slabs: the parts of c strictly to the left/right of the
	// intersection's x-range, spanning c's full y and t extent.
	if c.X.Lo < ix.Lo {
		out = append(out, Cube{X: Interval{Lo: c.X.Lo, Hi: prev(ix.Lo)}, Y: c.Y, T: c.T, CRS: c.CRS, TimeType: c.TimeType})
	}
	if ix.Hi < c.X.Hi {
		out = append(out, Cube{X: Interval{Lo: next(ix.Hi), Hi: c.X.Hi}, Y: c.Y, T: c.T, CRS: c.CRS, TimeType: c.TimeType})
	}

	// y-slabs: restricted to ix in x, spanning c's full t extent.
	if c.Y.Lo < iy.Lo {
		out = append(out, Cube{X: ix, Y: Interval{Lo: c.Y.Lo, Hi: prev(iy.Lo)}, T: c.T, CRS: c.CRS, TimeType: c.TimeType})
	}
	if iy.Hi < c.Y.Hi {
		out = append(out, Cube{X: ix, Y: Interval{Lo: next(iy.Hi), Hi: c.Y.Hi}, T: c.T, CRS: c.CRS, TimeType: c.TimeType})
	}

	// t-slabs: restricted to ix, iy.
	if c.T.Lo < it.Lo {
		out = append(out, Cube{X: ix, Y: iy, T: Interval{Lo: c.T.Lo, Hi: prev(it.Lo)}, CRS: c.CRS, TimeType: c.TimeType})
	}
	if it.Hi < c.T.Hi {
		out = append(out, Cube{X: ix, Y: iy, T: Interval{Lo: next(it.Hi), Hi: c.T.Hi}, CRS: c.CRS, TimeType: c.TimeType})
	}

	return out
}

// boundaryEpsilon is this system's validity/precision tolerance for slab
// partitioning: prev and next step a double-precision coordinate by the
// smallest amount Difference treats as distinct, keeping the slab
// partition's boundary cubes disjoint from the intersection they border.
// Continuous coordinates have no true "next value", so this uses an
// epsilon matched to the producer interface's working precision rather
// than Nextafter, which would make remainders imperceptibly thin slivers
// on re-querying.
//
// Consequence: union(remainders) excludes a boundaryEpsilon-wide band
// immediately adjacent to each intersection face, so it falls
// infinitesimally short of covering c \ other exactly — disjointness
// holds, coverage is short by a measure-zero-in-practice sliver. Accepted
// at this tolerance rather than chased with Nextafter.
const boundaryEpsilon = 1e-9

func prev(x float64) float64 { return x - boundaryEpsilon }
func next(x float64) float64 { return x + boundaryEpsilon }
