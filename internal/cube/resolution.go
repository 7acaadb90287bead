package cube

// Restype names the two resolution-matching modes a query or a cached
// entry can carry (spec.md §4.5). NONE means "no pixel-scale preference";
// PIXELS means the query/entry demands a specific x/y pixel scale.
type Restype string

const (
	RestypeNone   Restype = "NONE"
	RestypePixels Restype = "PIXELS"
)

// QueryCube is a Cube plus an optional pixel scale. ScaleX and ScaleY are
// nil together iff the query carries RestypeNone.
type QueryCube struct {
	Cube
	ScaleX, ScaleY *float64
}

// Restype reports which matching mode this query uses.
func (q QueryCube) Restype() Restype {
	if q.ScaleX == nil || q.ScaleY == nil {
		return RestypeNone
	}
	return RestypePixels
}

// ResolutionInfo is the resolution metadata permanently attached to a
// stored entry: the scale it was produced at, and the range of query
// scales it is considered valid for.
//
// This implementation resolves spec.md §9's open question on validity
// ranges as exact scale equality: ValidX = [ScaleX, ScaleX] and
// ValidY = [ScaleY, ScaleY]. No producer in this system advertises
// neighboring zoom levels, so a non-degenerate validity range would only
// ever contain its own endpoint; see DESIGN.md.
type ResolutionInfo struct {
	Restype        Restype
	ScaleX, ScaleY float64
	ValidX, ValidY Interval
}

// NewExactResolution builds the ResolutionInfo for an entry produced at
// exactly (scaleX, scaleY), with validity ranges collapsed to that single
// point per this system's exact-equality policy.
func NewExactResolution(scaleX, scaleY float64) ResolutionInfo {
	return ResolutionInfo{
		Restype: RestypePixels,
		ScaleX:  scaleX,
		ScaleY:  scaleY,
		ValidX:  Interval{Lo: scaleX, Hi: scaleX},
		ValidY:  Interval{Lo: scaleY, Hi: scaleY},
	}
}

// NoResolution is the ResolutionInfo for entries produced without a pixel
// scale preference (RestypeNone): it matches any RestypeNone query.
var NoResolution = ResolutionInfo{Restype: RestypeNone}

// Matches implements spec.md §4.5's resolution matching rule: an entry
// qualifies for a query iff both carry RestypeNone, or both carry
// RestypePixels and the query's scale falls within the entry's validity
// range on both axes.
func (r ResolutionInfo) Matches(q QueryCube) bool {
	if r.Restype != q.Restype() {
		return false
	}
	if r.Restype == RestypeNone {
		return true
	}
	return r.ValidX.Contains(Interval{Lo: *q.ScaleX, Hi: *q.ScaleX}) &&
		r.ValidY.Contains(Interval{Lo: *q.ScaleY, Hi: *q.ScaleY})
}

// CacheCube is a Cube plus the ResolutionInfo a stored entry carries
// permanently.
type CacheCube struct {
	Cube
	Resolution ResolutionInfo
}
