package cube

import "sort"

// ResultKind distinguishes the three shapes a puzzle resolution can take
// (spec.md §4.2).
type ResultKind int

const (
	Miss ResultKind = iota
	Hit
	Partial
)

// Candidate is one stored (or indexed) entry being considered for a
// query: its caller-defined key (an EntryID locally, or a (NodeID,
// EntryID) pair at the coordinator), its bounding cube, and its
// resolution metadata.
type Candidate[K any] struct {
	Key        K
	Bounds     Cube
	Resolution ResolutionInfo
}

// Result is the outcome of resolving a query against a set of candidates.
// Kind Miss leaves the other fields zero; Kind Hit populates only HitKey;
// Kind Partial populates Keys, Covered, and Remainders.
type Result[K any] struct {
	Kind       ResultKind
	HitKey     K
	Keys       []K
	Covered    Cube
	Remainders []QueryCube
}

// Puzzle implements spec.md §4.2/§4.3's shared resolution algorithm: a
// candidate qualifies iff its bounds intersect the query cube and its
// resolution matches (§4.5); qualifying candidates are then chosen
// greedily in descending intersection volume until the query is fully
// covered or no further candidate reduces the uncovered area. The same
// function serves both the local store (§4.2) and the coordinator
// resolver (§4.3) so the two can never diverge on matching semantics.
func Puzzle[K any](query QueryCube, candidates []Candidate[K]) Result[K] {
	qualifying := make([]Candidate[K], 0, len(candidates))
	for _, c := range candidates {
		if c.Bounds.Intersects(query.Cube) && c.Resolution.Matches(query) {
			qualifying = append(qualifying, c)
		}
	}
	if len(qualifying) == 0 {
		return Result[K]{Kind: Miss}
	}

	for _, c := range qualifying {
		if c.Bounds.ContainsForQuery(query.Cube) {
			return Result[K]{Kind: Hit, HitKey: c.Key}
		}
	}

	sort.SliceStable(qualifying, func(i, j int) bool {
		return qualifying[i].Bounds.Intersection(query.Cube).Volume() >
			qualifying[j].Bounds.Intersection(query.Cube).Volume()
	})

	var chosen []Candidate[K]
	uncovered := []Cube{query.Cube}
	for _, c := range qualifying {
		if len(uncovered) == 0 {
			break
		}
		reduced := false
		var next []Cube
		for _, u := range uncovered {
			if u.Intersects(c.Bounds) {
				reduced = true
				next = append(next, u.Difference(c.Bounds)...)
			} else {
				next = append(next, u)
			}
		}
		if !reduced {
			continue
		}
		chosen = append(chosen, c)
		uncovered = next
	}

	if len(chosen) == 0 {
		return Result[K]{Kind: Miss}
	}

	keys := make([]K, len(chosen))
	covered := chosen[0].Bounds
	for i, c := range chosen {
		keys[i] = c.Key
		if i > 0 {
			covered = unionBBox(covered, c.Bounds)
		}
	}

	remainders := make([]QueryCube, 0, len(uncovered))
	for _, u := range uncovered {
		if u.Empty() {
			continue
		}
		remainders = append(remainders, QueryCube{Cube: u, ScaleX: query.ScaleX, ScaleY: query.ScaleY})
	}

	return Result[K]{Kind: Partial, Keys: keys, Covered: covered, Remainders: remainders}
}

// unionBBox returns the smallest cube enclosing both a and b, used only to
// report the "covered" extent of a Partial result — it is a bounding
// envelope, not a set union, and must not be used for containment checks.
func unionBBox(a, b Cube) Cube {
	return Cube{
		X:        Interval{Lo: min(a.X.Lo, b.X.Lo), Hi: max(a.X.Hi, b.X.Hi)},
		Y:        Interval{Lo: min(a.Y.Lo, b.Y.Lo), Hi: max(a.Y.Hi, b.Y.Hi)},
		T:        Interval{Lo: min(a.T.Lo, b.T.Lo), Hi: max(a.T.Hi, b.T.Hi)},
		CRS:      a.CRS,
		TimeType: a.TimeType,
	}
}
