package cube

import "testing"

func TestPuzzleMiss(t *testing.T) {
	q := QueryCube{Cube: unit(0, 10, 0, 10, 0, 10)}
	got := Puzzle[int](q, nil)
	if got.Kind != Miss {
		t.Errorf("Kind = %v, want Miss", got.Kind)
	}
}

func TestPuzzleHit(t *testing.T) {
	q := QueryCube{Cube: unit(0, 10, 0, 10, 0, 10)}
	candidates := []Candidate[int]{
		{Key: 1, Bounds: unit(0, 100, 0, 100, 0, 10), Resolution: NoResolution},
	}
	got := Puzzle(q, candidates)
	if got.Kind != Hit || got.HitKey != 1 {
		t.Errorf("got %+v, want Hit(1)", got)
	}
}

func TestPuzzlePartialWithRemainder(t *testing.T) {
	q := QueryCube{Cube: unit(0, 10, 0, 10, 0, 10)}
	candidates := []Candidate[int]{
		{Key: 1, Bounds: unit(0, 5, 0, 10, 0, 10), Resolution: NoResolution},
	}
	got := Puzzle(q, candidates)
	if got.Kind != Partial {
		t.Fatalf("Kind = %v, want Partial", got.Kind)
	}
	if len(got.Keys) != 1 || got.Keys[0] != 1 {
		t.Errorf("Keys = %v, want [1]", got.Keys)
	}
	if len(got.Remainders) == 0 {
		t.Error("expected at least one remainder rectangle")
	}
}

func TestPuzzlePartialFullCoverageNoRemainder(t *testing.T) {
	q := QueryCube{Cube: unit(0, 10, 0, 10, 0, 10)}
	candidates := []Candidate[int]{
		{Key: 1, Bounds: unit(0, 6, 0, 10, 0, 10), Resolution: NoResolution},
		{Key: 2, Bounds: unit(4, 10, 0, 10, 0, 10), Resolution: NoResolution},
	}
	got := Puzzle(q, candidates)
	if got.Kind != Partial {
		t.Fatalf("Kind = %v, want Partial", got.Kind)
	}
	if len(got.Remainders) != 0 {
		t.Errorf("Remainders = %v, want none (query fully covered)", got.Remainders)
	}
}

func TestPuzzleResolutionMismatchExcludesCandidate(t *testing.T) {
	scale := 256.0
	q := QueryCube{Cube: unit(0, 10, 0, 10, 0, 10), ScaleX: &scale, ScaleY: &scale}
	candidates := []Candidate[int]{
		{Key: 1, Bounds: unit(0, 100, 0, 100, 0, 10), Resolution: NoResolution},
	}
	got := Puzzle(q, candidates)
	if got.Kind != Miss {
		t.Errorf("Kind = %v, want Miss (resolution mismatch should exclude the only candidate)", got.Kind)
	}
}

func TestPuzzleGreedyPrefersLargerIntersection(t *testing.T) {
	q := QueryCube{Cube: unit(0, 10, 0, 10, 0, 10)}
	candidates := []Candidate[int]{
		{Key: 1, Bounds: unit(0, 2, 0, 10, 0, 10), Resolution: NoResolution},
		{Key: 2, Bounds: unit(0, 8, 0, 10, 0, 10), Resolution: NoResolution},
	}
	got := Puzzle(q, candidates)
	if got.Kind != Partial {
		t.Fatalf("Kind = %v, want Partial", got.Kind)
	}
	if got.Keys[0] != 2 {
		t.Errorf("expected the larger-intersection candidate (2) chosen first, got %v", got.Keys)
	}
}
