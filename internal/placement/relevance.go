package placement

import (
	"time"

	"github.com/dreamware/geocache/internal/store"
)

// LRU scores purely by recency: the longer since LastAccess, the lower
// the score, so the least-recently-used entry is always the first
// eviction candidate.
type LRU struct{}

// Score implements store.RelevanceFunction.
func (LRU) Score(access store.AccessStats, _ store.CostProfile, now time.Time) float64 {
	return float64(access.LastAccess.UnixNano())
}

// CostLRU weighs an entry's uncached production cost against its
// idleness: an entry that would be expensive to recompute stays valuable
// even if it hasn't been touched recently, decaying at 1% per minute of
// idleness. It scores by cost.Uncached specifically — the portion of
// production cost a cache hit actually avoids paying again — not Self or
// All.
//
// spec.md §9 leaves the weight's behaviour past 100 minutes of idleness
// undefined (the raw formula goes negative). This implementation clamps
// the age factor at 0: an entry idle for 100 minutes or more scores 0
// whatever its uncached cost, never a negative score. See DESIGN.md.
type CostLRU struct{}

// Score implements store.RelevanceFunction.
func (CostLRU) Score(access store.AccessStats, cost store.CostProfile, now time.Time) float64 {
	minutesIdle := now.Sub(access.LastAccess).Minutes()
	ageFactor := 1 - minutesIdle*0.01
	if ageFactor < 0 {
		ageFactor = 0
	}
	return float64(cost.Uncached.Total()) * ageFactor
}

// ErrUnknownRelevanceFunction is returned by NewRelevanceFunction for an
// unrecognized configuration name — a StrategyMisconfigured condition
// per spec.md §7, fatal at startup.
type ErrUnknownRelevanceFunction struct{ Name string }

func (e ErrUnknownRelevanceFunction) Error() string {
	return "placement: unknown relevance function " + e.Name
}

// NewRelevanceFunction is the factory spec.md §9 calls for: a
// configuration string selects one of the built-in relevance functions.
func NewRelevanceFunction(name string) (store.RelevanceFunction, error) {
	switch name {
	case "lru":
		return LRU{}, nil
	case "cost_lru":
		return CostLRU{}, nil
	default:
		return nil, ErrUnknownRelevanceFunction{Name: name}
	}
}
