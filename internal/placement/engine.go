package placement

import (
	"math"

	"github.com/dreamware/geocache/internal/cacheid"
)

// Engine evaluates the reorg trigger conditions on each tick
// (ShouldReorg, spec.md §4.6). It does not build the move plan or the
// eviction list itself: the caller asks Strategy for the plan and calls
// SelectEvictions for the evictions.
type Engine struct {
	Strategy ReorgStrategy

	lastAliveSet map[cacheid.NodeID]bool
}

// NewEngine constructs an Engine around a strategy. Relevance-based
// eviction selection is the package-level SelectEvictions, which the
// caller (the coordinator service) invokes with the index entries, the
// node capacities and the store.RelevanceFunction it scores them with.
func NewEngine(strategy ReorgStrategy) *Engine {
	return &Engine{Strategy: strategy, lastAliveSet: make(map[cacheid.NodeID]bool)}
}

// ShouldReorg implements spec.md §4.6's trigger conditions: the alive set
// changed since the last pass, any node's usage ratio is >= 1.0, or the
// coefficient of variation of usage ratios exceeds 0.1.
func (e *Engine) ShouldReorg(nodes []NodeCapacity) bool {
	alive := make(map[cacheid.NodeID]bool, len(nodes))
	for _, n := range nodes {
		alive[n.NodeID] = true
	}
	changed := !sameSet(alive, e.lastAliveSet)
	e.lastAliveSet = alive

	if changed {
		return true
	}
	if len(nodes) == 0 {
		return false
	}

	var anyFull bool
	ratios := make([]float64, 0, len(nodes))
	for _, n := range nodes {
		r := n.UsageRatio()
		ratios = append(ratios, r)
		if r >= 1.0 {
			anyFull = true
		}
	}
	if anyFull {
		return true
	}
	return coefficientOfVariation(ratios) > 0.1
}

func sameSet(a, b map[cacheid.NodeID]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func coefficientOfVariation(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	stddev := math.Sqrt(variance)
	return stddev / mean
}

// TargetUsage is spec.md §4.6's min(total_used/total_cap, 0.8), exported
// for the coordinator service's eviction-selection step.
func TargetUsage(nodes []NodeCapacity) float64 {
	return targetUsage(nodes)
}
