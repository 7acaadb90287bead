package placement

import "testing"

func TestEngineShouldReorgOnAliveSetChange(t *testing.T) {
	e := NewEngine(NewCapacityStrategy())
	nodes := []NodeCapacity{{NodeID: 1, UsedBytes: 10, TotalBytes: 100}}
	if !e.ShouldReorg(nodes) {
		t.Error("expected the first call (empty -> non-empty alive set) to trigger a reorg")
	}
	if e.ShouldReorg(nodes) {
		t.Error("expected an unchanged, balanced alive set to not trigger a reorg")
	}
}

func TestEngineShouldReorgOnFullNode(t *testing.T) {
	e := NewEngine(NewCapacityStrategy())
	nodes := []NodeCapacity{{NodeID: 1, UsedBytes: 10, TotalBytes: 100}}
	e.ShouldReorg(nodes) // prime lastAliveSet

	full := []NodeCapacity{{NodeID: 1, UsedBytes: 100, TotalBytes: 100}}
	if !e.ShouldReorg(full) {
		t.Error("expected a full node to trigger a reorg")
	}
}

func TestEngineShouldReorgOnHighVariance(t *testing.T) {
	e := NewEngine(NewCapacityStrategy())
	nodes := []NodeCapacity{
		{NodeID: 1, UsedBytes: 90, TotalBytes: 100},
		{NodeID: 2, UsedBytes: 10, TotalBytes: 100},
	}
	e.ShouldReorg(nodes) // prime lastAliveSet with this same set

	if !e.ShouldReorg(nodes) {
		t.Error("expected high usage variance across nodes to trigger a reorg")
	}
}

func TestCoefficientOfVariationUniform(t *testing.T) {
	if got := coefficientOfVariation([]float64{0.5, 0.5, 0.5}); got != 0 {
		t.Errorf("coefficientOfVariation of uniform values = %v, want 0", got)
	}
}
