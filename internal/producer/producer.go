// Package producer defines the external interfaces the cache core calls
// through to materialize a query result that no node currently holds,
// plus an in-memory fake used by tests and demo runs.
//
// This generalizes the interface-plus-in-memory-implementation shape of
// the teacher's storage.Store / storage.MemoryStore: Producer and
// Serializer are the narrow seams; Fake is the reference implementation
// with no external dependencies.
package producer

import (
	"context"
	"fmt"
	"sync"

	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/store"
)

// Producer materializes a payload for a query rectangle that no node
// currently satisfies, returning the actual bounds of what it produced
// (which may exceed the requested rectangle) and a cost estimate used
// for relevance scoring.
type Producer interface {
	Produce(ctx context.Context, ct cachetype.CacheType, id cacheid.SemanticID, rect cube.Cube) (payload []byte, bounds cube.CacheCube, cost store.CostProfile, err error)
}

// Serializer converts between a domain value and the byte payload a
// Store holds, so a worker can hand a producer's native return type
// (e.g. a raster tile struct) to the cache without the store package
// needing to know about it.
type Serializer interface {
	Serialize(payload any) ([]byte, error)
	Deserialize(ct cachetype.CacheType, data []byte) (any, error)
}

// ErrNoFixture is returned by Fake when asked to produce a semantic id
// it wasn't seeded with.
type ErrNoFixture struct {
	SemanticID cacheid.SemanticID
}

func (e ErrNoFixture) Error() string {
	return fmt.Sprintf("producer: no fixture registered for %q", e.SemanticID)
}

// Fixture is one canned response Fake.Produce returns for a given
// semantic id, regardless of the requested rectangle.
type Fixture struct {
	Payload []byte
	Bounds  cube.CacheCube
	Cost    store.CostProfile
}

// Fake is an in-memory Producer for tests and the demo mode of cmd/node:
// it never calls out to a real data source, it only replays fixtures
// registered ahead of time via Seed.
type Fake struct {
	mu       sync.Mutex
	fixtures map[cacheid.SemanticID]Fixture
	calls    int
}

// NewFake returns an empty Fake with no seeded fixtures.
func NewFake() *Fake {
	return &Fake{fixtures: make(map[cacheid.SemanticID]Fixture)}
}

// Seed registers the fixture Fake.Produce will return for id.
func (f *Fake) Seed(id cacheid.SemanticID, fixture Fixture) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fixtures[id] = fixture
}

// Produce implements Producer by replaying the fixture seeded for id.
func (f *Fake) Produce(ctx context.Context, ct cachetype.CacheType, id cacheid.SemanticID, rect cube.Cube) ([]byte, cube.CacheCube, store.CostProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	fixture, ok := f.fixtures[id]
	if !ok {
		return nil, cube.CacheCube{}, store.CostProfile{}, ErrNoFixture{SemanticID: id}
	}
	return fixture.Payload, fixture.Bounds, fixture.Cost, nil
}

// Calls returns how many times Produce has been invoked, for tests
// asserting that a cache hit avoided a redundant production.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// PassthroughSerializer treats every payload as already being the raw
// bytes a Store expects — the default for cache types whose producer
// already returns wire-ready bytes.
type PassthroughSerializer struct{}

func (PassthroughSerializer) Serialize(payload any) ([]byte, error) {
	b, ok := payload.([]byte)
	if !ok {
		return nil, fmt.Errorf("producer: PassthroughSerializer got non-[]byte payload %T", payload)
	}
	return b, nil
}

func (PassthroughSerializer) Deserialize(ct cachetype.CacheType, data []byte) (any, error) {
	return data, nil
}
