package store

import (
	"sync"
	"time"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cube"
)

// bucket holds every entry for one semantic id, behind its own lock so
// unrelated semantic ids never contend with each other.
type bucket struct {
	mu      sync.RWMutex
	entries map[cacheid.EntryID]*Entry
	alloc   cacheid.Allocator
}

// Store is the local typed entry store for one CacheType on one node. It
// is safe for concurrent use.
type Store struct {
	cacheType cachetype.CacheType
	relevance RelevanceFunction
	budget    int64

	// capMu guards used and serializes eviction passes; it is the single
	// store-wide lock spec.md §5 calls for. Put holds it throughout,
	// including while the eviction pass locks every bucket in turn; no
	// path takes capMu while already holding a bucket lock.
	capMu sync.Mutex
	used  int64

	bucketsMu sync.RWMutex
	buckets   map[cacheid.SemanticID]*bucket
}

// New creates an empty Store for cacheType with the given byte budget,
// evicting via relevance when Put would exceed it.
func New(cacheType cachetype.CacheType, budget int64, relevance RelevanceFunction) *Store {
	return &Store{
		cacheType: cacheType,
		relevance: relevance,
		budget:    budget,
		buckets:   make(map[cacheid.SemanticID]*bucket),
	}
}

// CacheType returns the type this store holds entries for.
func (s *Store) CacheType() cachetype.CacheType {
	return s.cacheType
}

// Budget returns the configured byte budget.
func (s *Store) Budget() int64 {
	return s.budget
}

func (s *Store) bucketFor(id cacheid.SemanticID, create bool) *bucket {
	s.bucketsMu.RLock()
	b, ok := s.buckets[id]
	s.bucketsMu.RUnlock()
	if ok || !create {
		return b
	}

	s.bucketsMu.Lock()
	defer s.bucketsMu.Unlock()
	if b, ok = s.buckets[id]; ok {
		return b
	}
	b = &bucket{entries: make(map[cacheid.EntryID]*Entry)}
	s.buckets[id] = b
	return b
}

// candidate pairs an entry with the bucket it lives in, used internally
// while ranking eviction victims across every semantic id.
type candidate struct {
	semanticID cacheid.SemanticID
	entryID    cacheid.EntryID
	bucket     *bucket
	entry      *Entry
	score      float64
}

// Put inserts a new entry, evicting others by ascending relevance score
// until there is room, and fails with ErrInsufficientCapacity only if
// size alone exceeds the configured budget (spec.md §4.2).
func (s *Store) Put(semanticID cacheid.SemanticID, payload []byte, bounds cube.CacheCube, cost CostProfile) (cacheid.EntryID, error) {
	size := int64(len(payload))
	if size > s.budget {
		return 0, ErrInsufficientCapacity
	}

	s.capMu.Lock()
	defer s.capMu.Unlock()

	if s.used+size > s.budget {
		if err := s.evictLocked(s.used + size - s.budget); err != nil {
			return 0, err
		}
	}

	b := s.bucketFor(semanticID, true)
	b.mu.Lock()
	id := b.alloc.Next()
	b.entries[id] = &Entry{
		SemanticID: semanticID,
		EntryID:    id,
		Payload:    payload,
		Bounds:     bounds,
		Access:     AccessStats{LastAccess: time.Now()},
		Cost:       cost,
	}
	b.mu.Unlock()

	s.used += size
	return id, nil
}

// evictLocked frees at least need bytes by removing the lowest-relevance
// entries across every bucket. Callers must already hold capMu.
func (s *Store) evictLocked(need int64) error {
	now := time.Now()

	s.bucketsMu.RLock()
	buckets := make([]*bucket, 0, len(s.buckets))
	semanticIDs := make([]cacheid.SemanticID, 0, len(s.buckets))
	for id, b := range s.buckets {
		buckets = append(buckets, b)
		semanticIDs = append(semanticIDs, id)
	}
	s.bucketsMu.RUnlock()

	var candidates []candidate
	for i, b := range buckets {
		b.mu.RLock()
		for entryID, e := range b.entries {
			candidates = append(candidates, candidate{
				semanticID: semanticIDs[i],
				entryID:    entryID,
				bucket:     b,
				entry:      e,
				score:      s.relevance.Score(e.Access, e.Cost, now),
			})
		}
		b.mu.RUnlock()
	}

	sortCandidatesAscending(candidates)

	var freed int64
	for _, c := range candidates {
		if freed >= need {
			break
		}
		c.bucket.mu.Lock()
		if e, ok := c.bucket.entries[c.entryID]; ok {
			freed += e.ByteSize()
			delete(c.bucket.entries, c.entryID)
			s.used -= e.ByteSize()
		}
		c.bucket.mu.Unlock()
	}

	if freed < need {
		return ErrInsufficientCapacity
	}
	return nil
}

func sortCandidatesAscending(c []candidate) {
	// insertion sort: eviction batches are small relative to store size
	// in practice, and this keeps the dependency surface minimal; swap
	// for sort.Slice if that assumption stops holding.
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].score < c[j-1].score; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// Get retrieves an entry by (semantic id, entry id), updating its access
// stats on success.
func (s *Store) Get(semanticID cacheid.SemanticID, entryID cacheid.EntryID) (Entry, error) {
	b := s.bucketFor(semanticID, false)
	if b == nil {
		return Entry{}, ErrNoSuchEntry
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[entryID]
	if !ok {
		return Entry{}, ErrNoSuchEntry
	}
	e.Access.LastAccess = time.Now()
	e.Access.AccessCount++
	return *e, nil
}

// Remove deletes an entry. It is idempotent: removing an absent entry
// returns ErrNoSuchEntry but callers treat that as a log line, never a
// fatal condition (spec.md §4.2).
func (s *Store) Remove(semanticID cacheid.SemanticID, entryID cacheid.EntryID) error {
	b := s.bucketFor(semanticID, false)
	if b == nil {
		return ErrNoSuchEntry
	}

	b.mu.Lock()
	e, ok := b.entries[entryID]
	if ok {
		delete(b.entries, entryID)
	}
	b.mu.Unlock()
	if !ok {
		return ErrNoSuchEntry
	}

	s.capMu.Lock()
	s.used -= e.ByteSize()
	s.capMu.Unlock()
	return nil
}

// Query resolves a QueryCube against every entry stored for semanticID,
// using the shared greedy puzzle algorithm in internal/cube (spec.md
// §4.2).
func (s *Store) Query(semanticID cacheid.SemanticID, query cube.QueryCube) cube.Result[cacheid.EntryID] {
	b := s.bucketFor(semanticID, false)
	if b == nil {
		return cube.Result[cacheid.EntryID]{Kind: cube.Miss}
	}

	b.mu.RLock()
	candidates := make([]cube.Candidate[cacheid.EntryID], 0, len(b.entries))
	for id, e := range b.entries {
		candidates = append(candidates, cube.Candidate[cacheid.EntryID]{
			Key:        id,
			Bounds:     e.Bounds.Cube,
			Resolution: e.Bounds.Resolution,
		})
	}
	b.mu.RUnlock()

	return cube.Puzzle(query, candidates)
}

// GetStatsDelta returns, for every entry with at least one access since
// the previous call, the number of accesses since then, resetting each
// entry's counter to 0. LastAccess is left untouched so relevance
// functions keep seeing true recency.
func (s *Store) GetStatsDelta() []StatsDelta {
	s.bucketsMu.RLock()
	buckets := make([]*bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.bucketsMu.RUnlock()

	var deltas []StatsDelta
	for _, b := range buckets {
		b.mu.Lock()
		for id, e := range b.entries {
			if e.Access.AccessCount == 0 {
				continue
			}
			deltas = append(deltas, StatsDelta{
				SemanticID:  e.SemanticID,
				EntryID:     id,
				AccessCount: e.Access.AccessCount,
				LastAccess:  e.Access.LastAccess,
			})
			e.Access.AccessCount = 0
		}
		b.mu.Unlock()
	}
	return deltas
}

// All returns a snapshot of every entry currently held, across every
// semantic id — used to rebuild a Hello's warm-start Existing list after
// a node reconnects to the coordinator.
func (s *Store) All() []Entry {
	s.bucketsMu.RLock()
	buckets := make([]*bucket, 0, len(s.buckets))
	for _, b := range s.buckets {
		buckets = append(buckets, b)
	}
	s.bucketsMu.RUnlock()

	var out []Entry
	for _, b := range buckets {
		b.mu.RLock()
		for _, e := range b.entries {
			out = append(out, *e)
		}
		b.mu.RUnlock()
	}
	return out
}

// UsedBytes returns the store's current byte total.
func (s *Store) UsedBytes() int64 {
	s.capMu.Lock()
	defer s.capMu.Unlock()
	return s.used
}
