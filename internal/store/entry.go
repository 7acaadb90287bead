package store

import (
	"time"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cube"
)

// AccessStats tracks how recently and how often an entry has been read.
// Updated atomically on every successful Get.
type AccessStats struct {
	LastAccess  time.Time
	AccessCount uint64
}

// ResourceCost is one cost variant's CPU, GPU, and I/O totals: CPU and
// GPU are time actually spent, IO is bytes moved.
type ResourceCost struct {
	CPU time.Duration
	GPU time.Duration
	IO  int64
}

// ioNanosPerByte folds ResourceCost.IO into Total's scalar duration.
// The original's CachingStrategy::get_costs combiner, which presumably
// has its own weighting, isn't part of the retrieval pack this system
// was built from, so this is a fixed stand-in rather than a grounded
// figure — see DESIGN.md. It keeps I/O load-bearing in relevance
// scoring instead of silently dropping it.
const ioNanosPerByte = int64(100 * time.Nanosecond)

// Total collapses CPU, GPU, and IO into one scalar duration for
// relevance functions that want a single cost figure rather than the
// three dimensions separately.
func (r ResourceCost) Total() time.Duration {
	return r.CPU + r.GPU + time.Duration(r.IO*ioNanosPerByte)
}

// CostProfile carries what it cost the producer to compute an entry's
// payload, in the three variants the producer reports: Self is this
// operator alone, All folds in every child operator it depends on, and
// Uncached is the portion that would still have to run if nothing were
// cached. Cost-aware relevance functions (placement.CostLRU) score by
// Uncached, since that's the part a cache hit actually avoids paying
// again.
type CostProfile struct {
	Self     ResourceCost
	All      ResourceCost
	Uncached ResourceCost
}

// Entry is one cached payload: its owning semantic id and entry id, the
// bytes a producer returned, the cube it covers, its resolution, and the
// bookkeeping relevance functions score it by.
type Entry struct {
	SemanticID cacheid.SemanticID
	EntryID    cacheid.EntryID
	Payload    []byte
	Bounds     cube.CacheCube
	Access     AccessStats
	Cost       CostProfile
}

// ByteSize returns the entry's payload size, the unit Store's budget is
// denominated in.
func (e *Entry) ByteSize() int64 {
	return int64(len(e.Payload))
}

// RelevanceFunction ranks an entry for eviction purposes: higher Score
// means more valuable, i.e. less likely to be evicted. Store's eviction
// pass picks ascending-score victims first. Implemented by
// internal/placement (LRU, CostLRU); Store only ever sees this interface.
type RelevanceFunction interface {
	Score(access AccessStats, cost CostProfile, now time.Time) float64
}

// StatsDelta is one entry's access-count change since the previous
// GetStatsDelta call, plus its current LastAccess so a STATS report can
// carry true recency to the coordinator's relevance scoring rather than
// the report's own timestamp.
type StatsDelta struct {
	SemanticID  cacheid.SemanticID
	EntryID     cacheid.EntryID
	AccessCount uint64
	LastAccess  time.Time
}
