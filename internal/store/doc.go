// Package store implements the node-local typed entry store: one Store
// per CacheType per node, holding every semantic id's cached entries for
// that type (spec.md §4.2).
//
// Layout generalizes the teacher's storage.MemoryStore (a single coarse
// lock over a flat map) into the two-tier locking spec.md §5 calls for:
// entries live in per-semantic-id buckets, each behind its own
// sync.RWMutex, while a single store-wide mutex guards only the running
// byte total and the eviction pass that keeps it under budget. This
// mirrors the bucket-lock-plus-global-accounting split documented by the
// sharded-cache design in the examples pack.
//
// Eviction never hard-codes a policy: Store calls into a caller-supplied
// RelevanceFunction, implemented by internal/placement, to rank
// candidates for removal. Store defines the interface rather than
// importing internal/placement, so placement can depend on store without
// a cycle.
package store
