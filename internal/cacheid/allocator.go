package cacheid

import "sync/atomic"

// Allocator hands out EntryIDs for a single (CacheType, SemanticID)
// bucket on one node. It never reuses a value, matching the atomic
// lock-free counter style of the teacher's per-shard operation stats.
type Allocator struct {
	next atomic.Uint64
}

// Next returns a fresh, never-before-issued EntryID. The zero value is
// never returned: ids start at 1 so a zero EntryID can serve as a
// recognizable "unset" sentinel in wire messages.
func (a *Allocator) Next() EntryID {
	return EntryID(a.next.Add(1))
}
