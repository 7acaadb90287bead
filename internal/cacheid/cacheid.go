// Package cacheid defines the identifier types used throughout the cache:
// SemanticID names a computation, EntryID names one stored result of it,
// and NodeID names the cache node that owns an entry.
package cacheid

import (
	"hash/fnv"

	"github.com/google/uuid"
)

// SemanticID names a cache_type-scoped computation — typically the
// operator-graph path string a producer was asked to evaluate. It is
// opaque beyond byte equality; the cache never parses it.
type SemanticID string

// EntryID identifies one stored entry within a (CacheType, SemanticID)
// bucket. EntryIDs are never reused: a removed or moved entry's id is
// retired for good, and the destination of a move always receives a
// freshly allocated id (spec.md §3, testable property 6).
type EntryID uint64

// NodeID identifies a cache node, assigned once by the coordinator at
// WELCOME time.
type NodeID uint32

// NewNodeID derives a NodeID from a human-supplied node name using the
// same FNV-1a hash the teacher's shard registry used for consistent
// hashing — reused here purely as a name-to-namespace hash, not for
// routing.
func NewNodeID(name string) NodeID {
	h := fnv.New32a()
	h.Write([]byte(name))
	return NodeID(h.Sum32())
}

// NewRandomNodeID derives a NodeID for a node that didn't supply an
// explicit name, seeding the FNV-1a hash with a fresh UUID so unnamed
// nodes still get a stable-for-the-process, well-distributed id.
func NewRandomNodeID() NodeID {
	return NewNodeID(uuid.NewString())
}
