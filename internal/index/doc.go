// Package index implements the coordinator-side index directory and
// resolver (spec.md §4.3): a mirror of every node's local store, without
// payloads, used to resolve queries against entries that may live on any
// node.
//
// Generalizes the teacher's coordinator.ShardRegistry — a single
// map[int]*ShardAssignment keyed by an integer shard id picked via
// consistent hashing — into a per-CacheType, per-SemanticID collection of
// IndexEntry values, replacing hash-mod-shard-count routing with
// cube-intersection lookup. The teacher's RWMutex-guarded map, with
// copy-out accessors so callers never see internal state, carries over
// directly; only the keyspace and the routing rule change.
package index
