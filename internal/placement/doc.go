// Package placement implements the reorganization engine: pluggable
// RelevanceFunction and ReorgStrategy policies, the usage-triggered
// reorg tick, and the Move state machine (spec.md §4.6, §4.8).
//
// RelevanceFunction and ReorgStrategy are small interfaces — a
// generalization of the "inheritance-based strategy hierarchy" design
// note in spec.md §9 into Go interfaces with a factory keyed by a
// configuration string, the idiom the teacher already uses for pluggable
// storage backends (storage.Store / storage.MemoryStore).
package placement
