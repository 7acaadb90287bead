package store

import "errors"

// ErrInsufficientCapacity is returned by Put when a payload's byte size
// exceeds the store's configured budget outright — no amount of eviction
// can make room for it.
var ErrInsufficientCapacity = errors.New("store: insufficient capacity for payload")

// ErrNoSuchEntry is returned by Get and Remove when the requested
// (semantic id, entry id) pair isn't present. Remove treats this as
// idempotent success upstream: callers log it, never treat it as fatal.
var ErrNoSuchEntry = errors.New("store: no such entry")
