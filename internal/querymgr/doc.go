// Package querymgr implements the coordinator's query manager
// (spec.md §4.4): the single scheduling authority that owns the
// pending/running/finished job tables and decides, for every incoming
// request, whether to attach it to existing work, extend a pending
// job's rectangle, or create a new job.
//
// Every table mutation happens on one dedicated goroutine drained from
// a buffered command channel — the "single scheduling thread" of
// spec.md §5 — mirroring the ticker-plus-channel-select shape of the
// teacher's HealthMonitor (internal/coordinator/health_monitor.go),
// generalized from a periodic tick to a command queue so that AddRequest,
// worker completions, and failure notifications all serialize through
// the same loop without their own locking.
package querymgr
