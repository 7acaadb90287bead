// Package delivery implements the per-node delivery service (spec.md
// §4.7): a TCP listener that streams reserved payloads to clients and
// peers, each accepted connection handled by its own short-lived
// goroutine, matching the "delivery acceptor thread... spawns
// short-lived per-delivery tasks" model of spec.md §5.
//
// A Delivery is a consumer-counted handle on a payload: reserved by the
// worker that produced (or already holds) it, decremented once per GET,
// and destroyed either when the count reaches zero or a background
// sweeper finds its deadline elapsed.
package delivery
