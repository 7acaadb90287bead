package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/protocol"
)

// job is one CREATE/PUZZLE/DELIVER command pulled off the control
// connection and queued for a worker goroutine. Rect carries the full
// requested cube for CREATE/PUZZLE; EntryID is only meaningful for
// DELIVER.
type job struct {
	kind       protocol.Kind
	jobID      uint64
	cacheType  cachetype.CacheType
	semanticID cacheid.SemanticID
	rect       cube.Cube
	entryID    cacheid.EntryID
}

// dialAndHandshake connects to the coordinator's control port, sends
// HELLO built from this node's current store contents, and waits for
// WELCOME before returning. deliveryAddr is this node's own delivery
// listener address, reported to the coordinator so it can tell move
// destinations where to fetch from.
func (n *cacheNode) dialAndHandshake(ctx context.Context, deliveryAddr net.Addr) error {
	conn, err := net.DialTimeout("tcp", n.cfg.CoordinatorAddr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial coordinator: %w", err)
	}
	n.conn = conn

	if err := protocol.WriteRoleMagic(conn, protocol.RoleControl); err != nil {
		return fmt.Errorf("write role magic: %w", err)
	}

	port, err := portOf(deliveryAddr)
	if err != nil {
		return err
	}

	hello := protocol.Hello{
		Capacities:  n.capacities(),
		Port:        port,
		WorkerCount: uint32(n.cfg.WorkerCount),
		Existing:    n.existingEntries(),
	}
	if err := n.send(protocol.KindHello, hello.Encode()); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}

	kind, body, err := protocol.ReadFrame(conn)
	if err != nil {
		return fmt.Errorf("read WELCOME: %w", err)
	}
	if kind != protocol.KindWelcome {
		return fmt.Errorf("expected WELCOME, got kind %d", kind)
	}
	welcome, err := protocol.DecodeWelcome(body)
	if err != nil {
		return fmt.Errorf("decode WELCOME: %w", err)
	}

	n.nodeID = cacheid.NodeID(welcome.NodeID)
	n.host = welcome.Host
	return nil
}

func portOf(addr net.Addr) (uint32, error) {
	_, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return 0, fmt.Errorf("split delivery addr: %w", err)
	}
	p, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parse delivery port: %w", err)
	}
	return uint32(p), nil
}

// capacities reports each store's configured budget for HELLO.
func (n *cacheNode) capacities() []protocol.CacheTypeCapacity {
	out := make([]protocol.CacheTypeCapacity, 0, len(n.stores))
	for _, ct := range cachetype.All {
		st := n.stores[ct]
		if st == nil {
			continue
		}
		out = append(out, protocol.CacheTypeCapacity{CacheType: uint8(ct), Budget: uint64(st.Budget())})
	}
	return out
}

// existingEntries builds HELLO's warm-start list from every entry this
// node's stores already hold, for the case where a node restarts or
// reconnects without having lost its in-memory cache (e.g. a dropped
// control connection recovered before process exit).
func (n *cacheNode) existingEntries() []protocol.ExistingEntry {
	var out []protocol.ExistingEntry
	for _, ct := range cachetype.All {
		st := n.stores[ct]
		if st == nil {
			continue
		}
		for _, e := range st.All() {
			out = append(out, protocol.ExistingEntry{
				CacheType:  uint8(ct),
				SemanticID: string(e.SemanticID),
				EntryID:    uint64(e.EntryID),
				Bounds:     protocol.CubeToRect(e.Bounds.Cube),
			})
		}
	}
	return out
}

// runControlLoop demuxes everything the coordinator sends after the
// handshake until the connection closes or ctx is cancelled.
func (n *cacheNode) runControlLoop(ctx context.Context) {
	for {
		kind, body, err := protocol.ReadFrame(n.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				n.logger.Warn("control connection lost", zap.Error(err))
			}
			return
		}

		switch kind {
		case protocol.KindCreate:
			n.enqueueCreate(body)
		case protocol.KindPuzzle:
			n.enqueuePuzzle(body)
		case protocol.KindDeliver:
			n.enqueueDeliver(body)
		case protocol.KindReorg:
			go n.handleReorg(ctx, body)
		case protocol.KindStatsRequest:
			go n.handleStatsRequest()
		case protocol.KindDeliveryQty:
			n.handleDeliveryQty(body)
		default:
			n.logger.Warn("control loop: unexpected message", zap.Uint8("kind", uint8(kind)))
		}
	}
}

func (n *cacheNode) enqueueCreate(body []byte) {
	msg, err := protocol.DecodeCreate(body)
	if err != nil {
		n.logger.Warn("decode CREATE", zap.Error(err))
		return
	}
	n.jobs <- job{
		kind:       protocol.KindCreate,
		jobID:      msg.JobID,
		cacheType:  cachetype.CacheType(msg.CacheType),
		semanticID: cacheid.SemanticID(msg.SemanticID),
		rect:       protocol.RectToCube(msg.Rectangle),
	}
}

// enqueuePuzzle recomputes the whole answer via the producer rather than
// stitching the remainder cubes together: Producer has no notion of a
// partial result, only "produce this rectangle", so a puzzle job is
// handled identically to a create job once its full requested rectangle
// is known. The Remainders field exists for a producer sophisticated
// enough to skip recomputing what's already covered; this node's fake
// producer has no use for it.
func (n *cacheNode) enqueuePuzzle(body []byte) {
	msg, err := protocol.DecodePuzzle(body)
	if err != nil {
		n.logger.Warn("decode PUZZLE", zap.Error(err))
		return
	}
	n.jobs <- job{
		kind:       protocol.KindPuzzle,
		jobID:      msg.JobID,
		cacheType:  cachetype.CacheType(msg.CacheType),
		semanticID: cacheid.SemanticID(msg.SemanticID),
		rect:       protocol.RectToCube(msg.Rectangle),
	}
}

func (n *cacheNode) enqueueDeliver(body []byte) {
	msg, err := protocol.DecodeDeliver(body)
	if err != nil {
		n.logger.Warn("decode DELIVER", zap.Error(err))
		return
	}
	n.jobs <- job{
		kind:       protocol.KindDeliver,
		jobID:      msg.JobID,
		cacheType:  cachetype.CacheType(msg.CacheType),
		semanticID: cacheid.SemanticID(msg.SemanticID),
		entryID:    cacheid.EntryID(msg.EntryID),
	}
}

func (n *cacheNode) handleDeliveryQty(body []byte) {
	msg, err := protocol.DecodeDeliveryQty(body)
	if err != nil {
		n.logger.Warn("decode DELIVERY_QTY", zap.Error(err))
		return
	}
	n.pendingMu.Lock()
	ch, ok := n.pending[msg.JobID]
	n.pendingMu.Unlock()
	if ok {
		ch <- msg.N
	}
}

// awaitQty blocks until a DELIVERY_QTY for jobID arrives, ctx is
// cancelled, or a grace period elapses with no reply — the coordinator
// is expected to answer every RESULT_READY, but a disconnect mid-flight
// must not leak a worker goroutine forever.
func (n *cacheNode) awaitQty(ctx context.Context, jobID uint64) (uint32, bool) {
	ch := make(chan uint32, 1)
	n.pendingMu.Lock()
	n.pending[jobID] = ch
	n.pendingMu.Unlock()
	defer func() {
		n.pendingMu.Lock()
		delete(n.pending, jobID)
		n.pendingMu.Unlock()
	}()

	select {
	case qty := <-ch:
		return qty, true
	case <-ctx.Done():
		return 0, false
	case <-time.After(deliveryQtyGrace):
		return 0, false
	}
}

const deliveryQtyGrace = 30 * time.Second

// runStatsLoop periodically reports usage and access statistics to the
// coordinator, independent of its STATS_REQUEST polling.
func (n *cacheNode) runStatsLoop(ctx context.Context) {
	interval := n.cfg.StatsInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.handleStatsRequest()
		}
	}
}

func (n *cacheNode) handleStatsRequest() {
	var usage []protocol.TypeUsage
	var entries []protocol.EntryStats

	for _, ct := range cachetype.All {
		st := n.stores[ct]
		if st == nil {
			continue
		}
		used := st.UsedBytes()
		usage = append(usage, protocol.TypeUsage{CacheType: uint8(ct), Used: uint64(used), Total: uint64(st.Budget())})
		n.metrics.BytesUsed.WithLabelValues(ct.String()).Set(float64(used))

		for _, d := range st.GetStatsDelta() {
			entries = append(entries, protocol.EntryStats{
				CacheType:   uint8(ct),
				SemanticID:  string(d.SemanticID),
				EntryID:     uint64(d.EntryID),
				AccessCount: d.AccessCount,
				LastAccess:  d.LastAccess.UnixNano(),
			})
		}
	}

	stats := protocol.Stats{Usage: usage, Entries: entries}
	if err := n.send(protocol.KindStats, stats.Encode()); err != nil {
		n.logger.Warn("send STATS", zap.Error(err))
	}
}
