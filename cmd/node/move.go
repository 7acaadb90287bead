package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/placement"
	"github.com/dreamware/geocache/internal/protocol"
	"github.com/dreamware/geocache/internal/store"
)

// handleReorg carries out one REORG instruction: drop everything in
// Removals, then run every Moves entry to completion in parallel before
// reporting REORG_DONE. Per-move failures are logged, not fatal — a
// failed move leaves its source copy in place for the next reorg pass to
// retry (see internal/placement.Mover).
func (n *cacheNode) handleReorg(ctx context.Context, body []byte) {
	msg, err := protocol.DecodeReorg(body)
	if err != nil {
		n.logger.Warn("decode REORG", zap.Error(err))
		return
	}

	for _, r := range msg.Removals {
		st := n.storeFor(cachetype.CacheType(r.CacheType))
		if st == nil {
			continue
		}
		if err := st.Remove(cacheid.SemanticID(r.SemanticID), cacheid.EntryID(r.EntryID)); err != nil {
			n.logger.Debug("reorg removal", zap.String("semantic_id", r.SemanticID), zap.Uint64("entry_id", r.EntryID), zap.Error(err))
		} else {
			n.metrics.EntriesEvicted.WithLabelValues(cachetype.CacheType(r.CacheType).String()).Inc()
		}
	}

	var wg sync.WaitGroup
	for _, mv := range msg.Moves {
		mv := mv
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.runMove(ctx, mv)
		}()
	}
	wg.Wait()

	if err := n.send(protocol.KindReorgDone, protocol.ReorgDone{}.Encode()); err != nil {
		n.logger.Warn("send REORG_DONE", zap.Error(err))
	}
}

func (n *cacheNode) runMove(ctx context.Context, mv protocol.MoveInstruction) {
	item := placement.MoveItem{
		CacheType:  cachetype.CacheType(mv.CacheType),
		SemanticID: cacheid.SemanticID(mv.SemanticID),
		EntryID:    cacheid.EntryID(mv.EntryID),
	}

	transport := &moveTransport{
		node:       n,
		sourceAddr: net.JoinHostPort(mv.SourceHost, strconv.Itoa(int(mv.SourcePort))),
	}
	mover := placement.NewMover(transport)

	newID, err := mover.Run(ctx, item)
	if err != nil {
		n.logger.Warn("move failed", zap.String("semantic_id", mv.SemanticID), zap.Uint64("entry_id", mv.EntryID), zap.Error(err))
		return
	}

	moved := protocol.Moved{OldID: mv.EntryID, NewID: uint64(newID), NodeID: uint32(n.nodeID)}
	if err := n.send(protocol.KindMoved, moved.Encode()); err != nil {
		n.logger.Warn("send MOVED", zap.Error(err))
	}
}

// moveTransport implements placement.MoveTransport for one in-flight
// move: CopyItem dials the source's delivery service and stashes the
// metadata blob it returns, which InstallLocally then needs to know
// which store and what bounds/cost to install the payload under.
// placement.MoveItem carries no bounds or cost of its own (spec.md's
// Move only names the entry, not its payload shape), so this metadata
// blob is this system's way of getting that information from the
// source's MOVE_ITEM reply to the InstallLocally call that follows it in
// the same Mover.Run invocation (see DESIGN.md).
type moveTransport struct {
	node       *cacheNode
	sourceAddr string
	meta       moveMetadata
}

func (t *moveTransport) CopyItem(ctx context.Context, item placement.MoveItem) ([]byte, error) {
	payload, metaBytes, err := t.node.deliveryClient.MoveItem(t.sourceAddr, string(item.SemanticID), uint64(item.EntryID))
	if err != nil {
		return nil, err
	}
	meta, err := decodeMoveMetadata(metaBytes)
	if err != nil {
		return nil, fmt.Errorf("node: decode move metadata: %w", err)
	}
	t.meta = meta
	return payload, nil
}

func (t *moveTransport) InstallLocally(ctx context.Context, item placement.MoveItem, payload []byte) (cacheid.EntryID, error) {
	st := t.node.storeFor(item.CacheType)
	if st == nil {
		return 0, fmt.Errorf("node: no store for cache type %d", item.CacheType)
	}
	id, err := st.Put(item.SemanticID, payload, t.meta.bounds, t.meta.cost)
	if err == nil {
		t.node.metrics.EntriesPut.WithLabelValues(item.CacheType.String()).Inc()
	}
	return id, err
}

// DropSource is a no-op: the coordinator drives source-side removal once
// it has recorded the move (Server.recordMoveCompletion sends a
// follow-up REORG carrying just that removal), since there is no
// node-to-node control channel for the destination to tell the source
// directly.
func (t *moveTransport) DropSource(ctx context.Context, item placement.MoveItem) error {
	return nil
}

// moveMetadata is the application-level payload that rides alongside an
// entry's bytes on a GET_CACHED/MOVE_ITEM delivery reply: the cache type
// and cube bounds/resolution that delivery.CacheLookup's signature has
// no room for, plus the entry's production cost so a move doesn't reset
// a cost-aware relevance function's view of it.
type moveMetadata struct {
	cacheType cachetype.CacheType
	bounds    cube.CacheCube
	cost      store.CostProfile
}

func encodeResourceCost(e *protocol.Encoder, r store.ResourceCost) {
	e.Uint64(uint64(r.CPU)).Uint64(uint64(r.GPU)).Uint64(uint64(r.IO))
}

func decodeResourceCost(d *protocol.Decoder) store.ResourceCost {
	return store.ResourceCost{
		CPU: time.Duration(d.Uint64()),
		GPU: time.Duration(d.Uint64()),
		IO:  int64(d.Uint64()),
	}
}

func encodeMoveMetadata(m moveMetadata) []byte {
	e := protocol.NewEncoder()
	e.Uint8(uint8(m.cacheType))
	e.Cube(protocol.CubeToRect(m.bounds.Cube))
	if m.bounds.Resolution.Restype == cube.RestypePixels {
		e.Uint8(1).Double(m.bounds.Resolution.ScaleX).Double(m.bounds.Resolution.ScaleY)
	} else {
		e.Uint8(0)
	}
	encodeResourceCost(e, m.cost.Self)
	encodeResourceCost(e, m.cost.All)
	encodeResourceCost(e, m.cost.Uncached)
	return e.Body()
}

func decodeMoveMetadata(body []byte) (moveMetadata, error) {
	d := protocol.NewDecoder(body)
	ct := cachetype.CacheType(d.Uint8())
	rect := d.Cube(6)

	resolution := cube.NoResolution
	if d.Uint8() != 0 {
		resolution = cube.NewExactResolution(d.Double(), d.Double())
	}
	cost := store.CostProfile{
		Self:     decodeResourceCost(d),
		All:      decodeResourceCost(d),
		Uncached: decodeResourceCost(d),
	}

	if err := d.Err(); err != nil {
		return moveMetadata{}, err
	}
	return moveMetadata{
		cacheType: ct,
		bounds:    cube.CacheCube{Cube: protocol.RectToCube(rect), Resolution: resolution},
		cost:      cost,
	}, nil
}

// lookupCached implements delivery.CacheLookup: it searches every local
// store by (semanticID, entryID) since neither the delivery wire format
// nor CacheLookup's signature carries a CacheType to narrow the search
// with (see DESIGN.md). Entry ids are process-wide unique per spec.md §3,
// so the first store to hold a match is the only one that will.
func (n *cacheNode) lookupCached(semanticID string, entryID uint64) (payload, metadata []byte, ok bool) {
	for _, ct := range cachetype.All {
		st := n.stores[ct]
		if st == nil {
			continue
		}
		e, err := st.Get(cacheid.SemanticID(semanticID), cacheid.EntryID(entryID))
		if err != nil {
			continue
		}
		meta := encodeMoveMetadata(moveMetadata{cacheType: ct, bounds: e.Bounds, cost: e.Cost})
		return e.Payload, meta, true
	}
	return nil, nil, false
}
