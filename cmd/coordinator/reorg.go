package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/placement"
	"github.com/dreamware/geocache/internal/protocol"
)

// runReorgLoop drives spec.md §4.6's periodic reorganization pass: on
// every tick, check the trigger conditions, and if they fire, ask the
// configured strategy for a move plan plus an eviction list, then tell
// each affected node what to do over its control connection.
//
// The coordinator never drives a move's state machine itself
// (internal/placement.Mover) — it only plans moves and evictions and
// sends REORG; the destination node dials the source's delivery
// service and reports back (see DESIGN.md).
func (s *Server) runReorgLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runReorgPass()
		}
	}
}

func (s *Server) runReorgPass() {
	nodes := s.allNodeCapacities()
	if len(nodes) == 0 {
		return
	}
	if !s.engine.ShouldReorg(nodes) {
		return
	}
	s.metrics.ReorgRuns.Inc()

	entries := s.directory.All()
	placed := make([]placement.PlacedEntry, 0, len(entries))
	byNodeAndEntry := make(map[cacheid.NodeID]map[cacheid.EntryID]int)
	for i, e := range entries {
		placed = append(placed, placement.PlacedEntry{
			CacheType:  e.CacheType,
			NodeID:     e.NodeID,
			SemanticID: e.SemanticID,
			EntryID:    e.EntryID,
			Bounds:     e.Bounds,
			ByteSize:   e.ByteSize,
		})
		m, ok := byNodeAndEntry[e.NodeID]
		if !ok {
			m = make(map[cacheid.EntryID]int)
			byNodeAndEntry[e.NodeID] = m
		}
		m[e.EntryID] = i
	}

	moves, err := s.strategy.Distribute(placed, nodes)
	if err != nil {
		s.logger.Warn("reorg: distribute", zap.Error(err))
		return
	}

	evictions := placement.SelectEvictions(entries, nodes, s.relevance, time.Now())

	type byNode struct {
		removals []protocol.Removal
		moves    []protocol.MoveInstruction
	}
	perNode := make(map[cacheid.NodeID]*byNode)
	get := func(id cacheid.NodeID) *byNode {
		bn, ok := perNode[id]
		if !ok {
			bn = &byNode{}
			perNode[id] = bn
		}
		return bn
	}

	for _, mv := range moves {
		s.metrics.ReorgMovesPlanned.Inc()
		src := s.nodeByID(mv.From)
		dst := s.nodeByID(mv.To)
		if src == nil || dst == nil {
			s.metrics.ReorgMovesFailed.Inc()
			continue
		}

		idx, ok := byNodeAndEntry[mv.From][mv.EntryID]
		if !ok {
			s.metrics.ReorgMovesFailed.Inc()
			continue
		}
		src0 := entries[idx]

		bn := get(mv.To)
		bn.moves = append(bn.moves, protocol.MoveInstruction{
			CacheType:  uint8(mv.CacheType),
			SemanticID: string(mv.SemanticID),
			EntryID:    uint64(mv.EntryID),
			SourceHost: src.host,
			SourcePort: src.deliveryPort,
		})

		s.recordPlannedMove(mv.To, mv.EntryID, plannedMove{
			cacheType:  mv.CacheType,
			semanticID: mv.SemanticID,
			sourceNode: mv.From,
			bounds:     src0.Bounds,
			byteSize:   src0.ByteSize,
		})
	}

	for _, e := range evictions {
		bn := get(e.NodeID)
		bn.removals = append(bn.removals, protocol.Removal{
			CacheType:  uint8(e.CacheType),
			SemanticID: string(e.SemanticID),
			EntryID:    uint64(e.EntryID),
		})
	}

	for nodeID, bn := range perNode {
		nc := s.nodeByID(nodeID)
		if nc == nil {
			continue
		}
		msg := protocol.Reorg{Removals: bn.removals, Moves: bn.moves}
		if err := nc.send(protocol.KindReorg, msg.Encode()); err != nil {
			s.logger.Warn("send REORG", zap.Uint32("node_id", uint32(nodeID)), zap.Error(err))
		}
	}
}
