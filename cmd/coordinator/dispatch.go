package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/protocol"
	"github.com/dreamware/geocache/internal/querymgr"
)

// Dispatch implements querymgr.Dispatcher. It must not block the
// scheduling goroutine that calls it, so the actual frame write runs on
// its own goroutine; the job's QueryID is reused directly as the wire
// JobID, so no separate correlation table is needed on this side either.
func (s *Server) Dispatch(ctx context.Context, nodeID cacheid.NodeID, job *querymgr.Job) {
	nc := s.nodeByID(nodeID)
	if nc == nil {
		s.manager.Fail(job.ID, errNodeGone(nodeID))
		s.notifyWaiters(job.ID, queryOutcome{err: errNodeGone(nodeID)})
		return
	}

	go func() {
		var (
			kind protocol.Kind
			body []byte
		)
		switch job.Kind {
		case querymgr.DeliverJob:
			kind = protocol.KindDeliver
			body = protocol.Deliver{
				JobID:      uint64(job.ID),
				CacheType:  uint8(job.CacheType),
				SemanticID: string(job.SemanticID),
				EntryID:    uint64(job.DeliverRef.EntryID),
			}.Encode()

		case querymgr.PuzzleJob:
			remainders := make([][]float64, len(job.Remainders))
			for i, r := range job.Remainders {
				remainders[i] = protocol.CubeToRect(r.Cube)
			}
			msg := protocol.Puzzle{
				JobID:      uint64(job.ID),
				CacheType:  uint8(job.CacheType),
				SemanticID: string(job.SemanticID),
				Rectangle:  protocol.CubeToRect(job.Rect.Cube),
				Remainders: remainders,
			}
			if job.Rect.Restype() == cube.RestypePixels {
				msg.HasScale = true
				msg.ScaleX, msg.ScaleY = *job.Rect.ScaleX, *job.Rect.ScaleY
			}
			kind = protocol.KindPuzzle
			body = msg.Encode()

		default: // CreateJob
			msg := protocol.Create{
				JobID:      uint64(job.ID),
				CacheType:  uint8(job.CacheType),
				SemanticID: string(job.SemanticID),
				Rectangle:  protocol.CubeToRect(job.Rect.Cube),
			}
			if job.Rect.Restype() == cube.RestypePixels {
				msg.HasScale = true
				msg.ScaleX, msg.ScaleY = *job.Rect.ScaleX, *job.Rect.ScaleY
			}
			kind = protocol.KindCreate
			body = msg.Encode()
		}

		if err := nc.send(kind, body); err != nil {
			s.logger.Warn("dispatch send failed", zap.Uint32("node_id", uint32(nodeID)), zap.Error(err))
			s.manager.RequeueOnWorkerFailure(ctx, job.ID)
		}
	}()
}

type nodeGoneError struct{ nodeID cacheid.NodeID }

func (e nodeGoneError) Error() string {
	return "dispatch: node is no longer connected"
}

func errNodeGone(nodeID cacheid.NodeID) error { return nodeGoneError{nodeID: nodeID} }
