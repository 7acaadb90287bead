package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/protocol"
	"github.com/dreamware/geocache/internal/store"
)

// deliveryDeadlineGrace is how long a reserved delivery stays claimable
// after a worker finishes a job, independent of the coordinator's own
// grace window — long enough for the slowest of DeliveryQty's consumers
// to dial in.
const deliveryDeadlineGrace = 30 * time.Second

// runWorker pulls jobs off the shared queue until ctx is cancelled,
// matching spec.md §5's "N worker threads pull job commands off the
// control stream and execute them".
func (n *cacheNode) runWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-n.jobs:
			n.metrics.WorkersBusy.Inc()
			n.runJob(ctx, j)
			n.metrics.WorkersBusy.Dec()
		}
	}
}

// runJob executes one CREATE/PUZZLE/DELIVER command to completion: it
// either reserves a payload and reports RESULT_READY, then
// DELIVERY_READY once the coordinator answers with the expected consumer
// count, or reports ERROR.
func (n *cacheNode) runJob(ctx context.Context, j job) {
	st := n.storeFor(j.cacheType)
	if st == nil {
		n.sendError(j.jobID, fmt.Errorf("node: no store for cache type %d", j.cacheType))
		return
	}

	var (
		payload []byte
		bounds  cube.CacheCube
		cost    store.CostProfile
		entryID cacheid.EntryID
		err     error
	)

	switch j.kind {
	case protocol.KindDeliver:
		var e store.Entry
		e, err = st.Get(j.semanticID, j.entryID)
		if err == nil {
			payload, bounds, cost, entryID = e.Payload, e.Bounds, e.Cost, e.EntryID
			n.metrics.QueryHits.WithLabelValues(j.cacheType.String()).Inc()
		}

	default: // CREATE, PUZZLE
		start := time.Now()
		payload, bounds, cost, err = n.producer.Produce(ctx, j.cacheType, j.semanticID, j.rect)
		n.metrics.ProduceDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			n.metrics.ProduceErrors.Inc()
			break
		}
		entryID, err = st.Put(j.semanticID, payload, bounds, cost)
		if err == nil {
			n.metrics.EntriesPut.WithLabelValues(j.cacheType.String()).Inc()
			if j.kind == protocol.KindPuzzle {
				n.metrics.QueryPartials.WithLabelValues(j.cacheType.String()).Inc()
			} else {
				n.metrics.QueryMisses.WithLabelValues(j.cacheType.String()).Inc()
			}
		}
	}

	if err != nil {
		n.sendError(j.jobID, err)
		return
	}

	if err := n.send(protocol.KindResultReady, protocol.ResultReady{JobID: j.jobID}.Encode()); err != nil {
		n.logger.Warn("send RESULT_READY", zap.Uint64("job_id", j.jobID), zap.Error(err))
		return
	}

	qty, ok := n.awaitQty(ctx, j.jobID)
	if !ok {
		n.logger.Warn("no DELIVERY_QTY reply", zap.Uint64("job_id", j.jobID))
		return
	}

	d := n.deliveryMgr.Reserve(payload, encodeMoveMetadata(moveMetadata{cacheType: j.cacheType, bounds: bounds, cost: cost}), int32(qty), time.Now().Add(deliveryDeadlineGrace))
	n.metrics.DeliveriesActive.Set(float64(n.deliveryMgr.Count()))

	reply := protocol.DeliveryReady{
		JobID:      j.jobID,
		DeliveryID: uint64(d.ID),
		EntryID:    uint64(entryID),
		Bounds:     protocol.CubeToRect(bounds.Cube),
		ByteSize:   uint64(len(payload)),
	}
	if bounds.Resolution.Restype == cube.RestypePixels {
		reply.HasScale = true
		reply.ScaleX = bounds.Resolution.ScaleX
		reply.ScaleY = bounds.Resolution.ScaleY
	}
	if err := n.send(protocol.KindDeliveryReady, reply.Encode()); err != nil {
		n.logger.Warn("send DELIVERY_READY", zap.Uint64("job_id", j.jobID), zap.Error(err))
	}
}

func (n *cacheNode) sendError(jobID uint64, cause error) {
	if err := n.send(protocol.KindError, protocol.Error{JobID: jobID, Message: cause.Error()}.Encode()); err != nil {
		n.logger.Warn("send ERROR", zap.Uint64("job_id", jobID), zap.Error(err))
	}
}
