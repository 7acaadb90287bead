package main

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/index"
	"github.com/dreamware/geocache/internal/placement"
	"github.com/dreamware/geocache/internal/protocol"
	"github.com/dreamware/geocache/internal/querymgr"
	"github.com/dreamware/geocache/internal/store"
)

// nodeConn is the coordinator's live handle on one cache node: its
// control connection plus everything learned from HELLO and the
// connection's own remote address. A single write mutex serializes
// CREATE/PUZZLE/DELIVER/REORG frames the coordinator sends, since
// protocol.WriteFrame is not safe for concurrent callers on the same
// connection.
type nodeConn struct {
	id   cacheid.NodeID
	conn net.Conn

	writeMu sync.Mutex

	host         string
	deliveryPort uint32
	workerCount  uint32

	capMu sync.Mutex
	cap   placement.NodeCapacity
}

func (nc *nodeConn) setCapacity(c placement.NodeCapacity) {
	nc.capMu.Lock()
	nc.cap = c
	nc.capMu.Unlock()
}

func (nc *nodeConn) capacity() placement.NodeCapacity {
	nc.capMu.Lock()
	defer nc.capMu.Unlock()
	return nc.cap
}

func (nc *nodeConn) send(kind protocol.Kind, body []byte) error {
	nc.writeMu.Lock()
	defer nc.writeMu.Unlock()
	return protocol.WriteFrame(nc.conn, kind, body)
}

// startControlListener opens the control port and accepts node
// connections in the background until ctx is canceled.
func (s *Server) startControlListener(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("control accept", zap.Error(err))
				continue
			}
			go s.handleControlConn(ctx, conn)
		}
	}()
	return nil
}

func (s *Server) handleControlConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	role, err := protocol.ReadRoleMagic(conn)
	if err != nil || role != protocol.RoleControl {
		s.logger.Warn("control conn: bad role magic", zap.Error(err))
		return
	}

	kind, body, err := protocol.ReadFrame(conn)
	if err != nil || kind != protocol.KindHello {
		s.logger.Warn("control conn: expected HELLO", zap.Error(err))
		return
	}
	hello, err := protocol.DecodeHello(body)
	if err != nil {
		s.logger.Warn("control conn: decode HELLO", zap.Error(err))
		return
	}

	nc := &nodeConn{
		id:           cacheid.NewRandomNodeID(),
		conn:         conn,
		host:         hostOf(conn.RemoteAddr()),
		deliveryPort: hello.Port,
		workerCount:  hello.WorkerCount,
	}

	if err := nc.send(protocol.KindWelcome, protocol.Welcome{NodeID: uint32(nc.id), Host: nc.host}.Encode()); err != nil {
		s.logger.Warn("control conn: send WELCOME", zap.Error(err))
		return
	}

	for _, ex := range hello.Existing {
		s.directory.Publish(cachetype.CacheType(ex.CacheType), index.IndexEntry{
			NodeID:     nc.id,
			SemanticID: cacheid.SemanticID(ex.SemanticID),
			EntryID:    cacheid.EntryID(ex.EntryID),
			Bounds:     cube.CacheCube{Cube: protocol.RectToCube(ex.Bounds)},
		})
	}

	var totalBudget uint64
	for _, c := range hello.Capacities {
		totalBudget += c.Budget
	}
	initCap := placement.NodeCapacity{NodeID: nc.id, TotalBytes: int64(totalBudget)}
	nc.setCapacity(initCap)
	s.manager.UpdateNodeCapacity(initCap)
	s.manager.UpdateNodeFreeWorkers(nc.id, int(hello.WorkerCount))

	s.registerNode(nc)
	s.logger.Info("node joined", zap.Uint32("node_id", uint32(nc.id)), zap.String("host", nc.host))
	defer s.unregisterNode(nc.id)

	s.controlReadLoop(ctx, nc)
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

// controlReadLoop demuxes everything a node sends after the handshake:
// job-completion replies, reorg acknowledgements, and stats reports.
// It runs for the life of the connection; returning ends the node's
// session (the deferred unregisterNode in handleControlConn then fires
// node-disconnect handling).
func (s *Server) controlReadLoop(ctx context.Context, nc *nodeConn) {
	for {
		kind, body, err := protocol.ReadFrame(nc.conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Info("node disconnected", zap.Uint32("node_id", uint32(nc.id)), zap.Error(err))
			}
			return
		}

		switch kind {
		case protocol.KindResultReady:
			s.handleResultReady(nc, body)
		case protocol.KindDeliveryReady:
			s.handleDeliveryReady(nc, body)
		case protocol.KindError:
			s.handleWorkerError(nc, body)
		case protocol.KindMoved:
			s.handleMoved(nc, body)
		case protocol.KindReorgDone:
			s.handleReorgDone(nc)
		case protocol.KindStats:
			s.handleStats(nc, body)
		default:
			s.logger.Warn("control conn: unexpected message", zap.Uint32("node_id", uint32(nc.id)), zap.Uint8("kind", uint8(kind)))
		}
	}
}

func (s *Server) handleResultReady(nc *nodeConn, body []byte) {
	msg, err := protocol.DecodeResultReady(body)
	if err != nil {
		s.logger.Warn("decode RESULT_READY", zap.Error(err))
		return
	}
	job := s.manager.Job(querymgr.QueryID(msg.JobID))
	n := 0
	if job != nil {
		n = len(job.Waiters)
	}
	if err := nc.send(protocol.KindDeliveryQty, protocol.DeliveryQty{JobID: msg.JobID, N: uint32(n)}.Encode()); err != nil {
		s.logger.Warn("send DELIVERY_QTY", zap.Error(err))
	}
}

func (s *Server) handleDeliveryReady(nc *nodeConn, body []byte) {
	msg, err := protocol.DecodeDeliveryReady(body)
	if err != nil {
		s.logger.Warn("decode DELIVERY_READY", zap.Error(err))
		return
	}
	id := querymgr.QueryID(msg.JobID)

	job := s.manager.Job(id)
	if job != nil {
		resolution := cube.NoResolution
		if msg.HasScale {
			resolution = cube.NewExactResolution(msg.ScaleX, msg.ScaleY)
		}
		s.directory.Publish(job.CacheType, index.IndexEntry{
			NodeID:     nc.id,
			SemanticID: job.SemanticID,
			EntryID:    cacheid.EntryID(msg.EntryID),
			Bounds:     cube.CacheCube{Cube: protocol.RectToCube(msg.Bounds), Resolution: resolution},
			ByteSize:   int64(msg.ByteSize),
		})
	}

	resp := querymgr.DeliveryResponse{Host: nc.host, Port: nc.deliveryPort, DeliveryID: msg.DeliveryID}
	s.manager.Complete(id, resp)
	s.notifyWaiters(id, queryOutcome{resp: resp})
	s.manager.UpdateNodeFreeWorkers(nc.id, s.freeWorkersAfter(nc))
	s.metrics.FinishedJobs.Inc()
	time.AfterFunc(s.cfg.FinishedGrace, s.metrics.FinishedJobs.Dec)
}

func (s *Server) handleWorkerError(nc *nodeConn, body []byte) {
	msg, err := protocol.DecodeError(body)
	if err != nil {
		s.logger.Warn("decode ERROR", zap.Error(err))
		return
	}
	id := querymgr.QueryID(msg.JobID)
	werr := errors.New(msg.Message)
	s.manager.Fail(id, werr)
	s.notifyWaiters(id, queryOutcome{err: werr})
	s.manager.UpdateNodeFreeWorkers(nc.id, s.freeWorkersAfter(nc))
	s.metrics.QueriesFailed.Inc()
}

// freeWorkersAfter is the free-worker count reported to the manager once
// a job on nc settles: the node's full worker count. Jobs the manager
// still has running on nc are not subtracted, and STATS reports do not
// update the free-worker count.
func (s *Server) freeWorkersAfter(nc *nodeConn) int {
	return int(nc.workerCount)
}

func (s *Server) handleMoved(nc *nodeConn, body []byte) {
	msg, err := protocol.DecodeMoved(body)
	if err != nil {
		s.logger.Warn("decode MOVED", zap.Error(err))
		return
	}
	s.logger.Info("move completed", zap.Uint64("old_id", msg.OldID), zap.Uint64("new_id", msg.NewID), zap.Uint32("node_id", uint32(nc.id)))
	s.recordMoveCompletion(nc.id, cacheid.EntryID(msg.OldID), cacheid.EntryID(msg.NewID))
}

func (s *Server) handleReorgDone(nc *nodeConn) {
	s.logger.Debug("reorg done", zap.Uint32("node_id", uint32(nc.id)))
}

func (s *Server) handleStats(nc *nodeConn, body []byte) {
	msg, err := protocol.DecodeStats(body)
	if err != nil {
		s.logger.Warn("decode STATS", zap.Error(err))
		return
	}

	var used, total uint64
	for _, u := range msg.Usage {
		used += u.Used
		total += u.Total
	}
	capSnap := placement.NodeCapacity{NodeID: nc.id, UsedBytes: int64(used), TotalBytes: int64(total)}
	nc.setCapacity(capSnap)
	s.manager.UpdateNodeCapacity(capSnap)

	for _, en := range msg.Entries {
		s.directory.UpdateStats(
			cachetype.CacheType(en.CacheType),
			cacheid.SemanticID(en.SemanticID),
			nc.id,
			cacheid.EntryID(en.EntryID),
			store.AccessStats{LastAccess: time.Unix(0, en.LastAccess), AccessCount: en.AccessCount},
		)
	}
}
