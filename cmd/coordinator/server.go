package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/config"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/index"
	"github.com/dreamware/geocache/internal/metrics"
	"github.com/dreamware/geocache/internal/placement"
	"github.com/dreamware/geocache/internal/protocol"
	"github.com/dreamware/geocache/internal/querymgr"
	"github.com/dreamware/geocache/internal/store"
)

// Server is the coordinator process: it owns the index directory, the
// query manager's dispatch side, the node registry built from control
// connections, and the periodic reorg driver.
//
// manager is assigned by main after construction, since Manager and
// Server each need a reference to the other (Manager needs a
// Dispatcher, Server.Dispatch needs to ask the Manager for job state).
type Server struct {
	cfg       *config.CoordinatorConfig
	directory *index.Directory
	strategy  placement.ReorgStrategy
	relevance store.RelevanceFunction
	metrics   *metrics.Coordinator
	logger    *zap.Logger
	manager   *querymgr.Manager

	engine *placement.Engine

	nodesMu sync.RWMutex
	nodes   map[cacheid.NodeID]*nodeConn

	waitersMu sync.Mutex
	waiters   map[querymgr.QueryID][]chan queryOutcome

	movesMu sync.Mutex
	moves   map[moveKey]plannedMove
}

// moveKey identifies one in-flight move by the destination node that was
// instructed to fetch it and the entry id it will replace — the only
// correlation available once a node reports Moved (spec.md §4.8's Moved
// message carries no cache type or semantic id, since the destination
// only ever knew the source's host:port, not its own bookkeeping keys).
type moveKey struct {
	dest  cacheid.NodeID
	oldID cacheid.EntryID
}

// plannedMove is what the coordinator remembers about a move it
// dispatched, so that a later Moved report can finish updating the
// index and tell the source node to drop its copy (see the node's no-op
// moveTransport.DropSource and DESIGN.md's cmd/coordinator wiring notes:
// there is no node-to-node control channel, so the source's
// removal is driven by the coordinator, not by the destination).
type plannedMove struct {
	cacheType  cachetype.CacheType
	semanticID cacheid.SemanticID
	sourceNode cacheid.NodeID
	bounds     cube.CacheCube
	byteSize   int64
}

func (s *Server) recordPlannedMove(dest cacheid.NodeID, oldID cacheid.EntryID, pm plannedMove) {
	s.movesMu.Lock()
	defer s.movesMu.Unlock()
	s.moves[moveKey{dest: dest, oldID: oldID}] = pm
}

// recordMoveCompletion finishes a move the coordinator planned: it
// updates the directory and, since the node side never drops the
// source copy itself, sends a one-off Reorg carrying just that removal
// to the source node.
func (s *Server) recordMoveCompletion(dest cacheid.NodeID, oldID, newID cacheid.EntryID) {
	s.movesMu.Lock()
	pm, ok := s.moves[moveKey{dest: dest, oldID: oldID}]
	if ok {
		delete(s.moves, moveKey{dest: dest, oldID: oldID})
	}
	s.movesMu.Unlock()
	if !ok {
		s.logger.Warn("moved report for unknown move", zap.Uint32("dest", uint32(dest)), zap.Uint64("old_id", uint64(oldID)))
		return
	}

	s.directory.CompleteMove(pm.cacheType, pm.semanticID,
		index.Ref{NodeID: pm.sourceNode, EntryID: oldID},
		index.IndexEntry{NodeID: dest, EntryID: newID, Bounds: pm.bounds, ByteSize: pm.byteSize},
	)

	if src := s.nodeByID(pm.sourceNode); src != nil {
		removal := protocol.Reorg{Removals: []protocol.Removal{{
			CacheType:  uint8(pm.cacheType),
			SemanticID: string(pm.semanticID),
			EntryID:    uint64(oldID),
		}}}
		if err := src.send(protocol.KindReorg, removal.Encode()); err != nil {
			s.logger.Warn("send source-drop REORG", zap.Error(err))
		}
	}
}

// queryOutcome is what a blocked client connection goroutine is woken
// with once its job finishes, one way or the other.
type queryOutcome struct {
	resp querymgr.DeliveryResponse
	err  error
}

func newServer(cfg *config.CoordinatorConfig, directory *index.Directory, strategy placement.ReorgStrategy, relevance store.RelevanceFunction, mx *metrics.Coordinator, logger *zap.Logger) *Server {
	return &Server{
		cfg:       cfg,
		directory: directory,
		strategy:  strategy,
		relevance: relevance,
		metrics:   mx,
		logger:    logger,
		engine:    placement.NewEngine(strategy),
		nodes:     make(map[cacheid.NodeID]*nodeConn),
		waiters:   make(map[querymgr.QueryID][]chan queryOutcome),
		moves:     make(map[moveKey]plannedMove),
	}
}

// addWaiter registers ch to be notified when id's job settles. Call
// before the job can possibly finish (i.e. right after AddRequest
// returns), so no completion can race ahead of registration.
func (s *Server) addWaiter(id querymgr.QueryID, ch chan queryOutcome) {
	s.waitersMu.Lock()
	defer s.waitersMu.Unlock()
	s.waiters[id] = append(s.waiters[id], ch)
}

// notifyWaiters wakes every connection blocked on id with outcome and
// forgets them; called once per job settlement (from a control
// connection's reader goroutine).
func (s *Server) notifyWaiters(id querymgr.QueryID, outcome queryOutcome) {
	s.waitersMu.Lock()
	chans := s.waiters[id]
	delete(s.waiters, id)
	s.waitersMu.Unlock()

	for _, ch := range chans {
		ch <- outcome
	}
}

func (s *Server) registerNode(nc *nodeConn) {
	s.nodesMu.Lock()
	s.nodes[nc.id] = nc
	s.nodesMu.Unlock()
	s.metrics.NodesActive.Set(float64(s.nodeCount()))
}

func (s *Server) unregisterNode(id cacheid.NodeID) {
	s.nodesMu.Lock()
	delete(s.nodes, id)
	s.nodesMu.Unlock()
	s.metrics.NodesActive.Set(float64(s.nodeCount()))
	s.directory.DropNode(id)
	s.strategy.NodeFailed(id)
	s.manager.HandleNodeDisconnect(context.Background(), id)
}

func (s *Server) nodeCount() int {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()
	return len(s.nodes)
}

func (s *Server) nodeByID(id cacheid.NodeID) *nodeConn {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()
	return s.nodes[id]
}

func (s *Server) allNodes() []*nodeConn {
	s.nodesMu.RLock()
	defer s.nodesMu.RUnlock()
	out := make([]*nodeConn, 0, len(s.nodes))
	for _, nc := range s.nodes {
		out = append(out, nc)
	}
	return out
}

// allNodeCapacities snapshots every node's latest known capacity, the
// input placement.Engine.ShouldReorg and ReorgStrategy.Distribute need.
func (s *Server) allNodeCapacities() []placement.NodeCapacity {
	nodes := s.allNodes()
	out := make([]placement.NodeCapacity, 0, len(nodes))
	for _, nc := range nodes {
		out = append(out, nc.capacity())
	}
	return out
}

// handleListNodes is the /nodes admin endpoint: a JSON snapshot of the
// registry for operational visibility, in the teacher's admin-handler
// style.
func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	type nodeView struct {
		NodeID       cacheid.NodeID `json:"node_id"`
		Host         string         `json:"host"`
		DeliveryPort uint32         `json:"delivery_port"`
		WorkerCount  uint32         `json:"worker_count"`
	}

	nodes := s.allNodes()
	out := make([]nodeView, 0, len(nodes))
	for _, nc := range nodes {
		out = append(out, nodeView{
			NodeID:       nc.id,
			Host:         nc.host,
			DeliveryPort: nc.deliveryPort,
			WorkerCount:  nc.workerCount,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
