package main

import (
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"testing"
	"time"

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
)

// fakeResolver/fakeDispatcher stand in for the coordinator's real query
// manager wiring, which server_test.go has no need to exercise beyond
// letting Manager.HandleNodeDisconnect run without a nil pointer.
type fakeResolver struct{}

func (fakeResolver) Resolve(ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube) cube.Result[index.Ref] {
	return cube.Result[index.Ref]{}
}

type fakeDispatcher struct{}

func (fakeDispatcher) Dispatch(ctx context.Context, nodeID cacheid.NodeID, job *querymgr.Job) {}

func newTestManager(t *testing.T) *querymgr.Manager {
	t.Helper()
	m := querymgr.NewManager(fakeResolver{}, fakeDispatcher{}, placement.ReorgStrategy(nil), time.Second)
	go m.Run()
	t.Cleanup(m.Stop)
	return m
}

func testServer(t *testing.T) *Server {
	t.Helper()
	cfg := &config.CoordinatorConfig{
		ControlAddr:       ":0",
		ClientAddr:        ":0",
		AdminAddr:         ":0",
		ReorgStrategy:     "capacity",
		RelevanceFunction: "cost_lru",
		FinishedGrace:     time.Second,
	}
	strategy, err := placement.NewReorgStrategy(cfg.ReorgStrategy)
	if err != nil {
		t.Fatalf("NewReorgStrategy: %v", err)
	}
	relevance, err := placement.NewRelevanceFunction(cfg.RelevanceFunction)
	if err != nil {
		t.Fatalf("NewRelevanceFunction: %v", err)
	}
	return newServer(cfg, index.NewDirectory(), strategy, relevance, metrics.NewCoordinator(), zap.NewNop())
}

// newTestNodeConn wires a nodeConn to one end of an in-memory pipe. The
// peer end is returned for tests that need to observe frames the
// server sends; registerNode/unregisterNode/handleListNodes never call
// nc.send, so tests exercising only those need not read it.
func newTestNodeConn(t *testing.T, id cacheid.NodeID) (*nodeConn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return &nodeConn{id: id, conn: client, host: "127.0.0.1", deliveryPort: 9000, workerCount: 4}, server
}

func TestRegisterUnregisterNodeTracksCount(t *testing.T) {
	s := testServer(t)
	nc, _ := newTestNodeConn(t, cacheid.NodeID(1))

	s.registerNode(nc)
	if got := s.nodeCount(); got != 1 {
		t.Fatalf("nodeCount after register = %d, want 1", got)
	}
	if s.nodeByID(cacheid.NodeID(1)) != nc {
		t.Fatal("nodeByID did not return the registered node")
	}

	s.manager = newTestManager(t)
	s.unregisterNode(cacheid.NodeID(1))
	if got := s.nodeCount(); got != 0 {
		t.Fatalf("nodeCount after unregister = %d, want 0", got)
	}
	if s.nodeByID(cacheid.NodeID(1)) != nil {
		t.Fatal("nodeByID should be nil after unregister")
	}
}

func TestRecordMoveCompletionUpdatesDirectoryAndDropsSource(t *testing.T) {
	s := testServer(t)
	source, serverConn := newTestNodeConn(t, cacheid.NodeID(1))
	s.registerNode(source)

	bounds := cube.CacheCube{
		Cube:       cube.Cube{X: cube.Interval{Lo: 0, Hi: 1}, Y: cube.Interval{Lo: 0, Hi: 1}, T: cube.Interval{Lo: 0, Hi: 1}},
		Resolution: cube.NoResolution,
	}
	s.directory.Publish(cachetype.Raster, index.IndexEntry{
		NodeID:     cacheid.NodeID(1),
		SemanticID: cacheid.SemanticID("op/a"),
		EntryID:    cacheid.EntryID(1),
		Bounds:     bounds,
		ByteSize:   1024,
	})

	s.recordPlannedMove(cacheid.NodeID(2), cacheid.EntryID(1), plannedMove{
		cacheType:  cachetype.Raster,
		semanticID: cacheid.SemanticID("op/a"),
		sourceNode: cacheid.NodeID(1),
		bounds:     bounds,
		byteSize:   1024,
	})

	// net.Pipe is unbuffered, so nc.send's Write blocks until something
	// reads the other end: run the completion on its own goroutine and
	// read the resulting REORG frame from the main one.
	go s.recordMoveCompletion(cacheid.NodeID(2), cacheid.EntryID(1), cacheid.EntryID(99))

	kind, body, err := protocol.ReadFrame(serverConn)
	if err != nil {
		t.Fatalf("read source-drop REORG: %v", err)
	}
	if kind != protocol.KindReorg {
		t.Fatalf("kind = %d, want KindReorg", kind)
	}
	removal, err := protocol.DecodeReorg(body)
	if err != nil {
		t.Fatalf("DecodeReorg: %v", err)
	}
	if len(removal.Removals) != 1 || removal.Removals[0].EntryID != 1 {
		t.Fatalf("removals = %+v, want one removal of entry 1", removal.Removals)
	}
}

func TestRecordMoveCompletionUnknownMoveLogsAndNoops(t *testing.T) {
	s := testServer(t)
	// No recordPlannedMove call precedes this: it must not panic, and
	// since no node is registered there is nothing to send a REORG to.
	s.recordMoveCompletion(cacheid.NodeID(7), cacheid.EntryID(1), cacheid.EntryID(2))
}

func TestHandleListNodesReturnsRegisteredNodes(t *testing.T) {
	s := testServer(t)
	nc, _ := newTestNodeConn(t, cacheid.NodeID(5))
	s.registerNode(nc)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/nodes", nil)
	s.handleListNodes(rr, req)

	var out []struct {
		NodeID       cacheid.NodeID `json:"node_id"`
		Host         string         `json:"host"`
		DeliveryPort uint32         `json:"delivery_port"`
		WorkerCount  uint32         `json:"worker_count"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(out) != 1 || out[0].NodeID != cacheid.NodeID(5) || out[0].Host != "127.0.0.1" {
		t.Fatalf("handleListNodes body = %+v, want one entry for node 5", out)
	}
}
