package querymgr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/index"
	"github.com/dreamware/geocache/internal/placement"
)

type fakeResolver struct {
	mu     sync.Mutex
	result cube.Result[index.Ref]
	calls  int
}

func (f *fakeResolver) Resolve(ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube) cube.Result[index.Ref] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.result
}

type dispatchCall struct {
	nodeID cacheid.NodeID
	job    *Job
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, nodeID cacheid.NodeID, job *Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, dispatchCall{nodeID: nodeID, job: job})
}

func (f *fakeDispatcher) Calls() []dispatchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dispatchCall, len(f.calls))
	copy(out, f.calls)
	return out
}

func fullQuery(loX, hiX, loY, hiY, loT, hiT float64) cube.QueryCube {
	return cube.QueryCube{Cube: cube.Cube{
		X: cube.Interval{Lo: loX, Hi: hiX},
		Y: cube.Interval{Lo: loY, Hi: hiY},
		T: cube.Interval{Lo: loT, Hi: hiT},
	}}
}

func newTestManager(t *testing.T, resolver Resolver, dispatcher Dispatcher) *Manager {
	t.Helper()
	m := NewManager(resolver, dispatcher, placement.NewCapacityStrategy(), 10*time.Millisecond)
	go m.Run()
	t.Cleanup(m.Stop)
	return m
}

func TestAddRequestCreatesMissAsCreateJob(t *testing.T) {
	resolver := &fakeResolver{result: cube.Result[index.Ref]{Kind: cube.Miss}}
	dispatcher := &fakeDispatcher{}
	m := newTestManager(t, resolver, dispatcher)
	m.UpdateNodeFreeWorkers(1, 1)
	m.UpdateNodeCapacity(placement.NodeCapacity{NodeID: 1, UsedBytes: 0, TotalBytes: 100})

	id, err := m.AddRequest(context.Background(), "client-a", cachetype.Raster, "op/ndvi", fullQuery(0, 10, 0, 10, 0, 10))
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero query id")
	}

	calls := dispatcher.Calls()
	if len(calls) != 1 {
		t.Fatalf("dispatcher calls = %d, want 1", len(calls))
	}
	if calls[0].job.Kind != CreateJob {
		t.Errorf("job kind = %v, want CreateJob", calls[0].job.Kind)
	}
}

func TestAddRequestAttachesToRunningJob(t *testing.T) {
	resolver := &fakeResolver{result: cube.Result[index.Ref]{
		Kind:   cube.Hit,
		HitKey: index.Ref{NodeID: 1, EntryID: 1},
	}}
	dispatcher := &fakeDispatcher{}
	m := newTestManager(t, resolver, dispatcher)
	m.UpdateNodeFreeWorkers(1, 1)

	query := fullQuery(0, 10, 0, 10, 0, 10)
	first, err := m.AddRequest(context.Background(), "client-a", cachetype.Raster, "op/ndvi", query)
	if err != nil {
		t.Fatalf("first AddRequest: %v", err)
	}

	second, err := m.AddRequest(context.Background(), "client-b", cachetype.Raster, "op/ndvi", query)
	if err != nil {
		t.Fatalf("second AddRequest: %v", err)
	}
	if first != second {
		t.Errorf("expected the second request to attach to the same job, got %v and %v", first, second)
	}
}

func TestAddRequestExtendsPendingJobWithinBatchVolume(t *testing.T) {
	resolver := &fakeResolver{result: cube.Result[index.Ref]{Kind: cube.Miss}}
	dispatcher := &fakeDispatcher{}
	m := newTestManager(t, resolver, dispatcher)
	// No free workers: job stays pending so it can be extended.
	m.UpdateNodeCapacity(placement.NodeCapacity{NodeID: 1, UsedBytes: 0, TotalBytes: 100})

	first, err := m.AddRequest(context.Background(), "client-a", cachetype.Raster, "op/ndvi", fullQuery(0, 10, 0, 10, 0, 10))
	if err != nil {
		t.Fatalf("first AddRequest: %v", err)
	}

	second, err := m.AddRequest(context.Background(), "client-b", cachetype.Raster, "op/ndvi", fullQuery(10, 20, 0, 10, 0, 10))
	if err != nil {
		t.Fatalf("second AddRequest: %v", err)
	}
	if first != second {
		t.Errorf("expected the adjacent request to extend the same pending job, got %v and %v", first, second)
	}

	counts := m.Counts()
	if counts.Pending != 1 {
		t.Errorf("Counts.Pending = %d, want 1", counts.Pending)
	}
}

func TestCompleteMovesJobThroughFinishedToReleased(t *testing.T) {
	resolver := &fakeResolver{result: cube.Result[index.Ref]{Kind: cube.Miss}}
	dispatcher := &fakeDispatcher{}
	m := newTestManager(t, resolver, dispatcher)
	m.UpdateNodeFreeWorkers(1, 1)

	id, err := m.AddRequest(context.Background(), "client-a", cachetype.Raster, "op/ndvi", fullQuery(0, 10, 0, 10, 0, 10))
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	m.Complete(id, DeliveryResponse{Host: "10.0.0.1", Port: 9000, DeliveryID: 1})

	counts := m.Counts()
	if counts.Finished != 1 {
		t.Fatalf("Counts.Finished = %d, want 1 immediately after Complete", counts.Finished)
	}

	time.Sleep(30 * time.Millisecond)
	counts = m.Counts()
	if counts.Finished != 0 {
		t.Errorf("Counts.Finished = %d, want 0 after the grace window elapses", counts.Finished)
	}
}

func TestRequeueOnWorkerFailureRebuildsJob(t *testing.T) {
	resolver := &fakeResolver{result: cube.Result[index.Ref]{Kind: cube.Miss}}
	dispatcher := &fakeDispatcher{}
	m := newTestManager(t, resolver, dispatcher)
	m.UpdateNodeFreeWorkers(1, 1)
	m.UpdateNodeCapacity(placement.NodeCapacity{NodeID: 1, UsedBytes: 0, TotalBytes: 100})

	id, err := m.AddRequest(context.Background(), "client-a", cachetype.Raster, "op/ndvi", fullQuery(0, 10, 0, 10, 0, 10))
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}
	if m.Counts().Running != 1 {
		t.Fatalf("expected job to be running before failure")
	}

	m.RequeueOnWorkerFailure(context.Background(), id)

	counts := m.Counts()
	if counts.Running != 0 {
		t.Errorf("Counts.Running = %d, want 0 after requeue", counts.Running)
	}
	if counts.Pending != 1 {
		t.Errorf("Counts.Pending = %d, want 1 after requeue", counts.Pending)
	}
}

func TestHandleNodeDisconnectDowngradesDeliverJobToCreateJob(t *testing.T) {
	resolver := &fakeResolver{result: cube.Result[index.Ref]{
		Kind:   cube.Hit,
		HitKey: index.Ref{NodeID: 1, EntryID: 1},
	}}
	dispatcher := &fakeDispatcher{}
	m := newTestManager(t, resolver, dispatcher)
	// No free workers, so the job stays pending and is easy to inspect.

	id, err := m.AddRequest(context.Background(), "client-a", cachetype.Raster, "op/ndvi", fullQuery(0, 10, 0, 10, 0, 10))
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	resolver.mu.Lock()
	resolver.result = cube.Result[index.Ref]{Kind: cube.Miss}
	resolver.mu.Unlock()

	m.HandleNodeDisconnect(context.Background(), cacheid.NodeID(1))

	job := m.Job(id)
	if job == nil {
		t.Fatal("expected the job to still exist after disconnect, rebuilt as a CreateJob")
	}
	if job.Kind != CreateJob {
		t.Errorf("job kind after disconnect = %v, want CreateJob", job.Kind)
	}
}

func TestCancelRemovesJobWhenLastWaiterLeaves(t *testing.T) {
	resolver := &fakeResolver{result: cube.Result[index.Ref]{Kind: cube.Miss}}
	dispatcher := &fakeDispatcher{}
	m := newTestManager(t, resolver, dispatcher)
	// No free workers: keep the job pending and inspectable.

	id, err := m.AddRequest(context.Background(), "client-a", cachetype.Raster, "op/ndvi", fullQuery(0, 10, 0, 10, 0, 10))
	if err != nil {
		t.Fatalf("AddRequest: %v", err)
	}

	m.Cancel(id, "client-a")

	if m.Job(id) != nil {
		t.Error("expected the job to be gone after its only waiter cancels")
	}
}
