package querymgr

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/index"
	"github.com/dreamware/geocache/internal/placement"
	"golang.org/x/sync/singleflight"
)

// Resolver is the coordinator-side index lookup a new request is
// checked against. internal/index.Directory satisfies this directly.
type Resolver interface {
	Resolve(ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube) cube.Result[index.Ref]
}

// Dispatcher hands a job to its preferred node for execution. Dispatch
// calls must not block the scheduling goroutine (spec.md §5: "the
// scheduler never performs I/O on its own thread") — implementations
// should post the work and return, reporting completion later via
// Manager.Complete or Manager.RequeueOnWorkerFailure from their own I/O
// goroutine.
type Dispatcher interface {
	Dispatch(ctx context.Context, nodeID cacheid.NodeID, job *Job)
}

// batchVolumeFactor is spec.md §4.4's max_batch_volume multiplier.
const batchVolumeFactor = 4

// Manager is the coordinator's query manager: the single authority over
// pending/running/finished job tables (spec.md §4.4).
//
// Every table mutation runs on one goroutine (started by Run) that
// drains a buffered command channel, mirroring the teacher's
// HealthMonitor ticker-plus-channel-select loop
// (internal/coordinator/health_monitor.go) generalized from a periodic
// tick to an arbitrary command queue.
type Manager struct {
	resolver   Resolver
	dispatcher Dispatcher
	strategy   placement.ReorgStrategy

	finishedGrace time.Duration

	cmds chan func()
	done chan struct{}
	wg   sync.WaitGroup

	nextID atomic.Uint64

	sf singleflight.Group

	// Table state; touched only inside the Run goroutine.
	pending  map[QueryID]*Job
	running  map[QueryID]*Job
	finished map[QueryID]*Job

	nodeFreeWorkers map[cacheid.NodeID]int
	nodeCapacities  map[cacheid.NodeID]placement.NodeCapacity
}

// NewManager constructs a Manager. Call Run in its own goroutine before
// issuing any request.
func NewManager(resolver Resolver, dispatcher Dispatcher, strategy placement.ReorgStrategy, finishedGrace time.Duration) *Manager {
	return &Manager{
		resolver:        resolver,
		dispatcher:      dispatcher,
		strategy:        strategy,
		finishedGrace:   finishedGrace,
		cmds:            make(chan func(), 256),
		done:            make(chan struct{}),
		pending:         make(map[QueryID]*Job),
		running:         make(map[QueryID]*Job),
		finished:        make(map[QueryID]*Job),
		nodeFreeWorkers: make(map[cacheid.NodeID]int),
		nodeCapacities:  make(map[cacheid.NodeID]placement.NodeCapacity),
	}
}

// Run drains the command queue until Stop is called. It must run in its
// own goroutine; every table mutation happens here and nowhere else.
func (m *Manager) Run() {
	for {
		select {
		case cmd := <-m.cmds:
			cmd()
		case <-m.done:
			m.drainRemaining()
			return
		}
	}
}

func (m *Manager) drainRemaining() {
	for {
		select {
		case cmd := <-m.cmds:
			cmd()
		default:
			return
		}
	}
}

// Stop ends Run after any already-queued commands finish.
func (m *Manager) Stop() {
	close(m.done)
}

// post submits cmd to the scheduling goroutine and blocks until it has
// run (via the caller's own reply channel, conventionally captured in
// the closure).
func (m *Manager) post(cmd func()) {
	m.cmds <- cmd
}

// AddRequest implements spec.md §4.4's add_request: query the resolver,
// then attach, extend, or create a job for clientID.
//
// The resolver query is deduplicated across concurrent callers asking
// about the same (cache type, semantic id, rounded rectangle) via
// singleflight, so that an index lookup executed while many identical
// requests race in is only performed once; the resulting attach/extend/
// create decision still runs inside the single scheduling goroutine,
// which is what actually prevents two such callers from both reaching
// the create-job branch.
func (m *Manager) AddRequest(ctx context.Context, clientID string, ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube) (QueryID, error) {
	key := dedupeKey(ct, semanticID, query)

	resolvedAny, err, _ := m.sf.Do(key, func() (any, error) {
		return m.resolver.Resolve(ct, semanticID, query), nil
	})
	if err != nil {
		return 0, err
	}
	resolved := resolvedAny.(cube.Result[index.Ref])

	reply := make(chan QueryID, 1)
	m.post(func() {
		reply <- m.applyAddRequest(clientID, ct, semanticID, query, resolved)
	})

	select {
	case id := <-reply:
		return id, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func dedupeKey(ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube) string {
	return fmt.Sprintf("%d|%s|%.3f|%.3f|%.3f|%.3f|%.3f|%.3f|%s",
		ct, semanticID,
		query.X.Lo, query.X.Hi, query.Y.Lo, query.Y.Hi, query.T.Lo, query.T.Hi,
		query.Restype())
}

// applyAddRequest runs only inside the scheduling goroutine.
func (m *Manager) applyAddRequest(clientID string, ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube, resolved cube.Result[index.Ref]) QueryID {
	if job := m.findAttachable(ct, semanticID, query); job != nil {
		job.Waiters[clientID] = struct{}{}
		return job.ID
	}

	if job := m.findExtendable(ct, semanticID, query); job != nil {
		job.Rect.Cube = unionCube(job.Rect.Cube, query.Cube)
		job.Waiters[clientID] = struct{}{}
		return job.ID
	}

	job := m.createJob(ct, semanticID, query, resolved)
	job.Waiters[clientID] = struct{}{}
	m.pending[job.ID] = job
	m.scheduleTick()
	return job.ID
}

func unionCube(a, b cube.Cube) cube.Cube {
	return cube.Cube{
		X:        cube.Interval{Lo: minF(a.X.Lo, b.X.Lo), Hi: maxF(a.X.Hi, b.X.Hi)},
		Y:        cube.Interval{Lo: minF(a.Y.Lo, b.Y.Lo), Hi: maxF(a.Y.Hi, b.Y.Hi)},
		T:        cube.Interval{Lo: minF(a.T.Lo, b.T.Lo), Hi: maxF(a.T.Hi, b.T.Hi)},
		CRS:      a.CRS,
		TimeType: a.TimeType,
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// findAttachable returns a pending or running job whose result
// rectangle already satisfies query, or nil.
func (m *Manager) findAttachable(ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube) *Job {
	for _, table := range []map[QueryID]*Job{m.pending, m.running} {
		for _, job := range table {
			if job.CacheType != ct || job.SemanticID != semanticID {
				continue
			}
			if !compatibleResolution(job.Rect, query) {
				continue
			}
			if job.Rect.Cube.ContainsForQuery(query.Cube) {
				return job
			}
		}
	}
	return nil
}

// findExtendable returns a pending job that could be widened to cover
// query without exceeding max_batch_volume, or nil.
func (m *Manager) findExtendable(ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube) *Job {
	for _, job := range m.pending {
		if job.CacheType != ct || job.SemanticID != semanticID {
			continue
		}
		if !compatibleResolution(job.Rect, query) {
			continue
		}
		union := unionCube(job.Rect.Cube, query.Cube)
		if union.Volume() <= batchVolumeFactor*job.OriginalVolume {
			return job
		}
	}
	return nil
}

func (m *Manager) createJob(ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube, resolved cube.Result[index.Ref]) *Job {
	job := &Job{
		ID:             QueryID(m.nextID.Add(1)),
		CacheType:      ct,
		SemanticID:     semanticID,
		Rect:           query,
		OriginalVolume: volumeOf(query),
		State:          JobPending,
		Waiters:        make(map[string]struct{}),
		CreatedAt:      time.Now(),
	}

	switch resolved.Kind {
	case cube.Hit:
		job.Kind = DeliverJob
		job.DeliverRef = resolved.HitKey
		job.PreferredNode = resolved.HitKey.NodeID
	case cube.Partial:
		job.Kind = PuzzleJob
		job.PuzzleKeys = append([]index.Ref(nil), resolved.Keys...)
		job.Remainders = append([]cube.QueryCube(nil), resolved.Remainders...)
		job.PreferredNode = preferredNodeByShare(resolved.Keys)
	default:
		job.Kind = CreateJob
		job.PreferredNode = m.preferredNodeForCreate(ct, semanticID, query)
	}
	return job
}

// preferredNodeByShare approximates "the node owning the largest share
// of the puzzle payload bytes" (spec.md §4.4) by the node appearing most
// often among the resolved keys, since the resolver's Result carries no
// per-key byte size at this layer — documented in DESIGN.md.
func preferredNodeByShare(keys []index.Ref) cacheid.NodeID {
	if len(keys) == 0 {
		return 0
	}
	counts := make(map[cacheid.NodeID]int, len(keys))
	for _, k := range keys {
		counts[k.NodeID]++
	}
	best := keys[0].NodeID
	bestCount := 0
	for node, n := range counts {
		if n > bestCount {
			best, bestCount = node, n
		}
	}
	return best
}

func (m *Manager) preferredNodeForCreate(ct cachetype.CacheType, semanticID cacheid.SemanticID, query cube.QueryCube) cacheid.NodeID {
	nodes := make([]placement.NodeCapacity, 0, len(m.nodeCapacities))
	for _, nc := range m.nodeCapacities {
		nodes = append(nodes, nc)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })

	resolution := cube.NoResolution
	if query.Restype() == cube.RestypePixels {
		resolution = cube.NewExactResolution(*query.ScaleX, *query.ScaleY)
	}
	info := placement.NewEntryInfo{
		CacheType:  ct,
		SemanticID: semanticID,
		Bounds:     cube.CacheCube{Cube: query.Cube, Resolution: resolution},
		ByteSize:   0,
	}
	node, err := m.strategy.NodeForNewEntry(nodes, info)
	if err != nil {
		return 0
	}
	return node
}

// UpdateNodeFreeWorkers records how many idle workers nodeID currently
// has, for scheduling decisions. Safe to call from any goroutine.
func (m *Manager) UpdateNodeFreeWorkers(nodeID cacheid.NodeID, free int) {
	reply := make(chan struct{})
	m.post(func() {
		m.nodeFreeWorkers[nodeID] = free
		m.scheduleTick()
		close(reply)
	})
	<-reply
}

// UpdateNodeCapacity records a node's current capacity snapshot, used by
// CreateJob's preferred-node computation. Safe to call from any
// goroutine.
func (m *Manager) UpdateNodeCapacity(cap placement.NodeCapacity) {
	reply := make(chan struct{})
	m.post(func() {
		m.nodeCapacities[cap.NodeID] = cap
		close(reply)
	})
	<-reply
}

// scheduleTick implements spec.md §4.4's scheduling rule: on every idle
// worker event and job arrival, dispatch the oldest pending job whose
// preferred node has a free worker. Must only be called from inside the
// scheduling goroutine.
func (m *Manager) scheduleTick() {
	ordered := make([]*Job, 0, len(m.pending))
	for _, job := range m.pending {
		ordered = append(ordered, job)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })

	for _, job := range ordered {
		if m.nodeFreeWorkers[job.PreferredNode] <= 0 {
			continue
		}
		m.nodeFreeWorkers[job.PreferredNode]--
		job.State = JobRunning
		delete(m.pending, job.ID)
		m.running[job.ID] = job
		m.dispatcher.Dispatch(context.Background(), job.PreferredNode, job)
	}
}

// Complete is called (from any goroutine, typically a Dispatcher's own
// I/O goroutine) when a worker reports a DeliveryResponse for job id.
func (m *Manager) Complete(id QueryID, resp DeliveryResponse) {
	m.post(func() {
		job, ok := m.running[id]
		if !ok {
			return
		}
		delete(m.running, id)
		job.State = JobFinished
		job.Result = resp
		job.FinishedAt = time.Now()
		m.finished[id] = job

		grace := m.finishedGrace
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			time.Sleep(grace)
			m.post(func() { m.release(id) })
		}()
	})
}

func (m *Manager) release(id QueryID) {
	job, ok := m.finished[id]
	if !ok {
		return
	}
	job.State = JobReleased
	delete(m.finished, id)
}

// Fail reports that job id's worker returned an error (e.g. the
// producer failed); it is surfaced to every waiter and the job is
// released without installing anything.
func (m *Manager) Fail(id QueryID, err error) {
	m.post(func() {
		job, ok := m.running[id]
		if !ok {
			job, ok = m.pending[id]
			if !ok {
				return
			}
			delete(m.pending, id)
		} else {
			delete(m.running, id)
		}
		job.Err = err
		job.State = JobReleased
	})
}

// Job returns a snapshot of job id's current state, or nil if it is
// unknown (already released or never created). Safe to call from any
// goroutine.
func (m *Manager) Job(id QueryID) *Job {
	reply := make(chan *Job, 1)
	m.post(func() {
		for _, table := range []map[QueryID]*Job{m.pending, m.running, m.finished} {
			if job, ok := table[id]; ok {
				cp := *job
				reply <- &cp
				return
			}
		}
		reply <- nil
	})
	return <-reply
}
