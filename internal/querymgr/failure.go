package querymgr

import (
	"context"

	"github.com/dreamware/geocache/internal/cacheid"
)

// RequeueOnWorkerFailure implements spec.md §4.4's worker-disconnect
// handling: the job's plan is rebuilt by re-querying the resolver (the
// index may have changed since it was dispatched) and it goes back to
// pending.
func (m *Manager) RequeueOnWorkerFailure(ctx context.Context, id QueryID) {
	reply := make(chan *Job, 1)
	m.post(func() {
		job, ok := m.running[id]
		if !ok {
			reply <- nil
			return
		}
		delete(m.running, id)
		reply <- job
	})
	job := <-reply
	if job == nil {
		return
	}

	resolved := m.resolver.Resolve(job.CacheType, job.SemanticID, job.Rect)

	result := make(chan struct{})
	m.post(func() {
		rebuilt := m.createJob(job.CacheType, job.SemanticID, job.Rect, resolved)
		rebuilt.ID = job.ID
		rebuilt.Waiters = job.Waiters
		rebuilt.OriginalVolume = job.OriginalVolume
		rebuilt.CreatedAt = job.CreatedAt
		rebuilt.State = JobPending
		m.pending[rebuilt.ID] = rebuilt
		m.scheduleTick()
		close(result)
	})
	<-result
}

// HandleNodeDisconnect implements spec.md §4.4's node-disconnect
// handling: drop the node's entries from the index (the caller does
// this against the index.Directory directly), then rebuild every
// pending/running job referencing the node — a DeliverJob that loses
// its only source downgrades to a CreateJob.
func (m *Manager) HandleNodeDisconnect(ctx context.Context, nodeID cacheid.NodeID) {
	type affected struct {
		job *Job
	}
	reply := make(chan []affected, 1)
	m.post(func() {
		var hit []affected
		for _, table := range []map[QueryID]*Job{m.pending, m.running} {
			for id, job := range table {
				if references(job, nodeID) {
					hit = append(hit, affected{job: job})
					delete(table, id)
				}
			}
		}
		delete(m.nodeFreeWorkers, nodeID)
		delete(m.nodeCapacities, nodeID)
		reply <- hit
	})

	for _, a := range <-reply {
		resolved := m.resolver.Resolve(a.job.CacheType, a.job.SemanticID, a.job.Rect)

		done := make(chan struct{})
		m.post(func() {
			rebuilt := m.createJob(a.job.CacheType, a.job.SemanticID, a.job.Rect, resolved)
			rebuilt.ID = a.job.ID
			rebuilt.Waiters = a.job.Waiters
			rebuilt.OriginalVolume = a.job.OriginalVolume
			rebuilt.CreatedAt = a.job.CreatedAt
			rebuilt.State = JobPending
			m.pending[rebuilt.ID] = rebuilt
			m.scheduleTick()
			close(done)
		})
		<-done
	}
}

func references(job *Job, nodeID cacheid.NodeID) bool {
	if job.PreferredNode == nodeID {
		return true
	}
	if job.Kind == DeliverJob && job.DeliverRef.NodeID == nodeID {
		return true
	}
	for _, k := range job.PuzzleKeys {
		if k.NodeID == nodeID {
			return true
		}
	}
	return false
}

// Cancel implements spec.md §5's cancellation rule: when clientID was
// the last waiter on a pending or running query, the query is removed
// (pending) or best-effort aborted (running, handled by the caller's
// Dispatcher; the job itself is just dropped from the tables here since
// any result the worker still produces is installed into the cache
// normally but no delivery reservation is made for it).
func (m *Manager) Cancel(id QueryID, clientID string) {
	reply := make(chan struct{})
	m.post(func() {
		for _, table := range []map[QueryID]*Job{m.pending, m.running} {
			job, ok := table[id]
			if !ok {
				continue
			}
			delete(job.Waiters, clientID)
			if len(job.Waiters) == 0 {
				delete(table, id)
			}
		}
		close(reply)
	})
	<-reply
}
