package querymgr

// Counts reports the size of each table, for tests and diagnostics.
type Counts struct {
	Pending  int
	Running  int
	Finished int
}

// Counts returns a snapshot of the manager's table sizes. Safe to call
// from any goroutine.
func (m *Manager) Counts() Counts {
	reply := make(chan Counts, 1)
	m.post(func() {
		reply <- Counts{Pending: len(m.pending), Running: len(m.running), Finished: len(m.finished)}
	})
	return <-reply
}
