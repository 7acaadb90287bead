package delivery

import (
	"sync"
	"sync/atomic"
	"time"
)

// DeliveryID names one reserved payload handle within a node's delivery
// service.
type DeliveryID uint64

// Delivery is a reserved, consumer-counted handle on a payload
// (spec.md's glossary entry for "Delivery"). It is removed from its
// Manager when Remaining reaches zero or its Deadline elapses, whichever
// comes first.
type Delivery struct {
	ID        DeliveryID
	Payload   []byte
	Metadata  []byte
	Deadline  time.Time
	remaining atomic.Int32
}

// Remaining returns the number of consumers still expected to fetch this
// delivery.
func (d *Delivery) Remaining() int32 {
	return d.remaining.Load()
}

// Expired reports whether now is past the delivery's deadline.
func (d *Delivery) Expired(now time.Time) bool {
	return now.After(d.Deadline)
}

// consume decrements the remaining consumer count, returning the count
// after decrementing.
func (d *Delivery) consume() int32 {
	return d.remaining.Add(-1)
}

// Manager owns every in-flight Delivery on one node, plus a background
// sweep that expires deliveries past their deadline even if no consumer
// ever shows up.
type Manager struct {
	mu         sync.Mutex
	deliveries map[DeliveryID]*Delivery
	nextID     atomic.Uint64

	sweepInterval time.Duration
	stop          chan struct{}
	stopOnce      sync.Once
}

// NewManager constructs a Manager. Call Run to start its background
// sweeper; callers that only need Reserve/Consume without expiry (e.g.
// tests) may skip Run.
func NewManager(sweepInterval time.Duration) *Manager {
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	return &Manager{
		deliveries:    make(map[DeliveryID]*Delivery),
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
}

// Reserve creates a new Delivery with the given consumer count and
// deadline, returning it for the caller to hand out to waiting clients.
func (m *Manager) Reserve(payload, metadata []byte, consumers int32, deadline time.Time) *Delivery {
	id := DeliveryID(m.nextID.Add(1))
	d := &Delivery{ID: id, Payload: payload, Metadata: metadata, Deadline: deadline}
	d.remaining.Store(consumers)

	m.mu.Lock()
	m.deliveries[id] = d
	m.mu.Unlock()
	return d
}

// Get returns the delivery for id, or nil if it doesn't exist (already
// consumed, expired, or never reserved).
func (m *Manager) Get(id DeliveryID) *Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deliveries[id]
}

// Consume fetches id's payload for one caller, decrementing its
// remaining consumer count and removing it once exhausted. Returns
// (nil, false) if id isn't currently reserved.
func (m *Manager) Consume(id DeliveryID) (*Delivery, bool) {
	m.mu.Lock()
	d, ok := m.deliveries[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}

	if d.consume() <= 0 {
		m.mu.Lock()
		delete(m.deliveries, id)
		m.mu.Unlock()
	}
	return d, true
}

// Run starts the background sweep that removes deliveries past their
// deadline; it blocks until Stop is called.
func (m *Manager) Run() {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-m.stop:
			return
		}
	}
}

// Stop ends the background sweep started by Run. Safe to call multiple
// times.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, d := range m.deliveries {
		if d.Expired(now) {
			delete(m.deliveries, id)
		}
	}
}

// Count returns the number of currently reserved deliveries, for
// diagnostics and tests.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.deliveries)
}
