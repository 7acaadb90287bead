package protocol

// Control messages (coordinator <-> node), spec.md §6.

// CacheTypeCapacity reports one cache type's configured budget, carried
// in Hello's per-type capacity list.
type CacheTypeCapacity struct {
	CacheType uint8
	Budget    uint64
}

// ExistingEntry describes one entry a node already holds, for
// coordinator warm-start after a node reconnects.
type ExistingEntry struct {
	CacheType  uint8
	SemanticID string
	EntryID    uint64
	Bounds     []float64 // x.lo x.hi y.lo y.hi t.lo t.hi
}

// Hello is sent by a node on connecting to the coordinator's control
// port. WorkerCount tells the scheduler how many job commands this node
// can execute at once, so it knows when to stop dispatching to it
// (querymgr.Manager.UpdateNodeFreeWorkers starts from this value).
type Hello struct {
	Capacities  []CacheTypeCapacity
	Port        uint32
	WorkerCount uint32
	Existing    []ExistingEntry
}

func (m Hello) Encode() []byte {
	e := NewEncoder()
	e.VectorLen(len(m.Capacities))
	for _, c := range m.Capacities {
		e.Uint8(c.CacheType).Uint64(c.Budget)
	}
	e.Uint32(m.Port)
	e.Uint32(m.WorkerCount)
	e.VectorLen(len(m.Existing))
	for _, ex := range m.Existing {
		e.Uint8(ex.CacheType).String(ex.SemanticID).Uint64(ex.EntryID).Cube(ex.Bounds)
	}
	return e.Body()
}

func DecodeHello(body []byte) (Hello, error) {
	d := NewDecoder(body)
	n := d.VectorLen()
	caps := make([]CacheTypeCapacity, n)
	for i := range caps {
		caps[i] = CacheTypeCapacity{CacheType: d.Uint8(), Budget: d.Uint64()}
	}
	port := d.Uint32()
	workerCount := d.Uint32()
	m := d.VectorLen()
	existing := make([]ExistingEntry, m)
	for i := range existing {
		existing[i] = ExistingEntry{
			CacheType:  d.Uint8(),
			SemanticID: d.String(),
			EntryID:    d.Uint64(),
			Bounds:     d.Cube(6),
		}
	}
	return Hello{Capacities: caps, Port: port, WorkerCount: workerCount, Existing: existing}, d.Err()
}

// Welcome answers Hello with the node's assigned id and observed
// external host.
type Welcome struct {
	NodeID uint32
	Host   string
}

func (m Welcome) Encode() []byte {
	return NewEncoder().Uint32(m.NodeID).String(m.Host).Body()
}

func DecodeWelcome(body []byte) (Welcome, error) {
	d := NewDecoder(body)
	m := Welcome{NodeID: d.Uint32(), Host: d.String()}
	return m, d.Err()
}

// Removal names one entry a REORG instructs a node to drop.
type Removal struct {
	CacheType  uint8
	SemanticID string
	EntryID    uint64
}

// MoveInstruction names one entry a REORG instructs a node to fetch
// from a peer.
type MoveInstruction struct {
	CacheType  uint8
	SemanticID string
	EntryID    uint64
	SourceHost string
	SourcePort uint32
}

// Reorg is sent by the coordinator to a node to drive one reorganization
// pass.
type Reorg struct {
	Removals []Removal
	Moves    []MoveInstruction
}

func (m Reorg) Encode() []byte {
	e := NewEncoder()
	e.VectorLen(len(m.Removals))
	for _, r := range m.Removals {
		e.Uint8(r.CacheType).String(r.SemanticID).Uint64(r.EntryID)
	}
	e.VectorLen(len(m.Moves))
	for _, mv := range m.Moves {
		e.Uint8(mv.CacheType).String(mv.SemanticID).Uint64(mv.EntryID).String(mv.SourceHost).Uint32(mv.SourcePort)
	}
	return e.Body()
}

func DecodeReorg(body []byte) (Reorg, error) {
	d := NewDecoder(body)
	n := d.VectorLen()
	removals := make([]Removal, n)
	for i := range removals {
		removals[i] = Removal{CacheType: d.Uint8(), SemanticID: d.String(), EntryID: d.Uint64()}
	}
	m := d.VectorLen()
	moves := make([]MoveInstruction, m)
	for i := range moves {
		moves[i] = MoveInstruction{
			CacheType:  d.Uint8(),
			SemanticID: d.String(),
			EntryID:    d.Uint64(),
			SourceHost: d.String(),
			SourcePort: d.Uint32(),
		}
	}
	return Reorg{Removals: removals, Moves: moves}, d.Err()
}

// ReorgDone is sent by a node once every instruction in a Reorg has
// settled.
type ReorgDone struct{}

func (m ReorgDone) Encode() []byte { return nil }

func DecodeReorgDone(body []byte) (ReorgDone, error) { return ReorgDone{}, nil }

// Moved reports a completed move's outcome.
type Moved struct {
	OldID  uint64
	NewID  uint64
	NodeID uint32
}

func (m Moved) Encode() []byte {
	return NewEncoder().Uint64(m.OldID).Uint64(m.NewID).Uint32(m.NodeID).Body()
}

func DecodeMoved(body []byte) (Moved, error) {
	d := NewDecoder(body)
	m := Moved{OldID: d.Uint64(), NewID: d.Uint64(), NodeID: d.Uint32()}
	return m, d.Err()
}

// StatsRequest is sent by the coordinator polling a node for its
// current usage and access statistics.
type StatsRequest struct{}

func (m StatsRequest) Encode() []byte { return nil }

func DecodeStatsRequest(body []byte) (StatsRequest, error) { return StatsRequest{}, nil }

// TypeUsage reports one cache type's used/total bytes on a node.
type TypeUsage struct {
	CacheType uint8
	Used      uint64
	Total     uint64
}

// EntryStats reports one entry's access statistics, folded into the
// coordinator's index for relevance-based eviction selection.
type EntryStats struct {
	CacheType   uint8
	SemanticID  string
	EntryID     uint64
	AccessCount uint64
	LastAccess  int64 // unix nanoseconds
}

// Stats answers StatsRequest.
type Stats struct {
	Usage       []TypeUsage
	Entries     []EntryStats
	QueryCount  uint64
	HitCount    uint64
	PuzzleCount uint64
}

func (m Stats) Encode() []byte {
	e := NewEncoder()
	e.VectorLen(len(m.Usage))
	for _, u := range m.Usage {
		e.Uint8(u.CacheType).Uint64(u.Used).Uint64(u.Total)
	}
	e.VectorLen(len(m.Entries))
	for _, en := range m.Entries {
		e.Uint8(en.CacheType).String(en.SemanticID).Uint64(en.EntryID).Uint64(en.AccessCount).Uint64(uint64(en.LastAccess))
	}
	e.Uint64(m.QueryCount).Uint64(m.HitCount).Uint64(m.PuzzleCount)
	return e.Body()
}

func DecodeStats(body []byte) (Stats, error) {
	d := NewDecoder(body)
	n := d.VectorLen()
	usage := make([]TypeUsage, n)
	for i := range usage {
		usage[i] = TypeUsage{CacheType: d.Uint8(), Used: d.Uint64(), Total: d.Uint64()}
	}
	m := d.VectorLen()
	entries := make([]EntryStats, m)
	for i := range entries {
		entries[i] = EntryStats{
			CacheType:   d.Uint8(),
			SemanticID:  d.String(),
			EntryID:     d.Uint64(),
			AccessCount: d.Uint64(),
			LastAccess:  int64(d.Uint64()),
		}
	}
	s := Stats{Usage: usage, Entries: entries, QueryCount: d.Uint64(), HitCount: d.Uint64(), PuzzleCount: d.Uint64()}
	return s, d.Err()
}

// Worker messages (coordinator -> node worker pool), spec.md §6.

// Create asks a worker to invoke the producer for a brand-new query.
// JobID correlates this request with the ResultReady/Error that answers
// it: CREATE/PUZZLE/DELIVER all share the one control connection
// (spec.md §5 — "N worker threads... pull job commands over the control
// stream"), so several can be outstanding at once and need a way to tell
// their replies apart.
type Create struct {
	JobID      uint64
	CacheType  uint8
	SemanticID string
	Rectangle  []float64 // x.lo x.hi y.lo y.hi t.lo t.hi
	ScaleX     float64
	ScaleY     float64
	HasScale   bool
}

func (m Create) Encode() []byte {
	e := NewEncoder()
	e.Uint64(m.JobID).Uint8(m.CacheType).String(m.SemanticID).Cube(m.Rectangle)
	if m.HasScale {
		e.Uint8(1).Double(m.ScaleX).Double(m.ScaleY)
	} else {
		e.Uint8(0)
	}
	return e.Body()
}

func DecodeCreate(body []byte) (Create, error) {
	d := NewDecoder(body)
	m := Create{JobID: d.Uint64(), CacheType: d.Uint8(), SemanticID: d.String(), Rectangle: d.Cube(6)}
	if d.Uint8() != 0 {
		m.HasScale = true
		m.ScaleX = d.Double()
		m.ScaleY = d.Double()
	}
	return m, d.Err()
}

// Puzzle asks a worker to assemble a query's result from the remainder
// cubes a partial index hit left uncovered. Rectangle carries the full
// original query cube alongside the remainders: a worker recomputes the
// whole answer from its producer rather than stitching opaque payloads
// from entries it doesn't hold (see DESIGN.md). See JobID on Create.
type Puzzle struct {
	JobID      uint64
	CacheType  uint8
	SemanticID string
	Rectangle  []float64
	ScaleX     float64
	ScaleY     float64
	HasScale   bool
	Remainders [][]float64
}

func (m Puzzle) Encode() []byte {
	e := NewEncoder()
	e.Uint64(m.JobID).Uint8(m.CacheType).String(m.SemanticID).Cube(m.Rectangle)
	if m.HasScale {
		e.Uint8(1).Double(m.ScaleX).Double(m.ScaleY)
	} else {
		e.Uint8(0)
	}
	e.VectorLen(len(m.Remainders))
	for _, r := range m.Remainders {
		e.Cube(r)
	}
	return e.Body()
}

func DecodePuzzle(body []byte) (Puzzle, error) {
	d := NewDecoder(body)
	m := Puzzle{JobID: d.Uint64(), CacheType: d.Uint8(), SemanticID: d.String(), Rectangle: d.Cube(6)}
	if d.Uint8() != 0 {
		m.HasScale = true
		m.ScaleX = d.Double()
		m.ScaleY = d.Double()
	}
	n := d.VectorLen()
	m.Remainders = make([][]float64, n)
	for i := range m.Remainders {
		m.Remainders[i] = d.Cube(6)
	}
	return m, d.Err()
}

// Deliver asks a worker to stage an already-resolved key for delivery
// without recomputing it. See JobID on Create.
type Deliver struct {
	JobID      uint64
	CacheType  uint8
	SemanticID string
	EntryID    uint64
}

func (m Deliver) Encode() []byte {
	return NewEncoder().Uint64(m.JobID).Uint8(m.CacheType).String(m.SemanticID).Uint64(m.EntryID).Body()
}

func DecodeDeliver(body []byte) (Deliver, error) {
	d := NewDecoder(body)
	m := Deliver{JobID: d.Uint64(), CacheType: d.Uint8(), SemanticID: d.String(), EntryID: d.Uint64()}
	return m, d.Err()
}

// ResultReady is sent by a worker once it has assembled a query's
// result and reserved it locally.
type ResultReady struct {
	JobID uint64
}

func (m ResultReady) Encode() []byte {
	return NewEncoder().Uint64(m.JobID).Body()
}

func DecodeResultReady(body []byte) (ResultReady, error) {
	d := NewDecoder(body)
	return ResultReady{JobID: d.Uint64()}, d.Err()
}

// DeliveryQty answers ResultReady with the number of consumers the
// coordinator expects to fetch the result.
type DeliveryQty struct {
	JobID uint64
	N     uint32
}

func (m DeliveryQty) Encode() []byte {
	return NewEncoder().Uint64(m.JobID).Uint32(m.N).Body()
}

func DecodeDeliveryQty(body []byte) (DeliveryQty, error) {
	d := NewDecoder(body)
	return DeliveryQty{JobID: d.Uint64(), N: d.Uint32()}, d.Err()
}

// DeliveryReady is the worker's final reply, naming the delivery id a
// client can now fetch the result through. It also carries the entry's
// placement metadata, so a CreateJob or PuzzleJob's coordinator-side
// Publish doesn't need a second round trip: EntryID, Bounds and the
// resolution it was produced at, and its serialized byte size.
type DeliveryReady struct {
	JobID      uint64
	DeliveryID uint64
	EntryID    uint64
	Bounds     []float64 // x.lo x.hi y.lo y.hi t.lo t.hi
	HasScale   bool
	ScaleX     float64
	ScaleY     float64
	ByteSize   uint64
}

func (m DeliveryReady) Encode() []byte {
	e := NewEncoder()
	e.Uint64(m.JobID).Uint64(m.DeliveryID).Uint64(m.EntryID).Cube(m.Bounds)
	if m.HasScale {
		e.Uint8(1).Double(m.ScaleX).Double(m.ScaleY)
	} else {
		e.Uint8(0)
	}
	e.Uint64(m.ByteSize)
	return e.Body()
}

func DecodeDeliveryReady(body []byte) (DeliveryReady, error) {
	d := NewDecoder(body)
	m := DeliveryReady{
		JobID:      d.Uint64(),
		DeliveryID: d.Uint64(),
		EntryID:    d.Uint64(),
		Bounds:     d.Cube(6),
	}
	if d.Uint8() != 0 {
		m.HasScale = true
		m.ScaleX = d.Double()
		m.ScaleY = d.Double()
	}
	m.ByteSize = d.Uint64()
	return m, d.Err()
}

// Error carries a human-readable failure message, sent in place of the
// expected reply on any connection role. JobID correlates a worker-role
// Error with the Create/Puzzle/Deliver it answers; it is left 0 on
// delivery- and client-role connections, which only ever have one
// outstanding request at a time.
type Error struct {
	JobID   uint64
	Message string
}

func (m Error) Encode() []byte {
	return NewEncoder().Uint64(m.JobID).String(m.Message).Body()
}

func DecodeError(body []byte) (Error, error) {
	d := NewDecoder(body)
	return Error{JobID: d.Uint64(), Message: d.String()}, d.Err()
}

// Delivery messages, spec.md §4.7 and §6.

// Get requests a previously reserved payload by delivery id.
type Get struct {
	DeliveryID uint64
}

func (m Get) Encode() []byte {
	return NewEncoder().Uint64(m.DeliveryID).Body()
}

func DecodeGet(body []byte) (Get, error) {
	d := NewDecoder(body)
	return Get{DeliveryID: d.Uint64()}, d.Err()
}

// GetCached requests a cache entry directly by key, used when a peer
// puzzles with entries this node holds.
type GetCached struct {
	CacheType  uint8
	SemanticID string
	EntryID    uint64
}

func (m GetCached) Encode() []byte {
	return NewEncoder().Uint8(m.CacheType).String(m.SemanticID).Uint64(m.EntryID).Body()
}

func DecodeGetCached(body []byte) (GetCached, error) {
	d := NewDecoder(body)
	return GetCached{CacheType: d.Uint8(), SemanticID: d.String(), EntryID: d.Uint64()}, d.Err()
}

// MoveItem requests an entry and its metadata during reorg; the source
// keeps the entry until the coordinator confirms the move.
type MoveItem struct {
	CacheType  uint8
	SemanticID string
	EntryID    uint64
}

func (m MoveItem) Encode() []byte {
	return NewEncoder().Uint8(m.CacheType).String(m.SemanticID).Uint64(m.EntryID).Body()
}

func DecodeMoveItem(body []byte) (MoveItem, error) {
	d := NewDecoder(body)
	return MoveItem{CacheType: d.Uint8(), SemanticID: d.String(), EntryID: d.Uint64()}, d.Err()
}

// MoveDone finalizes a move from the destination's side, naming the
// newly installed entry id.
type MoveDone struct {
	OldID uint64
	NewID uint64
}

func (m MoveDone) Encode() []byte {
	return NewEncoder().Uint64(m.OldID).Uint64(m.NewID).Body()
}

func DecodeMoveDone(body []byte) (MoveDone, error) {
	d := NewDecoder(body)
	return MoveDone{OldID: d.Uint64(), NewID: d.Uint64()}, d.Err()
}

// Client messages (user <-> coordinator), spec.md §6.

// Query is a client's request for a cache result over a rectangle.
type Query struct {
	CacheType  uint8
	SemanticID string
	Rectangle  []float64
	ScaleX     float64
	ScaleY     float64
	HasScale   bool
}

func (m Query) Encode() []byte {
	e := NewEncoder()
	e.Uint8(m.CacheType).String(m.SemanticID).Cube(m.Rectangle)
	if m.HasScale {
		e.Uint8(1).Double(m.ScaleX).Double(m.ScaleY)
	} else {
		e.Uint8(0)
	}
	return e.Body()
}

func DecodeQuery(body []byte) (Query, error) {
	d := NewDecoder(body)
	m := Query{CacheType: d.Uint8(), SemanticID: d.String(), Rectangle: d.Cube(6)}
	if d.Uint8() != 0 {
		m.HasScale = true
		m.ScaleX = d.Double()
		m.ScaleY = d.Double()
	}
	return m, d.Err()
}

// Delivery answers a successful Query with where to fetch the result.
type Delivery struct {
	Host       string
	Port       uint32
	DeliveryID uint64
}

func (m Delivery) Encode() []byte {
	return NewEncoder().String(m.Host).Uint32(m.Port).Uint64(m.DeliveryID).Body()
}

func DecodeDelivery(body []byte) (Delivery, error) {
	d := NewDecoder(body)
	return Delivery{Host: d.String(), Port: d.Uint32(), DeliveryID: d.Uint64()}, d.Err()
}
