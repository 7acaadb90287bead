package placement

import (
	"context"
	"fmt"
	"sync"

	"github.com/dreamware/geocache/internal/cacheid"
)

// MoveState enumerates the Move state machine of spec.md §4.8:
// REQUESTED → COPYING → INSTALLED → CONFIRMED → SOURCE_DROPPED. A
// failure at any non-terminal step rolls back to REQUESTED, or abandons
// if the source has gone GONE in the meantime.
type MoveState int

const (
	MoveRequested MoveState = iota
	MoveCopying
	MoveInstalled
	MoveConfirmed
	MoveSourceDropped
)

func (s MoveState) String() string {
	switch s {
	case MoveRequested:
		return "REQUESTED"
	case MoveCopying:
		return "COPYING"
	case MoveInstalled:
		return "INSTALLED"
	case MoveConfirmed:
		return "CONFIRMED"
	case MoveSourceDropped:
		return "SOURCE_DROPPED"
	default:
		return fmt.Sprintf("MoveState(%d)", int(s))
	}
}

// MoveTransport is the narrow interface Mover drives a move through: it
// hides the delivery/control wire protocol so this package can be tested
// without a real TCP connection.
type MoveTransport interface {
	// CopyItem has the destination pull the item's payload and metadata
	// from the source node, per spec.md's "destination opens a delivery
	// connection to the source, issues MOVE_ITEM(key)".
	CopyItem(ctx context.Context, item MoveItem) (payload []byte, err error)
	// InstallLocally installs the copied payload on the destination
	// under a freshly allocated entry id, returning it.
	InstallLocally(ctx context.Context, item MoveItem, payload []byte) (newEntryID cacheid.EntryID, err error)
	// DropSource tells the source node to remove the old entry once the
	// coordinator has updated the index.
	DropSource(ctx context.Context, item MoveItem) error
}

// Move tracks one in-flight relocation through its state machine.
type Move struct {
	Item       MoveItem
	State      MoveState
	NewEntryID cacheid.EntryID
}

// Mover drives pending moves through MoveTransport, one at a time per
// call to Run, tracking state so a caller can inspect in-flight moves
// (e.g. to report REORG_DONE only once every move settles).
type Mover struct {
	mu     sync.Mutex
	moves  map[cacheid.EntryID]*Move
	transport MoveTransport
}

// NewMover constructs a Mover around the given transport.
func NewMover(transport MoveTransport) *Mover {
	return &Mover{moves: make(map[cacheid.EntryID]*Move), transport: transport}
}

// Run executes item's move to completion (or failure), returning the
// destination's new entry id on success. It is safe to call concurrently
// for distinct items.
func (m *Mover) Run(ctx context.Context, item MoveItem) (cacheid.EntryID, error) {
	move := &Move{Item: item, State: MoveRequested}
	m.track(item.EntryID, move)
	defer m.untrack(item.EntryID)

	move.State = MoveCopying
	payload, err := m.transport.CopyItem(ctx, item)
	if err != nil {
		move.State = MoveRequested
		return 0, fmt.Errorf("placement: move copy failed: %w", err)
	}

	newID, err := m.transport.InstallLocally(ctx, item, payload)
	if err != nil {
		// The destination discards the half-installed entry itself;
		// the index is never updated for an unfinished move.
		move.State = MoveRequested
		return 0, fmt.Errorf("placement: move install failed: %w", err)
	}
	move.State = MoveInstalled
	move.NewEntryID = newID

	move.State = MoveConfirmed

	if err := m.transport.DropSource(ctx, item); err != nil {
		// The move is still a success from the index's point of view —
		// the source entry is now a harmless duplicate that a future
		// reorg pass or node restart will clean up.
		return newID, fmt.Errorf("placement: move confirmed but source drop failed: %w", err)
	}
	move.State = MoveSourceDropped

	return newID, nil
}

func (m *Mover) track(id cacheid.EntryID, move *Move) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.moves[id] = move
}

func (m *Mover) untrack(id cacheid.EntryID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.moves, id)
}

// InFlight returns a snapshot of every move currently being driven.
func (m *Mover) InFlight() []Move {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Move, 0, len(m.moves))
	for _, mv := range m.moves {
		out = append(out, *mv)
	}
	return out
}
