package placement

import (
	"context"
	"errors"
	"testing"

	"github.com/dreamware/geocache/internal/cacheid"
)

type fakeTransport struct {
	copyErr    error
	installErr error
	dropErr    error
	installedID cacheid.EntryID
}

func (f *fakeTransport) CopyItem(ctx context.Context, item MoveItem) ([]byte, error) {
	if f.copyErr != nil {
		return nil, f.copyErr
	}
	return []byte("payload"), nil
}

func (f *fakeTransport) InstallLocally(ctx context.Context, item MoveItem, payload []byte) (cacheid.EntryID, error) {
	if f.installErr != nil {
		return 0, f.installErr
	}
	return f.installedID, nil
}

func (f *fakeTransport) DropSource(ctx context.Context, item MoveItem) error {
	return f.dropErr
}

func TestMoverRunSuccess(t *testing.T) {
	transport := &fakeTransport{installedID: 42}
	m := NewMover(transport)

	newID, err := m.Run(context.Background(), MoveItem{SemanticID: "op/a", EntryID: 1, From: 1, To: 2})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if newID != 42 {
		t.Errorf("Run returned id %v, want 42", newID)
	}
	if len(m.InFlight()) != 0 {
		t.Error("expected no in-flight moves after completion")
	}
}

func TestMoverRunCopyFailure(t *testing.T) {
	transport := &fakeTransport{copyErr: errors.New("boom")}
	m := NewMover(transport)

	if _, err := m.Run(context.Background(), MoveItem{EntryID: 1}); err == nil {
		t.Error("expected an error when CopyItem fails")
	}
}

func TestMoverRunInstallFailureLeavesIndexUntouched(t *testing.T) {
	transport := &fakeTransport{installErr: errors.New("disk full")}
	m := NewMover(transport)

	if _, err := m.Run(context.Background(), MoveItem{EntryID: 1}); err == nil {
		t.Error("expected an error when InstallLocally fails")
	}
}

func TestMoverRunDropFailureStillReturnsNewID(t *testing.T) {
	transport := &fakeTransport{installedID: 7, dropErr: errors.New("source unreachable")}
	m := NewMover(transport)

	newID, err := m.Run(context.Background(), MoveItem{EntryID: 1})
	if err == nil {
		t.Error("expected an error surfaced for the failed drop")
	}
	if newID != 7 {
		t.Errorf("expected the new entry id to still be returned on drop failure, got %v", newID)
	}
}
