package protocol

import "testing"

func TestHelloRoundTrip(t *testing.T) {
	want := Hello{
		Capacities:  []CacheTypeCapacity{{CacheType: 0, Budget: 10 << 20}, {CacheType: 1, Budget: 5 << 20}},
		Port:        9100,
		WorkerCount: 4,
		Existing: []ExistingEntry{
			{CacheType: 0, SemanticID: "op/ndvi", EntryID: 42, Bounds: []float64{0, 1, 0, 1, 0, 1}},
		},
	}
	got, err := DecodeHello(want.Encode())
	if err != nil {
		t.Fatalf("DecodeHello: %v", err)
	}
	if got.Port != want.Port || got.WorkerCount != want.WorkerCount || len(got.Capacities) != 2 || len(got.Existing) != 1 {
		t.Errorf("Hello round-trip mismatch: %+v", got)
	}
	if got.Existing[0].SemanticID != "op/ndvi" || got.Existing[0].EntryID != 42 {
		t.Errorf("Hello.Existing[0] = %+v", got.Existing[0])
	}
}

func TestWelcomeRoundTrip(t *testing.T) {
	want := Welcome{NodeID: 3, Host: "10.0.0.5"}
	got, err := DecodeWelcome(want.Encode())
	if err != nil || got != want {
		t.Errorf("Welcome round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestReorgRoundTrip(t *testing.T) {
	want := Reorg{
		Removals: []Removal{{CacheType: 1, SemanticID: "op/a", EntryID: 1}},
		Moves:    []MoveInstruction{{CacheType: 0, SemanticID: "op/b", EntryID: 2, SourceHost: "h", SourcePort: 9001}},
	}
	got, err := DecodeReorg(want.Encode())
	if err != nil {
		t.Fatalf("DecodeReorg: %v", err)
	}
	if len(got.Removals) != 1 || len(got.Moves) != 1 || got.Moves[0].SourceHost != "h" {
		t.Errorf("Reorg round-trip mismatch: %+v", got)
	}
}

func TestReorgDoneRoundTrip(t *testing.T) {
	if _, err := DecodeReorgDone(ReorgDone{}.Encode()); err != nil {
		t.Errorf("DecodeReorgDone: %v", err)
	}
}

func TestMovedRoundTrip(t *testing.T) {
	want := Moved{OldID: 1, NewID: 2, NodeID: 7}
	got, err := DecodeMoved(want.Encode())
	if err != nil || got != want {
		t.Errorf("Moved round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestStatsRoundTrip(t *testing.T) {
	want := Stats{
		Usage:       []TypeUsage{{CacheType: 0, Used: 100, Total: 1000}},
		Entries:     []EntryStats{{CacheType: 0, SemanticID: "op/a", EntryID: 1, AccessCount: 5, LastAccess: 123456}},
		QueryCount:  10,
		HitCount:    8,
		PuzzleCount: 2,
	}
	got, err := DecodeStats(want.Encode())
	if err != nil {
		t.Fatalf("DecodeStats: %v", err)
	}
	if got.QueryCount != 10 || got.Entries[0].AccessCount != 5 {
		t.Errorf("Stats round-trip mismatch: %+v", got)
	}
}

func TestCreateRoundTripWithAndWithoutScale(t *testing.T) {
	withScale := Create{JobID: 7, CacheType: 0, SemanticID: "op/a", Rectangle: []float64{0, 1, 0, 1, 0, 1}, ScaleX: 2, ScaleY: 2, HasScale: true}
	got, err := DecodeCreate(withScale.Encode())
	if err != nil || got.JobID != 7 || !got.HasScale || got.ScaleX != 2 {
		t.Errorf("Create with scale round-trip = %+v, %v", got, err)
	}

	noScale := Create{JobID: 8, CacheType: 0, SemanticID: "op/a", Rectangle: []float64{0, 1, 0, 1, 0, 1}}
	got2, err := DecodeCreate(noScale.Encode())
	if err != nil || got2.JobID != 8 || got2.HasScale {
		t.Errorf("Create without scale round-trip = %+v, %v", got2, err)
	}
}

func TestPuzzleRoundTrip(t *testing.T) {
	want := Puzzle{
		JobID:      42,
		CacheType:  0,
		SemanticID: "op/a",
		Rectangle:  []float64{0, 2, 0, 2, 0, 1},
		HasScale:   true,
		ScaleX:     256,
		ScaleY:     256,
		Remainders: [][]float64{{0, 1, 0, 1, 0, 1}, {1, 2, 1, 2, 1, 2}},
	}
	got, err := DecodePuzzle(want.Encode())
	if err != nil || got.JobID != 42 || len(got.Remainders) != 2 || !got.HasScale || got.ScaleX != 256 {
		t.Errorf("Puzzle round-trip = %+v, %v", got, err)
	}
	if got.Rectangle[1] != 2 {
		t.Errorf("Puzzle.Rectangle = %v", got.Rectangle)
	}
}

func TestDeliverRoundTrip(t *testing.T) {
	want := Deliver{JobID: 3, CacheType: 1, SemanticID: "op/b", EntryID: 5}
	got, err := DecodeDeliver(want.Encode())
	if err != nil || got != want {
		t.Errorf("Deliver round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestResultReadyRoundTrip(t *testing.T) {
	want := ResultReady{JobID: 99}
	got, err := DecodeResultReady(want.Encode())
	if err != nil || got != want {
		t.Errorf("ResultReady round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestDeliveryQtyRoundTrip(t *testing.T) {
	want := DeliveryQty{JobID: 1, N: 3}
	got, err := DecodeDeliveryQty(want.Encode())
	if err != nil || got != want {
		t.Errorf("DeliveryQty round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestDeliveryReadyRoundTrip(t *testing.T) {
	want := DeliveryReady{
		JobID:      1,
		DeliveryID: 55,
		EntryID:    9,
		Bounds:     []float64{0, 10, 0, 10, 0, 1},
		HasScale:   true,
		ScaleX:     256,
		ScaleY:     256,
		ByteSize:   4096,
	}
	got, err := DecodeDeliveryReady(want.Encode())
	if err != nil {
		t.Fatalf("DeliveryReady round-trip error: %v", err)
	}
	if got.JobID != want.JobID || got.DeliveryID != want.DeliveryID || got.EntryID != want.EntryID ||
		got.HasScale != want.HasScale || got.ScaleX != want.ScaleX || got.ScaleY != want.ScaleY || got.ByteSize != want.ByteSize {
		t.Errorf("DeliveryReady round-trip = %+v, want %+v", got, want)
	}
	for i := range want.Bounds {
		if got.Bounds[i] != want.Bounds[i] {
			t.Errorf("Bounds[%d] = %v, want %v", i, got.Bounds[i], want.Bounds[i])
		}
	}
}

func TestDeliveryReadyRoundTripNoScale(t *testing.T) {
	want := DeliveryReady{JobID: 2, DeliveryID: 56, EntryID: 10, Bounds: []float64{0, 1, 0, 1, 0, 1}}
	got, err := DecodeDeliveryReady(want.Encode())
	if err != nil {
		t.Fatalf("DeliveryReady round-trip error: %v", err)
	}
	if got.HasScale {
		t.Error("expected HasScale = false when the source didn't set it")
	}
}

func TestErrorRoundTrip(t *testing.T) {
	want := Error{Message: "no capacity"}
	got, err := DecodeError(want.Encode())
	if err != nil || got != want {
		t.Errorf("Error round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestGetRoundTrip(t *testing.T) {
	want := Get{DeliveryID: 7}
	got, err := DecodeGet(want.Encode())
	if err != nil || got != want {
		t.Errorf("Get round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestGetCachedRoundTrip(t *testing.T) {
	want := GetCached{CacheType: 2, SemanticID: "op/c", EntryID: 9}
	got, err := DecodeGetCached(want.Encode())
	if err != nil || got != want {
		t.Errorf("GetCached round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestMoveItemRoundTrip(t *testing.T) {
	want := MoveItem{CacheType: 0, SemanticID: "op/d", EntryID: 11}
	got, err := DecodeMoveItem(want.Encode())
	if err != nil || got != want {
		t.Errorf("MoveItem round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestMoveDoneRoundTrip(t *testing.T) {
	want := MoveDone{OldID: 1, NewID: 2}
	got, err := DecodeMoveDone(want.Encode())
	if err != nil || got != want {
		t.Errorf("MoveDone round-trip = %+v, %v, want %+v", got, err, want)
	}
}

func TestQueryRoundTrip(t *testing.T) {
	want := Query{CacheType: 0, SemanticID: "op/e", Rectangle: []float64{0, 1, 0, 1, 0, 1}, HasScale: true, ScaleX: 256, ScaleY: 256}
	got, err := DecodeQuery(want.Encode())
	if err != nil || !got.HasScale || got.ScaleX != 256 {
		t.Errorf("Query round-trip = %+v, %v", got, err)
	}
}

func TestDeliveryRoundTrip(t *testing.T) {
	want := Delivery{Host: "10.0.0.1", Port: 9200, DeliveryID: 3}
	got, err := DecodeDelivery(want.Encode())
	if err != nil || got != want {
		t.Errorf("Delivery round-trip = %+v, %v, want %+v", got, err, want)
	}
}
