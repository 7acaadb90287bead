package querymgr

import (
	"time"

	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cube"
	"github.com/dreamware/geocache/internal/index"
)

// QueryID names one job in the manager's tables, monotonically
// increasing for the lifetime of the process.
type QueryID uint64

// JobKind is the three job shapes spec.md §4.4 distinguishes by what
// the resolver found.
type JobKind int

const (
	DeliverJob JobKind = iota
	PuzzleJob
	CreateJob
)

func (k JobKind) String() string {
	switch k {
	case DeliverJob:
		return "DeliverJob"
	case PuzzleJob:
		return "PuzzleJob"
	case CreateJob:
		return "CreateJob"
	default:
		return "UnknownJob"
	}
}

// JobState is the Job state machine of spec.md §4.8.
type JobState int

const (
	JobCreated JobState = iota
	JobPending
	JobRunning
	JobFinished
	JobReleased
)

func (s JobState) String() string {
	switch s {
	case JobCreated:
		return "CREATED"
	case JobPending:
		return "PENDING"
	case JobRunning:
		return "RUNNING"
	case JobFinished:
		return "FINISHED"
	case JobReleased:
		return "RELEASED"
	default:
		return "UNKNOWN"
	}
}

// DeliveryResponse is what a worker reports back on completion: where a
// waiting client can fetch the result.
type DeliveryResponse struct {
	Host       string
	Port       uint32
	DeliveryID uint64
}

// Job tracks one in-flight query plan through pending/running/finished.
type Job struct {
	ID             QueryID
	Kind           JobKind
	CacheType      cachetype.CacheType
	SemanticID     cacheid.SemanticID
	Rect           cube.QueryCube
	OriginalVolume float64
	State          JobState
	Waiters        map[string]struct{}
	PreferredNode  cacheid.NodeID

	// Populated at creation according to Kind.
	DeliverRef Index // for DeliverJob
	PuzzleKeys []Index
	Remainders []cube.QueryCube

	CreatedAt  time.Time
	FinishedAt time.Time
	Result     DeliveryResponse
	Err        error
}

// Index is a type alias kept local to this package so callers don't need
// to import internal/index just to read a Job's fields.
type Index = index.Ref

func volumeOf(q cube.QueryCube) float64 {
	return q.Cube.Volume()
}

func compatibleResolution(a, b cube.QueryCube) bool {
	if a.Restype() != b.Restype() {
		return false
	}
	if a.Restype() == cube.RestypeNone {
		return true
	}
	return *a.ScaleX == *b.ScaleX && *a.ScaleY == *b.ScaleY
}
