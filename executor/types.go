package executor

import "github.com/ledgermesh/blockcoord/types"

// State is the Execution Manager's public, atomically-observable state
// (spec §4.2, §5: "The public state is an atomic enum").
type State int32

const (
	Idle State = iota
	Active
	TransactionsUnavailable
	ExecutionAborted
	ExecutionFailed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Active:
		return "ACTIVE"
	case TransactionsUnavailable:
		return "TRANSACTIONS_UNAVAILABLE"
	case ExecutionAborted:
		return "EXECUTION_ABORTED"
	case ExecutionFailed:
		return "EXECUTION_FAILED"
	default:
		return "UNKNOWN"
	}
}

// ExecuteResult is the outcome of submitting a block body to execute
// (spec §4.2).
type ExecuteResult int

const (
	Scheduled ExecuteResult = iota
	AlreadyRunning
	NotStarted
	UnableToPlan
)

func (r ExecuteResult) String() string {
	switch r {
	case Scheduled:
		return "SCHEDULED"
	case AlreadyRunning:
		return "ALREADY_RUNNING"
	case NotStarted:
		return "NOT_STARTED"
	case UnableToPlan:
		return "UNABLE_TO_PLAN"
	default:
		return "UNKNOWN"
	}
}

// Item is one unit of dispatch inside an item list: a lane-set and the
// transaction refs that touch it, drawn from a single slice (spec
// §4.2: "each item being (slice, lane-set, tx-refs)").
type Item struct {
	SliceIndex int
	LaneSet    uint64
	TxRefs     []types.Digest
}

// ItemList holds items dispatched in parallel; item lists are processed
// sequentially in plan order, mirroring slice order (spec §4.2).
type ItemList []Item

// Plan is a per-block execution plan built from the block's slices.
type Plan struct {
	Lists []ItemList
}
