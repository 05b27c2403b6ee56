package executor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ledgermesh/blockcoord/exception"
	"github.com/ledgermesh/blockcoord/logx"
	"github.com/ledgermesh/blockcoord/storageunit"
	"github.com/ledgermesh/blockcoord/types"
)

// ApplyFunc applies one transaction's effect within a lane-set to the
// Storage Unit. The Execution Manager is deliberately agnostic to
// transaction semantics (out of scope, spec §1 Non-goals): callers
// supply whatever state mutation their ledger needs.
type ApplyFunc func(su *storageunit.StorageUnit, tx types.Digest, laneSet uint64) error

// defaultApplyFunc records the transaction as executed state without
// interpreting it, the minimal mutation that still advances the
// Storage Unit's current hash deterministically.
func defaultApplyFunc(su *storageunit.StorageUnit, tx types.Digest, laneSet uint64) error {
	key := append([]byte("exec/"), tx[:]...)
	su.Put(key, []byte{byte(laneSet)})
	return nil
}

// Manager is the Execution Manager collaborator (spec §4.2, §6). A
// background monitor goroutine consumes one plan at a time and farms
// its item lists, in order, to a bounded worker pool.
type Manager struct {
	su          *storageunit.StorageUnit
	workerCount int
	apply       ApplyFunc

	mu      sync.Mutex
	wake    *sync.Cond
	plan    *Plan
	hasPlan bool
	stopped bool

	state     atomic.Int32
	active    atomic.Int32
	remaining atomic.Int32
	abort     atomic.Bool
	lastItems atomic.Int32

	lastProcessedMu sync.Mutex
	lastProcessed   types.Digest
}

// New creates an Execution Manager backed by su with workerCount
// concurrent item executors (spec §5: "a worker pool of num_executors
// threads").
func New(su *storageunit.StorageUnit, workerCount int) *Manager {
	if workerCount < 1 {
		workerCount = 1
	}
	m := &Manager{
		su:          su,
		workerCount: workerCount,
		apply:       defaultApplyFunc,
	}
	m.wake = sync.NewCond(&m.mu)
	m.state.Store(int32(Idle))
	return m
}

// SetApplyFunc overrides how the manager applies a transaction's effect
// to the Storage Unit. Must be called before Start.
func (m *Manager) SetApplyFunc(fn ApplyFunc) {
	if fn != nil {
		m.apply = fn
	}
}

// Start launches the monitor goroutine. Its lifetime is contained
// strictly within the Manager's: no item index it captures outlives
// this goroutine (spec §9, the `enable_shared_from_this` note).
func (m *Manager) Start() {
	exception.SafeGoWithPanic("execution-manager-monitor", m.monitorLoop)
}

// Stop signals the monitor goroutine to exit once it is idle.
func (m *Manager) Stop() {
	m.mu.Lock()
	m.stopped = true
	m.wake.Broadcast()
	m.mu.Unlock()
}

// Execute submits a block's body for execution (spec §4.2).
func (m *Manager) Execute(block *types.Block) ExecuteResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if State(m.state.Load()) == Active {
		return AlreadyRunning
	}

	plan, err := buildPlan(block)
	if err != nil {
		logx.Error("EXECUTOR", "unable to plan block", block.Hash, "error:", err)
		return UnableToPlan
	}

	itemCount := 0
	for _, list := range plan.Lists {
		itemCount += len(list)
	}
	m.lastItems.Store(int32(itemCount))

	m.plan = plan
	m.hasPlan = true
	m.abort.Store(false)
	m.state.Store(int32(Active))
	m.wake.Signal()
	return Scheduled
}

// LastItemCount returns the number of execution items the most recently
// submitted plan was broken into, for observability.
func (m *Manager) LastItemCount() int {
	return int(m.lastItems.Load())
}

// GetState returns the manager's current public state.
func (m *Manager) GetState() State {
	return State(m.state.Load())
}

// Abort requests the in-flight plan stop after its current item list
// drains (spec §5: "abort() ... causes the next WAIT_FOR_EXECUTION tick
// to observe ERROR").
func (m *Manager) Abort() {
	m.abort.Store(true)
}

// SetLastProcessedBlock records the digest of the block this manager
// has finished applying.
func (m *Manager) SetLastProcessedBlock(d types.Digest) {
	m.lastProcessedMu.Lock()
	m.lastProcessed = d
	m.lastProcessedMu.Unlock()
}

// LastProcessedBlock returns the last block digest this manager has
// finished applying.
func (m *Manager) LastProcessedBlock() types.Digest {
	m.lastProcessedMu.Lock()
	defer m.lastProcessedMu.Unlock()
	return m.lastProcessed
}

func (m *Manager) monitorLoop() {
	for {
		m.mu.Lock()
		for !m.hasPlan && !m.stopped {
			m.wake.Wait()
		}
		if m.stopped && !m.hasPlan {
			m.mu.Unlock()
			return
		}
		plan := m.plan
		m.plan = nil
		m.hasPlan = false
		m.mu.Unlock()

		outcome := m.runPlan(plan)

		m.mu.Lock()
		m.state.Store(int32(outcome))
		m.mu.Unlock()
	}
}

// runPlan executes item lists in order; within a list, items dispatch
// in parallel across the worker pool.
func (m *Manager) runPlan(plan *Plan) State {
	for _, list := range plan.Lists {
		if m.abort.Load() {
			return ExecutionAborted
		}
		for _, item := range list {
			for _, tx := range item.TxRefs {
				if !m.su.HasTransaction(tx) {
					return TransactionsUnavailable
				}
			}
		}
		if !m.runItemList(list) {
			return ExecutionFailed
		}
	}
	return Idle
}

func (m *Manager) runItemList(list ItemList) bool {
	if len(list) == 0 {
		return true
	}

	m.active.Store(int32(len(list)))
	m.remaining.Store(int32(len(list)))

	var wg sync.WaitGroup
	sem := make(chan struct{}, m.workerCount)
	failures := make(chan error, len(list))

	for _, item := range list {
		wg.Add(1)
		sem <- struct{}{}
		go func(it Item) {
			defer wg.Done()
			defer func() { <-sem }()

			for _, tx := range it.TxRefs {
				if err := m.apply(m.su, tx, it.LaneSet); err != nil {
					failures <- fmt.Errorf("lane %d tx %s: %w", it.LaneSet, tx, err)
					break
				}
			}
			m.active.Add(-1)
			m.remaining.Add(-1)
		}(item)
	}

	wg.Wait()
	close(failures)

	for err := range failures {
		logx.Error("EXECUTOR", "item list execution failed:", err)
		return false
	}
	return true
}
