// Package coordinator implements the Block Coordinator: the
// control-plane state machine driving a ledger node's block life cycle
// end to end (spec §1-§5).
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/ledgermesh/blockcoord/chain"
	"github.com/ledgermesh/blockcoord/exception"
	"github.com/ledgermesh/blockcoord/logx"
	"github.com/ledgermesh/blockcoord/monitoring"
	"github.com/ledgermesh/blockcoord/packer"
	"github.com/ledgermesh/blockcoord/periodic"
	"github.com/ledgermesh/blockcoord/proofengine"
	"github.com/ledgermesh/blockcoord/sink"
	"github.com/ledgermesh/blockcoord/statuscache"
	"github.com/ledgermesh/blockcoord/storageunit"
	"github.com/ledgermesh/blockcoord/executor"
	"github.com/ledgermesh/blockcoord/types"
)

// Timing constants the handlers rely on (spec §4.1, §9). The 100
// proof-search iterations bound is preserved verbatim: it is the
// mechanism that keeps the single-threaded state machine responsive to
// abort/reorg while mining.
const (
	TxSyncPollInterval   = 200 * time.Millisecond
	TxSyncNotifyInterval = time.Second
	ExecPollInterval     = 20 * time.Millisecond
	ExecNotifyInterval   = 500 * time.Millisecond
	ProofSearchIterations = 100
)

// Config carries the coordinator's tunable, externally-fixed
// parameters (spec §3: "block_difficulty, num_lanes, num_slices,
// block_period: configuration").
type Config struct {
	Identity        types.Identity
	BlockDifficulty types.Digest
	Log2NumLanes    uint8
	NumSlices       int
	BlockPeriod     time.Duration
	// Mining reports whether this node is a miner at all; MiningEnabled
	// is the runtime toggle layered on top of it (spec §3: "mining,
	// mining_enabled: boolean flags").
	Mining        bool
	MiningEnabled bool
}

// Coordinator is the Block Coordinator collaborator. Main Chain,
// Storage Unit, Execution Manager, Block Packer, Proof Engine, Block
// Sink and Transaction Status Cache are held as borrowed capabilities,
// never owned pointers (spec §9): the coordinator outlives none of
// them and creates none of them.
type Coordinator struct {
	chain        *chain.Chain
	storageUnit  *storageunit.StorageUnit
	execMgr      *executor.Manager
	packer       *packer.Packer
	proofEngine  *proofengine.Engine
	sink         sink.Sink
	statusCache  *statuscache.Cache

	cfg Config

	// mu guards every field below; handlers run single-threaded with
	// respect to the coordinator's own state (spec §5), but the
	// external API (spec §4.1) may be called from any goroutine.
	mu sync.Mutex

	ctx context.Context

	state State

	currentBlock *types.Block
	nextBlock    *types.Block
	pendingTxs   map[types.Digest]struct{}
	pendingTxsReady bool

	lastExecutedBlock types.Digest
	nextBlockTime     time.Time
	lastMinedAt       time.Time

	mining        bool
	miningEnabled bool
	blockPeriod   time.Duration

	txSyncLogGate *periodic.Gate
	execLogGate   *periodic.Gate
}

// New creates a Coordinator in its initial state, RELOAD_STATE (spec
// §4.1: "Initial state: RELOAD_STATE").
func New(
	c *chain.Chain,
	su *storageunit.StorageUnit,
	em *executor.Manager,
	p *packer.Packer,
	pe *proofengine.Engine,
	s sink.Sink,
	sc *statuscache.Cache,
	cfg Config,
) *Coordinator {
	return &Coordinator{
		ctx:           context.Background(),
		chain:         c,
		storageUnit:   su,
		execMgr:       em,
		packer:        p,
		proofEngine:   pe,
		sink:          s,
		statusCache:   sc,
		cfg:           cfg,
		state:         ReloadState,
		pendingTxs:    make(map[types.Digest]struct{}),
		mining:        cfg.Mining,
		miningEnabled: cfg.MiningEnabled,
		blockPeriod:   cfg.BlockPeriod,
		txSyncLogGate: periodic.New(TxSyncNotifyInterval),
		execLogGate:   periodic.New(ExecNotifyInterval),
	}
}

// Start launches the execution manager and the coordinator's own
// driver loop as panic-safe background goroutines (spec §5: "the
// coordinator scheduler exits after the current handler returns" on
// stop).
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.execMgr.Start()
	exception.SafeGoWithPanic("block-coordinator-driver", func() {
		c.Run(ctx)
	})
}

// Stop shuts down the execution manager. The driver loop itself exits
// when ctx is cancelled.
func (c *Coordinator) Stop() {
	c.execMgr.Stop()
}

// Run drives the state machine until ctx is cancelled. A single
// scheduler repeatedly invokes the handler for the current state; no
// two handlers ever run concurrently (spec §4.1, §5).
func (c *Coordinator) Run(ctx context.Context) {
	var delay time.Duration
	for {
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		} else {
			select {
			case <-ctx.Done():
				return
			default:
			}
		}
		delay = c.Step()
	}
}

// Step runs exactly one handler invocation for the coordinator's
// current state and returns the delay it requested before the next
// invocation (spec §4.1: "A handler returns either the next state ...
// or next state + a requested delay").
func (c *Coordinator) Step() time.Duration {
	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	var next State
	var delay time.Duration

	switch state {
	case ReloadState:
		next, delay = c.handleReloadState()
	case Synchronizing:
		next, delay = c.handleSynchronizing()
	case Synchronized:
		next, delay = c.handleSynchronized()
	case PreExecBlockValidation:
		next, delay = c.handlePreExecBlockValidation()
	case WaitForTransactions:
		next, delay = c.handleWaitForTransactions()
	case ScheduleBlockExecution:
		next, delay = c.handleScheduleBlockExecution()
	case WaitForExecution:
		next, delay = c.handleWaitForExecution()
	case PostExecBlockValidation:
		next, delay = c.handlePostExecBlockValidation()
	case PackNewBlock:
		next, delay = c.handlePackNewBlock()
	case ExecuteNewBlock:
		next, delay = c.handleExecuteNewBlock()
	case WaitForNewBlockExecution:
		next, delay = c.handleWaitForNewBlockExecution()
	case ProofSearch:
		next, delay = c.handleProofSearch()
	case TransmitBlock:
		next, delay = c.handleTransmitBlock()
	case Reset:
		next, delay = c.handleReset()
	default:
		logx.Error("COORDINATOR", "unreachable state", state)
		next, delay = Reset, 0
	}

	c.mu.Lock()
	if next != state {
		logx.Info("COORDINATOR", state, "->", next)
	}
	c.state = next
	c.mu.Unlock()

	monitoring.RecordStateEntered(next.String())
	if next == Reset {
		monitoring.IncreaseResetCount()
	}
	return delay
}

// CurrentState returns the coordinator's current state, for tests and
// diagnostics.
func (c *Coordinator) CurrentState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// --- External API (spec §4.1: "thread-safe, may be called from any thread") ---

// TriggerBlockGeneration provokes immediate mining by pulling
// next_block_time to now, if this node is a miner (the Mining flag;
// MiningEnabled is not consulted here).
func (c *Coordinator) TriggerBlockGeneration() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mining {
		c.nextBlockTime = time.Now()
	}
}

// LastExecutedBlock returns an atomic snapshot of the coordinator's
// published last executed block digest.
func (c *Coordinator) LastExecutedBlock() types.Digest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastExecutedBlock
}

// EnableMining toggles whether SYNCHRONIZED may start a new block.
func (c *Coordinator) EnableMining(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.miningEnabled = enabled
}

// SetBlockPeriod changes the minimum spacing between mined blocks.
func (c *Coordinator) SetBlockPeriod(period time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockPeriod = period
}

func (c *Coordinator) publishLastExecutedBlock(d types.Digest) {
	c.mu.Lock()
	c.lastExecutedBlock = d
	c.mu.Unlock()
}
