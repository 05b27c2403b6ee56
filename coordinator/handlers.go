package coordinator

import (
	"time"

	"github.com/ledgermesh/blockcoord/chain"
	"github.com/ledgermesh/blockcoord/executor"
	"github.com/ledgermesh/blockcoord/logx"
	"github.com/ledgermesh/blockcoord/monitoring"
	"github.com/ledgermesh/blockcoord/statuscache"
	"github.com/ledgermesh/blockcoord/stringutil"
	"github.com/ledgermesh/blockcoord/types"
)

// execStatus is the four-way view WAIT_FOR_EXECUTION and
// WAIT_FOR_NEW_BLOCK_EXECUTION reduce the Execution Manager's state to
// (spec §4.1).
type execStatus int

const (
	execIdle execStatus = iota
	execRunning
	execStalled
	execError
)

func reduceExecState(s executor.State) execStatus {
	switch s {
	case executor.Idle:
		return execIdle
	case executor.Active:
		return execRunning
	case executor.TransactionsUnavailable:
		return execStalled
	case executor.ExecutionAborted, executor.ExecutionFailed:
		return execError
	default:
		return execError
	}
}

// handleReloadState runs once at startup (spec §4.1 RELOAD_STATE).
func (c *Coordinator) handleReloadState() (State, time.Duration) {
	c.mu.Lock()
	current := c.currentBlock
	c.mu.Unlock()

	if current == nil {
		tip, ok := c.chain.GetHeaviestBlock()
		if !ok {
			logx.Error("COORDINATOR", "RELOAD_STATE: no heaviest tip in chain")
			return Reset, 0
		}
		current = tip
		c.mu.Lock()
		c.currentBlock = current
		c.mu.Unlock()
	}

	if !current.IsGenesis() {
		if c.storageUnit.RevertToHash(current.MerkleHash, current.BlockNumber) {
			c.execMgr.SetLastProcessedBlock(current.Hash)
			c.publishLastExecutedBlock(current.Hash)
		} else {
			logx.Warn("COORDINATOR", "RELOAD_STATE: failed to revert storage to", current.MerkleHash, "at", current.BlockNumber)
		}
	}

	return Reset, 0
}

// handleSynchronizing converges last_executed_block to heaviest_tip
// (spec §4.1 SYNCHRONIZING).
func (c *Coordinator) handleSynchronizing() (State, time.Duration) {
	c.mu.Lock()
	current := c.currentBlock
	c.mu.Unlock()

	if current == nil {
		tip, ok := c.chain.GetHeaviestBlock()
		if !ok {
			return Synchronizing, TxSyncPollInterval
		}
		current = tip
		c.mu.Lock()
		c.currentBlock = current
		c.mu.Unlock()
	}

	h := current.Hash
	p := current.PreviousHash
	l := c.execMgr.LastProcessedBlock()

	// Case A: cold start.
	if l == types.GenesisDigest {
		if current.IsGenesis() {
			// Nothing has ever executed, and the heaviest tip is
			// genesis itself: there is no genesis child to run yet.
			return Synchronized, 0
		}
		if p == types.GenesisDigest {
			return PreExecBlockValidation, 0
		}
		parent, ok := c.chain.GetBlock(p)
		if !ok {
			return Reset, 0
		}
		c.mu.Lock()
		c.currentBlock = parent
		c.mu.Unlock()
		return Synchronizing, 0
	}

	// Case B: caught up.
	if h == l {
		return Synchronized, 0
	}

	// Case C: normal — walk the path to the common ancestor with the
	// execution manager's last processed block.
	blocks, ok := c.chain.PathToCommonAncestor(h, l)
	if !ok || len(blocks) < 2 {
		return Reset, 0
	}
	common := blocks[len(blocks)-1]
	next := blocks[len(blocks)-2]

	if !c.storageUnit.HashExists(common.MerkleHash, common.BlockNumber) {
		c.execMgr.SetLastProcessedBlock(types.GenesisDigest)
		c.storageUnit.RevertToHash(types.GenesisMerkleRoot, 0)
		return Reset, 0
	}

	c.storageUnit.RevertToHash(common.MerkleHash, common.BlockNumber)
	c.mu.Lock()
	c.currentBlock = next
	c.mu.Unlock()
	return PreExecBlockValidation, 0
}

// handleSynchronized is the idle/mining anchor (spec §4.1 SYNCHRONIZED).
func (c *Coordinator) handleSynchronized() (State, time.Duration) {
	c.mu.Lock()
	current := c.currentBlock
	mining := c.mining
	miningEnabled := c.miningEnabled
	nextBlockTime := c.nextBlockTime
	cfg := c.cfg
	c.mu.Unlock()

	tipHash, ok := c.chain.GetHeaviestBlockHash()
	if !ok || current == nil || tipHash != current.Hash {
		return Reset, TxSyncPollInterval
	}

	if mining && miningEnabled && !time.Now().Before(nextBlockTime) {
		next := types.NewUnsealedBlock(current.Hash, current.BlockNumber+1, cfg.Identity, cfg.Log2NumLanes, cfg.BlockDifficulty)
		c.proofEngine.Reset()
		c.mu.Lock()
		c.nextBlock = next
		c.currentBlock = nil
		c.mu.Unlock()
		return PackNewBlock, 0
	}

	return Synchronized, TxSyncPollInterval
}

// handlePreExecBlockValidation runs the six ordered structural checks
// on current_block (spec §4.1 PRE_EXEC_BLOCK_VALIDATION).
func (c *Coordinator) handlePreExecBlockValidation() (State, time.Duration) {
	c.mu.Lock()
	current := c.currentBlock
	cfg := c.cfg
	c.mu.Unlock()

	if current == nil {
		return Reset, 0
	}

	if !current.IsGenesis() {
		parent, ok := c.chain.GetBlock(current.PreviousHash)
		if !ok {
			return c.rejectBlock(current, "no parent in chain")
		}
		if current.BlockNumber != parent.BlockNumber+1 {
			return c.rejectBlock(current, "block_number not contiguous with parent")
		}
		if len(current.Miner) != 64 {
			return c.rejectBlock(current, "miner identity is not 64 bytes")
		}
		if current.NumLanes() != uint64(1)<<current.Log2NumLanes {
			return c.rejectBlock(current, "num_lanes does not match log2_num_lanes")
		}
		if len(current.Slices) != cfg.NumSlices {
			return c.rejectBlock(current, "slice count does not match num_slices")
		}
		if len(current.PreviousHash) != 32 {
			return c.rejectBlock(current, "previous_hash is not 32 bytes")
		}
	}

	return WaitForTransactions, 0
}

func (c *Coordinator) rejectBlock(b *types.Block, reason string) (State, time.Duration) {
	logx.Warn("COORDINATOR", "rejecting block", stringutil.ShortenLog(b.Hash.String()), "reason:", reason)
	c.chain.RemoveBlock(b.Hash)
	return Reset, 0
}

// handleWaitForTransactions materialises and drains pending_txs (spec
// §4.1 WAIT_FOR_TRANSACTIONS).
func (c *Coordinator) handleWaitForTransactions() (State, time.Duration) {
	c.mu.Lock()
	current := c.currentBlock
	ready := c.pendingTxsReady
	c.mu.Unlock()

	if current == nil {
		return Reset, 0
	}

	if !ready {
		pending := make(map[types.Digest]struct{})
		for _, slice := range current.Slices {
			for _, d := range slice.Digests() {
				pending[d] = struct{}{}
			}
		}
		c.mu.Lock()
		c.pendingTxs = pending
		c.pendingTxsReady = true
		c.mu.Unlock()
	}

	c.mu.Lock()
	for d := range c.pendingTxs {
		if c.storageUnit.HasTransaction(d) {
			delete(c.pendingTxs, d)
		}
	}
	remaining := len(c.pendingTxs)
	c.mu.Unlock()

	if remaining == 0 {
		monitoring.SetPendingTxCount(0)
		return ScheduleBlockExecution, 0
	}

	monitoring.SetPendingTxCount(remaining)
	if c.txSyncLogGate.Poll() {
		logx.Info("COORDINATOR", "waiting on", remaining, "transactions for block", current.Hash)
	}
	return WaitForTransactions, TxSyncPollInterval
}

// handleScheduleBlockExecution submits current_block to the Execution
// Manager (spec §4.1 SCHEDULE_BLOCK_EXECUTION).
func (c *Coordinator) handleScheduleBlockExecution() (State, time.Duration) {
	c.mu.Lock()
	current := c.currentBlock
	c.mu.Unlock()
	if current == nil {
		return Reset, 0
	}

	switch c.execMgr.Execute(current) {
	case executor.Scheduled:
		monitoring.RecordExecutorItemCount(c.execMgr.LastItemCount())
		return WaitForExecution, 0
	default:
		return Reset, 0
	}
}

// handleWaitForExecution polls the Execution Manager for current_block
// (spec §4.1 WAIT_FOR_EXECUTION).
func (c *Coordinator) handleWaitForExecution() (State, time.Duration) {
	switch reduceExecState(c.execMgr.GetState()) {
	case execIdle:
		monitoring.SetExecutorBusy(false)
		return PostExecBlockValidation, 0
	case execRunning:
		monitoring.SetExecutorBusy(true)
		if c.execLogGate.Poll() {
			logx.Info("COORDINATOR", "executor running")
		}
		return WaitForExecution, ExecPollInterval
	default:
		monitoring.SetExecutorBusy(false)
		return Reset, 0
	}
}

// handlePostExecBlockValidation compares post-execution state to
// current_block.merkle_hash and recovers on mismatch (spec §4.1
// POST_EXEC_BLOCK_VALIDATION).
func (c *Coordinator) handlePostExecBlockValidation() (State, time.Duration) {
	c.mu.Lock()
	current := c.currentBlock
	c.mu.Unlock()
	if current == nil {
		return Reset, 0
	}

	skipCompare := false
	parent, hasParent := c.chain.GetBlock(current.PreviousHash)
	if hasParent && parent.IsGenesis() {
		skipCompare = true
	}

	matches := skipCompare || c.storageUnit.CurrentHash() == current.MerkleHash

	if !matches {
		logx.Warn("COORDINATOR", "merkle mismatch on block", stringutil.ShortenLog(current.Hash.String()), "expected", stringutil.ShortenLog(current.MerkleHash.String()), "got", stringutil.ShortenLog(c.storageUnit.CurrentHash().String()))
		if hasParent && c.storageUnit.RevertToHash(parent.MerkleHash, parent.BlockNumber) {
			c.execMgr.SetLastProcessedBlock(parent.Hash)
		} else {
			c.storageUnit.RevertToHash(types.GenesisMerkleRoot, 0)
			c.execMgr.SetLastProcessedBlock(types.GenesisDigest)
		}
		c.chain.RemoveBlock(current.Hash)
		return Reset, 0
	}

	digests := allSliceDigests(current)
	if err := c.statusCache.UpdateBatch(digests, statuscache.StatusExecuted); err != nil {
		logx.Error("COORDINATOR", "failed to mark transactions executed:", err)
	}
	if err := c.storageUnit.Commit(current.BlockNumber); err != nil {
		logx.Error("COORDINATOR", "failed to commit storage unit:", err)
	}
	c.execMgr.SetLastProcessedBlock(current.Hash)
	c.publishLastExecutedBlock(current.Hash)
	monitoring.SetBlockHeight(current.BlockNumber)

	return Reset, 0
}

func allSliceDigests(b *types.Block) []types.Digest {
	var out []types.Digest
	for _, slice := range b.Slices {
		out = append(out, slice.Digests()...)
	}
	return out
}

// handlePackNewBlock invokes the Block Packer on next_block (spec
// §4.1 PACK_NEW_BLOCK).
func (c *Coordinator) handlePackNewBlock() (State, time.Duration) {
	c.mu.Lock()
	next := c.nextBlock
	cfg := c.cfg
	c.mu.Unlock()
	if next == nil {
		return Reset, 0
	}

	if err := c.packer.Pack(next, next.NumLanes(), cfg.NumSlices); err != nil {
		logx.Error("COORDINATOR", "block packer failed:", err)
		return Reset, 0
	}

	c.mu.Lock()
	c.nextBlockTime = time.Now().Add(c.blockPeriod)
	c.mu.Unlock()
	return ExecuteNewBlock, 0
}

// handleExecuteNewBlock submits next_block to the Execution Manager
// (spec §4.1 EXECUTE_NEW_BLOCK).
func (c *Coordinator) handleExecuteNewBlock() (State, time.Duration) {
	c.mu.Lock()
	next := c.nextBlock
	c.mu.Unlock()
	if next == nil {
		return Reset, 0
	}

	switch c.execMgr.Execute(next) {
	case executor.Scheduled:
		monitoring.RecordExecutorItemCount(c.execMgr.LastItemCount())
		return WaitForNewBlockExecution, 0
	default:
		return Reset, 0
	}
}

// handleWaitForNewBlockExecution polls the Execution Manager for
// next_block (spec §4.1 WAIT_FOR_NEW_BLOCK_EXECUTION).
func (c *Coordinator) handleWaitForNewBlockExecution() (State, time.Duration) {
	switch reduceExecState(c.execMgr.GetState()) {
	case execIdle:
		c.mu.Lock()
		next := c.nextBlock
		c.mu.Unlock()
		if next == nil {
			return Reset, 0
		}
		next.MerkleHash = c.storageUnit.CurrentHash()
		if err := c.storageUnit.Commit(next.BlockNumber); err != nil {
			logx.Error("COORDINATOR", "failed to commit new block storage:", err)
			return Reset, 0
		}
		return ProofSearch, 0
	case execRunning:
		if c.execLogGate.Poll() {
			logx.Info("COORDINATOR", "executor running for new block")
		}
		return WaitForNewBlockExecution, ExecPollInterval
	default:
		return Reset, 0
	}
}

// handleProofSearch runs a bounded proof-of-work search against
// next_block (spec §4.1 PROOF_SEARCH, §9).
func (c *Coordinator) handleProofSearch() (State, time.Duration) {
	c.mu.Lock()
	next := c.nextBlock
	c.mu.Unlock()
	if next == nil {
		return Reset, 0
	}

	found := c.proofEngine.Mine(next, ProofSearchIterations)
	monitoring.IncreaseProofIterations(ProofSearchIterations)
	if found {
		c.execMgr.SetLastProcessedBlock(next.Hash)
		return TransmitBlock, 0
	}
	return ProofSearch, 0
}

// handleTransmitBlock adds next_block to the Main Chain and hands it
// to the Block Sink (spec §4.1 TRANSMIT_BLOCK).
func (c *Coordinator) handleTransmitBlock() (State, time.Duration) {
	c.mu.Lock()
	next := c.nextBlock
	ctx := c.ctx
	c.mu.Unlock()
	if next == nil {
		return Reset, 0
	}

	result := c.chain.AddBlock(next)
	if result == chain.Added {
		digests := allSliceDigests(next)
		if err := c.statusCache.UpdateBatch(digests, statuscache.StatusExecuted); err != nil {
			logx.Error("COORDINATOR", "failed to mark new block transactions executed:", err)
		}
		c.publishLastExecutedBlock(next.Hash)

		now := time.Now()
		c.mu.Lock()
		last := c.lastMinedAt
		c.lastMinedAt = now
		c.mu.Unlock()
		if !last.IsZero() {
			monitoring.RecordBlockTime(now.Sub(last))
		}
		monitoring.SetBlockHeight(next.BlockNumber)
		monitoring.IncreaseMinedBlocks()

		if err := c.sink.Transmit(ctx, next); err != nil {
			logx.Error("COORDINATOR", "block sink transmit failed:", err)
			monitoring.IncreaseTransmitFailures()
		}
	} else {
		logx.Warn("COORDINATOR", "failed to add newly mined block to chain:", result)
	}

	return Reset, 0
}

// handleReset clears working state and refreshes next_block_time
// (spec §4.1 RESET).
func (c *Coordinator) handleReset() (State, time.Duration) {
	c.mu.Lock()
	c.currentBlock = nil
	c.nextBlock = nil
	c.pendingTxs = nil
	c.pendingTxsReady = false
	c.nextBlockTime = time.Now().Add(c.blockPeriod)
	c.mu.Unlock()
	c.txSyncLogGate.Reset()
	c.execLogGate.Reset()
	return Synchronizing, 0
}
