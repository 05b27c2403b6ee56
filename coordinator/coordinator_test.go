package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ledgermesh/blockcoord/chain"
	"github.com/ledgermesh/blockcoord/db"
	"github.com/ledgermesh/blockcoord/executor"
	"github.com/ledgermesh/blockcoord/packer"
	"github.com/ledgermesh/blockcoord/proofengine"
	"github.com/ledgermesh/blockcoord/statuscache"
	"github.com/ledgermesh/blockcoord/storageunit"
	"github.com/ledgermesh/blockcoord/types"
)

// easyTarget is satisfied by virtually any candidate hash, keeping
// PROOF_SEARCH in these tests to a single iteration.
var easyTarget = types.Digest{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

type fakeSink struct {
	mu        sync.Mutex
	delivered []*types.Block
}

func (f *fakeSink) Transmit(ctx context.Context, block *types.Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, block)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

// sealedBlock builds a test block carrying exactly one slice (empty
// unless the caller supplies one), matching a NumSlices: 1 harness.
func sealedBlock(previous types.Digest, number uint64, merkle byte, slices []types.Slice) *types.Block {
	blk := types.NewUnsealedBlock(previous, number, types.Identity{}, 0, easyTarget)
	if slices == nil {
		slices = []types.Slice{{}}
	}
	blk.Slices = slices
	blk.MerkleHash = types.Digest{merkle}
	blk.Seal(number)
	return blk
}

// genesisBlock leaves Hash at its zero value: GENESIS_DIGEST doubles as
// the genesis block's own hash, which is what lets SYNCHRONIZING's
// cold-start case A (L == GENESIS_DIGEST) resolve straight to SYNCHRONIZED when
// nothing has ever executed.
func genesisBlock() *types.Block {
	blk := types.NewUnsealedBlock(types.GenesisDigest, 0, types.Identity{}, 0, easyTarget)
	blk.MerkleHash = types.GenesisMerkleRoot
	return blk
}

type harness struct {
	t       *testing.T
	c       *Coordinator
	chain   *chain.Chain
	su      *storageunit.StorageUnit
	exec    *executor.Manager
	pool    *packer.Pool
	sink    *fakeSink
	statusC *statuscache.Cache
}

func newHarness(t *testing.T, genesis *types.Block, cfg Config) *harness {
	t.Helper()

	chainProvider, err := db.NewMemoryLevelDBProvider()
	if err != nil {
		t.Fatalf("chain provider: %v", err)
	}
	ch, err := chain.New(chainProvider, genesis)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}

	suProvider, err := db.NewMemoryLevelDBProvider()
	if err != nil {
		t.Fatalf("su provider: %v", err)
	}
	su, err := storageunit.New(suProvider, types.GenesisMerkleRoot)
	if err != nil {
		t.Fatalf("new storage unit: %v", err)
	}

	em := executor.New(su, 2)
	em.Start()
	t.Cleanup(em.Stop)

	pool := packer.NewPool()
	pk := packer.New(pool, 16)
	pe := proofengine.New()

	statusProvider, err := db.NewMemoryLevelDBProvider()
	if err != nil {
		t.Fatalf("status provider: %v", err)
	}
	sc := statuscache.New(statusProvider)

	sink := &fakeSink{}

	if cfg.NumSlices == 0 {
		cfg.NumSlices = 1
	}
	if cfg.BlockDifficulty.IsZero() {
		cfg.BlockDifficulty = easyTarget
	}

	c := New(ch, su, em, pk, pe, sink, sc, cfg)

	return &harness{t: t, c: c, chain: ch, su: su, exec: em, pool: pool, sink: sink, statusC: sc}
}

// drive steps the coordinator until predicate is true or the budget is
// exhausted, ignoring requested delays (tests don't need to wait out
// real polling intervals).
func drive(h *harness, budget int, predicate func() bool) bool {
	for i := 0; i < budget; i++ {
		if predicate() {
			return true
		}
		h.c.Step()
	}
	return predicate()
}

func TestGenesisOnlyChainNonMining(t *testing.T) {
	g := genesisBlock()
	h := newHarness(t, g, Config{NumSlices: 1})

	ok := drive(h, 50, func() bool { return h.c.CurrentState() == Synchronized })
	if !ok {
		t.Fatalf("expected to reach SYNCHRONIZED, stuck at %s", h.c.CurrentState())
	}
	if h.c.LastExecutedBlock() != types.GenesisDigest {
		t.Fatalf("expected last_executed_block to remain GENESIS_DIGEST")
	}
}

func TestLinearThreeBlockSyncOnColdNode(t *testing.T) {
	g := genesisBlock()
	h := newHarness(t, g, Config{NumSlices: 1})

	// Merkle hashes stay at the genesis root throughout: these blocks
	// carry empty slices, so the default apply function never mutates
	// the Storage Unit, and the running hash never moves off zero.
	b1 := sealedBlock(g.Hash, 1, 0, nil)
	b2 := sealedBlock(b1.Hash, 2, 0, nil)
	b3 := sealedBlock(b2.Hash, 3, 0, nil)
	for _, b := range []*types.Block{b1, b2, b3} {
		if res := h.chain.AddBlock(b); res != chain.Added {
			t.Fatalf("seed chain: expected ADDED for block %d, got %s", b.BlockNumber, res)
		}
	}

	ok := drive(h, 200, func() bool { return h.c.CurrentState() == Synchronized })
	if !ok {
		t.Fatalf("expected to reach SYNCHRONIZED, stuck at %s", h.c.CurrentState())
	}

	if h.c.LastExecutedBlock() != b3.Hash {
		t.Fatalf("expected last_executed_block == b3.hash")
	}
	if h.su.CurrentHash() != b3.MerkleHash {
		t.Fatalf("expected storage current_hash == b3.merkle_hash")
	}
}

func TestTransactionSyncWait(t *testing.T) {
	g := genesisBlock()

	tx1 := types.Digest{0x01}
	tx2 := types.Digest{0x02}
	tx3 := types.Digest{0x03}
	slice := types.Slice{
		{TransactionHash: tx1, ShardMask: 1},
		{TransactionHash: tx2, ShardMask: 1},
		{TransactionHash: tx3, ShardMask: 1},
	}
	b1 := sealedBlock(g.Hash, 1, 1, []types.Slice{slice})

	h := newHarness(t, g, Config{NumSlices: 1})
	if res := h.chain.AddBlock(b1); res != chain.Added {
		t.Fatalf("seed chain: %s", res)
	}

	h.su.RecordTransaction(tx1)
	h.su.RecordTransaction(tx2)

	ok := drive(h, 50, func() bool { return h.c.CurrentState() == WaitForTransactions })
	if !ok {
		t.Fatalf("expected to reach WAIT_FOR_TRANSACTIONS, stuck at %s", h.c.CurrentState())
	}
	for i := 0; i < 3; i++ {
		h.c.Step()
	}
	if h.c.CurrentState() != WaitForTransactions {
		t.Fatalf("expected to still be waiting on the third transaction")
	}

	h.su.RecordTransaction(tx3)

	ok = drive(h, 50, func() bool { return h.c.CurrentState() == Synchronized })
	if !ok {
		t.Fatalf("expected to reach SYNCHRONIZED after third tx arrived, stuck at %s", h.c.CurrentState())
	}
	if h.c.LastExecutedBlock() != b1.Hash {
		t.Fatalf("expected last_executed_block == b1.hash")
	}
}

func TestMerkleMismatchEvictsBlockAndDescendants(t *testing.T) {
	g := genesisBlock()
	h := newHarness(t, g, Config{NumSlices: 1})

	b1 := sealedBlock(g.Hash, 1, 0, nil)
	// b2 declares a merkle_hash no apply function run against an empty
	// slice could ever produce, forcing POST_EXEC_BLOCK_VALIDATION to
	// detect a mismatch.
	b2 := sealedBlock(b1.Hash, 2, 0xAA, nil)
	b3 := sealedBlock(b2.Hash, 3, 0, nil)
	for _, b := range []*types.Block{b1, b2, b3} {
		if res := h.chain.AddBlock(b); res != chain.Added {
			t.Fatalf("seed chain: expected ADDED for block %d, got %s", b.BlockNumber, res)
		}
	}

	ok := drive(h, 300, func() bool { return h.c.CurrentState() == Synchronized })
	if !ok {
		t.Fatalf("expected to settle at SYNCHRONIZED, stuck at %s", h.c.CurrentState())
	}

	if h.c.LastExecutedBlock() != b1.Hash {
		t.Fatalf("expected last_executed_block == b1.hash after eviction, got %s", h.c.LastExecutedBlock())
	}
	tip, hasTip := h.chain.GetHeaviestBlock()
	if !hasTip || tip.Hash != b1.Hash {
		t.Fatalf("expected heaviest tip to fall back to b1")
	}
	if _, ok := h.chain.GetBlock(b2.Hash); ok {
		t.Fatalf("expected b2 to have been evicted from the chain")
	}
	if _, ok := h.chain.GetBlock(b3.Hash); ok {
		t.Fatalf("expected b3 to have been evicted along with its invalid ancestor b2")
	}
}

func TestForkReorganisation(t *testing.T) {
	g := genesisBlock()
	h := newHarness(t, g, Config{NumSlices: 1})

	b1 := sealedBlock(g.Hash, 1, 0, nil)
	b2 := sealedBlock(b1.Hash, 2, 0, nil)
	b3 := sealedBlock(b2.Hash, 3, 0, nil)
	for _, b := range []*types.Block{b1, b2, b3} {
		if res := h.chain.AddBlock(b); res != chain.Added {
			t.Fatalf("seed initial chain: %s", res)
		}
	}

	ok := drive(h, 300, func() bool { return h.c.CurrentState() == Synchronized })
	if !ok {
		t.Fatalf("expected initial sync to SYNCHRONIZED, stuck at %s", h.c.CurrentState())
	}
	if h.c.LastExecutedBlock() != b3.Hash {
		t.Fatalf("expected last_executed_block == b3.hash before the fork lands")
	}

	// A heavier fork replaces b2 and beyond. Its blocks carry a different
	// miner so their hashes differ from b2 and b3.
	forkBlock := func(previous types.Digest, number uint64) *types.Block {
		blk := sealedBlock(previous, number, 0, nil)
		blk.Miner = types.Identity{0xF0}
		blk.Seal(number)
		return blk
	}
	b2p := forkBlock(b1.Hash, 2)
	b3p := forkBlock(b2p.Hash, 3)
	b4p := forkBlock(b3p.Hash, 4)
	for _, b := range []*types.Block{b2p, b3p, b4p} {
		if res := h.chain.AddBlock(b); res != chain.Added {
			t.Fatalf("seed fork: %s", res)
		}
	}

	tip, _ := h.chain.GetHeaviestBlock()
	if tip.Hash != b4p.Hash {
		t.Fatalf("expected heaviest tip to be the fork's b4p")
	}

	ok = drive(h, 300, func() bool { return h.c.CurrentState() == Synchronized })
	if !ok {
		t.Fatalf("expected re-sync after the fork to SYNCHRONIZED, stuck at %s", h.c.CurrentState())
	}
	if h.c.LastExecutedBlock() != b4p.Hash {
		t.Fatalf("expected last_executed_block == b4p.hash, got %s", h.c.LastExecutedBlock())
	}
}

func TestMiningLoop(t *testing.T) {
	g := genesisBlock()
	h := newHarness(t, g, Config{
		NumSlices:     1,
		Mining:        true,
		MiningEnabled: true,
		BlockPeriod:   time.Millisecond,
	})

	ok := drive(h, 50, func() bool { return h.c.CurrentState() == Synchronized })
	if !ok {
		t.Fatalf("expected initial sync to SYNCHRONIZED, stuck at %s", h.c.CurrentState())
	}

	h.c.TriggerBlockGeneration()

	ok = drive(h, 500, func() bool { return h.sink.count() >= 1 })
	if !ok {
		t.Fatalf("expected a mined block to reach the sink, state=%s", h.c.CurrentState())
	}

	ok = drive(h, 200, func() bool { return h.c.CurrentState() == Synchronized })
	if !ok {
		t.Fatalf("expected to settle back at SYNCHRONIZED after mining, stuck at %s", h.c.CurrentState())
	}

	tip, hasTip := h.chain.GetHeaviestBlock()
	if !hasTip || tip.BlockNumber != 1 {
		t.Fatalf("expected chain tip to advance to block 1")
	}
	if h.c.LastExecutedBlock() != tip.Hash {
		t.Fatalf("expected last_executed_block == mined block hash")
	}
}
