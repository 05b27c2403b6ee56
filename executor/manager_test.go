package executor

import (
	"testing"
	"time"

	"github.com/ledgermesh/blockcoord/db"
	"github.com/ledgermesh/blockcoord/storageunit"
	"github.com/ledgermesh/blockcoord/types"
)

func newTestManager(t *testing.T) (*Manager, *storageunit.StorageUnit) {
	provider, err := db.NewMemoryLevelDBProvider()
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	su, err := storageunit.New(provider, types.GenesisMerkleRoot)
	if err != nil {
		t.Fatalf("new storage unit: %v", err)
	}
	m := New(su, 4)
	m.Start()
	t.Cleanup(m.Stop)
	return m, su
}

func blockWithSlices(slices ...types.Slice) *types.Block {
	return &types.Block{
		PreviousHash: types.GenesisDigest,
		BlockNumber:  1,
		Slices:       slices,
	}
}

func waitForState(t *testing.T, m *Manager, want State) {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.GetState() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %s, got %s", want, m.GetState())
}

func TestExecuteRunsToIdle(t *testing.T) {
	m, su := newTestManager(t)

	tx1 := types.Digest{0x01}
	tx2 := types.Digest{0x02}
	su.RecordTransaction(tx1)
	su.RecordTransaction(tx2)

	slice := types.Slice{
		{TransactionHash: tx1, ShardMask: 0b0001},
		{TransactionHash: tx2, ShardMask: 0b0010},
	}
	blk := blockWithSlices(slice)

	if res := m.Execute(blk); res != Scheduled {
		t.Fatalf("expected SCHEDULED, got %s", res)
	}
	waitForState(t, m, Idle)
}

func TestExecuteAlreadyRunning(t *testing.T) {
	m, su := newTestManager(t)

	tx1 := types.Digest{0x03}
	su.RecordTransaction(tx1)
	slice := types.Slice{{TransactionHash: tx1, ShardMask: 1}}
	blk := blockWithSlices(slice)

	if res := m.Execute(blk); res != Scheduled {
		t.Fatalf("expected SCHEDULED, got %s", res)
	}
	// Immediately re-submitting while the first plan may still be active
	// must never silently clobber it.
	if m.GetState() == Active {
		if res := m.Execute(blk); res != AlreadyRunning {
			t.Fatalf("expected ALREADY_RUNNING, got %s", res)
		}
	}
	waitForState(t, m, Idle)
}

func TestExecuteTransactionsUnavailable(t *testing.T) {
	m, _ := newTestManager(t)

	missing := types.Digest{0x04}
	slice := types.Slice{{TransactionHash: missing, ShardMask: 1}}
	blk := blockWithSlices(slice)

	if res := m.Execute(blk); res != Scheduled {
		t.Fatalf("expected SCHEDULED, got %s", res)
	}
	waitForState(t, m, TransactionsUnavailable)
}

func TestGroupSliceByLaneDisjointMasks(t *testing.T) {
	slice := types.Slice{
		{TransactionHash: types.Digest{1}, ShardMask: 0b0001},
		{TransactionHash: types.Digest{2}, ShardMask: 0b0010},
		{TransactionHash: types.Digest{3}, ShardMask: 0b0001},
	}
	items := groupSliceByLane(0, slice)
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
}
