package proofengine

import (
	"testing"

	"github.com/ledgermesh/blockcoord/types"
)

func TestMineFindsSatisfyingNonce(t *testing.T) {
	// A target with the top byte at 0xff is satisfied by any candidate
	// whose first byte is below 0xff, so almost immediately.
	blk := types.NewUnsealedBlock(types.GenesisDigest, 1, types.Identity{}, 0, types.Digest{0xff})
	e := New()

	if ok := e.Mine(blk, 100); !ok {
		t.Fatalf("expected mining to succeed within 100 iterations")
	}
	if !blk.Proof.Satisfies(blk.Hash) {
		t.Fatalf("sealed block hash must satisfy its own proof")
	}
}

func TestMineRespectsIterationBound(t *testing.T) {
	// An all-zero target is only satisfied by a candidate that is
	// itself all zero, astronomically unlikely within a handful of
	// iterations, so Mine must return false rather than loop forever.
	blk := types.NewUnsealedBlock(types.GenesisDigest, 1, types.Identity{}, 0, types.Digest{})
	e := New()

	if ok := e.Mine(blk, 3); ok {
		t.Fatalf("did not expect to satisfy an all-zero target in 3 iterations")
	}
}

func TestMineResumesAcrossCalls(t *testing.T) {
	blk := types.NewUnsealedBlock(types.GenesisDigest, 1, types.Identity{}, 0, types.Digest{0xff})
	e := New()

	e.Mine(blk, 1)
	if e.nextNonce != 1 {
		t.Fatalf("expected search to advance past nonce 0, got nextNonce=%d", e.nextNonce)
	}
}
