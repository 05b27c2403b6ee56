package chain

import (
	"testing"

	"github.com/ledgermesh/blockcoord/db"
	"github.com/ledgermesh/blockcoord/types"
)

func newTestChain(t *testing.T, genesis *types.Block) *Chain {
	provider, err := db.NewMemoryLevelDBProvider()
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	c, err := New(provider, genesis)
	if err != nil {
		t.Fatalf("new chain: %v", err)
	}
	return c
}

func sealed(previous types.Digest, number uint64, merkle byte) *types.Block {
	blk := types.NewUnsealedBlock(previous, number, types.Identity{}, 0, types.Digest{})
	blk.MerkleHash = types.Digest{merkle}
	blk.Seal(number)
	return blk
}

func TestAddBlockLinear(t *testing.T) {
	g := sealed(types.GenesisDigest, 0, 0)
	c := newTestChain(t, g)

	b1 := sealed(g.Hash, 1, 1)
	if res := c.AddBlock(b1); res != Added {
		t.Fatalf("expected ADDED, got %s", res)
	}
	if res := c.AddBlock(b1); res != Duplicate {
		t.Fatalf("expected DUPLICATE, got %s", res)
	}

	tip, ok := c.GetHeaviestBlock()
	if !ok || tip.Hash != b1.Hash {
		t.Fatalf("expected heaviest tip to be b1")
	}
}

func TestAddBlockLooseAndInvalid(t *testing.T) {
	g := sealed(types.GenesisDigest, 0, 0)
	c := newTestChain(t, g)

	orphan := sealed(types.Digest{0x99}, 5, 1)
	if res := c.AddBlock(orphan); res != Loose {
		t.Fatalf("expected LOOSE, got %s", res)
	}

	skip := sealed(g.Hash, 7, 1)
	if res := c.AddBlock(skip); res != Invalid {
		t.Fatalf("expected INVALID, got %s", res)
	}
}

func TestRemoveBlockFallsBackTip(t *testing.T) {
	g := sealed(types.GenesisDigest, 0, 0)
	c := newTestChain(t, g)

	b1 := sealed(g.Hash, 1, 1)
	c.AddBlock(b1)

	c.RemoveBlock(b1.Hash)

	tip, ok := c.GetHeaviestBlock()
	if !ok || tip.Hash != g.Hash {
		t.Fatalf("expected tip to fall back to genesis after removal")
	}
}

func TestPathToCommonAncestorReorg(t *testing.T) {
	g := sealed(types.GenesisDigest, 0, 0)
	c := newTestChain(t, g)

	b1 := sealed(g.Hash, 1, 1)
	b2 := sealed(b1.Hash, 2, 2)
	b3 := sealed(b2.Hash, 3, 3)
	for _, b := range []*types.Block{b1, b2, b3} {
		c.AddBlock(b)
	}

	b2p := sealed(b1.Hash, 2, 20)
	b3p := sealed(b2p.Hash, 3, 30)
	b4p := sealed(b3p.Hash, 4, 40)
	for _, b := range []*types.Block{b2p, b3p, b4p} {
		c.AddBlock(b)
	}

	path, ok := c.PathToCommonAncestor(b4p.Hash, b3.Hash)
	if !ok {
		t.Fatalf("expected common ancestor")
	}
	if len(path) < 2 {
		t.Fatalf("expected at least 2 entries, got %d", len(path))
	}
	common := path[len(path)-1]
	if common.Hash != b1.Hash {
		t.Fatalf("expected common ancestor b1, got block_number=%d", common.BlockNumber)
	}
}
