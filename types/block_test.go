package types

import "testing"

func TestBlockSealDeterministic(t *testing.T) {
	blk := NewUnsealedBlock(GenesisDigest, 1, Identity{}, 2, Digest{0xff})
	blk.MerkleHash = Digest{0x01}

	blk.Seal(42)
	first := blk.Hash

	blk2 := NewUnsealedBlock(GenesisDigest, 1, Identity{}, 2, Digest{0xff})
	blk2.MerkleHash = Digest{0x01}
	blk2.Seal(42)

	if first != blk2.Hash {
		t.Fatalf("expected deterministic seal hash, got %s vs %s", first, blk2.Hash)
	}

	blk.Seal(43)
	if blk.Hash == first {
		t.Fatalf("expected different nonce to change the sealed hash")
	}
}

func TestBlockNumLanes(t *testing.T) {
	blk := &Block{Log2NumLanes: 3}
	if got := blk.NumLanes(); got != 8 {
		t.Fatalf("expected 8 lanes, got %d", got)
	}
}

func TestProofSatisfies(t *testing.T) {
	target := Digest{0x00, 0xff}
	p := Proof{Target: target}

	low := Digest{0x00, 0x10}
	if !p.Satisfies(low) {
		t.Fatalf("expected %s to satisfy target %s", low, target)
	}

	high := Digest{0x01, 0x00}
	if p.Satisfies(high) {
		t.Fatalf("expected %s to not satisfy target %s", high, target)
	}
}

func TestDigestFromBytesLength(t *testing.T) {
	if _, err := DigestFromBytes(make([]byte, 10)); err == nil {
		t.Fatalf("expected error for short byte slice")
	}
	d, err := DigestFromBytes(make([]byte, 32))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.IsZero() {
		t.Fatalf("expected zero digest")
	}
}
