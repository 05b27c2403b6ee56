package types

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Block is the immutable, once-sealed unit of state transition (spec §3).
type Block struct {
	Hash         Digest
	PreviousHash Digest
	BlockNumber  uint64
	Miner        Identity
	MerkleHash   Digest
	Log2NumLanes uint8
	Slices       []Slice
	Proof        Proof
}

// NewUnsealedBlock builds the next_block the coordinator mines against
// (spec §4.1 SYNCHRONIZED "build next_block"). MerkleHash is left zero
// until WAIT_FOR_NEW_BLOCK_EXECUTION fills it in, and Hash until
// PROOF_SEARCH seals the block.
func NewUnsealedBlock(previous Digest, blockNumber uint64, miner Identity, log2NumLanes uint8, target Digest) *Block {
	return &Block{
		PreviousHash: previous,
		BlockNumber:  blockNumber,
		Miner:        miner,
		Log2NumLanes: log2NumLanes,
		Proof:        Proof{Target: target},
	}
}

// NumLanes returns 1 << log2_num_lanes (spec §3 invariant).
func (b *Block) NumLanes() uint64 {
	return uint64(1) << b.Log2NumLanes
}

// NumSlices returns the number of slices sealed into the block.
func (b *Block) NumSlices() int {
	return len(b.Slices)
}

// IsGenesis reports whether this block is the chain's genesis block.
// Block number, not previous_hash, is the identity check: genesis's
// own hash doubles as the GENESIS_DIGEST sentinel (so a cold node's
// last_processed_block, itself initialised to GENESIS_DIGEST, compares
// equal to it without executing anything), which means a genesis
// child's previous_hash cannot be distinguished from the sentinel by
// value alone.
func (b *Block) IsGenesis() bool {
	return b.BlockNumber == 0
}

// body hashes everything that identifies the block except its own sealed
// Hash and the proof's Nonce; it is the value the Proof Engine mixes with
// candidate nonces while searching (spec §4.1 PROOF_SEARCH, §9: "recompute
// next_block.hash from its body+proof").
func (b *Block) body() []byte {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte

	binary.BigEndian.PutUint64(buf[:], b.BlockNumber)
	h.Write(buf[:])
	h.Write(b.PreviousHash[:])
	h.Write(b.Miner[:])
	h.Write(b.MerkleHash[:])
	h.Write([]byte{b.Log2NumLanes})

	binary.BigEndian.PutUint64(buf[:], uint64(len(b.Slices)))
	h.Write(buf[:])
	for _, slice := range b.Slices {
		binary.BigEndian.PutUint64(buf[:], uint64(len(slice)))
		h.Write(buf[:])
		for _, tx := range slice {
			h.Write(tx.TransactionHash[:])
			binary.BigEndian.PutUint64(buf[:], tx.ShardMask)
			h.Write(buf[:])
		}
	}
	h.Write(b.Proof.Target[:])
	return h.Sum(nil)
}

// SealHash computes the block's hash for a given nonce, mixing the body
// digest with the candidate nonce. It does not mutate b.
func (b *Block) SealHash(nonce uint64) Digest {
	h := sha3.NewLegacyKeccak256()
	h.Write(b.body())
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	h.Write(buf[:])
	var out Digest
	copy(out[:], h.Sum(nil))
	return out
}

// Seal commits a satisfying nonce: it fixes Proof.Nonce and Hash together
// so the two can never disagree (spec §4.1 PROOF_SEARCH "On success:
// recompute next_block.hash from its body+proof").
func (b *Block) Seal(nonce uint64) {
	b.Proof.Nonce = nonce
	b.Hash = b.SealHash(nonce)
}
