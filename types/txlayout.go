package types

import "github.com/holiman/uint256"

// TransactionLayout is the packing-time view of a transaction the Block
// Packer considers for inclusion (spec §3): enough to decide whether it
// fits a slice/lane and whether it is still within its validity window.
type TransactionLayout struct {
	Digest      Digest
	ShardMask   uint64
	Charge      *uint256.Int
	ValidFrom   uint64
	ValidUntil  uint64
}

// ValidAt reports whether the layout is eligible for inclusion in a block
// with the given block number.
func (l TransactionLayout) ValidAt(blockNumber uint64) bool {
	return blockNumber >= l.ValidFrom && blockNumber <= l.ValidUntil
}

// Summary projects the layout down to the sealed-block TxSummary form.
func (l TransactionLayout) Summary() TxSummary {
	return TxSummary{TransactionHash: l.Digest, ShardMask: l.ShardMask}
}
