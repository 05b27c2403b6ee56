package packer

import (
	"sync"

	"github.com/ledgermesh/blockcoord/types"
)

// Pool is a thread-safe FIFO of packing-time transaction layouts, the
// Block Packer's transaction source. Transaction admission and
// validity semantics are out of scope for the coordinator (spec §1
// Non-goals); Pool only tracks what is available to pack, grounded on
// the mempool package's GetBatch/RemoveBatch split between peeking and
// consuming a batch.
type Pool struct {
	mu  sync.Mutex
	txs []types.TransactionLayout
}

// NewPool creates an empty transaction pool.
func NewPool() *Pool {
	return &Pool{}
}

// Add admits a transaction layout into the pool.
func (p *Pool) Add(tx types.TransactionLayout) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.txs = append(p.txs, tx)
}

// Len returns the number of layouts currently pooled.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txs)
}

// GetBatch returns up to max layouts valid at blockNumber, in FIFO
// order, without removing them.
func (p *Pool) GetBatch(max int, blockNumber uint64) []types.TransactionLayout {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]types.TransactionLayout, 0, max)
	for _, tx := range p.txs {
		if len(out) >= max {
			break
		}
		if tx.ValidAt(blockNumber) {
			out = append(out, tx)
		}
	}
	return out
}

// RemoveByDigest drops the named layouts from the pool, called once
// the Packer has committed them into a block's slices.
func (p *Pool) RemoveByDigest(digests []types.Digest) {
	if len(digests) == 0 {
		return
	}
	remove := make(map[types.Digest]struct{}, len(digests))
	for _, d := range digests {
		remove[d] = struct{}{}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.txs[:0]
	for _, tx := range p.txs {
		if _, drop := remove[tx.Digest]; !drop {
			kept = append(kept, tx)
		}
	}
	p.txs = kept
}
