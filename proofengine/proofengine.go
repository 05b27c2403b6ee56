// Package proofengine implements the Proof Engine: an iterative
// proof-of-work search over a block's nonce space, bounded per call so
// the single-threaded coordinator stays responsive while mining (spec
// §4.1 PROOF_SEARCH, §9: "100 iterations per PROOF_SEARCH tick ...
// preserve verbatim").
package proofengine

import "github.com/ledgermesh/blockcoord/types"

// Engine searches nonces against a block's proof target. It keeps no
// state beyond where the previous call left off, so successive calls
// on the same unsealed block resume rather than restart the search.
type Engine struct {
	nextNonce uint64
}

// New creates a Proof Engine starting its search at nonce 0.
func New() *Engine {
	return &Engine{}
}

// Mine tries up to maxIterations nonces against block's proof target
// (spec §6: "mine(&block, max_iterations) → bool (true once proof
// satisfies target)"). On success it seals the block with the winning
// nonce before returning true; the block's Hash and Proof.Nonce agree
// by construction (types.Block.Seal).
func (e *Engine) Mine(block *types.Block, maxIterations int) bool {
	for i := 0; i < maxIterations; i++ {
		nonce := e.nextNonce
		e.nextNonce++

		candidate := block.SealHash(nonce)
		if block.Proof.Satisfies(candidate) {
			block.Seal(nonce)
			return true
		}
	}
	return false
}

// Reset restarts the search from nonce 0, used when the block being
// mined changes (a new next_block replaces the one the engine was
// searching against).
func (e *Engine) Reset() {
	e.nextNonce = 0
}
