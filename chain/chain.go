// Package chain implements the Main Chain: the block DAG the Block
// Coordinator reconciles against. It tracks every block it has seen,
// picks a heaviest tip, and answers common-ancestor queries for reorgs.
package chain

import (
	"fmt"
	"sync"

	"github.com/ledgermesh/blockcoord/db"
	"github.com/ledgermesh/blockcoord/jsonx"
	"github.com/ledgermesh/blockcoord/logx"
	"github.com/ledgermesh/blockcoord/types"
)

const keyPrefix = "chain/block/"

// AddResult mirrors the four outcomes add_block can report.
type AddResult int

const (
	Added AddResult = iota
	Duplicate
	Loose
	Invalid
)

func (r AddResult) String() string {
	switch r {
	case Added:
		return "ADDED"
	case Duplicate:
		return "DUPLICATE"
	case Loose:
		return "LOOSE"
	case Invalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

// Chain is the Main Chain collaborator (spec §6): a block DAG with
// heaviest-tip selection and common-ancestor queries. It persists every
// block it accepts via a DatabaseProvider and keeps an in-memory index
// for heaviest-tip tracking, matching the blockstore package's split
// between an on-disk record and an in-memory lookup table.
type Chain struct {
	provider db.DatabaseProvider
	txMgr    *db.DBTxManager

	mu       sync.RWMutex
	byHash   map[types.Digest]*types.Block
	heaviest types.Digest
	height   uint64
	hasTip   bool
}

// New creates a Chain backed by provider and seeds it with the genesis
// block, which is always present and always the initial heaviest tip
// on an otherwise-empty chain.
func New(provider db.DatabaseProvider, genesis *types.Block) (*Chain, error) {
	c := &Chain{
		provider: provider,
		txMgr:    db.NewDBTxManager(provider),
		byHash:   make(map[types.Digest]*types.Block),
	}
	if genesis != nil {
		c.byHash[genesis.Hash] = genesis
		c.heaviest = genesis.Hash
		c.height = genesis.BlockNumber
		c.hasTip = true
		if err := c.persist(genesis); err != nil {
			return nil, fmt.Errorf("chain: persist genesis: %w", err)
		}
	}
	return c, nil
}

func blockKey(hash types.Digest) []byte {
	return append([]byte(keyPrefix), hash[:]...)
}

func (c *Chain) persist(b *types.Block) error {
	data, err := jsonx.Marshal(b)
	if err != nil {
		return fmt.Errorf("marshal block: %w", err)
	}
	return c.provider.Put(blockKey(b.Hash), data)
}

// GetBlock returns the block for hash, loading from the backing
// provider if it has fallen out of the in-memory index.
func (c *Chain) GetBlock(hash types.Digest) (*types.Block, bool) {
	c.mu.RLock()
	b, ok := c.byHash[hash]
	c.mu.RUnlock()
	if ok {
		return b, true
	}

	data, err := c.provider.Get(blockKey(hash))
	if err != nil || data == nil {
		return nil, false
	}
	var blk types.Block
	if err := jsonx.Unmarshal(data, &blk); err != nil {
		logx.Error("CHAIN", "failed to unmarshal block", hash, "error:", err)
		return nil, false
	}
	c.mu.Lock()
	c.byHash[blk.Hash] = &blk
	c.mu.Unlock()
	return &blk, true
}

// GetHeaviestBlock returns the current heaviest tip.
func (c *Chain) GetHeaviestBlock() (*types.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.hasTip {
		return nil, false
	}
	return c.byHash[c.heaviest], true
}

// GetHeaviestBlockHash returns the hash of the current heaviest tip.
func (c *Chain) GetHeaviestBlockHash() (types.Digest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.heaviest, c.hasTip
}

// AddBlock validates structural contiguity against the parent (if any)
// and, on acceptance, updates the heaviest tip when the new block's
// block_number exceeds the current tip's (the simple heaviest-chain
// rule the spec's Non-goals call for, nothing beyond proof-of-work).
func (c *Chain) AddBlock(b *types.Block) AddResult {
	if b == nil {
		return Invalid
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byHash[b.Hash]; ok {
		return Duplicate
	}

	if !b.IsGenesis() {
		parent, ok := c.byHash[b.PreviousHash]
		if !ok {
			return Loose
		}
		if b.BlockNumber != parent.BlockNumber+1 {
			return Invalid
		}
	}

	if err := c.persist(b); err != nil {
		logx.Error("CHAIN", "failed to persist block", b.Hash, "error:", err)
		return Invalid
	}

	c.byHash[b.Hash] = b
	if !c.hasTip || b.BlockNumber > c.height {
		c.heaviest = b.Hash
		c.height = b.BlockNumber
		c.hasTip = true
	}
	return Added
}

// RemoveBlock evicts a block that failed validation after the fact
// (structural or merkle mismatch), along with every block descended
// from it: once an ancestor is known bad, nothing built on top of it
// is still part of a valid chain. If the heaviest tip was removed as
// part of that cascade, the tip falls back to the evicted block's
// parent so the coordinator re-synchronises against it.
func (c *Chain) RemoveBlock(hash types.Digest) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, ok := c.byHash[hash]
	if !ok {
		return
	}

	toRemove := map[types.Digest]struct{}{hash: {}}
	for changed := true; changed; {
		changed = false
		for h, blk := range c.byHash {
			if _, already := toRemove[h]; already {
				continue
			}
			if _, parentRemoved := toRemove[blk.PreviousHash]; parentRemoved {
				toRemove[h] = struct{}{}
				changed = true
			}
		}
	}

	if err := c.txMgr.WithBatch(func(batch db.DatabaseBatch) error {
		for h := range toRemove {
			batch.Delete(blockKey(h))
		}
		return nil
	}); err != nil {
		logx.Error("CHAIN", "failed to batch-delete evicted blocks:", err)
	}
	for h := range toRemove {
		delete(c.byHash, h)
	}

	if _, stillThere := c.byHash[c.heaviest]; !stillThere {
		if parent, ok := c.byHash[b.PreviousHash]; ok {
			c.heaviest = parent.Hash
			c.height = parent.BlockNumber
		} else {
			c.hasTip = false
		}
	}
}

// PathToCommonAncestor walks back from `from` and `to` until the paths
// meet, returning the path from `from` to the common ancestor inclusive
// on both ends, ordered tip-first (spec §6: "blocks is ordered tip→
// ancestor, inclusive on both ends"). It requires at least two entries
// for distinct inputs on the same chain; the bool reports whether any
// common ancestor was found at all.
func (c *Chain) PathToCommonAncestor(from, to types.Digest) ([]*types.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	fromPath := c.ancestryLocked(from)
	if fromPath == nil {
		return nil, false
	}
	toSet := make(map[types.Digest]uint64, 64)
	for h := to; ; {
		blk, ok := c.byHash[h]
		if !ok {
			break
		}
		toSet[h] = blk.BlockNumber
		if blk.IsGenesis() {
			break
		}
		h = blk.PreviousHash
	}

	for i, blk := range fromPath {
		if _, ok := toSet[blk.Hash]; ok {
			return fromPath[:i+1], true
		}
	}
	return nil, false
}

// ancestryLocked returns the chain of blocks from hash back to genesis,
// tip-first. Caller must hold c.mu.
func (c *Chain) ancestryLocked(hash types.Digest) []*types.Block {
	var path []*types.Block
	for h := hash; ; {
		blk, ok := c.byHash[h]
		if !ok {
			return nil
		}
		path = append(path, blk)
		if blk.IsGenesis() {
			return path
		}
		h = blk.PreviousHash
	}
}
