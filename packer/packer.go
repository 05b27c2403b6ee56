// Package packer implements the Block Packer: selects transactions to
// include in a new block (spec §6).
package packer

import (
	"fmt"

	"github.com/ledgermesh/blockcoord/logx"
	"github.com/ledgermesh/blockcoord/types"
)

// Packer fills a next_block's slices from a Pool.
type Packer struct {
	pool        *Pool
	maxSliceLen int
}

// New creates a Packer drawing from pool, filling each slice up to
// maxSliceLen transactions.
func New(pool *Pool, maxSliceLen int) *Packer {
	if maxSliceLen < 1 {
		maxSliceLen = 1
	}
	return &Packer{pool: pool, maxSliceLen: maxSliceLen}
}

// Pack invokes the packer on next (spec §4.1 PACK_NEW_BLOCK: "invoke
// Block Packer on next_block with num_lanes, num_slices, chain").
// Layouts whose shard_mask reaches outside num_lanes's bit-width are
// skipped rather than silently truncated.
func (p *Packer) Pack(next *types.Block, numLanes uint64, numSlices int) error {
	if numSlices <= 0 {
		return fmt.Errorf("packer: num_slices must be positive, got %d", numSlices)
	}

	laneBits := uint64(1)<<numLanes - 1 // one mask bit per lane
	capacity := numSlices * p.maxSliceLen
	batch := p.pool.GetBatch(capacity, next.BlockNumber)

	slices := make([]types.Slice, 0, numSlices)
	packed := make([]types.Digest, 0, len(batch))
	var current types.Slice

	for _, layout := range batch {
		if len(slices) >= numSlices {
			break
		}
		if layout.ShardMask&^laneBits != 0 {
			logx.Warn("PACKER", "skipping layout", layout.Digest, "shard_mask out of range for", numLanes, "lanes")
			continue
		}

		current = append(current, layout.Summary())
		packed = append(packed, layout.Digest)

		if len(current) >= p.maxSliceLen {
			slices = append(slices, current)
			current = nil
		}
	}
	if len(current) > 0 && len(slices) < numSlices {
		slices = append(slices, current)
	}
	for len(slices) < numSlices {
		slices = append(slices, types.Slice{})
	}

	next.Slices = slices
	p.pool.RemoveByDigest(packed)

	logx.Info("PACKER", "packed", len(packed), "transactions into", len(slices), "slices for block", next.BlockNumber)
	return nil
}
