package executor

import "github.com/ledgermesh/blockcoord/types"

// buildPlan turns a block's slices into a Plan: one item list per slice,
// preserving slice order as the sequential spine, with items inside
// each list grouped so that any two items in the same list have
// disjoint lane-sets and may run in parallel (spec §4.2: "transactions
// touching disjoint lane-sets commute and may execute in parallel").
func buildPlan(b *types.Block) (*Plan, error) {
	plan := &Plan{Lists: make([]ItemList, 0, len(b.Slices))}
	for sliceIdx, slice := range b.Slices {
		plan.Lists = append(plan.Lists, groupSliceByLane(sliceIdx, slice))
	}
	return plan, nil
}

// groupSliceByLane greedily groups a slice's transactions into items by
// lane-set overlap: a transaction joins the first item whose lane-set
// it overlaps (merging the masks), or starts a new item otherwise. A
// second pass folds together any items left with overlapping masks
// after merges, the same two-phase approach the parallel executor this
// package is grounded on uses for its dependency levels.
func groupSliceByLane(sliceIdx int, slice types.Slice) ItemList {
	var items ItemList
	for _, tx := range slice {
		merged := false
		for i := range items {
			if items[i].LaneSet&tx.ShardMask != 0 {
				items[i].LaneSet |= tx.ShardMask
				items[i].TxRefs = append(items[i].TxRefs, tx.TransactionHash)
				merged = true
				break
			}
		}
		if !merged {
			items = append(items, Item{
				SliceIndex: sliceIdx,
				LaneSet:    tx.ShardMask,
				TxRefs:     []types.Digest{tx.TransactionHash},
			})
		}
	}
	return coalesceOverlapping(items)
}

// coalesceOverlapping repeatedly merges any two items whose lane-sets
// overlap, until every pair of surviving items is disjoint.
func coalesceOverlapping(items ItemList) ItemList {
	for {
		merged := false
		for i := 0; i < len(items); i++ {
			for j := i + 1; j < len(items); j++ {
				if items[i].LaneSet&items[j].LaneSet == 0 {
					continue
				}
				items[i].LaneSet |= items[j].LaneSet
				items[i].TxRefs = append(items[i].TxRefs, items[j].TxRefs...)
				items = append(items[:j], items[j+1:]...)
				merged = true
				break
			}
			if merged {
				break
			}
		}
		if !merged {
			return items
		}
	}
}
