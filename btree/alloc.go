// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"math"
	"math/bits"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dacapoday/bstree/node"
)

// The allocation bitmap starts in the map record of the header node and
// continues in map nodes chained through fLink. Bit n, most significant bit
// first, is set while node n is in use.

// walkMap calls fn with every map record in chain order and the number of
// the node its first bit stands for. fn reports whether to stop and whether
// it modified the record. walkMap returns the last map node visited and the
// number of bits seen so far.
func (tree *Tree) walkMap(fn func(bits []byte, base uint32) (stop, dirty bool)) (last NodeNum, total uint32, err error) {
	num := HeaderNode
	for hops := uint32(0); ; hops++ {
		buf, err := tree.store.Fetch(num)
		if err != nil {
			return last, total, errors.Wrapf(tree.corrupt(err), "fetch map node %d", num)
		}
		n := buf.Node()
		var record []byte
		if num == HeaderNode {
			record = n[mapRecordOffset : mapRecordOffset+mapRecordSize(len(n))]
		} else {
			if err = n.Check(); err == nil && (n.Kind() != node.Map || n.NumRecords() != 1) {
				err = errors.Wrapf(ErrInvalidNode, "%s node with %d records in map chain", n.Kind(), n.NumRecords())
			}
			if err != nil {
				_ = tree.store.Release(buf, true)
				return last, total, tree.damage(errors.Wrapf(err, "map node %d", num))
			}
			record = n.RecordAt(0)
		}
		var stop, dirty bool
		if fn != nil {
			stop, dirty = fn(record, total)
		}
		total += uint32(len(record)) * 8
		next := n.FLink()
		if dirty {
			buf.MarkDirty()
		}
		if err = tree.store.Release(buf, false); err != nil {
			return last, total, err
		}
		last = num
		if stop || next == 0 {
			return last, total, nil
		}
		if next >= tree.totalNodes || hops >= tree.totalNodes {
			return last, total, tree.damage(errors.Wrapf(ErrInvalidNode, "map chain links node %d to %d", num, next))
		}
		num = next
	}
}

// mapBits returns the number of nodes the bitmap can describe.
func (tree *Tree) mapBits() (uint32, error) {
	_, total, err := tree.walkMap(nil)
	return total, err
}

// markNode sets or clears the bitmap bit of node num.
func (tree *Tree) markNode(num NodeNum, used bool) error {
	found := false
	var conflict bool
	_, _, err := tree.walkMap(func(record []byte, base uint32) (bool, bool) {
		if num >= base+uint32(len(record))*8 {
			return false, false
		}
		found = true
		i := num - base
		mask := byte(0x80) >> (i % 8)
		if (record[i/8]&mask != 0) == used {
			conflict = true
			return true, false
		}
		record[i/8] ^= mask
		return true, true
	})
	switch {
	case err != nil:
		return err
	case !found:
		return tree.damage(errors.Wrapf(ErrInvalidNode, "node %d beyond the allocation bitmap", num))
	case conflict && used:
		return tree.damage(errors.Wrapf(ErrInvalidNode, "node %d already in use", num))
	case conflict:
		return tree.damage(errors.Wrapf(ErrInvalidNode, "node %d already free", num))
	}
	return nil
}

// allocateNode takes the lowest free node, extending the file when none is
// left.
func (tree *Tree) allocateNode() (num NodeNum, err error) {
	if tree.freeNodes == 0 {
		if err = tree.extend(tree.totalNodes + 1); err != nil {
			return 0, err
		}
	}
	found := false
	_, _, err = tree.walkMap(func(record []byte, base uint32) (bool, bool) {
		for i, b := range record {
			if b == 0xFF {
				continue
			}
			bit := uint32(bits.LeadingZeros8(^b))
			n := base + uint32(i)*8 + bit
			if n >= tree.totalNodes {
				return true, false
			}
			record[i] |= byte(0x80) >> bit
			num, found = n, true
			return true, true
		}
		return false, false
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, tree.damage(errors.Wrapf(ErrInvalidNode, "allocation bitmap is full with %d nodes free", tree.freeNodes))
	}
	tree.freeNodes--
	tree.dirty = true
	return num, nil
}

// freeNode returns node num to the bitmap and zeroes it on disk, so stale
// hints to it fail node validation. The caller must not hold it pinned.
func (tree *Tree) freeNode(num NodeNum) error {
	if num == HeaderNode || num >= tree.totalNodes {
		return errors.AssertionFailedf("free node %d of %d", num, tree.totalNodes)
	}
	if err := tree.markNode(num, false); err != nil {
		return err
	}
	tree.freeNodes++
	tree.dirty = true
	return tree.store.Release(tree.store.New(num), true)
}

// reserve makes sure at least needed nodes are free, extending the file when
// they are not. One more node is asked for when the bitmap has to grow.
func (tree *Tree) reserve(needed uint32) error {
	if needed <= tree.freeNodes {
		return nil
	}
	total := uint64(tree.totalNodes) + uint64(needed-tree.freeNodes)
	have, err := tree.mapBits()
	if err != nil {
		return err
	}
	if total > uint64(have) {
		total++
	}
	if total > math.MaxUint32 {
		return errors.Wrapf(ErrOutOfSpace, "%d nodes", total)
	}
	return tree.extend(uint32(total))
}

// extend grows the file to hold at least minNodes nodes. Growth is rounded up
// to the clump size. Map nodes are added at the start of the new range when
// the bitmap is too short.
func (tree *Tree) extend(minNodes uint32) error {
	if minNodes <= tree.totalNodes {
		return nil
	}
	size := int64(tree.nodeSize)
	fileSize, err := tree.store.FileSize()
	if err != nil {
		return err
	}
	want := int64(minNodes) * size
	if grow := want - fileSize; grow > 0 && grow < int64(tree.clumpSize) {
		want = fileSize + int64(tree.clumpSize)
	}
	want = max(want, fileSize/size*size)
	newTotal := uint32(min((want+size-1)/size, math.MaxUint32))
	if newTotal < minNodes {
		return errors.Wrapf(ErrOutOfSpace, "extend to %d nodes", minNodes)
	}
	if err = tree.store.Grow(newTotal); err != nil {
		return mark(errors.Wrapf(err, "extend to %d nodes", newTotal), ErrOutOfSpace)
	}

	last, have, err := tree.walkMap(nil)
	if err != nil {
		return err
	}
	oldTotal := tree.totalNodes
	tree.totalNodes = newTotal
	var added []NodeNum
	for next := oldTotal; have < newTotal; next++ {
		if next >= newTotal {
			return tree.damage(errors.Wrapf(ErrOutOfSpace, "no room for map node extending to %d nodes", newTotal))
		}
		buf := tree.store.New(next)
		n := buf.Node()
		n.Init(node.Map, 0)
		n.Insert(0, make([]byte, mapNodeRecordSize(len(n))))
		if err = tree.store.Release(buf, false); err != nil {
			return err
		}
		prev, err := tree.store.Fetch(last)
		if err != nil {
			return err
		}
		prev.Node().SetFLink(next)
		prev.MarkDirty()
		if err = tree.store.Release(prev, false); err != nil {
			return err
		}
		last = next
		have += uint32(mapNodeRecordSize(tree.nodeSize)) * 8
		added = append(added, next)
	}
	tree.freeNodes += newTotal - oldTotal
	tree.dirty = true
	for _, num := range added {
		if err = tree.markNode(num, true); err != nil {
			return err
		}
		tree.freeNodes--
	}
	tree.log.Debug("btree extended",
		zap.Uint32("from", oldTotal),
		zap.Uint32("to", newTotal),
		zap.Int("mapNodes", len(added)))
	return nil
}

// ReserveSpace extends the tree ahead of time so that the next n inserts do
// not need to grow the file.
func (tree *Tree) ReserveSpace(n int) error {
	if err := tree.writable(); err != nil {
		return err
	}
	if n < 0 {
		return errors.Wrapf(ErrInvalidParameter, "reserve %d inserts", n)
	}
	needed := uint64(n) * uint64(tree.treeDepth+1)
	if needed > math.MaxUint32 {
		return errors.Wrapf(ErrOutOfSpace, "reserve %d nodes", needed)
	}
	return tree.reserve(uint32(needed))
}
