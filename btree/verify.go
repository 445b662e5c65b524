// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"bytes"
	"math/bits"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/bstree/node"
)

type span struct {
	num    NodeNum
	lo, hi []byte
}

// Verify walks the whole tree level by level and checks sibling links,
// heights, key order against the index records, the denormalized counters
// in the control block and the allocation bitmap. The first inconsistency
// found marks the tree damaged and is returned.
func (tree *Tree) Verify() (err error) {
	if err = tree.check(); err != nil {
		return err
	}
	defer assertUnpinned("Verify", tree.store)

	inTree := make(map[NodeNum]struct{})
	if tree.rootNode == 0 {
		if tree.firstLeafNode != 0 || tree.lastLeafNode != 0 || tree.leafRecords != 0 {
			return tree.damage(errors.Wrapf(ErrInvalidHeader,
				"empty tree with first leaf %d, last leaf %d, %d records", tree.firstLeafNode, tree.lastLeafNode, tree.leafRecords))
		}
		return tree.verifyMap(inTree)
	}

	spans := []span{{num: tree.rootNode}}
	for lvl := tree.treeDepth; lvl >= 1; lvl-- {
		var below []span
		var records uint32
		var prevKey []byte
		for i, s := range spans {
			if _, dup := inTree[s.num]; dup {
				return tree.damage(errors.Wrapf(ErrInvalidNode, "node %d reached twice", s.num))
			}
			inTree[s.num] = struct{}{}
			var prev, next NodeNum
			if i > 0 {
				prev = spans[i-1].num
			}
			if i+1 < len(spans) {
				next = spans[i+1].num
			}
			children, count, err := tree.verifyNode(s, lvl, prev, next, &prevKey)
			if err != nil {
				return tree.damage(err)
			}
			below = append(below, children...)
			records += uint32(count)
		}
		if lvl == 1 {
			switch {
			case spans[0].num != tree.firstLeafNode:
				err = errors.Wrapf(ErrInvalidHeader, "first leaf is %d, header says %d", spans[0].num, tree.firstLeafNode)
			case spans[len(spans)-1].num != tree.lastLeafNode:
				err = errors.Wrapf(ErrInvalidHeader, "last leaf is %d, header says %d", spans[len(spans)-1].num, tree.lastLeafNode)
			case records != tree.leafRecords:
				err = errors.Wrapf(ErrInvalidHeader, "%d leaf records, header says %d", records, tree.leafRecords)
			}
			if err != nil {
				return tree.damage(err)
			}
		}
		spans = below
	}
	return tree.verifyMap(inTree)
}

// verifyNode checks one node of the level walk and returns the spans of its
// children.
func (tree *Tree) verifyNode(s span, lvl int, prev, next NodeNum, prevKey *[]byte) (children []span, count int, err error) {
	buf, err := tree.fetch(s.num)
	if err != nil {
		return nil, 0, err
	}
	defer func() {
		if rerr := tree.store.Release(buf, false); err == nil {
			err = rerr
		}
	}()
	n := buf.Node()
	want := node.Index
	if lvl == 1 {
		want = node.Leaf
	}
	count = n.NumRecords()
	switch {
	case n.Kind() != want || int(n.Height()) != lvl:
		return nil, 0, errors.Wrapf(ErrInvalidNode, "node %d: %s node of height %d at level %d", s.num, n.Kind(), n.Height(), lvl)
	case count == 0:
		return nil, 0, errors.Wrapf(ErrInvalidNode, "node %d is empty", s.num)
	case n.BLink() != prev || n.FLink() != next:
		return nil, 0, errors.Wrapf(ErrInvalidNode, "node %d links %d <- -> %d, want %d <- -> %d", s.num, n.BLink(), n.FLink(), prev, next)
	}
	// the first key of an index node is a hint that inserts before it leave stale
	first := 0
	if lvl > 1 {
		first = 1
	}
	for i := first; i < count; i++ {
		key := tree.format.KeyAt(n, i)
		if *prevKey != nil && tree.cmp(*prevKey, key) >= 0 {
			return nil, 0, errors.Wrapf(ErrInvalidNode, "node %d: key %d out of order", s.num, i)
		}
		*prevKey = bytes.Clone(key)
	}
	if first < count {
		if s.lo != nil && tree.cmp(tree.format.KeyAt(n, first), s.lo) < 0 {
			return nil, 0, errors.Wrapf(ErrInvalidNode, "node %d: first key below its index record", s.num)
		}
		if s.hi != nil && tree.cmp(tree.format.KeyAt(n, count-1), s.hi) >= 0 {
			return nil, 0, errors.Wrapf(ErrInvalidNode, "node %d: last key not below the next index record", s.num)
		}
	}
	if lvl == 1 {
		return nil, count, nil
	}
	children = make([]span, count)
	for i := range count {
		c := span{num: tree.format.ChildAt(n, i), lo: s.lo, hi: s.hi}
		if i > 0 {
			c.lo = bytes.Clone(tree.format.KeyAt(n, i))
		}
		if i+1 < count {
			c.hi = bytes.Clone(tree.format.KeyAt(n, i+1))
		}
		children[i] = c
	}
	return children, count, nil
}

// verifyMap checks that every node of the tree is allocated and that the
// number of allocated nodes matches the free count.
func (tree *Tree) verifyMap(inTree map[NodeNum]struct{}) error {
	var used uint32
	var missing []NodeNum
	_, _, err := tree.walkMap(func(record []byte, base uint32) (bool, bool) {
		for i, b := range record {
			first := base + uint32(i)*8
			if first >= tree.totalNodes {
				return true, false
			}
			if end := first + 8; end > tree.totalNodes {
				b &= ^byte(0xFF >> (tree.totalNodes - first))
			}
			used += uint32(bits.OnesCount8(b))
			for bit := range uint32(8) {
				num := first + bit
				if _, ok := inTree[num]; ok && b&(0x80>>bit) == 0 {
					missing = append(missing, num)
				}
			}
		}
		return false, false
	})
	switch {
	case err != nil:
		return err
	case len(missing) > 0:
		return tree.damage(errors.Wrapf(ErrInvalidNode, "tree nodes %v not allocated", missing))
	case used != tree.totalNodes-tree.freeNodes:
		return tree.damage(errors.Wrapf(ErrInvalidHeader, "%d nodes allocated, header says %d of %d free", used, tree.freeNodes, tree.totalNodes))
	}
	return nil
}
