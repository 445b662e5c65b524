// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/bstree/node"
	"github.com/dacapoday/bstree/store"
)

// Index records carry the first key of their child as a lower bound: every
// key in the child is >= the key of its record and < the key of the next
// record. The key of record 0 of an index node is only a hint, so inserting
// at the front of a leaf never has to touch its ancestors.

// structuralInsert inserts rec at index of the leaf held by w.cur, splitting
// nodes bottom-up along path until a level absorbs the new separators. A
// split of the root grows the tree by one level. It returns the leaf that
// received rec.
func (tree *Tree) structuralInsert(w *window, path *pathTable, index int, rec []byte) (target NodeNum, err error) {
	buf := w.take(&w.cur)
	recs := [][]byte{rec}
	for lvl := 1; ; lvl++ {
		if insertAll(buf.Node(), index, recs) {
			buf.MarkDirty()
			if lvl == 1 {
				target = buf.Num()
			}
			return target, tree.store.Release(buf, false)
		}

		nodes, holder, err := tree.split(buf, index, recs)
		if err != nil {
			_ = tree.store.Release(buf, false)
			if lvl > 1 {
				err = tree.damage(errors.Wrapf(err, "split level %d", lvl))
			}
			return 0, err
		}
		if lvl == 1 {
			target = nodes[holder].Num()
		}
		seps := make([][]byte, 0, len(nodes))
		for _, nb := range nodes {
			seps = append(seps, tree.format.IndexRecord(tree.format.KeyAt(nb.Node(), 0), nb.Num()))
		}
		for _, nb := range nodes {
			if rerr := tree.store.Release(nb, false); rerr != nil && err == nil {
				err = rerr
			}
		}
		if err != nil {
			return 0, tree.damage(errors.Wrapf(err, "write split level %d", lvl))
		}

		if lvl == tree.treeDepth {
			return target, tree.growRoot(seps)
		}
		up := path[lvl+1]
		if buf, err = tree.fetch(up.Node); err != nil {
			return 0, tree.damage(errors.Wrapf(err, "parent of level %d", lvl))
		}
		index = up.Index + 1
		recs = seps[1:]
	}
}

// insertAll inserts recs at consecutive positions from index when they all fit.
func insertAll(n node.Node, index int, recs [][]byte) bool {
	size := 0
	for _, rec := range recs {
		size += len(rec) + 2
	}
	if size > n.FreeSize() {
		return false
	}
	for i, rec := range recs {
		n.Insert(index+i, rec)
	}
	return true
}

// split redistributes the records of buf, with recs spliced in at index,
// over buf and as many new right siblings as needed. All nodes are returned
// pinned, buf first; holder is the position of the node holding recs[0].
// buf is left untouched when new nodes cannot be allocated.
func (tree *Tree) split(buf *store.Buffer, index int, recs [][]byte) (nodes []*store.Buffer, holder int, err error) {
	n := buf.Node()
	count := n.NumRecords()
	all := make([][]byte, 0, count+len(recs))
	for i := range index {
		all = append(all, bytes.Clone(n.RecordAt(i)))
	}
	all = append(all, recs...)
	for i := index; i < count; i++ {
		all = append(all, bytes.Clone(n.RecordAt(i)))
	}
	capacity := len(n) - node.DescriptorSize - 2

	var plan []int
	if index == count && n.FLink() == 0 && recordsSize(recs) <= capacity {
		// appending at the right edge of a level: keep buf full
		plan = []int{count, len(recs)}
	} else if plan = planSplit(all, capacity); plan == nil {
		return nil, 0, errors.Wrapf(ErrRecordTooLarge, "records do not fit a %d byte node", len(n))
	}

	nums := make([]NodeNum, 0, len(plan)-1)
	for range len(plan) - 1 {
		num, err := tree.allocateNode()
		if err != nil {
			for _, num := range nums {
				_ = tree.freeNode(num)
			}
			return nil, 0, err
		}
		nums = append(nums, num)
	}

	kind, height := n.Kind(), n.Height()
	prev, next := n.BLink(), n.FLink()
	nodes = append(make([]*store.Buffer, 0, len(plan)), buf)
	for _, num := range nums {
		nodes = append(nodes, tree.store.New(num))
	}
	k := 0
	for i, cnt := range plan {
		nn := nodes[i].Node()
		nn.Init(kind, height)
		for j := range cnt {
			if k == index {
				holder = i
			}
			nn.Insert(j, all[k])
			k++
		}
		nodes[i].MarkDirty()
	}
	for i, nb := range nodes {
		nn := nb.Node()
		if i == 0 {
			nn.SetBLink(prev)
		} else {
			nn.SetBLink(nodes[i-1].Num())
		}
		if i == len(nodes)-1 {
			nn.SetFLink(next)
		} else {
			nn.SetFLink(nodes[i+1].Num())
		}
	}

	last := nodes[len(nodes)-1].Num()
	switch {
	case next != 0:
		if err = tree.relink(next, last, false); err != nil {
			for _, nb := range nodes[1:] {
				_ = tree.store.Release(nb, false)
			}
			return nil, 0, tree.damage(errors.Wrapf(err, "relink node %d", next))
		}
	case kind == node.Leaf:
		tree.lastLeafNode = last
		tree.dirty = true
	}
	return nodes, holder, nil
}

func recordsSize(recs [][]byte) int {
	size := 0
	for _, rec := range recs {
		size += len(rec) + 2
	}
	return size
}

// planSplit partitions records, in order, into nodes of capacity bytes and
// returns the record count of each node. It prefers two nodes as evenly
// filled as possible and falls back to filling nodes left to right. It
// returns nil when a single record exceeds capacity.
func planSplit(records [][]byte, capacity int) []int {
	total := 0
	for _, rec := range records {
		if len(rec)+2 > capacity {
			return nil
		}
		total += len(rec) + 2
	}
	best, bestCost := 0, 0
	left := 0
	for p := 1; p < len(records); p++ {
		left += len(records[p-1]) + 2
		if left > capacity {
			break
		}
		right := total - left
		if right > capacity {
			continue
		}
		cost := left - right
		if cost < 0 {
			cost = -cost
		}
		if best == 0 || cost < bestCost {
			best, bestCost = p, cost
		}
	}
	if best > 0 {
		return []int{best, len(records) - best}
	}
	var plan []int
	used, cnt := 0, 0
	for _, rec := range records {
		if used+len(rec)+2 > capacity {
			plan = append(plan, cnt)
			used, cnt = 0, 0
		}
		used += len(rec) + 2
		cnt++
	}
	return append(plan, cnt)
}

// growRoot puts a new root above the old one holding seps, the index records
// of the old root and its new siblings.
func (tree *Tree) growRoot(seps [][]byte) error {
	if tree.treeDepth >= maxTreeDepth {
		return tree.damage(errors.Wrapf(ErrOutOfSpace, "tree depth %d", tree.treeDepth))
	}
	num, err := tree.allocateNode()
	if err != nil {
		return tree.damage(errors.Wrap(err, "allocate root"))
	}
	buf := tree.store.New(num)
	n := buf.Node()
	n.Init(node.Index, uint8(tree.treeDepth+1))
	if !insertAll(n, 0, seps) {
		_ = tree.store.Release(buf, true)
		return tree.damage(errors.Wrapf(ErrInvalidNode, "%d index records do not fit a new root", len(seps)))
	}
	if err = tree.store.Release(buf, false); err != nil {
		return err
	}
	tree.rootNode = num
	tree.treeDepth++
	tree.dirty = true
	return nil
}

// relink points the backward (or forward) link of node num at to.
func (tree *Tree) relink(num, to NodeNum, forward bool) error {
	buf, err := tree.fetch(num)
	if err != nil {
		return tree.damage(errors.Wrapf(err, "sibling %d", num))
	}
	if forward {
		buf.Node().SetFLink(to)
	} else {
		buf.Node().SetBLink(to)
	}
	buf.MarkDirty()
	return tree.store.Release(buf, false)
}

// structuralDelete removes record index from the leaf held by w.cur. Nodes
// left empty are unlinked and freed and their parent record removed in turn,
// a node at most half full is merged into its left sibling under the same
// parent, and a root left with a single child is replaced by that child.
func (tree *Tree) structuralDelete(w *window, path *pathTable, index int) (err error) {
	buf := w.take(&w.cur)
	for lvl := 1; ; lvl++ {
		n := buf.Node()
		num := buf.Num()
		n.Delete(index)
		buf.MarkDirty()

		if lvl == tree.treeDepth {
			switch {
			case n.NumRecords() == 0:
				if err = tree.store.Release(buf, false); err != nil {
					return err
				}
				if err = tree.freeNode(num); err != nil {
					return err
				}
				tree.rootNode = 0
				tree.treeDepth = 0
				tree.firstLeafNode = 0
				tree.lastLeafNode = 0
				tree.dirty = true
				return nil
			case lvl > 1 && n.NumRecords() == 1:
				if err = tree.store.Release(buf, false); err != nil {
					return err
				}
				return tree.collapse()
			}
			return tree.store.Release(buf, false)
		}

		up := path[lvl+1]
		if n.NumRecords() > 0 {
			merged, err := tree.merge(buf, up)
			if err != nil || !merged {
				if rerr := tree.store.Release(buf, false); err == nil {
					err = rerr
				}
				return err
			}
		}
		if err = tree.unlink(buf); err != nil {
			_ = tree.store.Release(buf, false)
			return err
		}
		if err = tree.store.Release(buf, true); err != nil {
			return err
		}
		if err = tree.freeNode(num); err != nil {
			return err
		}
		if buf, err = tree.fetch(up.Node); err != nil {
			return tree.damage(errors.Wrapf(err, "parent of level %d", lvl))
		}
		index = up.Index
	}
}

// merge moves every record of buf into its left sibling when buf is at most
// half full and the sibling shares its parent and has room. It reports
// whether buf was emptied.
//
// The first record of an index node only hints at its key. Before index
// records move, the first one takes the key of the parent record, the real
// lower bound of buf.
func (tree *Tree) merge(buf *store.Buffer, up level) (bool, error) {
	n := buf.Node()
	if up.Index == 0 || n.UsedSize() > (len(n)-node.DescriptorSize)/2 {
		return false, nil
	}
	prev := n.BLink()
	if prev == 0 {
		return false, tree.damage(errors.Wrapf(ErrInvalidNode, "node %d is child %d without a left sibling", buf.Num(), up.Index))
	}
	var first []byte
	if n.Kind() == node.Index {
		pbuf, err := tree.fetch(up.Node)
		if err != nil {
			return false, tree.damage(errors.Wrapf(err, "parent of %d", buf.Num()))
		}
		key := tree.format.KeyAt(pbuf.Node(), up.Index)
		first = tree.format.IndexRecord(key, tree.format.ChildAt(n, 0))
		if err = tree.store.Release(pbuf, false); err != nil {
			return false, err
		}
	}
	lbuf, err := tree.fetch(prev)
	if err != nil {
		return false, tree.damage(errors.Wrapf(err, "left sibling of %d", buf.Num()))
	}
	left := lbuf.Node()
	if left.Kind() != n.Kind() || left.Height() != n.Height() || left.FLink() != buf.Num() {
		_ = tree.store.Release(lbuf, false)
		return false, tree.damage(errors.Wrapf(ErrInvalidNode, "node %d and left sibling %d disagree", buf.Num(), prev))
	}
	need := n.UsedSize()
	if first != nil {
		need += len(first) - n.RecordSize(0)
	}
	if need > left.FreeSize() {
		return false, tree.store.Release(lbuf, false)
	}
	if first != nil {
		n.Delete(0)
		n.Insert(0, first)
	}
	moved := n.MoveTo(left, 0)
	if moved {
		lbuf.MarkDirty()
	}
	return moved, tree.store.Release(lbuf, false)
}

// unlink removes buf from the sibling chain of its level.
func (tree *Tree) unlink(buf *store.Buffer) error {
	n := buf.Node()
	prev, next := n.BLink(), n.FLink()
	leaf := n.Kind() == node.Leaf
	if prev != 0 {
		if err := tree.relink(prev, next, true); err != nil {
			return err
		}
	} else if leaf {
		tree.firstLeafNode = next
	}
	if next != 0 {
		if err := tree.relink(next, prev, false); err != nil {
			return err
		}
	} else if leaf {
		tree.lastLeafNode = prev
	}
	tree.dirty = true
	return nil
}

// collapse replaces a root holding a single child by that child until the
// root has two children or is a leaf.
func (tree *Tree) collapse() error {
	for tree.treeDepth > 1 {
		buf, err := tree.fetch(tree.rootNode)
		if err != nil {
			return tree.corrupt(err)
		}
		n := buf.Node()
		if n.NumRecords() != 1 {
			return tree.store.Release(buf, false)
		}
		old, child := tree.rootNode, tree.format.ChildAt(n, 0)
		if err = tree.store.Release(buf, true); err != nil {
			return err
		}
		if err = tree.freeNode(old); err != nil {
			return err
		}
		tree.rootNode = child
		tree.treeDepth--
		tree.dirty = true
	}
	return nil
}
