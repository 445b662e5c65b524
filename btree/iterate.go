// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// Operation selects the record Iterate moves to.
type Operation uint8

const (
	First Operation = iota + 1
	Next
	Previous
	Current
	Last
)

func (op Operation) String() string {
	switch op {
	case First:
		return "first"
	case Next:
		return "next"
	case Previous:
		return "previous"
	case Current:
		return "current"
	case Last:
		return "last"
	default:
		return "invalid"
	}
}

// loopSlack is how many records past the tree's record count iteration may
// visit before the leaf chain is considered looping.
const loopSlack = 10

// locate finds the position of it.Key. The node holding the position is left
// in w.cur, with w.left or w.right possibly holding a sibling. When the key
// is not in the tree the returned index is where it would be inserted.
func (tree *Tree) locate(w *window, it *Iterator) (index int, found bool, err error) {
	if tree.ValidateHint(it) {
		var ok bool
		if index, found, ok, err = tree.locateHint(w, it); err != nil || ok {
			return
		}
	}
	w.drop(&w.left)
	w.drop(&w.cur)
	w.drop(&w.right)
	var path pathTable
	buf, index, found, err := tree.searchTree(it.Key, &path)
	if err != nil {
		return 0, false, err
	}
	w.set(&w.cur, buf)
	return index, found, nil
}

// locateHint tries the hinted node and, when the key falls just outside it,
// the neighbour on that side. ok is false when the tree has to be searched.
func (tree *Tree) locateHint(w *window, it *Iterator) (index int, found, ok bool, err error) {
	num := it.Hint.NodeNum
	buf, err := tree.fetch(num)
	if err != nil {
		if errors.Is(err, ErrInvalidNode) {
			return 0, false, false, nil
		}
		return 0, false, false, err
	}
	w.set(&w.cur, buf)
	n := buf.Node()
	if !n.IsLeaf() {
		return 0, false, false, nil
	}
	if found, index = tree.format.Search(n, it.Key, tree.cmp); found {
		tree.numValidHints++
		return index, true, true, nil
	}
	_ = tree.InvalidateHint(it)

	switch {
	case index == 0:
		prev := n.BLink()
		if prev == 0 {
			return 0, false, true, nil
		}
		// the current node is dropped and fetched again after its left
		// sibling to keep nodes acquired left to right
		w.drop(&w.cur)
		lbuf, err := tree.fetchLeaf(prev)
		if err != nil {
			return 0, false, false, err
		}
		w.set(&w.left, lbuf)
		left := lbuf.Node()
		if left.FLink() != num {
			return 0, false, false, tree.damage(errors.Wrapf(ErrInvalidNode, "leaf %d links forward to %d, not %d", prev, left.FLink(), num))
		}
		if buf, err = tree.fetchLeaf(num); err != nil {
			return 0, false, false, err
		}
		w.set(&w.cur, buf)
		found, lindex := tree.format.Search(left, it.Key, tree.cmp)
		switch {
		case found:
		case lindex == 0:
			return 0, false, false, nil
		case lindex >= left.NumRecords():
			return 0, false, true, nil
		}
		w.move(&w.right, &w.cur)
		w.move(&w.cur, &w.left)
		return lindex, found, true, nil

	case index >= n.NumRecords():
		next := n.FLink()
		if next == 0 {
			return index, false, true, nil
		}
		rbuf, err := tree.fetchLeaf(next)
		if err != nil {
			return 0, false, false, err
		}
		w.set(&w.right, rbuf)
		right := rbuf.Node()
		found, rindex := tree.format.Search(right, it.Key, tree.cmp)
		if !found && (rindex == 0 || rindex >= right.NumRecords()) {
			return 0, false, false, nil
		}
		w.move(&w.left, &w.cur)
		w.move(&w.cur, &w.right)
		return rindex, found, true, nil
	}
	return index, false, true, nil
}

// edge loads the first or last leaf into w.cur.
func (tree *Tree) edge(w *window, op Operation) (index int, err error) {
	num := tree.firstLeafNode
	if op == Last {
		num = tree.lastLeafNode
	}
	if num == 0 {
		return 0, ErrEmpty
	}
	buf, err := tree.fetchLeaf(num)
	if err != nil {
		return 0, err
	}
	w.set(&w.cur, buf)
	if op == Last {
		index = buf.Node().NumRecords() - 1
	}
	return index, nil
}

// stepLeft moves w.cur to its left sibling, reusing w.left when it is loaded.
func (tree *Tree) stepLeft(w *window) error {
	if w.left.buf == nil {
		prev := w.cur.buf.Node().BLink()
		if prev == 0 {
			return ErrStartOfIteration
		}
		num := w.cur.num()
		w.drop(&w.cur)
		lbuf, err := tree.fetchLeaf(prev)
		if err != nil {
			return err
		}
		w.set(&w.left, lbuf)
		buf, err := tree.fetchLeaf(num)
		if err != nil {
			return err
		}
		w.set(&w.cur, buf)
	}
	w.move(&w.right, &w.cur)
	w.move(&w.cur, &w.left)
	return nil
}

// stepRight moves w.cur to its right sibling, reusing w.right when it is loaded.
func (tree *Tree) stepRight(w *window) error {
	if w.right.buf == nil {
		next := w.cur.buf.Node().FLink()
		if next == 0 {
			return ErrEndOfIteration
		}
		buf, err := tree.fetchLeaf(next)
		if err != nil {
			return err
		}
		w.set(&w.right, buf)
	}
	w.move(&w.left, &w.cur)
	w.move(&w.cur, &w.right)
	return nil
}

// position moves w.cur to the record op selects and returns its index.
func (tree *Tree) position(w *window, it *Iterator, op Operation) (index int, err error) {
	switch op {
	case First, Last:
		return tree.edge(w, op)
	case Next, Previous, Current:
	default:
		return 0, errors.Wrapf(ErrInvalidParameter, "operation %d", op)
	}
	if it == nil {
		return 0, errors.Wrapf(ErrInvalidParameter, "%s with nil iterator", op)
	}
	index, found, err := tree.locate(w, it)
	if err != nil {
		return 0, err
	}
	n := w.cur.buf.Node()
	switch op {
	case Current:
		if !found && index >= n.NumRecords() {
			return 0, ErrEndOfIteration
		}
	case Previous:
		if index > 0 {
			index--
			break
		}
		if err = tree.stepLeft(w); err != nil {
			return 0, err
		}
		index = w.cur.buf.Node().NumRecords() - 1
	case Next:
		if !found && index == n.NumRecords() && n.FLink() == 0 {
			return 0, ErrEndOfIteration
		}
		if !found && index < n.NumRecords() {
			break
		}
		if index < n.NumRecords()-1 {
			index++
			break
		}
		if err = tree.stepRight(w); err != nil {
			return 0, err
		}
		index = 0
	}
	if n = w.cur.buf.Node(); index < 0 || index >= n.NumRecords() {
		return 0, tree.damage(errors.Wrapf(ErrInvalidNode, "record %d of %d in node %d", index, n.NumRecords(), w.cur.num()))
	}
	return index, nil
}

// visit records the position of record index of w.cur in it.
func (tree *Tree) visit(w *window, it *Iterator, op Operation, index int, key []byte) error {
	if it == nil {
		return nil
	}
	it.setKey(key)
	it.Hint = Hint{WriteCount: tree.writeCount, NodeNum: w.cur.num(), Index: uint16(index)}
	it.Version = 0
	switch op {
	case First, Last:
		it.HitCount = 1
	case Next, Previous:
		it.HitCount++
	}
	it.MaxLeafRecs = max(it.MaxLeafRecs, tree.leafRecords)
	if tree.loopCheck == LoopCheckOff || it.HitCount <= it.MaxLeafRecs+loopSlack {
		return nil
	}
	err := errors.Wrapf(ErrInvalidNode, "visited %d records of %d, leaf chain loops", it.HitCount, it.MaxLeafRecs)
	if tree.loopCheck == LoopCheckFail {
		return tree.damage(err)
	}
	if it.HitCount == it.MaxLeafRecs+loopSlack+1 {
		tree.log.Warn("btree iteration", zap.Error(err), zap.Uint32("node", w.cur.num()))
	}
	return nil
}

// Iterate moves to the record op selects and returns copies of its key and
// payload.
//
// First and Last ignore the iterator position and may be given a nil
// iterator. Next, Previous and Current work from it.Key, trusting its hint
// when valid; it.Key need not be in the tree. When it is not, Current moves
// to the record after it in the leaf it belongs to, failing with
// ErrEndOfIteration when that leaf has none. On an empty tree First and Last
// fail with ErrEmpty. Moving past either end fails with ErrEndOfIteration or
// ErrStartOfIteration. Any error clears the iterator's hint and key.
func (tree *Tree) Iterate(it *Iterator, op Operation) (key, record []byte, err error) {
	if err = tree.check(); err != nil {
		return
	}
	defer assertUnpinned("Iterate", tree.store)
	w := tree.window()
	defer func() {
		if cerr := w.close(); err == nil {
			err = cerr
		}
		if err != nil {
			it.reset()
			key, record = nil, nil
		}
	}()

	index, err := tree.position(&w, it, op)
	if err != nil {
		return nil, nil, err
	}
	n := w.cur.buf.Node()
	key = bytes.Clone(tree.format.KeyAt(n, index))
	record = bytes.Clone(tree.format.DataAt(n, index))
	err = tree.visit(&w, it, op, index, key)
	return
}

// IterateRecords calls yield for the record op selects and for every record
// after it, in key order for First, Next and Current and in reverse key order
// for Last and Previous. It stops when yield returns false or the leaf chain
// ends, leaving the iterator on the last record passed to yield.
//
// The slices passed to yield alias a pinned node: they are valid only during
// the call, and yield must not call back into the tree.
//
// Reaching either end of the chain is not an error. ErrEmpty is returned for
// First or Last on an empty tree.
func (tree *Tree) IterateRecords(it *Iterator, op Operation, yield func(key, record []byte) bool) (err error) {
	if err = tree.check(); err != nil {
		return
	}
	if yield == nil {
		return errors.Wrap(ErrInvalidParameter, "nil callback")
	}
	defer assertUnpinned("IterateRecords", tree.store)
	w := tree.window()
	defer func() {
		if cerr := w.close(); err == nil {
			err = cerr
		}
		if err != nil {
			it.reset()
		}
	}()

	index, err := tree.position(&w, it, op)
	if op == Current && errors.Is(err, ErrEndOfIteration) {
		index, err = tree.position(&w, it, Next)
	}
	if errors.Is(err, ErrEndOfIteration) || errors.Is(err, ErrStartOfIteration) {
		return nil
	}
	if err != nil {
		return err
	}
	backward := op == Last || op == Previous
	step := op
	for {
		n := w.cur.buf.Node()
		key := tree.format.KeyAt(n, index)
		if err = tree.visit(&w, it, step, index, key); err != nil {
			return err
		}
		if !yield(key, tree.format.DataAt(n, index)) {
			return nil
		}
		if backward {
			step = Previous
			if index--; index >= 0 {
				continue
			}
			prev := n.BLink()
			if prev == 0 {
				return nil
			}
			w.drop(&w.cur)
			buf, err := tree.fetchLeaf(prev)
			if err != nil {
				return err
			}
			w.set(&w.cur, buf)
			index = buf.Node().NumRecords() - 1
		} else {
			step = Next
			if index++; index < n.NumRecords() {
				continue
			}
			next := n.FLink()
			if next == 0 {
				return nil
			}
			w.drop(&w.cur)
			buf, err := tree.fetchLeaf(next)
			if err != nil {
				return err
			}
			w.set(&w.cur, buf)
			index = 0
		}
	}
}
