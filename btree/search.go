// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/bstree/node"
	"github.com/dacapoday/bstree/store"
)

// fetch pins tree node num after checking its number and layout.
func (tree *Tree) fetch(num NodeNum) (*store.Buffer, error) {
	if num == HeaderNode || num >= tree.totalNodes {
		return nil, errors.Wrapf(ErrInvalidNode, "node %d out of range [1, %d)", num, tree.totalNodes)
	}
	buf, err := tree.store.Fetch(num)
	if err != nil {
		return nil, err
	}
	if err = tree.format.Check(buf.Node()); err != nil {
		_ = tree.store.Release(buf, true)
		return nil, errors.Wrapf(err, "node %d", num)
	}
	return buf, nil
}

// fetchLeaf pins num and requires it to be a leaf holding records.
// Anything else means the tree is damaged.
func (tree *Tree) fetchLeaf(num NodeNum) (*store.Buffer, error) {
	buf, err := tree.fetch(num)
	if err != nil {
		return nil, tree.corrupt(err)
	}
	if n := buf.Node(); !n.IsLeaf() || n.Height() != 1 {
		_ = tree.store.Release(buf, true)
		return nil, tree.damage(errors.Wrapf(ErrInvalidNode,
			"node %d: %s node of height %d with %d records in the leaf chain", num, n.Kind(), n.Height(), n.NumRecords()))
	}
	return buf, nil
}

// searchTree descends from the root to the leaf where key is or belongs,
// recording the path. The leaf is returned pinned. An empty tree reports
// ErrEmpty.
func (tree *Tree) searchTree(key []byte, path *pathTable) (buf *store.Buffer, index int, found bool, err error) {
	if tree.rootNode == 0 || tree.treeDepth == 0 {
		return nil, 0, false, ErrEmpty
	}
	num := tree.rootNode
	for lvl := tree.treeDepth; ; lvl-- {
		if buf, err = tree.fetch(num); err != nil {
			return nil, 0, false, tree.corrupt(err)
		}
		n := buf.Node()
		want := node.Index
		if lvl == 1 {
			want = node.Leaf
		}
		if n.Kind() != want || int(n.Height()) != lvl || n.NumRecords() == 0 {
			_ = tree.store.Release(buf, true)
			return nil, 0, false, tree.damage(errors.Wrapf(ErrInvalidNode,
				"node %d: %s node of height %d with %d records at level %d", num, n.Kind(), n.Height(), n.NumRecords(), lvl))
		}
		if lvl == 1 {
			found, index = tree.format.Search(n, key, tree.cmp)
			path[1] = level{Node: num, Index: index}
			return buf, index, found, nil
		}
		index = tree.format.ChildIndex(n, key, tree.cmp)
		path[lvl] = level{Node: num, Index: index}
		child := tree.format.ChildAt(n, index)
		if err = tree.store.Release(buf, false); err != nil {
			return nil, 0, false, err
		}
		num = child
	}
}

// probe looks key up in node num without descending. It succeeds only when
// num is a leaf holding key; the leaf is then returned pinned. Failures to
// read the node count as a miss.
func (tree *Tree) probe(num NodeNum, key []byte) (*store.Buffer, int, bool) {
	buf, err := tree.fetch(num)
	if err != nil {
		return nil, 0, false
	}
	if n := buf.Node(); n.IsLeaf() {
		if found, index := tree.format.Search(n, key, tree.cmp); found {
			return buf, index, true
		}
	}
	_ = tree.store.Release(buf, false)
	return nil, 0, false
}

// Search looks up search.Key and returns a copy of its record.
//
// The hint of search is tried first, then the heuristic node when it is
// nonzero, then a descent from the root. On success result holds the stored
// key and a hint to it. When the key is missing Search returns
// ErrRecordNotFound and result holds the search key with a hint to where it
// would be inserted. result may be search.
func (tree *Tree) Search(search *Iterator, heuristic NodeNum, result *Iterator) (record []byte, err error) {
	if err = tree.check(); err != nil {
		return nil, err
	}
	if search == nil || result == nil {
		return nil, errors.Wrap(ErrInvalidParameter, "nil iterator")
	}
	defer assertUnpinned("Search", tree.store)
	w := tree.window()
	defer func() {
		if cerr := w.close(); err == nil {
			err = cerr
		}
		if err != nil && !errors.Is(err, ErrRecordNotFound) {
			result.reset()
		}
	}()

	key := bytes.Clone(search.Key)
	var index int
	found := false
	hinted := NodeNum(0)
	if tree.ValidateHint(search) {
		hinted = search.Hint.NodeNum
		var buf *store.Buffer
		if buf, index, found = tree.probe(hinted, key); found {
			w.set(&w.cur, buf)
			tree.numValidHints++
		} else {
			_ = tree.InvalidateHint(search)
		}
	}
	if !found && heuristic != HeaderNode && heuristic != hinted {
		var buf *store.Buffer
		if buf, index, found = tree.probe(heuristic, key); found {
			w.set(&w.cur, buf)
		}
	}
	if !found {
		var path pathTable
		var buf *store.Buffer
		buf, index, found, err = tree.searchTree(key, &path)
		if err != nil {
			if errors.Is(err, ErrEmpty) {
				result.setKey(key)
				result.Hint = Hint{WriteCount: tree.writeCount}
			}
			return nil, canonical(err)
		}
		w.set(&w.cur, buf)
	}

	n := w.cur.buf.Node()
	result.Hint = Hint{WriteCount: tree.writeCount, NodeNum: w.cur.num(), Index: uint16(index)}
	if !found {
		result.setKey(key)
		return nil, ErrRecordNotFound
	}
	result.setKey(tree.format.KeyAt(n, index))
	return bytes.Clone(tree.format.DataAt(n, index)), nil
}
