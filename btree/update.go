// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"bytes"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/bstree/node"
	"github.com/dacapoday/bstree/store"
)

func (tree *Tree) checkInsertParams(it *Iterator, record []byte) error {
	if err := tree.writable(); err != nil {
		return err
	}
	if it == nil {
		return errors.Wrap(ErrInvalidParameter, "nil iterator")
	}
	if klen := len(it.Key); klen == 0 || klen > tree.maxKeyLength {
		return errors.Wrapf(ErrInvalidKeyLength, "key of %d bytes, limit %d", klen, tree.maxKeyLength)
	}
	if size := tree.format.LeafRecordSize(len(it.Key), len(record)); size > tree.nodeSize/2 {
		return errors.Wrapf(ErrRecordTooLarge, "record of %d bytes, limit %d", size, tree.nodeSize/2)
	}
	return nil
}

// Insert adds it.Key with record. The key must not be in the tree.
// On success the hint of it points at the leaf now holding the record.
func (tree *Tree) Insert(it *Iterator, record []byte) (err error) {
	if err = tree.checkInsertParams(it, record); err != nil {
		return err
	}
	defer assertUnpinned("Insert", tree.store)
	w := tree.window()
	defer func() {
		if cerr := w.close(); err == nil {
			err = cerr
		}
		if err != nil {
			it.Hint = Hint{}
		}
	}()

	rec := tree.format.LeafRecord(it.Key, record)
	var path pathTable
	buf, index, found, err := tree.searchTree(it.Key, &path)
	switch {
	case errors.Is(err, ErrEmpty):
		return tree.insertFirst(it, rec)
	case err != nil:
		return err
	}
	w.set(&w.cur, buf)
	if found {
		return ErrDuplicateRecord
	}

	num := buf.Num()
	if index > 0 && buf.Node().Insert(index, rec) {
		buf.MarkDirty()
	} else {
		if err = tree.reserve(uint32(tree.treeDepth) + 1); err != nil {
			return err
		}
		if num, err = tree.structuralInsert(&w, &path, index, rec); err != nil {
			return err
		}
	}
	tree.writeCount++
	tree.leafRecords++
	tree.dirty = true
	it.Hint = Hint{WriteCount: tree.writeCount, NodeNum: num}
	return nil
}

// insertFirst makes a single leaf holding rec the whole tree.
func (tree *Tree) insertFirst(it *Iterator, rec []byte) error {
	num, err := tree.allocateNode()
	if err != nil {
		return err
	}
	buf := tree.store.New(num)
	n := buf.Node()
	n.Init(node.Leaf, 1)
	// records are at most half a node
	n.Insert(0, rec)
	if err = tree.store.Release(buf, false); err != nil {
		return err
	}
	tree.treeDepth = 1
	tree.rootNode = num
	tree.firstLeafNode = num
	tree.lastLeafNode = num
	tree.writeCount++
	tree.leafRecords++
	tree.dirty = true
	it.Hint = Hint{WriteCount: tree.writeCount, NodeNum: num}
	return nil
}

// trySimpleReplace overwrites record index of buf in place when the node
// can hold the new version.
func (tree *Tree) trySimpleReplace(buf *store.Buffer, index int, rec []byte) bool {
	n := buf.Node()
	old := n.RecordSize(index)
	switch {
	case len(rec) == old:
		n.Overwrite(index, rec)
	case len(rec) <= n.FreeSize()+old:
		n.Delete(index)
		if !n.Insert(index, rec) {
			panic(errors.AssertionFailedf("record of %d bytes does not fit after freeing %d", len(rec), old))
		}
	default:
		return false
	}
	buf.MarkDirty()
	return true
}

// Replace swaps the record stored under it.Key for record. The key must be
// in the tree. A replacement that fits the leaf keeps the write generation,
// so other hints stay valid.
func (tree *Tree) Replace(it *Iterator, record []byte) (err error) {
	if err = tree.checkInsertParams(it, record); err != nil {
		return err
	}
	defer assertUnpinned("Replace", tree.store)
	w := tree.window()
	defer func() {
		if cerr := w.close(); err == nil {
			err = cerr
		}
		if err != nil {
			it.Hint = Hint{}
			err = canonical(err)
		}
	}()

	rec := tree.format.LeafRecord(it.Key, record)
	if tree.ValidateHint(it) {
		if buf, index, ok := tree.probe(it.Hint.NodeNum, it.Key); ok {
			w.set(&w.cur, buf)
			if tree.trySimpleReplace(buf, index, rec) {
				tree.numValidHints++
				it.Hint = Hint{WriteCount: tree.writeCount, NodeNum: buf.Num()}
				return nil
			}
			w.drop(&w.cur)
		}
	}

	var path pathTable
	buf, index, found, err := tree.searchTree(it.Key, &path)
	if err != nil {
		return err
	}
	w.set(&w.cur, buf)
	if !found {
		return ErrRecordNotFound
	}
	num := buf.Num()
	if !tree.trySimpleReplace(buf, index, rec) {
		if err = tree.reserve(uint32(tree.treeDepth) + 1); err != nil {
			return err
		}
		old := bytes.Clone(buf.Node().RecordAt(index))
		buf.Node().Delete(index)
		buf.MarkDirty()
		if num, err = tree.structuralInsert(&w, &path, index, rec); err != nil {
			if errors.Is(err, ErrDamaged) {
				return errors.Wrap(err, "reinsert replaced record")
			}
			return tree.restoreRecord(path[1].Node, it.Key, old, err)
		}
		tree.writeCount++
		tree.dirty = true
	}
	it.Hint = Hint{WriteCount: tree.writeCount, NodeNum: num}
	return nil
}

// restoreRecord puts rec, the record of key, back into leaf num after a
// failed reinsert left the leaf untouched, and returns cause. The tree is
// damaged when rec cannot be put back.
func (tree *Tree) restoreRecord(num NodeNum, key, rec []byte, cause error) error {
	buf, err := tree.fetchLeaf(num)
	if err != nil {
		return tree.damage(errors.Wrapf(err, "restore replaced record after: %v", cause))
	}
	n := buf.Node()
	if found, index := tree.format.Search(n, key, tree.cmp); !found {
		if !n.Insert(index, rec) {
			_ = tree.store.Release(buf, false)
			return tree.damage(errors.Wrapf(cause, "replaced record %q lost", key))
		}
		buf.MarkDirty()
	}
	if err = tree.store.Release(buf, false); err != nil {
		return tree.damage(errors.Wrapf(err, "restore replaced record after: %v", cause))
	}
	return cause
}

// Delete removes it.Key from the tree. The hint of it is invalidated.
func (tree *Tree) Delete(it *Iterator) (err error) {
	if err = tree.writable(); err != nil {
		return err
	}
	if it == nil {
		return errors.Wrap(ErrInvalidParameter, "nil iterator")
	}
	defer assertUnpinned("Delete", tree.store)
	w := tree.window()
	defer func() {
		if cerr := w.close(); err == nil {
			err = cerr
		}
		if err != nil {
			it.Hint = Hint{}
			err = canonical(err)
		}
	}()

	var path pathTable
	buf, index, found, err := tree.searchTree(it.Key, &path)
	if err != nil {
		return err
	}
	w.set(&w.cur, buf)
	if !found {
		return ErrRecordNotFound
	}
	if err = tree.structuralDelete(&w, &path, index); err != nil {
		return err
	}
	tree.writeCount++
	tree.leafRecords--
	tree.dirty = true
	return tree.InvalidateHint(it)
}
