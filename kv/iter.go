// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package kv

import (
	"bytes"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/bstree"
	"github.com/dacapoday/bstree/btree"
	"github.com/dacapoday/bstree/iterator"
)

// Iterator extends iterator.Iterator with Clone and Close.
type Iterator[Iter iterator.Iterator] interface {
	iterator.Iterator
	// Clone creates an independent copy at the same position.
	Clone() Iter
	// Close releases resources held by the iterator.
	Close()
}

// DBIter is an iterator for file-based KV stores.
type DBIter = Iter[*os.File]

var _ Iterator[DBIter] = DBIter{}

// Iter is a cursor over a KV store.
//
// It holds no node between calls, so the store may change while it is open.
// Each move starts from the key the cursor is on, and the tree hint makes
// that cheap while nothing has been written in between.
type Iter[F File] struct {
	ator *iter[F]
}

type iter[F File] struct {
	kv       *KV[F]
	cursor   btree.Iterator
	key, val []byte
	valid    bool
	err      error
}

// Iter creates a new cursor, positioned nowhere.
func (kv *KV[F]) Iter() Iter[F] {
	return Iter[F]{&iter[F]{kv: kv}}
}

// Clone creates an independent copy at current position.
func (iter Iter[F]) Clone() Iter[F] {
	c := *iter.ator
	c.cursor.Key = bytes.Clone(c.cursor.Key)
	return Iter[F]{&c}
}

// Close releases resources held by the iterator.
func (iter Iter[F]) Close() {
	iter.ator.close()
}

// Valid returns true if positioned at a valid item.
func (iter Iter[F]) Valid() bool {
	return iter.ator.valid
}

// Error returns any error encountered during iteration.
func (iter Iter[F]) Error() error {
	return iter.ator.err
}

// Key returns the current key, or nil if invalid.
func (iter Iter[F]) Key() []byte {
	if !iter.ator.valid {
		return nil
	}
	return iter.ator.key
}

// Val returns the current value, or nil if invalid.
func (iter Iter[F]) Val() []byte {
	if !iter.ator.valid {
		return nil
	}
	return iter.ator.val
}

// Next advances to the next item.
func (iter Iter[F]) Next() bool {
	if !iter.ator.valid {
		return false
	}
	return iter.ator.step(btree.Next)
}

// Prev moves to the previous item.
func (iter Iter[F]) Prev() bool {
	if !iter.ator.valid {
		return false
	}
	return iter.ator.step(btree.Previous)
}

// SeekFirst positions at the first key.
func (iter Iter[F]) SeekFirst() bool {
	return iter.ator.step(btree.First)
}

// SeekLast positions at the last key.
func (iter Iter[F]) SeekLast() bool {
	return iter.ator.step(btree.Last)
}

// Seek positions at the first key >= the given key.
func (iter Iter[F]) Seek(key []byte) bool {
	ator := iter.ator
	ator.cursor = btree.Iterator{Key: append(ator.cursor.Key[:0], key...)}
	if ator.step(btree.Current) || ator.err != nil {
		return ator.valid
	}
	// key sorts after every record of its leaf
	ator.cursor = btree.Iterator{Key: append(ator.cursor.Key[:0], key...)}
	return ator.step(btree.Next)
}

func (ator *iter[F]) close() {
	*ator = iter[F]{}
}

func (ator *iter[F]) step(op btree.Operation) bool {
	ator.valid, ator.err = false, nil
	if ator.kv == nil {
		ator.err = bstree.ErrClosed
		return false
	}
	kv := ator.kv
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if ator.err = kv.check(); ator.err != nil {
		return false
	}

	key, val, err := kv.tree.Iterate(&ator.cursor, op)
	switch {
	case err == nil:
		ator.key, ator.val, ator.valid = key, val, true
	case errors.Is(err, bstree.ErrEndOfIteration),
		errors.Is(err, bstree.ErrStartOfIteration),
		errors.Is(err, bstree.ErrEmpty),
		errors.Is(err, bstree.ErrRecordNotFound):
	default:
		ator.err = err
	}
	return ator.valid
}
