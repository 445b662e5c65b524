// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import "github.com/cockroachdb/errors"

// Hint remembers where an iterator's key was last seen.
// It is only trusted while WriteCount matches the tree's write generation.
type Hint struct {
	WriteCount uint32
	NodeNum    NodeNum
	Index      uint16
	Reserved1  uint16
	Reserved2  uint32
}

// Iterator is a caller-owned position in a tree: a key and a hint to the
// node holding it. Searches, iteration, inserts and replaces refresh it.
type Iterator struct {
	Key  []byte
	Hint Hint

	Version uint16

	// HitCount counts the records visited since the last First or Last.
	HitCount uint32
	// MaxLeafRecs is the largest leaf record count seen while iterating.
	MaxLeafRecs uint32
}

// reset zeroes the hint and the key length.
func (it *Iterator) reset() {
	if it == nil {
		return
	}
	it.Hint = Hint{}
	it.Key = it.Key[:0]
}

func (it *Iterator) setKey(key []byte) {
	it.Key = append(it.Key[:0], key...)
}

// ValidateHint reports whether the hint of it may be used: it was produced
// under the current write generation and names a node. Node 0 is the header,
// so a zero node number never points at a record.
func (tree *Tree) ValidateHint(it *Iterator) bool {
	return it != nil &&
		it.Hint.WriteCount == tree.writeCount &&
		it.Hint.NodeNum != HeaderNode
}

// InvalidateHint clears the node number of the hint of it.
func (tree *Tree) InvalidateHint(it *Iterator) error {
	if it == nil {
		return errors.Wrap(ErrInvalidParameter, "nil iterator")
	}
	it.Hint.NodeNum = 0
	return nil
}
