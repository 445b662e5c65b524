// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"github.com/cockroachdb/errors"

	"github.com/dacapoday/bstree"
)

// Check verifies the descriptor and offset table of n.
func (n Node) Check() error {
	count := n.NumRecords()
	if DescriptorSize+2*(count+1) > len(n) {
		return errors.Wrapf(bstree.ErrInvalidNode, "%d records do not fit a %d byte node", count, len(n))
	}
	switch n.Kind() {
	case Leaf, Index, Header, Map:
	default:
		return errors.Wrapf(bstree.ErrInvalidNode, "unknown kind %d", n.Kind())
	}
	prev := n.offset(0)
	if prev != DescriptorSize {
		return errors.Wrapf(bstree.ErrInvalidNode, "first offset %d", prev)
	}
	limit := len(n) - 2*(count+1)
	for i := 1; i <= count; i++ {
		off := n.offset(i)
		if off < prev || off > limit {
			return errors.Wrapf(bstree.ErrInvalidNode, "offset[%d] = %d out of [%d, %d]", i, off, prev, limit)
		}
		prev = off
	}
	return nil
}

// Check verifies n like Node.Check and then decodes every record key,
// making sure key lengths stay within the record and MaxKeyLength.
func (f Format) Check(n Node) error {
	if err := n.Check(); err != nil {
		return err
	}
	kind := n.Kind()
	if kind != Leaf && kind != Index {
		return nil
	}
	for i := range n.NumRecords() {
		rec := n.RecordAt(i)
		if len(rec) < f.prefix() {
			return errors.Wrapf(bstree.ErrInvalidNode, "record %d truncated", i)
		}
		klen := f.keyLen(rec)
		if klen > f.MaxKeyLength || f.KeySize(klen) > len(rec) {
			return errors.Wrapf(bstree.ErrInvalidNode, "record %d key length %d", i, klen)
		}
		if kind == Index && len(rec) != f.IndexRecordSize(klen) {
			return errors.Wrapf(bstree.ErrInvalidNode, "index record %d size %d", i, len(rec))
		}
	}
	return nil
}
