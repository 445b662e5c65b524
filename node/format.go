// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package node

import (
	"encoding/binary"
	"sort"

	"github.com/dacapoday/bstree"
)

// Format describes how keys are encoded in the records of one tree.
//
// A record starts with its key: a length prefix (one byte, two with BigKeys)
// followed by the key bytes. Leaf records continue with the payload, index
// records with the child node number. Without VariableIndexKeys every index
// key occupies MaxKeyLength bytes whatever its real length.
type Format struct {
	MaxKeyLength      int
	BigKeys           bool
	VariableIndexKeys bool
}

func (f Format) prefix() int {
	if f.BigKeys {
		return 2
	}
	return 1
}

// KeySize returns the bytes taken by a key of klen bytes, prefix included.
func (f Format) KeySize(klen int) int {
	return f.prefix() + klen
}

// LeafRecordSize returns the size of a leaf record.
func (f Format) LeafRecordSize(klen, dlen int) int {
	return f.KeySize(klen) + dlen
}

// IndexRecordSize returns the size of an index record.
func (f Format) IndexRecordSize(klen int) int {
	if !f.VariableIndexKeys {
		klen = f.MaxKeyLength
	}
	return f.KeySize(klen) + 4
}

func (f Format) putKey(rec, key []byte) int {
	if f.BigKeys {
		binary.BigEndian.PutUint16(rec, uint16(len(key)))
	} else {
		rec[0] = byte(len(key))
	}
	return f.prefix() + copy(rec[f.prefix():], key)
}

// LeafRecord encodes a leaf record.
func (f Format) LeafRecord(key, data []byte) []byte {
	rec := make([]byte, f.LeafRecordSize(len(key), len(data)))
	copy(rec[f.putKey(rec, key):], data)
	return rec
}

// IndexRecord encodes an index record pointing at child.
func (f Format) IndexRecord(key []byte, child NodeNum) []byte {
	rec := make([]byte, f.IndexRecordSize(len(key)))
	f.putKey(rec, key)
	binary.BigEndian.PutUint32(rec[len(rec)-4:], child)
	return rec
}

func (f Format) keyLen(rec []byte) int {
	if f.BigKeys {
		return int(binary.BigEndian.Uint16(rec))
	}
	return int(rec[0])
}

// Key returns the key of an encoded record.
func (f Format) Key(rec []byte) []byte {
	p := f.prefix()
	return rec[p : p+f.keyLen(rec)]
}

// Data returns the payload of an encoded leaf record.
func (f Format) Data(rec []byte) []byte {
	return rec[f.KeySize(f.keyLen(rec)):]
}

// Child returns the child node number of an encoded index record.
func (f Format) Child(rec []byte) NodeNum {
	return binary.BigEndian.Uint32(rec[len(rec)-4:])
}

// KeyAt returns the key of record i.
//
// Warning: the returned slice aliases the node buffer.
func (f Format) KeyAt(n Node, i int) []byte {
	return f.Key(n.RecordAt(i))
}

// DataAt returns the payload of leaf record i.
//
// Warning: the returned slice aliases the node buffer.
func (f Format) DataAt(n Node, i int) []byte {
	return f.Data(n.RecordAt(i))
}

// ChildAt returns the child of index record i.
func (f Format) ChildAt(n Node, i int) NodeNum {
	return f.Child(n.RecordAt(i))
}

// Search looks key up in n.
// It returns the index of the matching record, or the index key would be
// inserted at when there is none.
func (f Format) Search(n Node, key []byte, cmp bstree.Comparator) (found bool, index int) {
	count := n.NumRecords()
	index = sort.Search(count, func(i int) bool {
		return cmp(f.KeyAt(n, i), key) >= 0
	})
	found = index < count && cmp(f.KeyAt(n, index), key) == 0
	return
}

// ChildIndex returns the record of index node n whose child covers key:
// the last record at or below key, or record 0 when key sorts first.
// The key of record 0 is not consulted, as inserts before it never update it.
func (f Format) ChildIndex(n Node, key []byte, cmp bstree.Comparator) int {
	return sort.Search(n.NumRecords()-1, func(i int) bool {
		return cmp(f.KeyAt(n, i+1), key) > 0
	})
}
