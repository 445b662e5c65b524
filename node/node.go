// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package node implements the layout of a single B*-tree node and the
// algorithms that work inside one node: binary search, record splice and
// record moves between two nodes.
//
// A node is a fixed-size big-endian block:
//
//	descriptor   fLink u32 | bLink u32 | kind i8 | height u8 | numRecords u16 | reserved u16
//	records      packed upward from DescriptorSize
//	free space
//	offsets      u16 per record, stored backward from the end of the node;
//	             offset[numRecords] is the start of free space
//
// Node methods do not check bounds beyond what Check verifies; call Check on
// every node read from disk before trusting it.
package node

import (
	"encoding/binary"

	"github.com/dacapoday/bstree"
)

type NodeNum = bstree.NodeNum

const (
	DescriptorSize = 14
	MinSize        = 512
	MaxSize        = 32768
)

// Kind is the descriptor kind of a node.
type Kind int8

const (
	Leaf   Kind = -1
	Index  Kind = 0
	Header Kind = 1
	Map    Kind = 2
)

func (kind Kind) String() string {
	switch kind {
	case Leaf:
		return "leaf"
	case Index:
		return "index"
	case Header:
		return "header"
	case Map:
		return "map"
	default:
		return "unknown"
	}
}

// ValidSize reports whether size is a supported node size
// (a power of two between MinSize and MaxSize).
func ValidSize(size int) bool {
	return size >= MinSize && size <= MaxSize && size&(size-1) == 0
}

// Node is a node buffer. Its length is the node size.
type Node []byte

// Init clears the node and gives it an empty record area.
func (n Node) Init(kind Kind, height uint8) {
	clear(n)
	n[8] = byte(kind)
	n[9] = height
	n.setOffset(0, DescriptorSize)
}

func (n Node) FLink() NodeNum { return binary.BigEndian.Uint32(n[0:]) }
func (n Node) BLink() NodeNum { return binary.BigEndian.Uint32(n[4:]) }
func (n Node) Kind() Kind     { return Kind(int8(n[8])) }
func (n Node) Height() uint8  { return n[9] }

// NumRecords returns the number of records in the node.
func (n Node) NumRecords() int { return int(binary.BigEndian.Uint16(n[10:])) }

func (n Node) SetFLink(num NodeNum) { binary.BigEndian.PutUint32(n[0:], num) }
func (n Node) SetBLink(num NodeNum) { binary.BigEndian.PutUint32(n[4:], num) }
func (n Node) SetKind(kind Kind)    { n[8] = byte(kind) }
func (n Node) SetHeight(h uint8)    { n[9] = h }

func (n Node) setNumRecords(count int) { binary.BigEndian.PutUint16(n[10:], uint16(count)) }

// IsLeaf reports whether n is a leaf node holding at least one record.
func (n Node) IsLeaf() bool {
	return n.Kind() == Leaf && n.NumRecords() > 0
}

func (n Node) offset(i int) int {
	return int(binary.BigEndian.Uint16(n[len(n)-2*(i+1):]))
}

func (n Node) setOffset(i, off int) {
	binary.BigEndian.PutUint16(n[len(n)-2*(i+1):], uint16(off))
}

// RecordAt returns record i, key included.
//
// Warning: the returned slice aliases the node buffer.
func (n Node) RecordAt(i int) []byte {
	return n[n.offset(i):n.offset(i+1)]
}

// RecordSize returns the size of record i in bytes.
func (n Node) RecordSize(i int) int {
	return n.offset(i+1) - n.offset(i)
}

// FreeSize returns the bytes still available for records and their offsets.
func (n Node) FreeSize() int {
	count := n.NumRecords()
	return len(n) - 2*(count+1) - n.offset(count)
}

// UsedSize returns the bytes taken by records and their offsets.
func (n Node) UsedSize() int {
	count := n.NumRecords()
	return n.offset(count) - DescriptorSize + 2*count
}

// Fits reports whether a record of size bytes can be inserted.
func (n Node) Fits(size int) bool {
	return size+2 <= n.FreeSize()
}

// Insert splices rec in at index, shifting later records up.
// It reports false and leaves the node untouched when rec does not fit.
func (n Node) Insert(index int, rec []byte) bool {
	size := len(rec)
	if !n.Fits(size) {
		return false
	}
	count := n.NumRecords()
	beg := n.offset(index)
	end := n.offset(count)
	copy(n[beg+size:end+size], n[beg:end])
	for i := count; i >= index; i-- {
		n.setOffset(i+1, n.offset(i)+size)
	}
	copy(n[beg:], rec)
	n.setNumRecords(count + 1)
	return true
}

// Delete removes record index, shifting later records down.
func (n Node) Delete(index int) {
	count := n.NumRecords()
	beg := n.offset(index)
	size := n.offset(index+1) - beg
	end := n.offset(count)
	copy(n[beg:], n[beg+size:end])
	for i := index + 1; i <= count; i++ {
		n.setOffset(i-1, n.offset(i)-size)
	}
	clear(n[end-size : end])
	n.setOffset(count, 0)
	n.setNumRecords(count - 1)
}

// Overwrite copies rec over record index. The sizes must match.
func (n Node) Overwrite(index int, rec []byte) {
	copy(n[n.offset(index):n.offset(index+1)], rec)
}

// MoveTo appends records [from, NumRecords) of n to the end of dst and
// removes them from n. It reports false and changes nothing when dst cannot
// hold them.
func (n Node) MoveTo(dst Node, from int) bool {
	count := n.NumRecords()
	if from >= count {
		return true
	}
	beg := n.offset(from)
	end := n.offset(count)
	moved := count - from
	if end-beg+2*moved > dst.FreeSize() {
		return false
	}
	dstCount := dst.NumRecords()
	dstEnd := dst.offset(dstCount)
	copy(dst[dstEnd:], n[beg:end])
	for i := range moved {
		dst.setOffset(dstCount+i+1, dst.offset(dstCount+i)+n.RecordSize(from+i))
	}
	dst.setNumRecords(dstCount + moved)

	clear(n[beg:end])
	for i := from + 1; i <= count; i++ {
		n.setOffset(i, 0)
	}
	n.setNumRecords(from)
	return true
}
