// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/dacapoday/bstree/node"
)

// Header node layout. The header node holds three records at fixed offsets:
// the header record, the user data record and the first map record.
const (
	headerRecordSize = 106
	userDataSize     = 128

	headerRecordOffset = node.DescriptorSize
	userDataOffset     = headerRecordOffset + headerRecordSize
	mapRecordOffset    = userDataOffset + userDataSize
	headerRecords      = 3
)

// Attribute bits of the header record.
const (
	BadClose          uint32 = 1 << 0
	BigKeys           uint32 = 1 << 1
	VariableIndexKeys uint32 = 1 << 2
)

// Known btree types.
const (
	TypeHFS      uint8 = 0
	TypeUser     uint8 = 128
	TypeReserved uint8 = 255
)

const (
	maxTreeDepth = 16

	// keys longer than this need a two byte length prefix
	bigKeyThreshold = 40
)

// header is the on-disk header record.
type header struct {
	TreeDepth      uint16
	RootNode       uint32
	LeafRecords    uint32
	FirstLeafNode  uint32
	LastLeafNode   uint32
	NodeSize       uint16
	MaxKeyLength   uint16
	TotalNodes     uint32
	FreeNodes      uint32
	Reserved1      uint16
	ClumpSize      uint32
	BTreeType      uint8
	KeyCompareType uint8
	Attributes     uint32
	Reserved3      [64]byte
}

func decodeHeader(n node.Node) (h header, err error) {
	if len(n) < mapRecordOffset {
		return h, errors.Wrapf(ErrInvalidHeader, "header node of %d bytes", len(n))
	}
	if n.Kind() != node.Header {
		return h, errors.Wrapf(ErrInvalidHeader, "node 0 is a %s node", n.Kind())
	}
	if _, err = binary.Decode(n[headerRecordOffset:userDataOffset], binary.BigEndian, &h); err != nil {
		return h, errors.Wrap(ErrInvalidHeader, err.Error())
	}
	return
}

func (h *header) encode(n node.Node) {
	if _, err := binary.Encode(n[headerRecordOffset:userDataOffset], binary.BigEndian, h); err != nil {
		panic(errors.AssertionFailedf("encode header: %v", err))
	}
}

func (h *header) nodeSize() int {
	return int(h.NodeSize)
}

// verify checks the header against the size of the file holding it.
func (h *header) verify(fileSize int64) error {
	size := h.nodeSize()
	switch {
	case !node.ValidSize(size):
		return errors.Wrapf(ErrInvalidHeader, "node size %d", size)
	case h.TotalNodes == 0 || int64(h.TotalNodes)*int64(size) > fileSize:
		return errors.Wrapf(ErrInvalidHeader, "%d nodes of %d bytes in a %d byte file", h.TotalNodes, size, fileSize)
	case h.FreeNodes >= h.TotalNodes:
		return errors.Wrapf(ErrInvalidHeader, "%d free of %d nodes", h.FreeNodes, h.TotalNodes)
	case h.RootNode >= h.TotalNodes:
		return errors.Wrapf(ErrInvalidHeader, "root node %d", h.RootNode)
	case h.FirstLeafNode >= h.TotalNodes:
		return errors.Wrapf(ErrInvalidHeader, "first leaf node %d", h.FirstLeafNode)
	case h.LastLeafNode >= h.TotalNodes:
		return errors.Wrapf(ErrInvalidHeader, "last leaf node %d", h.LastLeafNode)
	case h.TreeDepth > maxTreeDepth:
		return errors.Wrapf(ErrInvalidHeader, "tree depth %d", h.TreeDepth)
	case h.MaxKeyLength == 0:
		return errors.Wrap(ErrInvalidHeader, "zero max key length")
	case (h.RootNode == 0) != (h.TreeDepth == 0):
		return errors.Wrapf(ErrInvalidHeader, "root node %d at depth %d", h.RootNode, h.TreeDepth)
	}
	switch h.BTreeType {
	case TypeHFS, TypeUser, TypeReserved:
	default:
		return errors.Wrapf(ErrUnknownVersion, "btree type %d", h.BTreeType)
	}
	return nil
}

// mapRecordSize returns the size of the map record held by the header node.
func mapRecordSize(nodeSize int) int {
	return nodeSize - mapRecordOffset - 2*(headerRecords+1)
}

// mapNodeRecordSize returns the size of the record held by a map node.
func mapNodeRecordSize(nodeSize int) int {
	return nodeSize - node.DescriptorSize - 2*2
}

// initHeaderNode formats n as a header node with a zeroed user data record
// and an empty allocation bitmap.
func initHeaderNode(n node.Node, h *header) {
	n.Init(node.Header, 0)
	n.Insert(0, make([]byte, headerRecordSize))
	n.Insert(1, make([]byte, userDataSize))
	n.Insert(2, make([]byte, mapRecordSize(len(n))))
	h.encode(n)
}

func (tree *Tree) loadHeader(h *header) {
	tree.treeDepth = int(h.TreeDepth)
	tree.rootNode = h.RootNode
	tree.leafRecords = h.LeafRecords
	tree.firstLeafNode = h.FirstLeafNode
	tree.lastLeafNode = h.LastLeafNode
	tree.nodeSize = h.nodeSize()
	tree.maxKeyLength = int(h.MaxKeyLength)
	tree.totalNodes = h.TotalNodes
	tree.freeNodes = h.FreeNodes
	tree.clumpSize = h.ClumpSize
	tree.btreeType = h.BTreeType
	tree.keyCompareType = h.KeyCompareType
	tree.attributes = h.Attributes
	if tree.maxKeyLength > bigKeyThreshold {
		tree.attributes |= BigKeys | VariableIndexKeys
	}
	tree.format = node.Format{
		MaxKeyLength:      tree.maxKeyLength,
		BigKeys:           tree.attributes&BigKeys != 0,
		VariableIndexKeys: tree.attributes&VariableIndexKeys != 0,
	}
	tree.reserved = h.Reserved3
}

func (tree *Tree) storeHeader(h *header) {
	*h = header{
		TreeDepth:      uint16(tree.treeDepth),
		RootNode:       tree.rootNode,
		LeafRecords:    tree.leafRecords,
		FirstLeafNode:  tree.firstLeafNode,
		LastLeafNode:   tree.lastLeafNode,
		NodeSize:       uint16(tree.nodeSize),
		MaxKeyLength:   uint16(tree.maxKeyLength),
		TotalNodes:     tree.totalNodes,
		FreeNodes:      tree.freeNodes,
		ClumpSize:      tree.clumpSize,
		BTreeType:      tree.btreeType,
		KeyCompareType: tree.keyCompareType,
		Attributes:     tree.attributes,
		Reserved3:      tree.reserved,
	}
}

// writeHeader copies the control block into the header node. Unless force
// is set it does nothing while the control block is clean.
func (tree *Tree) writeHeader(force bool) (err error) {
	if !tree.dirty && !force {
		return nil
	}
	buf, err := tree.store.Fetch(HeaderNode)
	if err != nil {
		return errors.Wrap(err, "fetch header node")
	}
	var h header
	tree.storeHeader(&h)
	h.encode(buf.Node())
	buf.MarkDirty()
	if err = tree.store.Release(buf, false); err != nil {
		return errors.Wrap(err, "write header node")
	}
	tree.dirty = false
	return nil
}
