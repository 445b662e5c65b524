// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import (
	"bytes"

	"github.com/cockroachdb/errors"
	"github.com/ncw/directio"
	"go.uber.org/zap"

	"github.com/dacapoday/bstree"
	"github.com/dacapoday/bstree/node"
	"github.com/dacapoday/bstree/store"
)

// Open opens the tree stored in file. cmp orders its keys. opt may be nil.
//
// Unless the tree is opened read-only, the header is marked as not cleanly
// closed until Close.
func Open(file bstree.File, cmp bstree.Comparator, opt Option) (tree *Tree, err error) {
	if file == nil {
		return nil, errors.Wrap(ErrInvalidFile, "nil file")
	}
	if cmp == nil {
		return nil, errors.Wrap(ErrInvalidParameter, "nil comparator")
	}
	cacheSize := 0
	if o, ok := opt.(CacheSize); ok {
		cacheSize = o.CacheSize()
	}
	tree = &Tree{
		store:      store.New(file, cacheSize),
		cmp:        cmp,
		log:        zap.NewNop(),
		writeCount: 1,
	}
	if opt != nil {
		tree.readOnly = opt.ReadOnly()
	}
	if o, ok := opt.(LoopChecker); ok {
		tree.loopCheck = o.LoopCheck()
	}
	if o, ok := opt.(Logger); ok && o.Logger() != nil {
		tree.log = o.Logger()
	}
	if o, ok := opt.(DamageHandler); ok {
		tree.onDamage = o.OnDamage
	}

	if err = tree.open(file); err != nil {
		_ = tree.store.Close()
		return nil, err
	}
	return tree, nil
}

func (tree *Tree) open(file bstree.File) error {
	size, err := tree.store.FileSize()
	if err != nil {
		return err
	}
	if size < node.MinSize {
		return errors.Wrapf(ErrInvalidFile, "file of %d bytes", size)
	}

	// the node size is unknown until the header has been read with the
	// smallest one
	h, err := tree.readHeader(size)
	if err != nil {
		return err
	}
	if h.nodeSize() != tree.store.NodeSize() {
		if err = tree.store.SetNodeSize(h.nodeSize()); err != nil {
			return err
		}
		if h, err = tree.readHeader(size); err != nil {
			return err
		}
	}
	tree.loadHeader(&h)

	if err = tree.checkContiguous(file); err != nil {
		return err
	}

	tree.log.Debug("btree opened",
		zap.Int("nodeSize", tree.nodeSize),
		zap.Int("depth", tree.treeDepth),
		zap.Uint32("records", tree.leafRecords),
		zap.Uint32("nodes", tree.totalNodes),
		zap.Bool("readOnly", tree.readOnly))

	if tree.attributes&BadClose != 0 {
		tree.log.Warn("btree was not closed cleanly")
	}
	if tree.readOnly {
		return nil
	}
	tree.attributes |= BadClose
	return tree.writeHeader(true)
}

// readHeader reads and verifies the header record with the current node
// size. The header node is dropped from memory afterwards, so a read with
// the wrong size never lingers in the cache.
func (tree *Tree) readHeader(fileSize int64) (h header, err error) {
	buf, err := tree.store.Fetch(HeaderNode)
	if err != nil {
		if errors.Is(err, ErrInvalidNode) {
			err = mark(err, ErrInvalidHeader)
		}
		return h, errors.Wrap(err, "read header node")
	}
	defer func() {
		if rerr := tree.store.Release(buf, true); err == nil {
			err = rerr
		}
	}()
	if h, err = decodeHeader(buf.Node()); err != nil {
		return
	}
	if err = h.verify(fileSize); err != nil {
		return
	}
	if n := buf.Node(); h.nodeSize() == len(n) {
		if err = n.Check(); err != nil {
			return h, mark(err, ErrInvalidHeader)
		}
		if n.NumRecords() != headerRecords {
			return h, errors.Wrapf(ErrInvalidHeader, "header node with %d records", n.NumRecords())
		}
	}
	return
}

// checkContiguous makes sure no node straddles two extents of the file.
func (tree *Tree) checkContiguous(file bstree.File) error {
	ext, ok := file.(bstree.Extents)
	if !ok {
		return nil
	}
	runs, err := ext.Extents()
	if err != nil {
		return errors.Wrap(err, "read extents")
	}
	for i, run := range runs {
		if run%int64(tree.nodeSize) != 0 {
			return errors.Wrapf(ErrInvalidNode, "extent %d of %d bytes splits a %d byte node", i, run, tree.nodeSize)
		}
	}
	return nil
}

// Close marks the header as cleanly closed and writes it. A closed tree
// rejects every call with ErrInvalidFile. The file itself stays open.
func (tree *Tree) Close() (err error) {
	if err = tree.check(); err != nil {
		return err
	}
	if !tree.readOnly {
		tree.attributes &^= BadClose
		if err = tree.writeHeader(true); err != nil {
			return err
		}
		if err = tree.store.Sync(); err != nil {
			return errors.Wrap(err, "sync")
		}
	}
	if err = tree.store.Close(); err != nil {
		return err
	}
	tree.closed = true
	tree.log.Debug("btree closed", zap.Uint32("writeCount", tree.writeCount))
	return nil
}

// Flush writes the header when the control block is dirty and syncs the
// file.
func (tree *Tree) Flush() error {
	if err := tree.check(); err != nil {
		return err
	}
	if !tree.dirty {
		return nil
	}
	if err := tree.writeHeader(false); err != nil {
		return err
	}
	return errors.Wrap(tree.store.Sync(), "sync")
}

// ReloadHeader reads the header again, for instance after a repair tool
// rewrote the file, and refreshes the control block from it. Cached nodes
// are dropped. On failure the control block is left as it was.
func (tree *Tree) ReloadHeader() error {
	if err := tree.check(); err != nil {
		return err
	}
	size, err := tree.store.FileSize()
	if err != nil {
		return err
	}
	if err = tree.store.Purge(); err != nil {
		return err
	}
	h, err := tree.readHeader(size)
	if err != nil {
		return err
	}
	if h.nodeSize() != tree.nodeSize {
		return errors.Wrapf(ErrInvalidHeader, "node size changed from %d to %d", tree.nodeSize, h.nodeSize())
	}
	tree.loadHeader(&h)
	tree.dirty = false
	return nil
}

// Layout describes a tree to create.
type Layout struct {
	NodeSize       int
	MaxKeyLength   int
	ClumpSize      uint32 // bytes the file grows by at least; 0 means 8 nodes
	BTreeType      uint8
	KeyCompareType uint8
	Attributes     uint32
	InitialNodes   uint32 // header node included; 0 means one clump
}

// Create formats file as an empty tree. Any previous content is discarded.
func Create(file bstree.File, layout Layout) error {
	if file == nil {
		return errors.Wrap(ErrInvalidFile, "nil file")
	}
	if !node.ValidSize(layout.NodeSize) {
		return errors.Wrapf(ErrInvalidParameter, "node size %d", layout.NodeSize)
	}
	attrs := layout.Attributes &^ BadClose
	if layout.MaxKeyLength > bigKeyThreshold {
		attrs |= BigKeys | VariableIndexKeys
	}
	format := node.Format{
		MaxKeyLength: layout.MaxKeyLength,
		BigKeys:      attrs&BigKeys != 0,
	}
	if layout.MaxKeyLength < 1 || layout.MaxKeyLength > 0xFFFF ||
		(!format.BigKeys && layout.MaxKeyLength > 0xFF) ||
		format.IndexRecordSize(layout.MaxKeyLength) > layout.NodeSize/4 {
		return errors.Wrapf(ErrInvalidParameter, "max key length %d for %d byte nodes", layout.MaxKeyLength, layout.NodeSize)
	}
	switch layout.BTreeType {
	case TypeHFS, TypeUser, TypeReserved:
	default:
		return errors.Wrapf(ErrUnknownVersion, "btree type %d", layout.BTreeType)
	}
	clump := layout.ClumpSize
	if clump == 0 {
		clump = uint32(layout.NodeSize) * 8
	}

	h := header{
		NodeSize:       uint16(layout.NodeSize),
		MaxKeyLength:   uint16(layout.MaxKeyLength),
		TotalNodes:     1,
		ClumpSize:      clump,
		BTreeType:      layout.BTreeType,
		KeyCompareType: layout.KeyCompareType,
		Attributes:     attrs,
	}
	n := node.Node(directio.AlignedBlock(layout.NodeSize))
	initHeaderNode(n, &h)
	n[mapRecordOffset] = 0x80
	if err := file.Truncate(0); err != nil {
		return errors.Wrap(err, "truncate")
	}
	if _, err := file.WriteAt(n, 0); err != nil {
		return errors.Wrap(err, "write header node")
	}

	tree, err := Open(file, bytes.Compare, nil)
	if err != nil {
		return err
	}
	initial := layout.InitialNodes
	if initial == 0 {
		initial = clump / uint32(layout.NodeSize)
	}
	if err = tree.extend(initial); err != nil {
		_ = tree.Close()
		return err
	}
	return tree.Close()
}
