// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package btree implements the node-spanning half of an on-disk B*-tree:
// the control block of an open tree file, searches and iteration across the
// leaf chain with position hints, and insert, replace and delete with the
// node splits, merges and tree extension they require.
//
// A Tree is not safe for concurrent use. Callers serialize access, typically
// under the lock of the file the tree lives in. No node stays pinned between
// two calls.
package btree

import (
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dacapoday/bstree"
	"github.com/dacapoday/bstree/node"
	"github.com/dacapoday/bstree/store"
)

type NodeNum = bstree.NodeNum

const HeaderNode = bstree.HeaderNode

// NodeStore reads and writes the nodes of one tree file.
// *store.Store implements it.
type NodeStore interface {
	Fetch(num NodeNum) (*store.Buffer, error)
	New(num NodeNum) *store.Buffer
	Release(buf *store.Buffer, trash bool) error
	NodeSize() int
	SetNodeSize(size int) error
	Grow(totalNodes uint32) error
	FileSize() (int64, error)
	Pinned() int
	Purge() error
	Sync() error
	Close() error
}

// Option configures Open. Optional behaviour is discovered through the
// CacheSize, LoopChecker, Logger and DamageHandler interfaces.
type Option interface {
	ReadOnly() bool
}

// CacheSize is implemented by options bounding the node cache.
type CacheSize interface {
	CacheSize() int
}

// LoopChecker is implemented by options choosing the leaf loop policy.
type LoopChecker interface {
	LoopCheck() LoopCheck
}

// Logger is implemented by options supplying a logger.
type Logger interface {
	Logger() *zap.Logger
}

// DamageHandler is implemented by options that want to hear about damage
// the moment it is detected.
type DamageHandler interface {
	OnDamage(err error)
}

// LoopCheck selects what iteration does when it visits more records than
// the tree holds, which means the leaf chain loops.
type LoopCheck uint8

const (
	LoopCheckWarn LoopCheck = iota // log and keep going
	LoopCheckOff                   // do nothing
	LoopCheckFail                  // fail with ErrInvalidNode and mark the tree damaged
)

func (c LoopCheck) String() string {
	switch c {
	case LoopCheckWarn:
		return "warn"
	case LoopCheckOff:
		return "off"
	case LoopCheckFail:
		return "fail"
	default:
		return "unknown"
	}
}

// Tree is the control block of an open tree file.
type Tree struct {
	store  NodeStore
	cmp    bstree.Comparator
	format node.Format
	log    *zap.Logger

	readOnly  bool
	loopCheck LoopCheck
	onDamage  func(error)

	nodeSize       int
	maxKeyLength   int
	treeDepth      int
	rootNode       NodeNum
	firstLeafNode  NodeNum
	lastLeafNode   NodeNum
	leafRecords    uint32
	totalNodes     uint32
	freeNodes      uint32
	clumpSize      uint32
	btreeType      uint8
	keyCompareType uint8
	attributes     uint32
	reserved       [64]byte

	writeCount    uint32
	numValidHints uint32
	lastSync      time.Time

	dirty   bool
	damaged bool
	closed  bool
}

// Info is a snapshot of the control block.
type Info struct {
	NodeSize       int
	MaxKeyLength   int
	TreeDepth      int
	RootNode       NodeNum
	FirstLeafNode  NodeNum
	LastLeafNode   NodeNum
	LeafRecords    uint32
	TotalNodes     uint32
	FreeNodes      uint32
	ClumpSize      uint32
	BTreeType      uint8
	KeyCompareType uint8
	Attributes     uint32
	WriteCount     uint32
	ValidHints     uint32
	LastSync       time.Time
	Dirty          bool
	Damaged        bool
}

// Info returns the current tree metadata.
func (tree *Tree) Info() Info {
	return Info{
		NodeSize:       tree.nodeSize,
		MaxKeyLength:   tree.maxKeyLength,
		TreeDepth:      tree.treeDepth,
		RootNode:       tree.rootNode,
		FirstLeafNode:  tree.firstLeafNode,
		LastLeafNode:   tree.lastLeafNode,
		LeafRecords:    tree.leafRecords,
		TotalNodes:     tree.totalNodes,
		FreeNodes:      tree.freeNodes,
		ClumpSize:      tree.clumpSize,
		BTreeType:      tree.btreeType,
		KeyCompareType: tree.keyCompareType,
		Attributes:     tree.attributes,
		WriteCount:     tree.writeCount,
		ValidHints:     tree.numValidHints,
		LastSync:       tree.lastSync,
		Dirty:          tree.dirty,
		Damaged:        tree.damaged,
	}
}

// LastSync returns the time recorded by SetLastSync.
func (tree *Tree) LastSync() time.Time { return tree.lastSync }

// SetLastSync records the time the tree file was last synced.
func (tree *Tree) SetLastSync(t time.Time) { tree.lastSync = t }

// IsDirty reports whether the control block differs from the header node.
func (tree *Tree) IsDirty() bool { return tree.dirty }

// Damaged reports whether a structural inconsistency has been detected
// since the tree was opened.
func (tree *Tree) Damaged() bool { return tree.damaged }

// Store returns the node store of the tree.
func (tree *Tree) Store() NodeStore { return tree.store }

// UserData returns a copy of the user data record of the header node.
func (tree *Tree) UserData() ([]byte, error) {
	if err := tree.check(); err != nil {
		return nil, err
	}
	buf, err := tree.store.Fetch(HeaderNode)
	if err != nil {
		return nil, err
	}
	data := make([]byte, userDataSize)
	copy(data, buf.Node()[userDataOffset:mapRecordOffset])
	return data, tree.store.Release(buf, false)
}

// SetUserData overwrites the user data record. data is zero padded; it may
// not exceed 128 bytes.
func (tree *Tree) SetUserData(data []byte) error {
	if err := tree.writable(); err != nil {
		return err
	}
	if len(data) > userDataSize {
		return errors.Wrapf(ErrInvalidParameter, "user data of %d bytes", len(data))
	}
	buf, err := tree.store.Fetch(HeaderNode)
	if err != nil {
		return err
	}
	rec := buf.Node()[userDataOffset:mapRecordOffset]
	clear(rec[copy(rec, data):])
	buf.MarkDirty()
	return tree.store.Release(buf, false)
}

func (tree *Tree) check() error {
	if tree == nil || tree.closed {
		return errors.Wrap(ErrInvalidFile, "tree is closed")
	}
	return nil
}

func (tree *Tree) writable() error {
	if err := tree.check(); err != nil {
		return err
	}
	if tree.readOnly {
		return ErrReadOnly
	}
	return nil
}
