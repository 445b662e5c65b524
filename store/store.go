// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package store provides the node store beneath a B*-tree: it reads and
// writes fixed-size nodes of a tree file by node number and keeps a small
// cache of recently released nodes.
//
// A node is pinned between Fetch (or New) and Release. Pinned buffers are
// shared: fetching a pinned node again returns the same Buffer. Dirty buffers
// are written back when their last pin is released.
//
// Store is not safe for concurrent use.
package store

import (
	"container/list"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/ncw/directio"

	"github.com/dacapoday/bstree"
	"github.com/dacapoday/bstree/node"
)

type File = bstree.File
type NodeNum = bstree.NodeNum

// DefaultCacheSize is the number of released nodes kept in memory.
const DefaultCacheSize = 16

// Buffer holds one node read from, or about to be written to, the file.
type Buffer struct {
	num   NodeNum
	data  node.Node
	refs  int
	dirty bool
	elem  *list.Element
}

// Num returns the node number.
func (buf *Buffer) Num() NodeNum { return buf.num }

// Node returns the node content. It is valid while the buffer is pinned.
func (buf *Buffer) Node() node.Node { return buf.data }

// MarkDirty schedules the buffer to be written back on release.
func (buf *Buffer) MarkDirty() { buf.dirty = true }

// Stats counts store activity since the store was created.
type Stats struct {
	Fetches int // Fetch calls
	Hits    int // Fetch calls served from memory
	Reads   int // node reads from the file
	Writes  int // node writes to the file
}

// Store is a node store over F.
type Store[F File] struct {
	file     F
	size     int
	capacity int
	pinned   int
	cache    map[NodeNum]*Buffer
	mru      *list.List
	stats    Stats
}

// New returns a store reading nodes of node.MinSize bytes.
// capacity bounds the released nodes kept in memory; zero means DefaultCacheSize.
func New[F File](file F, capacity int) *Store[F] {
	if capacity <= 0 {
		capacity = DefaultCacheSize
	}
	return &Store[F]{
		file:     file,
		size:     node.MinSize,
		capacity: capacity,
		cache:    make(map[NodeNum]*Buffer),
		mru:      list.New(),
	}
}

// File returns the backing file.
func (store *Store[F]) File() F {
	return store.file
}

// NodeSize returns the current node size.
func (store *Store[F]) NodeSize() int {
	return store.size
}

// Pinned returns the number of buffers currently pinned.
func (store *Store[F]) Pinned() int {
	return store.pinned
}

// Stats returns the activity counters.
func (store *Store[F]) Stats() Stats {
	return store.stats
}

// SetNodeSize switches the node size. Every cached buffer is dropped, so no
// buffer may be pinned.
func (store *Store[F]) SetNodeSize(size int) error {
	if !node.ValidSize(size) {
		return errors.Wrapf(bstree.ErrInvalidParameter, "node size %d", size)
	}
	if store.pinned != 0 {
		return errors.Wrapf(bstree.ErrInvalidParameter, "set node size with %d nodes pinned", store.pinned)
	}
	store.drop()
	store.size = size
	return nil
}

// Fetch pins node num, reading it from the file unless it is in memory.
func (store *Store[F]) Fetch(num NodeNum) (buf *Buffer, err error) {
	store.stats.Fetches++
	if buf = store.lookup(num); buf != nil {
		store.stats.Hits++
		return
	}
	data := node.Node(directio.AlignedBlock(store.size))
	n, err := store.file.ReadAt(data, int64(num)*int64(store.size))
	if n < len(data) {
		if err == nil || errors.Is(err, io.EOF) {
			err = errors.Wrapf(bstree.ErrInvalidNode, "node %d beyond end of file", num)
		}
		return nil, errors.Wrapf(err, "read node %d", num)
	}
	store.stats.Reads++
	buf = &Buffer{num: num, data: data}
	store.pin(buf)
	return
}

// New pins node num without reading it. The buffer is zeroed and dirty.
func (store *Store[F]) New(num NodeNum) *Buffer {
	buf := store.lookup(num)
	if buf == nil {
		buf = &Buffer{num: num, data: node.Node(directio.AlignedBlock(store.size))}
		store.pin(buf)
	} else {
		clear(buf.data)
	}
	buf.dirty = true
	return buf
}

// Release unpins buf. The last release of a dirty buffer writes it back.
// trash drops the buffer from memory so the next Fetch re-reads it.
func (store *Store[F]) Release(buf *Buffer, trash bool) (err error) {
	if buf == nil {
		return nil
	}
	if buf.refs <= 0 {
		return errors.AssertionFailedf("node %d released while not pinned", buf.num)
	}
	buf.refs--
	if buf.refs > 0 {
		return nil
	}
	store.pinned--
	if buf.dirty {
		if _, err = store.file.WriteAt(buf.data, int64(buf.num)*int64(store.size)); err != nil {
			err = errors.Wrapf(err, "write node %d", buf.num)
			trash = true
		} else {
			store.stats.Writes++
		}
		buf.dirty = false
	}
	if trash {
		delete(store.cache, buf.num)
		return
	}
	buf.elem = store.mru.PushFront(buf)
	for store.mru.Len() > store.capacity {
		old := store.mru.Remove(store.mru.Back()).(*Buffer)
		old.elem = nil
		delete(store.cache, old.num)
	}
	return
}

// Grow makes the file large enough for totalNodes nodes. It never shrinks.
func (store *Store[F]) Grow(totalNodes uint32) error {
	size, err := store.FileSize()
	if err != nil {
		return err
	}
	want := int64(totalNodes) * int64(store.size)
	if want <= size {
		return nil
	}
	if err = store.file.Truncate(want); err != nil {
		return errors.Wrapf(err, "grow to %d nodes", totalNodes)
	}
	return nil
}

// FileSize returns the size of the backing file.
func (store *Store[F]) FileSize() (int64, error) {
	switch f := any(store.file).(type) {
	case interface{ Size() int64 }:
		return f.Size(), nil
	case interface{ Stat() (os.FileInfo, error) }:
		info, err := f.Stat()
		if err != nil {
			return 0, errors.Wrap(err, "stat")
		}
		return info.Size(), nil
	case io.Seeker:
		return f.Seek(0, io.SeekEnd)
	}
	return 0, errors.Newf("%T cannot report its size", store.file)
}

// Sync flushes the backing file.
func (store *Store[F]) Sync() error {
	return store.file.Sync()
}

// Close drops every cached buffer. Pinned buffers are a caller bug.
func (store *Store[F]) Close() error {
	if store.pinned != 0 {
		return errors.AssertionFailedf("store closed with %d nodes pinned", store.pinned)
	}
	store.drop()
	return nil
}

func (store *Store[F]) lookup(num NodeNum) *Buffer {
	buf, ok := store.cache[num]
	if !ok {
		return nil
	}
	if buf.refs == 0 {
		store.mru.Remove(buf.elem)
		buf.elem = nil
		store.pinned++
	}
	buf.refs++
	return buf
}

func (store *Store[F]) pin(buf *Buffer) {
	buf.refs = 1
	store.cache[buf.num] = buf
	store.pinned++
}

func (store *Store[F]) drop() {
	clear(store.cache)
	store.mru.Init()
}
