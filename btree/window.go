// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

import "github.com/dacapoday/bstree/store"

// slot holds at most one pinned node.
type slot struct {
	buf *store.Buffer
}

func (s *slot) num() NodeNum {
	return s.buf.Num()
}

// window is the set of nodes an operation holds: the current node and, while
// iterating, its left and right siblings. Putting a node into a slot releases
// whatever the slot held, and close releases everything, so no exit path can
// leak a pin. Nodes are acquired left to right.
type window struct {
	store            NodeStore
	left, cur, right slot
	err              error
}

func (tree *Tree) window() window {
	return window{store: tree.store}
}

func (w *window) release(s *slot, trash bool) {
	if s.buf == nil {
		return
	}
	if err := w.store.Release(s.buf, trash); err != nil && w.err == nil {
		w.err = err
	}
	s.buf = nil
}

// set releases what s holds and puts buf in it.
func (w *window) set(s *slot, buf *store.Buffer) {
	w.release(s, false)
	s.buf = buf
}

// move hands the node held by src over to dst.
func (w *window) move(dst, src *slot) {
	w.set(dst, src.buf)
	src.buf = nil
}

// take removes the node from s without releasing it.
func (w *window) take(s *slot) *store.Buffer {
	buf := s.buf
	s.buf = nil
	return buf
}

func (w *window) drop(s *slot) {
	w.release(s, false)
}

// close releases every held node and returns the first release error.
func (w *window) close() error {
	w.release(&w.left, false)
	w.release(&w.cur, false)
	w.release(&w.right, false)
	return w.err
}
