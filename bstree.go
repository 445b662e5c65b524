// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package bstree defines the basic interfaces shared by the B*-tree packages.
//
// A tree lives in a single File made of fixed-size nodes addressed by NodeNum.
// Node 0 is always the header node.
package bstree

import "io"

// File provides access to the backing store of a tree file.
// The File interface is the minimum implementation required.
//
// The *os.File type satisfies this interface.
type File interface {
	io.ReaderAt
	io.WriterAt
	io.Closer

	// Truncate changes the size of the file.
	Truncate(size int64) error

	// Sync commits the current contents of the file to stable storage.
	Sync() error
}

// Extents is implemented by files whose bytes are stored as several
// separately allocated runs on the device.
//
// Extents returns the byte length of every run, in file order.
// A tree refuses to open a file whose runs would split a node.
type Extents interface {
	Extents() ([]int64, error)
}

// NodeNum is the logical number of a node inside a tree file.
// Zero is the header node; as a link it means "none".
type NodeNum = uint32

// HeaderNode is the node number of the header node.
const HeaderNode NodeNum = 0

// Comparator orders two keys. It returns a negative number when a sorts
// before b, zero when they are equal and a positive number otherwise.
type Comparator func(a, b []byte) int
