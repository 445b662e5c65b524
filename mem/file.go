// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package mem provides an in-memory tree file.
package mem

import (
	"io"
	"slices"
	"sync"

	"github.com/dacapoday/bstree"
)

// File is an in-memory implementation of the bstree.File interface.
// It is safe for concurrent use by multiple goroutines.
//
// File requires no initialization - just declare and use:
//
//	var f File
//	f.WriteAt([]byte("hello"), 0)
//
// Besides plain storage, File can pretend to be fragmented on the device
// (SetExtents) and can inject I/O failures (SetFault), which is what the
// tree tests use it for.
type File struct {
	rw      sync.RWMutex
	data    []byte
	extents []int64
	fault   Fault
}

var (
	_ bstree.File    = new(File)
	_ bstree.Extents = new(File)
)

// Op identifies the file operation passed to a Fault.
type Op uint8

const (
	OpRead Op = iota + 1
	OpWrite
	OpTruncate
	OpSync
)

func (op Op) String() string {
	switch op {
	case OpRead:
		return "read"
	case OpWrite:
		return "write"
	case OpTruncate:
		return "truncate"
	case OpSync:
		return "sync"
	default:
		return "unknown"
	}
}

// Fault decides whether an operation fails. off and n describe the byte
// range touched (n is the new size for OpTruncate). A nil return lets the
// operation proceed.
type Fault func(op Op, off int64, n int) error

// SetFault installs fault, or removes the current one when fault is nil.
func (file *File) SetFault(fault Fault) {
	file.rw.Lock()
	file.fault = fault
	file.rw.Unlock()
}

// SetExtents makes Extents report the given run lengths instead of a single
// run covering the whole file.
func (file *File) SetExtents(runs ...int64) {
	file.rw.Lock()
	file.extents = slices.Clone(runs)
	file.rw.Unlock()
}

// Extents returns the byte length of each run backing the file.
func (file *File) Extents() ([]int64, error) {
	file.rw.RLock()
	defer file.rw.RUnlock()
	if file.extents != nil {
		return slices.Clone(file.extents), nil
	}
	return []int64{int64(len(file.data))}, nil
}

// Close clears all data stored in the File and releases memory.
// It is safe to write to the file again after closing.
func (file *File) Close() error {
	file.rw.Lock()
	file.data = nil
	file.extents = nil
	file.rw.Unlock()
	return nil
}

// Size returns the current size of the file in bytes.
func (file *File) Size() int64 {
	file.rw.RLock()
	defer file.rw.RUnlock()
	return int64(len(file.data))
}

// Bytes returns a copy of the file content.
func (file *File) Bytes() []byte {
	file.rw.RLock()
	defer file.rw.RUnlock()
	return slices.Clone(file.data)
}

// Clone returns an independent File holding a copy of the content.
// Faults and extents are not copied.
func (file *File) Clone() *File {
	return &File{data: file.Bytes()}
}

// WriteAt writes len(p) bytes from p to the file starting at byte offset off.
// Writing past the end grows the file, filling the gap with zero bytes.
func (file *File) WriteAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	file.rw.Lock()
	defer file.rw.Unlock()
	if file.fault != nil {
		if err = file.fault(OpWrite, off, len(p)); err != nil {
			return
		}
	}
	if end := off + int64(len(p)); end > int64(len(file.data)) {
		file.data = slices.Grow(file.data, int(end)-len(file.data))[:end]
	}
	n = copy(file.data[off:], p)
	return
}

// ReadAt reads len(p) bytes into p starting at byte offset off.
// It returns io.EOF when fewer than len(p) bytes are available.
func (file *File) ReadAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, io.ErrUnexpectedEOF
	}
	file.rw.RLock()
	defer file.rw.RUnlock()
	if file.fault != nil {
		if err = file.fault(OpRead, off, len(p)); err != nil {
			return
		}
	}
	if off >= int64(len(file.data)) {
		return 0, io.EOF
	}
	n = copy(p, file.data[off:])
	if n < len(p) {
		err = io.EOF
	}
	return
}

// Truncate changes the size of the file. Growing fills with zero bytes.
func (file *File) Truncate(size int64) (err error) {
	if size < 0 {
		return io.ErrUnexpectedEOF
	}
	file.rw.Lock()
	defer file.rw.Unlock()
	if file.fault != nil {
		if err = file.fault(OpTruncate, 0, int(size)); err != nil {
			return
		}
	}
	if size <= int64(len(file.data)) {
		clear(file.data[size:])
		file.data = file.data[:size]
		return
	}
	file.data = slices.Grow(file.data, int(size)-len(file.data))[:size]
	return
}

// Sync only consults the installed Fault; memory needs no flushing.
func (file *File) Sync() error {
	file.rw.RLock()
	defer file.rw.RUnlock()
	if file.fault != nil {
		return file.fault(OpSync, 0, 0)
	}
	return nil
}
