// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

// Package kv is a small key-value store kept in a single tree file.
//
// Keys are ordered bytewise. A nil value deletes its key.
package kv

import (
	"bytes"
	"io"
	"os"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/ncw/directio"
	"go.uber.org/zap"

	"github.com/dacapoday/bstree"
	"github.com/dacapoday/bstree/btree"
	"github.com/dacapoday/bstree/store"
)

const (
	DefaultNodeSize     = 4096
	DefaultMaxKeyLength = 255
)

type DB = KV[*os.File]

// Options configures how a store file is opened or created.
// NodeSize and MaxKeyLength only apply when the file is created.
type Options struct {
	Direct       bool // open with O_DIRECT; Open and OpenWith only
	ReadOnly     bool
	NodeSize     int
	MaxKeyLength int
	CacheSize    int
	LoopCheck    btree.LoopCheck
	Logger       *zap.Logger
}

func Open(path string) (db *DB, err error) {
	return OpenWith(path, Options{})
}

// OpenWith opens the store at path, creating it when missing or empty.
func OpenWith(path string, options Options) (db *DB, err error) {
	flag := os.O_RDWR | os.O_CREATE
	if options.ReadOnly {
		flag = os.O_RDONLY
	}
	var file *os.File
	if options.Direct {
		file, err = directio.OpenFile(path, flag, 0600)
	} else {
		file, err = os.OpenFile(path, flag, 0600)
	}
	if err != nil {
		return
	}

	db = new(DB)
	if err = db.LoadOptions(file, options); err != nil {
		_ = file.Close()
		db = nil
	}
	return
}

type File = bstree.File

// KV is a key-value store over one tree file.
// It is safe for concurrent use.
type KV[F File] struct {
	mu     sync.Mutex
	file   F
	tree   *btree.Tree
	hint   btree.Hint
	log    *zap.Logger
	closed bool
}

func (kv *KV[F]) File() F {
	return kv.file
}

func (kv *KV[F]) Load(file F) (err error) {
	return kv.LoadOptions(file, Options{})
}

// LoadOptions opens the tree stored in file, formatting an empty file first.
// Close closes file.
func (kv *KV[F]) LoadOptions(file F, options Options) (err error) {
	kv.log = options.Logger
	if kv.log == nil {
		kv.log = zap.NewNop()
	}

	empty, err := isEmpty(file)
	if err != nil {
		return
	}
	if empty {
		if options.ReadOnly {
			return errors.Wrap(bstree.ErrReadOnly, "create store")
		}
		layout := btree.Layout{
			NodeSize:     options.NodeSize,
			MaxKeyLength: options.MaxKeyLength,
			BTreeType:    btree.TypeUser,
		}
		if layout.NodeSize == 0 {
			layout.NodeSize = DefaultNodeSize
		}
		if layout.MaxKeyLength == 0 {
			layout.MaxKeyLength = DefaultMaxKeyLength
		}
		if err = btree.Create(file, layout); err != nil {
			return
		}
		kv.log.Info("created store", zap.Int("node_size", layout.NodeSize), zap.Int("max_key_length", layout.MaxKeyLength))
	}

	tree, err := btree.Open(file, bytes.Compare, opt{
		readOnly:  options.ReadOnly,
		cacheSize: options.CacheSize,
		loopCheck: options.LoopCheck,
		log:       kv.log,
	})
	if err != nil {
		return
	}
	kv.file, kv.tree = file, tree
	kv.hint = btree.Hint{}
	kv.closed = false
	return
}

// isEmpty reports whether file holds no bytes. The probe is aligned so that
// it also works on files opened with O_DIRECT.
func isEmpty(file File) (bool, error) {
	probe := directio.AlignedBlock(directio.BlockSize)
	n, err := file.ReadAt(probe, 0)
	switch {
	case n > 0:
		return false, nil
	case err == nil || errors.Is(err, io.EOF):
		return true, nil
	default:
		return false, errors.Wrap(err, "probe store file")
	}
}

type opt struct {
	readOnly  bool
	cacheSize int
	loopCheck btree.LoopCheck
	log       *zap.Logger
}

func (o opt) ReadOnly() bool {
	return o.readOnly
}

func (o opt) CacheSize() int {
	return o.cacheSize
}

func (o opt) LoopCheck() btree.LoopCheck {
	return o.loopCheck
}

func (o opt) Logger() *zap.Logger {
	return o.log
}

func (o opt) OnDamage(err error) {
	o.log.Error("store damaged, run verify", zap.Error(err))
}

func (kv *KV[F]) check() error {
	if kv.tree == nil || kv.closed {
		return bstree.ErrClosed
	}
	return nil
}

// Close writes the tree header and closes the file.
func (kv *KV[F]) Close() (err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err = kv.check(); err != nil {
		return
	}
	kv.closed = true
	err = kv.tree.Close()
	if cerr := kv.file.Close(); err == nil {
		err = cerr
	}
	return
}

// Get returns a copy of the value stored under key, or nil when key is
// missing.
func (kv *KV[F]) Get(key []byte) (val []byte, err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err = kv.check(); err != nil {
		return
	}
	it := btree.Iterator{Key: key, Hint: kv.hint}
	val, err = kv.tree.Search(&it, 0, &it)
	switch {
	case err == nil:
		kv.hint = it.Hint
	case errors.Is(err, bstree.ErrRecordNotFound):
		err = nil
	}
	return
}

// Set stores val under key. A nil val deletes key.
func (kv *KV[F]) Set(key []byte, val []byte) (err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err = kv.check(); err != nil {
		return
	}
	return kv.set(key, val)
}

func (kv *KV[F]) set(key, val []byte) (err error) {
	if val == nil {
		return kv.delete(key)
	}
	it := btree.Iterator{Key: key, Hint: kv.hint}
	err = kv.tree.Replace(&it, val)
	if errors.Is(err, bstree.ErrRecordNotFound) {
		err = kv.tree.Insert(&it, val)
	}
	kv.hint = it.Hint
	return
}

// Delete removes key. A missing key is not an error.
func (kv *KV[F]) Delete(key []byte) (err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err = kv.check(); err != nil {
		return
	}
	return kv.delete(key)
}

func (kv *KV[F]) delete(key []byte) error {
	it := btree.Iterator{Key: key}
	err := kv.tree.Delete(&it)
	kv.hint = btree.Hint{}
	if errors.Is(err, bstree.ErrRecordNotFound) {
		return nil
	}
	return err
}

// Batch applies changes in order under a single lock. A nil value deletes
// its key. Batch stops at the first error; changes applied before it are
// kept.
func (kv *KV[F]) Batch(sortedChanges func(yield func([]byte, []byte) bool)) (err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err = kv.check(); err != nil {
		return
	}
	n := 0
	sortedChanges(func(key, val []byte) bool {
		if err = kv.set(key, val); err != nil {
			return false
		}
		n++
		return true
	})
	if err != nil {
		kv.log.Warn("batch stopped", zap.Int("applied", n), zap.Error(err))
	}
	return
}

// Reserve grows the file ahead of n inserts.
func (kv *KV[F]) Reserve(n int) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.check(); err != nil {
		return err
	}
	return kv.tree.ReserveSpace(n)
}

// Range calls yield for every pair in key order until it returns false.
// The slices passed to yield are valid only during the call, and yield must
// not use kv.
func (kv *KV[F]) Range(yield func(key, val []byte) bool) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.check(); err != nil {
		return err
	}
	err := kv.tree.IterateRecords(nil, btree.First, yield)
	if errors.Is(err, bstree.ErrEmpty) {
		return nil
	}
	return err
}

// Len returns the number of stored pairs.
func (kv *KV[F]) Len() int {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.check() != nil {
		return 0
	}
	return int(kv.tree.Info().LeafRecords)
}

// Sync writes the tree header if it changed and commits the file to stable
// storage.
func (kv *KV[F]) Sync() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.check(); err != nil {
		return err
	}
	if err := kv.tree.Flush(); err != nil {
		return err
	}
	kv.tree.SetLastSync(time.Now())
	return nil
}

// Verify checks the whole tree file for structural damage.
func (kv *KV[F]) Verify() error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err := kv.check(); err != nil {
		return err
	}
	return kv.tree.Verify()
}

type Stats struct {
	Tree  btree.Info
	Cache store.Stats
}

func (kv *KV[F]) Stats() (stats Stats, err error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if err = kv.check(); err != nil {
		return
	}
	stats.Tree = kv.tree.Info()
	if s, ok := kv.tree.Store().(interface{ Stats() store.Stats }); ok {
		stats.Cache = s.Stats()
	}
	return
}
