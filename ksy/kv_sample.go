// kv_sample writes kv_sample.kv, a small store with a few splits and
// maximum-size records, for trying btview on.
package main

import (
	"bytes"
	"fmt"

	"go.uber.org/zap"

	"github.com/dacapoday/bstree/kv"
)

func main() {
	log, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := kv.OpenWith("kv_sample.kv", kv.Options{NodeSize: 512, MaxKeyLength: 64, Logger: log})
	if err != nil {
		panic(err)
	}
	defer db.Close()

	err = db.Set([]byte("hello"), []byte("world"))
	if err != nil {
		panic(err)
	}

	err = db.Batch(func(yield func([]byte, []byte) bool) {
		for i := range 1000 {
			if !yield(fmt.Appendf(nil, "bk%05dke", i), fmt.Appendf(nil, "bv%05dve", i)) {
				return
			}
		}
	})
	if err != nil {
		panic(err)
	}

	// largest key and largest record the layout accepts
	key := append([]byte("bigkey["), bytes.Repeat([]byte{'k'}, 64-len("bigkey[]"))...)
	key = append(key, ']')
	err = db.Set(key, []byte("bigkey-val"))
	if err != nil {
		panic(err)
	}

	val := append([]byte("bigval["), bytes.Repeat([]byte{'v'}, 200)...)
	val = append(val, ']')
	err = db.Set([]byte("bigval-key"), val)
	if err != nil {
		panic(err)
	}

	if err = db.Verify(); err != nil {
		panic(err)
	}
	stats, _ := db.Stats()
	log.Info("sample written",
		zap.Int("depth", stats.Tree.TreeDepth),
		zap.Uint32("records", stats.Tree.LeafRecords),
		zap.Uint32("nodes", stats.Tree.TotalNodes))
}
