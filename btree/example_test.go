package btree_test

import (
	"bytes"
	"fmt"

	"github.com/dacapoday/bstree/btree"
	"github.com/dacapoday/bstree/mem"
)

func Example() {
	var f mem.File
	if err := btree.Create(&f, btree.Layout{NodeSize: 4096, MaxKeyLength: 16}); err != nil {
		panic(err)
	}
	tree, err := btree.Open(&f, bytes.Compare, nil)
	if err != nil {
		panic(err)
	}
	defer tree.Close()

	for _, kv := range [][2]string{{"aa", "first"}, {"zz", "last"}, {"mm", "middle"}} {
		it := &btree.Iterator{Key: []byte(kv[0])}
		if err := tree.Insert(it, []byte(kv[1])); err != nil {
			panic(err)
		}
	}

	var it btree.Iterator
	key, record, err := tree.Iterate(&it, btree.First)
	for ; err == nil; key, record, err = tree.Iterate(&it, btree.Next) {
		fmt.Printf("%s=%s\n", key, record)
	}
	fmt.Println(err)

	// Output:
	// aa=first
	// mm=middle
	// zz=last
	// end of iteration
}

func ExampleTree_Search() {
	var f mem.File
	_ = btree.Create(&f, btree.Layout{NodeSize: 512, MaxKeyLength: 8})
	tree, _ := btree.Open(&f, bytes.Compare, nil)
	defer tree.Close()

	_ = tree.Insert(&btree.Iterator{Key: []byte("apple")}, []byte("red"))

	// the result iterator carries a hint that makes the next lookup cheap
	var result btree.Iterator
	record, _ := tree.Search(&btree.Iterator{Key: []byte("apple")}, 0, &result)
	fmt.Printf("%s %v\n", record, tree.ValidateHint(&result))

	_, err := tree.Search(&btree.Iterator{Key: []byte("pear")}, 0, &result)
	fmt.Println(err)

	// Output:
	// red true
	// record not found
}

func ExampleTree_IterateRecords() {
	var f mem.File
	_ = btree.Create(&f, btree.Layout{NodeSize: 512, MaxKeyLength: 8})
	tree, _ := btree.Open(&f, bytes.Compare, nil)
	defer tree.Close()

	for _, k := range []string{"c", "a", "d", "b"} {
		_ = tree.Insert(&btree.Iterator{Key: []byte(k)}, []byte(k+k))
	}
	_ = tree.IterateRecords(nil, btree.Last, func(key, record []byte) bool {
		fmt.Printf("%s:%s ", key, record)
		return true
	})
	fmt.Println()

	// Output:
	// d:dd c:cc b:bb a:aa
}
