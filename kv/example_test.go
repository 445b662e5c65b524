package kv_test

import (
	"fmt"
	"os"

	"github.com/dacapoday/bstree/kv"
)

func tempPath() string {
	f, err := os.CreateTemp("", "example-*.kv")
	if err != nil {
		panic(err)
	}
	f.Close()
	return f.Name()
}

func Example() {
	path := tempPath()
	defer os.Remove(path)

	// Open creates or opens a store file
	db, err := kv.Open(path)
	if err != nil {
		panic(err)
	}

	// Set a key-value pair
	db.Set([]byte("hello"), []byte("world"))

	// Get the value for a key
	hello, _ := db.Get([]byte("hello"))
	fmt.Printf("hello: %s\n", hello)

	// Delete by setting value to nil
	db.Set([]byte("hello"), nil)
	hello, _ = db.Get([]byte("hello"))
	fmt.Printf("hello: %v\n", hello)

	// Close writes the header and closes the file
	db.Close()

	// Output:
	// hello: world
	// hello: []
}

func ExampleKV_Batch() {
	path := tempPath()
	defer os.Remove(path)

	db, err := kv.Open(path)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	err = db.Batch(func(yield func([]byte, []byte) bool) {
		if !yield([]byte("2"), []byte("Venus")) {
			return
		}
		if !yield([]byte("3"), []byte("Earth")) {
			return
		}
		if !yield([]byte("4"), []byte("Mars")) {
			return
		}
	})
	if err != nil {
		panic(err)
	}

	second, _ := db.Get([]byte("2"))
	third, _ := db.Get([]byte("3"))
	fourth, _ := db.Get([]byte("4"))

	fmt.Printf("2nd planet: %s\n", second)
	fmt.Printf("3rd planet: %s\n", third)
	fmt.Printf("4th planet: %s\n", fourth)

	// Output:
	// 2nd planet: Venus
	// 3rd planet: Earth
	// 4th planet: Mars
}

func ExampleKV_Iter() {
	path := tempPath()
	defer os.Remove(path)

	db, err := kv.Open(path)
	if err != nil {
		panic(err)
	}
	defer db.Close()

	db.Set([]byte("Mars"), []byte("Red Planet"))
	db.Set([]byte("Jupiter"), []byte("Gas Giant"))
	db.Set([]byte("Saturn"), []byte("Ringed"))

	iter := db.Iter()
	defer iter.Close()

	for iter.SeekFirst(); iter.Valid(); iter.Next() {
		fmt.Printf("%s: %s\n", iter.Key(), iter.Val())
	}

	// Seek lands on the first key not before the given one
	iter.Seek([]byte("N"))
	fmt.Printf("after N: %s\n", iter.Key())

	// Output:
	// Jupiter: Gas Giant
	// Mars: Red Planet
	// Saturn: Ringed
	// after N: Saturn
}

func ExampleKV_Stats() {
	path := tempPath()
	defer os.Remove(path)

	db, err := kv.OpenWith(path, kv.Options{NodeSize: 512, MaxKeyLength: 32})
	if err != nil {
		panic(err)
	}
	defer db.Close()

	for _, planet := range []string{"Mercury", "Venus", "Earth", "Mars"} {
		db.Set([]byte(planet), []byte("planet"))
	}

	stats, _ := db.Stats()
	fmt.Printf("node size %d, depth %d, %d records\n",
		stats.Tree.NodeSize, stats.Tree.TreeDepth, stats.Tree.LeafRecords)

	// Output:
	// node size 512, depth 1, 4 records
}
