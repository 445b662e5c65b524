//go:build debug

package btree

import "github.com/cockroachdb/errors"

// assertUnpinned panics if an operation left nodes pinned.
// Only enabled with -tags debug.
func assertUnpinned(method string, store NodeStore) {
	if n := store.Pinned(); n != 0 {
		panic(errors.AssertionFailedf("%s: %d nodes pinned", method, n))
	}
}
