//go:build !debug

package btree

// assertUnpinned is a no-op in production.
// Enable with -tags debug for runtime checks.
func assertUnpinned(string, NodeStore) {}
