// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package btree

// pathTable records a descent from the root to a leaf, indexed by level:
// path[1] is the leaf, path[treeDepth] the root. Entry 0 is unused.
//
// For an index level, Index is the record whose child was followed.
// For the leaf, Index is where the key was found or would be inserted.
type pathTable [maxTreeDepth + 1]level

type level struct {
	Node  NodeNum
	Index int
}

// parent returns the entry above lvl and whether there is one.
func (p *pathTable) parent(lvl, depth int) (level, bool) {
	if lvl >= depth {
		return level{}, false
	}
	return p[lvl+1], true
}
