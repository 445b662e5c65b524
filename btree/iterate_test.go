package btree

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

// fill inserts count keys "key-0000", "key-0001", ... with padded records so
// a 512 byte node holds only a few of them.
func fill(t *testing.T, tree *Tree, count int) []string {
	t.Helper()
	var out []string
	for i := range count {
		key := fmt.Sprintf("key-%04d", i)
		insert(t, tree, key, fmt.Sprintf("%-60d", i))
		out = append(out, key)
	}
	return out
}

func TestScenarioThreeRecords(t *testing.T) {
	tree, _ := newTree(t, 4096, 16)
	insert(t, tree, "aa", "1")
	insert(t, tree, "zz", "3")
	insert(t, tree, "mm", "2")
	require.EqualValues(t, 3, tree.Info().LeafRecords)
	require.EqualValues(t, 4, tree.Info().WriteCount)

	var it Iterator
	key, record, err := tree.Iterate(&it, First)
	require.NoError(t, err)
	require.Equal(t, "aa", string(key))
	require.Equal(t, "1", string(record))
	require.EqualValues(t, 1, it.HitCount)

	key, _, err = tree.Iterate(&it, Next)
	require.NoError(t, err)
	require.Equal(t, "mm", string(key))
	key, _, err = tree.Iterate(&it, Next)
	require.NoError(t, err)
	require.Equal(t, "zz", string(key))
	require.EqualValues(t, 3, it.HitCount)
	require.EqualValues(t, 3, it.MaxLeafRecs)

	_, _, err = tree.Iterate(&it, Next)
	require.ErrorIs(t, err, ErrEndOfIteration)
	require.Empty(t, it.Key, "error clears the key")
	require.Zero(t, it.Hint)
	requireUnpinned(t, tree)

	record, err = lookup(t, tree, "mm")
	require.NoError(t, err)
	require.Equal(t, "2", string(record))
	require.NoError(t, tree.Verify())
}

func TestIterateEmpty(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	for _, op := range []Operation{First, Last} {
		_, _, err := tree.Iterate(nil, op)
		require.ErrorIs(t, err, ErrEmpty)
		require.ErrorIs(t, tree.IterateRecords(nil, op, func(_, _ []byte) bool { return true }), ErrEmpty)
	}
	_, err := lookup(t, tree, "x")
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.ErrorIs(t, tree.Delete(&Iterator{Key: []byte("x")}), ErrRecordNotFound)
	require.ErrorIs(t, tree.Replace(&Iterator{Key: []byte("x")}, nil), ErrRecordNotFound)
	_, _, err = tree.Iterate(&Iterator{}, Operation(9))
	require.ErrorIs(t, err, ErrInvalidParameter)
	_, _, err = tree.Iterate(nil, Next)
	require.ErrorIs(t, err, ErrInvalidParameter)
	requireUnpinned(t, tree)
}

func TestIterateBothWays(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	want := fill(t, tree, 200)
	require.GreaterOrEqual(t, tree.Info().TreeDepth, 2)
	require.NoError(t, tree.Verify())

	var it Iterator
	var got []string
	key, _, err := tree.Iterate(&it, First)
	for ; err == nil; key, _, err = tree.Iterate(&it, Next) {
		got = append(got, string(key))
		requireUnpinned(t, tree)
	}
	require.ErrorIs(t, err, ErrEndOfIteration)
	require.Equal(t, want, got)

	got = got[:0]
	it = Iterator{}
	key, _, err = tree.Iterate(&it, Last)
	for ; err == nil; key, _, err = tree.Iterate(&it, Previous) {
		got = append([]string{string(key)}, got...)
	}
	require.ErrorIs(t, err, ErrStartOfIteration)
	require.Equal(t, want, got)
	requireUnpinned(t, tree)
}

func TestIterateFromMissingKey(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	fill(t, tree, 50)

	it := Iterator{Key: []byte("key-0010x")}
	key, _, err := tree.Iterate(&it, Next)
	require.NoError(t, err)
	require.Equal(t, "key-0011", string(key))

	it = Iterator{Key: []byte("key-0010x")}
	key, _, err = tree.Iterate(&it, Previous)
	require.NoError(t, err)
	require.Equal(t, "key-0010", string(key))

	// Current on a missing key lands on the record after it
	it = Iterator{Key: []byte("key-0010x")}
	key, _, err = tree.Iterate(&it, Current)
	require.NoError(t, err)
	require.Equal(t, "key-0011", string(key))
	require.Equal(t, "key-0011", string(it.Key))

	it = Iterator{Key: []byte("z")}
	_, _, err = tree.Iterate(&it, Current)
	require.ErrorIs(t, err, ErrEndOfIteration)
	require.Empty(t, it.Key)

	it = Iterator{Key: []byte("a")}
	_, _, err = tree.Iterate(&it, Previous)
	require.ErrorIs(t, err, ErrStartOfIteration)
	it = Iterator{Key: []byte("a")}
	key, _, err = tree.Iterate(&it, Next)
	require.NoError(t, err)
	require.Equal(t, "key-0000", string(key))

	it = Iterator{Key: []byte("z")}
	_, _, err = tree.Iterate(&it, Next)
	require.ErrorIs(t, err, ErrEndOfIteration)
	requireUnpinned(t, tree)
}

func TestCurrentInsideLeaf(t *testing.T) {
	tree, _ := newTree(t, 4096, 16)
	insert(t, tree, "aa", "1")
	insert(t, tree, "mm", "2")
	insert(t, tree, "zz", "3")

	for _, tc := range []struct{ from, want string }{
		{"a", "aa"},
		{"aa", "aa"},
		{"bb", "mm"},
		{"n", "zz"},
	} {
		it := Iterator{Key: []byte(tc.from)}
		key, record, err := tree.Iterate(&it, Current)
		require.NoError(t, err, tc.from)
		require.Equal(t, tc.want, string(key), tc.from)
		require.NotEmpty(t, record)
	}

	it := Iterator{Key: []byte("zzz")}
	_, _, err := tree.Iterate(&it, Current)
	require.ErrorIs(t, err, ErrEndOfIteration)
	require.Zero(t, it.Hint)

	var got []string
	require.NoError(t, tree.IterateRecords(&Iterator{Key: []byte("bb")}, Current, func(key, _ []byte) bool {
		got = append(got, string(key))
		return true
	}))
	require.Equal(t, []string{"mm", "zz"}, got)
	requireUnpinned(t, tree)
}

func TestIterateRecordsFromGap(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	want := fill(t, tree, 60)

	// keys just after each record, several past the end of a leaf
	for i, key := range want[:len(want)-1] {
		var got []string
		err := tree.IterateRecords(&Iterator{Key: []byte(key + "x")}, Current, func(key, _ []byte) bool {
			got = append(got, string(key))
			return len(got) < 2
		})
		require.NoError(t, err, key)
		require.Equal(t, want[i+1:min(i+3, len(want))], got, key)
	}
	require.NoError(t, tree.IterateRecords(&Iterator{Key: []byte("z")}, Current, func(_, _ []byte) bool {
		t.Fatal("yield past the last record")
		return false
	}))
	requireUnpinned(t, tree)
}

func TestIterateRecords(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	want := fill(t, tree, 120)

	require.Equal(t, want, keys(t, tree))

	var backward []string
	require.NoError(t, tree.IterateRecords(nil, Last, func(key, _ []byte) bool {
		backward = append(backward, string(key))
		return true
	}))
	require.Len(t, backward, len(want))
	require.Equal(t, want[len(want)-1], backward[0])
	require.Equal(t, want[0], backward[len(backward)-1])

	// stop early; the iterator is left on the last record seen
	var it Iterator
	n := 0
	require.NoError(t, tree.IterateRecords(&it, First, func(_, _ []byte) bool {
		n++
		return n < 30
	}))
	require.Equal(t, want[29], string(it.Key))
	require.EqualValues(t, 30, it.HitCount)
	requireUnpinned(t, tree)

	// resume after it
	var rest []string
	require.NoError(t, tree.IterateRecords(&it, Next, func(key, _ []byte) bool {
		rest = append(rest, string(key))
		return true
	}))
	require.Equal(t, want[30:], rest)
	require.Equal(t, want[len(want)-1], string(it.Key))

	// nothing after the last record
	called := false
	require.NoError(t, tree.IterateRecords(&it, Next, func(_, _ []byte) bool {
		called = true
		return true
	}))
	require.False(t, called)
	require.ErrorIs(t, tree.IterateRecords(&it, Next, nil), ErrInvalidParameter)
	requireUnpinned(t, tree)
}

func TestSearch(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	fill(t, tree, 80)

	search := Iterator{Key: []byte("key-0042")}
	var result Iterator
	record, err := tree.Search(&search, 0, &result)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%-60d", 42), string(record))
	require.Equal(t, "key-0042", string(result.Key))
	require.True(t, tree.ValidateHint(&result))

	// result may alias search
	record, err = tree.Search(&result, 0, &result)
	require.NoError(t, err)
	require.Equal(t, fmt.Sprintf("%-60d", 42), string(record))

	missing := Iterator{Key: []byte("key-0042a")}
	_, err = tree.Search(&missing, 0, &result)
	require.ErrorIs(t, err, ErrRecordNotFound)
	require.Equal(t, "key-0042a", string(result.Key))
	require.NotZero(t, result.Hint.NodeNum, "not found still points at the insertion node")

	require.ErrorIs(t, func() error { _, err := tree.Search(nil, 0, &result); return err }(), ErrInvalidParameter)
	requireUnpinned(t, tree)
}

func TestHints(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	fill(t, tree, 80)

	var it Iterator
	_, err := tree.Search(&Iterator{Key: []byte("key-0007")}, 0, &it)
	require.NoError(t, err)
	require.True(t, tree.ValidateHint(&it))

	hits := tree.Info().ValidHints
	_, err = tree.Search(&it, 0, &it)
	require.NoError(t, err)
	require.Equal(t, hits+1, tree.Info().ValidHints, "hint used")

	// any structural change invalidates every hint
	insert(t, tree, "key-0007a", "x")
	require.False(t, tree.ValidateHint(&it))
	hits = tree.Info().ValidHints
	_, err = tree.Search(&it, 0, &it)
	require.NoError(t, err)
	require.Equal(t, hits, tree.Info().ValidHints, "stale hint ignored")
	require.True(t, tree.ValidateHint(&it), "result carries a fresh hint")

	require.NoError(t, tree.InvalidateHint(&it))
	require.NoError(t, tree.InvalidateHint(&it))
	require.False(t, tree.ValidateHint(&it))
	require.Zero(t, it.Hint.NodeNum)
	require.ErrorIs(t, tree.InvalidateHint(nil), ErrInvalidParameter)
	require.False(t, tree.ValidateHint(nil))
}

func TestHintToMissingNode(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	fill(t, tree, 20)

	for _, num := range []NodeNum{tree.Info().TotalNodes + 100, 1 << 30} {
		it := Iterator{Key: []byte("key-0005"), Hint: Hint{WriteCount: tree.Info().WriteCount, NodeNum: num}}
		require.True(t, tree.ValidateHint(&it))
		var result Iterator
		record, err := tree.Search(&it, 0, &result)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("%-60d", 5), string(record))
		require.Zero(t, it.Hint.NodeNum, "missed hint is invalidated")

		it.Hint.NodeNum = num
		key, _, err := tree.Iterate(&it, Current)
		require.NoError(t, err)
		require.Equal(t, "key-0005", string(key))
		requireUnpinned(t, tree)
	}
	require.False(t, tree.Damaged())
}

func TestHintNeighbours(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	want := fill(t, tree, 60)

	// find two adjacent leaves
	var it Iterator
	_, _, err := tree.Iterate(&it, First)
	require.NoError(t, err)
	first := it.Hint.NodeNum
	var second NodeNum
	var boundary int
	for i := 1; i < len(want); i++ {
		_, _, err = tree.Iterate(&it, Next)
		require.NoError(t, err)
		if it.Hint.NodeNum != first {
			second, boundary = it.Hint.NodeNum, i
			break
		}
	}
	require.NotZero(t, second)
	wc := tree.Info().WriteCount

	// key in the left leaf, hint to the right one
	left := Iterator{Key: []byte(want[boundary-1]), Hint: Hint{WriteCount: wc, NodeNum: second}}
	key, _, err := tree.Iterate(&left, Current)
	require.NoError(t, err)
	require.Equal(t, want[boundary-1], string(key))
	require.Equal(t, first, left.Hint.NodeNum)

	// key in the right leaf, hint to the left one
	right := Iterator{Key: []byte(want[boundary]), Hint: Hint{WriteCount: wc, NodeNum: first}}
	key, _, err = tree.Iterate(&right, Current)
	require.NoError(t, err)
	require.Equal(t, want[boundary], string(key))
	require.Equal(t, second, right.Hint.NodeNum)

	// previous across the boundary from a hinted position
	key, _, err = tree.Iterate(&right, Previous)
	require.NoError(t, err)
	require.Equal(t, want[boundary-1], string(key))
	key, _, err = tree.Iterate(&right, Next)
	require.NoError(t, err)
	require.Equal(t, want[boundary], string(key))
	requireUnpinned(t, tree)
}

func TestLoopCheck(t *testing.T) {
	f := newFile(t, 512, 16)
	opt := &testOption{t: t, loopCheck: LoopCheckFail}
	tree := openTree(t, f, opt)
	fill(t, tree, 40)
	info := tree.Info()
	require.NotEqual(t, info.FirstLeafNode, info.LastLeafNode)

	// close the leaf chain into a ring
	buf, err := tree.store.Fetch(info.LastLeafNode)
	require.NoError(t, err)
	buf.Node().SetFLink(info.FirstLeafNode)
	buf.MarkDirty()
	require.NoError(t, tree.store.Release(buf, false))

	// without an iterator there is no hit count to check
	visited := 0
	require.NoError(t, tree.IterateRecords(nil, First, func(_, _ []byte) bool {
		visited++
		return visited < 1000
	}))
	require.Equal(t, 1000, visited)

	visited = 0
	var it Iterator
	err = tree.IterateRecords(&it, First, func(_, _ []byte) bool {
		visited++
		return visited < 1000
	})
	require.ErrorIs(t, err, ErrInvalidNode)
	require.ErrorIs(t, err, ErrDamaged)
	require.True(t, tree.Damaged())
	require.Len(t, opt.damage, 1)
	require.EqualValues(t, 40+loopSlack, visited)
	requireUnpinned(t, tree)
}

func TestLoopCheckWarn(t *testing.T) {
	tree, _ := newTree(t, 512, 16)
	fill(t, tree, 40)
	info := tree.Info()
	buf, err := tree.store.Fetch(info.LastLeafNode)
	require.NoError(t, err)
	buf.Node().SetFLink(info.FirstLeafNode)
	buf.MarkDirty()
	require.NoError(t, tree.store.Release(buf, false))

	var it Iterator
	visited := 0
	require.NoError(t, tree.IterateRecords(&it, First, func(_, _ []byte) bool {
		visited++
		return visited < 100
	}))
	require.Equal(t, 100, visited)
	require.False(t, tree.Damaged())
}

func TestDamagedNode(t *testing.T) {
	f := newFile(t, 512, 16)
	opt := &testOption{t: t}
	tree := openTree(t, f, opt)
	fill(t, tree, 40)
	root := tree.Info().RootNode

	_, err := f.WriteAt(make([]byte, 512), int64(root)*512)
	require.NoError(t, err)
	require.NoError(t, tree.store.Purge())

	_, err = lookup(t, tree, "key-0001")
	require.ErrorIs(t, err, ErrInvalidNode)
	require.ErrorIs(t, err, ErrDamaged)
	require.True(t, tree.Damaged())
	require.True(t, tree.Info().Damaged)
	require.NotEmpty(t, opt.damage)
}
