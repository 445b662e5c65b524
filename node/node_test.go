package node

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/bstree"
)

var smallKeys = Format{MaxKeyLength: 16}

func newLeaf(size int) Node {
	n := make(Node, size)
	n.Init(Leaf, 1)
	return n
}

func TestNodeDescriptor(t *testing.T) {
	n := make(Node, MinSize)
	n.Init(Index, 3)
	n.SetFLink(7)
	n.SetBLink(9)

	require.Equal(t, Index, n.Kind())
	require.EqualValues(t, 3, n.Height())
	require.EqualValues(t, 7, n.FLink())
	require.EqualValues(t, 9, n.BLink())
	require.Equal(t, 0, n.NumRecords())
	require.Equal(t, MinSize-DescriptorSize-2, n.FreeSize())
	require.NoError(t, n.Check())
	require.False(t, n.IsLeaf(), "empty index node")
}

func TestNodeInsertDeleteOrder(t *testing.T) {
	n := newLeaf(MinSize)
	for _, k := range []string{"b", "d", "a", "c"} {
		found, index := smallKeys.Search(n, []byte(k), bytes.Compare)
		require.False(t, found)
		require.True(t, n.Insert(index, smallKeys.LeafRecord([]byte(k), []byte("v"+k))))
	}
	require.NoError(t, smallKeys.Check(n))
	require.Equal(t, 4, n.NumRecords())
	for i, k := range []string{"a", "b", "c", "d"} {
		require.Equal(t, k, string(smallKeys.KeyAt(n, i)))
		require.Equal(t, "v"+k, string(smallKeys.DataAt(n, i)))
	}

	found, index := smallKeys.Search(n, []byte("c"), bytes.Compare)
	require.True(t, found)
	require.Equal(t, 2, index)

	n.Delete(index)
	require.NoError(t, smallKeys.Check(n))
	require.Equal(t, 3, n.NumRecords())
	require.Equal(t, "d", string(smallKeys.KeyAt(n, 2)))

	found, index = smallKeys.Search(n, []byte("z"), bytes.Compare)
	require.False(t, found)
	require.Equal(t, 3, index)
}

func TestNodeInsertFull(t *testing.T) {
	n := newLeaf(MinSize)
	val := make([]byte, 100)
	inserted := 0
	for i := 0; ; i++ {
		rec := smallKeys.LeafRecord(fmt.Appendf(nil, "%04d", i), val)
		if !n.Insert(n.NumRecords(), rec) {
			break
		}
		inserted++
	}
	require.Equal(t, 4, inserted)
	before := bytes.Clone(n)
	require.False(t, n.Insert(0, smallKeys.LeafRecord([]byte("x"), val)))
	require.Equal(t, before, []byte(n), "failed insert leaves node untouched")
}

func TestNodeDeleteAll(t *testing.T) {
	n := newLeaf(MinSize)
	for i := range 10 {
		require.True(t, n.Insert(i, smallKeys.LeafRecord(fmt.Appendf(nil, "k%d", i), nil)))
	}
	for n.NumRecords() > 0 {
		n.Delete(0)
	}
	empty := newLeaf(MinSize)
	require.Equal(t, []byte(empty), []byte(n), "deleting everything restores a pristine node")
}

func TestNodeMoveTo(t *testing.T) {
	src := newLeaf(MinSize)
	dst := newLeaf(MinSize)
	for i := range 6 {
		require.True(t, src.Insert(i, smallKeys.LeafRecord(fmt.Appendf(nil, "k%d", i), []byte{byte(i)})))
	}
	require.True(t, dst.Insert(0, smallKeys.LeafRecord([]byte("a"), nil)))

	require.True(t, src.MoveTo(dst, 4))
	require.NoError(t, smallKeys.Check(src))
	require.NoError(t, smallKeys.Check(dst))
	require.Equal(t, 4, src.NumRecords())
	require.Equal(t, 3, dst.NumRecords())
	require.Equal(t, "k4", string(smallKeys.KeyAt(dst, 1)))
	require.Equal(t, []byte{5}, smallKeys.DataAt(dst, 2))

	full := newLeaf(MinSize)
	require.True(t, full.Insert(0, smallKeys.LeafRecord([]byte("big"), make([]byte, 480))))
	require.False(t, src.MoveTo(full, 0))
	require.Equal(t, 4, src.NumRecords())
}

func TestIndexRecords(t *testing.T) {
	fixed := Format{MaxKeyLength: 10}
	rec := fixed.IndexRecord([]byte("abc"), 42)
	require.Len(t, rec, 1+10+4)
	require.Equal(t, "abc", string(fixed.Key(rec)))
	require.EqualValues(t, 42, fixed.Child(rec))

	variable := Format{MaxKeyLength: 300, BigKeys: true, VariableIndexKeys: true}
	rec = variable.IndexRecord([]byte("abc"), 7)
	require.Len(t, rec, 2+3+4)
	require.Equal(t, "abc", string(variable.Key(rec)))
	require.EqualValues(t, 7, variable.Child(rec))

	n := make(Node, MinSize)
	n.Init(Index, 2)
	require.True(t, n.Insert(0, rec))
	require.NoError(t, variable.Check(n))
	require.EqualValues(t, 7, variable.ChildAt(n, 0))
}

func TestChildIndex(t *testing.T) {
	n := make(Node, MinSize)
	n.Init(Index, 2)
	for i, k := range []string{"m", "p", "t"} {
		require.True(t, n.Insert(i, smallKeys.IndexRecord([]byte(k), NodeNum(10+i))))
	}
	for key, want := range map[string]int{
		"a": 0, // below the stale first key
		"m": 0,
		"o": 0,
		"p": 1,
		"q": 1,
		"t": 2,
		"z": 2,
	} {
		require.Equal(t, want, smallKeys.ChildIndex(n, []byte(key), bytes.Compare), key)
	}

	one := make(Node, MinSize)
	one.Init(Index, 2)
	require.True(t, one.Insert(0, smallKeys.IndexRecord([]byte("m"), 3)))
	require.Equal(t, 0, smallKeys.ChildIndex(one, []byte("a"), bytes.Compare))
	require.Equal(t, 0, smallKeys.ChildIndex(one, []byte("z"), bytes.Compare))
}

func TestCheckRejectsCorruption(t *testing.T) {
	n := newLeaf(MinSize)
	require.True(t, n.Insert(0, smallKeys.LeafRecord([]byte("a"), []byte("1"))))
	require.True(t, n.Insert(1, smallKeys.LeafRecord([]byte("b"), []byte("2"))))

	bad := bytes.Clone(n)
	Node(bad).setOffset(1, 5000)
	require.ErrorIs(t, Node(bad).Check(), bstree.ErrInvalidNode)

	bad = bytes.Clone(n)
	bad[8] = 9
	require.ErrorIs(t, Node(bad).Check(), bstree.ErrInvalidNode)

	bad = bytes.Clone(n)
	bad[DescriptorSize] = 200
	require.ErrorIs(t, smallKeys.Check(Node(bad)), bstree.ErrInvalidNode)
}

func TestValidSize(t *testing.T) {
	for _, size := range []int{512, 1024, 2048, 4096, 8192, 16384, 32768} {
		require.True(t, ValidSize(size), size)
	}
	for _, size := range []int{0, 256, 513, 3000, 65536} {
		require.False(t, ValidSize(size), size)
	}
}
