package iterator_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dacapoday/bstree/iterator"
	"github.com/dacapoday/bstree/kv"
	"github.com/dacapoday/bstree/mem"
)

func newStore(t *testing.T, n int) *kv.KV[*mem.File] {
	store := new(kv.KV[*mem.File])
	require.NoError(t, store.LoadOptions(new(mem.File), kv.Options{NodeSize: 512, MaxKeyLength: 16}))
	t.Cleanup(func() { store.Close() })
	for i := range n {
		require.NoError(t, store.Set(fmt.Appendf(nil, "k%03d", i), fmt.Appendf(nil, "v%d", i)))
	}
	return store
}

func TestAll(t *testing.T) {
	store := newStore(t, 100)
	it := store.Iter()
	defer it.Close()

	var keys []string
	for key, val := range iterator.All(it, nil) {
		require.Equal(t, fmt.Sprintf("v%d", len(keys)), string(val))
		keys = append(keys, string(key))
	}
	require.NoError(t, it.Error())
	require.Len(t, keys, 100)
	require.Equal(t, "k000", keys[0])
	require.Equal(t, "k099", keys[99])

	keys = keys[:0]
	for key := range iterator.All(it, []byte("k09")) {
		keys = append(keys, string(key))
	}
	require.Equal(t, []string{"k090", "k091", "k092", "k093", "k094", "k095", "k096", "k097", "k098", "k099"}, keys)

	n := 0
	for range iterator.All(it, []byte("k050")) {
		n++
		if n == 3 {
			break
		}
	}
	require.Equal(t, 3, n)
	require.Equal(t, "k052", string(it.Key()))
}

func TestBackward(t *testing.T) {
	store := newStore(t, 40)
	it := store.Iter()
	defer it.Close()

	want := 39
	for key, val := range iterator.Backward(it) {
		require.Equal(t, fmt.Sprintf("k%03d", want), string(key))
		require.Equal(t, fmt.Sprintf("v%d", want), string(val))
		want--
	}
	require.Equal(t, -1, want)
	require.NoError(t, it.Error())
}

func TestEmpty(t *testing.T) {
	store := newStore(t, 0)
	it := store.Iter()
	defer it.Close()

	for range iterator.All(it, nil) {
		t.Fatal("empty store yielded a record")
	}
	for range iterator.Backward(it) {
		t.Fatal("empty store yielded a record")
	}
	require.NoError(t, it.Error())
}
