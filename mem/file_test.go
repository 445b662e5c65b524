package mem

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFileReadWrite(t *testing.T) {
	var f File
	defer f.Close()

	n, err := f.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)

	_, err = f.WriteAt([]byte("world"), 10)
	require.NoError(t, err)
	require.EqualValues(t, 15, f.Size())

	buf := make([]byte, 5)
	_, err = f.ReadAt(buf, 10)
	require.NoError(t, err)
	require.Equal(t, "world", string(buf))

	_, err = f.ReadAt(buf, 5)
	require.NoError(t, err)
	require.Equal(t, make([]byte, 5), buf, "gap is zero filled")

	n, err = f.ReadAt(buf, 13)
	require.ErrorIs(t, err, io.EOF)
	require.Equal(t, 2, n)
}

func TestFileTruncateZeroes(t *testing.T) {
	var f File
	_, err := f.WriteAt([]byte("abcdef"), 0)
	require.NoError(t, err)

	require.NoError(t, f.Truncate(2))
	require.NoError(t, f.Truncate(6))

	require.Equal(t, []byte{'a', 'b', 0, 0, 0, 0}, f.Bytes())
}

func TestFileExtents(t *testing.T) {
	var f File
	require.NoError(t, f.Truncate(4096))

	runs, err := f.Extents()
	require.NoError(t, err)
	require.Equal(t, []int64{4096}, runs)

	f.SetExtents(1024, 3072)
	runs, err = f.Extents()
	require.NoError(t, err)
	require.Equal(t, []int64{1024, 3072}, runs)
}

func TestFileFault(t *testing.T) {
	var f File
	boom := errors.New("boom")
	f.SetFault(func(op Op, off int64, n int) error {
		if op == OpWrite && off >= 512 {
			return boom
		}
		return nil
	})

	_, err := f.WriteAt([]byte("ok"), 0)
	require.NoError(t, err)

	_, err = f.WriteAt([]byte("no"), 512)
	require.ErrorIs(t, err, boom)
	require.EqualValues(t, 2, f.Size())

	f.SetFault(nil)
	_, err = f.WriteAt([]byte("no"), 512)
	require.NoError(t, err)
}

func TestFileClone(t *testing.T) {
	var f File
	_, err := f.WriteAt([]byte("snapshot"), 0)
	require.NoError(t, err)

	c := f.Clone()
	_, err = f.WriteAt([]byte("S"), 0)
	require.NoError(t, err)

	require.Equal(t, "snapshot", string(c.Bytes()))
}
