package btree

import (
	stderrors "errors"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestMarkMatchesBothPackages(t *testing.T) {
	base := errors.Wrap(ErrInvalidNode, "node 7")
	err := errors.Wrap(mark(base, ErrDamaged), "delete")

	for _, target := range []error{ErrDamaged, ErrInvalidNode} {
		require.True(t, stderrors.Is(err, target), target)
		require.True(t, errors.Is(err, target), target)
	}
	require.False(t, stderrors.Is(err, ErrOutOfSpace))
	require.False(t, errors.Is(err, ErrOutOfSpace))
	require.Equal(t, "delete: node 7: "+ErrInvalidNode.Error(), err.Error())
}

func TestDamageMarksOnce(t *testing.T) {
	opt := &testOption{t: t}
	tree := openTree(t, newFile(t, 512, 16), opt)

	err := tree.damage(errors.Wrap(ErrInvalidNode, "node 3"))
	require.ErrorIs(t, err, ErrDamaged)
	require.True(t, stderrors.Is(err, ErrInvalidNode))
	require.True(t, tree.Info().Damaged)
	require.Len(t, opt.damage, 1)

	again := tree.damage(errors.Wrap(err, "again"))
	require.ErrorIs(t, again, ErrDamaged)
	require.Len(t, opt.damage, 1, "already damaged errors are not reported twice")
}
