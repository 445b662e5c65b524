package btree

import (
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/dacapoday/bstree"
)

var (
	ErrInvalidFile      = bstree.ErrInvalidFile
	ErrInvalidParameter = bstree.ErrInvalidParameter
	ErrInvalidHeader    = bstree.ErrInvalidHeader
	ErrUnknownVersion   = bstree.ErrUnknownVersion
	ErrInvalidNode      = bstree.ErrInvalidNode
	ErrInvalidKeyLength = bstree.ErrInvalidKeyLength
	ErrRecordNotFound   = bstree.ErrRecordNotFound
	ErrDuplicateRecord  = bstree.ErrDuplicateRecord
	ErrRecordTooLarge   = bstree.ErrRecordTooLarge
	ErrEmpty            = bstree.ErrEmpty
	ErrEndOfIteration   = bstree.ErrEndOfIteration
	ErrStartOfIteration = bstree.ErrStartOfIteration
	ErrOutOfSpace       = bstree.ErrOutOfSpace
	ErrReadOnly         = bstree.ErrReadOnly
	ErrDamaged          = bstree.ErrDamaged
)

// canonical maps the internal "tree is empty" outcome of a descent to the
// not-found error callers of Search, Replace and Delete expect.
func canonical(err error) error {
	if errors.Is(err, ErrEmpty) {
		return ErrRecordNotFound
	}
	return err
}

// marked attaches a sentinel to an error without changing its message.
type marked struct {
	cause error
	mark  error
}

func (e *marked) Error() string        { return e.cause.Error() }
func (e *marked) Unwrap() error        { return e.cause }
func (e *marked) Is(target error) bool { return target == e.mark }

// mark tags err with sentinel m. errors.Mark alone is seen only by
// cockroachdb/errors; marked makes m match the standard errors.Is too.
func mark(err, m error) error {
	return errors.Mark(&marked{cause: err, mark: m}, m)
}

// damage flags the tree as structurally damaged and marks err so callers can
// match it with ErrDamaged.
func (tree *Tree) damage(err error) error {
	if errors.Is(err, ErrDamaged) {
		return err
	}
	tree.damaged = true
	tree.log.Error("btree damaged", zap.Error(err))
	if tree.onDamage != nil {
		tree.onDamage(err)
	}
	return mark(err, ErrDamaged)
}

// corrupt passes err through damage when it reports an invalid node.
// I/O errors from the store are returned unchanged.
func (tree *Tree) corrupt(err error) error {
	if err != nil && errors.Is(err, ErrInvalidNode) {
		return tree.damage(err)
	}
	return err
}
