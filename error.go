package bstree

import "github.com/cockroachdb/errors"

var (
	ErrInvalidFile      = errors.New("invalid btree file")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidHeader    = errors.New("invalid btree header")
	ErrUnknownVersion   = errors.New("unknown btree version")
	ErrInvalidNode      = errors.New("invalid btree node")
	ErrInvalidKeyLength = errors.New("invalid key length")
	ErrRecordNotFound   = errors.New("record not found")
	ErrDuplicateRecord  = errors.New("duplicate record")
	ErrRecordTooLarge   = errors.New("record too large")
	ErrEmpty            = errors.New("btree empty")
	ErrEndOfIteration   = errors.New("end of iteration")
	ErrStartOfIteration = errors.New("start of iteration")
	ErrOutOfSpace       = errors.New("out of space")
	ErrReadOnly         = errors.New("read-only")
	ErrClosed           = errors.New("closed")

	// ErrDamaged marks structural-integrity errors. A tree that returned an
	// error matching ErrDamaged needs repair before it can be trusted again.
	ErrDamaged = errors.New("btree damaged")
)
