// Package iterator defines the cursor shape shared by ordered stores.
package iterator

import "iter"

// Iterator is a cursor over records sorted by key.
//
// Usage:
//
//	for it.SeekFirst(); it.Valid(); it.Next() {
//	    key, val := it.Key(), it.Val()
//	    // process key, val
//	}
//	if err := it.Error(); err != nil {
//	    // handle error
//	}
type Iterator interface {
	// Valid reports whether the cursor is on a record.
	// After a move that returned false, Error tells a failure from the end
	// of the data.
	Valid() bool

	// Error returns the failure of the last move, or nil when it simply ran
	// off either end or found nothing.
	Error() error

	// Key returns the key under the cursor. The slice is valid until the
	// next move. It is undefined when Valid is false.
	Key() []byte

	// Val returns the value under the cursor. The slice is valid until the
	// next move. It is undefined when Valid is false.
	Val() []byte

	// Next moves to the following key and reports whether there is one.
	Next() bool

	// Prev moves to the preceding key and reports whether there is one.
	Prev() bool

	// SeekFirst moves to the smallest key.
	SeekFirst() bool

	// SeekLast moves to the largest key.
	SeekLast() bool

	// Seek moves to the first key not less than key.
	Seek(key []byte) bool
}

// All yields the records from the cursor position onward, starting with
// SeekFirst when from is nil and Seek(from) otherwise. Check it.Error when
// the sequence ends.
func All(it Iterator, from []byte) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		var ok bool
		if from == nil {
			ok = it.SeekFirst()
		} else {
			ok = it.Seek(from)
		}
		for ; ok; ok = it.Next() {
			if !yield(it.Key(), it.Val()) {
				return
			}
		}
	}
}

// Backward yields the records from the largest key down.
func Backward(it Iterator) iter.Seq2[[]byte, []byte] {
	return func(yield func([]byte, []byte) bool) {
		for ok := it.SeekLast(); ok; ok = it.Prev() {
			if !yield(it.Key(), it.Val()) {
				return
			}
		}
	}
}
