// Copyright 2025 dacapoday
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"github.com/cockroachdb/errors"

	"github.com/dacapoday/bstree"
)

// Purge drops every released buffer, so later fetches observe changes made
// to the file behind the store's back.
func (store *Store[F]) Purge() error {
	if store.pinned != 0 {
		return errors.Wrapf(bstree.ErrInvalidParameter, "purge with %d nodes pinned", store.pinned)
	}
	store.drop()
	return nil
}
