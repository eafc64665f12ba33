////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package store holds what the three collection stores share: the error
// taxonomy surfaced to callers, the tombstone marker for soft-deleted
// entities, and the retry helper for transient replication failures.
package store

import "github.com/pkg/errors"

var (
	// ErrValidation is returned when caller-supplied data violates an entity
	// invariant, including operations attempted without the required admin
	// role. Not retryable.
	ErrValidation = errors.New("entity violates an invariant")

	// ErrNotFound is returned when a referenced id is absent. Not retryable.
	ErrNotFound = errors.New("entity cannot be found")

	// ErrDuplicate is returned when an id already exists in the local cache.
	// The check is not authoritative: another peer may create the same id
	// concurrently, and such collisions are resolved by the latest-wins
	// merge, never by this error.
	ErrDuplicate = errors.New("entity id already exists locally")

	// ErrReplication is returned when a write against the replicated
	// collection fails, typically during a network partition. The optimistic
	// cache entry is left in place; callers may retry via RetryReplication.
	ErrReplication = errors.New("replicated write failed")
)

// IsRetryable reports whether the error may succeed if the same logical
// operation is attempted again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrReplication)
}
