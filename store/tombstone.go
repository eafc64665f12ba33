////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package store

import "time"

// Tombstone marks an entity as logically deleted. The record itself stays in
// the collection forever; listings filter tombstoned entities while direct
// lookups still return them for audit.
type Tombstone struct {
	// By is the id of the user that deleted the entity.
	By string `json:"by"`

	// At is when the delete was issued, by the deleting peer's clock.
	At time.Time `json:"at"`
}
