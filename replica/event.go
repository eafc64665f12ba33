////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package replica

// ListenerID identifies one registered write listener within a collection.
// Keep it around to remove the listener later.
type ListenerID string

// WriteFunc receives write events for a collection. It is called in local
// observation order and must return promptly.
type WriteFunc func(event WriteEvent)

// WriteEvent describes one write observed by the local engine. Order is
// authoritative for latest-wins decisions; entity timestamps inside Value are
// advisory only, since peer clocks skew.
type WriteEvent struct {
	// Collection is the name of the collection the write landed in.
	Collection string

	// Address is the engine address of the replica the write originated
	// from. The local replica's own writes carry the local address.
	Address string

	// Order is the local insertion order the engine assigned to the write.
	Order uint64

	// Value is the written record, encoded the same way it was stored.
	Value []byte
}
