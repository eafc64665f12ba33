////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package replica defines the boundary to the replicated storage engine. The
// engine owns peer connectivity, content routing, conflict-free merging, and
// persistence; this client only consumes the collection operations and the
// write-event stream defined here.
package replica

import "time"

// Config holds the options a collection is opened with. Every collection in
// this client is opened open-write (any peer may write) and replicating.
type Config struct {
	// OpenWrite grants write access to all peers rather than only the
	// creator.
	OpenWrite bool

	// Replicate enables automatic replication of the collection to and from
	// connected peers.
	Replicate bool

	// WriteTimeout bounds every Put and Append issued against the collection.
	// A write that cannot be durably accepted by the engine within this
	// window fails instead of blocking the caller. Zero means the engine
	// default.
	WriteTimeout time.Duration
}

// Database is the handle to the replicated-database engine obtained after the
// network layer has bootstrapped.
type Database interface {
	// OpenDocuments opens or creates a keyed document collection. Each key
	// holds one current value; a Put overwrites the whole document.
	OpenDocuments(name string, cfg Config) (DocumentCollection, error)

	// OpenLog opens or creates an append-only log collection. Entries are
	// never removed or mutated, only superseded by later entries sharing a
	// logical id.
	OpenLog(name string, cfg Config) (LogCollection, error)

	// Disconnect detaches from the engine. All collections must be closed
	// first; in-flight writes on open collections may otherwise be lost.
	Disconnect() error
}

// Collection is the behavior shared by both collection kinds.
type Collection interface {
	// Name returns the name the collection was opened under.
	Name() string

	// Load reads persisted local state into the collection so reads reflect
	// everything written before the last shutdown. Must be called once after
	// open, before any other operation.
	Load() error

	// Close flushes and detaches the collection. Idempotent.
	Close() error

	// OnWrite registers fn to be called for every write observed by the
	// local engine, local and remote alike, in local observation order. The
	// callback must not block; a slow consumer stalls event delivery for the
	// whole collection.
	OnWrite(fn WriteFunc) (ListenerID, error)

	// RemoveListener detaches a callback registered with OnWrite. Removing
	// an unknown id is a no-op.
	RemoveListener(id ListenerID)
}

// DocumentCollection is a keyed, mutable-by-overwrite replicated store.
type DocumentCollection interface {
	Collection

	// Put writes doc as the current value for id, replacing any previous
	// value in full.
	Put(id string, doc []byte) error

	// Get returns the current value for id, or nil with no error if the id
	// has never been written.
	Get(id string) ([]byte, error)

	// Query returns the current value of every document matching pred. A nil
	// pred matches everything.
	Query(pred func(doc []byte) bool) ([][]byte, error)
}

// LogCollection is an append-only replicated store.
type LogCollection interface {
	Collection

	// Append adds value as a new entry at the head of the log and returns
	// its pointer. Appends are never idempotent; a retry after an ambiguous
	// failure must carry a fresh logical id inside value.
	Append(value []byte) (Pointer, error)

	// Iterate returns entries in ascending insertion order. A limit greater
	// than zero returns only the newest limit entries; zero or negative
	// returns the full log.
	Iterate(limit int) ([]Entry, error)
}

// Pointer identifies one appended log entry.
type Pointer struct {
	// Hash is the content address of the entry.
	Hash string

	// Order is the entry's position in the local engine's insertion order.
	Order uint64
}

// Entry is one stored log entry as returned by Iterate.
type Entry struct {
	Value []byte
	Hash  string
	Order uint64
}
