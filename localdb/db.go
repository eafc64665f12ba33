////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package localdb is the in-process implementation of the replica interfaces.
// It keeps every collection in an ekv.KeyValue (Memstore for tests, Filestore
// for a persistent node) and fans write events out to registered listeners in
// insertion order. It participates in no network; remote writes reach it only
// through its own handles, which makes it both the single-node engine and the
// test double for the synchronization layer.
package localdb

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/elixxir/ekv"

	"gitlab.com/meshchat/client/replica"
)

// LocalAddress is the origin address carried by every write event this engine
// emits.
const LocalAddress = "local"

var (
	// ErrDisconnected is returned when an operation is attempted on a
	// disconnected database or a closed collection.
	ErrDisconnected = errors.New("local database is disconnected")

	// ErrWrongKind is returned when a collection name is reopened as a
	// different collection kind.
	ErrWrongKind = errors.New("collection already open as a different kind")
)

// Database implements replica.Database over a single ekv.KeyValue.
type Database struct {
	kv ekv.KeyValue

	mux          sync.Mutex
	disconnected bool
	documents    map[string]*documentCollection
	logs         map[string]*logCollection
}

// New creates a Database over the given key-value backing. The same backing
// reopened later yields the same persisted collections.
func New(kv ekv.KeyValue) *Database {
	return &Database{
		kv:        kv,
		documents: make(map[string]*documentCollection),
		logs:      make(map[string]*logCollection),
	}
}

// OpenDocuments opens or creates the named document collection. Opening the
// same name twice returns the same handle; a closed handle is replaced by a
// fresh one over the same persisted state.
func (db *Database) OpenDocuments(name string, cfg replica.Config) (
	replica.DocumentCollection, error) {
	db.mux.Lock()
	defer db.mux.Unlock()

	if db.disconnected {
		return nil, errors.WithMessagef(ErrDisconnected,
			"cannot open documents %q", name)
	}
	if _, isLog := db.logs[name]; isLog {
		return nil, errors.WithMessagef(ErrWrongKind,
			"%q is open as a log", name)
	}
	if dc, ok := db.documents[name]; ok && !dc.isClosed() {
		return dc, nil
	}

	dc := newDocumentCollection(db.kv, name, cfg)
	db.documents[name] = dc
	jww.DEBUG.Printf("[LOCALDB] Opened document collection %q", name)
	return dc, nil
}

// OpenLog opens or creates the named log collection. Opening the same name
// twice returns the same handle; a closed handle is replaced by a fresh one
// over the same persisted state.
func (db *Database) OpenLog(name string, cfg replica.Config) (
	replica.LogCollection, error) {
	db.mux.Lock()
	defer db.mux.Unlock()

	if db.disconnected {
		return nil, errors.WithMessagef(ErrDisconnected,
			"cannot open log %q", name)
	}
	if _, isDoc := db.documents[name]; isDoc {
		return nil, errors.WithMessagef(ErrWrongKind,
			"%q is open as a document collection", name)
	}
	if lc, ok := db.logs[name]; ok && !lc.isClosed() {
		return lc, nil
	}

	lc := newLogCollection(db.kv, name, cfg)
	db.logs[name] = lc
	jww.DEBUG.Printf("[LOCALDB] Opened log collection %q", name)
	return lc, nil
}

// Disconnect closes any collections still open and marks the database
// unusable. Idempotent.
func (db *Database) Disconnect() error {
	db.mux.Lock()
	defer db.mux.Unlock()

	if db.disconnected {
		return nil
	}
	db.disconnected = true

	for name, dc := range db.documents {
		if err := dc.Close(); err != nil {
			jww.WARN.Printf("[LOCALDB] Failed to close documents %q on "+
				"disconnect: %+v", name, err)
		}
	}
	for name, lc := range db.logs {
		if err := lc.Close(); err != nil {
			jww.WARN.Printf("[LOCALDB] Failed to close log %q on "+
				"disconnect: %+v", name, err)
		}
	}

	jww.INFO.Print("[LOCALDB] Disconnected")
	return nil
}
