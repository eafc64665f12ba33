////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package connect owns the lifecycle of the replicated-database engine and
// the network layer beneath it: bootstrap, collection open/load, and ordered
// shutdown. One Manager is constructed at startup and handed to each
// collection store; there is no package-level handle.
package connect

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/meshchat/client/replica"
)

// Names of the three collections the client keeps.
const (
	UsersCollection         = "users"
	ConversationsCollection = "conversations"
	MessagesCollection      = "messages"
)

var (
	// ErrConnection is returned when network bootstrap or collection open
	// fails. No partial state is usable after it; retry Initialize.
	ErrConnection = errors.New("failed to connect to the replicated store")

	// ErrNotInitialized is returned when a collection is requested before
	// Initialize has completed. This is a sequencing bug in the caller, not
	// a condition to retry.
	ErrNotInitialized = errors.New("connection manager is not initialized")
)

// Network is the content-addressed transport the engine replicates over.
// Peer discovery, routing, and connectivity live entirely behind it.
type Network interface {
	// Bootstrap joins the network, waiting at most timeout for enough peers
	// to participate.
	Bootstrap(timeout time.Duration) error

	// Stop leaves the network and releases its resources.
	Stop() error
}

// Manager establishes network participation, opens the three replicated
// collections, and tears everything down in reverse order on shutdown.
type Manager struct {
	net Network
	db  replica.Database

	mux    sync.Mutex
	status Status
	docs   map[string]replica.DocumentCollection
	logs   map[string]replica.LogCollection
	// opened tracks acquisition order so Shutdown can close in reverse.
	opened []replica.Collection
}

// NewManager wires a Manager to its network and database engine. Nothing is
// opened until Initialize.
func NewManager(net Network, db replica.Database) *Manager {
	return &Manager{
		net:    net,
		db:     db,
		status: Uninitialized,
		docs:   make(map[string]replica.DocumentCollection),
		logs:   make(map[string]replica.LogCollection),
	}
}

// Initialize bootstraps the network, opens the users and conversations
// document collections and the messages log for open-write replication, and
// loads each collection's persisted state. Idempotent: a Ready manager
// returns immediately. After a failure the manager is left in Failed and
// Initialize may be called again; no partially opened state survives.
func (m *Manager) Initialize(timeout time.Duration) error {
	m.mux.Lock()
	defer m.mux.Unlock()

	switch m.status {
	case Ready:
		return nil
	case Uninitialized, Failed:
	default:
		return errors.Errorf(
			"cannot initialize connection manager from status %s", m.status)
	}

	m.setStatus(Connecting)

	if err := m.net.Bootstrap(timeout); err != nil {
		m.setStatus(Failed)
		return errors.Wrapf(ErrConnection,
			"network bootstrap did not complete: %s", err)
	}

	cfg := replica.Config{
		OpenWrite:    true,
		Replicate:    true,
		WriteTimeout: timeout,
	}

	if err := m.openAll(cfg); err != nil {
		m.closeOpened()
		m.setStatus(Failed)
		return errors.Wrapf(ErrConnection, "%s", err)
	}

	m.setStatus(Ready)
	return nil
}

// openAll opens and loads the three collections, recording acquisition order.
func (m *Manager) openAll(cfg replica.Config) error {
	for _, name := range []string{UsersCollection, ConversationsCollection} {
		dc, err := m.db.OpenDocuments(name, cfg)
		if err != nil {
			return errors.WithMessagef(err,
				"failed to open document collection %q", name)
		}
		m.docs[name] = dc
		m.opened = append(m.opened, dc)
		if err = dc.Load(); err != nil {
			return errors.WithMessagef(err,
				"failed to load document collection %q", name)
		}
	}

	lc, err := m.db.OpenLog(MessagesCollection, cfg)
	if err != nil {
		return errors.WithMessagef(err,
			"failed to open log collection %q", MessagesCollection)
	}
	m.logs[MessagesCollection] = lc
	m.opened = append(m.opened, lc)
	if err = lc.Load(); err != nil {
		return errors.WithMessagef(err,
			"failed to load log collection %q", MessagesCollection)
	}

	return nil
}

// Shutdown closes the collections, disconnects the engine, then stops the
// network, in reverse order of acquisition so in-flight writes are flushed
// before their transport goes away. Individual close errors are logged and
// swallowed; Shutdown always completes. Idempotent.
func (m *Manager) Shutdown() {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.status == Closed {
		return
	}
	m.setStatus(ShuttingDown)

	m.closeOpened()

	if err := m.db.Disconnect(); err != nil {
		jww.WARN.Printf("[CONNECT] Failed to disconnect database engine "+
			"during shutdown: %+v", err)
	}
	if err := m.net.Stop(); err != nil {
		jww.WARN.Printf("[CONNECT] Failed to stop network during "+
			"shutdown: %+v", err)
	}

	m.setStatus(Closed)
}

// closeOpened closes collections in reverse acquisition order and clears the
// handle maps. Must be called holding the mutex.
func (m *Manager) closeOpened() {
	for i := len(m.opened) - 1; i >= 0; i-- {
		coll := m.opened[i]
		if err := coll.Close(); err != nil {
			jww.WARN.Printf("[CONNECT] Failed to close collection %q: %+v",
				coll.Name(), err)
		}
	}
	m.opened = nil
	m.docs = make(map[string]replica.DocumentCollection)
	m.logs = make(map[string]replica.LogCollection)
}

// GetDocuments returns the opened document collection with the given name, or
// ErrNotInitialized if the manager is not Ready.
func (m *Manager) GetDocuments(name string) (
	replica.DocumentCollection, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.status != Ready {
		return nil, errors.WithMessagef(ErrNotInitialized,
			"cannot get document collection %q in status %s", name, m.status)
	}
	dc, ok := m.docs[name]
	if !ok {
		return nil, errors.Errorf("no document collection named %q", name)
	}
	return dc, nil
}

// GetLog returns the opened log collection with the given name, or
// ErrNotInitialized if the manager is not Ready.
func (m *Manager) GetLog(name string) (replica.LogCollection, error) {
	m.mux.Lock()
	defer m.mux.Unlock()

	if m.status != Ready {
		return nil, errors.WithMessagef(ErrNotInitialized,
			"cannot get log collection %q in status %s", name, m.status)
	}
	lc, ok := m.logs[name]
	if !ok {
		return nil, errors.Errorf("no log collection named %q", name)
	}
	return lc, nil
}

// GetCollection returns the opened collection with the given name regardless
// of kind, or ErrNotInitialized if the manager is not Ready.
func (m *Manager) GetCollection(name string) (replica.Collection, error) {
	if dc, err := m.GetDocuments(name); err == nil {
		return dc, nil
	} else if errors.Is(err, ErrNotInitialized) {
		return nil, err
	}
	return m.GetLog(name)
}

// Status returns the manager's current lifecycle status.
func (m *Manager) Status() Status {
	m.mux.Lock()
	defer m.mux.Unlock()
	return m.status
}

// setStatus must be called holding the mutex.
func (m *Manager) setStatus(next Status) {
	jww.INFO.Printf("[CONNECT] Connection manager status: %s -> %s",
		m.status, next)
	m.status = next
}
