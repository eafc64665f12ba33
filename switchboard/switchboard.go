////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package switchboard routes replicated write events into the collection
// stores. Each store subscribes its merge routine under a logical scope (one
// global scope per document collection, one scope per conversation for
// messages); the switchboard owns the engine listener handle, the delivery
// goroutine, and the cache-changed observer fan-out for that scope.
package switchboard

import (
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/meshchat/client/replica"
	"gitlab.com/meshchat/client/stoppable"
)

// eventBufferLen is the per-scope backlog of undelivered write events. The
// engine callback must never block, so events beyond this backlog are dropped
// with a warning; a dropped event is recovered by the store's next
// read-through against the collection.
const eventBufferLen = 512

// MergeFunc folds one observed write into the owning store's cache. It
// reports whether the event belonged to the scope and was applied; an error
// means the event was malformed and has been dropped.
type MergeFunc func(ev replica.WriteEvent) (applied bool, err error)

// Observer is notified after a merge changes the cache for a scope. Each
// observer runs on its own goroutine and may block freely.
type Observer func(scope string)

type subscription struct {
	scope    string
	coll     replica.Collection
	listener replica.ListenerID
	events   chan replica.WriteEvent
	stop     *stoppable.Single
}

// Switchboard tracks at most one live subscription per scope.
type Switchboard struct {
	mux       sync.Mutex
	subs      map[string]*subscription
	observers map[string][]Observer
}

// New creates an empty Switchboard.
func New() *Switchboard {
	return &Switchboard{
		subs:      make(map[string]*subscription),
		observers: make(map[string][]Observer),
	}
}

// Subscribe routes the collection's write events to merge under the given
// scope. Subscribing a scope that is already subscribed tears the old
// subscription down first, so a single remote write is never applied twice.
// Don't pass nil for merge.
func (s *Switchboard) Subscribe(scope string, coll replica.Collection,
	merge MergeFunc) error {
	if merge == nil {
		jww.FATAL.Panicf("Subscribe(%q) called with nil merge function", scope)
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if old, ok := s.subs[scope]; ok {
		jww.DEBUG.Printf("[SWITCHBOARD] Replacing subscription for scope %q",
			scope)
		s.teardown(old)
		delete(s.subs, scope)
	}

	sub := &subscription{
		scope:  scope,
		coll:   coll,
		events: make(chan replica.WriteEvent, eventBufferLen),
		stop:   stoppable.NewSingle("switchboard-" + scope),
	}

	listener, err := coll.OnWrite(func(ev replica.WriteEvent) {
		select {
		case sub.events <- ev:
		default:
			jww.WARN.Printf("[SWITCHBOARD] Dropped write event (order %d) "+
				"for scope %q: delivery backlog full", ev.Order, scope)
		}
	})
	if err != nil {
		return errors.WithMessagef(err,
			"failed to attach write listener for scope %q", scope)
	}
	sub.listener = listener
	s.subs[scope] = sub

	go s.deliver(sub, merge)
	return nil
}

// deliver drains the scope's event backlog into merge until the subscription
// is torn down. A bad remote event must not crash the merge loop, so merge
// errors are logged and the event dropped.
func (s *Switchboard) deliver(sub *subscription, merge MergeFunc) {
	for {
		select {
		case ev := <-sub.events:
			applied, err := merge(ev)
			if err != nil {
				jww.WARN.Printf("[SWITCHBOARD] Dropped write event (order "+
					"%d) for scope %q: %+v", ev.Order, sub.scope, err)
				continue
			}
			if applied {
				s.notify(sub.scope)
			}
		case <-sub.stop.Quit():
			sub.stop.ToStopped()
			return
		}
	}
}

// RegisterObserver adds a cache-changed observer for the scope. Observers
// survive resubscription of the scope but are dropped with it on
// Unsubscribe, so switching scopes over a long session cannot accumulate
// stale observers.
func (s *Switchboard) RegisterObserver(scope string, obs Observer) {
	if obs == nil {
		jww.FATAL.Panicf(
			"RegisterObserver(%q) called with nil observer", scope)
	}
	s.mux.Lock()
	defer s.mux.Unlock()
	s.observers[scope] = append(s.observers[scope], obs)
}

func (s *Switchboard) notify(scope string) {
	s.mux.Lock()
	toNotify := make([]Observer, len(s.observers[scope]))
	copy(toNotify, s.observers[scope])
	s.mux.Unlock()

	for _, obs := range toNotify {
		go obs(scope)
	}
}

// Unsubscribe detaches the scope's engine listener, stops its delivery
// goroutine, and drops the scope's observers. Unsubscribing an unknown scope
// is a no-op.
func (s *Switchboard) Unsubscribe(scope string) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if sub, ok := s.subs[scope]; ok {
		s.teardown(sub)
		delete(s.subs, scope)
	}
	delete(s.observers, scope)
}

// UnsubscribeAll tears down every live subscription and every observer.
// Called during shutdown.
func (s *Switchboard) UnsubscribeAll() {
	s.mux.Lock()
	defer s.mux.Unlock()

	for scope, sub := range s.subs {
		s.teardown(sub)
		delete(s.subs, scope)
	}
	s.observers = make(map[string][]Observer)
}

// Subscribed reports whether the scope currently has a live subscription.
func (s *Switchboard) Subscribed(scope string) bool {
	s.mux.Lock()
	defer s.mux.Unlock()
	_, ok := s.subs[scope]
	return ok
}

// teardown must be called holding the mutex. The listener is removed before
// the delivery loop is stopped so no event can arrive between the two.
func (s *Switchboard) teardown(sub *subscription) {
	sub.coll.RemoveListener(sub.listener)
	if err := sub.stop.Close(); err != nil {
		jww.WARN.Printf("[SWITCHBOARD] Failed to stop delivery for scope "+
			"%q: %+v", sub.scope, err)
	}
}
