////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package user keeps the local view of the replicated users collection: a
// write-through cache of profile documents plus the merge routine fed by the
// switchboard when other peers' writes arrive.
package user

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/meshchat/client/replica"
	"gitlab.com/meshchat/client/store"
	"gitlab.com/meshchat/client/switchboard"
)

// Store is the cached view over the users document collection. All cache
// access, local and merge alike, is serialized through one mutex; updates are
// whole-document overwrites, so two peers updating the same user race and the
// write observed last by the engine wins in full.
type Store struct {
	coll replica.DocumentCollection
	swb  *switchboard.Switchboard

	mux    sync.RWMutex
	cached map[string]*User
}

// NewStore warms the cache from the collection and subscribes the merge
// routine under the collection's global scope.
func NewStore(coll replica.DocumentCollection,
	swb *switchboard.Switchboard) (*Store, error) {
	s := &Store{
		coll:   coll,
		swb:    swb,
		cached: make(map[string]*User),
	}

	docs, err := coll.Query(nil)
	if err != nil {
		return nil, errors.WithMessage(err,
			"failed to warm the user cache")
	}
	for _, doc := range docs {
		var u User
		if err = json.Unmarshal(doc, &u); err != nil || u.Id == "" {
			jww.WARN.Printf("[USERS] Skipped undecodable user document "+
				"while warming cache: %v", err)
			continue
		}
		s.cached[u.Id] = &u
	}

	if err = swb.Subscribe(coll.Name(), coll, s.merge); err != nil {
		return nil, errors.WithMessage(err,
			"failed to subscribe the user store")
	}
	return s, nil
}

// Scope returns the switchboard scope user observers should register under.
func (s *Store) Scope() string { return s.coll.Name() }

// Register creates the user document on first registration. The id is the
// wallet address. The duplicate check runs against the local cache only;
// a concurrent remote registration of the same address is settled by the
// latest-wins merge, not here.
func (s *Store) Register(u User) (*User, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}
	u.Id = u.WalletAddress

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, exists := s.cached[u.Id]; exists {
		return nil, errors.WithMessagef(store.ErrDuplicate,
			"user %q is already registered", u.Id)
	}

	now := netTime.Now()
	u.CreatedAt = now
	u.LastSeen = now
	u.Status = Online
	if u.Blocked == nil {
		u.Blocked = []string{}
	}
	if u.Conversations == nil {
		u.Conversations = []string{}
	}

	return s.writeLocked(&u)
}

// Get returns the user from the cache, deferring to the collection for a
// document another peer created that has not produced a merge event yet.
// Tombstoned users are still returned; use List for the filtered view.
func (s *Store) Get(id string) (*User, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if u, ok := s.cached[id]; ok {
		return u.clone(), nil
	}

	doc, err := s.coll.Get(id)
	if err != nil {
		return nil, errors.WithMessagef(store.ErrReplication,
			"failed to query user %q: %s", id, err)
	}
	if doc == nil {
		return nil, errors.WithMessagef(store.ErrNotFound, "user %q", id)
	}

	var u User
	if err = json.Unmarshal(doc, &u); err != nil {
		return nil, errors.Wrapf(err, "user document %q is undecodable", id)
	}
	s.cached[u.Id] = &u
	return u.clone(), nil
}

// Update merges the patch into the cached user and writes the result back as
// a whole document.
func (s *Store) Update(id string, p Patch) (*User, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.cached[id]
	if !ok {
		return nil, errors.WithMessagef(store.ErrNotFound, "user %q", id)
	}

	next := cur.clone()
	next.apply(p)
	next.LastSeen = netTime.Now()
	return s.writeLocked(next)
}

// SetOnline marks the user present and refreshes LastSeen.
func (s *Store) SetOnline(id string) error {
	return s.setPresence(id, Online)
}

// SetOffline marks the user away and refreshes LastSeen.
func (s *Store) SetOffline(id string) error {
	return s.setPresence(id, Offline)
}

func (s *Store) setPresence(id string, p Presence) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.cached[id]
	if !ok {
		return errors.WithMessagef(store.ErrNotFound, "user %q", id)
	}

	next := cur.clone()
	next.Status = p
	next.LastSeen = netTime.Now()
	_, err := s.writeLocked(next)
	return err
}

// Block adds target to the user's block set. Idempotent.
func (s *Store) Block(id, target string) error {
	if id == target {
		return errors.WithMessage(store.ErrValidation,
			"a user cannot block themselves")
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.cached[id]
	if !ok {
		return errors.WithMessagef(store.ErrNotFound, "user %q", id)
	}
	if cur.HasBlocked(target) {
		return nil
	}

	next := cur.clone()
	next.Blocked = append(next.Blocked, target)
	_, err := s.writeLocked(next)
	return err
}

// Unblock removes target from the user's block set. Idempotent.
func (s *Store) Unblock(id, target string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.cached[id]
	if !ok {
		return errors.WithMessagef(store.ErrNotFound, "user %q", id)
	}
	if !cur.HasBlocked(target) {
		return nil
	}

	next := cur.clone()
	blocked := next.Blocked[:0]
	for _, b := range next.Blocked {
		if b != target {
			blocked = append(blocked, b)
		}
	}
	next.Blocked = blocked
	_, err := s.writeLocked(next)
	return err
}

// AttachConversation records a conversation id on the user's document so
// their conversation list can be rebuilt on any peer. Idempotent per id.
func (s *Store) AttachConversation(id, convId string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.cached[id]
	if !ok {
		return errors.WithMessagef(store.ErrNotFound, "user %q", id)
	}
	if cur.InConversation(convId) {
		return nil
	}

	next := cur.clone()
	next.Conversations = append(next.Conversations, convId)
	_, err := s.writeLocked(next)
	return err
}

// Remove tombstones the user. The document stays in the collection and Get
// keeps returning it; List filters it out. Idempotent.
func (s *Store) Remove(id, by string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.cached[id]
	if !ok {
		return errors.WithMessagef(store.ErrNotFound, "user %q", id)
	}
	if cur.Deleted != nil {
		return nil
	}

	next := cur.clone()
	next.Deleted = &store.Tombstone{By: by, At: netTime.Now()}
	_, err := s.writeLocked(next)
	return err
}

// List returns every cached user that is not tombstoned, ordered by id.
func (s *Store) List() []User {
	s.mux.RLock()
	defer s.mux.RUnlock()

	users := make([]User, 0, len(s.cached))
	for _, u := range s.cached {
		if u.Deleted == nil {
			users = append(users, *u.clone())
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Id < users[j].Id })
	return users
}

// Close detaches the store's subscription. The cache stays readable.
func (s *Store) Close() {
	s.swb.Unsubscribe(s.coll.Name())
}

// writeLocked installs the user in the cache, then issues the replicated
// write. The optimistic cache entry is kept even when the write fails, since
// it reflects local intent pending retry or reconciliation by a later event.
// Must be called holding the mutex.
func (s *Store) writeLocked(u *User) (*User, error) {
	s.cached[u.Id] = u

	doc, err := json.Marshal(u)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode user %q", u.Id)
	}
	if err = s.coll.Put(u.Id, doc); err != nil {
		return nil, errors.WithMessagef(store.ErrReplication,
			"failed to put user %q: %s", u.Id, err)
	}
	return u.clone(), nil
}

// merge folds one observed write into the cache. Events arrive in local
// engine order, so the event's document replaces the cached one outright:
// latest wins per id, regardless of the timestamps inside.
func (s *Store) merge(ev replica.WriteEvent) (bool, error) {
	var u User
	if err := json.Unmarshal(ev.Value, &u); err != nil {
		return false, errors.Wrap(err, "undecodable user document")
	}
	if u.Id == "" {
		return false, errors.New("user document without an id")
	}

	s.mux.Lock()
	s.cached[u.Id] = &u
	s.mux.Unlock()

	jww.TRACE.Printf("[USERS] Merged write for user %q from %s (order %d)",
		u.Id, ev.Address, ev.Order)
	return true, nil
}
