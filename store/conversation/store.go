////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package conversation keeps the local view of the replicated conversations
// collection. Membership and settings changes are admin-gated here, before
// the write is issued; the collection itself is open-write, so the gate is a
// local policy, not an engine guarantee.
package conversation

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/meshchat/client/replica"
	"gitlab.com/meshchat/client/store"
	"gitlab.com/meshchat/client/switchboard"
)

// Store is the cached view over the conversations document collection. One
// global subscription covers every conversation; metadata events for
// conversations the caller is not viewing are filtered client-side by the
// observers, not by the subscription.
type Store struct {
	coll replica.DocumentCollection
	swb  *switchboard.Switchboard

	mux    sync.RWMutex
	cached map[string]*Conversation
}

// NewStore warms the cache from the collection and subscribes the merge
// routine under the collection's global scope.
func NewStore(coll replica.DocumentCollection,
	swb *switchboard.Switchboard) (*Store, error) {
	s := &Store{
		coll:   coll,
		swb:    swb,
		cached: make(map[string]*Conversation),
	}

	docs, err := coll.Query(nil)
	if err != nil {
		return nil, errors.WithMessage(err,
			"failed to warm the conversation cache")
	}
	for _, doc := range docs {
		var c Conversation
		if err = json.Unmarshal(doc, &c); err != nil || c.Id == "" {
			jww.WARN.Printf("[CONVS] Skipped undecodable conversation "+
				"document while warming cache: %v", err)
			continue
		}
		s.cached[c.Id] = &c
	}

	if err = swb.Subscribe(coll.Name(), coll, s.merge); err != nil {
		return nil, errors.WithMessage(err,
			"failed to subscribe the conversation store")
	}
	return s, nil
}

// Scope returns the switchboard scope conversation observers should register
// under.
func (s *Store) Scope() string { return s.coll.Name() }

// Create starts a conversation between the given participants. The creator
// must be among them and becomes the first admin. Two participants make a
// direct conversation, more make a group.
func (s *Store) Create(creator string, participants []string,
	name string) (*Conversation, error) {
	participants = dedupe(participants)
	if !contains(participants, creator) {
		return nil, errors.WithMessage(store.ErrValidation,
			"the creator must be a participant")
	}

	kind := Group
	if len(participants) == 2 {
		kind = Direct
	}

	c := &Conversation{
		Id:           "conv-" + uuid.NewV4().String(),
		Participants: participants,
		Type:         kind,
		Admins:       []string{creator},
		Metadata: Metadata{
			Name:         name,
			LastActivity: netTime.Now(),
		},
		Settings: Settings{
			ReadReceipts:  true,
			Notifications: true,
		},
		Status:    Active,
		CreatedAt: netTime.Now(),
	}
	if err := c.validate(); err != nil {
		return nil, err
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, exists := s.cached[c.Id]; exists {
		return nil, errors.WithMessagef(store.ErrDuplicate,
			"conversation %q already exists", c.Id)
	}
	return s.writeLocked(c)
}

// Get returns the conversation from the cache, deferring to the collection
// for a document created by a peer whose event has not merged yet.
// Tombstoned conversations are still returned for audit.
func (s *Store) Get(id string) (*Conversation, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if c, ok := s.cached[id]; ok {
		return c.clone(), nil
	}

	doc, err := s.coll.Get(id)
	if err != nil {
		return nil, errors.WithMessagef(store.ErrReplication,
			"failed to query conversation %q: %s", id, err)
	}
	if doc == nil {
		return nil, errors.WithMessagef(store.ErrNotFound,
			"conversation %q", id)
	}

	var c Conversation
	if err = json.Unmarshal(doc, &c); err != nil {
		return nil, errors.Wrapf(err,
			"conversation document %q is undecodable", id)
	}
	s.cached[c.Id] = &c
	return c.clone(), nil
}

// UpdateMetadata patches the display metadata. Admins only.
func (s *Store) UpdateMetadata(id, actor string,
	p MetadataPatch) (*Conversation, error) {
	return s.adminUpdate(id, actor, func(c *Conversation) error {
		c.applyMetadata(p)
		return nil
	})
}

// UpdateSettings patches the conversation settings. Admins only.
func (s *Store) UpdateSettings(id, actor string,
	p SettingsPatch) (*Conversation, error) {
	return s.adminUpdate(id, actor, func(c *Conversation) error {
		c.applySettings(p)
		return nil
	})
}

// AddParticipant adds a user to a group conversation. Admins only; direct
// conversations are immutable in membership. Idempotent per user.
func (s *Store) AddParticipant(id, actor, userId string) (
	*Conversation, error) {
	return s.adminUpdate(id, actor, func(c *Conversation) error {
		if c.Type == Direct {
			return errors.WithMessage(store.ErrValidation,
				"direct conversation membership cannot change")
		}
		if !c.HasParticipant(userId) {
			c.Participants = append(c.Participants, userId)
		}
		return nil
	})
}

// RemoveParticipant removes a user from a group conversation. Admins only;
// the removed user loses any admin role, and the conversation must keep at
// least two participants and one admin.
func (s *Store) RemoveParticipant(id, actor, userId string) (
	*Conversation, error) {
	return s.adminUpdate(id, actor, func(c *Conversation) error {
		if c.Type == Direct {
			return errors.WithMessage(store.ErrValidation,
				"direct conversation membership cannot change")
		}
		if !c.HasParticipant(userId) {
			return errors.WithMessagef(store.ErrNotFound,
				"user %q in conversation %q", userId, id)
		}
		c.Participants = remove(c.Participants, userId)
		c.Admins = remove(c.Admins, userId)
		return c.validate()
	})
}

// Archive moves the conversation out of active listings. Admins only.
func (s *Store) Archive(id, actor string) (*Conversation, error) {
	return s.adminUpdate(id, actor, func(c *Conversation) error {
		c.Status = Archived
		return nil
	})
}

// Remove logically deletes the conversation: status moves to Deleted and a
// tombstone is written over the document. Admins only; idempotent. The
// document itself is never purged.
func (s *Store) Remove(id, actor string) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.cached[id]
	if !ok {
		return errors.WithMessagef(store.ErrNotFound, "conversation %q", id)
	}
	if !cur.IsAdmin(actor) {
		return errors.WithMessagef(store.ErrValidation,
			"user %q is not an admin of conversation %q", actor, id)
	}
	if cur.Deleted != nil {
		return nil
	}

	next := cur.clone()
	next.Status = Deleted
	next.Deleted = &store.Tombstone{By: actor, At: netTime.Now()}
	_, err := s.writeLocked(next)
	return err
}

// Exists reports whether the conversation is present and not logically
// deleted. The message path checks this before a send.
func (s *Store) Exists(id string) bool {
	s.mux.RLock()
	defer s.mux.RUnlock()

	c, ok := s.cached[id]
	return ok && c.Deleted == nil && c.Status != Deleted
}

// TouchLastMessage records the newest message preview on the conversation.
// Called by the message path, so it is participant-level, not admin-gated.
func (s *Store) TouchLastMessage(id, preview string, at time.Time) error {
	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.cached[id]
	if !ok {
		return errors.WithMessagef(store.ErrNotFound, "conversation %q", id)
	}

	next := cur.clone()
	next.Metadata.LastMessage = preview
	next.Metadata.LastActivity = at
	_, err := s.writeLocked(next)
	return err
}

// ListForUser returns every non-deleted conversation the user participates
// in, newest activity first.
func (s *Store) ListForUser(userId string) []Conversation {
	s.mux.RLock()
	defer s.mux.RUnlock()

	convs := make([]Conversation, 0)
	for _, c := range s.cached {
		if c.Deleted == nil && c.Status != Deleted &&
			c.HasParticipant(userId) {
			convs = append(convs, *c.clone())
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].Metadata.LastActivity.After(
			convs[j].Metadata.LastActivity)
	})
	return convs
}

// Close detaches the store's subscription. The cache stays readable.
func (s *Store) Close() {
	s.swb.Unsubscribe(s.coll.Name())
}

// adminUpdate loads the cached conversation, verifies the actor administers
// it, applies mutate, and writes the whole document back.
func (s *Store) adminUpdate(id, actor string,
	mutate func(*Conversation) error) (*Conversation, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.cached[id]
	if !ok {
		return nil, errors.WithMessagef(store.ErrNotFound,
			"conversation %q", id)
	}
	if !cur.IsAdmin(actor) {
		return nil, errors.WithMessagef(store.ErrValidation,
			"user %q is not an admin of conversation %q", actor, id)
	}
	if cur.Deleted != nil {
		return nil, errors.WithMessagef(store.ErrValidation,
			"conversation %q is deleted", id)
	}

	next := cur.clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.Metadata.LastActivity = netTime.Now()
	return s.writeLocked(next)
}

// writeLocked installs the conversation in the cache, then issues the
// replicated write. The optimistic entry stays on failure, pending retry or
// reconciliation by a later event. Must be called holding the mutex.
func (s *Store) writeLocked(c *Conversation) (*Conversation, error) {
	s.cached[c.Id] = c

	doc, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrapf(err,
			"failed to encode conversation %q", c.Id)
	}
	if err = s.coll.Put(c.Id, doc); err != nil {
		return nil, errors.WithMessagef(store.ErrReplication,
			"failed to put conversation %q: %s", c.Id, err)
	}
	return c.clone(), nil
}

// merge folds one observed write into the cache, latest wins per id.
func (s *Store) merge(ev replica.WriteEvent) (bool, error) {
	var c Conversation
	if err := json.Unmarshal(ev.Value, &c); err != nil {
		return false, errors.Wrap(err, "undecodable conversation document")
	}
	if c.Id == "" {
		return false, errors.New("conversation document without an id")
	}

	s.mux.Lock()
	s.cached[c.Id] = &c
	s.mux.Unlock()

	jww.TRACE.Printf("[CONVS] Merged write for conversation %q from %s "+
		"(order %d)", c.Id, ev.Address, ev.Order)
	return true, nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func dedupe(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, x := range list {
		if _, ok := seen[x]; !ok {
			seen[x] = struct{}{}
			out = append(out, x)
		}
	}
	return out
}
