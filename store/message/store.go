////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package message keeps the local view of the append-only messages log: a
// per-conversation ordered cache holding the latest version of each message,
// fed by local appends and by per-conversation switchboard subscriptions.
package message

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/meshchat/client/replica"
	"gitlab.com/meshchat/client/store"
	"gitlab.com/meshchat/client/switchboard"
)

const scopePrefix = "messages/"

// previewRunes bounds the conversation preview written on each send.
const previewRunes = 64

// Scope returns the switchboard scope for one conversation's messages.
func Scope(convId string) string { return scopePrefix + convId }

// ConversationDirectory is what the message path needs from the conversation
// store: an existence check before a send and the last-message preview update
// after one. May be nil, in which case both are skipped.
type ConversationDirectory interface {
	Exists(id string) bool
	TouchLastMessage(id, preview string, at time.Time) error
}

// cacheEntry pins a message version to the log order that produced it, so
// merges can apply the per-id latest-wins rule without trusting timestamps.
// dirty marks a version that is only optimistic: its append failed, so the
// log does not hold it yet.
type cacheEntry struct {
	msg   *Message
	order uint64
	dirty bool
}

// Store is the cached view over the messages log collection. The cache holds
// only the highest-order version of each message id; the log underneath
// keeps every version forever.
type Store struct {
	log   replica.LogCollection
	swb   *switchboard.Switchboard
	convs ConversationDirectory

	mux    sync.RWMutex
	byConv map[string][]*cacheEntry
	byId   map[string]*cacheEntry
	loaded map[string]bool
}

// errNoop signals from a supersede mutator that the entry is already in the
// requested state. supersede then appends nothing, unless the cached version
// itself is dirty and the requested state has yet to reach the log.
var errNoop = errors.New("supersede is a no-op")

// NewStore creates a message store over the log. Conversation caches are
// populated lazily on first Query; subscriptions are opened per conversation
// with Watch.
func NewStore(log replica.LogCollection, swb *switchboard.Switchboard,
	convs ConversationDirectory) *Store {
	return &Store{
		log:    log,
		swb:    swb,
		convs:  convs,
		byConv: make(map[string][]*cacheEntry),
		byId:   make(map[string]*cacheEntry),
		loaded: make(map[string]bool),
	}
}

// Send appends a new text message to the log and installs it in the cache,
// so the sender reads their own write immediately. The conversation's
// last-message preview is updated best-effort afterwards.
func (s *Store) Send(sender, convId, content string) (*Message, error) {
	now := netTime.Now()
	m := &Message{
		Id:             ComposeId(sender, now),
		ConversationId: convId,
		Sender:         sender,
		Content:        content,
		Timestamp:      now,
		Status:         Sent,
		ReadBy:         []string{},
		Type:           Text,
		Reactions:      []Reaction{},
	}
	if err := m.validate(); err != nil {
		return nil, err
	}
	if s.convs != nil && !s.convs.Exists(convId) {
		return nil, errors.WithMessagef(store.ErrNotFound,
			"conversation %q", convId)
	}

	s.mux.Lock()
	sent, err := s.appendLocked(m)
	s.mux.Unlock()
	if err != nil {
		return nil, err
	}

	if s.convs != nil {
		if err := s.convs.TouchLastMessage(convId, preview(content),
			now); err != nil {
			jww.WARN.Printf("[MSGS] Failed to update last-message preview "+
				"of %q: %+v", convId, err)
		}
	}
	return sent, nil
}

// Query returns the conversation's messages in timestamp order, one entry
// per message id, each in its latest version. The cache is rebuilt from a
// full log scan the first time a conversation is queried. A positive limit
// returns only the newest limit messages.
func (s *Store) Query(convId string, limit int) ([]Message, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	if err := s.ensureLoadedLocked(convId); err != nil {
		return nil, err
	}

	list := s.byConv[convId]
	msgs := make([]Message, 0, len(list))
	for _, e := range list {
		msgs = append(msgs, *e.msg.clone())
	}
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Get returns the latest cached version of one message.
func (s *Store) Get(id string) (*Message, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	e, ok := s.byId[id]
	if !ok {
		return nil, errors.WithMessagef(store.ErrNotFound, "message %q", id)
	}
	return e.msg.clone(), nil
}

// Edit supersedes the message with new content. Only the sender may edit,
// and a deleted message cannot be edited.
func (s *Store) Edit(id, actor, content string) (*Message, error) {
	if content == "" {
		return nil, errors.WithMessage(store.ErrValidation,
			"edited content cannot be empty")
	}
	return s.supersede(id, func(m *Message) error {
		if m.Sender != actor {
			return errors.WithMessagef(store.ErrValidation,
				"user %q is not the sender of message %q", actor, id)
		}
		if m.Deleted != nil {
			return errors.WithMessagef(store.ErrValidation,
				"message %q is deleted", id)
		}
		m.Content = content
		m.Edited = &EditMark{At: netTime.Now()}
		return nil
	})
}

// Delete supersedes the message with a tombstone and clears its content.
// Only the sender may delete. Idempotent: deleting a deleted message appends
// nothing.
func (s *Store) Delete(id, actor string) (*Message, error) {
	return s.supersede(id, func(m *Message) error {
		if m.Sender != actor {
			return errors.WithMessagef(store.ErrValidation,
				"user %q is not the sender of message %q", actor, id)
		}
		if m.Deleted != nil {
			return errNoop
		}
		m.Content = ""
		m.Deleted = &store.Tombstone{By: actor, At: netTime.Now()}
		return nil
	})
}

// React supersedes the message with the actor's reaction added. The reaction
// must be a single emoji. Idempotent per (emoji, user).
func (s *Store) React(id, actor, emoji string) (*Message, error) {
	if err := validateReaction(emoji); err != nil {
		return nil, err
	}
	return s.supersede(id, func(m *Message) error {
		if m.Deleted != nil {
			return errors.WithMessagef(store.ErrValidation,
				"message %q is deleted", id)
		}
		if m.HasReaction(emoji, actor) {
			return errNoop
		}
		m.Reactions = append(m.Reactions, Reaction{
			Emoji:     emoji,
			UserId:    actor,
			Timestamp: netTime.Now(),
		})
		return nil
	})
}

// Unreact supersedes the message with the actor's reaction removed.
// Idempotent.
func (s *Store) Unreact(id, actor, emoji string) (*Message, error) {
	return s.supersede(id, func(m *Message) error {
		if !m.HasReaction(emoji, actor) {
			return errNoop
		}
		reactions := m.Reactions[:0]
		for _, r := range m.Reactions {
			if !(r.Emoji == emoji && r.UserId == actor) {
				reactions = append(reactions, r)
			}
		}
		m.Reactions = reactions
		return nil
	})
}

// MarkRead supersedes the message with userId added to the read set and the
// status moved to read. Idempotent per user.
func (s *Store) MarkRead(id, userId string) (*Message, error) {
	return s.supersede(id, func(m *Message) error {
		if m.HasRead(userId) {
			return errNoop
		}
		m.ReadBy = append(m.ReadBy, userId)
		m.Status = Read
		return nil
	})
}

// MarkDelivered moves a sent message to delivered. Later states win.
func (s *Store) MarkDelivered(id string) (*Message, error) {
	return s.supersede(id, func(m *Message) error {
		if m.Status != Sent {
			return errNoop
		}
		m.Status = Delivered
		return nil
	})
}

// Watch subscribes the conversation's scope on the switchboard so remote
// appends merge into the cache. Watching an already watched conversation
// replaces the subscription.
func (s *Store) Watch(convId string) error {
	return s.swb.Subscribe(Scope(convId), s.log,
		func(ev replica.WriteEvent) (bool, error) {
			var m Message
			if err := json.Unmarshal(ev.Value, &m); err != nil {
				return false, errors.Wrap(err, "undecodable message entry")
			}
			if m.Id == "" {
				return false, errors.New("message entry without an id")
			}
			if m.ConversationId != convId {
				return false, nil
			}

			s.mux.Lock()
			changed := s.applyLocked(&m, ev.Order)
			s.mux.Unlock()

			if changed {
				jww.TRACE.Printf("[MSGS] Merged message %q from %s "+
					"(order %d)", m.Id, ev.Address, ev.Order)
			}
			return changed, nil
		})
}

// Unwatch drops the conversation's subscription. Idempotent; called when the
// caller leaves a conversation view and during shutdown.
func (s *Store) Unwatch(convId string) {
	s.swb.Unsubscribe(Scope(convId))
}

// supersede appends a mutated copy of the latest version of the message,
// carrying the same id. The original entry stays in the log; only the cache
// view moves forward. The message must already be in the local view (via
// Send, Query, or a merge).
func (s *Store) supersede(id string,
	mutate func(*Message) error) (*Message, error) {
	s.mux.Lock()
	defer s.mux.Unlock()

	cur, ok := s.byId[id]
	if !ok {
		return nil, errors.WithMessagef(store.ErrNotFound, "message %q", id)
	}

	next := cur.msg.clone()
	if err := mutate(next); err != nil {
		if !errors.Is(err, errNoop) {
			return nil, err
		}
		if !cur.dirty {
			return cur.msg.clone(), nil
		}
		// The cached version shows the requested state but never reached
		// the log; append it now so the retry becomes durable.
		next = cur.msg.clone()
	}
	return s.appendLocked(next)
}

// appendLocked writes the message to the log and applies it to the cache
// with the order the engine assigned. When the append fails, the optimistic
// version stays cached at order zero, where any later replicated entry for
// the same id supersedes it. Must be called holding the mutex.
func (s *Store) appendLocked(m *Message) (*Message, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to encode message %q", m.Id)
	}

	ptr, err := s.log.Append(data)
	if err != nil {
		s.installLocked(m)
		return nil, errors.WithMessagef(store.ErrReplication,
			"failed to append message %q: %s", m.Id, err)
	}

	s.applyLocked(m, ptr.Order)
	return m.clone(), nil
}

// applyLocked folds one message version into the cache. Returns false when
// the cache already holds a version of the same id at an equal or higher
// order, which covers both stale replicas and the echo of a version already
// applied locally. Must be called holding the mutex.
func (s *Store) applyLocked(m *Message, order uint64) bool {
	if cur, ok := s.byId[m.Id]; ok {
		if cur.msg.ConversationId != m.ConversationId {
			// An id belongs to exactly one conversation; an entry claiming
			// it for another would corrupt both conversation views.
			jww.WARN.Printf("[MSGS] Dropped entry for message %q: id is "+
				"bound to conversation %q but the entry names %q",
				m.Id, cur.msg.ConversationId, m.ConversationId)
			return false
		}
		if order <= cur.order {
			return false
		}
		cur.msg = m
		cur.order = order
		cur.dirty = false
		return true
	}

	e := &cacheEntry{msg: m, order: order}
	s.byId[m.Id] = e
	s.byConv[m.ConversationId] = insertSorted(s.byConv[m.ConversationId], e)
	return true
}

// installLocked forces the optimistic version into the cache after a failed
// append, keeping the existing order so a later replicated entry for the
// same id still supersedes it. The entry is marked dirty until some version
// of the message durably reaches the log. Must be called holding the mutex.
func (s *Store) installLocked(m *Message) {
	if cur, ok := s.byId[m.Id]; ok {
		cur.msg = m
		cur.dirty = true
		return
	}
	e := &cacheEntry{msg: m, dirty: true}
	s.byId[m.Id] = e
	s.byConv[m.ConversationId] = insertSorted(s.byConv[m.ConversationId], e)
}

// ensureLoadedLocked populates the conversation's cache from a full log scan
// the first time it is needed. Must be called holding the mutex.
func (s *Store) ensureLoadedLocked(convId string) error {
	if s.loaded[convId] {
		return nil
	}

	entries, err := s.log.Iterate(0)
	if err != nil {
		return errors.WithMessagef(store.ErrReplication,
			"failed to scan the message log for %q: %s", convId, err)
	}

	for _, entry := range entries {
		var m Message
		if err = json.Unmarshal(entry.Value, &m); err != nil || m.Id == "" {
			jww.WARN.Printf("[MSGS] Skipped undecodable log entry %d: %v",
				entry.Order, err)
			continue
		}
		if m.ConversationId != convId {
			continue
		}
		s.applyLocked(&m, entry.Order)
	}

	s.loaded[convId] = true
	return nil
}

// insertSorted keeps the conversation list ordered by timestamp, ties broken
// by id so all peers converge on the same order.
func insertSorted(list []*cacheEntry, e *cacheEntry) []*cacheEntry {
	i := len(list)
	for i > 0 {
		prev := list[i-1]
		if prev.msg.Timestamp.Before(e.msg.Timestamp) ||
			(prev.msg.Timestamp.Equal(e.msg.Timestamp) &&
				prev.msg.Id < e.msg.Id) {
			break
		}
		i--
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = e
	return list
}

func preview(content string) string {
	runes := []rune(content)
	if len(runes) <= previewRunes {
		return content
	}
	return string(runes[:previewRunes])
}
