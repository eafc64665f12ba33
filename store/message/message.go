////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package message

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	uuid "github.com/satori/go.uuid"

	"gitlab.com/meshchat/client/store"
)

// Status is the delivery state of a message. Read state is tracked per user
// in ReadBy; Status moves to read once anyone has read it.
type Status string

const (
	Sent      Status = "sent"
	Delivered Status = "delivered"
	Read      Status = "read"
)

// Type is the payload kind of a message.
type Type string

const (
	Text   Type = "text"
	Image  Type = "image"
	File   Type = "file"
	System Type = "system"
)

// Reaction is one emoji attached to a message by one user.
type Reaction struct {
	Emoji     string    `json:"emoji"`
	UserId    string    `json:"userId"`
	Timestamp time.Time `json:"timestamp"`
}

// EditMark records that a message body was changed and when.
type EditMark struct {
	At time.Time `json:"at"`
}

// Message is one entry in the append-only messages log. Edits, deletes,
// reactions, and read receipts never mutate the original entry: they append a
// new entry carrying the same Id, and the entry with the highest log order
// is the message's current state. Supersedes keep the original Timestamp so
// conversation ordering is stable; EditMark and the tombstone carry the
// action's own time.
type Message struct {
	Id             string           `json:"id"`
	ConversationId string           `json:"conversationId"`
	Sender         string           `json:"sender"`
	Content        string           `json:"content"`
	Timestamp      time.Time        `json:"timestamp"`
	Status         Status           `json:"status"`
	ReadBy         []string         `json:"readBy"`
	Type           Type             `json:"type"`
	Reactions      []Reaction       `json:"reactions"`
	RepliedTo      string           `json:"repliedTo,omitempty"`
	Attachments    []string         `json:"attachments,omitempty"`
	Mentions       []string         `json:"mentions,omitempty"`
	Edited         *EditMark        `json:"edited,omitempty"`
	Deleted        *store.Tombstone `json:"deleted,omitempty"`
}

// ComposeId builds the composite message id: send time in milliseconds, the
// sender address, and a random suffix. The suffix keeps two sends by the same
// sender within one millisecond distinct, including sends into different
// conversations. A retried append must call this again so the retry cannot
// ambiguously duplicate a log entry.
func ComposeId(sender string, at time.Time) string {
	return fmt.Sprintf("%d-%s-%s", at.UnixMilli(), sender,
		uuid.NewV4().String()[:8])
}

func (m *Message) validate() error {
	if m.ConversationId == "" {
		return errors.WithMessage(store.ErrValidation,
			"message requires a conversation id")
	}
	if m.Sender == "" {
		return errors.WithMessage(store.ErrValidation,
			"message requires a sender")
	}
	if m.Content == "" && m.Type == Text {
		return errors.WithMessage(store.ErrValidation,
			"text message requires content")
	}
	return nil
}

// HasRead reports whether the user appears in the read set.
func (m *Message) HasRead(userId string) bool {
	for _, r := range m.ReadBy {
		if r == userId {
			return true
		}
	}
	return false
}

// HasReaction reports whether the user already attached the emoji.
func (m *Message) HasReaction(emoji, userId string) bool {
	for _, r := range m.Reactions {
		if r.Emoji == emoji && r.UserId == userId {
			return true
		}
	}
	return false
}

// clone deep-copies the message so cached state never escapes by reference.
func (m *Message) clone() *Message {
	cp := *m
	cp.ReadBy = append([]string(nil), m.ReadBy...)
	cp.Reactions = append([]Reaction(nil), m.Reactions...)
	cp.Attachments = append([]string(nil), m.Attachments...)
	cp.Mentions = append([]string(nil), m.Mentions...)
	if m.Edited != nil {
		ed := *m.Edited
		cp.Edited = &ed
	}
	if m.Deleted != nil {
		del := *m.Deleted
		cp.Deleted = &del
	}
	return &cp
}
