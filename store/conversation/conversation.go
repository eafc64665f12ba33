////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"time"

	"github.com/pkg/errors"

	"gitlab.com/meshchat/client/store"
)

// Type distinguishes two-party conversations from group chats.
type Type string

const (
	// Direct conversations have exactly two participants and their
	// membership never changes.
	Direct Type = "direct"

	// Group conversations have two or more participants and admins may
	// change membership.
	Group Type = "group"
)

// Status is the lifecycle state of a conversation. Deleted is a logical
// state; the document is never purged.
type Status string

const (
	Active   Status = "active"
	Archived Status = "archived"
	Deleted  Status = "deleted"
)

// Metadata is the display state of a conversation.
type Metadata struct {
	Name         string    `json:"name,omitempty"`
	Avatar       string    `json:"avatar,omitempty"`
	Description  string    `json:"description,omitempty"`
	LastMessage  string    `json:"lastMessage,omitempty"`
	LastActivity time.Time `json:"lastActivity"`
}

// Settings are the admin-controlled conversation options.
type Settings struct {
	Encrypted     bool `json:"encrypted"`
	ReadReceipts  bool `json:"readReceipts"`
	Notifications bool `json:"notifications"`
	RetentionDays int  `json:"retentionDays"`
}

// Conversation is the document replicated in the conversations collection.
// Invariants: admins are a subset of participants, participants number at
// least two, and a direct conversation has exactly two with immutable
// membership.
type Conversation struct {
	Id           string           `json:"id"`
	Participants []string         `json:"participants"`
	Type         Type             `json:"type"`
	Admins       []string         `json:"admins"`
	Metadata     Metadata         `json:"metadata"`
	Settings     Settings         `json:"settings"`
	Status       Status           `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
	Deleted      *store.Tombstone `json:"deleted,omitempty"`
}

// MetadataPatch carries the metadata fields an update may change. Nil fields
// are left untouched.
type MetadataPatch struct {
	Name        *string
	Avatar      *string
	Description *string
}

// SettingsPatch carries the settings an update may change. Nil fields are
// left untouched.
type SettingsPatch struct {
	Encrypted     *bool
	ReadReceipts  *bool
	Notifications *bool
	RetentionDays *int
}

// HasParticipant reports whether the user belongs to the conversation.
func (c *Conversation) HasParticipant(userId string) bool {
	for _, p := range c.Participants {
		if p == userId {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user administers the conversation.
func (c *Conversation) IsAdmin(userId string) bool {
	for _, a := range c.Admins {
		if a == userId {
			return true
		}
	}
	return false
}

// validate checks the structural invariants before any write.
func (c *Conversation) validate() error {
	if len(c.Participants) < 2 {
		return errors.WithMessage(store.ErrValidation,
			"a conversation requires at least two participants")
	}
	if c.Type == Direct && len(c.Participants) != 2 {
		return errors.WithMessage(store.ErrValidation,
			"a direct conversation has exactly two participants")
	}
	if len(c.Admins) == 0 {
		return errors.WithMessage(store.ErrValidation,
			"a conversation requires at least one admin")
	}
	for _, a := range c.Admins {
		if !c.HasParticipant(a) {
			return errors.WithMessagef(store.ErrValidation,
				"admin %q is not a participant", a)
		}
	}
	return nil
}

// clone deep-copies the conversation so cached state never escapes by
// reference.
func (c *Conversation) clone() *Conversation {
	cp := *c
	cp.Participants = append([]string(nil), c.Participants...)
	cp.Admins = append([]string(nil), c.Admins...)
	if c.Deleted != nil {
		del := *c.Deleted
		cp.Deleted = &del
	}
	return &cp
}

func (c *Conversation) applyMetadata(p MetadataPatch) {
	if p.Name != nil {
		c.Metadata.Name = *p.Name
	}
	if p.Avatar != nil {
		c.Metadata.Avatar = *p.Avatar
	}
	if p.Description != nil {
		c.Metadata.Description = *p.Description
	}
}

func (c *Conversation) applySettings(p SettingsPatch) {
	if p.Encrypted != nil {
		c.Settings.Encrypted = *p.Encrypted
	}
	if p.ReadReceipts != nil {
		c.Settings.ReadReceipts = *p.ReadReceipts
	}
	if p.Notifications != nil {
		c.Settings.Notifications = *p.Notifications
	}
	if p.RetentionDays != nil {
		c.Settings.RetentionDays = *p.RetentionDays
	}
}
