////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package user

import (
	"time"

	"github.com/pkg/errors"

	"gitlab.com/meshchat/client/store"
)

// Presence is a user's reachability as last reported by their own peer.
type Presence string

const (
	Online  Presence = "online"
	Offline Presence = "offline"
)

// User is the profile document replicated in the users collection. The id is
// the wallet-derived address, so it is globally unique without coordination.
// Accounts are never hard-deleted; Deleted marks an account inactive while
// its history stays replicated.
type User struct {
	Id            string           `json:"id"`
	WalletAddress string           `json:"walletAddress"`
	Username      string           `json:"username"`
	Email         string           `json:"email,omitempty"`
	Avatar        string           `json:"avatar,omitempty"`
	Bio           string           `json:"bio,omitempty"`
	Tags          []string         `json:"tags,omitempty"`
	Status        Presence         `json:"status"`
	LastSeen      time.Time        `json:"lastSeen"`
	CreatedAt     time.Time        `json:"createdAt"`
	Blocked       []string         `json:"blocked"`
	Conversations []string         `json:"conversations"`
	Deleted       *store.Tombstone `json:"deleted,omitempty"`
}

// Patch carries the profile fields an Update may change. Nil fields are left
// untouched.
type Patch struct {
	Username *string
	Email    *string
	Avatar   *string
	Bio      *string
	Tags     *[]string
}

// validate checks the invariants required before a registration write.
func (u *User) validate() error {
	if u.WalletAddress == "" {
		return errors.WithMessage(store.ErrValidation,
			"user requires a wallet address")
	}
	if u.Username == "" {
		return errors.WithMessage(store.ErrValidation,
			"user requires a username")
	}
	return nil
}

// HasBlocked reports whether the user has blocked the given id.
func (u *User) HasBlocked(id string) bool {
	for _, b := range u.Blocked {
		if b == id {
			return true
		}
	}
	return false
}

// InConversation reports whether the conversation id is attached to the user.
func (u *User) InConversation(convId string) bool {
	for _, c := range u.Conversations {
		if c == convId {
			return true
		}
	}
	return false
}

// clone deep-copies the user so cached state never escapes by reference.
func (u *User) clone() *User {
	cp := *u
	cp.Tags = append([]string(nil), u.Tags...)
	cp.Blocked = append([]string(nil), u.Blocked...)
	cp.Conversations = append([]string(nil), u.Conversations...)
	if u.Deleted != nil {
		del := *u.Deleted
		cp.Deleted = &del
	}
	return &cp
}

// apply folds the patch into the user.
func (u *User) apply(p Patch) {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Avatar != nil {
		u.Avatar = *p.Avatar
	}
	if p.Bio != nil {
		u.Bio = *p.Bio
	}
	if p.Tags != nil {
		u.Tags = append([]string(nil), (*p.Tags)...)
	}
}
