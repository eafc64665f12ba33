////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package conversation

import (
	"testing"

	"github.com/pkg/errors"
	"gitlab.com/elixxir/ekv"
	"gitlab.com/xx_network/primitives/netTime"

	"gitlab.com/meshchat/client/localdb"
	"gitlab.com/meshchat/client/replica"
	"gitlab.com/meshchat/client/store"
	"gitlab.com/meshchat/client/switchboard"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := localdb.New(ekv.MakeMemstore())
	coll, err := db.OpenDocuments("conversations", replica.Config{
		OpenWrite: true, Replicate: true})
	if err != nil {
		t.Fatalf("OpenDocuments returned: %+v", err)
	}
	if err = coll.Load(); err != nil {
		t.Fatalf("Load returned: %+v", err)
	}

	s, err := NewStore(coll, switchboard.New())
	if err != nil {
		t.Fatalf("NewStore returned: %+v", err)
	}
	return s
}

// A two-party conversation is direct, the creator is its only admin, and the
// create is immediately readable.
func TestStore_Create_Direct(t *testing.T) {
	s := newTestStore(t)

	c, err := s.Create("u1", []string{"u1", "u2"}, "")
	if err != nil {
		t.Fatalf("Create returned: %+v", err)
	}
	if c.Type != Direct {
		t.Errorf("type: got %q, expected %q", c.Type, Direct)
	}
	if len(c.Admins) != 1 || c.Admins[0] != "u1" {
		t.Errorf("admins: got %v, expected [u1]", c.Admins)
	}
	if c.Status != Active {
		t.Errorf("status: got %q, expected %q", c.Status, Active)
	}

	got, err := s.Get(c.Id)
	if err != nil {
		t.Fatalf("Get after Create returned: %+v", err)
	}
	if got.Id != c.Id {
		t.Errorf("read-your-writes violated: got %q, expected %q",
			got.Id, c.Id)
	}
}

// More than two participants make a group; invalid participant sets fail
// validation.
func TestStore_Create_Validation(t *testing.T) {
	s := newTestStore(t)

	c, err := s.Create("u1", []string{"u1", "u2", "u3"}, "trio")
	if err != nil {
		t.Fatalf("Create returned: %+v", err)
	}
	if c.Type != Group {
		t.Errorf("type: got %q, expected %q", c.Type, Group)
	}
	if c.Metadata.Name != "trio" {
		t.Errorf("name: got %q, expected %q", c.Metadata.Name, "trio")
	}

	if _, err = s.Create("u1", []string{"u1"}, ""); !errors.Is(err,
		store.ErrValidation) {
		t.Errorf("single participant: got %+v, expected %v",
			err, store.ErrValidation)
	}
	if _, err = s.Create("u9", []string{"u1", "u2"}, ""); !errors.Is(err,
		store.ErrValidation) {
		t.Errorf("creator not participating: got %+v, expected %v",
			err, store.ErrValidation)
	}
}

// Metadata and settings updates are admin-gated whole-document writes.
func TestStore_AdminGatedUpdates(t *testing.T) {
	s := newTestStore(t)
	c, _ := s.Create("u1", []string{"u1", "u2", "u3"}, "")

	name := "renamed"
	updated, err := s.UpdateMetadata(c.Id, "u1", MetadataPatch{Name: &name})
	if err != nil {
		t.Fatalf("UpdateMetadata returned: %+v", err)
	}
	if updated.Metadata.Name != "renamed" {
		t.Errorf("name: got %q, expected %q", updated.Metadata.Name,
			"renamed")
	}

	if _, err = s.UpdateMetadata(c.Id, "u2",
		MetadataPatch{Name: &name}); !errors.Is(err, store.ErrValidation) {
		t.Errorf("non-admin metadata update: got %+v, expected %v",
			err, store.ErrValidation)
	}

	encrypted := true
	updated, err = s.UpdateSettings(c.Id, "u1",
		SettingsPatch{Encrypted: &encrypted})
	if err != nil {
		t.Fatalf("UpdateSettings returned: %+v", err)
	}
	if !updated.Settings.Encrypted {
		t.Error("settings patch not applied")
	}
	if !updated.Settings.ReadReceipts {
		t.Error("unpatched setting changed")
	}
}

// Direct conversations are immutable in membership; groups may add and
// remove participants, demoting removed admins.
func TestStore_Membership(t *testing.T) {
	s := newTestStore(t)

	direct, _ := s.Create("u1", []string{"u1", "u2"}, "")
	if _, err := s.AddParticipant(direct.Id, "u1", "u3"); !errors.Is(err,
		store.ErrValidation) {
		t.Errorf("adding to direct: got %+v, expected %v",
			err, store.ErrValidation)
	}

	group, _ := s.Create("u1", []string{"u1", "u2", "u3"}, "")
	updated, err := s.AddParticipant(group.Id, "u1", "u4")
	if err != nil {
		t.Fatalf("AddParticipant returned: %+v", err)
	}
	if !updated.HasParticipant("u4") {
		t.Error("added participant missing")
	}

	// Repeat add is a no-op.
	updated, err = s.AddParticipant(group.Id, "u1", "u4")
	if err != nil {
		t.Fatalf("repeated AddParticipant returned: %+v", err)
	}
	if len(updated.Participants) != 4 {
		t.Errorf("participants: got %v, expected 4 entries",
			updated.Participants)
	}

	updated, err = s.RemoveParticipant(group.Id, "u1", "u4")
	if err != nil {
		t.Fatalf("RemoveParticipant returned: %+v", err)
	}
	if updated.HasParticipant("u4") {
		t.Error("removed participant still present")
	}

	// The only admin cannot be removed; admins must stay a subset of
	// participants and nonempty.
	if _, err = s.RemoveParticipant(group.Id, "u1", "u1"); !errors.Is(err,
		store.ErrValidation) {
		t.Errorf("removing the last admin: got %+v, expected %v",
			err, store.ErrValidation)
	}

	if _, err = s.RemoveParticipant(group.Id, "u1", "u9"); !errors.Is(err,
		store.ErrNotFound) {
		t.Errorf("removing a non-member: got %+v, expected %v",
			err, store.ErrNotFound)
	}
}

// Remove is admin-gated, tombstones instead of deleting, and is idempotent.
func TestStore_Remove(t *testing.T) {
	s := newTestStore(t)
	c, _ := s.Create("u1", []string{"u1", "u2"}, "")

	if err := s.Remove(c.Id, "u2"); !errors.Is(err, store.ErrValidation) {
		t.Errorf("non-admin remove: got %+v, expected %v",
			err, store.ErrValidation)
	}

	if err := s.Remove(c.Id, "u1"); err != nil {
		t.Fatalf("Remove returned: %+v", err)
	}
	if err := s.Remove(c.Id, "u1"); err != nil {
		t.Fatalf("repeated Remove returned: %+v", err)
	}

	if listed := s.ListForUser("u1"); len(listed) != 0 {
		t.Errorf("ListForUser after Remove: got %v, expected none", listed)
	}

	got, err := s.Get(c.Id)
	if err != nil {
		t.Fatalf("Get of removed conversation returned: %+v", err)
	}
	if got.Status != Deleted || got.Deleted == nil {
		t.Errorf("removed conversation not tombstoned: %+v", got)
	}

	// A deleted conversation rejects further admin updates.
	name := "zombie"
	if _, err = s.UpdateMetadata(c.Id, "u1",
		MetadataPatch{Name: &name}); !errors.Is(err, store.ErrValidation) {
		t.Errorf("update of deleted conversation: got %+v, expected %v",
			err, store.ErrValidation)
	}
}

// TouchLastMessage updates the preview without an admin gate and drives the
// ListForUser ordering.
func TestStore_TouchLastMessage(t *testing.T) {
	s := newTestStore(t)
	first, _ := s.Create("u1", []string{"u1", "u2"}, "")
	second, _ := s.Create("u1", []string{"u1", "u3"}, "")

	if err := s.TouchLastMessage(first.Id, "hi there",
		netTime.Now()); err != nil {
		t.Fatalf("TouchLastMessage returned: %+v", err)
	}

	got, _ := s.Get(first.Id)
	if got.Metadata.LastMessage != "hi there" {
		t.Errorf("lastMessage: got %q, expected %q",
			got.Metadata.LastMessage, "hi there")
	}

	listed := s.ListForUser("u1")
	if len(listed) != 2 || listed[0].Id != first.Id {
		t.Errorf("ListForUser order: got %v, expected %q first",
			listed, first.Id)
	}
	_ = second

	if err := s.TouchLastMessage("conv-missing", "x",
		netTime.Now()); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("touch of unknown conversation: got %+v, expected %v",
			err, store.ErrNotFound)
	}
}
