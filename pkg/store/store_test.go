package store

import (
	"errors"
	"testing"

	"parley/pkg/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func mustUser(t *testing.T, s *Store, name string) uint64 {
	t.Helper()
	id, err := s.CreateUser(name)
	if err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return id
}

func TestCreateUserAssignsSequentialIDs(t *testing.T) {
	s := newStore(t)
	a := mustUser(t, s, "alice")
	b := mustUser(t, s, "bob")
	if a != 0 || b != 1 {
		t.Fatalf("expected dense ids from 0, got %d then %d", a, b)
	}
}

func TestCreateUserRejectsDuplicateName(t *testing.T) {
	s := newStore(t)
	mustUser(t, s, "alice")
	if _, err := s.CreateUser("alice"); !errors.Is(err, ErrUsernameInUse) {
		t.Fatalf("expected ErrUsernameInUse, got %v", err)
	}
	// failed creation must not leak a row
	users, err := s.ListUsers()
	if err != nil {
		t.Fatalf("list users: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user after duplicate rejection, got %d", len(users))
	}
}

func TestUserLookupBothDirections(t *testing.T) {
	s := newStore(t)
	id := mustUser(t, s, "carol")

	name, ok, err := s.UserByID(id)
	if err != nil || !ok {
		t.Fatalf("UserByID: ok=%v err=%v", ok, err)
	}
	if name != "carol" {
		t.Fatalf("UserByID = %q, want carol", name)
	}

	got, ok, err := s.UserByName("carol")
	if err != nil || !ok {
		t.Fatalf("UserByName: ok=%v err=%v", ok, err)
	}
	if got != id {
		t.Fatalf("UserByName = %d, want %d", got, id)
	}

	if _, ok, err := s.UserByID(id + 100); err != nil || ok {
		t.Fatalf("absent user should be ok=false, got ok=%v err=%v", ok, err)
	}
}

func TestSendMessageValidation(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	m, err := s.SendMessage("hi", alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m.Sender != alice || !m.Recipient.IsUser() || m.Recipient.ID != bob {
		t.Fatalf("stored message has wrong addressing: %+v", m)
	}
	if m.CreatedAt == 0 {
		t.Fatalf("message timestamp not stamped")
	}

	if _, err := s.SendMessage("x", alice, models.UserRecipient(999)); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("unknown recipient: expected ErrInvalidUserID, got %v", err)
	}
	if _, err := s.SendMessage("x", 999, models.UserRecipient(bob)); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("unknown sender: expected ErrInvalidUserID, got %v", err)
	}
	if _, err := s.SendMessage("x", alice, models.GroupRecipient(1)); !errors.Is(err, ErrInvalidGroupID) {
		t.Fatalf("unknown group: expected ErrInvalidGroupID, got %v", err)
	}
}

func TestGroupSendRequiresMembership(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	eve := mustUser(t, s, "eve")

	g, _, err := s.PutGroup("room", []uint64{alice, bob}, nil, alice)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := s.SendMessage("hi", eve, models.GroupRecipient(g.ID)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-member send: expected ErrPermissionDenied, got %v", err)
	}
	if _, err := s.SendMessage("hi", alice, models.GroupRecipient(g.ID)); err != nil {
		t.Fatalf("member send: %v", err)
	}
}

func TestMessageIDsNeverReused(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	m1, err := s.SendMessage("one", alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.DeleteMessage(m1.ID, alice); err != nil {
		t.Fatalf("delete: %v", err)
	}
	m2, err := s.SendMessage("two", alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if m2.ID <= m1.ID {
		t.Fatalf("id %d reused or regressed after deleting %d", m2.ID, m1.ID)
	}
}

func TestRowIndexBijection(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	for i := 0; i < 5; i++ {
		if _, err := s.SendMessage("m", alice, models.UserRecipient(bob)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	rows, err := s.Keys(msgPrefix)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	idx, err := s.Keys(idxPrefix)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(rows) != 5 || len(idx) != 5 {
		t.Fatalf("expected 5 rows and 5 index entries, got %d and %d", len(rows), len(idx))
	}

	msgs, err := s.Messages(alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if _, err := s.DeleteMessage(msgs[0].ID, alice); err != nil {
		t.Fatalf("delete: %v", err)
	}
	rows, _ = s.Keys(msgPrefix)
	idx, _ = s.Keys(idxPrefix)
	if len(rows) != 4 || len(idx) != 4 {
		t.Fatalf("bijection broken after delete: %d rows, %d index entries", len(rows), len(idx))
	}
}

func TestDirectConversationIsSymmetric(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	if _, err := s.SendMessage("from alice", alice, models.UserRecipient(bob)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.SendMessage("from bob", bob, models.UserRecipient(alice)); err != nil {
		t.Fatalf("send: %v", err)
	}

	fromAlice, err := s.Messages(alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	fromBob, err := s.Messages(bob, models.UserRecipient(alice))
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(fromAlice) != 2 || len(fromBob) != 2 {
		t.Fatalf("both views should hold 2 messages, got %d and %d", len(fromAlice), len(fromBob))
	}
	for i := range fromAlice {
		if fromAlice[i].ID != fromBob[i].ID {
			t.Fatalf("views disagree at %d: %d vs %d", i, fromAlice[i].ID, fromBob[i].ID)
		}
	}
	// a third user sees nothing of this conversation
	carol := mustUser(t, s, "carol")
	other, err := s.Messages(carol, models.UserRecipient(alice))
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(other) != 0 {
		t.Fatalf("carol should see no messages, got %d", len(other))
	}
}

func TestMessagesOrderedByID(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	for _, body := range []string{"a", "b", "c"} {
		if _, err := s.SendMessage(body, alice, models.UserRecipient(bob)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	msgs, err := s.Messages(bob, models.UserRecipient(alice))
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].ID <= msgs[i-1].ID {
			t.Fatalf("messages out of order: %d after %d", msgs[i].ID, msgs[i-1].ID)
		}
	}
}

func TestMessagesSkipDanglingIndexEntries(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	m, err := s.SendMessage("kept", alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// plant an index entry whose message row does not exist, as a crash
	// between the two writes would have left behind
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(idxKey(models.UserRecipient(bob), alice, m.ID+50), nil, nil); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := s.apply(b, "test"); err != nil {
		t.Fatalf("apply: %v", err)
	}

	msgs, err := s.Messages(bob, models.UserRecipient(alice))
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != m.ID {
		t.Fatalf("expected only the surviving row, got %+v", msgs)
	}
}

func TestEditMessagePermissions(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	m, err := s.SendMessage("draft", alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	// the recipient may not edit
	if _, err := s.EditMessageBody(m.ID, "hijacked", bob); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("recipient edit: expected ErrPermissionDenied, got %v", err)
	}
	got, err := s.EditMessageBody(m.ID, "final", alice)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got.Body != "final" || got.ID != m.ID || got.CreatedAt != m.CreatedAt {
		t.Fatalf("edit changed more than the body: %+v", got)
	}
	if _, err := s.EditMessageBody(999, "x", alice); !errors.Is(err, ErrInvalidMessageID) {
		t.Fatalf("absent message: expected ErrInvalidMessageID, got %v", err)
	}
}

func TestEditTagsNormalizes(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	m, err := s.SendMessage("tagged", alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := s.EditMessageTags(m.ID, []string{"Urgent, Work", "  HOME  "}, alice)
	if err != nil {
		t.Fatalf("edit tags: %v", err)
	}
	want := []string{"urgent", "work", "home"}
	if len(got.Tags) != len(want) {
		t.Fatalf("tags = %v, want %v", got.Tags, want)
	}
	for i := range want {
		if got.Tags[i] != want[i] {
			t.Fatalf("tags = %v, want %v", got.Tags, want)
		}
	}
}

func TestDeleteMessagePermissions(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	eve := mustUser(t, s, "eve")

	m, err := s.SendMessage("hi", alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.DeleteMessage(m.ID, eve); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("outsider delete: expected ErrPermissionDenied, got %v", err)
	}
	// the direct recipient may delete
	if _, err := s.DeleteMessage(m.ID, bob); err != nil {
		t.Fatalf("recipient delete: %v", err)
	}
	if _, err := s.DeleteMessage(m.ID, alice); !errors.Is(err, ErrInvalidMessageID) {
		t.Fatalf("double delete: expected ErrInvalidMessageID, got %v", err)
	}
}

func TestGroupMemberMayDeleteGroupMessage(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	g, _, err := s.PutGroup("room", []uint64{alice, bob}, nil, alice)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	m, err := s.SendMessage("hello room", alice, models.GroupRecipient(g.ID))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if _, err := s.DeleteMessage(m.ID, bob); err != nil {
		t.Fatalf("member delete of group message: %v", err)
	}
}

func TestPutGroupValidatesAndReplaces(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	carol := mustUser(t, s, "carol")

	if _, _, err := s.PutGroup("room", []uint64{alice, 999}, nil, alice); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("unknown member: expected ErrInvalidUserID, got %v", err)
	}

	g, prior, err := s.PutGroup("room", []uint64{bob, alice, bob}, nil, alice)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if len(g.Members) != 2 {
		t.Fatalf("members not deduplicated: %v", g.Members)
	}
	if prior != nil {
		t.Fatalf("create reported prior members: %v", prior)
	}

	// non-member may not edit
	if _, _, err := s.PutGroup("room2", []uint64{carol}, &g.ID, carol); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("non-member edit: expected ErrPermissionDenied, got %v", err)
	}
	// member replaces the set wholesale, even removing themselves
	g2, prior, err := s.PutGroup("renamed", []uint64{bob, carol}, &g.ID, alice)
	if err != nil {
		t.Fatalf("edit group: %v", err)
	}
	if g2.ID != g.ID || g2.Name != "renamed" || len(g2.Members) != 2 || g2.HasMember(alice) {
		t.Fatalf("edit result wrong: %+v", g2)
	}
	if len(prior) != 2 || prior[0] != alice || prior[1] != bob {
		t.Fatalf("edit reported wrong prior members: %v", prior)
	}

	missing := g.ID + 100
	if _, _, err := s.PutGroup("x", nil, &missing, alice); !errors.Is(err, ErrInvalidGroupID) {
		t.Fatalf("absent group: expected ErrInvalidGroupID, got %v", err)
	}
}

func TestMembershipEditKeepsHistory(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	g, _, err := s.PutGroup("room", []uint64{alice, bob}, nil, alice)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := s.SendMessage("before", bob, models.GroupRecipient(g.ID)); err != nil {
		t.Fatalf("send: %v", err)
	}
	// bob leaves; the message he sent stays
	if _, _, err := s.PutGroup("room", []uint64{alice}, &g.ID, alice); err != nil {
		t.Fatalf("edit group: %v", err)
	}
	msgs, err := s.Messages(alice, models.GroupRecipient(g.ID))
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "before" {
		t.Fatalf("history lost on membership edit: %v", msgs)
	}
	// and bob can no longer read it
	if _, err := s.Messages(bob, models.GroupRecipient(g.ID)); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("ex-member read: expected ErrPermissionDenied, got %v", err)
	}
}

func TestDeleteGroupCascades(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")
	eve := mustUser(t, s, "eve")

	g, _, err := s.PutGroup("room", []uint64{alice, bob}, nil, alice)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := s.SendMessage("in group", alice, models.GroupRecipient(g.ID)); err != nil {
			t.Fatalf("send: %v", err)
		}
	}
	direct, err := s.SendMessage("direct", alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	if _, err := s.DeleteGroup(g.ID, eve); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("outsider group delete: expected ErrPermissionDenied, got %v", err)
	}
	members, err := s.DeleteGroup(g.ID, bob)
	if err != nil {
		t.Fatalf("delete group: %v", err)
	}
	if len(members) != 2 || members[0] != alice || members[1] != bob {
		t.Fatalf("delete reported wrong members: %v", members)
	}
	if _, err := s.DeleteGroup(g.ID, bob); !errors.Is(err, ErrInvalidGroupID) {
		t.Fatalf("double delete: expected ErrInvalidGroupID, got %v", err)
	}

	// the group, its messages and their index entries are all gone; the
	// unrelated direct message survives
	rows, _ := s.Keys(msgPrefix)
	idx, _ := s.Keys(idxPrefix)
	if len(rows) != 1 || len(idx) != 1 {
		t.Fatalf("cascade incomplete: %d rows, %d index entries", len(rows), len(idx))
	}
	got, err := s.Messages(bob, models.UserRecipient(alice))
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(got) != 1 || got[0].ID != direct.ID {
		t.Fatalf("direct message lost in cascade: %v", got)
	}
}

func TestGroupsForUser(t *testing.T) {
	s := newStore(t)
	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	g1, _, err := s.PutGroup("both", []uint64{alice, bob}, nil, alice)
	if err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, _, err := s.PutGroup("solo", []uint64{alice}, nil, alice); err != nil {
		t.Fatalf("create group: %v", err)
	}

	groups, err := s.GroupsForUser(bob)
	if err != nil {
		t.Fatalf("groups for user: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != g1.ID {
		t.Fatalf("expected only %d, got %v", g1.ID, groups)
	}
	if _, err := s.GroupsForUser(999); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("unknown user: expected ErrInvalidUserID, got %v", err)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	alice, err := s.CreateUser("alice")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	bob, err := s.CreateUser("bob")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	m, err := s.SendMessage("durable", alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()
	msgs, err := s2.Messages(alice, models.UserRecipient(bob))
	if err != nil {
		t.Fatalf("messages after reopen: %v", err)
	}
	if len(msgs) != 1 || msgs[0].ID != m.ID || msgs[0].Body != "durable" {
		t.Fatalf("message did not survive reopen: %v", msgs)
	}
	// id allocation continues past the persisted mark
	m2, err := s2.SendMessage("later", bob, models.UserRecipient(alice))
	if err != nil {
		t.Fatalf("send after reopen: %v", err)
	}
	if m2.ID <= m.ID {
		t.Fatalf("id regressed after reopen: %d then %d", m.ID, m2.ID)
	}
}
