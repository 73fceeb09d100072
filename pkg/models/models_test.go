package models

import "testing"

func TestRecipientConstructors(t *testing.T) {
	u := UserRecipient(7)
	if !u.IsUser() || u.IsGroup() || u.ID != 7 {
		t.Fatalf("UserRecipient = %+v", u)
	}
	g := GroupRecipient(3)
	if !g.IsGroup() || g.IsUser() || g.ID != 3 {
		t.Fatalf("GroupRecipient = %+v", g)
	}
	if u == g {
		t.Fatalf("kinds should distinguish recipients with equal ids")
	}
}

func TestHasMember(t *testing.T) {
	g := Group{ID: 1, Name: "room", Members: []uint64{2, 5, 9}}
	if !g.HasMember(5) {
		t.Fatalf("member 5 not found")
	}
	if g.HasMember(3) {
		t.Fatalf("non-member 3 reported present")
	}
	var empty Group
	if empty.HasMember(1) {
		t.Fatalf("empty group has no members")
	}
}
