package models

// User is a registered account. Usernames are unique and immutable once
// assigned; users are never deleted.
type User struct {
	ID   uint64 `cbor:"id" json:"id"`
	Name string `cbor:"name" json:"name"`
}

// Group is a named set of member user ids. The member set is replaced
// wholesale on edit, never merged.
type Group struct {
	ID      uint64   `cbor:"id" json:"id"`
	Name    string   `cbor:"name" json:"name"`
	Members []uint64 `cbor:"members" json:"members"`
}

// HasMember reports whether id is currently a member of the group.
func (g Group) HasMember(id uint64) bool {
	for _, m := range g.Members {
		if m == id {
			return true
		}
	}
	return false
}

// Message is one stored message row. CreatedAt is a unix timestamp in
// seconds, assigned when the send transaction commits. Tags hold
// lower-cased tokens in the order the sender supplied them.
type Message struct {
	ID        uint64    `cbor:"id" json:"id"`
	Sender    uint64    `cbor:"sender" json:"sender"`
	Recipient Recipient `cbor:"recipient" json:"recipient"`
	Body      string    `cbor:"body" json:"body"`
	CreatedAt int64     `cbor:"created_at" json:"created_at"`
	Tags      []string  `cbor:"tags,omitempty" json:"tags,omitempty"`
}
