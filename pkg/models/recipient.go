package models

// RecipientKind discriminates the two addressing targets of a message.
type RecipientKind uint8

const (
	KindUser  RecipientKind = 0
	KindGroup RecipientKind = 1
)

// Recipient is the addressing target of a message: a single user or a
// group. The kind sorts before the id wherever recipients are used as key
// components, so all messages for one recipient form a contiguous range.
type Recipient struct {
	Kind RecipientKind `cbor:"kind" json:"kind"`
	ID   uint64        `cbor:"id" json:"id"`
}

// UserRecipient addresses a single user.
func UserRecipient(id uint64) Recipient {
	return Recipient{Kind: KindUser, ID: id}
}

// GroupRecipient addresses a group.
func GroupRecipient(id uint64) Recipient {
	return Recipient{Kind: KindGroup, ID: id}
}

// IsUser reports whether the recipient is a single user.
func (r Recipient) IsUser() bool { return r.Kind == KindUser }

// IsGroup reports whether the recipient is a group.
func (r Recipient) IsGroup() bool { return r.Kind == KindGroup }
