package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/fxamacker/cbor/v2"

	"parley/pkg/logger"
	"parley/pkg/models"
	"parley/pkg/validation"
)

func decodeMessage(id uint64, v []byte) (models.Message, error) {
	var m models.Message
	if err := cbor.Unmarshal(v, &m); err != nil {
		return m, fmt.Errorf("corrupt message row %d: %w", id, err)
	}
	m.ID = id
	return m, nil
}

// putMessage stages the message row and its delivery index entry together,
// keeping the row/index bijection.
func putMessage(b *pebble.Batch, m models.Message) error {
	row, err := cbor.Marshal(m)
	if err != nil {
		return err
	}
	if err := b.Set(msgKey(m.ID), row, nil); err != nil {
		return err
	}
	return b.Set(idxKey(m.Recipient, m.Sender, m.ID), nil, nil)
}

// SendMessage validates sender and recipient, allocates the next message
// id, stamps the commit-time timestamp and writes the message row together
// with its delivery index entry. Sending to a group requires current
// membership.
func (s *Store) SendMessage(body string, sender uint64, rcpt models.Recipient) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok, err := userExists(s.db, sender); err != nil {
		return models.Message{}, err
	} else if !ok {
		return models.Message{}, ErrInvalidUserID
	}
	if rcpt.IsGroup() {
		v, ok, err := get(s.db, groupKey(rcpt.ID))
		if err != nil {
			return models.Message{}, err
		}
		if !ok {
			return models.Message{}, ErrInvalidGroupID
		}
		g, err := decodeGroup(rcpt.ID, v)
		if err != nil {
			return models.Message{}, err
		}
		if !g.HasMember(sender) {
			return models.Message{}, ErrPermissionDenied
		}
	} else {
		if ok, err := userExists(s.db, rcpt.ID); err != nil {
			return models.Message{}, err
		} else if !ok {
			return models.Message{}, ErrInvalidUserID
		}
	}

	b := s.db.NewBatch()
	defer b.Close()
	id, err := s.allocID(b, "msg", msgPrefix)
	if err != nil {
		return models.Message{}, err
	}
	m := models.Message{
		ID:        id,
		Sender:    sender,
		Recipient: rcpt,
		Body:      body,
		CreatedAt: time.Now().UTC().Unix(),
	}
	if err := putMessage(b, m); err != nil {
		return models.Message{}, err
	}
	if err := s.apply(b, "send_message"); err != nil {
		return models.Message{}, err
	}
	logger.Debug("message_saved", "id", id, "sender", sender)
	return m, nil
}

// deletePermitted reports whether actor may delete m: the sender, the
// direct recipient, or any current member of the recipient group.
func (s *Store) deletePermitted(m models.Message, actor uint64) (bool, error) {
	if m.Sender == actor {
		return true, nil
	}
	if m.Recipient.IsUser() {
		return m.Recipient.ID == actor, nil
	}
	g, ok, err := s.GroupByID(m.Recipient.ID)
	if err != nil {
		return false, err
	}
	return ok && g.HasMember(actor), nil
}

// DeleteMessage removes a message row and its index entry together and
// returns the deleted message so callers can notify its recipients.
func (s *Store) DeleteMessage(id uint64, actor uint64) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := get(s.db, msgKey(id))
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, ErrInvalidMessageID
	}
	m, err := decodeMessage(id, v)
	if err != nil {
		return models.Message{}, err
	}
	if ok, err := s.deletePermitted(m, actor); err != nil {
		return models.Message{}, err
	} else if !ok {
		return models.Message{}, ErrPermissionDenied
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(msgKey(id), nil); err != nil {
		return models.Message{}, err
	}
	if err := b.Delete(idxKey(m.Recipient, m.Sender, m.ID), nil); err != nil {
		return models.Message{}, err
	}
	if err := s.apply(b, "delete_message"); err != nil {
		return models.Message{}, err
	}
	logger.Debug("message_deleted", "id", id, "actor", actor)
	return m, nil
}

// editMessage rewrites a message row in place. Edits are sender-only; the
// recipient and id never change, so the index entry stays valid.
func (s *Store) editMessage(id uint64, actor uint64, op string, mutate func(*models.Message)) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := get(s.db, msgKey(id))
	if err != nil {
		return models.Message{}, err
	}
	if !ok {
		return models.Message{}, ErrInvalidMessageID
	}
	m, err := decodeMessage(id, v)
	if err != nil {
		return models.Message{}, err
	}
	if m.Sender != actor {
		return models.Message{}, ErrPermissionDenied
	}
	mutate(&m)

	row, err := cbor.Marshal(m)
	if err != nil {
		return models.Message{}, err
	}
	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(msgKey(id), row, nil); err != nil {
		return models.Message{}, err
	}
	if err := s.apply(b, op); err != nil {
		return models.Message{}, err
	}
	return m, nil
}

// EditMessageBody replaces the body of a message the actor sent.
func (s *Store) EditMessageBody(id uint64, newBody string, actor uint64) (models.Message, error) {
	return s.editMessage(id, actor, "edit_message", func(m *models.Message) {
		m.Body = newBody
	})
}

// EditMessageTags replaces the tags of a message the actor sent. Tags are
// normalized to lower-cased whitespace/comma-split tokens.
func (s *Store) EditMessageTags(id uint64, newTags []string, actor uint64) (models.Message, error) {
	tags := validation.NormalizeTags(newTags)
	return s.editMessage(id, actor, "edit_tags", func(m *models.Message) {
		m.Tags = tags
	})
}

// Messages returns the conversation visible to actor for a recipient, in
// ascending message-id order.
//
// For a user recipient the result is the union of two index ranges: what
// actor sent to the user and what the user sent to actor. For a group
// recipient, membership is checked and the full index range for that group
// is resolved across all senders. Index entries whose message row has gone
// missing are skipped rather than failing the query.
func (s *Store) Messages(actor uint64, rcpt models.Recipient) ([]models.Message, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	var prefixes [][]byte
	if rcpt.IsGroup() {
		g, ok, err := groupFrom(snap, rcpt.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrInvalidGroupID
		}
		if !g.HasMember(actor) {
			return nil, ErrPermissionDenied
		}
		prefixes = [][]byte{idxRecipientPrefix(rcpt)}
	} else {
		if ok, err := userExists(snap, rcpt.ID); err != nil {
			return nil, err
		} else if !ok {
			return nil, ErrInvalidUserID
		}
		prefixes = [][]byte{
			idxPairPrefix(rcpt, actor),                          // actor -> other
			idxPairPrefix(models.UserRecipient(actor), rcpt.ID), // other -> actor
		}
	}

	var ids []uint64
	for _, p := range prefixes {
		err := scanPrefix(snap, p, func(k, _ []byte) bool {
			if _, _, msgID, ok := parseIdxKey(k); ok {
				ids = append(ids, msgID)
			}
			return true
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	ids = dedupIDs(ids)

	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		v, ok, err := get(snap, msgKey(id))
		if err != nil {
			return nil, err
		}
		if !ok {
			// index entry without a row; skip it
			logger.Warn("dangling_index_entry", "msg", id)
			continue
		}
		m, err := decodeMessage(id, v)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func groupFrom(r dbReader, id uint64) (models.Group, bool, error) {
	v, ok, err := get(r, groupKey(id))
	if err != nil || !ok {
		return models.Group{}, false, err
	}
	g, err := decodeGroup(id, v)
	if err != nil {
		return models.Group{}, false, err
	}
	return g, true, nil
}
