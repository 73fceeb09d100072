package store

import (
	"fmt"
	"sort"

	"github.com/fxamacker/cbor/v2"

	"parley/pkg/logger"
	"parley/pkg/models"
)

func decodeGroup(id uint64, v []byte) (models.Group, error) {
	var g models.Group
	if err := cbor.Unmarshal(v, &g); err != nil {
		return g, fmt.Errorf("corrupt group row %d: %w", id, err)
	}
	g.ID = id
	return g, nil
}

// PutGroup creates a group or replaces an existing one wholesale. Every
// member id must name an existing user. When existing is non-nil the
// acting user must currently be a member of that group; the whole member
// set is then replaced, not merged. Historical messages are untouched by
// membership edits.
//
// The second result is the membership just before the write (nil on
// create), read inside the same transaction so callers can notify removed
// members without racing a concurrent edit.
func (s *Store) PutGroup(name string, members []uint64, existing *uint64, actor uint64) (models.Group, []uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := append([]uint64(nil), members...)
	sort.Slice(set, func(i, j int) bool { return set[i] < set[j] })
	set = dedupIDs(set)

	if ok, err := userExists(s.db, set...); err != nil {
		return models.Group{}, nil, err
	} else if !ok {
		return models.Group{}, nil, ErrInvalidUserID
	}

	b := s.db.NewBatch()
	defer b.Close()

	var id uint64
	var prior []uint64
	if existing != nil {
		id = *existing
		v, ok, err := get(s.db, groupKey(id))
		if err != nil {
			return models.Group{}, nil, err
		}
		if !ok {
			return models.Group{}, nil, ErrInvalidGroupID
		}
		cur, err := decodeGroup(id, v)
		if err != nil {
			return models.Group{}, nil, err
		}
		if !cur.HasMember(actor) {
			return models.Group{}, nil, ErrPermissionDenied
		}
		prior = cur.Members
	} else {
		var err error
		id, err = s.allocID(b, "group", groupPrefix)
		if err != nil {
			return models.Group{}, nil, err
		}
	}

	g := models.Group{ID: id, Name: name, Members: set}
	row, err := cbor.Marshal(g)
	if err != nil {
		return models.Group{}, nil, err
	}
	if err := b.Set(groupKey(id), row, nil); err != nil {
		return models.Group{}, nil, err
	}
	if err := s.apply(b, "put_group"); err != nil {
		return models.Group{}, nil, err
	}
	logger.Info("group_saved", "id", id, "name", name, "members", len(set))
	return g, prior, nil
}

// DeleteGroup removes the group and cascades deletion of every message
// ever addressed to it, in one transaction. The acting user must be a
// current member. It returns the membership at the time of deletion so
// callers can notify exactly the users that just lost the group.
func (s *Store) DeleteGroup(id uint64, actor uint64) ([]uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok, err := get(s.db, groupKey(id))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidGroupID
	}
	g, err := decodeGroup(id, v)
	if err != nil {
		return nil, err
	}
	if !g.HasMember(actor) {
		return nil, ErrPermissionDenied
	}

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Delete(groupKey(id), nil); err != nil {
		return nil, err
	}

	// sweep the delivery index range for this group, removing each index
	// entry together with its message row
	var swept int
	var sweepErr error
	scanErr := scanPrefix(s.db, idxRecipientPrefix(models.GroupRecipient(id)), func(k, _ []byte) bool {
		key := append([]byte(nil), k...)
		if _, _, msgID, ok := parseIdxKey(key); ok {
			if sweepErr = b.Delete(msgKey(msgID), nil); sweepErr != nil {
				return false
			}
		}
		if sweepErr = b.Delete(key, nil); sweepErr != nil {
			return false
		}
		swept++
		return true
	})
	if scanErr != nil {
		return nil, scanErr
	}
	if sweepErr != nil {
		return nil, sweepErr
	}

	if err := s.apply(b, "delete_group"); err != nil {
		return nil, err
	}
	logger.Info("group_deleted", "id", id, "messages_swept", swept)
	return g.Members, nil
}

// GroupByID loads one group. Absent groups report ok=false.
func (s *Store) GroupByID(id uint64) (models.Group, bool, error) {
	v, ok, err := get(s.db, groupKey(id))
	if err != nil || !ok {
		return models.Group{}, false, err
	}
	g, err := decodeGroup(id, v)
	if err != nil {
		return models.Group{}, false, err
	}
	return g, true, nil
}

// GroupsForUser returns every group the user is currently a member of, in
// id order. The user id must exist.
func (s *Store) GroupsForUser(userID uint64) ([]models.Group, error) {
	snap := s.db.NewSnapshot()
	defer snap.Close()

	if ok, err := userExists(snap, userID); err != nil {
		return nil, err
	} else if !ok {
		return nil, ErrInvalidUserID
	}

	var out []models.Group
	var decodeErr error
	err := scanPrefix(snap, []byte(groupPrefix), func(k, v []byte) bool {
		id, ok := parseIDSuffix(k, groupPrefix)
		if !ok {
			return true
		}
		g, err := decodeGroup(id, v)
		if err != nil {
			decodeErr = err
			return false
		}
		if g.HasMember(userID) {
			out = append(out, g)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return out, nil
}

func dedupIDs(sorted []uint64) []uint64 {
	out := sorted[:0]
	for i, id := range sorted {
		if i == 0 || id != sorted[i-1] {
			out = append(out, id)
		}
	}
	return out
}
