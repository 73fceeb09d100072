package store

import (
	"parley/pkg/logger"
	"parley/pkg/models"
)

// CreateUser allocates the next user id for username and writes both the
// forward row and the reverse username index in one transaction. Returns
// ErrUsernameInUse when the username is already taken; the table is left
// unchanged in that case.
func (s *Store) CreateUser(username string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok, err := get(s.db, unameKey(username)); err != nil {
		return 0, err
	} else if ok {
		return 0, ErrUsernameInUse
	}

	b := s.db.NewBatch()
	defer b.Close()
	id, err := s.allocID(b, "user", userPrefix)
	if err != nil {
		return 0, err
	}
	if err := b.Set(userKey(id), []byte(username), nil); err != nil {
		return 0, err
	}
	if err := b.Set(unameKey(username), []byte(fmtID(id)), nil); err != nil {
		return 0, err
	}
	if err := s.apply(b, "create_user"); err != nil {
		return 0, err
	}
	logger.Info("user_created", "id", id, "username", username)
	return id, nil
}

// UserByID resolves a user id to its username. Absent users report
// ok=false, not an error.
func (s *Store) UserByID(id uint64) (string, bool, error) {
	v, ok, err := get(s.db, userKey(id))
	if err != nil || !ok {
		return "", false, err
	}
	return string(v), true, nil
}

// UserByName resolves a username through the reverse index.
func (s *Store) UserByName(username string) (uint64, bool, error) {
	v, ok, err := get(s.db, unameKey(username))
	if err != nil || !ok {
		return 0, false, err
	}
	id, pok := parseIDSuffix(v, "")
	if !pok {
		return 0, false, nil
	}
	return id, true, nil
}

// ListUsers returns every user in id order. A store with no users yet
// yields an empty slice.
func (s *Store) ListUsers() ([]models.User, error) {
	var out []models.User
	err := scanPrefix(s.db, []byte(userPrefix), func(k, v []byte) bool {
		if id, ok := parseIDSuffix(k, userPrefix); ok {
			out = append(out, models.User{ID: id, Name: string(v)})
		}
		return true
	})
	return out, err
}

// userExists reports whether every id in ids names an existing user,
// reading through r for snapshot consistency.
func userExists(r dbReader, ids ...uint64) (bool, error) {
	for _, id := range ids {
		if _, ok, err := get(r, userKey(id)); err != nil {
			return false, err
		} else if !ok {
			return false, nil
		}
	}
	return true, nil
}
