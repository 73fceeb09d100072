package store

import (
	"bytes"
	"io"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"parley/pkg/logger"
	"parley/pkg/telemetry"
)

// Store owns all durable state: users, groups, messages and the delivery
// index, inside one Pebble database. Every mutating operation runs as one
// atomic write batch under a single writer lock, so cross-table invariants
// hold after every commit. Readers do not take the writer lock; they work
// from point-in-time snapshots and iterators.
type Store struct {
	db *pebble.DB

	// mu serializes writer transactions. Pebble batches are atomic on
	// apply, but id allocation needs read-then-write isolation.
	mu sync.Mutex
}

// dbReader is the read surface shared by *pebble.DB and *pebble.Snapshot.
type dbReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
}

// Open opens (or creates) the database at path. An empty path opens a
// fully in-memory store for ephemeral deployments.
func Open(path string) (*Store, error) {
	opts := &pebble.Options{}
	if path == "" {
		opts.FS = vfs.NewMem()
		path = "parley"
		logger.Info("opening_mem_store")
	} else {
		logger.Info("opening_store", "path", path)
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		logger.Error("store_open_failed", "path", path, "err", err)
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	logger.Info("store_closed")
	return err
}

// apply commits a write batch durably and records the transaction.
func (s *Store) apply(b *pebble.Batch, op string) error {
	if err := s.db.Apply(b, pebble.Sync); err != nil {
		telemetry.StoreErrors.Inc()
		logger.Error("store_apply_failed", "op", op, "err", err)
		return err
	}
	telemetry.StoreTxns.WithLabelValues(op).Inc()
	return nil
}

// get returns the value for key, copying it out of the engine. Absent keys
// report ok=false rather than an error.
func get(r dbReader, key []byte) ([]byte, bool, error) {
	v, closer, err := r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		telemetry.StoreErrors.Inc()
		return nil, false, err
	}
	out := append([]byte(nil), v...)
	if closer != nil {
		_ = closer.Close()
	}
	return out, true, nil
}

// lastID returns the highest id currently present under a table prefix.
func (s *Store) lastID(prefix string) (uint64, bool, error) {
	p := []byte(prefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: p, UpperBound: prefixUpperBound(p)})
	if err != nil {
		return 0, false, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, false, iter.Error()
	}
	id, ok := parseIDSuffix(iter.Key(), prefix)
	if !ok {
		return 0, false, iter.Error()
	}
	return id, true, iter.Error()
}

// allocID assigns one past the current maximum id for a table and stages
// the new high-water mark into b so it commits with the row itself. The
// persisted mark keeps deletions from ever causing id reuse: the next id
// is one past the larger of the mark and the maximum live key.
func (s *Store) allocID(b *pebble.Batch, table, prefix string) (uint64, error) {
	var next uint64
	if v, ok, err := get(s.db, seqKey(table)); err != nil {
		return 0, err
	} else if ok {
		if mark, ok2 := parseIDSuffix(v, ""); ok2 {
			next = mark + 1
		}
	}
	if last, ok, err := s.lastID(prefix); err != nil {
		return 0, err
	} else if ok && last+1 > next {
		next = last + 1
	}
	if err := b.Set(seqKey(table), []byte(fmtID(next)), nil); err != nil {
		return 0, err
	}
	return next, nil
}

// scanPrefix walks all live keys under prefix in order, stopping early if
// fn returns false.
func scanPrefix(r dbReader, prefix []byte, fn func(key, value []byte) bool) error {
	iter, err := r.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: prefixUpperBound(prefix)})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Key(), prefix) {
			break
		}
		if !fn(iter.Key(), iter.Value()) {
			break
		}
	}
	return iter.Error()
}

// Keys returns all keys starting with prefix, as strings. An empty prefix
// lists the whole key space. Intended for the inspect tool and tests.
func (s *Store) Keys(prefix string) ([]string, error) {
	var out []string
	err := scanPrefix(s.db, []byte(prefix), func(k, _ []byte) bool {
		out = append(out, string(k))
		return true
	})
	return out, err
}

// GetRaw returns the raw value stored under key, for the inspect tool.
func (s *Store) GetRaw(key string) ([]byte, bool, error) {
	return get(s.db, []byte(key))
}
