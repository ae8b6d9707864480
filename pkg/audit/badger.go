package audit

import (
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/rampart/pkg/guard"
)

// violationKeyPrefix is the prefix for violation record keys in BadgerDB.
const violationKeyPrefix = "violation:"

// BadgerStore is a persistent implementation of Store using BadgerDB.
type BadgerStore struct {
	db    *badger.DB
	count atomic.Uint64
	total atomic.Uint64
}

// NewBadgerStore opens a persistent violation store at the specified path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil // Disable badger logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	s := &BadgerStore{
		db: db,
	}

	// Restore counters from the existing records
	count, total, err := s.scanCounters()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to scan records: %w", err)
	}
	s.count.Store(count)
	s.total.Store(total)

	return s, nil
}

// makeViolationKey creates the key for a violation record.
func makeViolationKey(fp Fingerprint) []byte {
	key := make([]byte, len(violationKeyPrefix)+32)
	copy(key, violationKeyPrefix)
	copy(key[len(violationKeyPrefix):], fp[:])
	return key
}

// Observe records a violation, creating its record or bumping the count.
func (s *BadgerStore) Observe(v *guard.Violation, at time.Time) (*Record, error) {
	fp := FingerprintViolation(v)
	key := makeViolationKey(fp)

	var stored *Record
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		isNew := err == badger.ErrKeyNotFound
		if err != nil && !isNew {
			return err
		}

		if isNew {
			stored = NewRecord(v, at)
		} else {
			if err := item.Value(func(val []byte) error {
				var deserErr error
				stored, deserErr = DeserializeRecord(val)
				return deserErr
			}); err != nil {
				return err
			}
			stored.Count++
			stored.LastSeen = at.UnixNano()
		}

		data, err := SerializeRecord(stored)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}

		if isNew {
			s.count.Add(1)
		}
		s.total.Add(1)
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to observe violation: %w", err)
	}

	return stored, nil
}

// Put merges a whole record into the store.
func (s *BadgerStore) Put(r *Record) error {
	key := makeViolationKey(r.Fingerprint)

	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		isNew := err == badger.ErrKeyNotFound
		if err != nil && !isNew {
			return err
		}

		merged := r.Clone()
		if !isNew {
			var existing *Record
			if err := item.Value(func(val []byte) error {
				var deserErr error
				existing, deserErr = DeserializeRecord(val)
				return deserErr
			}); err != nil {
				return err
			}
			existing.merge(r)
			merged = existing
		}

		data, err := SerializeRecord(merged)
		if err != nil {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}

		if isNew {
			s.count.Add(1)
		}
		s.total.Add(r.Count)
		return nil
	})

	if err != nil {
		return fmt.Errorf("failed to put record: %w", err)
	}

	return nil
}

// Get retrieves a record by fingerprint.
// Returns nil, nil if the record does not exist.
func (s *BadgerStore) Get(fp Fingerprint) (*Record, error) {
	key := makeViolationKey(fp)
	var record *Record

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			var deserErr error
			record, deserErr = DeserializeRecord(val)
			return deserErr
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return record, nil
}

// All returns every record. Badger iterates in fingerprint order, so the
// result is re-sorted by first observation to keep the Store contract.
func (s *BadgerStore) All() ([]*Record, error) {
	var records []*Record

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(violationKeyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				r, deserErr := DeserializeRecord(val)
				if deserErr != nil {
					return deserErr
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].FirstSeen < records[j].FirstSeen
	})

	return records, nil
}

// Count returns the number of distinct violation classes.
func (s *BadgerStore) Count() uint64 {
	return s.count.Load()
}

// Total returns the number of observations across all classes.
func (s *BadgerStore) Total() uint64 {
	return s.total.Load()
}

// Close closes the store.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the store is usable.
func (s *BadgerStore) Ping() error {
	if s.db.IsClosed() {
		return errors.New("audit: store is closed")
	}
	return nil
}

// scanCounters walks the stored records and rebuilds the class and
// observation counters.
func (s *BadgerStore) scanCounters() (uint64, uint64, error) {
	var count, total uint64
	prefix := []byte(violationKeyPrefix)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				r, deserErr := DeserializeRecord(val)
				if deserErr != nil {
					return deserErr
				}
				count++
				total += r.Count
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	return count, total, err
}

// Ensure BadgerStore implements Store.
var _ Store = (*BadgerStore)(nil)
