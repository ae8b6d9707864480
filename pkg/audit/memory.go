package audit

import (
	"sync"
	"time"

	"github.com/fortiblox/rampart/pkg/guard"
)

// MemoryStore is an in-memory implementation of Store for tests and
// ephemeral runs.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[Fingerprint]*Record
	order   []Fingerprint
	total   uint64
}

// NewMemoryStore creates a new in-memory violation store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[Fingerprint]*Record),
	}
}

// Observe records a violation, creating its record or bumping the count.
func (s *MemoryStore) Observe(v *guard.Violation, at time.Time) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++

	fp := FingerprintViolation(v)
	if r, exists := s.records[fp]; exists {
		r.Count++
		r.LastSeen = at.UnixNano()
		return r.Clone(), nil
	}

	r := NewRecord(v, at)
	s.records[fp] = r
	s.order = append(s.order, fp)
	return r.Clone(), nil
}

// Put merges a whole record into the store.
func (s *MemoryStore) Put(r *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total += r.Count

	if existing, exists := s.records[r.Fingerprint]; exists {
		existing.merge(r)
		return nil
	}

	// Store a clone to prevent external modification.
	s.records[r.Fingerprint] = r.Clone()
	s.order = append(s.order, r.Fingerprint)
	return nil
}

// Get retrieves a record by fingerprint.
// Returns nil, nil if the record does not exist.
func (s *MemoryStore) Get(fp Fingerprint) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.records[fp]
	if !exists {
		return nil, nil
	}
	return r.Clone(), nil
}

// All returns every record in first-observation order.
func (s *MemoryStore) All() ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0, len(s.order))
	for _, fp := range s.order {
		out = append(out, s.records[fp].Clone())
	}
	return out, nil
}

// Count returns the number of distinct violation classes.
func (s *MemoryStore) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return uint64(len(s.records))
}

// Total returns the number of observations across all classes.
func (s *MemoryStore) Total() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.total
}

// Close closes the store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = make(map[Fingerprint]*Record)
	s.order = nil
	s.total = 0
	return nil
}

// Ping reports whether the store is usable. An in-memory store always is.
func (s *MemoryStore) Ping() error {
	return nil
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
