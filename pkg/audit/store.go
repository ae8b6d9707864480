package audit

import (
	"time"

	"github.com/fortiblox/rampart/pkg/guard"
)

// Store is the interface violation records are kept behind.
type Store interface {
	// Observe records a violation at the given time, creating its record
	// or bumping the count, and returns the stored state.
	Observe(v *guard.Violation, at time.Time) (*Record, error)

	// Put merges a whole record into the store: counts add and the
	// observation window widens. Import uses it to replay archives.
	Put(r *Record) error

	// Get retrieves a record by fingerprint.
	// Returns nil, nil if the record does not exist.
	Get(fp Fingerprint) (*Record, error)

	// All returns every record, ordered by first observation.
	All() ([]*Record, error)

	// Count returns the number of distinct violation classes.
	Count() uint64

	// Total returns the number of observations across all classes.
	Total() uint64

	// Close closes the store.
	Close() error
}
