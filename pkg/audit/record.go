package audit

import (
	"time"

	"github.com/fortiblox/rampart/pkg/guard"
)

// Record is one deduplicated violation class and its observation history.
type Record struct {
	// Fingerprint identifies the violation class.
	Fingerprint Fingerprint

	// Op and Kind describe the rejected operation.
	Op   string
	Kind guard.Kind

	// WriteSize and DestSize are the sizes the diagnostic reported.
	// Only meaningful when Sized is true.
	WriteSize uint64
	DestSize  uint64
	Sized     bool

	// Count is the number of observations of this class.
	Count uint64

	// FirstSeen and LastSeen bound the observation window, in unix
	// nanoseconds.
	FirstSeen int64
	LastSeen  int64
}

// NewRecord builds the initial record for a violation observed at t.
func NewRecord(v *guard.Violation, t time.Time) *Record {
	return &Record{
		Fingerprint: FingerprintViolation(v),
		Op:          v.Op,
		Kind:        v.Kind,
		WriteSize:   v.WriteSize,
		DestSize:    v.DestSize,
		Sized:       v.Sized,
		Count:       1,
		FirstSeen:   t.UnixNano(),
		LastSeen:    t.UnixNano(),
	}
}

// Clone returns a copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	return &c
}

// Message renders the violation text this record stands for.
func (r *Record) Message() string {
	v := guard.Violation{
		Op:        r.Op,
		Kind:      r.Kind,
		WriteSize: r.WriteSize,
		DestSize:  r.DestSize,
		Sized:     r.Sized,
	}
	return v.Error()
}

// merge folds another record of the same class into r: counts add and the
// observation window widens.
func (r *Record) merge(other *Record) {
	r.Count += other.Count
	if other.FirstSeen < r.FirstSeen {
		r.FirstSeen = other.FirstSeen
	}
	if other.LastSeen > r.LastSeen {
		r.LastSeen = other.LastSeen
	}
}
