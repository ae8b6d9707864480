// Package region organizes fixed-capacity byte buffers into named,
// permission-tagged regions and pools them in bump-allocated arenas.
//
// Region accessors are fail-soft counterparts to the guard primitives:
// permission and bounds problems come back as wrapped sentinel errors,
// never as aborts, so service code can route them like any other error.
package region

import (
	"errors"
	"fmt"

	"github.com/fortiblox/rampart/pkg/guard"
)

// Region permission flags.
const (
	PermRead  = 1 << 0
	PermWrite = 1 << 1
)

// Errors returned by region accessors.
var (
	// ErrPermDenied is returned when an access violates the region's
	// permission flags.
	ErrPermDenied = errors.New("region: permission denied")

	// ErrOutOfBounds is returned when an access does not fit the region.
	ErrOutOfBounds = errors.New("region: access out of bounds")
)

// Region is a named fixed-capacity buffer. len(Data) is the declared
// capacity; the buffer never grows.
type Region struct {
	Name string // region name for diagnostics
	Perm uint8  // permission flags
	Data []byte // backing storage
}

// New returns a read-write region with a fresh backing buffer.
func New(name string, size int) *Region {
	return &Region{Name: name, Perm: PermRead | PermWrite, Data: make([]byte, size)}
}

// NewReadOnly returns a read-only region over the given bytes.
func NewReadOnly(name string, data []byte) *Region {
	return &Region{Name: name, Perm: PermRead, Data: data}
}

// Cap returns the region's declared capacity.
func (r *Region) Cap() int {
	return len(r.Data)
}

// CanRead returns true if the region is readable.
func (r *Region) CanRead() bool {
	return r.Perm&PermRead != 0
}

// CanWrite returns true if the region is writable.
func (r *Region) CanWrite() bool {
	return r.Perm&PermWrite != 0
}

// WriteAt copies p into the region starting at off.
func (r *Region) WriteAt(off int, p []byte) error {
	if !r.CanWrite() {
		return fmt.Errorf("%w: write to %s", ErrPermDenied, r.Name)
	}
	if off < 0 || off > len(r.Data) {
		return fmt.Errorf("%w: write to %s at offset %d", ErrOutOfBounds, r.Name, off)
	}
	if code := guard.TryCopy(r.Data[off:], p, len(p)); code != guard.CodeSuccess {
		return fmt.Errorf("%w: writing %d bytes to %s at offset %d", ErrOutOfBounds, len(p), r.Name, off)
	}
	return nil
}

// ReadAt returns a copy of n bytes starting at off.
func (r *Region) ReadAt(off, n int) ([]byte, error) {
	if !r.CanRead() {
		return nil, fmt.Errorf("%w: read from %s", ErrPermDenied, r.Name)
	}
	if off < 0 || off > len(r.Data) || n < 0 {
		return nil, fmt.Errorf("%w: read from %s at offset %d", ErrOutOfBounds, r.Name, off)
	}
	out := make([]byte, n)
	if code := guard.TryCopyRobust(out, r.Data[off:], n); code != guard.CodeSuccess {
		return nil, fmt.Errorf("%w: reading %d bytes from %s at offset %d", ErrOutOfBounds, n, r.Name, off)
	}
	return out, nil
}

// FillAt stores the low byte of ch into n bytes starting at off.
func (r *Region) FillAt(off, n int, ch int) error {
	if !r.CanWrite() {
		return fmt.Errorf("%w: fill in %s", ErrPermDenied, r.Name)
	}
	if off < 0 || off > len(r.Data) {
		return fmt.Errorf("%w: fill in %s at offset %d", ErrOutOfBounds, r.Name, off)
	}
	if v := guard.Catch(func() { guard.Fill(r.Data[off:], ch, n) }); v != nil {
		return fmt.Errorf("%w: filling %d bytes in %s at offset %d", ErrOutOfBounds, n, r.Name, off)
	}
	return nil
}
