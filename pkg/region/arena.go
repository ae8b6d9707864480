package region

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fortiblox/rampart/pkg/guard"
)

// DefaultAlign is the allocation alignment within an arena.
const DefaultAlign = 8

// ErrArenaExhausted is returned when an allocation does not fit the
// arena's remaining space.
var ErrArenaExhausted = errors.New("region: arena exhausted")

// Arena carves named regions out of one backing buffer with bump
// allocation. Allocated regions stay valid until Reset.
type Arena struct {
	mu      sync.Mutex
	buf     []byte
	pos     int
	regions []*Region
}

// NewArena returns an arena with the given capacity in bytes.
func NewArena(size int) *Arena {
	return &Arena{buf: make([]byte, size)}
}

// Alloc carves a region of the given size and permissions out of the
// arena. The region start is aligned to DefaultAlign.
func (a *Arena) Alloc(name string, size int, perm uint8) (*Region, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos := a.pos
	if rem := pos % DefaultAlign; rem != 0 {
		pos += DefaultAlign - rem
	}
	if size < 0 || pos+size > len(a.buf) {
		return nil, fmt.Errorf("%w: %s needs %d bytes, %d free",
			ErrArenaExhausted, name, size, len(a.buf)-a.pos)
	}

	// The full slice expression caps the region so it cannot bleed into
	// its neighbor.
	r := &Region{Name: name, Perm: perm, Data: a.buf[pos : pos+size : pos+size]}
	a.pos = pos + size
	a.regions = append(a.regions, r)
	return r, nil
}

// Reset forgets all regions and zeroes the used prefix so stale bytes
// cannot leak into the next round.
func (a *Arena) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	guard.Fill(a.buf, 0, a.pos)
	a.pos = 0
	a.regions = nil
}

// InUse returns the number of allocated bytes, including alignment
// padding.
func (a *Arena) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.pos
}

// Cap returns the arena capacity in bytes.
func (a *Arena) Cap() int {
	return len(a.buf)
}

// Regions returns the allocated regions in allocation order.
func (a *Arena) Regions() []*Region {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*Region, len(a.regions))
	copy(out, a.regions)
	return out
}
