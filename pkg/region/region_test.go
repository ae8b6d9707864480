package region

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/fortiblox/rampart/pkg/guard"
)

func TestWriteAtReadAt(t *testing.T) {
	r := New("scratch", 16)

	if err := r.WriteAt(4, []byte("hello")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	got, err := r.ReadAt(4, 5)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("expected hello, got %q", got)
	}

	// The returned bytes are a copy, not a view.
	got[0] = 'X'
	if r.Data[4] != 'h' {
		t.Error("ReadAt leaked a view of the backing buffer")
	}
}

func TestWriteAtBounds(t *testing.T) {
	r := New("scratch", 8)

	tests := []struct {
		name string
		off  int
		p    []byte
	}{
		{"past end", 6, []byte("abc")},
		{"negative offset", -1, []byte("a")},
		{"offset beyond capacity", 9, []byte("a")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.WriteAt(tt.off, tt.p)
			if !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("expected ErrOutOfBounds, got %v", err)
			}
		})
	}
}

func TestReadOnlyRegion(t *testing.T) {
	r := NewReadOnly("config", []byte("frozen"))

	if err := r.WriteAt(0, []byte("x")); !errors.Is(err, ErrPermDenied) {
		t.Errorf("expected ErrPermDenied, got %v", err)
	}
	if err := r.FillAt(0, 1, 0); !errors.Is(err, ErrPermDenied) {
		t.Errorf("expected ErrPermDenied, got %v", err)
	}

	got, err := r.ReadAt(0, 6)
	if err != nil {
		t.Fatalf("ReadAt failed: %v", err)
	}
	if string(got) != "frozen" {
		t.Errorf("expected frozen, got %q", got)
	}
}

func TestReadAtBounds(t *testing.T) {
	r := New("scratch", 8)

	if _, err := r.ReadAt(6, 3); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
	if _, err := r.ReadAt(0, -1); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds for negative count, got %v", err)
	}
}

func TestFillAt(t *testing.T) {
	// FillAt routes through the abort family, so silence its diagnostics.
	prev := guard.SetSink(io.Discard)
	defer guard.SetSink(prev)

	r := New("scratch", 8)

	if err := r.FillAt(2, 4, 'z'); err != nil {
		t.Fatalf("FillAt failed: %v", err)
	}
	if !bytes.Equal(r.Data, []byte("\x00\x00zzzz\x00\x00")) {
		t.Errorf("unexpected contents: %q", r.Data)
	}

	if err := r.FillAt(2, 7, 'z'); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("expected ErrOutOfBounds, got %v", err)
	}
}

func TestArenaAlloc(t *testing.T) {
	a := NewArena(64)

	first, err := a.Alloc("first", 3, PermRead|PermWrite)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if first.Cap() != 3 {
		t.Errorf("expected capacity 3, got %d", first.Cap())
	}

	// The next region starts at the aligned boundary.
	second, err := a.Alloc("second", 8, PermRead|PermWrite)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if got := a.InUse(); got != 16 {
		t.Errorf("expected 16 bytes in use, got %d", got)
	}

	// Writes to one region cannot reach the other.
	if err := second.WriteAt(0, []byte("12345678")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}
	if !bytes.Equal(first.Data, []byte{0, 0, 0}) {
		t.Errorf("neighbor region modified: %v", first.Data)
	}

	if got := len(a.Regions()); got != 2 {
		t.Errorf("expected 2 regions, got %d", got)
	}
}

func TestArenaExhausted(t *testing.T) {
	a := NewArena(16)

	if _, err := a.Alloc("big", 17, PermRead); !errors.Is(err, ErrArenaExhausted) {
		t.Errorf("expected ErrArenaExhausted, got %v", err)
	}
	if _, err := a.Alloc("negative", -1, PermRead); !errors.Is(err, ErrArenaExhausted) {
		t.Errorf("expected ErrArenaExhausted for negative size, got %v", err)
	}
}

func TestArenaReset(t *testing.T) {
	a := NewArena(32)

	r, err := a.Alloc("scratch", 8, PermRead|PermWrite)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if err := r.WriteAt(0, []byte("payload!")); err != nil {
		t.Fatalf("WriteAt failed: %v", err)
	}

	a.Reset()

	if a.InUse() != 0 {
		t.Errorf("expected empty arena, got %d bytes in use", a.InUse())
	}
	if len(a.Regions()) != 0 {
		t.Error("expected no regions after reset")
	}

	// The next round starts from zeroed memory.
	fresh, err := a.Alloc("fresh", 8, PermRead|PermWrite)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if !bytes.Equal(fresh.Data, make([]byte, 8)) {
		t.Errorf("stale bytes survived reset: %q", fresh.Data)
	}
}
