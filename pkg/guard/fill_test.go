package guard

import (
	"bytes"
	"testing"
)

func TestFill(t *testing.T) {
	dst := make([]byte, 8)
	got := Fill(dst, 'x', 5)
	if &got[0] != &dst[0] {
		t.Error("expected Fill to return the destination")
	}
	if !bytes.Equal(dst, []byte("xxxxx\x00\x00\x00")) {
		t.Errorf("unexpected contents: %q", dst)
	}
}

// Only the low 8 bits of the fill value are stored.
func TestFillTruncatesValue(t *testing.T) {
	dst := make([]byte, 4)
	Fill(dst, 0x141, 4)
	if !bytes.Equal(dst, []byte("AAAA")) {
		t.Errorf("expected AAAA, got %q", dst)
	}
}

func TestFillZeroCount(t *testing.T) {
	dst := []byte("abcd")
	Fill(dst, 'z', 0)
	if string(dst) != "abcd" {
		t.Errorf("expected abcd, got %s", dst)
	}
}

func TestFillViolations(t *testing.T) {
	dst := make([]byte, 4)

	tests := []struct {
		name string
		n    int
	}{
		{"count exceeds capacity", 5},
		{"negative count wraps", -3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, diag := captureViolation(t, func() { Fill(dst, 0, tt.n) })
			if v.Op != "Fill" || v.Kind != KindBufferOverflow || v.Sized {
				t.Fatalf("unexpected violation: %+v", v)
			}
			want := "[err] Aborting due to potential buffer overflow in: Fill\n"
			if diag != want {
				t.Errorf("diagnostic = %q, want %q", diag, want)
			}
		})
	}
}

func BenchmarkFill(b *testing.B) {
	dst := make([]byte, 1024)
	b.SetBytes(1024)
	for i := 0; i < b.N; i++ {
		Fill(dst, 0xAA, 1024)
	}
}
