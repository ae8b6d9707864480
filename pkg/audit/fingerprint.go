// Package audit keeps the record of what the guards caught: violations
// deduplicated by fingerprint, persisted in memory or BadgerDB, and
// exportable as compressed, checksummed archives.
package audit

import (
	"encoding/binary"
	"fmt"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"

	"github.com/fortiblox/rampart/pkg/guard"
)

// Fingerprint identifies a violation class: the BLAKE2b-256 digest of the
// operation name, kind and reported sizes. Repeat violations of the same
// shape share a fingerprint.
type Fingerprint [32]byte

// ZeroFingerprint is an all-zero fingerprint.
var ZeroFingerprint Fingerprint

// FingerprintViolation computes the fingerprint of a violation.
func FingerprintViolation(v *guard.Violation) Fingerprint {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(v.Op))

	var meta [18]byte
	meta[0] = byte(v.Kind)
	if v.Sized {
		meta[1] = 1
	}
	binary.LittleEndian.PutUint64(meta[2:], v.WriteSize)
	binary.LittleEndian.PutUint64(meta[10:], v.DestSize)
	h.Write(meta[:])

	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// FingerprintFromBytes creates a Fingerprint from a byte slice.
func FingerprintFromBytes(b []byte) (Fingerprint, error) {
	if len(b) != 32 {
		return Fingerprint{}, fmt.Errorf("fingerprint must be 32 bytes, got %d", len(b))
	}
	var fp Fingerprint
	copy(fp[:], b)
	return fp, nil
}

// FingerprintFromBase58 decodes a base58 string into a Fingerprint.
func FingerprintFromBase58(s string) (Fingerprint, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("invalid base58: %w", err)
	}
	return FingerprintFromBytes(b)
}

// Bytes returns the fingerprint as a byte slice.
func (f Fingerprint) Bytes() []byte {
	return f[:]
}

// String returns the base58 representation.
func (f Fingerprint) String() string {
	return base58.Encode(f[:])
}

// IsZero returns true if the fingerprint is all zeros.
func (f Fingerprint) IsZero() bool {
	return f == ZeroFingerprint
}
