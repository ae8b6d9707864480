package rpc

import (
	"time"

	"github.com/mr-tron/base58"

	"github.com/fortiblox/rampart/pkg/audit"
	"github.com/fortiblox/rampart/pkg/guard"
)

// Violation kind labels used in RPC responses. They match the suffixes of
// the per-kind violation counters on the metrics endpoint.
const (
	KindLabelBufferOverflow  = "buffer_overflow"
	KindLabelOOBRead         = "oob_read"
	KindLabelIntegerOverflow = "integer_overflow"
	KindLabelNilPointer      = "nil_pointer"
)

// EncodeBase58 encodes bytes to base58 string.
func EncodeBase58(data []byte) string {
	return base58.Encode(data)
}

// DecodeBase58 decodes a base58 string to bytes.
func DecodeBase58(s string) ([]byte, error) {
	return base58.Decode(s)
}

// EncodeFingerprint encodes a fingerprint to base58 string.
func EncodeFingerprint(fp audit.Fingerprint) string {
	return fp.String()
}

// DecodeFingerprint decodes a base58 string to a fingerprint.
func DecodeFingerprint(s string) (audit.Fingerprint, error) {
	return audit.FingerprintFromBase58(s)
}

// KindLabel returns the RPC label for a violation kind.
func KindLabel(k guard.Kind) string {
	switch k {
	case guard.KindBufferOverflow:
		return KindLabelBufferOverflow
	case guard.KindOutOfBoundsRead:
		return KindLabelOOBRead
	case guard.KindIntegerOverflow:
		return KindLabelIntegerOverflow
	case guard.KindNilPointer:
		return KindLabelNilPointer
	default:
		return "unknown"
	}
}

// FormatTimestamp renders unix nanoseconds as RFC 3339 in UTC.
func FormatTimestamp(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339Nano)
}

// RecordResult converts an audit record into its RPC representation.
func RecordResult(r *audit.Record) ViolationResult {
	return ViolationResult{
		Fingerprint: EncodeFingerprint(r.Fingerprint),
		Op:          r.Op,
		Kind:        KindLabel(r.Kind),
		Message:     r.Message(),
		WriteSize:   r.WriteSize,
		DestSize:    r.DestSize,
		Sized:       r.Sized,
		Count:       r.Count,
		FirstSeen:   FormatTimestamp(r.FirstSeen),
		LastSeen:    FormatTimestamp(r.LastSeen),
	}
}
