package audit

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/fortiblox/rampart/pkg/guard"
)

// Serialization format (little-endian):
// - version:     1 byte
// - fingerprint: 32 bytes
// - kind:        1 byte
// - sized:       1 byte (0 or 1)
// - write_size:  8 bytes
// - dest_size:   8 bytes
// - count:       8 bytes
// - first_seen:  8 bytes
// - last_seen:   8 bytes
// - op_len:      2 bytes
// - op:          op_len bytes
const (
	recordVersion   = 1
	recordFixedSize = 1 + 32 + 1 + 1 + 8 + 8 + 8 + 8 + 8 + 2
)

// ErrInvalidRecordData is returned when record data is malformed.
var ErrInvalidRecordData = errors.New("audit: invalid record data")

// SerializeRecord serializes a record to binary format.
func SerializeRecord(r *Record) ([]byte, error) {
	if r == nil {
		return nil, errors.New("audit: cannot serialize nil record")
	}
	if len(r.Op) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: operation name too long", ErrInvalidRecordData)
	}

	buf := make([]byte, recordFixedSize+len(r.Op))
	offset := 0

	buf[offset] = recordVersion
	offset++

	copy(buf[offset:], r.Fingerprint[:])
	offset += 32

	buf[offset] = byte(r.Kind)
	offset++

	if r.Sized {
		buf[offset] = 1
	}
	offset++

	binary.LittleEndian.PutUint64(buf[offset:], r.WriteSize)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], r.DestSize)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], r.Count)
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(r.FirstSeen))
	offset += 8

	binary.LittleEndian.PutUint64(buf[offset:], uint64(r.LastSeen))
	offset += 8

	binary.LittleEndian.PutUint16(buf[offset:], uint16(len(r.Op)))
	offset += 2

	copy(buf[offset:], r.Op)

	return buf, nil
}

// DeserializeRecord deserializes a record from binary format.
func DeserializeRecord(data []byte) (*Record, error) {
	if len(data) < recordFixedSize {
		return nil, fmt.Errorf("%w: data too short, need at least %d bytes, got %d",
			ErrInvalidRecordData, recordFixedSize, len(data))
	}

	offset := 0

	if data[offset] != recordVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrInvalidRecordData, data[offset])
	}
	offset++

	r := &Record{}

	copy(r.Fingerprint[:], data[offset:offset+32])
	offset += 32

	r.Kind = guard.Kind(data[offset])
	offset++

	r.Sized = data[offset] != 0
	offset++

	r.WriteSize = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	r.DestSize = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	r.Count = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	r.FirstSeen = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	r.LastSeen = int64(binary.LittleEndian.Uint64(data[offset:]))
	offset += 8

	opLen := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2

	if len(data) < offset+opLen {
		return nil, fmt.Errorf("%w: operation name truncated, expected %d bytes, got %d",
			ErrInvalidRecordData, offset+opLen, len(data))
	}
	r.Op = string(data[offset : offset+opLen])

	return r, nil
}
