package audit

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Archive format (zstd-compressed stream):
//
//	Magic: "RMPAUDIT" (8 bytes)
//	Version: uint32 (4 bytes, little-endian)
//	RecordCount: uint64 (8 bytes, little-endian)
//	Records: RecordCount entries, each
//	    Length: uint32 (4 bytes, little-endian)
//	    Data: Length bytes (serialized record)
//	Checksum: SHA-256 over magic, version, count and records (32 bytes)

const (
	archiveMagic   = "RMPAUDIT"
	archiveVersion = uint32(1)

	// maxRecordSize bounds a single record entry when reading an archive,
	// guarding against corrupt or hostile length prefixes.
	maxRecordSize = 1 << 20
)

var (
	// ErrInvalidArchive is returned when archive data is malformed.
	ErrInvalidArchive = errors.New("audit: invalid archive")

	// ErrChecksumMismatch is returned when archive verification fails.
	ErrChecksumMismatch = errors.New("audit: archive checksum mismatch")
)

// Export writes every record in the store to w as a compressed, checksummed
// archive. It returns the number of records written.
func Export(s Store, w io.Writer) (uint64, error) {
	records, err := s.All()
	if err != nil {
		return 0, fmt.Errorf("failed to read records: %w", err)
	}

	enc, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("failed to create compressor: %w", err)
	}

	// The checksum covers everything before the trailer, uncompressed.
	hasher := sha256.New()
	out := io.MultiWriter(enc, hasher)

	if _, err := out.Write([]byte(archiveMagic)); err != nil {
		enc.Close()
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	var scratch [8]byte
	binary.LittleEndian.PutUint32(scratch[:4], archiveVersion)
	if _, err := out.Write(scratch[:4]); err != nil {
		enc.Close()
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	binary.LittleEndian.PutUint64(scratch[:8], uint64(len(records)))
	if _, err := out.Write(scratch[:8]); err != nil {
		enc.Close()
		return 0, fmt.Errorf("failed to write header: %w", err)
	}

	for _, r := range records {
		data, err := SerializeRecord(r)
		if err != nil {
			enc.Close()
			return 0, fmt.Errorf("failed to serialize record: %w", err)
		}

		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(data)))
		if _, err := out.Write(scratch[:4]); err != nil {
			enc.Close()
			return 0, fmt.Errorf("failed to write record: %w", err)
		}
		if _, err := out.Write(data); err != nil {
			enc.Close()
			return 0, fmt.Errorf("failed to write record: %w", err)
		}
	}

	// Trailer goes through the compressor only.
	if _, err := enc.Write(hasher.Sum(nil)); err != nil {
		enc.Close()
		return 0, fmt.Errorf("failed to write checksum: %w", err)
	}

	if err := enc.Close(); err != nil {
		return 0, fmt.Errorf("failed to finish archive: %w", err)
	}

	return uint64(len(records)), nil
}

// Import reads an archive from r and merges its records into the store.
// The archive checksum is verified before any record is applied, so a
// corrupt archive leaves the store untouched. It returns the number of
// records merged.
func Import(s Store, r io.Reader) (uint64, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("failed to create decompressor: %w", err)
	}
	defer dec.Close()

	hasher := sha256.New()

	header := make([]byte, len(archiveMagic)+4+8)
	if _, err := io.ReadFull(dec, header); err != nil {
		return 0, fmt.Errorf("%w: short header", ErrInvalidArchive)
	}
	hasher.Write(header)

	if string(header[:len(archiveMagic)]) != archiveMagic {
		return 0, fmt.Errorf("%w: bad magic", ErrInvalidArchive)
	}

	version := binary.LittleEndian.Uint32(header[len(archiveMagic):])
	if version != archiveVersion {
		return 0, fmt.Errorf("%w: unsupported version %d", ErrInvalidArchive, version)
	}

	count := binary.LittleEndian.Uint64(header[len(archiveMagic)+4:])

	// The declared count is unverified until the checksum matches, so it
	// sizes the slice as a hint only.
	records := make([]*Record, 0, min(count, 4096))
	var scratch [4]byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(dec, scratch[:]); err != nil {
			return 0, fmt.Errorf("%w: truncated record %d", ErrInvalidArchive, i)
		}
		hasher.Write(scratch[:])

		size := binary.LittleEndian.Uint32(scratch[:])
		if size > maxRecordSize {
			return 0, fmt.Errorf("%w: record %d size %d exceeds limit", ErrInvalidArchive, i, size)
		}

		data := make([]byte, size)
		if _, err := io.ReadFull(dec, data); err != nil {
			return 0, fmt.Errorf("%w: truncated record %d", ErrInvalidArchive, i)
		}
		hasher.Write(data)

		rec, err := DeserializeRecord(data)
		if err != nil {
			return 0, fmt.Errorf("%w: record %d: %v", ErrInvalidArchive, i, err)
		}
		records = append(records, rec)
	}

	var stored [sha256.Size]byte
	if _, err := io.ReadFull(dec, stored[:]); err != nil {
		return 0, fmt.Errorf("%w: missing checksum", ErrInvalidArchive)
	}

	var computed [sha256.Size]byte
	hasher.Sum(computed[:0])
	if stored != computed {
		return 0, ErrChecksumMismatch
	}

	for _, rec := range records {
		if err := s.Put(rec); err != nil {
			return 0, fmt.Errorf("failed to merge record: %w", err)
		}
	}

	return uint64(len(records)), nil
}
