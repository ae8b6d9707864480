package audit

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/rampart/pkg/guard"
)

// Helper function to create sized overflow violations
func testViolation(op string, writeSize, destSize uint64) *guard.Violation {
	return &guard.Violation{
		Op:        op,
		Kind:      guard.KindBufferOverflow,
		WriteSize: writeSize,
		DestSize:  destSize,
		Sized:     true,
	}
}

// Helper function to create unsized violations
func testUnsizedViolation(op string, kind guard.Kind) *guard.Violation {
	return &guard.Violation{
		Op:   op,
		Kind: kind,
	}
}

// Tests for Fingerprint
func TestFingerprint_Deterministic(t *testing.T) {
	v := testViolation("Copy", 10, 8)

	fp1 := FingerprintViolation(v)
	fp2 := FingerprintViolation(v)

	if fp1 != fp2 {
		t.Error("fingerprint should be deterministic")
	}

	if fp1.IsZero() {
		t.Error("fingerprint should not be zero")
	}
}

func TestFingerprint_DistinctClasses(t *testing.T) {
	base := FingerprintViolation(testViolation("Copy", 10, 8))

	variants := []*guard.Violation{
		testViolation("CopyAt", 10, 8),
		testViolation("Copy", 11, 8),
		testViolation("Copy", 10, 7),
		testUnsizedViolation("Copy", guard.KindBufferOverflow),
		testUnsizedViolation("Copy", guard.KindNilPointer),
	}

	for i, v := range variants {
		if FingerprintViolation(v) == base {
			t.Errorf("variant %d should have a distinct fingerprint", i)
		}
	}
}

func TestFingerprint_Base58RoundTrip(t *testing.T) {
	fp := FingerprintViolation(testViolation("Concat", 6, 5))

	s := fp.String()
	if s == "" {
		t.Fatal("base58 string should not be empty")
	}

	decoded, err := FingerprintFromBase58(s)
	if err != nil {
		t.Fatalf("FingerprintFromBase58 failed: %v", err)
	}

	if decoded != fp {
		t.Error("round-tripped fingerprint should match original")
	}
}

func TestFingerprint_FromBase58_Invalid(t *testing.T) {
	if _, err := FingerprintFromBase58("not!valid!base58!"); err == nil {
		t.Error("invalid base58 should error")
	}

	// Valid base58 but wrong length
	if _, err := FingerprintFromBase58("abc"); err == nil {
		t.Error("short fingerprint should error")
	}
}

func TestFingerprint_FromBytes(t *testing.T) {
	fp := FingerprintViolation(testViolation("Fill", 9, 4))

	decoded, err := FingerprintFromBytes(fp.Bytes())
	if err != nil {
		t.Fatalf("FingerprintFromBytes failed: %v", err)
	}

	if decoded != fp {
		t.Error("round-tripped fingerprint should match original")
	}

	if _, err := FingerprintFromBytes(make([]byte, 31)); err == nil {
		t.Error("31-byte input should error")
	}
}

// Tests for record serialization
func TestSerializeRecord_RoundTrip(t *testing.T) {
	v := testViolation("CopyRobust", 100, 64)
	original := NewRecord(v, time.Unix(1000, 500))
	original.Count = 42
	original.LastSeen = time.Unix(2000, 0).UnixNano()

	data, err := SerializeRecord(original)
	if err != nil {
		t.Fatalf("SerializeRecord failed: %v", err)
	}

	restored, err := DeserializeRecord(data)
	if err != nil {
		t.Fatalf("DeserializeRecord failed: %v", err)
	}

	if restored.Fingerprint != original.Fingerprint {
		t.Error("fingerprint mismatch")
	}
	if restored.Op != original.Op {
		t.Errorf("expected op %q, got %q", original.Op, restored.Op)
	}
	if restored.Kind != original.Kind {
		t.Errorf("expected kind %v, got %v", original.Kind, restored.Kind)
	}
	if restored.WriteSize != original.WriteSize || restored.DestSize != original.DestSize {
		t.Error("size mismatch")
	}
	if restored.Sized != original.Sized {
		t.Error("sized flag mismatch")
	}
	if restored.Count != original.Count {
		t.Errorf("expected count %d, got %d", original.Count, restored.Count)
	}
	if restored.FirstSeen != original.FirstSeen || restored.LastSeen != original.LastSeen {
		t.Error("observation window mismatch")
	}
}

func TestSerializeRecord_Nil(t *testing.T) {
	if _, err := SerializeRecord(nil); err == nil {
		t.Error("nil record should error")
	}
}

func TestDeserializeRecord_Errors(t *testing.T) {
	valid, err := SerializeRecord(NewRecord(testViolation("Copy", 10, 8), time.Unix(1, 0)))
	if err != nil {
		t.Fatalf("SerializeRecord failed: %v", err)
	}

	// Too short
	if _, err := DeserializeRecord(valid[:10]); !errors.Is(err, ErrInvalidRecordData) {
		t.Errorf("short data should return ErrInvalidRecordData, got %v", err)
	}

	// Unsupported version
	bad := bytes.Clone(valid)
	bad[0] = 99
	if _, err := DeserializeRecord(bad); !errors.Is(err, ErrInvalidRecordData) {
		t.Errorf("bad version should return ErrInvalidRecordData, got %v", err)
	}

	// Truncated operation name
	if _, err := DeserializeRecord(valid[:len(valid)-1]); !errors.Is(err, ErrInvalidRecordData) {
		t.Errorf("truncated op should return ErrInvalidRecordData, got %v", err)
	}
}

func TestRecord_Message(t *testing.T) {
	v := testViolation("Copy", 10, 8)
	r := NewRecord(v, time.Unix(1, 0))

	if r.Message() != v.Error() {
		t.Errorf("expected message %q, got %q", v.Error(), r.Message())
	}
}

// Tests for MemoryStore
func TestMemoryStore_Observe(t *testing.T) {
	s := NewMemoryStore()
	v := testViolation("Copy", 10, 8)

	r, err := s.Observe(v, time.Unix(100, 0))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}

	if r.Count != 1 {
		t.Errorf("expected count 1, got %d", r.Count)
	}
	if s.Count() != 1 {
		t.Errorf("expected 1 class, got %d", s.Count())
	}
	if s.Total() != 1 {
		t.Errorf("expected 1 observation, got %d", s.Total())
	}
}

func TestMemoryStore_ObserveRepeat(t *testing.T) {
	s := NewMemoryStore()
	v := testViolation("Copy", 10, 8)

	_, _ = s.Observe(v, time.Unix(100, 0))
	r, err := s.Observe(v, time.Unix(200, 0))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}

	if r.Count != 2 {
		t.Errorf("expected count 2, got %d", r.Count)
	}
	if r.FirstSeen != time.Unix(100, 0).UnixNano() {
		t.Error("FirstSeen should keep the first observation time")
	}
	if r.LastSeen != time.Unix(200, 0).UnixNano() {
		t.Error("LastSeen should advance")
	}

	// Still one class, two observations
	if s.Count() != 1 {
		t.Errorf("expected 1 class, got %d", s.Count())
	}
	if s.Total() != 2 {
		t.Errorf("expected 2 observations, got %d", s.Total())
	}
}

func TestMemoryStore_Get_NotFound(t *testing.T) {
	s := NewMemoryStore()

	r, err := s.Get(FingerprintViolation(testViolation("Copy", 1, 0)))
	if err != nil {
		t.Fatalf("Get should not error for missing record: %v", err)
	}
	if r != nil {
		t.Error("Get should return nil for missing record")
	}
}

func TestMemoryStore_All_Order(t *testing.T) {
	s := NewMemoryStore()

	_, _ = s.Observe(testViolation("Copy", 10, 8), time.Unix(100, 0))
	_, _ = s.Observe(testViolation("Concat", 6, 5), time.Unix(200, 0))
	_, _ = s.Observe(testViolation("Copy", 10, 8), time.Unix(300, 0))

	all, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}

	if len(all) != 2 {
		t.Fatalf("expected 2 records, got %d", len(all))
	}
	if all[0].Op != "Copy" || all[1].Op != "Concat" {
		t.Error("records should be ordered by first observation")
	}
}

func TestMemoryStore_Put(t *testing.T) {
	s := NewMemoryStore()
	v := testViolation("Fill", 9, 4)

	_, _ = s.Observe(v, time.Unix(150, 0))

	incoming := NewRecord(v, time.Unix(100, 0))
	incoming.Count = 5
	incoming.LastSeen = time.Unix(120, 0).UnixNano()

	if err := s.Put(incoming); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	r, _ := s.Get(incoming.Fingerprint)
	if r == nil {
		t.Fatal("record should exist after Put")
	}
	if r.Count != 6 {
		t.Errorf("expected merged count 6, got %d", r.Count)
	}
	if r.FirstSeen != time.Unix(100, 0).UnixNano() {
		t.Error("FirstSeen should widen to the earlier observation")
	}
	if r.LastSeen != time.Unix(150, 0).UnixNano() {
		t.Error("LastSeen should keep the later observation")
	}
	if s.Total() != 6 {
		t.Errorf("expected total 6, got %d", s.Total())
	}
}

func TestMemoryStore_DataIsolation(t *testing.T) {
	s := NewMemoryStore()
	v := testViolation("Copy", 10, 8)

	r, _ := s.Observe(v, time.Unix(100, 0))

	// Mutate the returned record
	r.Count = 999
	r.Op = "Tampered"

	stored, _ := s.Get(r.Fingerprint)
	if stored.Count != 1 || stored.Op != "Copy" {
		t.Error("modifying a returned record should not affect stored state")
	}
}

func TestMemoryStore_Close(t *testing.T) {
	s := NewMemoryStore()
	_, _ = s.Observe(testViolation("Copy", 10, 8), time.Unix(100, 0))

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if s.Count() != 0 || s.Total() != 0 {
		t.Error("store should be empty after close")
	}
}

// Tests for BadgerStore
func TestBadgerStore_ObserveAndGet(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerStore failed: %v", err)
	}
	defer s.Close()

	v := testViolation("CopyAt", 6, 3)
	_, _ = s.Observe(v, time.Unix(100, 0))
	r, err := s.Observe(v, time.Unix(200, 0))
	if err != nil {
		t.Fatalf("Observe failed: %v", err)
	}

	if r.Count != 2 {
		t.Errorf("expected count 2, got %d", r.Count)
	}

	got, err := s.Get(FingerprintViolation(v))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for existing record")
	}
	if got.Count != 2 || got.Op != "CopyAt" {
		t.Errorf("unexpected record state: count=%d op=%q", got.Count, got.Op)
	}
}

func TestBadgerStore_Get_NotFound(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerStore failed: %v", err)
	}
	defer s.Close()

	r, err := s.Get(FingerprintViolation(testViolation("Copy", 1, 0)))
	if err != nil {
		t.Fatalf("Get should not error for missing record: %v", err)
	}
	if r != nil {
		t.Error("Get should return nil for missing record")
	}
}

func TestBadgerStore_All_Order(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewBadgerStore failed: %v", err)
	}
	defer s.Close()

	_, _ = s.Observe(testViolation("Fill", 9, 4), time.Unix(300, 0))
	_, _ = s.Observe(testViolation("Copy", 10, 8), time.Unix(100, 0))
	_, _ = s.Observe(testViolation("Concat", 6, 5), time.Unix(200, 0))

	all, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}

	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
	if all[0].Op != "Copy" || all[1].Op != "Concat" || all[2].Op != "Fill" {
		t.Error("records should be ordered by first observation")
	}
}

func TestBadgerStore_ReopenRestoresCounters(t *testing.T) {
	dir := t.TempDir()

	s, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("NewBadgerStore failed: %v", err)
	}

	_, _ = s.Observe(testViolation("Copy", 10, 8), time.Unix(100, 0))
	_, _ = s.Observe(testViolation("Copy", 10, 8), time.Unix(200, 0))
	_, _ = s.Observe(testViolation("Concat", 6, 5), time.Unix(300, 0))

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewBadgerStore(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer reopened.Close()

	if reopened.Count() != 2 {
		t.Errorf("expected 2 classes after reopen, got %d", reopened.Count())
	}
	if reopened.Total() != 3 {
		t.Errorf("expected 3 observations after reopen, got %d", reopened.Total())
	}
}

// Tests for archive export/import
func TestExportImport_RoundTrip(t *testing.T) {
	src := NewMemoryStore()
	_, _ = src.Observe(testViolation("Copy", 10, 8), time.Unix(100, 0))
	_, _ = src.Observe(testViolation("Copy", 10, 8), time.Unix(200, 0))
	_, _ = src.Observe(testUnsizedViolation("Compare", guard.KindOutOfBoundsRead), time.Unix(300, 0))

	var buf bytes.Buffer
	exported, err := Export(src, &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if exported != 2 {
		t.Errorf("expected 2 exported records, got %d", exported)
	}

	dst := NewMemoryStore()
	imported, err := Import(dst, &buf)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if imported != 2 {
		t.Errorf("expected 2 imported records, got %d", imported)
	}

	if dst.Count() != src.Count() {
		t.Errorf("expected %d classes, got %d", src.Count(), dst.Count())
	}
	if dst.Total() != src.Total() {
		t.Errorf("expected %d observations, got %d", src.Total(), dst.Total())
	}

	r, _ := dst.Get(FingerprintViolation(testViolation("Copy", 10, 8)))
	if r == nil {
		t.Fatal("imported record should exist")
	}
	if r.Count != 2 {
		t.Errorf("expected imported count 2, got %d", r.Count)
	}
	if r.FirstSeen != time.Unix(100, 0).UnixNano() || r.LastSeen != time.Unix(200, 0).UnixNano() {
		t.Error("observation window should survive the round trip")
	}
}

func TestExport_Empty(t *testing.T) {
	var buf bytes.Buffer
	exported, err := Export(NewMemoryStore(), &buf)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if exported != 0 {
		t.Errorf("expected 0 exported records, got %d", exported)
	}

	dst := NewMemoryStore()
	imported, err := Import(dst, &buf)
	if err != nil {
		t.Fatalf("Import of empty archive failed: %v", err)
	}
	if imported != 0 {
		t.Errorf("expected 0 imported records, got %d", imported)
	}
}

func TestImport_Garbage(t *testing.T) {
	dst := NewMemoryStore()

	_, err := Import(dst, bytes.NewReader([]byte("this is not an archive")))
	if !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("garbage input should return ErrInvalidArchive, got %v", err)
	}

	if dst.Count() != 0 {
		t.Error("failed import should leave the store untouched")
	}
}

func TestImport_BadMagic(t *testing.T) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatalf("zstd.NewWriter failed: %v", err)
	}
	if _, err := enc.Write(bytes.Repeat([]byte{'X'}, 64)); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	_, err = Import(NewMemoryStore(), &buf)
	if !errors.Is(err, ErrInvalidArchive) {
		t.Errorf("bad magic should return ErrInvalidArchive, got %v", err)
	}
}

func TestImport_ChecksumMismatch(t *testing.T) {
	src := NewMemoryStore()
	_, _ = src.Observe(testViolation("Copy", 10, 8), time.Unix(100, 0))

	var buf bytes.Buffer
	if _, err := Export(src, &buf); err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// Decompress, flip a checksum byte, recompress.
	dec, err := zstd.NewReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("zstd.NewReader failed: %v", err)
	}
	raw, err := io.ReadAll(dec)
	dec.Close()
	if err != nil {
		t.Fatalf("decompress failed: %v", err)
	}
	raw[len(raw)-1] ^= 0xFF

	var tampered bytes.Buffer
	enc, err := zstd.NewWriter(&tampered)
	if err != nil {
		t.Fatalf("zstd.NewWriter failed: %v", err)
	}
	if _, err := enc.Write(raw); err != nil {
		t.Fatalf("recompress failed: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	dst := NewMemoryStore()
	_, err = Import(dst, &tampered)
	if !errors.Is(err, ErrChecksumMismatch) {
		t.Errorf("tampered archive should return ErrChecksumMismatch, got %v", err)
	}

	if dst.Count() != 0 || dst.Total() != 0 {
		t.Error("failed import should leave the store untouched")
	}
}

// Benchmark tests
func BenchmarkFingerprintViolation(b *testing.B) {
	v := testViolation("Copy", 10, 8)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		FingerprintViolation(v)
	}
}

func BenchmarkMemoryStore_Observe(b *testing.B) {
	s := NewMemoryStore()
	v := testViolation("Copy", 10, 8)
	at := time.Unix(100, 0)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = s.Observe(v, at)
	}
}

func BenchmarkSerializeRecord(b *testing.B) {
	r := NewRecord(testViolation("CopyRobust", 100, 64), time.Unix(1000, 0))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = SerializeRecord(r)
	}
}
