// Package guard provides bounds-checked replacements for the raw memory
// and C-string primitives: copy, offset copy, concatenate, compare and
// fill over fixed-capacity byte buffers.
//
// Every operation validates its arguments before touching memory. The
// abort family (Copy, CopyAt, CopyRobust, Concat, Compare, CompareString,
// Fill) treats a violation as fatal: it writes one diagnostic line to the
// configured sink and panics with a *Violation. The try family (TryCopy,
// TryCopyRobust, TryConcat) returns a Code instead and guarantees the
// destination is untouched when the code is non-zero. Error handling on
// the try family is mandatory; an unchecked code forfeits the guarantee
// the guards exist to give.
//
// A slice is its own buffer descriptor: len(dst) is the declared capacity
// and a nil slice is a null buffer. Counts and offsets are validated in
// the unsigned domain, so negative values wrap and are rejected by the
// same size checks that catch oversized ones.
//
// Example usage:
//
//	buf := make([]byte, 8)
//	guard.Copy(buf, payload, len(payload)) // panics if len(payload) > 8
//
//	if code := guard.TryCopy(buf, payload, n); code != guard.CodeSuccess {
//		return fmt.Errorf("payload rejected: %v", code)
//	}
package guard

// Copy copies n bytes from src into dst after checking that dst can hold
// them. The source side is deliberately unchecked: n must not exceed
// len(src), and breaking that precondition faults in the delegated copy
// rather than in the guard. Returns dst.
func Copy(dst, src []byte, n int) []byte {
	if v := copySizeFault("Copy", uint64(len(dst)), uint64(n)); v != nil {
		raise(v)
	}
	if v := nilFault("Copy", dst, src); v != nil {
		raise(v)
	}
	copy(dst[:n], src[:n])
	return dst
}

// CopyAt copies n bytes from src into dst starting at offset. The count
// is checked against the whole capacity, not the room remaining past the
// offset, and offsets at or past the end are rejected; a passing call
// whose tail would cross the end is clamped at the boundary by the
// delegated copy. No nil check is performed: a nil dst has zero capacity
// and is rejected by the offset check. Returns dst.
func CopyAt(dst []byte, offset int, src []byte, n int) []byte {
	if v := offsetFault("CopyAt", uint64(len(dst)), uint64(offset), uint64(n)); v != nil {
		raise(v)
	}
	copy(dst[offset:], src[:n])
	return dst
}

// CopyRobust copies n bytes from src into dst, checking both capacities.
// Unlike Copy it refuses to read past the source, and its diagnostic
// carries no sizes. Returns dst.
func CopyRobust(dst, src []byte, n int) []byte {
	if v := robustFault("CopyRobust", uint64(len(dst)), uint64(len(src)), uint64(n)); v != nil {
		raise(v)
	}
	copy(dst[:n], src[:n])
	return dst
}

// TryCopy is the fail-soft Copy: it returns CodeBufferOverflow instead of
// aborting when n exceeds the destination capacity, and writes nothing on
// failure. It performs no nil check; copying zero bytes between nil
// buffers is a no-op.
func TryCopy(dst, src []byte, n int) Code {
	if copySizeFault("TryCopy", uint64(len(dst)), uint64(n)) != nil {
		return CodeBufferOverflow
	}
	copy(dst[:n], src[:n])
	return CodeSuccess
}

// TryCopyRobust is the fail-soft CopyRobust: both capacities are checked
// and the destination is untouched when the code is non-zero.
func TryCopyRobust(dst, src []byte, n int) Code {
	if robustFault("TryCopyRobust", uint64(len(dst)), uint64(len(src)), uint64(n)) != nil {
		return CodeBufferOverflow
	}
	copy(dst[:n], src[:n])
	return CodeSuccess
}
