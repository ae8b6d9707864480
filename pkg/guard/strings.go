package guard

import "bytes"

// StringLength returns the length of the NUL-terminated string held in b:
// the index of the first zero byte, or len(b) when the buffer holds no
// terminator.
func StringLength(b []byte) int {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return i
	}
	return len(b)
}

// Concat appends the NUL-terminated string in src to the one in dst and
// re-terminates the result. len(dst) is the destination capacity; the
// combined string plus terminator must fit in it. Aborts with a sized
// buffer-overflow violation when it cannot, and with an integer-overflow
// violation when the combined length wraps. Returns dst.
func Concat(dst, src []byte) []byte {
	dstLen := uint64(StringLength(dst))
	srcLen := uint64(StringLength(src))
	total := dstLen + srcLen

	if v := concatZeroFault("Concat", uint64(len(dst)), total); v != nil {
		raise(v)
	}
	if v := concatSumFault("Concat", dstLen, srcLen); v != nil {
		raise(v)
	}
	if v := concatRoomFault("Concat", uint64(len(dst)), total); v != nil {
		raise(v)
	}

	copy(dst[dstLen:], src[:srcLen])
	dst[dstLen+srcLen] = 0
	return dst
}

// TryConcat is the fail-soft Concat: CodeBufferOverflow when the combined
// string cannot fit, CodeIntegerOverflow when the combined length wraps,
// CodeSuccess otherwise. The destination is untouched on failure.
func TryConcat(dst, src []byte) Code {
	if concatZeroFault("TryConcat", uint64(len(dst)), 0) != nil {
		return CodeBufferOverflow
	}

	dstLen := uint64(StringLength(dst))
	srcLen := uint64(StringLength(src))
	if concatSumFault("TryConcat", dstLen, srcLen) != nil {
		return CodeIntegerOverflow
	}
	if concatRoomFault("TryConcat", uint64(len(dst)), dstLen+srcLen) != nil {
		return CodeBufferOverflow
	}

	copy(dst[dstLen:], src[:srcLen])
	dst[dstLen+srcLen] = 0
	return CodeSuccess
}
