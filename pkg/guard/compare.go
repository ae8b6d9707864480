package guard

import "bytes"

// Compare compares the first n bytes of a and b after checking that both
// buffers are at least n bytes long. The result is the sign of the first
// differing byte pair compared unsigned: negative when a is lower, zero
// when the prefixes are equal, positive when a is higher.
func Compare(a, b []byte, n int) int {
	if v := oobReadFault("Compare", uint64(len(a)), uint64(len(b)), uint64(n)); v != nil {
		raise(v)
	}
	return bytes.Compare(a[:n], b[:n])
}

// CompareString compares the NUL-terminated strings in a and b over at
// most n bytes, with the same capacity guard as Compare. Comparison stops
// at the first differing byte, or succeeds early at a terminator present
// in both strings.
func CompareString(a, b []byte, n int) int {
	if v := oobReadFault("CompareString", uint64(len(a)), uint64(len(b)), uint64(n)); v != nil {
		raise(v)
	}
	for i := 0; i < n; i++ {
		c1, c2 := a[i], b[i]
		if c1 != c2 {
			if c1 < c2 {
				return -1
			}
			return 1
		}
		if c1 == 0 {
			return 0
		}
	}
	return 0
}
