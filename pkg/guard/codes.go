package guard

import "strconv"

// Code is the result of a try-family operation. Zero means success;
// callers must check it before trusting the destination.
type Code int

// Try-family result codes. The non-zero values match errno (ERANGE,
// EOVERFLOW) so they can cross a process boundary unchanged.
const (
	// CodeSuccess indicates the operation completed and the destination
	// was written.
	CodeSuccess Code = 0

	// CodeBufferOverflow indicates the requested write does not fit the
	// declared destination capacity.
	CodeBufferOverflow Code = 34

	// CodeIntegerOverflow indicates a size computation wrapped around.
	CodeIntegerOverflow Code = 75
)

// String returns a human-readable name for the code.
func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeBufferOverflow:
		return "buffer overflow"
	case CodeIntegerOverflow:
		return "integer overflow"
	default:
		return "unknown code " + strconv.Itoa(int(c))
	}
}
