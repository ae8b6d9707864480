package guard

// Kind classifies a guard violation.
type Kind uint8

// Violation kinds.
const (
	// KindBufferOverflow covers writes that do not fit the destination's
	// declared capacity.
	KindBufferOverflow Kind = iota

	// KindOutOfBoundsRead covers comparisons that would read past a
	// declared capacity.
	KindOutOfBoundsRead

	// KindIntegerOverflow covers size computations that wrapped around.
	KindIntegerOverflow

	// KindNilPointer covers nil operands where a buffer is required.
	KindNilPointer
)

// String returns the diagnostic phrase for the kind.
func (k Kind) String() string {
	switch k {
	case KindBufferOverflow:
		return "potential buffer overflow"
	case KindOutOfBoundsRead:
		return "potential buffer out-of-bounds read"
	case KindIntegerOverflow:
		return "potential integer overflow"
	case KindNilPointer:
		return "unexpected null pointer"
	default:
		return "unknown violation"
	}
}

// Violation describes a rejected operation. The abort family panics with
// a *Violation after emitting one diagnostic line to the sink; callers
// that need to survive may recover it, most conveniently through Catch.
type Violation struct {
	// Op is the name of the public operation that rejected the call.
	Op string

	// Kind classifies the violation.
	Kind Kind

	// WriteSize and DestSize carry the requested write size and the
	// destination capacity it was checked against. Only meaningful when
	// Sized is true.
	WriteSize uint64
	DestSize  uint64
	Sized     bool
}

// Error implements the error interface.
func (v *Violation) Error() string {
	var b diagBuffer
	v.render(&b)
	return string(b.bytes())
}

// render writes the message body, without the sink prefix: either
// "potential buffer overflow, writing size W to destination D in: Op" or
// "<kind> in: <op>".
func (v *Violation) render(b *diagBuffer) {
	b.writeString(v.Kind.String())
	if v.Sized {
		b.writeString(", writing size ")
		b.writeUint(v.WriteSize)
		b.writeString(" to destination ")
		b.writeUint(v.DestSize)
	}
	b.writeString(" in: ")
	b.writeString(v.Op)
}

// raise emits the diagnostic line and panics with the violation. The line
// goes out first, so the default sink still reports when nothing recovers.
func raise(v *Violation) {
	var b diagBuffer
	b.writeString("[err] Aborting due to ")
	v.render(&b)
	b.writeByte('\n')
	emit(b.bytes())
	panic(v)
}

// Catch runs fn and converts an abort-family violation panic into an
// ordinary return value: the violation, or nil when fn completes. Other
// panics pass through. It is the supervision point for callers that need
// to survive a violation without adopting the try family.
func Catch(fn func()) (v *Violation) {
	defer func() {
		if r := recover(); r != nil {
			var ok bool
			if v, ok = r.(*Violation); !ok {
				panic(r)
			}
		}
	}()
	fn()
	return nil
}
