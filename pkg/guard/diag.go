package guard

// diagLen bounds a rendered diagnostic line: the longest fixture text
// plus an operation name plus two 20-digit sizes stays well under it.
const diagLen = 160

// diagBuffer builds diagnostic lines without allocating. Writes past the
// capacity are dropped, never grown, so formatting a diagnostic can never
// itself overflow.
type diagBuffer struct {
	buf [diagLen]byte
	n   int
}

func (b *diagBuffer) writeByte(c byte) {
	if b.n < len(b.buf) {
		b.buf[b.n] = c
		b.n++
	}
}

func (b *diagBuffer) writeString(s string) {
	for i := 0; i < len(s) && b.n < len(b.buf); i++ {
		b.buf[b.n] = s[i]
		b.n++
	}
}

// writeUint appends the decimal form of u.
func (b *diagBuffer) writeUint(u uint64) {
	if u == 0 {
		b.writeByte('0')
		return
	}
	var tmp [20]byte
	pos := len(tmp)
	for u > 0 {
		pos--
		tmp[pos] = byte('0' + u%10)
		u /= 10
	}
	for ; pos < len(tmp); pos++ {
		b.writeByte(tmp[pos])
	}
}

func (b *diagBuffer) bytes() []byte {
	return b.buf[:b.n]
}
