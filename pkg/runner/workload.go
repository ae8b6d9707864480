package runner

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fortiblox/rampart/pkg/guard"
	"github.com/fortiblox/rampart/pkg/region"
	"github.com/fortiblox/rampart/pkg/scenario"
)

// probe is one planned operation: the calls to make, the outcome they
// must produce and the checks that prove the contract held.
type probe struct {
	// op is the scenario operation key.
	op string

	// abort selects the abort family; the call runs under guard.Catch.
	abort bool

	// want is the predicted violation, nil when success is predicted.
	// On the try path it carries the shape the abort twin documents.
	want *guard.Violation

	// wantCode is the predicted try-family code.
	wantCode guard.Code

	// run invokes the abort-family operation.
	run func()

	// tryRun invokes the try-family twin. Nil for operations without one.
	tryRun func() guard.Code

	// check verifies postconditions after a predicted success.
	check func() error

	// untouched verifies the destination after a rejected call.
	untouched func() error
}

// inject flips the fault-injection coin.
func (r *Runner) inject() bool {
	return r.rng.Float64() < r.scn.ViolationRate
}

// abortFamily flips the family coin for operations with a try twin.
func (r *Runner) abortFamily() bool {
	return r.rng.Float64() < r.scn.AbortFraction
}

// pick picks one pool buffer.
func (r *Runner) pick() *region.Region {
	return r.pool[r.rng.Intn(len(r.pool))]
}

// pickPair picks two distinct pool buffers.
func (r *Runner) pickPair() (*region.Region, *region.Region) {
	di := r.rng.Intn(len(r.pool))
	si := (di + 1 + r.rng.Intn(len(r.pool)-1)) % len(r.pool)
	return r.pool[di], r.pool[si]
}

// randFill fills b with pseudorandom bytes.
func (r *Runner) randFill(b []byte) {
	r.rng.Read(b)
}

// randString writes an n-byte string of nonzero bytes into b and
// terminates it. Requires n < len(b).
func (r *Runner) randString(b []byte, n int) {
	for i := 0; i < n; i++ {
		b[i] = byte(1 + r.rng.Intn(255))
	}
	b[n] = 0
}

// snapshot copies dst and src into the shadow buffers.
func (r *Runner) snapshot(dst, src []byte) {
	copy(r.dstShadow[:len(dst)], dst)
	copy(r.srcShadow[:len(src)], src)
}

// untouchedCheck returns a check that dst still matches its shadow.
func (r *Runner) untouchedCheck(dst []byte) func() error {
	return func() error {
		if !bytes.Equal(dst, r.dstShadow[:len(dst)]) {
			return errors.New("destination modified by rejected call")
		}
		return nil
	}
}

// compareStringRef is the reference for CompareString: byte-wise over at
// most n bytes, stopping at a shared terminator.
func compareStringRef(a, b []byte, n int) int {
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
		if a[i] == 0 {
			return 0
		}
	}
	return 0
}

// planCopy builds a bounded-copy probe: n bytes between two pool
// buffers, or one of three contract breaches.
func (r *Runner) planCopy() *probe {
	dst, src := r.pickPair()
	p := &probe{op: scenario.OpCopy, abort: r.abortFamily()}
	opName := "Copy"
	if !p.abort {
		opName = "TryCopy"
	}

	if r.inject() {
		// The nil-source breach passes the size check and trips the nil
		// check, which only the abort family has.
		variants := 2
		if p.abort {
			variants = 3
		}
		var n int
		srcBuf := src.Data
		switch r.rng.Intn(variants) {
		case 0: // count past the destination
			n = dst.Cap() + 1 + r.rng.Intn(64)
			p.want = &guard.Violation{Op: opName, Kind: guard.KindBufferOverflow,
				WriteSize: uint64(n), DestSize: uint64(dst.Cap()), Sized: true}
		case 1: // negative count, wraps in the unsigned domain
			n = -1 - r.rng.Intn(1024)
			p.want = &guard.Violation{Op: opName, Kind: guard.KindBufferOverflow,
				WriteSize: uint64(n), DestSize: uint64(dst.Cap()), Sized: true}
		case 2:
			n = 0
			srcBuf = nil
			p.want = &guard.Violation{Op: opName, Kind: guard.KindNilPointer}
		}
		p.wantCode = guard.CodeBufferOverflow
		r.snapshot(dst.Data, nil)
		p.run = func() { guard.Copy(dst.Data, srcBuf, n) }
		p.tryRun = func() guard.Code { return guard.TryCopy(dst.Data, srcBuf, n) }
		p.untouched = r.untouchedCheck(dst.Data)
		return p
	}

	n := r.rng.Intn(min(dst.Cap(), src.Cap()) + 1)
	r.randFill(src.Data[:n])
	r.snapshot(dst.Data, src.Data[:n])
	p.run = func() { guard.Copy(dst.Data, src.Data, n) }
	p.tryRun = func() guard.Code { return guard.TryCopy(dst.Data, src.Data, n) }
	p.check = func() error {
		if !bytes.Equal(dst.Data[:n], r.srcShadow[:n]) {
			return errors.New("copied prefix differs from source")
		}
		if !bytes.Equal(dst.Data[n:], r.dstShadow[n:dst.Cap()]) {
			return errors.New("bytes past the count were modified")
		}
		return nil
	}
	return p
}

// planCopyAt builds an offset-copy probe. The operation has no try
// twin, so it always aborts on breach.
func (r *Runner) planCopyAt() *probe {
	dst, src := r.pickPair()
	p := &probe{op: scenario.OpCopyAt, abort: true}

	if r.inject() {
		var off, n int
		switch r.rng.Intn(3) {
		case 0: // count past the whole capacity
			off = r.rng.Intn(dst.Cap())
			n = dst.Cap() + 1 + r.rng.Intn(64)
			p.want = &guard.Violation{Op: "CopyAt", Kind: guard.KindBufferOverflow,
				WriteSize: uint64(n), DestSize: uint64(dst.Cap() - off), Sized: true}
		case 1: // offset at or past the end
			off = dst.Cap() + r.rng.Intn(16)
			n = r.rng.Intn(dst.Cap() + 1)
			p.want = &guard.Violation{Op: "CopyAt", Kind: guard.KindBufferOverflow,
				WriteSize: uint64(n), DestSize: 0, Sized: true}
		case 2: // negative offset, wraps past the end
			off = -1 - r.rng.Intn(16)
			n = r.rng.Intn(dst.Cap() + 1)
			p.want = &guard.Violation{Op: "CopyAt", Kind: guard.KindBufferOverflow,
				WriteSize: uint64(n), DestSize: 0, Sized: true}
		}
		r.snapshot(dst.Data, nil)
		p.run = func() { guard.CopyAt(dst.Data, off, src.Data, n) }
		p.untouched = r.untouchedCheck(dst.Data)
		return p
	}

	off := r.rng.Intn(dst.Cap())
	n := r.rng.Intn(min(dst.Cap(), src.Cap()) + 1)
	// A passing call may still cross the end; the copy clamps there.
	copied := min(n, dst.Cap()-off)
	r.randFill(src.Data[:n])
	r.snapshot(dst.Data, src.Data[:n])
	p.run = func() { guard.CopyAt(dst.Data, off, src.Data, n) }
	p.check = func() error {
		if !bytes.Equal(dst.Data[:off], r.dstShadow[:off]) {
			return errors.New("bytes before the offset were modified")
		}
		if !bytes.Equal(dst.Data[off:off+copied], r.srcShadow[:copied]) {
			return errors.New("copied bytes differ from source")
		}
		if !bytes.Equal(dst.Data[off+copied:], r.dstShadow[off+copied:dst.Cap()]) {
			return errors.New("bytes past the copy were modified")
		}
		return nil
	}
	return p
}

// planCopyRobust builds a robust-copy probe: both capacities checked,
// a generic diagnostic on breach.
func (r *Runner) planCopyRobust() *probe {
	dst, src := r.pickPair()
	p := &probe{op: scenario.OpCopyRobust, abort: r.abortFamily()}
	opName := "CopyRobust"
	if !p.abort {
		opName = "TryCopyRobust"
	}

	if r.inject() {
		var n int
		if r.rng.Intn(2) == 0 { // count past both buffers
			n = max(dst.Cap(), src.Cap()) + 1 + r.rng.Intn(64)
		} else { // negative count
			n = -1 - r.rng.Intn(1024)
		}
		p.want = &guard.Violation{Op: opName, Kind: guard.KindBufferOverflow}
		p.wantCode = guard.CodeBufferOverflow
		r.snapshot(dst.Data, nil)
		p.run = func() { guard.CopyRobust(dst.Data, src.Data, n) }
		p.tryRun = func() guard.Code { return guard.TryCopyRobust(dst.Data, src.Data, n) }
		p.untouched = r.untouchedCheck(dst.Data)
		return p
	}

	n := r.rng.Intn(min(dst.Cap(), src.Cap()) + 1)
	r.randFill(src.Data[:n])
	r.snapshot(dst.Data, src.Data[:n])
	p.run = func() { guard.CopyRobust(dst.Data, src.Data, n) }
	p.tryRun = func() guard.Code { return guard.TryCopyRobust(dst.Data, src.Data, n) }
	p.check = func() error {
		if !bytes.Equal(dst.Data[:n], r.srcShadow[:n]) {
			return errors.New("copied prefix differs from source")
		}
		if !bytes.Equal(dst.Data[n:], r.dstShadow[n:dst.Cap()]) {
			return errors.New("bytes past the count were modified")
		}
		return nil
	}
	return p
}

// planConcat builds a concatenation probe over NUL-terminated strings.
func (r *Runner) planConcat() *probe {
	dst, src := r.pickPair()
	p := &probe{op: scenario.OpConcat, abort: r.abortFamily()}
	opName := "Concat"
	if !p.abort {
		opName = "TryConcat"
	}

	if r.inject() {
		srcLen := r.rng.Intn(src.Cap())
		r.randString(src.Data, srcLen)
		p.wantCode = guard.CodeBufferOverflow

		if r.rng.Intn(2) == 0 {
			// Destination brimful with no terminator, the classic
			// unterminated-buffer bug.
			for i := range dst.Data {
				dst.Data[i] = 'A'
			}
			total := uint64(dst.Cap()) + uint64(srcLen)
			p.want = &guard.Violation{Op: opName, Kind: guard.KindBufferOverflow,
				WriteSize: total, DestSize: uint64(dst.Cap() - 1), Sized: true}
			r.snapshot(dst.Data, nil)
			p.run = func() { guard.Concat(dst.Data, src.Data) }
			p.tryRun = func() guard.Code { return guard.TryConcat(dst.Data, src.Data) }
			p.untouched = r.untouchedCheck(dst.Data)
			return p
		}

		// Zero-capacity destination. The abort family measures the
		// strings before rejecting, the try family rejects first, so
		// the reported write size differs.
		want := uint64(srcLen)
		if !p.abort {
			want = 0
		}
		zero := dst.Data[:0]
		p.want = &guard.Violation{Op: opName, Kind: guard.KindBufferOverflow,
			WriteSize: want, DestSize: 0, Sized: true}
		r.snapshot(dst.Data, nil)
		p.run = func() { guard.Concat(zero, src.Data) }
		p.tryRun = func() guard.Code { return guard.TryConcat(zero, src.Data) }
		p.untouched = r.untouchedCheck(dst.Data)
		return p
	}

	room := dst.Cap() - 1
	dstLen := r.rng.Intn(room + 1)
	srcLen := r.rng.Intn(min(room-dstLen, src.Cap()-1) + 1)
	r.randString(dst.Data, dstLen)
	r.randString(src.Data, srcLen)
	r.snapshot(dst.Data, src.Data)
	total := dstLen + srcLen
	p.run = func() { guard.Concat(dst.Data, src.Data) }
	p.tryRun = func() guard.Code { return guard.TryConcat(dst.Data, src.Data) }
	p.check = func() error {
		if !bytes.Equal(dst.Data[:dstLen], r.dstShadow[:dstLen]) {
			return errors.New("existing string was modified")
		}
		if !bytes.Equal(dst.Data[dstLen:total], r.srcShadow[:srcLen]) {
			return errors.New("appended bytes differ from source")
		}
		if dst.Data[total] != 0 {
			return errors.New("result is not terminated")
		}
		if !bytes.Equal(dst.Data[total+1:], r.dstShadow[total+1:dst.Cap()]) {
			return errors.New("bytes past the terminator were modified")
		}
		return nil
	}
	return p
}

// planCompare builds a bounded comparison probe. A coin decides between
// equal prefixes and independent random bytes, so both outcomes occur.
func (r *Runner) planCompare() *probe {
	a, b := r.pickPair()
	p := &probe{op: scenario.OpCompare, abort: true}

	if r.inject() {
		var n int
		if r.rng.Intn(2) == 0 { // count past the shorter buffer
			n = min(a.Cap(), b.Cap()) + 1 + r.rng.Intn(64)
		} else { // negative count
			n = -1 - r.rng.Intn(1024)
		}
		p.want = &guard.Violation{Op: "Compare", Kind: guard.KindOutOfBoundsRead}
		p.run = func() { guard.Compare(a.Data, b.Data, n) }
		return p
	}

	n := r.rng.Intn(min(a.Cap(), b.Cap()) + 1)
	r.randFill(a.Data[:n])
	if r.rng.Intn(2) == 0 {
		copy(b.Data[:n], a.Data[:n])
	} else {
		r.randFill(b.Data[:n])
	}
	ref := bytes.Compare(a.Data[:n], b.Data[:n])
	var got int
	p.run = func() { got = guard.Compare(a.Data, b.Data, n) }
	p.check = func() error {
		if got != ref {
			return fmt.Errorf("comparison returned %d, reference %d", got, ref)
		}
		return nil
	}
	return p
}

// planCompareString builds a string comparison probe over terminated
// strings.
func (r *Runner) planCompareString() *probe {
	a, b := r.pickPair()
	p := &probe{op: scenario.OpCompareString, abort: true}

	if r.inject() {
		var n int
		if r.rng.Intn(2) == 0 {
			n = min(a.Cap(), b.Cap()) + 1 + r.rng.Intn(64)
		} else {
			n = -1 - r.rng.Intn(1024)
		}
		p.want = &guard.Violation{Op: "CompareString", Kind: guard.KindOutOfBoundsRead}
		p.run = func() { guard.CompareString(a.Data, b.Data, n) }
		return p
	}

	aLen := r.rng.Intn(a.Cap())
	r.randString(a.Data, aLen)
	if r.rng.Intn(2) == 0 && aLen < b.Cap() {
		copy(b.Data[:aLen+1], a.Data[:aLen+1])
	} else {
		r.randString(b.Data, r.rng.Intn(b.Cap()))
	}
	n := r.rng.Intn(min(a.Cap(), b.Cap()) + 1)
	ref := compareStringRef(a.Data, b.Data, n)
	var got int
	p.run = func() { got = guard.CompareString(a.Data, b.Data, n) }
	p.check = func() error {
		if got != ref {
			return fmt.Errorf("comparison returned %d, reference %d", got, ref)
		}
		return nil
	}
	return p
}

// planFill builds a fill probe. Values above 0xFF exercise the
// low-byte truncation.
func (r *Runner) planFill() *probe {
	dst := r.pick()
	p := &probe{op: scenario.OpFill, abort: true}

	if r.inject() {
		var n int
		if r.rng.Intn(2) == 0 { // count past the capacity
			n = dst.Cap() + 1 + r.rng.Intn(64)
		} else { // negative count
			n = -1 - r.rng.Intn(1024)
		}
		ch := r.rng.Intn(256)
		r.snapshot(dst.Data, nil)
		p.want = &guard.Violation{Op: "Fill", Kind: guard.KindBufferOverflow}
		p.run = func() { guard.Fill(dst.Data, ch, n) }
		p.untouched = r.untouchedCheck(dst.Data)
		return p
	}

	n := r.rng.Intn(dst.Cap() + 1)
	ch := r.rng.Intn(512)
	r.snapshot(dst.Data, nil)
	p.run = func() { guard.Fill(dst.Data, ch, n) }
	p.check = func() error {
		for i := 0; i < n; i++ {
			if dst.Data[i] != byte(ch) {
				return fmt.Errorf("byte %d is 0x%02x, want 0x%02x", i, dst.Data[i], byte(ch))
			}
		}
		if !bytes.Equal(dst.Data[n:], r.dstShadow[n:dst.Cap()]) {
			return errors.New("bytes past the count were modified")
		}
		return nil
	}
	return p
}
