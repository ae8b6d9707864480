package guard

// The validation core. Every public operation is a thin projection over
// these fault functions: the abort family raises the returned violation,
// the try family maps it to a code. All sizes are uint64, so negative
// counts and offsets converted by the callers wrap and fail the same way
// oversized ones do.

func copySizeFault(op string, dstCap, n uint64) *Violation {
	if dstCap < n {
		return &Violation{Op: op, Kind: KindBufferOverflow, WriteSize: n, DestSize: dstCap, Sized: true}
	}
	return nil
}

func nilFault(op string, dst, src []byte) *Violation {
	if src == nil || dst == nil {
		return &Violation{Op: op, Kind: KindNilPointer}
	}
	return nil
}

// offsetFault checks the count against the whole capacity, not the room
// remaining past the offset. The reported destination size is the
// remaining room, clamped at zero when the offset itself is out of range.
func offsetFault(op string, dstCap, off, n uint64) *Violation {
	if dstCap < n || off >= dstCap {
		var avail uint64
		if off < dstCap {
			avail = dstCap - off
		}
		return &Violation{Op: op, Kind: KindBufferOverflow, WriteSize: n, DestSize: avail, Sized: true}
	}
	return nil
}

func robustFault(op string, dstCap, srcCap, n uint64) *Violation {
	if dstCap < n || srcCap < n {
		return &Violation{Op: op, Kind: KindBufferOverflow}
	}
	return nil
}

func oobReadFault(op string, aCap, bCap, n uint64) *Violation {
	if aCap < n || bCap < n {
		return &Violation{Op: op, Kind: KindOutOfBoundsRead}
	}
	return nil
}

func fillFault(op string, dstCap, n uint64) *Violation {
	if n > dstCap {
		return &Violation{Op: op, Kind: KindBufferOverflow}
	}
	return nil
}

// Concatenation checks, in contract order. concatRoomFault must only run
// after concatZeroFault has passed.

func concatZeroFault(op string, dstCap, total uint64) *Violation {
	if dstCap == 0 {
		return &Violation{Op: op, Kind: KindBufferOverflow, WriteSize: total, DestSize: 0, Sized: true}
	}
	return nil
}

func concatSumFault(op string, dstLen, srcLen uint64) *Violation {
	if dstLen+srcLen < dstLen {
		return &Violation{Op: op, Kind: KindIntegerOverflow}
	}
	return nil
}

func concatRoomFault(op string, dstCap, total uint64) *Violation {
	if dstCap-1 < total {
		return &Violation{Op: op, Kind: KindBufferOverflow, WriteSize: total, DestSize: dstCap - 1, Sized: true}
	}
	return nil
}
