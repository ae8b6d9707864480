package guard

// Fill stores the low 8 bits of ch into the first n bytes of dst after
// checking the capacity. Returns dst.
func Fill(dst []byte, ch int, n int) []byte {
	if v := fillFault("Fill", uint64(len(dst)), uint64(n)); v != nil {
		raise(v)
	}
	b := byte(ch)
	for i := range dst[:n] {
		dst[i] = b
	}
	return dst
}
