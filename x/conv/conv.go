// Package conv appends integers to byte slices without fmt or strconv.
// All functions are safe to call from callback context: they never allocate
// when dst has spare capacity.
package conv

// AppendUint appends the base-10 representation of n to dst.
func AppendUint(dst []byte, n uint64) []byte {
	var tmp [20]byte
	i := len(tmp)
	if n == 0 {
		i--
		tmp[i] = '0'
	}
	for n > 0 {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
	}
	return append(dst, tmp[i:]...)
}

// AppendInt appends the base-10 representation of n to dst.
func AppendInt(dst []byte, n int64) []byte {
	if n < 0 {
		dst = append(dst, '-')
		// -MinInt64 overflows; go through uint64.
		return AppendUint(dst, uint64(-(n+1))+1)
	}
	return AppendUint(dst, uint64(n))
}

// AppendHex16 appends n as 4 uppercase hex digits, zero-padded.
func AppendHex16(dst []byte, n uint16) []byte {
	const hexd = "0123456789ABCDEF"
	return append(dst, hexd[n>>12&0xF], hexd[n>>8&0xF], hexd[n>>4&0xF], hexd[n&0xF])
}

// AppendUintBounded appends n only if the result stays within limit bytes.
// It reports false, leaving dst unchanged, when n does not fit.
func AppendUintBounded(dst []byte, n uint64, limit int) ([]byte, bool) {
	var tmp [20]byte
	s := AppendUint(tmp[:0], n)
	if len(dst)+len(s) > limit {
		return dst, false
	}
	return append(dst, s...), true
}
