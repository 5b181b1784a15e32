package mathx

import "golang.org/x/exp/constraints"

// PercentOf returns max*pct/100 with a 64-bit intermediate, pct clamped to 100.
// Used for duty fractions where max represents 100 %.
func PercentOf[T constraints.Unsigned](max T, pct uint8) T {
	p := Min(pct, 100)
	return T(uint64(max) * uint64(p) / 100)
}

// DivExact returns n/d and whether d divides n with no remainder.
// d <= 0 never divides.
func DivExact[T constraints.Integer](n, d T) (T, bool) {
	if d <= 0 {
		return 0, false
	}
	return n / d, n%d == 0
}

// SatU32 narrows v to uint32, saturating at the maximum.
func SatU32(v uint64) uint32 {
	if v > 0xFFFFFFFF {
		return 0xFFFFFFFF
	}
	return uint32(v)
}
