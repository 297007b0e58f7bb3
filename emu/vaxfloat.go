package emu

import "math"

// VAX floating-point memory formats. The register file holds every
// format widened to an IEEE double; these routines translate the
// word-swapped VAX memory layouts at load, store, and conversion
// boundaries.
//
// All three formats use a hidden 0.1f fraction convention: the value
// is sign * (0.5 + fraction) * 2^(exponent - bias). An encoding with
// a zero exponent and a set sign bit is the reserved operand; zero
// exponent with a clear sign bit is true zero regardless of fraction.

const (
	vaxFExpBits = 8
	vaxFExpBias = 128

	vaxGExpBits = 11
	vaxGExpBias = 1024

	vaxDExpBits = 8
	vaxDExpBias = 128
)

// VAXFToHost decodes an F_floating longword as loaded little-endian
// from memory. The second result reports a reserved operand.
func VAXFToHost(mem uint32) (float64, bool) {
	sign := mem>>15&1 != 0
	exp := int(mem >> 7 & 0xFF)
	frac := uint64(mem&0x7F)<<16 | uint64(mem>>16&0xFFFF)

	if exp == 0 {
		if sign {
			return 0, true
		}
		return 0, false
	}

	m := 0.5 + float64(frac)/float64(uint64(1)<<24)
	v := math.Ldexp(m, exp-vaxFExpBias)
	if sign {
		v = -v
	}
	return v, false
}

// HostToVAXF encodes a host double as an F_floating longword. The
// second result reports overflow of the F exponent range; underflow
// encodes as true zero.
func HostToVAXF(v float64) (uint32, bool) {
	sign, exp, frac, ok := vaxEncode(v, vaxFExpBits, vaxFExpBias, 23)
	if !ok {
		return 0, true
	}
	if exp == 0 {
		return 0, false
	}
	var mem uint32
	if sign {
		mem |= 1 << 15
	}
	mem |= uint32(exp) << 7
	mem |= uint32(frac>>16) & 0x7F
	mem |= uint32(frac&0xFFFF) << 16
	return mem, false
}

// VAXGToHost decodes a G_floating quadword.
func VAXGToHost(mem uint64) (float64, bool) {
	sign := mem>>15&1 != 0
	exp := int(mem >> 4 & 0x7FF)
	frac := mem&0xF<<48 |
		mem>>16&0xFFFF<<32 |
		mem>>32&0xFFFF<<16 |
		mem >> 48 & 0xFFFF

	if exp == 0 {
		if sign {
			return 0, true
		}
		return 0, false
	}

	m := 0.5 + float64(frac)/float64(uint64(1)<<53)
	v := math.Ldexp(m, exp-vaxGExpBias)
	if sign {
		v = -v
	}
	return v, false
}

// HostToVAXG encodes a host double as a G_floating quadword.
func HostToVAXG(v float64) (uint64, bool) {
	sign, exp, frac, ok := vaxEncode(v, vaxGExpBits, vaxGExpBias, 52)
	if !ok {
		return 0, true
	}
	if exp == 0 {
		return 0, false
	}
	var mem uint64
	if sign {
		mem |= 1 << 15
	}
	mem |= uint64(exp) << 4
	mem |= frac >> 48 & 0xF
	mem |= frac >> 32 & 0xFFFF << 16
	mem |= frac >> 16 & 0xFFFF << 32
	mem |= frac & 0xFFFF << 48
	return mem, false
}

// VAXDToHost decodes a D_floating quadword. The 55-bit fraction is
// narrowed to double precision, dropping the low 3 bits.
func VAXDToHost(mem uint64) (float64, bool) {
	sign := mem>>15&1 != 0
	exp := int(mem >> 7 & 0xFF)
	frac := mem&0x7F<<48 |
		mem>>16&0xFFFF<<32 |
		mem>>32&0xFFFF<<16 |
		mem >> 48 & 0xFFFF

	if exp == 0 {
		if sign {
			return 0, true
		}
		return 0, false
	}

	m := 0.5 + float64(frac)/float64(uint64(1)<<56)
	v := math.Ldexp(m, exp-vaxDExpBias)
	if sign {
		v = -v
	}
	return v, false
}

// HostToVAXD encodes a host double as a D_floating quadword. The low
// 3 fraction bits encode as zero.
func HostToVAXD(v float64) (uint64, bool) {
	sign, exp, frac, ok := vaxEncode(v, vaxDExpBits, vaxDExpBias, 52)
	if !ok {
		return 0, true
	}
	if exp == 0 {
		return 0, false
	}
	frac <<= 3
	var mem uint64
	if sign {
		mem |= 1 << 15
	}
	mem |= uint64(exp) << 7
	mem |= frac >> 48 & 0x7F
	mem |= frac >> 32 & 0xFFFF << 16
	mem |= frac >> 16 & 0xFFFF << 32
	mem |= frac & 0xFFFF << 48
	return mem, false
}

// vaxEncode splits a host double into VAX sign, biased exponent, and
// fraction. Underflow returns exponent 0 (true zero); the final
// result reports overflow. NaN and infinity have no VAX encoding and
// report as overflow.
func vaxEncode(v float64, expBits, bias, fracBits int) (sign bool, exp int, frac uint64, ok bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return false, 0, 0, false
	}
	if v == 0 {
		return false, 0, 0, true
	}
	sign = math.Signbit(v)

	// Frexp yields m in [0.5, 1), matching the 0.1f convention.
	m, e := math.Frexp(math.Abs(v))
	exp = e + bias
	if exp >= 1<<expBits {
		return false, 0, 0, false
	}
	if exp <= 0 {
		return false, 0, 0, true
	}
	frac = uint64((m - 0.5) * float64(uint64(1)<<(fracBits+1)))
	return sign, exp, frac, true
}
