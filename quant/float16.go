package quant

import "math"

// Float16 converts an IEEE-754 half-precision value to float32 in software;
// no hardware half-float support is assumed.
func Float16(bits uint16) float32 {
	sign := uint32(bits>>15) & 1
	exp := int32(bits>>10) & 0x1f
	mant := uint32(bits) & 0x3ff

	var f float64
	switch exp {
	case 0:
		// Zero or denormal.
		f = float64(mant) / 1024 * math.Pow(2, -14)
	case 31:
		if mant == 0 {
			f = math.Inf(1)
		} else {
			f = math.NaN()
		}
	default:
		f = math.Pow(2, float64(exp-15)) * (1 + float64(mant)/1024)
	}
	if sign == 1 {
		f = -f
	}
	return float32(f)
}

// PackFloat16 converts a float32 to IEEE-754 half-precision bits with
// round-to-nearest, saturating overflow to infinity.
func PackFloat16(v float32) uint16 {
	fbits := math.Float32bits(v)
	sign := uint16(fbits>>16) & 0x8000
	exp := int32(fbits>>23)&0xff - 127 + 15
	mant := fbits & 0x7fffff

	switch {
	case exp >= 31:
		if int32(fbits>>23)&0xff == 0xff {
			// Inf/NaN pass through.
			if mant != 0 {
				return sign | 0x7c01
			}
			return sign | 0x7c00
		}
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		// Denormal: shift the implicit bit in.
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := uint16(mant >> shift)
		if mant>>(shift-1)&1 != 0 {
			half++
		}
		return sign | half
	}
	half := sign | uint16(exp)<<10 | uint16(mant>>13)
	if mant&0x1000 != 0 {
		half++
	}
	return half
}
