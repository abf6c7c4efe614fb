// Package quant holds the pure pack/unpack arithmetic shared by the format
// decoders: fixed-point positions, software half floats, log-space scale
// bytes, smallest-three quaternions, sigmoid/logit opacity, and the SPZ and
// codebook color schemes. All functions are total given well-formed slices;
// callers bounds-check before calling.
package quant

import "math"

// Fixed24 decodes a little-endian sign-extended 24-bit integer with the
// given number of fractional bits.
func Fixed24(b0, b1, b2 byte, fractionalBits uint8) float32 {
	v := int32(b0) | int32(b1)<<8 | int32(b2)<<16
	if v&0x800000 != 0 {
		v |= ^int32(0xffffff)
	}
	return float32(v) / float32(int32(1)<<fractionalBits)
}

// PackFixed24 encodes a value as a little-endian 24-bit fixed-point
// integer, saturating at the representable range.
func PackFixed24(v float32, fractionalBits uint8) (byte, byte, byte) {
	scaled := math.Round(float64(v) * float64(int32(1)<<fractionalBits))
	if scaled > 0x7fffff {
		scaled = 0x7fffff
	} else if scaled < -0x800000 {
		scaled = -0x800000
	}
	u := uint32(int32(scaled)) & 0xffffff
	return byte(u), byte(u >> 8), byte(u >> 16)
}

// Lerp maps t in [0, 1] onto [min, max].
func Lerp(min, max, t float32) float32 {
	return min + (max-min)*t
}

// Unlerp inverts Lerp, clamping to [0, 1]. A degenerate interval maps to 0.
func Unlerp(min, max, v float32) float32 {
	if max <= min {
		return 0
	}
	t := (v - min) / (max - min)
	if t < 0 {
		return 0
	} else if t > 1 {
		return 1
	}
	return t
}

// Unpack11_10_11 splits a chunk-quantized 32-bit field into three
// normalized [0, 1] components (11, 10, and 11 bits).
func Unpack11_10_11(v uint32) (float32, float32, float32) {
	x := float32(v&0x7ff) / 2047
	y := float32((v>>11)&0x3ff) / 1023
	z := float32(v>>21) / 2047
	return x, y, z
}

// Pack11_10_11 packs three normalized [0, 1] components into a 32-bit
// 11/10/11 field.
func Pack11_10_11(x, y, z float32) uint32 {
	q := func(v float32, maxv uint32) uint32 {
		if v < 0 {
			v = 0
		} else if v > 1 {
			v = 1
		}
		return uint32(math.Round(float64(v) * float64(maxv)))
	}
	return q(x, 2047) | q(y, 1023)<<11 | q(z, 2047)<<21
}

// ScaleFromByte maps an 8-bit scale byte to a log-space exponent in
// [-10, 5.9375].
func ScaleFromByte(b byte) float32 {
	return float32(b)/16 - 10
}

// ScaleToByte inverts ScaleFromByte, clamping to [0, 255].
func ScaleToByte(v float32) byte {
	s := math.Round(float64(v+10) * 16)
	if s < 0 {
		s = 0
	} else if s > 255 {
		s = 255
	}
	return byte(s)
}

// Opacity clamp bounds keep Logit finite at the domain edges.
const (
	logitMin = 1e-4
	logitMax = 1 - 1e-4
)

// Sigmoid maps a logit-space opacity to linear [0, 1].
func Sigmoid(v float32) float32 {
	return float32(1 / (1 + math.Exp(-float64(v))))
}

// Logit maps a linear opacity to logit space, clamping the input away from
// 0 and 1 to stay finite.
func Logit(v float32) float32 {
	x := float64(v)
	if x < logitMin {
		x = logitMin
	} else if x > logitMax {
		x = logitMax
	}
	return float32(math.Log(x / (1 - x)))
}

// colorScale is the SPZ-family DC color quantization constant.
const colorScale = 0.15

// ColorFromByte decodes an SPZ DC color byte to an SH coefficient.
func ColorFromByte(b byte) float32 {
	return (float32(b)/255 - 0.5) / colorScale
}

// ColorToByte inverts ColorFromByte, clamping to [0, 255].
func ColorToByte(v float32) byte {
	s := math.Round(float64(v*colorScale+0.5) * 255)
	if s < 0 {
		s = 0
	} else if s > 255 {
		s = 255
	}
	return byte(s)
}

// SHFromByte decodes a non-DC spherical harmonics coefficient byte.
func SHFromByte(b byte) float32 {
	return float32(int(b)-128) / 128
}

// SHToByte inverts SHFromByte, clamping to [0, 255].
func SHToByte(v float32) byte {
	s := math.Round(float64(v)*128) + 128
	if s < 0 {
		s = 0
	} else if s > 255 {
		s = 255
	}
	return byte(s)
}

// QuatComponentFromByte decodes a biased-byte quaternion component in
// [-1, 1].
func QuatComponentFromByte(b byte) float32 {
	return (float32(b) - 127.5) / 127.5
}

// QuatComponentToByte inverts QuatComponentFromByte.
func QuatComponentToByte(v float32) byte {
	s := math.Round(float64(v)*127.5 + 127.5)
	if s < 0 {
		s = 0
	} else if s > 255 {
		s = 255
	}
	return byte(s)
}

// Codebook is a 256-entry quantization lookup table. Missing entries decode
// as zero.
type Codebook [256]float32

// NewCodebook builds a codebook from up to 256 entries; shorter inputs
// leave the remaining entries at zero.
func NewCodebook(entries []float32) Codebook {
	var cb Codebook
	n := len(entries)
	if n > 256 {
		n = 256
	}
	copy(cb[:], entries[:n])
	return cb
}

// Lookup returns the entry for an index byte.
func (cb *Codebook) Lookup(idx byte) float32 {
	if cb == nil {
		return 0
	}
	return cb[idx]
}
