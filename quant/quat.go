package quant

import "math"

// Smallest-three quaternion packing: the largest-magnitude component is
// dropped (2-bit selector), the remaining three are quantized to 10 bits
// each over ±1/√2, and the dropped component is reconstructed as
// sqrt(max(0, 1-Σ others²)) carrying the original sign via global negation
// (q and -q are the same rotation).

const quatFieldMax = 1 / math.Sqrt2

// PackQuat packs a quaternion (x, y, z, w) into a smallest-three uint32.
func PackQuat(q [4]float32) uint32 {
	largest := 0
	for i := 1; i < 4; i++ {
		if math.Abs(float64(q[i])) > math.Abs(float64(q[largest])) {
			largest = i
		}
	}
	// Negate so the dropped component is non-negative; -q encodes the
	// same rotation.
	if q[largest] < 0 {
		for i := range q {
			q[i] = -q[i]
		}
	}
	packed := uint32(largest) << 30
	shift := uint(20)
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		t := (float64(q[i]) + quatFieldMax) / (2 * quatFieldMax)
		if t < 0 {
			t = 0
		} else if t > 1 {
			t = 1
		}
		packed |= uint32(math.Round(t*1023)) << shift
		shift -= 10
	}
	return packed
}

// UnpackQuat inverts PackQuat, returning a unit quaternion (x, y, z, w).
func UnpackQuat(packed uint32) [4]float32 {
	largest := int(packed >> 30)
	var q [4]float32
	var sumSq float64
	shift := uint(20)
	for i := 0; i < 4; i++ {
		if i == largest {
			continue
		}
		t := float64((packed>>shift)&0x3ff) / 1023
		v := t*2*quatFieldMax - quatFieldMax
		q[i] = float32(v)
		sumSq += v * v
		shift -= 10
	}
	q[largest] = float32(math.Sqrt(math.Max(0, 1-sumSq)))
	return q
}
