package quant

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func TestFloat16Specials(t *testing.T) {
	test.That(t, Float16(0x0000), test.ShouldEqual, float32(0))
	test.That(t, math.Signbit(float64(Float16(0x8000))), test.ShouldBeTrue)
	test.That(t, Float16(0x3c00), test.ShouldEqual, float32(1))
	test.That(t, Float16(0xbc00), test.ShouldEqual, float32(-1))
	test.That(t, Float16(0x7bff), test.ShouldEqual, float32(65504))
	test.That(t, math.IsInf(float64(Float16(0x7c00)), 1), test.ShouldBeTrue)
	test.That(t, math.IsInf(float64(Float16(0xfc00)), -1), test.ShouldBeTrue)
	test.That(t, math.IsNaN(float64(Float16(0x7e00))), test.ShouldBeTrue)
}

func TestFloat16Subnormals(t *testing.T) {
	// Smallest positive subnormal is 2^-24.
	test.That(t, Float16(0x0001), test.ShouldEqual, float32(math.Ldexp(1, -24)))
	// Largest subnormal is just below the smallest normal 2^-14.
	test.That(t, Float16(0x03ff), test.ShouldAlmostEqual, math.Ldexp(1023, -24), 1e-10)
}

func TestPackFloat16RoundTrip(t *testing.T) {
	for _, v := range []float32{0, 1, -1, 0.5, 2.5, -1000, 65504, 6.1e-5} {
		test.That(t, Float16(PackFloat16(v)), test.ShouldAlmostEqual, v, math.Abs(float64(v))/1024+1e-7)
	}
}

func TestPackFloat16Saturation(t *testing.T) {
	test.That(t, math.IsInf(float64(Float16(PackFloat16(1e6))), 1), test.ShouldBeTrue)
	test.That(t, math.IsInf(float64(Float16(PackFloat16(-1e6))), -1), test.ShouldBeTrue)
}
