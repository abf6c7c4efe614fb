package quant

import (
	"math"
	"testing"

	"go.viam.com/test"
)

func quatNorm(q [4]float32) float64 {
	var s float64
	for _, c := range q {
		s += float64(c) * float64(c)
	}
	return math.Sqrt(s)
}

// quatDot ignores the global sign; q and -q encode the same rotation.
func quatDot(a, b [4]float32) float64 {
	var d float64
	for i := range a {
		d += float64(a[i]) * float64(b[i])
	}
	return math.Abs(d)
}

func TestQuatRoundTrip(t *testing.T) {
	s := float32(1 / math.Sqrt(4))
	for _, q := range [][4]float32{
		{0, 0, 0, 1},
		{1, 0, 0, 0},
		{0, 0, 0, -1},
		{s, s, s, s},
		{0.5, -0.5, 0.5, -0.5},
		{0.1830127, 0.1830127, 0.6830127, 0.6830127},
	} {
		got := UnpackQuat(PackQuat(q))
		test.That(t, quatNorm(got), test.ShouldAlmostEqual, 1, 1e-3)
		test.That(t, quatDot(got, q), test.ShouldAlmostEqual, 1, 1e-3)
	}
}

func TestQuatIdentityExact(t *testing.T) {
	got := UnpackQuat(PackQuat([4]float32{0, 0, 0, 1}))
	test.That(t, got[0], test.ShouldAlmostEqual, 0, 1e-3)
	test.That(t, got[1], test.ShouldAlmostEqual, 0, 1e-3)
	test.That(t, got[2], test.ShouldAlmostEqual, 0, 1e-3)
	test.That(t, got[3], test.ShouldAlmostEqual, 1, 1e-3)
}

func TestQuatSelectorBits(t *testing.T) {
	// The dropped component index lives in the top two bits.
	test.That(t, PackQuat([4]float32{1, 0, 0, 0})>>30, test.ShouldEqual, uint32(0))
	test.That(t, PackQuat([4]float32{0, 1, 0, 0})>>30, test.ShouldEqual, uint32(1))
	test.That(t, PackQuat([4]float32{0, 0, 1, 0})>>30, test.ShouldEqual, uint32(2))
	test.That(t, PackQuat([4]float32{0, 0, 0, 1})>>30, test.ShouldEqual, uint32(3))
}

func TestQuatDroppedComponentNonNegative(t *testing.T) {
	// Packing negates so the reconstructed component carries no sign bit.
	got := UnpackQuat(PackQuat([4]float32{0, 0, 0, -1}))
	test.That(t, got[3], test.ShouldBeGreaterThan, float32(0))
}
