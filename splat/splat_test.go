package splat

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestScaleSpaceConversion(t *testing.T) {
	p := Point{Scale: r3.Vector{X: 0, Y: 1, Z: -1}, ScaleSpace: ScaleExponent}

	lin := p.LinearScale()
	test.That(t, lin.X, test.ShouldAlmostEqual, 1, 1e-9)
	test.That(t, lin.Y, test.ShouldAlmostEqual, math.E, 1e-9)
	test.That(t, lin.Z, test.ShouldAlmostEqual, 1/math.E, 1e-9)

	p.ToLinearScale()
	test.That(t, p.ScaleSpace, test.ShouldEqual, ScaleLinear)
	test.That(t, p.Scale.Y, test.ShouldAlmostEqual, math.E, 1e-9)

	// Converting a linear point is a no-op.
	before := p.Scale
	p.ToLinearScale()
	test.That(t, p.Scale, test.ShouldResemble, before)

	exp := p.ExponentScale()
	test.That(t, exp.X, test.ShouldAlmostEqual, 0, 1e-9)
	test.That(t, exp.Y, test.ShouldAlmostEqual, 1, 1e-9)
}

func TestLinearOpacity(t *testing.T) {
	p := Point{Opacity: 0, OpacitySpace: OpacityLogit}
	test.That(t, p.LinearOpacity(), test.ShouldAlmostEqual, 0.5, 1e-6)

	p = Point{Opacity: 0.75, OpacitySpace: OpacityLinear}
	test.That(t, p.LinearOpacity(), test.ShouldEqual, float32(0.75))
}

func TestNormalizeRotation(t *testing.T) {
	p := Point{Rotation: [4]float32{0, 0, 0, 2}}
	p.NormalizeRotation()
	test.That(t, p.Rotation[3], test.ShouldAlmostEqual, 1, 1e-6)

	// Near-zero quaternions are left for validation to reject.
	p = Point{Rotation: [4]float32{0, 0, 0, 0}}
	p.NormalizeRotation()
	test.That(t, p.Rotation, test.ShouldResemble, [4]float32{0, 0, 0, 0})
}

func TestBounds(t *testing.T) {
	pts := []Point{
		{Position: r3.Vector{X: -1, Y: 2, Z: 3}},
		{Position: r3.Vector{X: 4, Y: -5, Z: 0.5}},
		{Position: r3.Vector{X: 0, Y: 0, Z: 9}},
	}
	meta := Bounds(pts)
	test.That(t, meta.TotalCount, test.ShouldEqual, 3)
	test.That(t, meta.MinX, test.ShouldEqual, -1.0)
	test.That(t, meta.MaxX, test.ShouldEqual, 4.0)
	test.That(t, meta.MinY, test.ShouldEqual, -5.0)
	test.That(t, meta.MaxY, test.ShouldEqual, 2.0)
	test.That(t, meta.MinZ, test.ShouldEqual, 0.5)
	test.That(t, meta.MaxZ, test.ShouldEqual, 9.0)
}

func TestSHColor(t *testing.T) {
	c := NewSHColor(make([][3]float32, 9))
	test.That(t, c.Repr, test.ShouldEqual, ColorSH)
	test.That(t, c.SHDegree(), test.ShouldEqual, 2)

	// Invalid coefficient counts fall back to a flat color.
	c = NewSHColor(make([][3]float32, 5))
	test.That(t, c.Repr, test.ShouldEqual, ColorFloatRGB)
	test.That(t, c.SHDegree(), test.ShouldEqual, 0)
}

func TestColorAsLinearRGB(t *testing.T) {
	c := Color{Repr: ColorRGB8, RGB8: [3]uint8{255, 0, 128}}
	rgb := c.AsLinearRGB()
	test.That(t, rgb[0], test.ShouldEqual, float32(1))
	test.That(t, rgb[1], test.ShouldEqual, float32(0))
	test.That(t, rgb[2], test.ShouldAlmostEqual, 128.0/255, 1e-6)

	c = Color{Repr: ColorFloatRGB256, RGB: [3]float32{256, 128, 0}}
	rgb = c.AsLinearRGB()
	test.That(t, rgb[0], test.ShouldEqual, float32(1))
	test.That(t, rgb[1], test.ShouldEqual, float32(0.5))

	// DC-only SH decodes through the degree-0 basis.
	c = NewSHColor([][3]float32{{0, 0, 0}})
	rgb = c.AsLinearRGB()
	test.That(t, rgb[0], test.ShouldEqual, float32(0.5))

	// DCFromLinearRGB inverts it.
	dc := DCFromLinearRGB(0.8)
	test.That(t, 0.5+dc*SH0Norm, test.ShouldAlmostEqual, 0.8, 1e-6)
}

func TestValidateModes(t *testing.T) {
	good := Point{
		Position: r3.Vector{X: 1, Y: 2, Z: 3},
		Rotation: [4]float32{0, 0, 0, 1},
		Scale:    r3.Vector{X: 0.1, Y: 0.1, Z: 0.1},
	}
	test.That(t, Validate(&good, ValidationStrict), test.ShouldBeNil)

	nan := good
	nan.Position.X = math.NaN()
	test.That(t, errors.Is(Validate(&nan, ValidationLenient), ErrValidation), test.ShouldBeTrue)
	test.That(t, Validate(&nan, ValidationSafety), test.ShouldNotBeNil)

	// Negative linear scale only fails strict.
	neg := good
	neg.Scale.X = -1
	test.That(t, Validate(&neg, ValidationStrict), test.ShouldNotBeNil)
	test.That(t, Validate(&neg, ValidationLenient), test.ShouldBeNil)

	// Negative log-space scale is fine even in strict.
	negExp := neg
	negExp.ScaleSpace = ScaleExponent
	test.That(t, Validate(&negExp, ValidationStrict), test.ShouldBeNil)

	// Zero quaternion only fails strict.
	zq := good
	zq.Rotation = [4]float32{0, 0, 0, 0}
	test.That(t, Validate(&zq, ValidationStrict), test.ShouldNotBeNil)
	test.That(t, Validate(&zq, ValidationLenient), test.ShouldBeNil)
}

func TestValidatePointsAggregate(t *testing.T) {
	good := Point{Rotation: [4]float32{0, 0, 0, 1}}
	bad := good
	bad.Opacity = float32(math.NaN())

	// A minority of bad points passes lenient (threshold one half).
	pts := make([]Point, 0, 10)
	for i := 0; i < 7; i++ {
		pts = append(pts, good)
	}
	for i := 0; i < 3; i++ {
		pts = append(pts, bad)
	}
	test.That(t, ValidatePoints(pts, ValidationLenient), test.ShouldBeNil)

	// A majority fails.
	pts = pts[:0]
	for i := 0; i < 8; i++ {
		pts = append(pts, bad)
	}
	pts = append(pts, good, good)
	err := ValidatePoints(pts, ValidationLenient)
	test.That(t, errors.Is(err, ErrCorruptedData), test.ShouldBeTrue)

	test.That(t, ValidatePoints(nil, ValidationStrict), test.ShouldBeNil)
}

func TestValidatePointsSampling(t *testing.T) {
	// Above the exhaustive cutoff only every 16th point is inspected. Bad
	// points placed off the sampled stride go unnoticed.
	pts := make([]Point, 8192)
	for i := range pts {
		pts[i].Rotation = [4]float32{0, 0, 0, 1}
	}
	for i := 1; i < len(pts); i += 16 {
		pts[i].Opacity = float32(math.NaN())
	}
	test.That(t, ValidatePoints(pts, ValidationLenient), test.ShouldBeNil)

	// On-stride corruption is caught.
	for i := 0; i < len(pts); i += 16 {
		pts[i].Opacity = float32(math.NaN())
	}
	test.That(t, ValidatePoints(pts, ValidationLenient), test.ShouldNotBeNil)
}

func TestFilterValid(t *testing.T) {
	good := Point{Rotation: [4]float32{0, 0, 0, 1}}
	bad := good
	bad.Position.Z = math.Inf(1)
	out := FilterValid([]Point{good, bad, good}, ValidationLenient)
	test.That(t, len(out), test.ShouldEqual, 2)
}

func TestPushBatches(t *testing.T) {
	pts := make([]Point, 10)
	var h SliceHandler
	Push(pts, 3, &h)
	test.That(t, len(h.Pts), test.ShouldEqual, 10)
	test.That(t, h.Err, test.ShouldBeNil)
}
