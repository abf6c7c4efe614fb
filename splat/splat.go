// Package splat defines the canonical in-memory representation of a Gaussian
// splat scene and provides an implementation for one.
//
// Every on-disk format supported by this module decodes to a flat slice of
// Point values. Points are produced wholesale by a decoder call and owned by
// the caller; they are immutable once validated, except that the morton
// package may permute a slice without mutating individual points.
package splat

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

// ScaleSpace says which representation a point's scale triple currently
// holds. The two are convertible (linear = exp(exponent)); tracking the
// current one avoids redundant transcendental calls on huge scenes.
type ScaleSpace uint8

const (
	// ScaleLinear means the scale triple is a linear magnitude per axis.
	ScaleLinear ScaleSpace = iota
	// ScaleExponent means the scale triple is log-space exponents.
	ScaleExponent
)

// OpacitySpace says which representation a point's opacity currently holds.
type OpacitySpace uint8

const (
	// OpacityLinear means opacity is in [0, 1].
	OpacityLinear OpacitySpace = iota
	// OpacityLogit means opacity is a pre-sigmoid logit value.
	OpacityLogit
)

// Point is one anisotropic 3-D Gaussian.
type Point struct {
	Position r3.Vector
	// Rotation is a unit quaternion stored x, y, z, w.
	Rotation [4]float32
	// Scale is per-axis extent, interpreted per ScaleSpace.
	Scale      r3.Vector
	ScaleSpace ScaleSpace
	Color      Color
	// Opacity is interpreted per OpacitySpace.
	Opacity      float32
	OpacitySpace OpacitySpace
}

// LinearScale returns the scale triple in linear magnitudes regardless of
// the stored representation.
func (p *Point) LinearScale() r3.Vector {
	if p.ScaleSpace == ScaleLinear {
		return p.Scale
	}
	return r3.Vector{
		X: math.Exp(p.Scale.X),
		Y: math.Exp(p.Scale.Y),
		Z: math.Exp(p.Scale.Z),
	}
}

// ExponentScale returns the scale triple in log space regardless of the
// stored representation.
func (p *Point) ExponentScale() r3.Vector {
	if p.ScaleSpace == ScaleExponent {
		return p.Scale
	}
	return r3.Vector{
		X: math.Log(p.Scale.X),
		Y: math.Log(p.Scale.Y),
		Z: math.Log(p.Scale.Z),
	}
}

// ToLinearScale rewrites the stored scale into linear space in place.
func (p *Point) ToLinearScale() {
	if p.ScaleSpace == ScaleExponent {
		p.Scale = p.LinearScale()
		p.ScaleSpace = ScaleLinear
	}
}

// LinearOpacity returns opacity in [0, 1] regardless of the stored
// representation.
func (p *Point) LinearOpacity() float32 {
	if p.OpacitySpace == OpacityLinear {
		return p.Opacity
	}
	return float32(1 / (1 + math.Exp(-float64(p.Opacity))))
}

// NormalizeRotation renormalizes the rotation quaternion in place. A
// near-zero quaternion is left untouched for validation to reject.
func (p *Point) NormalizeRotation() {
	q := quat.Number{
		Real: float64(p.Rotation[3]),
		Imag: float64(p.Rotation[0]),
		Jmag: float64(p.Rotation[1]),
		Kmag: float64(p.Rotation[2]),
	}
	n := quat.Abs(q)
	if n < 1e-8 || math.IsInf(n, 0) || math.IsNaN(n) {
		return
	}
	q = quat.Scale(1/n, q)
	p.Rotation = [4]float32{
		float32(q.Imag), float32(q.Jmag), float32(q.Kmag), float32(q.Real),
	}
}

// MetaData is bounds data about a slice of points.
type MetaData struct {
	TotalCount int

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

// NewMetaData returns a new MetaData with bounds set up to be merged into.
func NewMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64,
		MinY: math.MaxFloat64,
		MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64,
		MaxY: -math.MaxFloat64,
		MaxZ: -math.MaxFloat64,
	}
}

// Merge updates the meta data with the new point.
func (meta *MetaData) Merge(p *Point) {
	v := p.Position
	if v.X > meta.MaxX {
		meta.MaxX = v.X
	}
	if v.Y > meta.MaxY {
		meta.MaxY = v.Y
	}
	if v.Z > meta.MaxZ {
		meta.MaxZ = v.Z
	}
	if v.X < meta.MinX {
		meta.MinX = v.X
	}
	if v.Y < meta.MinY {
		meta.MinY = v.Y
	}
	if v.Z < meta.MinZ {
		meta.MinZ = v.Z
	}
	meta.TotalCount++
}

// Bounds computes the axis-aligned bounding box of a point slice.
func Bounds(pts []Point) MetaData {
	meta := NewMetaData()
	for i := range pts {
		meta.Merge(&pts[i])
	}
	return meta
}
