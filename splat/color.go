package splat

// SH0Norm is the degree-0 spherical harmonics basis constant. A DC
// coefficient c maps to linear color 0.5 + c*SH0Norm.
const SH0Norm = 0.28209479177387814

// ColorRepr enumerates the color representations a Point may hold.
type ColorRepr uint8

const (
	// ColorSH is a spherical-harmonic coefficient list; coefficient 0 is
	// the DC/base color term.
	ColorSH ColorRepr = iota
	// ColorFloatRGB is linear float RGB in [0, 1].
	ColorFloatRGB
	// ColorFloatRGB256 is linear float RGB scaled by 256.
	ColorFloatRGB256
	// ColorRGB8 is linear 8-bit RGB.
	ColorRGB8
)

// Color is a point's view-dependent (or flat) color in one of four
// representations. Only the fields for the active representation are
// meaningful.
type Color struct {
	Repr ColorRepr
	// SH holds 1, 4, 9, or 16 three-channel coefficients when Repr is
	// ColorSH.
	SH [][3]float32
	// RGB holds float channels for ColorFloatRGB and ColorFloatRGB256.
	RGB [3]float32
	// RGB8 holds byte channels for ColorRGB8.
	RGB8 [3]uint8
}

// NewSHColor returns an SH color, or a zero color if the coefficient count
// is not one of 1, 4, 9, 16.
func NewSHColor(coeffs [][3]float32) Color {
	switch len(coeffs) {
	case 1, 4, 9, 16:
		return Color{Repr: ColorSH, SH: coeffs}
	}
	return Color{Repr: ColorFloatRGB}
}

// SHDegree returns the spherical harmonics degree of the color: 0 for every
// non-SH representation, otherwise the degree implied by the coefficient
// count.
func (c *Color) SHDegree() int {
	if c.Repr != ColorSH {
		return 0
	}
	switch len(c.SH) {
	case 4:
		return 1
	case 9:
		return 2
	case 16:
		return 3
	}
	return 0
}

// AsLinearRGB converts any representation to linear float RGB. The
// conversion is lossy for SH colors: only the DC term contributes.
func (c *Color) AsLinearRGB() [3]float32 {
	switch c.Repr {
	case ColorFloatRGB:
		return c.RGB
	case ColorFloatRGB256:
		return [3]float32{c.RGB[0] / 256, c.RGB[1] / 256, c.RGB[2] / 256}
	case ColorRGB8:
		return [3]float32{
			float32(c.RGB8[0]) / 255,
			float32(c.RGB8[1]) / 255,
			float32(c.RGB8[2]) / 255,
		}
	}
	if len(c.SH) == 0 {
		return [3]float32{}
	}
	dc := c.SH[0]
	return [3]float32{
		0.5 + dc[0]*SH0Norm,
		0.5 + dc[1]*SH0Norm,
		0.5 + dc[2]*SH0Norm,
	}
}

// DCFromLinearRGB inverts the DC formula, mapping a linear channel value to
// a degree-0 coefficient.
func DCFromLinearRGB(v float32) float32 {
	return (v - 0.5) / SH0Norm
}
