package splat

import (
	"math"

	"github.com/pkg/errors"
)

// ValidationMode controls how aggressively decoded points are rejected.
type ValidationMode uint8

const (
	// ValidationLenient rejects only NaN/Infinity fields. It is the
	// default mode.
	ValidationLenient ValidationMode = iota
	// ValidationStrict rejects any point failing the full invariant set.
	ValidationStrict
	// ValidationSafety rejects NaN/Infinity and bounds-violating
	// accesses, nothing else.
	ValidationSafety
)

// Sampling constants for ValidatePoints. Scenes above sampleCutoff points
// are validated 1-in-sampleStride for throughput.
const (
	sampleCutoff = 4096
	sampleStride = 16
)

func finite32(v float32) bool {
	return !math.IsNaN(float64(v)) && !math.IsInf(float64(v), 0)
}

func finite64(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate checks one point against the invariants for the given mode.
func Validate(p *Point, mode ValidationMode) error {
	if !finite64(p.Position.X) || !finite64(p.Position.Y) || !finite64(p.Position.Z) {
		return errors.Wrap(ErrValidation, "non-finite position")
	}
	if !finite64(p.Scale.X) || !finite64(p.Scale.Y) || !finite64(p.Scale.Z) {
		return errors.Wrap(ErrValidation, "non-finite scale")
	}
	for _, c := range p.Rotation {
		if !finite32(c) {
			return errors.Wrap(ErrValidation, "non-finite rotation")
		}
	}
	if !finite32(p.Opacity) {
		return errors.Wrap(ErrValidation, "non-finite opacity")
	}
	for _, sh := range p.Color.SH {
		for _, v := range sh {
			if !finite32(v) {
				return errors.Wrap(ErrValidation, "non-finite SH coefficient")
			}
		}
	}
	if mode != ValidationStrict {
		return nil
	}
	if p.ScaleSpace == ScaleLinear &&
		(p.Scale.X < 0 || p.Scale.Y < 0 || p.Scale.Z < 0) {
		return errors.Wrap(ErrValidation, "negative scale")
	}
	norm := math.Sqrt(float64(p.Rotation[0]*p.Rotation[0] +
		p.Rotation[1]*p.Rotation[1] +
		p.Rotation[2]*p.Rotation[2] +
		p.Rotation[3]*p.Rotation[3]))
	if norm < 1e-6 {
		return errors.Wrap(ErrValidation, "near-zero rotation quaternion")
	}
	return nil
}

// failureThreshold is the sampled failure rate above which a whole scene is
// declared corrupted, per mode.
func failureThreshold(mode ValidationMode) float64 {
	if mode == ValidationStrict {
		return 0.1
	}
	return 0.5
}

// ValidatePoints validates a decoded scene. Small scenes are checked
// exhaustively; large ones are sampled for performance. The per-point error
// is not surfaced; instead an aggregate ErrCorruptedData is returned when
// the sampled failure rate exceeds the mode threshold.
func ValidatePoints(pts []Point, mode ValidationMode) error {
	if len(pts) == 0 {
		return nil
	}
	stride := 1
	if len(pts) > sampleCutoff {
		stride = sampleStride
	}
	var checked, failed int
	for i := 0; i < len(pts); i += stride {
		checked++
		if Validate(&pts[i], mode) != nil {
			failed++
		}
	}
	if rate := float64(failed) / float64(checked); rate > failureThreshold(mode) {
		return errors.Wrapf(ErrCorruptedData,
			"%d of %d sampled points failed validation", failed, checked)
	}
	return nil
}

// FilterValid returns the subsequence of points passing validation for the
// given mode. The input is not mutated.
func FilterValid(pts []Point, mode ValidationMode) []Point {
	out := make([]Point, 0, len(pts))
	for i := range pts {
		if Validate(&pts[i], mode) == nil {
			out = append(out, pts[i])
		}
	}
	return out
}
