package sogs

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/splat/splat"
)

const v1MetaJSON = `{
	"version": 1,
	"means": {
		"files": ["means_l.webp", "means_u.webp"],
		"mins": [-1, -2, -3], "maxs": [1, 2, 3]
	},
	"scales": {
		"files": ["scales.webp"],
		"mins": [-10, -10, -10], "maxs": [2, 2, 2]
	},
	"quats": {"files": ["quats.webp"]},
	"sh0": {
		"files": ["sh0.webp"],
		"mins": [-2, -2, -2, -6], "maxs": [2, 2, 2, 6]
	}
}`

func TestParseMetadataV1(t *testing.T) {
	meta, err := ParseMetadata([]byte(v1MetaJSON))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.Version, test.ShouldEqual, 1)
	test.That(t, meta.Means.Files, test.ShouldResemble, []string{"means_l.webp", "means_u.webp"})
	test.That(t, meta.Scales.Maxs, test.ShouldResemble, []float64{2, 2, 2})
	test.That(t, meta.SHN, test.ShouldBeNil)
}

func TestParseMetadataMissingAttribute(t *testing.T) {
	_, err := ParseMetadata([]byte(`{"means": {"files": ["a", "b"]}}`))
	test.That(t, errors.Is(err, splat.ErrInvalidMetadata), test.ShouldBeTrue)
}

func TestParseMetadataV1MissingBounds(t *testing.T) {
	_, err := ParseMetadata([]byte(`{
		"means": {"files": ["a", "b"], "mins": [0, 0, 0], "maxs": [1, 1, 1]},
		"scales": {"files": ["s"]},
		"quats": {"files": ["q"]},
		"sh0": {"files": ["c"], "mins": [0, 0, 0, 0], "maxs": [1, 1, 1, 1]}
	}`))
	test.That(t, errors.Is(err, splat.ErrInvalidMetadata), test.ShouldBeTrue)
}

func TestParseMetadataV2RequiresCount(t *testing.T) {
	_, err := ParseMetadata([]byte(`{
		"version": 2,
		"means": {"files": ["a", "b"]},
		"scales": {"files": ["s"], "codebook": [0, 1]},
		"quats": {"files": ["q"]},
		"sh0": {"files": ["c"], "codebook": [0, 1]}
	}`))
	test.That(t, errors.Is(err, splat.ErrInvalidMetadata), test.ShouldBeTrue)
}

func TestParseMetadataNotJSON(t *testing.T) {
	_, err := ParseMetadata([]byte("ply\nformat ascii 1.0\n"))
	test.That(t, errors.Is(err, splat.ErrInvalidMetadata), test.ShouldBeTrue)
}

func TestLooksLikeMetadata(t *testing.T) {
	test.That(t, LooksLikeMetadata([]byte(v1MetaJSON)), test.ShouldBeTrue)
	test.That(t, LooksLikeMetadata([]byte(`{"means": {}}`)), test.ShouldBeFalse)
	test.That(t, LooksLikeMetadata([]byte(`{"foo": 1}`)), test.ShouldBeFalse)
	test.That(t, LooksLikeMetadata([]byte(`not json`)), test.ShouldBeFalse)
}

func TestPlaneNames(t *testing.T) {
	meta, err := ParseMetadata([]byte(v1MetaJSON))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, meta.planeNames(), test.ShouldResemble,
		[]string{"means_l.webp", "means_u.webp", "scales.webp", "quats.webp", "sh0.webp"})
}
