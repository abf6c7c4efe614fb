package gltf

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/splat/splat"
)

func floatBuffer(values ...float32) []byte {
	out := make([]byte, len(values)*4)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func dataURI(data []byte) string {
	return "data:application/octet-stream;base64," + base64.StdEncoding.EncodeToString(data)
}

// splatAsset builds a one-primitive asset with POSITION data and an
// arbitrary node JSON fragment.
func splatAsset(nodeExtra string, positions []float32) []byte {
	buf := floatBuffer(positions...)
	return []byte(fmt.Sprintf(`{
		"asset": {"version": "2.0"},
		"scene": 0,
		"scenes": [{"nodes": [0]}],
		"nodes": [{"mesh": 0%s}],
		"meshes": [{"primitives": [{
			"attributes": {"POSITION": 0},
			"extensions": {"KHR_gaussian_splatting": {}}
		}]}],
		"accessors": [{
			"bufferView": 0, "componentType": 5126,
			"count": %d, "type": "VEC3"
		}],
		"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": %d}],
		"buffers": [{"uri": %q, "byteLength": %d}]
	}`, nodeExtra, len(positions)/3, len(buf), dataURI(buf), len(buf)))
}

func TestDecodeMinimal(t *testing.T) {
	logger := golog.NewTestLogger(t)
	pts, err := Decode(splatAsset("", []float32{1, 2, 3, -4, 0, 5}), "", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 2)
	test.That(t, pts[0].Position.X, test.ShouldAlmostEqual, 1, 1e-6)
	test.That(t, pts[1].Position.Z, test.ShouldAlmostEqual, 5, 1e-6)

	// Attribute defaults.
	test.That(t, pts[0].Rotation, test.ShouldResemble, [4]float32{0, 0, 0, 1})
	test.That(t, pts[0].Opacity, test.ShouldEqual, float32(1))
	test.That(t, pts[0].Color.Repr, test.ShouldEqual, splat.ColorFloatRGB)
	test.That(t, pts[0].Color.RGB, test.ShouldResemble, [3]float32{0.5, 0.5, 0.5})
}

func TestDecodeNodeTransform(t *testing.T) {
	logger := golog.NewTestLogger(t)
	node := `, "translation": [10, 20, 30], "scale": [2, 2, 2]`
	pts, err := Decode(splatAsset(node, []float32{1, 1, 1}), "", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 1)
	test.That(t, pts[0].Position.X, test.ShouldAlmostEqual, 12, 1e-6)
	test.That(t, pts[0].Position.Y, test.ShouldAlmostEqual, 22, 1e-6)
	test.That(t, pts[0].Position.Z, test.ShouldAlmostEqual, 32, 1e-6)
}

func TestDecodeNodeRotation(t *testing.T) {
	logger := golog.NewTestLogger(t)
	// 180 degrees about Z maps (1, 0, 0) to (-1, 0, 0).
	node := `, "rotation": [0, 0, 1, 0]`
	pts, err := Decode(splatAsset(node, []float32{1, 0, 0}), "", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts[0].Position.X, test.ShouldAlmostEqual, -1, 1e-9)
	test.That(t, pts[0].Position.Y, test.ShouldAlmostEqual, 0, 1e-9)
}

func TestDecodeNonUniformScaleRejected(t *testing.T) {
	logger := golog.NewTestLogger(t)
	node := `, "scale": [1, 2, 1]`
	_, err := Decode(splatAsset(node, []float32{0, 0, 0}), "", logger)
	test.That(t, errors.Is(err, splat.ErrInvalidData), test.ShouldBeTrue)
}

func TestDecodeMatrixTransform(t *testing.T) {
	logger := golog.NewTestLogger(t)
	// Pure translation matrix, column-major.
	node := `, "matrix": [1,0,0,0, 0,1,0,0, 0,0,1,0, 5,6,7,1]`
	pts, err := Decode(splatAsset(node, []float32{1, 2, 3}), "", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pts[0].Position.X, test.ShouldAlmostEqual, 6, 1e-9)
	test.That(t, pts[0].Position.Y, test.ShouldAlmostEqual, 8, 1e-9)
	test.That(t, pts[0].Position.Z, test.ShouldAlmostEqual, 10, 1e-9)
}

func TestDecodeMatrixNonUniformRejected(t *testing.T) {
	logger := golog.NewTestLogger(t)
	node := `, "matrix": [2,0,0,0, 0,1,0,0, 0,0,1,0, 0,0,0,1]`
	_, err := Decode(splatAsset(node, []float32{0, 0, 0}), "", logger)
	test.That(t, errors.Is(err, splat.ErrInvalidData), test.ShouldBeTrue)
}

func TestDecodeUntaggedPrimitiveIgnored(t *testing.T) {
	logger := golog.NewTestLogger(t)
	buf := floatBuffer(0, 0, 0)
	doc := []byte(fmt.Sprintf(`{
		"asset": {"version": "2.0"},
		"scenes": [{"nodes": [0]}],
		"nodes": [{"mesh": 0}],
		"meshes": [{"primitives": [{"attributes": {"POSITION": 0}}]}],
		"accessors": [{"bufferView": 0, "componentType": 5126, "count": 1, "type": "VEC3"}],
		"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": %d}],
		"buffers": [{"uri": %q, "byteLength": %d}]
	}`, len(buf), dataURI(buf), len(buf)))

	pts, err := Decode(doc, "", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 0)
}

func TestDecodeFullAttributes(t *testing.T) {
	logger := golog.NewTestLogger(t)
	var bin bytes.Buffer
	bin.Write(floatBuffer(1, 2, 3))     // POSITION
	bin.Write(floatBuffer(0, 0, 0, 1))  // _ROTATION
	bin.Write(floatBuffer(-1, -2, -3))  // _SCALE, log-space
	bin.Write([]byte{255, 0, 128, 204}) // COLOR_0 normalized ubyte
	bin.Write(floatBuffer(0.25))        // _OPACITY

	doc := []byte(fmt.Sprintf(`{
		"asset": {"version": "2.0"},
		"scenes": [{"nodes": [0]}],
		"nodes": [{"mesh": 0}],
		"meshes": [{"primitives": [{
			"attributes": {
				"POSITION": 0, "_ROTATION": 1, "_SCALE": 2,
				"COLOR_0": 3, "_OPACITY": 4
			},
			"extensions": {"KHR_gaussian_splatting": {}}
		}]}],
		"accessors": [
			{"bufferView": 0, "byteOffset": 0, "componentType": 5126, "count": 1, "type": "VEC3"},
			{"bufferView": 0, "byteOffset": 12, "componentType": 5126, "count": 1, "type": "VEC4"},
			{"bufferView": 0, "byteOffset": 28, "componentType": 5126, "count": 1, "type": "VEC3"},
			{"bufferView": 0, "byteOffset": 40, "componentType": 5121, "normalized": true, "count": 1, "type": "VEC4"},
			{"bufferView": 0, "byteOffset": 44, "componentType": 5126, "count": 1, "type": "SCALAR"}
		],
		"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": %d}],
		"buffers": [{"uri": %q, "byteLength": %d}]
	}`, bin.Len(), dataURI(bin.Bytes()), bin.Len()))

	pts, err := Decode(doc, "", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 1)

	p := pts[0]
	test.That(t, p.Rotation, test.ShouldResemble, [4]float32{0, 0, 0, 1})
	test.That(t, p.ScaleSpace, test.ShouldEqual, splat.ScaleExponent)
	test.That(t, p.Scale.X, test.ShouldAlmostEqual, -1, 1e-6)
	test.That(t, p.Color.RGB[0], test.ShouldEqual, float32(1))
	test.That(t, p.Color.RGB[2], test.ShouldAlmostEqual, 128.0/255, 1e-6)
	// Explicit _OPACITY wins over the COLOR_0 alpha channel.
	test.That(t, p.Opacity, test.ShouldEqual, float32(0.25))
}

func TestDecodeGLB(t *testing.T) {
	logger := golog.NewTestLogger(t)
	bin := floatBuffer(7, 8, 9)
	doc := []byte(fmt.Sprintf(`{
		"asset": {"version": "2.0"},
		"scenes": [{"nodes": [0]}],
		"nodes": [{"mesh": 0}],
		"meshes": [{"primitives": [{
			"attributes": {"POSITION": 0},
			"extensions": {"KHR_gaussian_splatting": {}}
		}]}],
		"accessors": [{"bufferView": 0, "componentType": 5126, "count": 1, "type": "VEC3"}],
		"bufferViews": [{"buffer": 0, "byteOffset": 0, "byteLength": %d}],
		"buffers": [{"byteLength": %d}]
	}`, len(bin), len(bin)))
	for len(doc)%4 != 0 {
		doc = append(doc, ' ')
	}

	var glb bytes.Buffer
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], glbMagic)
	glb.Write(word[:])
	binary.LittleEndian.PutUint32(word[:], 2)
	glb.Write(word[:])
	binary.LittleEndian.PutUint32(word[:], uint32(12+8+len(doc)+8+len(bin)))
	glb.Write(word[:])
	binary.LittleEndian.PutUint32(word[:], uint32(len(doc)))
	glb.Write(word[:])
	binary.LittleEndian.PutUint32(word[:], glbChunkJSON)
	glb.Write(word[:])
	glb.Write(doc)
	binary.LittleEndian.PutUint32(word[:], uint32(len(bin)))
	glb.Write(word[:])
	binary.LittleEndian.PutUint32(word[:], glbChunkBIN)
	glb.Write(word[:])
	glb.Write(bin)

	pts, err := Decode(glb.Bytes(), "", logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(pts), test.ShouldEqual, 1)
	test.That(t, pts[0].Position.Y, test.ShouldAlmostEqual, 8, 1e-6)
}

func TestDecodeGLBBadVersion(t *testing.T) {
	logger := golog.NewTestLogger(t)
	var glb bytes.Buffer
	var word [4]byte
	binary.LittleEndian.PutUint32(word[:], glbMagic)
	glb.Write(word[:])
	binary.LittleEndian.PutUint32(word[:], 1)
	glb.Write(word[:])
	binary.LittleEndian.PutUint32(word[:], 12)
	glb.Write(word[:])
	_, err := Decode(glb.Bytes(), "", logger)
	test.That(t, errors.Is(err, splat.ErrInvalidHeader), test.ShouldBeTrue)
}

func TestDecodeBadAssetVersion(t *testing.T) {
	logger := golog.NewTestLogger(t)
	_, err := Decode([]byte(`{"asset": {"version": "1.0"}}`), "", logger)
	test.That(t, errors.Is(err, splat.ErrInvalidHeader), test.ShouldBeTrue)
}

func TestDecodeMissingPosition(t *testing.T) {
	logger := golog.NewTestLogger(t)
	doc := []byte(`{
		"asset": {"version": "2.0"},
		"scenes": [{"nodes": [0]}],
		"nodes": [{"mesh": 0}],
		"meshes": [{"primitives": [{
			"attributes": {},
			"extensions": {"KHR_gaussian_splatting": {}}
		}]}]
	}`)
	_, err := Decode(doc, "", logger)
	test.That(t, errors.Is(err, splat.ErrInvalidMetadata), test.ShouldBeTrue)
}

func TestUniform(t *testing.T) {
	test.That(t, uniform(2, 2, 2), test.ShouldBeTrue)
	test.That(t, uniform(0, 0, 0), test.ShouldBeTrue)
	test.That(t, uniform(1, 1.0000001, 1), test.ShouldBeTrue)
	test.That(t, uniform(1, 1.1, 1), test.ShouldBeFalse)
}
