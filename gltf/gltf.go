// Package gltf decodes Gaussian splat scenes embedded in glTF 2.0 assets,
// both the JSON form and the GLB binary container. Splat attributes ride on
// mesh primitives tagged with the KHR_gaussian_splatting extension and are
// reached through standard accessor/buffer-view indirection. Node
// transforms are fully composed onto decoded points; non-uniform node
// scales are rejected since they cannot be folded into an isotropic-axes
// Gaussian without reshaping it.
package gltf

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/num/quat"

	"go.viam.com/splat/splat"
)

// ExtensionName tags mesh primitives that carry per-vertex Gaussian splat
// attributes.
const ExtensionName = "KHR_gaussian_splatting"

const (
	glbMagic     = 0x46546c67 // "glTF"
	glbChunkJSON = 0x4e4f534a
	glbChunkBIN  = 0x004e4942

	compInt8    = 5120
	compUint8   = 5121
	compInt16   = 5122
	compUint16  = 5123
	compUint32  = 5125
	compFloat32 = 5126
)

type document struct {
	Asset struct {
		Version string `json:"version"`
	} `json:"asset"`
	Scene       *int         `json:"scene"`
	Scenes      []scene      `json:"scenes"`
	Nodes       []node       `json:"nodes"`
	Meshes      []mesh       `json:"meshes"`
	Accessors   []accessor   `json:"accessors"`
	BufferViews []bufferView `json:"bufferViews"`
	Buffers     []buffer     `json:"buffers"`
}

type scene struct {
	Nodes []int `json:"nodes"`
}

type node struct {
	Mesh        *int         `json:"mesh"`
	Children    []int        `json:"children"`
	Matrix      *[16]float64 `json:"matrix"`
	Translation *[3]float64  `json:"translation"`
	Rotation    *[4]float64  `json:"rotation"`
	Scale       *[3]float64  `json:"scale"`
}

type mesh struct {
	Primitives []primitive `json:"primitives"`
}

type primitive struct {
	Attributes map[string]int             `json:"attributes"`
	Extensions map[string]json.RawMessage `json:"extensions"`
}

type accessor struct {
	BufferView    *int   `json:"bufferView"`
	ByteOffset    int    `json:"byteOffset"`
	ComponentType int    `json:"componentType"`
	Normalized    bool   `json:"normalized"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
}

type bufferView struct {
	Buffer     int  `json:"buffer"`
	ByteOffset int  `json:"byteOffset"`
	ByteLength int  `json:"byteLength"`
	ByteStride *int `json:"byteStride"`
}

type buffer struct {
	URI        string `json:"uri"`
	ByteLength int    `json:"byteLength"`
}

// parseContainer splits raw input into the JSON document and the optional
// GLB binary chunk.
func parseContainer(data []byte) (jsonDoc, bin []byte, err error) {
	if len(data) >= 12 && binary.LittleEndian.Uint32(data) == glbMagic {
		if version := binary.LittleEndian.Uint32(data[4:]); version != 2 {
			return nil, nil, errors.Wrapf(splat.ErrInvalidHeader, "glb version %d", version)
		}
		rest := data[12:]
		for len(rest) >= 8 {
			chunkLen := int(binary.LittleEndian.Uint32(rest))
			chunkType := binary.LittleEndian.Uint32(rest[4:])
			rest = rest[8:]
			if chunkLen > len(rest) {
				return nil, nil, errors.Wrap(splat.ErrTruncatedData, "glb chunk overruns file")
			}
			switch chunkType {
			case glbChunkJSON:
				jsonDoc = rest[:chunkLen]
			case glbChunkBIN:
				bin = rest[:chunkLen]
			}
			rest = rest[chunkLen:]
		}
		if jsonDoc == nil {
			return nil, nil, errors.Wrap(splat.ErrInvalidHeader, "glb missing JSON chunk")
		}
		return jsonDoc, bin, nil
	}
	return data, nil, nil
}

// transform is a composed node transform restricted to the shapes a splat
// scene tolerates: translation, rotation, uniform scale.
type transform struct {
	t r3.Vector
	q quat.Number
	s float64
}

var identity = transform{q: quat.Number{Real: 1}, s: 1}

func (tr transform) apply(child transform) transform {
	return transform{
		t: tr.t.Add(tr.rotate(child.t).Mul(tr.s)),
		q: quat.Mul(tr.q, child.q),
		s: tr.s * child.s,
	}
}

func (tr transform) rotate(v r3.Vector) r3.Vector {
	p := quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}
	r := quat.Mul(quat.Mul(tr.q, p), quat.Conj(tr.q))
	return r3.Vector{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

func nodeTransform(n *node) (transform, error) {
	if n.Matrix != nil {
		return matrixTransform(n.Matrix)
	}
	tr := identity
	if n.Translation != nil {
		tr.t = r3.Vector{X: n.Translation[0], Y: n.Translation[1], Z: n.Translation[2]}
	}
	if n.Rotation != nil {
		// glTF stores x, y, z, w.
		tr.q = quat.Number{
			Real: n.Rotation[3],
			Imag: n.Rotation[0],
			Jmag: n.Rotation[1],
			Kmag: n.Rotation[2],
		}
	}
	if n.Scale != nil {
		if !uniform(n.Scale[0], n.Scale[1], n.Scale[2]) {
			return identity, errors.Wrapf(splat.ErrInvalidData,
				"non-uniform node scale [%g %g %g]", n.Scale[0], n.Scale[1], n.Scale[2])
		}
		tr.s = n.Scale[0]
	}
	return tr, nil
}

// matrixTransform decomposes a column-major TRS matrix, rejecting
// non-uniform scale.
func matrixTransform(m *[16]float64) (transform, error) {
	sx := math.Sqrt(m[0]*m[0] + m[1]*m[1] + m[2]*m[2])
	sy := math.Sqrt(m[4]*m[4] + m[5]*m[5] + m[6]*m[6])
	sz := math.Sqrt(m[8]*m[8] + m[9]*m[9] + m[10]*m[10])
	if !uniform(sx, sy, sz) {
		return identity, errors.Wrapf(splat.ErrInvalidData,
			"non-uniform matrix scale [%g %g %g]", sx, sy, sz)
	}
	s := sx
	if s == 0 {
		return identity, errors.Wrap(splat.ErrInvalidData, "degenerate matrix scale")
	}
	// Rotation part, scale divided out; columns are basis vectors.
	r00, r01, r02 := m[0]/s, m[4]/s, m[8]/s
	r10, r11, r12 := m[1]/s, m[5]/s, m[9]/s
	r20, r21, r22 := m[2]/s, m[6]/s, m[10]/s

	trace := r00 + r11 + r22
	var q quat.Number
	switch {
	case trace > 0:
		w := math.Sqrt(1+trace) / 2
		q = quat.Number{
			Real: w,
			Imag: (r21 - r12) / (4 * w),
			Jmag: (r02 - r20) / (4 * w),
			Kmag: (r10 - r01) / (4 * w),
		}
	case r00 > r11 && r00 > r22:
		x := math.Sqrt(1+r00-r11-r22) / 2
		q = quat.Number{
			Real: (r21 - r12) / (4 * x),
			Imag: x,
			Jmag: (r01 + r10) / (4 * x),
			Kmag: (r02 + r20) / (4 * x),
		}
	case r11 > r22:
		y := math.Sqrt(1+r11-r00-r22) / 2
		q = quat.Number{
			Real: (r02 - r20) / (4 * y),
			Imag: (r01 + r10) / (4 * y),
			Jmag: y,
			Kmag: (r12 + r21) / (4 * y),
		}
	default:
		z := math.Sqrt(1+r22-r00-r11) / 2
		q = quat.Number{
			Real: (r10 - r01) / (4 * z),
			Imag: (r02 + r20) / (4 * z),
			Jmag: (r12 + r21) / (4 * z),
			Kmag: z,
		}
	}
	return transform{
		t: r3.Vector{X: m[12], Y: m[13], Z: m[14]},
		q: q,
		s: s,
	}, nil
}

func uniform(a, b, c float64) bool {
	const tol = 1e-6
	m := math.Max(math.Abs(a), math.Max(math.Abs(b), math.Abs(c)))
	if m == 0 {
		return true
	}
	return math.Abs(a-b) <= tol*m && math.Abs(a-c) <= tol*m
}

type decoder struct {
	doc     *document
	baseDir string
	bin     []byte
	buffers map[int][]byte
}

func (d *decoder) bufferData(idx int) ([]byte, error) {
	if data, ok := d.buffers[idx]; ok {
		return data, nil
	}
	if idx < 0 || idx >= len(d.doc.Buffers) {
		return nil, errors.Wrapf(splat.ErrInvalidMetadata, "buffer %d out of range", idx)
	}
	b := d.doc.Buffers[idx]
	var data []byte
	switch {
	case b.URI == "":
		if d.bin == nil {
			return nil, errors.Wrapf(splat.ErrResourceMissing, "buffer %d has no URI and no GLB chunk", idx)
		}
		data = d.bin
	case strings.HasPrefix(b.URI, "data:"):
		comma := strings.IndexByte(b.URI, ',')
		if comma < 0 {
			return nil, errors.Wrapf(splat.ErrInvalidMetadata, "buffer %d has malformed data URI", idx)
		}
		decoded, err := base64.StdEncoding.DecodeString(b.URI[comma+1:])
		if err != nil {
			return nil, errors.Wrapf(splat.ErrInvalidMetadata, "buffer %d data URI: %v", idx, err)
		}
		data = decoded
	default:
		raw, err := os.ReadFile(filepath.Join(d.baseDir, filepath.FromSlash(b.URI)))
		if err != nil {
			return nil, errors.Wrapf(splat.ErrResourceMissing, "buffer %d (%q): %v", idx, b.URI, err)
		}
		data = raw
	}
	if d.buffers == nil {
		d.buffers = map[int][]byte{}
	}
	d.buffers[idx] = data
	return data, nil
}

func componentCount(accessorType string) int {
	switch accessorType {
	case "SCALAR":
		return 1
	case "VEC2":
		return 2
	case "VEC3":
		return 3
	case "VEC4":
		return 4
	}
	return 0
}

func componentSize(componentType int) int {
	switch componentType {
	case compInt8, compUint8:
		return 1
	case compInt16, compUint16:
		return 2
	default:
		return 4
	}
}

// readAccessor materializes an accessor as float32 rows, applying
// normalization for integer component types flagged normalized.
func (d *decoder) readAccessor(idx int) ([][4]float32, int, error) {
	if idx < 0 || idx >= len(d.doc.Accessors) {
		return nil, 0, errors.Wrapf(splat.ErrInvalidMetadata, "accessor %d out of range", idx)
	}
	acc := d.doc.Accessors[idx]
	comps := componentCount(acc.Type)
	if comps == 0 {
		return nil, 0, errors.Wrapf(splat.ErrInvalidMetadata, "accessor %d type %q unsupported", idx, acc.Type)
	}
	if acc.BufferView == nil {
		return make([][4]float32, acc.Count), comps, nil
	}
	if *acc.BufferView < 0 || *acc.BufferView >= len(d.doc.BufferViews) {
		return nil, 0, errors.Wrapf(splat.ErrInvalidMetadata, "buffer view %d out of range", *acc.BufferView)
	}
	view := d.doc.BufferViews[*acc.BufferView]
	data, err := d.bufferData(view.Buffer)
	if err != nil {
		return nil, 0, err
	}
	if view.ByteOffset+view.ByteLength > len(data) {
		return nil, 0, errors.Wrap(splat.ErrTruncatedData, "buffer view overruns buffer")
	}
	data = data[view.ByteOffset : view.ByteOffset+view.ByteLength]

	elemSize := componentSize(acc.ComponentType) * comps
	stride := elemSize
	if view.ByteStride != nil && *view.ByteStride > 0 {
		stride = *view.ByteStride
	}
	if acc.Count > 0 && acc.ByteOffset+(acc.Count-1)*stride+elemSize > len(data) {
		return nil, 0, errors.Wrap(splat.ErrTruncatedData, "accessor overruns buffer view")
	}

	rows := make([][4]float32, acc.Count)
	for i := 0; i < acc.Count; i++ {
		off := acc.ByteOffset + i*stride
		for c := 0; c < comps; c++ {
			rows[i][c] = readComponent(data[off+c*componentSize(acc.ComponentType):], acc.ComponentType, acc.Normalized)
		}
	}
	return rows, comps, nil
}

func readComponent(b []byte, componentType int, normalized bool) float32 {
	switch componentType {
	case compInt8:
		v := float32(int8(b[0]))
		if normalized {
			return float32(math.Max(float64(v)/127, -1))
		}
		return v
	case compUint8:
		v := float32(b[0])
		if normalized {
			return v / 255
		}
		return v
	case compInt16:
		v := float32(int16(binary.LittleEndian.Uint16(b)))
		if normalized {
			return float32(math.Max(float64(v)/32767, -1))
		}
		return v
	case compUint16:
		v := float32(binary.LittleEndian.Uint16(b))
		if normalized {
			return v / 65535
		}
		return v
	case compUint32:
		return float32(binary.LittleEndian.Uint32(b))
	default:
		return math.Float32frombits(binary.LittleEndian.Uint32(b))
	}
}

// Decode parses glTF or GLB bytes into points. baseDir resolves external
// buffer URIs.
func Decode(data []byte, baseDir string, logger golog.Logger) ([]splat.Point, error) {
	jsonDoc, bin, err := parseContainer(data)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(jsonDoc, &doc); err != nil {
		return nil, errors.Wrapf(splat.ErrInvalidMetadata, "gltf json: %v", err)
	}
	if !strings.HasPrefix(doc.Asset.Version, "2.") {
		return nil, errors.Wrapf(splat.ErrInvalidHeader, "gltf version %q", doc.Asset.Version)
	}
	d := &decoder{doc: &doc, baseDir: baseDir, bin: bin}

	roots := []int{}
	if doc.Scene != nil && *doc.Scene >= 0 && *doc.Scene < len(doc.Scenes) {
		roots = doc.Scenes[*doc.Scene].Nodes
	} else if len(doc.Scenes) > 0 {
		roots = doc.Scenes[0].Nodes
	} else {
		for i := range doc.Nodes {
			roots = append(roots, i)
		}
	}

	var pts []splat.Point
	var walk func(idx int, parent transform) error
	walk = func(idx int, parent transform) error {
		if idx < 0 || idx >= len(doc.Nodes) {
			return errors.Wrapf(splat.ErrInvalidMetadata, "node %d out of range", idx)
		}
		n := &doc.Nodes[idx]
		local, err := nodeTransform(n)
		if err != nil {
			return err
		}
		world := parent.apply(local)
		if n.Mesh != nil {
			if *n.Mesh < 0 || *n.Mesh >= len(doc.Meshes) {
				return errors.Wrapf(splat.ErrInvalidMetadata, "mesh %d out of range", *n.Mesh)
			}
			for pi := range doc.Meshes[*n.Mesh].Primitives {
				prim := &doc.Meshes[*n.Mesh].Primitives[pi]
				if _, ok := prim.Extensions[ExtensionName]; !ok {
					continue
				}
				batch, err := d.decodePrimitive(prim, world)
				if err != nil {
					return err
				}
				pts = append(pts, batch...)
			}
		}
		for _, child := range n.Children {
			if err := walk(child, world); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range roots {
		if err := walk(root, identity); err != nil {
			return nil, err
		}
	}
	if pts == nil {
		if logger != nil {
			logger.Warnf("gltf: no %s primitives found", ExtensionName)
		}
		return []splat.Point{}, nil
	}
	return pts, nil
}

func (d *decoder) decodePrimitive(prim *primitive, world transform) ([]splat.Point, error) {
	posIdx, ok := prim.Attributes["POSITION"]
	if !ok {
		return nil, errors.Wrap(splat.ErrInvalidMetadata, "splat primitive missing POSITION")
	}
	positions, _, err := d.readAccessor(posIdx)
	if err != nil {
		return nil, err
	}
	n := len(positions)

	var rotations, scales, colors, opacities [][4]float32
	colorComps := 0
	if idx, ok := prim.Attributes["_ROTATION"]; ok {
		if rotations, _, err = d.readAccessor(idx); err != nil {
			return nil, err
		}
	}
	if idx, ok := prim.Attributes["_SCALE"]; ok {
		if scales, _, err = d.readAccessor(idx); err != nil {
			return nil, err
		}
	}
	if idx, ok := prim.Attributes["COLOR_0"]; ok {
		if colors, colorComps, err = d.readAccessor(idx); err != nil {
			return nil, err
		}
	}
	if idx, ok := prim.Attributes["_OPACITY"]; ok {
		if opacities, _, err = d.readAccessor(idx); err != nil {
			return nil, err
		}
	}
	for name, rows := range map[string][][4]float32{
		"_ROTATION": rotations, "_SCALE": scales, "COLOR_0": colors, "_OPACITY": opacities,
	} {
		if rows != nil && len(rows) != n {
			return nil, errors.Wrapf(splat.ErrInvalidMetadata,
				"%s accessor count %d disagrees with POSITION count %d", name, len(rows), n)
		}
	}

	logS := math.Log(world.s)
	pts := make([]splat.Point, n)
	for i := 0; i < n; i++ {
		pt := &pts[i]
		local := r3.Vector{
			X: float64(positions[i][0]),
			Y: float64(positions[i][1]),
			Z: float64(positions[i][2]),
		}
		pt.Position = world.t.Add(world.rotate(local).Mul(world.s))

		pt.Rotation = [4]float32{0, 0, 0, 1}
		if rotations != nil {
			sq := quat.Number{
				Real: float64(rotations[i][3]),
				Imag: float64(rotations[i][0]),
				Jmag: float64(rotations[i][1]),
				Kmag: float64(rotations[i][2]),
			}
			wq := quat.Mul(world.q, sq)
			pt.Rotation = [4]float32{
				float32(wq.Imag), float32(wq.Jmag), float32(wq.Kmag), float32(wq.Real),
			}
		}
		pt.NormalizeRotation()

		if scales != nil {
			// _SCALE is log-space per the splat PLY convention; a uniform
			// node scale adds in log space.
			pt.Scale = r3.Vector{
				X: float64(scales[i][0]) + logS,
				Y: float64(scales[i][1]) + logS,
				Z: float64(scales[i][2]) + logS,
			}
			pt.ScaleSpace = splat.ScaleExponent
		}

		pt.Opacity = 1
		pt.OpacitySpace = splat.OpacityLinear
		if opacities != nil {
			pt.Opacity = opacities[i][0]
		}
		pt.Color = splat.Color{Repr: splat.ColorFloatRGB, RGB: [3]float32{0.5, 0.5, 0.5}}
		if colors != nil {
			pt.Color = splat.Color{
				Repr: splat.ColorFloatRGB,
				RGB:  [3]float32{colors[i][0], colors[i][1], colors[i][2]},
			}
			if colorComps == 4 && opacities == nil {
				pt.Opacity = colors[i][3]
			}
		}
	}
	return pts, nil
}

// DecodeFile reads and decodes a .gltf or .glb file. Sibling buffer files
// resolve against the asset's directory.
func DecodeFile(path string, logger golog.Logger) ([]splat.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "reading %q: %v", path, err)
	}
	return Decode(data, filepath.Dir(path), logger)
}
