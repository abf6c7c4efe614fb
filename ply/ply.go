// Package ply decodes Gaussian splat scenes stored as PLY files, in ascii,
// binary_little_endian, or binary_big_endian form. Canonical splat fields
// are recognized under several property-name aliases; unknown properties
// and non-vertex elements are skipped.
package ply

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/splat/splat"
)

type plyFormat int

const (
	formatASCII plyFormat = iota
	formatBinaryLE
	formatBinaryBE
)

type propType int

const (
	typeInt8 propType = iota
	typeUint8
	typeInt16
	typeUint16
	typeInt32
	typeUint32
	typeFloat32
	typeFloat64
)

var typeNames = map[string]propType{
	"char": typeInt8, "int8": typeInt8,
	"uchar": typeUint8, "uint8": typeUint8,
	"short": typeInt16, "int16": typeInt16,
	"ushort": typeUint16, "uint16": typeUint16,
	"int": typeInt32, "int32": typeInt32,
	"uint": typeUint32, "uint32": typeUint32,
	"float": typeFloat32, "float32": typeFloat32,
	"double": typeFloat64, "float64": typeFloat64,
}

var typeSizes = [...]int{1, 1, 2, 2, 4, 4, 4, 8}

type property struct {
	name     string
	typ      propType
	isList   bool
	countTyp propType
	elemTyp  propType
}

type element struct {
	name  string
	count int
	props []property
}

type header struct {
	format   plyFormat
	elements []element
}

func parseHeader(br *bufio.Reader) (*header, error) {
	first, err := readHeaderLine(br)
	if err != nil || first != "ply" {
		return nil, errors.Wrap(splat.ErrInvalidMagicNumber, "missing ply magic line")
	}
	h := &header{}
	sawFormat := false
	for {
		line, err := readHeaderLine(br)
		if err != nil {
			return nil, errors.Wrap(splat.ErrTruncatedData, "header ended before end_header")
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "end_header":
			if !sawFormat || len(h.elements) == 0 {
				return nil, errors.Wrap(splat.ErrInvalidHeader, "header missing format or elements")
			}
			return h, nil
		case "comment", "obj_info":
		case "format":
			if len(fields) < 3 {
				return nil, errors.Wrap(splat.ErrInvalidHeader, "malformed format line")
			}
			switch fields[1] {
			case "ascii":
				h.format = formatASCII
			case "binary_little_endian":
				h.format = formatBinaryLE
			case "binary_big_endian":
				h.format = formatBinaryBE
			default:
				return nil, errors.Wrapf(splat.ErrInvalidHeader, "unknown ply format %q", fields[1])
			}
			sawFormat = true
		case "element":
			if len(fields) < 3 {
				return nil, errors.Wrap(splat.ErrInvalidHeader, "malformed element line")
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, errors.Wrapf(splat.ErrInvalidHeader, "bad element count %q", fields[2])
			}
			h.elements = append(h.elements, element{name: fields[1], count: count})
		case "property":
			if len(h.elements) == 0 {
				return nil, errors.Wrap(splat.ErrInvalidHeader, "property before element")
			}
			elem := &h.elements[len(h.elements)-1]
			if len(fields) >= 5 && fields[1] == "list" {
				ct, ok1 := typeNames[fields[2]]
				et, ok2 := typeNames[fields[3]]
				if !ok1 || !ok2 {
					return nil, errors.Wrapf(splat.ErrInvalidHeader, "unknown list types in %q", line)
				}
				elem.props = append(elem.props, property{
					name: fields[4], isList: true, countTyp: ct, elemTyp: et,
				})
			} else if len(fields) >= 3 {
				t, ok := typeNames[fields[1]]
				if !ok {
					return nil, errors.Wrapf(splat.ErrInvalidHeader, "unknown property type %q", fields[1])
				}
				elem.props = append(elem.props, property{name: fields[2], typ: t})
			} else {
				return nil, errors.Wrap(splat.ErrInvalidHeader, "malformed property line")
			}
		}
	}
}

func readHeaderLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Canonical vertex fields and the alias table mapping property names onto
// them.
type field int

const (
	fieldIgnore field = iota
	fieldX
	fieldY
	fieldZ
	fieldDC0
	fieldDC1
	fieldDC2
	fieldRed
	fieldGreen
	fieldBlue
	fieldOpacity
	fieldAlpha
	fieldScale0
	fieldScale1
	fieldScale2
	fieldRotW
	fieldRotX
	fieldRotY
	fieldRotZ
	fieldRest // uses restIndex
)

var fieldAliases = map[string]field{
	"x": fieldX, "y": fieldY, "z": fieldZ,
	"f_dc_0": fieldDC0, "f_dc_1": fieldDC1, "f_dc_2": fieldDC2,
	"red": fieldRed, "green": fieldGreen, "blue": fieldBlue,
	"r": fieldRed, "g": fieldGreen, "b": fieldBlue,
	"opacity": fieldOpacity, "alpha": fieldAlpha,
	"scale_0": fieldScale0, "scale_1": fieldScale1, "scale_2": fieldScale2,
	"scale_x": fieldScale0, "scale_y": fieldScale1, "scale_z": fieldScale2,
	"rot_0": fieldRotW, "rot_1": fieldRotX, "rot_2": fieldRotY, "rot_3": fieldRotZ,
	"rot_w": fieldRotW, "rot_x": fieldRotX, "rot_y": fieldRotY, "rot_z": fieldRotZ,
}

func canon(name string) (field, int) {
	if f, ok := fieldAliases[name]; ok {
		return f, 0
	}
	if rest, found := strings.CutPrefix(name, "f_rest_"); found {
		if k, err := strconv.Atoi(rest); err == nil && k >= 0 && k < 45 {
			return fieldRest, k
		}
	}
	return fieldIgnore, 0
}

// vertexLayout is the resolved mapping from property index to canonical
// field for one file.
type vertexLayout struct {
	fields    []field
	restIdx   []int
	restCount int
	hasDC     bool
	byteColor bool // red/green/blue stored as uchar
	hasColor  bool
	hasAlphaB bool // alpha as uchar
	hasScale  bool
}

func resolveLayout(props []property) (*vertexLayout, error) {
	l := &vertexLayout{
		fields:  make([]field, len(props)),
		restIdx: make([]int, len(props)),
	}
	var hasX, hasY, hasZ bool
	for i, p := range props {
		if p.isList {
			l.fields[i] = fieldIgnore
			continue
		}
		f, rest := canon(p.name)
		l.fields[i] = f
		l.restIdx[i] = rest
		switch f {
		case fieldX:
			hasX = true
		case fieldY:
			hasY = true
		case fieldZ:
			hasZ = true
		case fieldDC0:
			l.hasDC = true
		case fieldRed:
			l.hasColor = true
			l.byteColor = p.typ == typeUint8
		case fieldAlpha:
			l.hasAlphaB = p.typ == typeUint8
		case fieldScale0:
			l.hasScale = true
		case fieldRest:
			if rest+1 > l.restCount {
				l.restCount = rest + 1
			}
		}
	}
	if !hasX || !hasY || !hasZ {
		return nil, errors.Wrap(splat.ErrInvalidHeader, "vertex element missing x/y/z")
	}
	return l, nil
}

// restPerChannel snaps the f_rest property count to a supported SH layout.
// Coefficients are stored channel-major: all R, then G, then B.
func (l *vertexLayout) restPerChannel() int {
	per := l.restCount / 3
	switch {
	case per >= 15:
		return 15
	case per >= 8:
		return 8
	case per >= 3:
		return 3
	}
	return 0
}

// Decode reads a PLY stream. A malformed record stops decoding and the
// points already produced are returned.
func Decode(r io.Reader, logger golog.Logger) ([]splat.Point, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	h, err := parseHeader(br)
	if err != nil {
		return nil, err
	}
	var pts []splat.Point
	for _, elem := range h.elements {
		if elem.name != "vertex" {
			if err := skipElement(br, h.format, elem); err != nil {
				return pts, err
			}
			continue
		}
		layout, err := resolveLayout(elem.props)
		if err != nil {
			return nil, err
		}
		pts = make([]splat.Point, 0, elem.count)
		values := make([]float64, len(elem.props))
		for i := 0; i < elem.count; i++ {
			if err := readRecord(br, h.format, elem.props, values); err != nil {
				if logger != nil {
					logger.Warnf("ply: stopping at vertex %d of %d: %v", i, elem.count, err)
				}
				return pts, nil
			}
			pts = append(pts, buildPoint(layout, values))
		}
	}
	if pts == nil {
		return nil, errors.Wrap(splat.ErrInvalidHeader, "no vertex element")
	}
	return pts, nil
}

func buildPoint(l *vertexLayout, values []float64) splat.Point {
	var pt splat.Point
	var dc [3]float64
	var rgb [3]float64
	var rest [45]float64
	var opacity, alpha float64
	var hasOpacity, hasAlpha bool
	pt.Rotation = [4]float32{0, 0, 0, 1}

	for i, f := range l.fields {
		v := values[i]
		switch f {
		case fieldX:
			pt.Position.X = v
		case fieldY:
			pt.Position.Y = v
		case fieldZ:
			pt.Position.Z = v
		case fieldDC0:
			dc[0] = v
		case fieldDC1:
			dc[1] = v
		case fieldDC2:
			dc[2] = v
		case fieldRed:
			rgb[0] = v
		case fieldGreen:
			rgb[1] = v
		case fieldBlue:
			rgb[2] = v
		case fieldOpacity:
			opacity = v
			hasOpacity = true
		case fieldAlpha:
			alpha = v
			hasAlpha = true
		case fieldScale0:
			pt.Scale.X = v
		case fieldScale1:
			pt.Scale.Y = v
		case fieldScale2:
			pt.Scale.Z = v
		case fieldRotW:
			pt.Rotation[3] = float32(v)
		case fieldRotX:
			pt.Rotation[0] = float32(v)
		case fieldRotY:
			pt.Rotation[1] = float32(v)
		case fieldRotZ:
			pt.Rotation[2] = float32(v)
		case fieldRest:
			rest[l.restIdx[i]] = v
		}
	}

	if l.hasScale {
		pt.ScaleSpace = splat.ScaleExponent
	}
	pt.NormalizeRotation()

	switch {
	case hasOpacity:
		pt.Opacity = float32(opacity)
		pt.OpacitySpace = splat.OpacityLogit
	case hasAlpha && l.hasAlphaB:
		pt.Opacity = float32(alpha) / 255
		pt.OpacitySpace = splat.OpacityLinear
	case hasAlpha:
		pt.Opacity = float32(alpha)
		pt.OpacitySpace = splat.OpacityLinear
	default:
		pt.Opacity = 1
		pt.OpacitySpace = splat.OpacityLinear
	}

	switch {
	case l.hasDC:
		per := l.restPerChannel()
		coeffs := make([][3]float32, 1+per)
		coeffs[0] = [3]float32{float32(dc[0]), float32(dc[1]), float32(dc[2])}
		full := l.restCount / 3
		for k := 0; k < per; k++ {
			coeffs[1+k] = [3]float32{
				float32(rest[k]),
				float32(rest[full+k]),
				float32(rest[2*full+k]),
			}
		}
		pt.Color = splat.NewSHColor(coeffs)
	case l.hasColor && l.byteColor:
		pt.Color = splat.Color{
			Repr: splat.ColorRGB8,
			RGB8: [3]uint8{clampByte(rgb[0]), clampByte(rgb[1]), clampByte(rgb[2])},
		}
	case l.hasColor:
		pt.Color = splat.Color{
			Repr: splat.ColorFloatRGB,
			RGB:  [3]float32{float32(rgb[0]), float32(rgb[1]), float32(rgb[2])},
		}
	default:
		pt.Color = splat.Color{Repr: splat.ColorFloatRGB, RGB: [3]float32{0.5, 0.5, 0.5}}
	}
	return pt
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	} else if v > 255 {
		return 255
	}
	return uint8(v)
}

func readRecord(br *bufio.Reader, format plyFormat, props []property, out []float64) error {
	if format == formatASCII {
		return readASCIIRecord(br, props, out)
	}
	order := byteOrder(format)
	for i, p := range props {
		if p.isList {
			n, err := readBinaryScalar(br, p.countTyp, order)
			if err != nil {
				return err
			}
			if _, err := io.CopyN(io.Discard, br, int64(n)*int64(typeSizes[p.elemTyp])); err != nil {
				return errors.Wrap(splat.ErrTruncatedData, err.Error())
			}
			out[i] = 0
			continue
		}
		v, err := readBinaryScalar(br, p.typ, order)
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}

func byteOrder(format plyFormat) binary.ByteOrder {
	if format == formatBinaryBE {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

func readBinaryScalar(br *bufio.Reader, t propType, order binary.ByteOrder) (float64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(br, buf[:typeSizes[t]]); err != nil {
		return 0, errors.Wrap(splat.ErrTruncatedData, err.Error())
	}
	switch t {
	case typeInt8:
		return float64(int8(buf[0])), nil
	case typeUint8:
		return float64(buf[0]), nil
	case typeInt16:
		return float64(int16(order.Uint16(buf[:2]))), nil
	case typeUint16:
		return float64(order.Uint16(buf[:2])), nil
	case typeInt32:
		return float64(int32(order.Uint32(buf[:4]))), nil
	case typeUint32:
		return float64(order.Uint32(buf[:4])), nil
	case typeFloat32:
		return float64(math.Float32frombits(order.Uint32(buf[:4]))), nil
	default:
		return math.Float64frombits(order.Uint64(buf[:8])), nil
	}
}

func readASCIIRecord(br *bufio.Reader, props []property, out []float64) error {
	line, err := readHeaderLine(br)
	if err != nil {
		return errors.Wrap(splat.ErrTruncatedData, "unexpected end of ascii data")
	}
	fields := strings.Fields(line)
	fi := 0
	next := func() (float64, error) {
		if fi >= len(fields) {
			return 0, errors.Wrap(splat.ErrTruncatedData, "short ascii record")
		}
		v, err := strconv.ParseFloat(fields[fi], 64)
		fi++
		if err != nil {
			return 0, errors.Wrapf(splat.ErrInvalidData, "bad ascii value %q", fields[fi-1])
		}
		return v, nil
	}
	for i, p := range props {
		if p.isList {
			n, err := next()
			if err != nil {
				return err
			}
			for j := 0; j < int(n); j++ {
				if _, err := next(); err != nil {
					return err
				}
			}
			out[i] = 0
			continue
		}
		v, err := next()
		if err != nil {
			return err
		}
		out[i] = v
	}
	return nil
}

func skipElement(br *bufio.Reader, format plyFormat, elem element) error {
	values := make([]float64, len(elem.props))
	for i := 0; i < elem.count; i++ {
		if err := readRecord(br, format, elem.props, values); err != nil {
			return err
		}
	}
	return nil
}

// DecodeFile reads and decodes a .ply file.
func DecodeFile(path string, logger golog.Logger) ([]splat.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "reading %q: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f, logger)
}
