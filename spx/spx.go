// Package spx decodes the SPX block-stream Gaussian splat format: a fixed
// 128-byte header followed by variable-length data blocks, each optionally
// gzip-compressed on its own. Base-attribute blocks carry whole points;
// spherical harmonics arrive later as incremental band blocks merged into
// points already produced, so blocks must be processed strictly in file
// order.
package spx

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"io"
	"math"
	"os"

	"github.com/edaniels/golog"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"go.viam.com/splat/quant"
	"go.viam.com/splat/splat"
)

const (
	headerSize    = 128
	subHeaderSize = 8

	// Block format ids.
	formatBasic   = 0
	formatBasic20 = 20
	formatSH1     = 1
	formatSH2     = 2
	formatSH3     = 3

	// Per-gaussian sizes inside a base block's parallel arrays.
	posBytes   = 9 // 3 x 24-bit normalized
	scaleBytes = 3
	colorBytes = 4 // RGBA
	rotBytes   = 4
	baseBytes  = posBytes + scaleBytes + colorBytes + rotBytes
)

// Header is the parsed fixed SPX header.
type Header struct {
	Version    uint8
	SplatCount uint32
	MinX, MaxX float32
	MinY, MaxY float32
	MinZ, MaxZ float32
	TopY       float32
	SHDegree   uint8
	Flags      uint8
	Comment    string
}

func parseHeader(data []byte, logger golog.Logger) (Header, error) {
	if len(data) < headerSize {
		return Header{}, errors.Wrapf(splat.ErrTruncatedData,
			"spx header needs %d bytes, have %d", headerSize, len(data))
	}
	if data[0] != 's' || data[1] != 'p' || data[2] != 'x' {
		return Header{}, errors.Wrapf(splat.ErrInvalidMagicNumber,
			"spx magic mismatch: % x", data[:3])
	}
	h := Header{
		Version:    data[3],
		SplatCount: binary.LittleEndian.Uint32(data[4:]),
		MinX:       f32(data[8:]),
		MaxX:       f32(data[12:]),
		MinY:       f32(data[16:]),
		MaxY:       f32(data[20:]),
		MinZ:       f32(data[24:]),
		MaxZ:       f32(data[28:]),
		TopY:       f32(data[32:]),
		SHDegree:   data[36],
		Flags:      data[37],
		Comment:    string(bytes.TrimRight(data[38:98], "\x00")),
	}
	if h.SHDegree > 3 {
		return Header{}, errors.Wrapf(splat.ErrInvalidData,
			"spx SH degree %d out of range", h.SHDegree)
	}
	want := binary.LittleEndian.Uint32(data[124:])
	if got := crc32.ChecksumIEEE(data[:124]); want != 0 && got != want && logger != nil {
		logger.Warnf("spx: header checksum mismatch (have 0x%08x, want 0x%08x)", got, want)
	}
	return h, nil
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// shMergeState tracks the running merge indices for incremental SH blocks.
// Band-1 and band-2 blocks share one index; band-3 blocks use a second
// index so their coefficients append to bands already merged.
type shMergeState struct {
	low  int // format 1 and 2 blocks
	high int // format 3 blocks
}

// Decode parses SPX bytes into points.
func Decode(data []byte, logger golog.Logger) ([]splat.Point, error) {
	h, err := parseHeader(data, logger)
	if err != nil {
		return nil, err
	}
	pts := make([]splat.Point, 0, h.SplatCount)
	var merge shMergeState

	body := data[headerSize:]
	for len(body) > 0 {
		if len(body) < 4 {
			return nil, errors.Wrapf(splat.ErrInsufficientData,
				"spx block length needs 4 bytes, have %d", len(body))
		}
		blockLen := int32(binary.LittleEndian.Uint32(body))
		body = body[4:]
		compressed := blockLen < 0
		size := int(blockLen)
		if compressed {
			size = -size
		}
		if size == 0 {
			continue
		}
		if size > len(body) {
			return nil, errors.Wrapf(splat.ErrInsufficientData,
				"spx block declares %d bytes, have %d", size, len(body))
		}
		payload := body[:size]
		body = body[size:]

		if compressed {
			zr, err := gzip.NewReader(bytes.NewReader(payload))
			if err != nil {
				return nil, errors.Wrap(splat.ErrDecompression, err.Error())
			}
			payload, err = io.ReadAll(zr)
			_ = zr.Close()
			if err != nil {
				return nil, errors.Wrap(splat.ErrDecompression, err.Error())
			}
		}
		if len(payload) < subHeaderSize {
			return nil, errors.Wrapf(splat.ErrInsufficientData,
				"spx block sub-header needs %d bytes, have %d", subHeaderSize, len(payload))
		}
		count := int(binary.LittleEndian.Uint32(payload))
		formatID := binary.LittleEndian.Uint32(payload[4:])
		payload = payload[subHeaderSize:]

		switch formatID {
		case formatBasic, formatBasic20:
			batch, err := decodeBase(&h, count, payload)
			if err != nil {
				return nil, err
			}
			pts = append(pts, batch...)
		case formatSH1, formatSH2, formatSH3:
			mergeSH(pts, &merge, formatID, count, payload, logger)
		default:
			if logger != nil {
				logger.Warnf("spx: skipping block with unknown format id %d", formatID)
			}
		}
	}
	return pts, nil
}

// decodeBase unpacks a format-20/0 base attribute block laid out as
// separate parallel arrays, positions denormalized inside the header
// bounds.
func decodeBase(h *Header, count int, payload []byte) ([]splat.Point, error) {
	if count < 0 || count*baseBytes > len(payload) {
		return nil, errors.Wrapf(splat.ErrInsufficientData,
			"spx base block declares %d gaussians, payload holds %d bytes", count, len(payload))
	}
	positions := payload
	scales := payload[count*posBytes:]
	colors := payload[count*(posBytes+scaleBytes):]
	rotations := payload[count*(posBytes+scaleBytes+colorBytes):]

	pts := make([]splat.Point, count)
	for i := 0; i < count; i++ {
		pt := &pts[i]
		p := positions[i*posBytes:]
		pt.Position.X = float64(lerp24(h.MinX, h.MaxX, p[0], p[1], p[2]))
		pt.Position.Y = float64(lerp24(h.MinY, h.MaxY, p[3], p[4], p[5]))
		pt.Position.Z = float64(lerp24(h.MinZ, h.MaxZ, p[6], p[7], p[8]))

		s := scales[i*scaleBytes:]
		pt.Scale.X = float64(quant.ScaleFromByte(s[0]))
		pt.Scale.Y = float64(quant.ScaleFromByte(s[1]))
		pt.Scale.Z = float64(quant.ScaleFromByte(s[2]))
		pt.ScaleSpace = splat.ScaleExponent

		c := colors[i*colorBytes:]
		pt.Color = splat.Color{Repr: splat.ColorRGB8, RGB8: [3]uint8{c[0], c[1], c[2]}}
		pt.Opacity = float32(c[3]) / 255
		pt.OpacitySpace = splat.OpacityLinear

		r := rotations[i*rotBytes:]
		pt.Rotation = [4]float32{
			quant.QuatComponentFromByte(r[1]),
			quant.QuatComponentFromByte(r[2]),
			quant.QuatComponentFromByte(r[3]),
			quant.QuatComponentFromByte(r[0]),
		}
		pt.NormalizeRotation()
	}
	return pts, nil
}

// shCoeffCount is how many coefficient triples a band block carries per
// gaussian: band 1 alone, bands 1+2, or band 3.
func shCoeffCount(formatID uint32) int {
	switch formatID {
	case formatSH1:
		return 3
	case formatSH2:
		return 8
	default:
		return 7
	}
}

// mergeSH folds an incremental SH block into points already produced by a
// base block. A block whose declared count does not match the available
// bytes is skipped with a warning rather than aborting the file.
func mergeSH(pts []splat.Point, merge *shMergeState, formatID uint32, count int, payload []byte, logger golog.Logger) {
	dim := shCoeffCount(formatID)
	if count < 0 || count*dim*3 > len(payload) {
		if logger != nil {
			logger.Warnf("spx: SH block (format %d) declares %d gaussians but holds %d bytes; skipping",
				formatID, count, len(payload))
		}
		return
	}
	idx := &merge.low
	if formatID == formatSH3 {
		idx = &merge.high
	}
	for i := 0; i < count; i++ {
		target := *idx + i
		if target >= len(pts) {
			if logger != nil {
				logger.Warnf("spx: SH block (format %d) overruns %d decoded points; truncating merge",
					formatID, len(pts))
			}
			break
		}
		pt := &pts[target]
		if pt.Color.Repr != splat.ColorSH {
			rgb := pt.Color.AsLinearRGB()
			pt.Color = splat.Color{
				Repr: splat.ColorSH,
				SH: [][3]float32{{
					splat.DCFromLinearRGB(rgb[0]),
					splat.DCFromLinearRGB(rgb[1]),
					splat.DCFromLinearRGB(rgb[2]),
				}},
			}
		}
		b := payload[i*dim*3:]
		coeffs := make([][3]float32, dim)
		for k := 0; k < dim; k++ {
			coeffs[k] = [3]float32{
				quant.SHFromByte(b[k*3]),
				quant.SHFromByte(b[k*3+1]),
				quant.SHFromByte(b[k*3+2]),
			}
		}
		if formatID == formatSH3 {
			// Band 3 appends after bands 1/2.
			pt.Color.SH = append(pt.Color.SH, coeffs...)
		} else {
			pt.Color.SH = append(pt.Color.SH[:1], coeffs...)
		}
	}
	*idx += count
}

func lerp24(min, max float32, b0, b1, b2 byte) float32 {
	v := uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16
	t := float32(v) / float32(1<<24-1)
	return quant.Lerp(min, max, t)
}

// DecodeFile reads and decodes an .spx file.
func DecodeFile(path string, logger golog.Logger) ([]splat.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "reading %q: %v", path, err)
	}
	return Decode(data, logger)
}
