// Package spz decodes the SPZ compressed Gaussian splat format: a 16-byte
// header followed by parallel per-attribute byte arrays, usually wrapped in
// a gzip frame.
package spz

import (
	"bytes"
	"io"
	"math"
	"os"
	"runtime"

	"github.com/edaniels/golog"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"go.viam.com/splat/quant"
	"go.viam.com/splat/splat"
)

const (
	headerSize = 16
	magic      = 0x5053474e // "NGSP" little-endian
	maxPoints  = 10_000_000

	flagAntialiased      = 1 << 0
	flagFloat16Positions = 1 << 1

	// gzipScanLimit bounds the recovery scan for a gzip magic that some
	// producers bury behind prepended junk bytes.
	gzipScanLimit = 1024
)

var shDims = [4]int{0, 3, 8, 15}

// Header is the parsed fixed SPZ header.
type Header struct {
	Version        uint32
	NumPoints      uint32
	SHDegree       uint8
	FractionalBits uint8
	Antialiased    bool
	Float16        bool
}

func parseHeader(data []byte) (Header, error) {
	if len(data) < headerSize {
		return Header{}, errors.Wrapf(splat.ErrTruncatedData,
			"spz header needs %d bytes, have %d", headerSize, len(data))
	}
	if got := le32(data); got != magic {
		return Header{}, errors.Wrapf(splat.ErrInvalidHeader,
			"spz magic mismatch: 0x%08x", got)
	}
	h := Header{
		Version:        le32(data[4:]),
		NumPoints:      le32(data[8:]),
		SHDegree:       data[12],
		FractionalBits: data[13],
		Antialiased:    data[14]&flagAntialiased != 0,
		Float16:        data[14]&flagFloat16Positions != 0,
	}
	if h.NumPoints > maxPoints {
		return Header{}, errors.Wrapf(splat.ErrInvalidData,
			"spz point count %d exceeds limit %d", h.NumPoints, maxPoints)
	}
	if h.SHDegree > 3 {
		return Header{}, errors.Wrapf(splat.ErrInvalidData,
			"spz SH degree %d out of range", h.SHDegree)
	}
	return h, nil
}

func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// maybeGunzip transparently decompresses gzip-framed input. The magic is
// also tolerated at a nonzero offset within the first KiB to survive
// prepended junk from misbehaving producers.
func maybeGunzip(data []byte, logger golog.Logger) ([]byte, error) {
	start := -1
	if len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b {
		start = 0
	} else {
		limit := len(data) - 2
		if limit > gzipScanLimit {
			limit = gzipScanLimit
		}
		for i := 1; i < limit; i++ {
			if data[i] == 0x1f && data[i+1] == 0x8b && data[i+2] == 0x08 {
				start = i
				break
			}
		}
		if start > 0 && logger != nil {
			logger.Warnf("spz: gzip magic found at offset %d; skipping leading junk", start)
		}
	}
	if start < 0 {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data[start:]))
	if err != nil {
		return nil, errors.Wrap(splat.ErrDecompression, err.Error())
	}
	defer func() { _ = zr.Close() }()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, errors.Wrap(splat.ErrDecompression, err.Error())
	}
	return out, nil
}

// channel describes one parallel attribute array in the SPZ body.
type channel struct {
	offset   int
	perPoint int
}

// Decode parses SPZ bytes (raw or gzip-framed) into points. Truncated
// channel arrays reduce the effective point count instead of failing.
func Decode(data []byte, logger golog.Logger) ([]splat.Point, error) {
	data, err := maybeGunzip(data, logger)
	if err != nil {
		return nil, err
	}
	h, err := parseHeader(data)
	if err != nil {
		return nil, err
	}
	if h.NumPoints == 0 {
		return []splat.Point{}, nil
	}

	n := int(h.NumPoints)
	posSize := 9
	if h.Float16 {
		posSize = 6
	}
	shDim := shDims[h.SHDegree]

	body := data[headerSize:]
	chans := make([]channel, 0, 6)
	offset := 0
	for _, per := range []int{posSize, 1, 3, 3, 3, shDim * 3} {
		if per == 0 {
			continue
		}
		chans = append(chans, channel{offset: offset, perPoint: per})
		offset += per * n
	}
	positions, alphas, colors, scales, rotations := chans[0], chans[1], chans[2], chans[3], chans[4]
	var sh channel
	if shDim > 0 {
		sh = chans[5]
	}

	// Truncation tolerance: the effective count is the minimum the bytes
	// support across channels.
	effective := n
	for _, c := range chans {
		avail := len(body) - c.offset
		if avail < 0 {
			avail = 0
		}
		if supported := avail / c.perPoint; supported < effective {
			effective = supported
		}
	}
	if effective < n && logger != nil {
		logger.Warnf("spz: truncated input; decoding %d of %d declared points", effective, n)
	}
	if effective == 0 {
		return []splat.Point{}, nil
	}

	pts := make([]splat.Point, effective)
	var group errgroup.Group
	workers := runtime.GOMAXPROCS(0)
	if workers > effective {
		workers = effective
	}
	per := (effective + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start, end := w*per, (w+1)*per
		if end > effective {
			end = effective
		}
		if start >= end {
			break
		}
		group.Go(func() error {
			for i := start; i < end; i++ {
				pt := &pts[i]
				if h.Float16 {
					p := body[positions.offset+i*6:]
					pt.Position.X = float64(quant.Float16(uint16(p[0]) | uint16(p[1])<<8))
					pt.Position.Y = float64(quant.Float16(uint16(p[2]) | uint16(p[3])<<8))
					pt.Position.Z = float64(quant.Float16(uint16(p[4]) | uint16(p[5])<<8))
				} else {
					p := body[positions.offset+i*9:]
					pt.Position.X = float64(quant.Fixed24(p[0], p[1], p[2], h.FractionalBits))
					pt.Position.Y = float64(quant.Fixed24(p[3], p[4], p[5], h.FractionalBits))
					pt.Position.Z = float64(quant.Fixed24(p[6], p[7], p[8], h.FractionalBits))
				}

				pt.Opacity = float32(body[alphas.offset+i]) / 255
				pt.OpacitySpace = splat.OpacityLinear

				s := body[scales.offset+i*3:]
				pt.Scale.X = float64(quant.ScaleFromByte(s[0]))
				pt.Scale.Y = float64(quant.ScaleFromByte(s[1]))
				pt.Scale.Z = float64(quant.ScaleFromByte(s[2]))
				pt.ScaleSpace = splat.ScaleExponent

				r := body[rotations.offset+i*3:]
				x := quant.QuatComponentFromByte(r[0])
				y := quant.QuatComponentFromByte(r[1])
				z := quant.QuatComponentFromByte(r[2])
				ww := 1 - float64(x*x+y*y+z*z)
				if ww < 0 {
					ww = 0
				}
				pt.Rotation = [4]float32{x, y, z, sqrt32(ww)}

				c := body[colors.offset+i*3:]
				coeffs := make([][3]float32, 1+shDim)
				coeffs[0] = [3]float32{
					quant.ColorFromByte(c[0]),
					quant.ColorFromByte(c[1]),
					quant.ColorFromByte(c[2]),
				}
				if shDim > 0 {
					sb := body[sh.offset+i*shDim*3:]
					for k := 0; k < shDim; k++ {
						coeffs[1+k] = [3]float32{
							quant.SHFromByte(sb[k*3]),
							quant.SHFromByte(sb[k*3+1]),
							quant.SHFromByte(sb[k*3+2]),
						}
					}
				}
				pt.Color = splat.NewSHColor(coeffs)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return pts, nil
}

func sqrt32(v float64) float32 {
	return float32(math.Sqrt(v))
}

// DecodeFile reads and decodes an .spz or .spz.gz file.
func DecodeFile(path string, logger golog.Logger) ([]splat.Point, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "reading %q: %v", path, err)
	}
	return Decode(data, logger)
}
