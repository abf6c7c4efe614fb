// Package dotsplat decodes the ".splat" format: a bare stream of fixed
// 32-byte little-endian records, one per splat, with no header. The stream
// is decoded through a reusable fixed-size buffer so arbitrarily large
// scenes never buffer fully in memory.
package dotsplat

import (
	"encoding/binary"
	"io"
	"math"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"go.viam.com/splat/quant"
	"go.viam.com/splat/splat"
)

const (
	// RecordSize is the fixed on-disk size of one splat.
	RecordSize = 32

	// bufRecords is how many records the reusable read buffer holds.
	bufRecords = 512
)

func decodeRecord(rec []byte) splat.Point {
	var pt splat.Point
	pt.Position.X = float64(f32(rec[0:]))
	pt.Position.Y = float64(f32(rec[4:]))
	pt.Position.Z = float64(f32(rec[8:]))
	pt.Scale.X = float64(f32(rec[12:]))
	pt.Scale.Y = float64(f32(rec[16:]))
	pt.Scale.Z = float64(f32(rec[20:]))
	pt.ScaleSpace = splat.ScaleLinear
	pt.Color = splat.Color{
		Repr: splat.ColorRGB8,
		RGB8: [3]uint8{rec[24], rec[25], rec[26]},
	}
	pt.Opacity = float32(rec[27]) / 255
	pt.OpacitySpace = splat.OpacityLinear
	pt.Rotation = [4]float32{
		quant.QuatComponentFromByte(rec[29]),
		quant.QuatComponentFromByte(rec[30]),
		quant.QuatComponentFromByte(rec[31]),
		quant.QuatComponentFromByte(rec[28]),
	}
	pt.NormalizeRotation()
	return pt
}

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// DecodeStream pushes the record stream through a handler in batches. The
// read buffer is fixed size; leftover bytes after each full-record batch
// are shifted left and refilled.
func DecodeStream(r io.Reader, logger golog.Logger, h splat.Handler) {
	h.Started(-1)
	buf := make([]byte, bufRecords*RecordSize)
	filled := 0
	for {
		n, err := r.Read(buf[filled:])
		filled += n
		whole := filled / RecordSize * RecordSize
		if whole > 0 {
			batch := make([]splat.Point, 0, whole/RecordSize)
			for off := 0; off < whole; off += RecordSize {
				batch = append(batch, decodeRecord(buf[off:off+RecordSize]))
			}
			h.Points(batch)
			copy(buf, buf[whole:filled])
			filled -= whole
		}
		if err == io.EOF {
			if filled != 0 && logger != nil {
				logger.Warnf("dotsplat: dropping %d trailing bytes of a partial record", filled)
			}
			h.Finished()
			return
		}
		if err != nil {
			h.Failed(errors.Wrap(splat.ErrTruncatedData, err.Error()))
			return
		}
	}
}

// Decode reads the whole record stream into a slice.
func Decode(r io.Reader, logger golog.Logger) ([]splat.Point, error) {
	var collect splat.SliceHandler
	DecodeStream(r, logger, &collect)
	if collect.Err != nil {
		return nil, collect.Err
	}
	if collect.Pts == nil {
		return []splat.Point{}, nil
	}
	return collect.Pts, nil
}

// DecodeFile reads and decodes a .splat file.
func DecodeFile(path string, logger golog.Logger) ([]splat.Point, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "reading %q: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	return Decode(f, logger)
}
