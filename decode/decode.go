// Package decode classifies splat resources by format and dispatches them
// to the right decoder, exposing one pull surface (Load) and one push
// surface (Stream) over the whole format family.
package decode

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/edaniels/golog"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"

	"go.viam.com/splat/dotsplat"
	"go.viam.com/splat/gltf"
	"go.viam.com/splat/ply"
	"go.viam.com/splat/sogs"
	"go.viam.com/splat/splat"
	"go.viam.com/splat/spx"
	"go.viam.com/splat/spz"
)

// Format is the closed set of supported on-disk encodings.
type Format int

const (
	// FormatUnknown means no detection rule matched.
	FormatUnknown Format = iota
	// FormatPLY is the PLY property format, ascii or binary.
	FormatPLY
	// FormatDotSplat is the headerless 32-byte-record ".splat" format.
	FormatDotSplat
	// FormatSPZ is the gzip-framed SPZ format.
	FormatSPZ
	// FormatSPX is the block-stream SPX format.
	FormatSPX
	// FormatSOGS is a loose-files SOGS scene rooted at a meta.json.
	FormatSOGS
	// FormatSOGBundle is a single-file SOGS v2 container (.sog or a ZIP
	// archive with the same layout).
	FormatSOGBundle
	// FormatGLTF is a glTF/GLB asset carrying splat primitives.
	FormatGLTF
)

func (f Format) String() string {
	switch f {
	case FormatPLY:
		return "ply"
	case FormatDotSplat:
		return "splat"
	case FormatSPZ:
		return "spz"
	case FormatSPX:
		return "spx"
	case FormatSOGS:
		return "sogs"
	case FormatSOGBundle:
		return "sog"
	case FormatGLTF:
		return "gltf"
	}
	return "unknown"
}

// probeLimit bounds how much of an ambiguous file the detector reads.
const probeLimit = 1 << 20

// Detect classifies a resource by extension, falling back to a short
// content probe for the ambiguous extensions (.json, .zip, .gz).
func Detect(path string) (Format, error) {
	lower := strings.ToLower(path)
	switch filepath.Ext(lower) {
	case ".ply":
		return FormatPLY, nil
	case ".splat":
		return FormatDotSplat, nil
	case ".spz":
		return FormatSPZ, nil
	case ".spx":
		return FormatSPX, nil
	case ".gltf", ".glb":
		return FormatGLTF, nil
	case ".sog":
		return FormatSOGBundle, nil
	case ".gz":
		if strings.HasSuffix(lower, ".spz.gz") {
			return FormatSPZ, nil
		}
		return probeGzip(path)
	case ".zip":
		return probeZip(path)
	case ".json":
		return probeJSON(path)
	}
	return FormatUnknown, errors.Wrapf(splat.ErrCannotDetermineFormat,
		"no rule for %q", path)
}

func probeFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "probing %q: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, probeLimit))
	if err != nil {
		return nil, errors.Wrapf(splat.ErrCannotDetermineFormat, "probing %q: %v", path, err)
	}
	return data, nil
}

// probeGzip peeks inside a bare .gz for the SPZ magic.
func probeGzip(path string) (Format, error) {
	data, err := probeFile(path)
	if err != nil {
		return FormatUnknown, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err == nil {
		var head [4]byte
		if _, err := io.ReadFull(zr, head[:]); err == nil &&
			head[0] == 'N' && head[1] == 'G' && head[2] == 'S' && head[3] == 'P' {
			_ = zr.Close()
			return FormatSPZ, nil
		}
		_ = zr.Close()
	}
	return FormatUnknown, errors.Wrapf(splat.ErrCannotDetermineFormat,
		"%q is gzip but not a known payload", path)
}

// probeZip accepts an archive only if it holds a meta.json plus at least
// one .webp plane.
func probeZip(path string) (Format, error) {
	data, err := probeWholeFile(path)
	if err != nil {
		return FormatUnknown, err
	}
	if sogs.ProbeZip(data) {
		return FormatSOGBundle, nil
	}
	return FormatUnknown, errors.Wrapf(splat.ErrCannotDetermineFormat,
		"%q is a zip without SOGS contents", path)
}

// probeWholeFile reads a file fully; zip central directories sit at the
// end, so a bounded prefix is not enough.
func probeWholeFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "probing %q: %v", path, err)
	}
	return data, nil
}

// probeJSON accepts a document only if it carries the SOGS attribute keys.
func probeJSON(path string) (Format, error) {
	data, err := probeFile(path)
	if err != nil {
		return FormatUnknown, err
	}
	if sogs.LooksLikeMetadata(data) {
		return FormatSOGS, nil
	}
	return FormatUnknown, errors.Wrapf(splat.ErrCannotDetermineFormat,
		"%q is json without SOGS keys", path)
}

// Options configures a decode.
type Options struct {
	// Validation selects the point validation mode applied after decode.
	Validation splat.ValidationMode
	// StreamTimeout bounds the blocking pull adapter's wait for the
	// background producer.
	StreamTimeout time.Duration
	// BatchSize is the push-surface batch granularity.
	BatchSize int
	// Cache, when set, shares decoded SOGS texture planes across calls.
	Cache *sogs.TextureCache
}

// DefaultStreamTimeout is long enough for very large scenes on slow media
// while still failing a producer that has genuinely hung.
const DefaultStreamTimeout = 4 * time.Minute

// DefaultOptions returns the options Load and Stream use when given a zero
// Options value.
func DefaultOptions() Options {
	return Options{
		Validation:    splat.ValidationLenient,
		StreamTimeout: DefaultStreamTimeout,
		BatchSize:     4096,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.StreamTimeout <= 0 {
		o.StreamTimeout = def.StreamTimeout
	}
	if o.BatchSize <= 0 {
		o.BatchSize = def.BatchSize
	}
	return o
}

// decodeFunc is one dispatch table entry.
type decodeFunc func(path string, logger golog.Logger, opts Options) ([]splat.Point, error)

var dispatch = map[Format]decodeFunc{
	FormatPLY: func(path string, logger golog.Logger, _ Options) ([]splat.Point, error) {
		return ply.DecodeFile(path, logger)
	},
	FormatDotSplat: func(path string, logger golog.Logger, _ Options) ([]splat.Point, error) {
		return dotsplat.DecodeFile(path, logger)
	},
	FormatSPZ: func(path string, logger golog.Logger, _ Options) ([]splat.Point, error) {
		return spz.DecodeFile(path, logger)
	},
	FormatSPX: func(path string, logger golog.Logger, _ Options) ([]splat.Point, error) {
		return spx.DecodeFile(path, logger)
	},
	FormatSOGS: func(path string, logger golog.Logger, opts Options) ([]splat.Point, error) {
		return sogs.DecodeFile(path, opts.Cache, logger)
	},
	FormatSOGBundle: func(path string, logger golog.Logger, opts Options) ([]splat.Point, error) {
		return sogs.DecodeBundle(path, opts.Cache, logger)
	},
	FormatGLTF: func(path string, logger golog.Logger, _ Options) ([]splat.Point, error) {
		return gltf.DecodeFile(path, logger)
	},
}

// decodePath detects and decodes synchronously on the calling goroutine.
func decodePath(path string, logger golog.Logger, opts Options) ([]splat.Point, error) {
	format, err := Detect(path)
	if err != nil {
		return nil, err
	}
	fn, ok := dispatch[format]
	if !ok {
		return nil, errors.Wrapf(splat.ErrCannotDetermineFormat,
			"no decoder for format %q", format)
	}
	pts, err := fn(path, logger, opts)
	if err != nil {
		return nil, err
	}
	if err := splat.ValidatePoints(pts, opts.Validation); err != nil {
		return nil, err
	}
	return pts, nil
}
