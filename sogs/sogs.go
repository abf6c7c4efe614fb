// Package sogs decodes the SOGS texture-plane Gaussian splat formats:
// per-splat attributes stored as pixels in WebP rasters described by a
// meta.json sidecar. Version 1 documents de-normalize plane bytes inside
// per-channel bounds; version 2 documents add a count envelope, 256-entry
// codebooks indexed by the plane bytes, and a single-file .sog ZIP bundle.
//
// All attribute math reads raw integer bytes before normalizing; planes are
// never sampled as floats.
package sogs

import (
	"math"
	"os"
	"path/filepath"
	"runtime"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.viam.com/splat/quant"
	"go.viam.com/splat/splat"
)

const (
	// shPaletteColumns is the centroid palette layout: 64 label columns
	// of 15 coefficients each per texture row.
	shPaletteColumns = 64
	shCoeffsPerLabel = 15

	quatModeBase = 252
)

// LoadPlanes decodes every plane the document references, concurrently
// since planes are independent read-only inputs. Required planes fail the
// load; shN planes fail soft (they are dropped, and Decode then disables
// SH).
func LoadPlanes(meta *Metadata, source PlaneSource, logger golog.Logger) (PlaneSet, error) {
	required := map[string]bool{}
	for _, name := range meta.Means.Files {
		required[name] = true
	}
	for _, attr := range []*Attribute{meta.Scales, meta.Quats, meta.SH0} {
		for _, name := range attr.Files {
			required[name] = true
		}
	}

	names := meta.planeNames()
	planes := make([]*TexturePlane, len(names))
	loadErrs := make([]error, len(names))
	var group errgroup.Group
	group.SetLimit(runtime.GOMAXPROCS(0))
	for i, name := range names {
		i, name := i, name // per-iteration copies for pre-1.22 loop semantics
		group.Go(func() error {
			p, err := source.Plane(name)
			if err != nil {
				if required[name] {
					loadErrs[i] = errors.Wrapf(err, "plane %q", name)
					return nil
				}
				if logger != nil {
					logger.Warnf("sogs: optional plane %q unavailable: %v", name, err)
				}
				return nil
			}
			planes[i] = p
			return nil
		})
	}
	// Goroutines report through loadErrs so a single pass surfaces every
	// missing required plane rather than the first one it hit.
	_ = group.Wait()
	if err := multierr.Combine(loadErrs...); err != nil {
		return nil, err
	}
	set := PlaneSet{}
	for i, name := range names {
		if planes[i] != nil {
			set[name] = planes[i]
		}
	}
	return set, nil
}

// shData is the resolved higher-band SH lookup state, nil when disabled.
type shData struct {
	centroids *TexturePlane
	labels    *TexturePlane
	min, max  float32
	codebook  *quant.Codebook
}

// Decode reconstructs points from a parsed document and its decoded
// planes.
func Decode(meta *Metadata, planes PlaneSet, logger golog.Logger) ([]splat.Point, error) {
	v2 := meta.Version >= 2

	meansLo, err := planes.Plane(meta.Means.Files[0])
	if err != nil {
		return nil, err
	}
	meansHi, err := planes.Plane(meta.Means.Files[1])
	if err != nil {
		return nil, err
	}
	scales, err := planes.Plane(meta.Scales.Files[0])
	if err != nil {
		return nil, err
	}
	quats, err := planes.Plane(meta.Quats.Files[0])
	if err != nil {
		return nil, err
	}
	sh0, err := planes.Plane(meta.SH0.Files[0])
	if err != nil {
		return nil, err
	}
	for _, p := range []*TexturePlane{meansHi, scales, quats, sh0} {
		if p.Width != meansLo.Width || p.Height != meansLo.Height {
			return nil, errors.Wrapf(splat.ErrInvalidMetadata,
				"texture dimensions disagree: %dx%d vs %dx%d",
				p.Width, p.Height, meansLo.Width, meansLo.Height)
		}
	}

	count := meansLo.Capacity()
	if meta.Count > 0 {
		if meta.Count > meansLo.Capacity() {
			return nil, errors.Wrapf(splat.ErrInvalidMetadata,
				"count %d exceeds texture capacity %d", meta.Count, meansLo.Capacity())
		}
		count = meta.Count
	}

	sh := resolveSH(meta, planes, meansLo, v2, logger)

	var scaleCB, sh0CB, shNCB quant.Codebook
	if v2 {
		scaleCB = quant.NewCodebook(meta.Scales.Codebook)
		sh0CB = quant.NewCodebook(meta.SH0.Codebook)
		if sh != nil {
			shNCB = quant.NewCodebook(meta.SHN.Codebook)
			sh.codebook = &shNCB
		}
	}

	pts := make([]splat.Point, count)
	var group errgroup.Group
	workers := runtime.GOMAXPROCS(0)
	if workers > count {
		workers = 1
	}
	if workers < 1 {
		workers = 1
	}
	per := (count + workers - 1) / workers
	for w := 0; w < workers; w++ {
		start, end := w*per, (w+1)*per
		if end > count {
			end = count
		}
		if start >= end {
			break
		}
		group.Go(func() error {
			for i := start; i < end; i++ {
				pt := &pts[i]
				decodeMeans(pt, meta.Means, meansLo, meansHi, i)
				decodeQuat(pt, quats, i)
				if v2 {
					sr, sg, sb, _, _ := scales.Sample(i)
					pt.Scale.X = float64(scaleCB.Lookup(sr))
					pt.Scale.Y = float64(scaleCB.Lookup(sg))
					pt.Scale.Z = float64(scaleCB.Lookup(sb))
				} else {
					sr, sg, sb, _, _ := scales.Sample(i)
					pt.Scale.X = float64(lerpByte(meta.Scales, 0, sr))
					pt.Scale.Y = float64(lerpByte(meta.Scales, 1, sg))
					pt.Scale.Z = float64(lerpByte(meta.Scales, 2, sb))
				}
				pt.ScaleSpace = splat.ScaleExponent

				cr, cg, cb, ca, _ := sh0.Sample(i)
				var dc [3]float32
				if v2 {
					dc = [3]float32{sh0CB.Lookup(cr), sh0CB.Lookup(cg), sh0CB.Lookup(cb)}
					pt.Opacity = float32(ca) / 255
					pt.OpacitySpace = splat.OpacityLinear
				} else {
					dc = [3]float32{
						lerpByte(meta.SH0, 0, cr),
						lerpByte(meta.SH0, 1, cg),
						lerpByte(meta.SH0, 2, cb),
					}
					pt.Opacity = lerpByte(meta.SH0, 3, ca)
					pt.OpacitySpace = splat.OpacityLogit
				}

				if sh != nil {
					pt.Color = decodeSHColor(sh, dc, i)
				} else {
					pt.Color = splat.Color{
						Repr: splat.ColorFloatRGB,
						RGB: [3]float32{
							0.5 + dc[0]*splat.SH0Norm,
							0.5 + dc[1]*splat.SH0Norm,
							0.5 + dc[2]*splat.SH0Norm,
						},
					}
				}
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return pts, nil
}

// resolveSH validates the optional higher-band SH data. Any failure
// disables SH for the scene rather than aborting it.
func resolveSH(meta *Metadata, planes PlaneSet, base *TexturePlane, v2 bool, logger golog.Logger) *shData {
	if meta.SHN == nil {
		return nil
	}
	warn := func(format string, args ...interface{}) {
		if logger != nil {
			logger.Warnf("sogs: disabling SH: "+format, args...)
		}
	}
	if len(meta.SHN.Files) < 2 {
		warn("shN needs centroid and label planes")
		return nil
	}
	centroids, err := planes.Plane(meta.SHN.Files[0])
	if err != nil {
		warn("%v", err)
		return nil
	}
	labels, err := planes.Plane(meta.SHN.Files[1])
	if err != nil {
		warn("%v", err)
		return nil
	}
	if labels.Width != base.Width || labels.Height != base.Height {
		warn("label plane is %dx%d, base planes are %dx%d",
			labels.Width, labels.Height, base.Width, base.Height)
		return nil
	}
	if centroids.Width < shPaletteColumns*shCoeffsPerLabel {
		warn("centroid plane width %d below palette row width %d",
			centroids.Width, shPaletteColumns*shCoeffsPerLabel)
		return nil
	}
	sh := &shData{centroids: centroids, labels: labels}
	if v2 {
		if len(meta.SHN.Codebook) == 0 {
			warn("version 2 shN missing codebook")
			return nil
		}
	} else {
		if len(meta.SHN.Mins) < 1 || len(meta.SHN.Maxs) < 1 {
			warn("shN missing bounds")
			return nil
		}
		sh.min = float32(meta.SHN.Mins[0])
		sh.max = float32(meta.SHN.Maxs[0])
	}
	return sh
}

// decodeMeans reconstructs a position from split low/high byte planes: a
// 16-bit lerp inside the channel bounds, then the sign-preserving inverse
// log transform.
func decodeMeans(pt *splat.Point, attr *Attribute, lo, hi *TexturePlane, i int) {
	lr, lg, lb, _, _ := lo.Sample(i)
	hr, hg, hb, _, _ := hi.Sample(i)
	for c, pair := range [3][2]byte{{lr, hr}, {lg, hg}, {lb, hb}} {
		v16 := uint32(pair[0]) | uint32(pair[1])<<8
		val := quant.Lerp(
			float32(attr.Mins[c]), float32(attr.Maxs[c]),
			float32(v16)/65535)
		world := math.Copysign(math.Expm1(math.Abs(float64(val))), float64(val))
		switch c {
		case 0:
			pt.Position.X = world
		case 1:
			pt.Position.Y = world
		case 2:
			pt.Position.Z = world
		}
	}
}

// decodeQuat unpacks the packed-smallest-three quaternion plane: RGB carry
// the three quantized components, alpha-252 selects the dropped one.
func decodeQuat(pt *splat.Point, quats *TexturePlane, i int) {
	r, g, b, a, _ := quats.Sample(i)
	mode := int(a) - quatModeBase
	if mode < 0 || mode > 3 {
		mode = 3
	}
	comps := [3]float32{quatComp(r), quatComp(g), quatComp(b)}
	var q [4]float32
	var sumSq float64
	ci := 0
	for j := 0; j < 4; j++ {
		if j == mode {
			continue
		}
		q[j] = comps[ci]
		sumSq += float64(comps[ci]) * float64(comps[ci])
		ci++
	}
	q[mode] = float32(math.Sqrt(math.Max(0, 1-sumSq)))
	pt.Rotation = q
}

func quatComp(b byte) float32 {
	return (float32(b)/255 - 0.5) * math.Sqrt2
}

// decodeSHColor assembles a 16-coefficient SH color: the DC term plus 15
// palette coefficients addressed by a 16-bit label.
func decodeSHColor(sh *shData, dc [3]float32, i int) splat.Color {
	lr, lg, _, _, _ := sh.labels.Sample(i)
	label := int(lr) + int(lg)*256
	cx := (label % shPaletteColumns) * shCoeffsPerLabel
	cy := label / shPaletteColumns

	coeffs := make([][3]float32, 1+shCoeffsPerLabel)
	coeffs[0] = dc
	for k := 0; k < shCoeffsPerLabel; k++ {
		r, g, b, _, ok := sh.centroids.At(cx+k, cy)
		if !ok {
			continue
		}
		if sh.codebook != nil {
			coeffs[1+k] = [3]float32{
				sh.codebook.Lookup(r),
				sh.codebook.Lookup(g),
				sh.codebook.Lookup(b),
			}
		} else {
			coeffs[1+k] = [3]float32{
				quant.Lerp(sh.min, sh.max, float32(r)/255),
				quant.Lerp(sh.min, sh.max, float32(g)/255),
				quant.Lerp(sh.min, sh.max, float32(b)/255),
			}
		}
	}
	return splat.Color{Repr: splat.ColorSH, SH: coeffs}
}

func lerpByte(attr *Attribute, channel int, b byte) float32 {
	return quant.Lerp(
		float32(attr.Mins[channel]), float32(attr.Maxs[channel]),
		float32(b)/255)
}

// DecodeFile decodes a loose-files SOGS scene given its meta.json path.
// Sibling texture planes resolve against the metadata's directory and are
// cached by absolute path when a cache is supplied.
func DecodeFile(metaPath string, cache *TextureCache, logger golog.Logger) ([]splat.Point, error) {
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "reading %q: %v", metaPath, err)
	}
	meta, err := ParseMetadata(data)
	if err != nil {
		return nil, err
	}
	source := NewDirSource(filepath.Dir(metaPath))
	planes, err := loadMaybeCached(metaPath, meta, source, cache, logger)
	if err != nil {
		return nil, err
	}
	return Decode(meta, planes, logger)
}

// DecodeBundle decodes a single-file .sog container.
func DecodeBundle(path string, cache *TextureCache, logger golog.Logger) ([]splat.Point, error) {
	bundle, err := OpenBundle(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = bundle.Close() }()
	meta, err := bundle.Metadata()
	if err != nil {
		return nil, err
	}
	planes, err := loadMaybeCached(path, meta, bundle, cache, logger)
	if err != nil {
		return nil, err
	}
	return Decode(meta, planes, logger)
}

func loadMaybeCached(path string, meta *Metadata, source PlaneSource, cache *TextureCache, logger golog.Logger) (PlaneSet, error) {
	if cache == nil {
		return LoadPlanes(meta, source, logger)
	}
	key := path
	if abs, err := filepath.Abs(path); err == nil {
		key = abs
	}
	return cache.LoadOrStore(key, func() (PlaneSet, error) {
		return LoadPlanes(meta, source, logger)
	})
}
