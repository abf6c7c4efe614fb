package sogs

import (
	"image"
	"image/draw"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/image/webp"

	"go.viam.com/splat/splat"
)

// TexturePlane is a decoded raster used as a dense 2-D lookup table of
// per-splat attributes. Splat index i maps to pixel (i % width, i / width).
type TexturePlane struct {
	Width  int
	Height int
	// Pix is RGBA, 4 bytes per pixel, row-major.
	Pix []byte
}

// PlaneFromImage converts any decoded image into a plane, normalizing to
// 8-bit RGBA.
func PlaneFromImage(img image.Image) *TexturePlane {
	b := img.Bounds()
	nrgba, ok := img.(*image.NRGBA)
	if !ok || b.Min != (image.Point{}) {
		nrgba = image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	}
	return &TexturePlane{Width: b.Dx(), Height: b.Dy(), Pix: nrgba.Pix}
}

// DecodeWebP decodes a WebP raster into a plane.
func DecodeWebP(r io.Reader) (*TexturePlane, error) {
	img, err := webp.Decode(r)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrDecompression, "webp: %v", err)
	}
	return PlaneFromImage(img), nil
}

// Capacity is how many splat indices the plane can address.
func (p *TexturePlane) Capacity() int {
	return p.Width * p.Height
}

// Sample returns the RGBA bytes for splat index i.
func (p *TexturePlane) Sample(i int) (r, g, b, a byte, ok bool) {
	if i < 0 || i >= p.Capacity() {
		return 0, 0, 0, 0, false
	}
	off := i * 4
	return p.Pix[off], p.Pix[off+1], p.Pix[off+2], p.Pix[off+3], true
}

// At returns the RGBA bytes at pixel (x, y).
func (p *TexturePlane) At(x, y int) (r, g, b, a byte, ok bool) {
	if x < 0 || y < 0 || x >= p.Width || y >= p.Height {
		return 0, 0, 0, 0, false
	}
	off := (y*p.Width + x) * 4
	return p.Pix[off], p.Pix[off+1], p.Pix[off+2], p.Pix[off+3], true
}
