package sogs

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"

	"go.viam.com/splat/splat"
)

// PlaneSet is a fully decoded set of texture planes keyed by file name.
type PlaneSet map[string]*TexturePlane

// PlaneSource resolves a texture file name from the metadata to a decoded
// plane.
type PlaneSource interface {
	Plane(name string) (*TexturePlane, error)
}

// Plane implements PlaneSource so a pre-decoded set (from the cache or a
// test) can stand in for file access.
func (s PlaneSet) Plane(name string) (*TexturePlane, error) {
	p, ok := s[name]
	if !ok {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "no plane %q in set", name)
	}
	return p, nil
}

type dirSource struct {
	dir string
}

// NewDirSource resolves texture names against sibling files in a base
// directory, the loose-files SOGS layout.
func NewDirSource(dir string) PlaneSource {
	return &dirSource{dir: dir}
}

func (s *dirSource) Plane(name string) (*TexturePlane, error) {
	f, err := os.Open(filepath.Join(s.dir, filepath.Base(name)))
	if err != nil {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "texture %q: %v", name, err)
	}
	defer func() { _ = f.Close() }()
	return DecodeWebP(f)
}

// Bundle is an opened .sog single-file container (a ZIP archive holding
// meta.json plus the texture planes).
type Bundle struct {
	entries map[string]*zip.File
	closer  io.Closer
}

// OpenBundle opens a .sog archive from disk.
func OpenBundle(path string) (*Bundle, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrDecompression, "sog archive %q: %v", path, err)
	}
	b := &Bundle{entries: map[string]*zip.File{}, closer: rc}
	for _, f := range rc.File {
		b.entries[filepath.Base(f.Name)] = f
	}
	return b, nil
}

// OpenBundleBytes opens a .sog archive already in memory.
func OpenBundleBytes(data []byte) (*Bundle, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Wrapf(splat.ErrDecompression, "sog archive: %v", err)
	}
	b := &Bundle{entries: map[string]*zip.File{}}
	for _, f := range zr.File {
		b.entries[filepath.Base(f.Name)] = f
	}
	return b, nil
}

// Close releases the underlying archive handle, if any.
func (b *Bundle) Close() error {
	if b.closer == nil {
		return nil
	}
	return b.closer.Close()
}

// Metadata reads and parses the archive's meta.json.
func (b *Bundle) Metadata() (*Metadata, error) {
	data, err := b.readEntry("meta.json")
	if err != nil {
		return nil, err
	}
	return ParseMetadata(data)
}

// Plane implements PlaneSource over the archive entries.
func (b *Bundle) Plane(name string) (*TexturePlane, error) {
	data, err := b.readEntry(filepath.Base(name))
	if err != nil {
		return nil, err
	}
	return DecodeWebP(bytes.NewReader(data))
}

func (b *Bundle) readEntry(name string) ([]byte, error) {
	f, ok := b.entries[name]
	if !ok {
		return nil, errors.Wrapf(splat.ErrResourceMissing, "no %q entry in sog archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(splat.ErrDecompression, "sog entry %q: %v", name, err)
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.Wrapf(splat.ErrDecompression, "sog entry %q: %v", name, err)
	}
	return data, nil
}

// ProbeZip reports whether a ZIP archive looks like a SOGS bundle: it must
// contain a meta.json and at least one .webp entry.
func ProbeZip(data []byte) bool {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return false
	}
	var hasMeta, hasWebP bool
	for _, f := range zr.File {
		switch {
		case filepath.Base(f.Name) == "meta.json":
			hasMeta = true
		case strings.HasSuffix(f.Name, ".webp"):
			hasWebP = true
		}
	}
	return hasMeta && hasWebP
}
