package sogs

import (
	"encoding/json"

	"github.com/pkg/errors"

	"go.viam.com/splat/splat"
)

// Attribute describes one texture-backed attribute in a SOGS metadata
// document: the plane file names plus either per-channel min/max bounds
// (v1) or a shared 256-entry codebook (v2).
type Attribute struct {
	Files    []string  `json:"files"`
	Mins     []float64 `json:"mins,omitempty"`
	Maxs     []float64 `json:"maxs,omitempty"`
	Codebook []float32 `json:"codebook,omitempty"`
}

// SHAttribute describes the optional higher-band spherical harmonics data:
// a centroid palette plane plus a label plane.
type SHAttribute struct {
	Attribute
	Bands int `json:"bands,omitempty"`
}

// Metadata is the parsed SOGS meta.json. Version 0/1 documents lerp plane
// bytes inside per-channel bounds; version 2 documents add an explicit
// count envelope and codebook indirection.
type Metadata struct {
	Version int          `json:"version,omitempty"`
	Count   int          `json:"count,omitempty"`
	Means   *Attribute   `json:"means"`
	Scales  *Attribute   `json:"scales"`
	Quats   *Attribute   `json:"quats"`
	SH0     *Attribute   `json:"sh0"`
	SHN     *SHAttribute `json:"shN,omitempty"`
}

// ParseMetadata parses and structurally validates a meta.json document.
func ParseMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errors.Wrapf(splat.ErrInvalidMetadata, "meta.json: %v", err)
	}
	for _, req := range []struct {
		name string
		attr *Attribute
	}{
		{"means", meta.Means},
		{"scales", meta.Scales},
		{"quats", meta.Quats},
		{"sh0", meta.SH0},
	} {
		if req.attr == nil || len(req.attr.Files) == 0 {
			return nil, errors.Wrapf(splat.ErrInvalidMetadata,
				"meta.json missing %q attribute", req.name)
		}
	}
	if len(meta.Means.Files) < 2 {
		return nil, errors.Wrap(splat.ErrInvalidMetadata,
			"means needs low and high byte planes")
	}
	if meta.Version >= 2 {
		if meta.Count <= 0 {
			return nil, errors.Wrap(splat.ErrInvalidMetadata,
				"version 2 document missing count")
		}
		if len(meta.Scales.Codebook) == 0 || len(meta.SH0.Codebook) == 0 {
			return nil, errors.Wrap(splat.ErrInvalidMetadata,
				"version 2 document missing scale/sh0 codebooks")
		}
	} else {
		if len(meta.Means.Mins) < 3 || len(meta.Means.Maxs) < 3 {
			return nil, errors.Wrap(splat.ErrInvalidMetadata, "means missing bounds")
		}
		if len(meta.Scales.Mins) < 3 || len(meta.Scales.Maxs) < 3 {
			return nil, errors.Wrap(splat.ErrInvalidMetadata, "scales missing bounds")
		}
		if len(meta.SH0.Mins) < 4 || len(meta.SH0.Maxs) < 4 {
			return nil, errors.Wrap(splat.ErrInvalidMetadata, "sh0 missing bounds")
		}
	}
	return &meta, nil
}

// LooksLikeMetadata is the cheap content probe for ambiguous .json files:
// a JSON object carrying means, scales, and quats keys.
func LooksLikeMetadata(data []byte) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	for _, key := range []string{"means", "scales", "quats"} {
		if _, ok := probe[key]; !ok {
			return false
		}
	}
	return true
}

// planeNames lists every texture file the document references.
func (meta *Metadata) planeNames() []string {
	names := append([]string{}, meta.Means.Files...)
	names = append(names, meta.Scales.Files...)
	names = append(names, meta.Quats.Files...)
	names = append(names, meta.SH0.Files...)
	if meta.SHN != nil {
		names = append(names, meta.SHN.Files...)
	}
	return names
}
