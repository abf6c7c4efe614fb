// Package morton reorders point sequences along a Z-order (Morton) curve so
// spatially nearby splats end up nearby in memory. The output is always a
// permutation of the input; points are never dropped, duplicated, or
// mutated.
package morton

import (
	"sort"

	"go.viam.com/splat/splat"
)

const (
	// axisBits is the per-axis quantization width; three axes interleave
	// into a 30-bit code.
	axisBits = 10
	axisMax  = 1<<axisBits - 1

	// radixCutoff is the sequence length at which the 4-pass radix sort
	// replaces the comparison sort.
	radixCutoff = 1000

	// DefaultBucketThreshold is the run length above which recursive
	// refinement re-sorts a same-code bucket with fresh bounds.
	DefaultBucketThreshold = 256
)

// expand3 spreads the low 10 bits of v so two zero bits separate each
// original bit (the standard magic-number expansion).
func expand3(v uint32) uint32 {
	v &= axisMax
	v = (v | v<<16) & 0x030000ff
	v = (v | v<<8) & 0x0300f00f
	v = (v | v<<4) & 0x030c30c3
	v = (v | v<<2) & 0x09249249
	return v
}

// Encode interleaves three 10-bit axis values into a 30-bit Morton code.
func Encode(x, y, z uint32) uint32 {
	return expand3(x) | expand3(y)<<1 | expand3(z)<<2
}

func quantizeAxis(v, min, max float64) uint32 {
	if max <= min {
		return 0
	}
	t := (v - min) / (max - min)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return uint32(t * axisMax)
}

// code computes the Morton code of one point inside the given bounds.
func code(p *splat.Point, meta *splat.MetaData) uint32 {
	return Encode(
		quantizeAxis(p.Position.X, meta.MinX, meta.MaxX),
		quantizeAxis(p.Position.Y, meta.MinY, meta.MaxY),
		quantizeAxis(p.Position.Z, meta.MinZ, meta.MaxZ),
	)
}

// Codes computes Morton codes for every point against the sequence's own
// bounding box.
func Codes(pts []splat.Point) []uint32 {
	meta := splat.Bounds(pts)
	codes := make([]uint32, len(pts))
	for i := range pts {
		codes[i] = code(&pts[i], &meta)
	}
	return codes
}

// sortIndices orders idx by codes, stably. Small inputs use a comparison
// sort; larger ones a 4-pass 8-bit LSD radix sort.
func sortIndices(idx []int, codes []uint32) {
	if len(idx) < radixCutoff {
		sort.SliceStable(idx, func(a, b int) bool {
			return codes[idx[a]] < codes[idx[b]]
		})
		return
	}
	radixSort(idx, codes)
}

// radixSort is a stable least-significant-digit radix sort over four 8-bit
// passes of the 30-bit codes.
func radixSort(idx []int, codes []uint32) {
	buf := make([]int, len(idx))
	src, dst := idx, buf
	for pass := 0; pass < 4; pass++ {
		shift := uint(pass * 8)
		var counts [256]int
		for _, i := range src {
			counts[(codes[i]>>shift)&0xff]++
		}
		total := 0
		for b := 0; b < 256; b++ {
			counts[b], total = total, total+counts[b]
		}
		for _, i := range src {
			b := (codes[i] >> shift) & 0xff
			dst[counts[b]] = i
			counts[b]++
		}
		src, dst = dst, src
	}
	// Four passes land the result back in idx.
}

// Order returns the permutation that sorts pts by Morton code.
func Order(pts []splat.Point) []int {
	codes := Codes(pts)
	idx := make([]int, len(pts))
	for i := range idx {
		idx[i] = i
	}
	sortIndices(idx, codes)
	return idx
}

// Reorder returns a new slice with pts permuted into Morton order.
func Reorder(pts []splat.Point) []splat.Point {
	return applyOrder(pts, Order(pts))
}

func applyOrder(pts []splat.Point, order []int) []splat.Point {
	out := make([]splat.Point, len(pts))
	for i, j := range order {
		out[i] = pts[j]
	}
	return out
}

// ReorderRefined Morton-sorts pts and then recursively re-sorts any
// contiguous run of identical codes longer than bucketThreshold with
// freshly recomputed bounds, improving locality inside dense clusters.
// bucketThreshold <= 0 selects DefaultBucketThreshold.
func ReorderRefined(pts []splat.Point, bucketThreshold int) []splat.Point {
	if bucketThreshold <= 0 {
		bucketThreshold = DefaultBucketThreshold
	}
	out := Reorder(pts)
	refine(out, bucketThreshold)
	return out
}

// refine re-applies the whole procedure to oversized same-code buckets in
// place. Recursion stops when a bucket's bounding box collapses to a point
// or all its codes stay identical, which prevents infinite recursion on
// duplicate positions.
func refine(pts []splat.Point, bucketThreshold int) {
	meta := splat.Bounds(pts)
	collapsed := meta.MinX >= meta.MaxX && meta.MinY >= meta.MaxY && meta.MinZ >= meta.MaxZ
	if collapsed {
		return
	}
	codes := make([]uint32, len(pts))
	uniformCodes := true
	for i := range pts {
		codes[i] = code(&pts[i], &meta)
		if codes[i] != codes[0] {
			uniformCodes = false
		}
	}
	if uniformCodes {
		return
	}
	start := 0
	for start < len(pts) {
		end := start + 1
		for end < len(pts) && codes[end] == codes[start] {
			end++
		}
		if end-start > bucketThreshold {
			bucket := pts[start:end]
			sorted := Reorder(bucket)
			copy(bucket, sorted)
			refine(bucket, bucketThreshold)
		}
		start = end
	}
}
