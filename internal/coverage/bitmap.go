// Package coverage maps bar-grid positions to a compact, serializable
// bitmap of which bars have been materialized, and answers the
// contiguous-missing-range queries the planner needs.
//
// The encoding is github.com/RoaringBitmap/roaring/v2: a run-length
// compressed bitmap that supports cardinality, set-union, difference,
// and run iteration, with a byte-identical serialize/deserialize
// round trip — exactly the properties spec.md §4.2 and §9 ask for.
package coverage

import (
	"bytes"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// Range is an inclusive range of grid positions [Start, End].
type Range struct {
	Start int64
	End   int64
}

// Bitmap wraps a roaring bitmap of grid positions, plus the optimistic
// concurrency version spec.md §4.1 requires for CAS.
type Bitmap struct {
	bits    *roaring.Bitmap
	Version int64
}

// New returns an empty coverage bitmap at version 0.
func New() *Bitmap {
	return &Bitmap{bits: roaring.New()}
}

// Decode parses the persisted byte representation of a bitmap.
func Decode(data []byte, version int64) (*Bitmap, error) {
	b := roaring.New()
	if len(data) > 0 {
		if _, err := b.ReadFrom(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("coverage: decode: %w", err)
		}
	}
	return &Bitmap{bits: b, Version: version}, nil
}

// Encode serializes the bitmap to its persisted byte representation.
func (b *Bitmap) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := b.bits.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("coverage: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// IsCovered reports whether grid position i is set.
func (b *Bitmap) IsCovered(i int64) bool {
	return b.bits.Contains(uint64ofPosition(i))
}

// MarkCovered sets every position in [r.Start, r.End] inclusive.
func (b *Bitmap) MarkCovered(r Range) {
	if r.End < r.Start {
		return
	}
	b.bits.AddRange(uint64(r.Start), uint64(r.End)+1)
}

// MarkCoveredPositions sets an explicit, possibly non-contiguous, set
// of positions (used when a provider returns a sparse set of bars
// within a requested range).
func (b *Bitmap) MarkCoveredPositions(positions []int64) {
	for _, p := range positions {
		b.bits.Add(uint64ofPosition(p))
	}
}

// Union merges other's set positions into b, without touching b's version.
func (b *Bitmap) Union(other *Bitmap) {
	b.bits.Or(other.bits)
}

// Cardinality returns the number of set positions.
func (b *Bitmap) Cardinality() uint64 {
	return b.bits.GetCardinality()
}

// MissingIn returns the maximal contiguous sub-ranges of [r.Start, r.End]
// that are NOT covered, in ascending order. This is the primary input
// to the Planner's gap detection (spec.md §4.3).
func (b *Bitmap) MissingIn(r Range) []Range {
	if r.End < r.Start {
		return nil
	}
	var out []Range
	var runStart int64 = -1
	for pos := r.Start; pos <= r.End; pos++ {
		if b.IsCovered(pos) {
			if runStart != -1 {
				out = append(out, Range{Start: runStart, End: pos - 1})
				runStart = -1
			}
			continue
		}
		if runStart == -1 {
			runStart = pos
		}
	}
	if runStart != -1 {
		out = append(out, Range{Start: runStart, End: r.End})
	}
	return out
}

// LongestCoveredPrefix returns the greatest position p such that every
// position in [0, p) is covered (p may be 0 if position 0 itself is
// uncovered). This backs the watermark computation in spec.md §4.4 step 3.
func (b *Bitmap) LongestCoveredPrefix() int64 {
	var p int64
	for b.IsCovered(p) {
		p++
	}
	return p
}

// Clone returns a deep copy of the bitmap, preserving Version.
func (b *Bitmap) Clone() *Bitmap {
	return &Bitmap{bits: b.bits.Clone(), Version: b.Version}
}

func uint64ofPosition(i int64) uint32 {
	if i < 0 || i > int64(^uint32(0)) {
		panic(fmt.Sprintf("coverage: position %d out of range for a uint32-indexed bitmap", i))
	}
	return uint32(i)
}
