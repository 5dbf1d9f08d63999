// Package voxel defines what a storable voxel is and the palette that maps a
// voxel's type index to shared per-type metadata.
//
// The zero value of a voxel type is its default: chunks that were never
// written read as zero values, and chunks made only of zero values are dropped
// by the empty-chunk pass.
package voxel

import "fmt"

// Voxel is the constraint on voxel payloads. Implementations must be fixed-size
// plain data with exported fields so chunk arrays can be encoded for the codec.
type Voxel interface {
	comparable
	TypeIndex() int
}

// Palette is an ordered table of per-type metadata indexed by TypeIndex.
type Palette[I any] struct {
	Infos []I
}

func NewPalette[I any](infos ...I) Palette[I] {
	return Palette[I]{Infos: infos}
}

func (p Palette[I]) Len() int { return len(p.Infos) }

// Info returns the metadata for v's type. An out-of-range type index is a
// programming error and panics.
func Info[V Voxel, I any](p Palette[I], v V) I {
	idx := v.TypeIndex()
	if idx < 0 || idx >= len(p.Infos) {
		panic(fmt.Sprintf("voxel: type index %d out of palette range [0,%d)", idx, len(p.Infos)))
	}
	return p.Infos[idx]
}

// Lookup is the checked form of Info.
func Lookup[V Voxel, I any](p Palette[I], v V) (I, bool) {
	idx := v.TypeIndex()
	if idx < 0 || idx >= len(p.Infos) {
		var zero I
		return zero, false
	}
	return p.Infos[idx], true
}
