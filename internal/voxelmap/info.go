package voxelmap

import (
	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/store"
	"voxelmap.dev/internal/voxel"
)

// InfoReader reads palette entries through a voxel reader.
type InfoReader[V voxel.Voxel, I any] struct {
	reader  *store.Reader[V]
	palette voxel.Palette[I]
}

func (r *InfoReader[V, I]) Voxels() *store.Reader[V] { return r.reader }

func (r *InfoReader[V, I]) Get(p geom.Point3) (I, error) {
	v, err := r.reader.Get(p)
	if err != nil {
		var zero I
		return zero, err
	}
	return voxel.Info(r.palette, v), nil
}

func (r *InfoReader[V, I]) ForEach(e geom.Extent, fn func(p geom.Point3, info I)) error {
	return r.reader.ForEach(e, func(p geom.Point3, v V) {
		fn(p, voxel.Info(r.palette, v))
	})
}
