package store

import (
	"slices"

	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/voxel"
)

// Reader reads a fixed snapshot of the store through one worker's LocalCache.
// A Reader is owned by the same worker as its cache.
type Reader[V voxel.Voxel] struct {
	store *Store[V]
	table *table[V]
	local *LocalCache[V]

	lastKey  ChunkKey
	lastData []V
	lastOK   bool
}

func (r *Reader[V]) ChunkShape() geom.Point3 { return r.store.ChunkShape() }

func (r *Reader[V]) ChunkKeyFor(p geom.Point3) ChunkKey {
	return geom.ChunkKeyFor(p, r.store.ChunkShape())
}

func (r *Reader[V]) ExtentForChunk(key ChunkKey) geom.Extent {
	return geom.ChunkExtent(key, r.store.ChunkShape())
}

func (r *Reader[V]) ChunkKeysForExtent(e geom.Extent) []ChunkKey {
	return geom.ChunkKeysForExtent(e, r.store.ChunkShape())
}

// Contains reports whether a chunk is stored at key in this snapshot.
func (r *Reader[V]) Contains(key ChunkKey) bool {
	_, ok := r.table.chunks[key]
	return ok
}

// ReadChunk returns a read-only view of the chunk at key. Compressed chunks are
// decompressed into the reader's local cache.
func (r *Reader[V]) ReadChunk(key ChunkKey) ([]V, bool, error) {
	if r.lastOK && r.lastKey == key {
		return r.lastData, true, nil
	}
	c, ok := r.table.chunks[key]
	if !ok {
		return nil, false, nil
	}
	data, ok := c.Decompressed()
	if ok {
		r.local.touch(key)
	} else if data, ok = r.local.lookup(key, c); !ok {
		var err error
		data, err = r.store.decompress(key, c)
		if err != nil {
			return nil, false, err
		}
		r.local.put(key, c, data)
	}
	r.lastKey, r.lastData, r.lastOK = key, data, true
	return data, true, nil
}

// CopyChunk returns a private copy of the chunk at key without caching the
// decompressed form anywhere.
func (r *Reader[V]) CopyChunk(key ChunkKey) ([]V, bool, error) {
	c, ok := r.table.chunks[key]
	if !ok {
		return nil, false, nil
	}
	if data, ok := c.Decompressed(); ok {
		return slices.Clone(data), true, nil
	}
	if data, ok := r.local.lookup(key, c); ok {
		return slices.Clone(data), true, nil
	}
	data, err := r.store.decompress(key, c)
	if err != nil {
		return nil, false, err
	}
	// Freshly decoded, nobody else holds it.
	return data, true, nil
}

// Get returns the voxel at world point p, or the default voxel when its chunk
// is absent.
func (r *Reader[V]) Get(p geom.Point3) (V, error) {
	var zero V
	shape := r.store.ChunkShape()
	key := geom.ChunkKeyFor(p, shape)
	data, ok, err := r.ReadChunk(key)
	if err != nil || !ok {
		return zero, err
	}
	return data[geom.LinearIndex(p.Sub(key.Mul(shape)), shape)], nil
}

// ForEach visits every point of e with its voxel, chunk by chunk.
func (r *Reader[V]) ForEach(e geom.Extent, fn func(p geom.Point3, v V)) error {
	shape := r.store.ChunkShape()
	var zero V
	for _, key := range geom.ChunkKeysForExtent(e, shape) {
		chunkExt := geom.ChunkExtent(key, shape)
		part := e.Intersect(chunkExt)
		data, ok, err := r.ReadChunk(key)
		if err != nil {
			return err
		}
		part.ForEach(func(p geom.Point3) {
			if !ok {
				fn(p, zero)
				return
			}
			fn(p, data[geom.LinearIndex(p.Sub(chunkExt.Min), shape)])
		})
	}
	return nil
}
