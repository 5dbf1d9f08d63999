package voxelmap

import (
	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/store"
)

// EditExtent stages fn over every voxel of e. Chunks are copied from the
// state published by the last merge, read through local. The change becomes
// visible after the next merge stage.
func (m *Map[V, I]) EditExtent(local *store.LocalCache[V], e geom.Extent, fn func(p geom.Point3, v *V)) error {
	return m.editExtent(local, e, fn, false)
}

// EditExtentAndTouchNeighbors is EditExtent that also marks the 26 chunks
// around each edited chunk dirty.
func (m *Map[V, I]) EditExtentAndTouchNeighbors(local *store.LocalCache[V], e geom.Extent, fn func(p geom.Point3, v *V)) error {
	return m.editExtent(local, e, fn, true)
}

func (m *Map[V, I]) editExtent(local *store.LocalCache[V], e geom.Extent, fn func(p geom.Point3, v *V), touch bool) error {
	// The reader is taken under editMu so its snapshot is never older than the
	// last merge of the buffer it writes into.
	m.editMu.Lock()
	defer m.editMu.Unlock()
	r, err := m.store.NewReader(local)
	if err != nil {
		return err
	}
	return m.buf.EditExtent(r, e, fn, touch)
}

// InsertChunk stages a whole chunk, replacing any edits already buffered
// for key. The map takes ownership of data.
func (m *Map[V, I]) InsertChunk(key ChunkKey, data []V) error {
	return m.insertChunk(key, data, false)
}

func (m *Map[V, I]) InsertChunkAndTouchNeighbors(key ChunkKey, data []V) error {
	return m.insertChunk(key, data, true)
}

func (m *Map[V, I]) insertChunk(key ChunkKey, data []V, touch bool) error {
	m.editMu.Lock()
	defer m.editMu.Unlock()
	return m.buf.InsertChunk(key, data, touch)
}

// PendingChunks is the number of chunks buffered for the next merge.
func (m *Map[V, I]) PendingChunks() int {
	m.editMu.Lock()
	defer m.editMu.Unlock()
	return m.buf.Len()
}
