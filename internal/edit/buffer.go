// Package edit stages voxel writes out of place. Edits land in a Buffer of
// private chunk copies; the live store is untouched until MergeInto moves the
// copies over and reports which chunks changed.
package edit

import (
	"errors"
	"fmt"
	"sort"

	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/store"
	"voxelmap.dev/internal/voxel"
)

type ChunkKey = store.ChunkKey

var (
	ErrConsumed      = errors.New("edit: buffer already merged")
	ErrShapeMismatch = errors.New("edit: chunk shape mismatch")
)

// Source is what a Buffer copies untouched chunks from.
type Source[V any] interface {
	ChunkShape() geom.Point3
	CopyChunk(key ChunkKey) ([]V, bool, error)
}

// Inserter receives the buffered chunks on merge.
type Inserter[V any] interface {
	ChunkShape() geom.Point3
	InsertAll(chunks map[ChunkKey][]V) error
}

// DirtyChunks is the per-merge change report.
type DirtyChunks struct {
	Cycle uint64 `json:"cycle"`
	// Chunks written directly, ordered by x, then y, then z.
	EditedChunkKeys []ChunkKey `json:"edited_chunk_keys"`
	// Edited chunks plus, where requested, their 26 neighbours.
	DirtyChunkKeys map[ChunkKey]struct{} `json:"-"`
}

// SortedDirtyKeys lists DirtyChunkKeys ordered by x, then y, then z.
func (d DirtyChunks) SortedDirtyKeys() []ChunkKey {
	keys := make([]ChunkKey, 0, len(d.DirtyChunkKeys))
	for k := range d.DirtyChunkKeys {
		keys = append(keys, k)
	}
	sortKeys(keys)
	return keys
}

func (d DirtyChunks) IsDirty(key ChunkKey) bool {
	_, ok := d.DirtyChunkKeys[key]
	return ok
}

// Buffer is not safe for concurrent use; callers serialize access to it.
type Buffer[V voxel.Voxel] struct {
	shape  geom.Point3
	chunks map[ChunkKey][]V
	dirty  map[ChunkKey]struct{}
	copies int
	done   bool
}

func NewBuffer[V voxel.Voxel](shape geom.Point3) *Buffer[V] {
	return &Buffer[V]{
		shape:  shape,
		chunks: map[ChunkKey][]V{},
		dirty:  map[ChunkKey]struct{}{},
	}
}

func (b *Buffer[V]) ChunkShape() geom.Point3 { return b.shape }

// Len is the number of buffered chunks.
func (b *Buffer[V]) Len() int { return len(b.chunks) }

// Copies counts chunks copied from a Source over the buffer's lifetime.
func (b *Buffer[V]) Copies() int { return b.copies }

// EditExtent runs fn on every voxel of e in the buffer's copies. A chunk is
// copied from src (or default-filled when src has none) the first time any
// edit touches it; later edits reuse the buffered copy.
func (b *Buffer[V]) EditExtent(src Source[V], e geom.Extent, fn func(p geom.Point3, v *V), touchNeighbors bool) error {
	if b.done {
		return ErrConsumed
	}
	if s := src.ChunkShape(); s != b.shape {
		return fmt.Errorf("%w: source %v buffer %v", ErrShapeMismatch, s, b.shape)
	}
	keys := geom.ChunkKeysForExtent(e, b.shape)
	// Copies are staged so a failed copy leaves the buffer as it was.
	staged := map[ChunkKey][]V{}
	copies := 0
	for _, key := range keys {
		if _, ok := b.chunks[key]; ok {
			continue
		}
		data, ok, err := src.CopyChunk(key)
		if err != nil {
			return fmt.Errorf("copy chunk %v: %w", key, err)
		}
		if ok {
			copies++
		} else {
			data = store.DefaultArray[V](b.shape)
		}
		staged[key] = data
	}
	for key, data := range staged {
		b.chunks[key] = data
	}
	b.copies += copies

	b.markDirty(keys, touchNeighbors)

	for _, key := range keys {
		chunkExt := geom.ChunkExtent(key, b.shape)
		data := b.chunks[key]
		e.Intersect(chunkExt).ForEach(func(p geom.Point3) {
			fn(p, &data[geom.LinearIndex(p.Sub(chunkExt.Min), b.shape)])
		})
	}
	return nil
}

// InsertChunk replaces the buffered copy at key with data, discarding earlier
// edits to that chunk. The buffer takes ownership of data.
func (b *Buffer[V]) InsertChunk(key ChunkKey, data []V, touchNeighbors bool) error {
	if b.done {
		return ErrConsumed
	}
	if len(data) != b.shape.Volume() {
		return fmt.Errorf("%w: chunk %v has %d voxels want %d", ErrShapeMismatch, key, len(data), b.shape.Volume())
	}
	b.chunks[key] = data
	b.markDirty([]ChunkKey{key}, touchNeighbors)
	return nil
}

// MergeInto moves every buffered chunk into dst and returns the change report.
// The buffer cannot be used afterwards.
func (b *Buffer[V]) MergeInto(dst Inserter[V]) (DirtyChunks, error) {
	if b.done {
		return DirtyChunks{}, ErrConsumed
	}
	if s := dst.ChunkShape(); s != b.shape {
		return DirtyChunks{}, fmt.Errorf("%w: destination %v buffer %v", ErrShapeMismatch, s, b.shape)
	}
	edited := make([]ChunkKey, 0, len(b.chunks))
	for k := range b.chunks {
		edited = append(edited, k)
	}
	sortKeys(edited)

	if err := dst.InsertAll(b.chunks); err != nil {
		return DirtyChunks{}, fmt.Errorf("merge edits: %w", err)
	}
	out := DirtyChunks{EditedChunkKeys: edited, DirtyChunkKeys: b.dirty}
	b.chunks = nil
	b.dirty = nil
	b.done = true
	return out, nil
}

func (b *Buffer[V]) markDirty(keys []ChunkKey, touchNeighbors bool) {
	for _, key := range keys {
		if !touchNeighbors {
			b.dirty[key] = struct{}{}
			continue
		}
		for _, n := range geom.MooreNeighborhood(key) {
			b.dirty[n] = struct{}{}
		}
	}
}

func sortKeys(keys []ChunkKey) {
	sort.Slice(keys, func(i, j int) bool { return geom.Less(keys[i], keys[j]) })
}
