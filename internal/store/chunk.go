package store

import "sync/atomic"

// Chunk holds one chunk's voxels in exactly one live representation: a dense
// decompressed array, or a compressed blob of the same array. Swapping between
// the two never changes the voxel content, so readers holding an older
// representation stay correct.
type Chunk[V any] struct {
	rep atomic.Pointer[repr[V]]
}

type repr[V any] struct {
	data []V
	blob []byte
}

func newChunk[V any](data []V) *Chunk[V] {
	c := &Chunk[V]{}
	c.rep.Store(&repr[V]{data: data})
	return c
}

func newCompressedChunk[V any](blob []byte) *Chunk[V] {
	c := &Chunk[V]{}
	c.rep.Store(&repr[V]{blob: blob})
	return c
}

// Decompressed returns the dense array when that is the live representation.
// Callers must treat it as read-only.
func (c *Chunk[V]) Decompressed() ([]V, bool) {
	r := c.rep.Load()
	return r.data, r.data != nil
}

// Compressed returns the blob when that is the live representation.
func (c *Chunk[V]) Compressed() ([]byte, bool) {
	r := c.rep.Load()
	if r.data != nil {
		return nil, false
	}
	return r.blob, true
}

func (c *Chunk[V]) install(data []V) { c.rep.Store(&repr[V]{data: data}) }

func (c *Chunk[V]) installBlob(blob []byte) { c.rep.Store(&repr[V]{blob: blob}) }
