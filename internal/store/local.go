package store

import "fmt"

// LocalCache is one worker's private cache of chunks it decompressed while
// reading. It is not safe for concurrent use. The worker owns it until it is
// flushed into the store's shared cache.
type LocalCache[V any] struct {
	owner   any
	entries map[ChunkKey]localEntry[V]
	// Shared-cache keys read through this cache, promoted on flush.
	touched map[ChunkKey]struct{}
}

type localEntry[V any] struct {
	src  *Chunk[V]
	data []V
}

func NewLocalCache[V any]() *LocalCache[V] {
	return &LocalCache[V]{
		entries: map[ChunkKey]localEntry[V]{},
		touched: map[ChunkKey]struct{}{},
	}
}

// Len is the number of decompressed chunks held.
func (l *LocalCache[V]) Len() int { return len(l.entries) }

func (l *LocalCache[V]) bind(owner any) error {
	if l == nil {
		return fmt.Errorf("store: nil local cache")
	}
	if l.owner == nil {
		l.owner = owner
		return nil
	}
	if l.owner != owner {
		return ErrForeignCache
	}
	return nil
}

// lookup returns the cached copy of src, ignoring copies of a chunk that has
// since been replaced at the same key.
func (l *LocalCache[V]) lookup(key ChunkKey, src *Chunk[V]) ([]V, bool) {
	e, ok := l.entries[key]
	if !ok || e.src != src {
		return nil, false
	}
	return e.data, true
}

func (l *LocalCache[V]) put(key ChunkKey, src *Chunk[V], data []V) {
	l.entries[key] = localEntry[V]{src: src, data: data}
}

func (l *LocalCache[V]) touch(key ChunkKey) { l.touched[key] = struct{}{} }

func (l *LocalCache[V]) reset() {
	clear(l.entries)
	clear(l.touched)
}
