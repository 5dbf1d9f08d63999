package store

import (
	"fmt"
	"maps"
	"math"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"voxelmap.dev/internal/codec"
	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/voxel"
)

type options struct {
	scanWorkers int
}

type Option func(*options)

// WithScanWorkers bounds the goroutines used by RemoveEmpty. n <= 0 means one.
func WithScanWorkers(n int) Option {
	return func(o *options) { o.scanWorkers = n }
}

// Store is the sparse chunk store. Keys with no chunk read as the default
// (zero) voxel.
//
// Readers never lock: they work from a published, immutable copy of the chunk
// table. Every mutation goes through mu, and the next NewReader republishes.
type Store[V voxel.Voxel] struct {
	shape       geom.Point3
	volume      int
	chunkBytes  int64
	codec       codec.Codec
	scanWorkers int

	mu     sync.Mutex
	chunks map[ChunkKey]*Chunk[V]
	// Keys whose chunk is currently decompressed, least recently used first.
	cache *simplelru.LRU[ChunkKey, struct{}]
	// Keys written by the most recent InsertAll.
	touched map[ChunkKey]struct{}

	published atomic.Pointer[table[V]]
}

type table[V any] struct {
	chunks map[ChunkKey]*Chunk[V]
}

func New[V voxel.Voxel](shape geom.Point3, c codec.Codec, opts ...Option) (*Store[V], error) {
	if !shape.Positive() {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, shape)
	}
	if c == nil {
		return nil, fmt.Errorf("store: nil codec")
	}
	var zero V
	t := reflect.TypeOf(zero)
	if t == nil {
		return nil, fmt.Errorf("%w: interface voxel types are not storable", ErrUnsupportedVoxel)
	}
	if err := checkPlain(t); err != nil {
		return nil, err
	}
	o := options{scanWorkers: 1}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scanWorkers <= 0 {
		o.scanWorkers = 1
	}
	cache, err := simplelru.NewLRU[ChunkKey, struct{}](math.MaxInt32, nil)
	if err != nil {
		return nil, err
	}
	return &Store[V]{
		shape:       shape,
		volume:      shape.Volume(),
		chunkBytes:  int64(t.Size()) * int64(shape.Volume()),
		codec:       c,
		scanWorkers: o.scanWorkers,
		chunks:      map[ChunkKey]*Chunk[V]{},
		cache:       cache,
		touched:     map[ChunkKey]struct{}{},
	}, nil
}

func (s *Store[V]) ChunkShape() geom.Point3 { return s.shape }

// ChunkBytes is the in-memory size of one decompressed chunk.
func (s *Store[V]) ChunkBytes() int64 { return s.chunkBytes }

func (s *Store[V]) Codec() codec.Codec { return s.codec }

func (s *Store[V]) ChunkKeyFor(p geom.Point3) ChunkKey { return geom.ChunkKeyFor(p, s.shape) }

func (s *Store[V]) ExtentForChunk(key ChunkKey) geom.Extent { return geom.ChunkExtent(key, s.shape) }

func (s *Store[V]) ChunkKeysForExtent(e geom.Extent) []ChunkKey {
	return geom.ChunkKeysForExtent(e, s.shape)
}

// DefaultChunk returns a fresh chunk array filled with the default voxel.
func (s *Store[V]) DefaultChunk() []V { return DefaultArray[V](s.shape) }

// DefaultArray allocates a default-filled array for the given shape.
func DefaultArray[V any](shape geom.Point3) []V { return make([]V, shape.Volume()) }

func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// Keys lists stored chunk keys ordered by x, then y, then z.
func (s *Store[V]) Keys() []ChunkKey {
	s.mu.Lock()
	keys := make([]ChunkKey, 0, len(s.chunks))
	for k := range s.chunks {
		keys = append(keys, k)
	}
	s.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return geom.Less(keys[i], keys[j]) })
	return keys
}

// CachedBytes is the decompressed size held by the shared cache.
func (s *Store[V]) CachedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cachedBytesLocked()
}

func (s *Store[V]) cachedBytesLocked() int64 {
	return int64(s.cache.Len()) * s.chunkBytes
}

func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{Chunks: len(s.chunks), CachedBytes: s.cachedBytesLocked()}
	for _, c := range s.chunks {
		if blob, ok := c.Compressed(); ok {
			st.Compressed++
			st.CompressedBytes += int64(len(blob))
		} else {
			st.Decompressed++
		}
	}
	return st
}

// GetOrInsert returns the chunk at key, inserting the decompressed array built
// by producer when there is none. Concurrent calls for one key create it once.
func (s *Store[V]) GetOrInsert(key ChunkKey, producer func() []V) (*Chunk[V], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.chunks[key]; ok {
		return c, nil
	}
	data := producer()
	if len(data) != s.volume {
		return nil, fmt.Errorf("%w: chunk %v has %d voxels want %d", ErrShapeMismatch, key, len(data), s.volume)
	}
	c := newChunk(data)
	s.chunks[key] = c
	s.cache.Add(key, struct{}{})
	s.invalidateLocked()
	return c, nil
}

// Insert stores data at key, replacing any existing chunk. The store takes
// ownership of data.
func (s *Store[V]) Insert(key ChunkKey, data []V) error {
	return s.InsertAll(map[ChunkKey][]V{key: data})
}

// InsertAll stores every chunk in chunks, replacing existing ones, and records
// the keys as touched for a ScanTouched empty pass. Nothing is inserted when any
// array has the wrong length.
func (s *Store[V]) InsertAll(chunks map[ChunkKey][]V) error {
	for key, data := range chunks {
		if len(data) != s.volume {
			return fmt.Errorf("%w: chunk %v has %d voxels want %d", ErrShapeMismatch, key, len(data), s.volume)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = make(map[ChunkKey]struct{}, len(chunks))
	for key, data := range chunks {
		// Replace rather than mutate: readers may still hold the old chunk.
		s.chunks[key] = newChunk(data)
		s.cache.Add(key, struct{}{})
		s.touched[key] = struct{}{}
	}
	if len(chunks) > 0 {
		s.invalidateLocked()
	}
	return nil
}

// Remove deletes the chunk at key and reports whether one was stored.
func (s *Store[V]) Remove(key ChunkKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.chunks[key]; !ok {
		return false
	}
	s.removeLocked(key)
	s.invalidateLocked()
	return true
}

func (s *Store[V]) removeLocked(key ChunkKey) {
	delete(s.chunks, key)
	delete(s.touched, key)
	s.cache.Remove(key)
}

func (s *Store[V]) invalidateLocked() { s.published.Store(nil) }

// snapshot returns the published chunk table, republishing it if a writer
// changed the table since.
func (s *Store[V]) snapshot() *table[V] {
	if t := s.published.Load(); t != nil {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t := s.published.Load(); t != nil {
		return t
	}
	t := &table[V]{chunks: maps.Clone(s.chunks)}
	s.published.Store(t)
	return t
}

// NewReader binds local to this store and returns a reader over the current
// state. Later merges are not visible through it.
func (s *Store[V]) NewReader(local *LocalCache[V]) (*Reader[V], error) {
	if err := local.bind(s); err != nil {
		return nil, err
	}
	return &Reader[V]{store: s, table: s.snapshot(), local: local}, nil
}

// ReadThrough reads the chunk at key: a decompressed chunk is returned
// directly, a compressed one is decompressed into local only. The shared store
// is not modified.
func (s *Store[V]) ReadThrough(key ChunkKey, local *LocalCache[V]) ([]V, bool, error) {
	r, err := s.NewReader(local)
	if err != nil {
		return nil, false, err
	}
	return r.ReadChunk(key)
}

// decompress returns c's voxels without caching them anywhere.
func (s *Store[V]) decompress(key ChunkKey, c *Chunk[V]) ([]V, error) {
	r := c.rep.Load()
	if r.data != nil {
		return r.data, nil
	}
	if len(r.blob) == 0 {
		return nil, fmt.Errorf("%w: chunk %v has no data", ErrCorruptChunk, key)
	}
	raw, err := s.codec.Decompress(r.blob)
	if err != nil {
		return nil, fmt.Errorf("%w: chunk %v: %w", ErrCorruptChunk, key, err)
	}
	data, err := decodeRaw[V](raw, s.volume)
	if err != nil {
		return nil, fmt.Errorf("chunk %v: %w", key, err)
	}
	return data, nil
}

func (s *Store[V]) compress(c *Chunk[V]) error {
	data, ok := c.Decompressed()
	if !ok {
		return nil
	}
	raw, err := encodeRaw(data)
	if err != nil {
		return err
	}
	blob, err := s.codec.Compress(raw)
	if err != nil {
		return err
	}
	c.installBlob(blob)
	return nil
}

// InsertCompressed stores an already compressed chunk. It is mainly useful to
// seed a store from codec output; the blob is trusted until first read.
func (s *Store[V]) InsertCompressed(key ChunkKey, blob []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks[key] = newCompressedChunk[V](blob)
	s.cache.Remove(key)
	s.invalidateLocked()
}
