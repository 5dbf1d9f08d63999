// Package voxelmap ties a chunk store, a palette and the edit buffer together
// and runs the per-cycle maintenance stages that keep them consistent.
package voxelmap

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"sync/atomic"

	"voxelmap.dev/internal/codec"
	"voxelmap.dev/internal/edit"
	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/store"
	"voxelmap.dev/internal/voxel"
)

type ChunkKey = store.ChunkKey

type Config struct {
	ChunkShape geom.Point3
	Codec      codec.Codec
	// CacheBudget bounds the decompressed bytes left in the shared cache after
	// each compress stage.
	CacheBudget int64
	EmptyScan   store.ScanScope
	ScanWorkers int
	// Logger receives one summary line per cycle. Nil disables it.
	Logger *log.Logger
}

// Sink receives every published DirtyChunks report, in cycle order. Sinks run
// inside the merge stage and must not call the stage methods.
type Sink func(edit.DirtyChunks)

// Map is a voxel volume with its palette. Workers read through their own
// LocalCache and stage writes in the shared edit buffer; a host drives the
// cycle stages that flush, prune, merge and compress.
type Map[V voxel.Voxel, I any] struct {
	store   *store.Store[V]
	palette voxel.Palette[I]
	logger  *log.Logger
	scope   store.ScanScope

	budget  atomic.Int64
	isEmpty atomic.Pointer[func(V) bool]

	editMu sync.Mutex
	buf    *edit.Buffer[V]

	relMu    sync.Mutex
	released []*store.LocalCache[V]

	// mu serializes the cycle stages.
	mu      sync.Mutex
	next    stage
	haltErr error
	cycle   uint64
	pending CycleStats

	dirty atomic.Pointer[edit.DirtyChunks]
	stats atomic.Pointer[CycleStats]

	sinkMu sync.Mutex
	sinkID int
	sinks  map[int]Sink
}

func New[V voxel.Voxel, I any](cfg Config, palette voxel.Palette[I]) (*Map[V, I], error) {
	if cfg.Codec == nil {
		return nil, errors.New("voxelmap: codec is required")
	}
	if cfg.CacheBudget < 0 {
		return nil, fmt.Errorf("voxelmap: negative cache budget %d", cfg.CacheBudget)
	}
	s, err := store.New[V](cfg.ChunkShape, cfg.Codec, store.WithScanWorkers(cfg.ScanWorkers))
	if err != nil {
		return nil, err
	}
	m := &Map[V, I]{
		store:   s,
		palette: palette,
		logger:  cfg.Logger,
		scope:   cfg.EmptyScan,
		buf:     edit.NewBuffer[V](cfg.ChunkShape),
		sinks:   map[int]Sink{},
	}
	m.budget.Store(cfg.CacheBudget)
	m.dirty.Store(&edit.DirtyChunks{DirtyChunkKeys: map[ChunkKey]struct{}{}})
	m.stats.Store(&CycleStats{})
	return m, nil
}

// Store exposes the underlying chunk store. Writing to it directly during a
// cycle bypasses the edit buffer and may be overwritten by the next merge.
func (m *Map[V, I]) Store() *store.Store[V] { return m.store }

func (m *Map[V, I]) ChunkShape() geom.Point3 { return m.store.ChunkShape() }

func (m *Map[V, I]) Palette() voxel.Palette[I] { return m.palette }

// Info returns the palette entry for v. It panics when v's type index is
// outside the palette.
func (m *Map[V, I]) Info(v V) I { return voxel.Info(m.palette, v) }

// SetCacheBudget changes the budget used by the next compress stage.
func (m *Map[V, I]) SetCacheBudget(bytes int64) {
	if bytes < 0 {
		bytes = 0
	}
	m.budget.Store(bytes)
}

func (m *Map[V, I]) CacheBudget() int64 { return m.budget.Load() }

// SetEmptyPredicate replaces the test used by the empty-chunk stage. Nil
// restores the default, which treats only the default voxel as empty.
func (m *Map[V, I]) SetEmptyPredicate(fn func(V) bool) {
	if fn == nil {
		m.isEmpty.Store(nil)
		return
	}
	m.isEmpty.Store(&fn)
}

// EmptyWhen makes the empty-chunk stage consult the palette: a voxel is empty
// when fn reports its type info as empty.
func (m *Map[V, I]) EmptyWhen(fn func(I) bool) {
	m.SetEmptyPredicate(func(v V) bool { return fn(voxel.Info(m.palette, v)) })
}

// NewLocalCache returns an empty cache. It binds to this map's store on first
// read and cannot be used with another store afterwards.
func (m *Map[V, I]) NewLocalCache() *store.LocalCache[V] {
	return store.NewLocalCache[V]()
}

// Reader returns a reader over the state published by the last merge.
func (m *Map[V, I]) Reader(local *store.LocalCache[V]) (*store.Reader[V], error) {
	return m.store.NewReader(local)
}

// InfoReader returns a reader that yields palette entries instead of voxels.
func (m *Map[V, I]) InfoReader(local *store.LocalCache[V]) (*InfoReader[V, I], error) {
	r, err := m.store.NewReader(local)
	if err != nil {
		return nil, err
	}
	return &InfoReader[V, I]{reader: r, palette: m.palette}, nil
}

// Release hands a worker's cache back to the map. The worker must not use it
// again; the next flush stage drains it into the shared cache.
func (m *Map[V, I]) Release(local *store.LocalCache[V]) {
	if local == nil {
		return
	}
	m.relMu.Lock()
	m.released = append(m.released, local)
	m.relMu.Unlock()
}

// DirtyChunks returns the report published by the most recent merge.
func (m *Map[V, I]) DirtyChunks() edit.DirtyChunks { return *m.dirty.Load() }

// Subscribe registers sink for every later merge and returns a function that
// removes it.
func (m *Map[V, I]) Subscribe(sink Sink) (cancel func()) {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	m.sinkID++
	id := m.sinkID
	m.sinks[id] = sink
	return func() {
		m.sinkMu.Lock()
		delete(m.sinks, id)
		m.sinkMu.Unlock()
	}
}

func (m *Map[V, I]) publish(d edit.DirtyChunks) {
	m.dirty.Store(&d)
	m.sinkMu.Lock()
	ids := make([]int, 0, len(m.sinks))
	for id := range m.sinks {
		ids = append(ids, id)
	}
	sinks := make([]Sink, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		sinks = append(sinks, m.sinks[id])
	}
	m.sinkMu.Unlock()
	for _, sink := range sinks {
		sink(d)
	}
}
