package voxelmap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"voxelmap.dev/internal/edit"
)

var (
	ErrStageOrder = errors.New("voxelmap: cycle stage out of order")
	ErrHalted     = errors.New("voxelmap: halted after failed stage")
)

type stage int

const (
	stageFlush stage = iota
	stageRemoveEmpty
	stageMerge
	stageCompress
)

func (s stage) String() string {
	switch s {
	case stageFlush:
		return "flush"
	case stageRemoveEmpty:
		return "remove_empty"
	case stageMerge:
		return "merge"
	case stageCompress:
		return "compress"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// CycleStats summarizes one completed cycle.
type CycleStats struct {
	Cycle       uint64 `json:"cycle"`
	Flushed     int    `json:"flushed_caches"`
	Removed     int    `json:"removed_chunks"`
	Edited      int    `json:"edited_chunks"`
	Dirty       int    `json:"dirty_chunks"`
	Compressed  int    `json:"compressed_chunks"`
	Chunks      int    `json:"chunks"`
	CachedBytes int64  `json:"cached_bytes"`
	Budget      int64  `json:"budget_bytes"`

	FlushDur    time.Duration `json:"flush_ns"`
	RemoveDur   time.Duration `json:"remove_ns"`
	MergeDur    time.Duration `json:"merge_ns"`
	CompressDur time.Duration `json:"compress_ns"`
}

// Stats returns the stats of the last completed cycle.
func (m *Map[V, I]) Stats() CycleStats { return *m.stats.Load() }

// Cycle runs the four stages in order. ctx is only checked before the first
// stage; a cycle that has started always runs to completion or halts.
func (m *Map[V, I]) Cycle(ctx context.Context) (edit.DirtyChunks, error) {
	if err := ctx.Err(); err != nil {
		return edit.DirtyChunks{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.flushLocked(); err != nil {
		return edit.DirtyChunks{}, err
	}
	if _, err := m.removeEmptyLocked(); err != nil {
		return edit.DirtyChunks{}, err
	}
	d, err := m.mergeLocked()
	if err != nil {
		return edit.DirtyChunks{}, err
	}
	if _, err := m.compressLocked(); err != nil {
		return edit.DirtyChunks{}, err
	}
	return d, nil
}

// Run calls Cycle every interval until ctx is done or a cycle fails.
func (m *Map[V, I]) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := m.Cycle(ctx); err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				return fmt.Errorf("cycle: %w", err)
			}
		}
	}
}

// FlushCaches drains every released LocalCache into the shared cache and
// returns how many it drained.
func (m *Map[V, I]) FlushCaches() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked()
}

// RemoveEmptyChunks deletes chunks whose voxels are all empty.
func (m *Map[V, I]) RemoveEmptyChunks() ([]ChunkKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeEmptyLocked()
}

// MergeEdits moves the edit buffer into the store, starts a fresh buffer and
// publishes the change report to DirtyChunks and every subscriber.
func (m *Map[V, I]) MergeEdits() (edit.DirtyChunks, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mergeLocked()
}

// CompressExcess recompresses least recently used chunks until the shared
// cache fits the budget.
func (m *Map[V, I]) CompressExcess() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.compressLocked()
}

// enter checks that s is the stage due next.
func (m *Map[V, I]) enter(s stage) error {
	if m.haltErr != nil {
		return fmt.Errorf("%w: %w", ErrHalted, m.haltErr)
	}
	if s != m.next {
		return fmt.Errorf("%w: %s called, %s expected", ErrStageOrder, s, m.next)
	}
	return nil
}

func (m *Map[V, I]) leave(s stage, err error) error {
	if err != nil {
		m.haltErr = fmt.Errorf("%s: %w", s, err)
		return m.haltErr
	}
	m.next = (s + 1) % 4
	return nil
}

func (m *Map[V, I]) flushLocked() (int, error) {
	if err := m.enter(stageFlush); err != nil {
		return 0, err
	}
	start := time.Now()
	m.relMu.Lock()
	caches := m.released
	m.released = nil
	m.relMu.Unlock()

	m.pending = CycleStats{Cycle: m.cycle + 1}
	var err error
	for _, local := range caches {
		if err = m.store.FlushCache(local); err != nil {
			break
		}
	}
	m.pending.Flushed = len(caches)
	m.pending.FlushDur = time.Since(start)
	return len(caches), m.leave(stageFlush, err)
}

func (m *Map[V, I]) removeEmptyLocked() ([]ChunkKey, error) {
	if err := m.enter(stageRemoveEmpty); err != nil {
		return nil, err
	}
	start := time.Now()
	var isEmpty func(V) bool
	if p := m.isEmpty.Load(); p != nil {
		isEmpty = *p
	}
	removed, err := m.store.RemoveEmpty(isEmpty, m.scope)
	m.pending.Removed = len(removed)
	m.pending.RemoveDur = time.Since(start)
	return removed, m.leave(stageRemoveEmpty, err)
}

func (m *Map[V, I]) mergeLocked() (edit.DirtyChunks, error) {
	if err := m.enter(stageMerge); err != nil {
		return edit.DirtyChunks{}, err
	}
	start := time.Now()
	// editMu is held until the store holds the merged chunks, so no edit can
	// copy a chunk from the state this merge replaces.
	m.editMu.Lock()
	buf := m.buf
	m.buf = edit.NewBuffer[V](m.store.ChunkShape())
	d, err := buf.MergeInto(m.store)
	m.editMu.Unlock()
	if err != nil {
		return edit.DirtyChunks{}, m.leave(stageMerge, err)
	}
	m.cycle++
	d.Cycle = m.cycle
	m.pending.Edited = len(d.EditedChunkKeys)
	m.pending.Dirty = len(d.DirtyChunkKeys)
	m.pending.MergeDur = time.Since(start)
	m.publish(d)
	return d, m.leave(stageMerge, nil)
}

func (m *Map[V, I]) compressLocked() (int, error) {
	if err := m.enter(stageCompress); err != nil {
		return 0, err
	}
	start := time.Now()
	budget := m.budget.Load()
	n, err := m.store.CompressExcess(budget)
	if err != nil {
		return n, m.leave(stageCompress, err)
	}
	st := m.store.Stats()
	m.pending.Compressed = n
	m.pending.Chunks = st.Chunks
	m.pending.CachedBytes = st.CachedBytes
	m.pending.Budget = budget
	m.pending.CompressDur = time.Since(start)
	done := m.pending
	m.stats.Store(&done)
	if m.logger != nil {
		m.logger.Printf("cycle %d: edited=%d dirty=%d removed=%d compressed=%d chunks=%d cached=%s/%s",
			done.Cycle, done.Edited, done.Dirty, done.Removed, done.Compressed, done.Chunks,
			humanize.IBytes(uint64(done.CachedBytes)), humanize.IBytes(uint64(budget)))
	}
	return n, m.leave(stageCompress, nil)
}
