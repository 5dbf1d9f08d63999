package store

import (
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"voxelmap.dev/internal/geom"
)

// FlushCache moves local's decompressed chunks into the shared cache and bumps
// the recency of shared chunks local read, then empties local. Copies of a
// chunk that was replaced or removed since they were made are dropped.
//
// It must not run while a reader is using local.
func (s *Store[V]) FlushCache(local *LocalCache[V]) error {
	if err := local.bind(s); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range local.entries {
		cur, ok := s.chunks[key]
		if !ok || cur != e.src {
			continue
		}
		if _, dec := cur.Decompressed(); !dec {
			cur.install(e.data)
		}
		s.cache.Add(key, struct{}{})
	}
	for key := range local.touched {
		if s.cache.Contains(key) {
			s.cache.Get(key)
		}
	}
	local.reset()
	return nil
}

// RemoveEmpty deletes every chunk in scope whose voxels all satisfy isEmpty
// (nil means "equals the default voxel") and returns the removed keys in order.
// Compressed chunks are decompressed for the check but not cached.
func (s *Store[V]) RemoveEmpty(isEmpty func(V) bool, scope ScanScope) ([]ChunkKey, error) {
	if isEmpty == nil {
		var zero V
		isEmpty = func(v V) bool { return v == zero }
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type candidate struct {
		key   ChunkKey
		chunk *Chunk[V]
	}
	var cands []candidate
	switch scope {
	case ScanTouched:
		for key := range s.touched {
			if c, ok := s.chunks[key]; ok {
				cands = append(cands, candidate{key: key, chunk: c})
			}
		}
	default:
		cands = make([]candidate, 0, len(s.chunks))
		for key, c := range s.chunks {
			cands = append(cands, candidate{key: key, chunk: c})
		}
	}

	var (
		emptyMu sync.Mutex
		empty   []ChunkKey
	)
	var g errgroup.Group
	g.SetLimit(s.scanWorkers)
	for _, cand := range cands {
		cand := cand
		g.Go(func() error {
			data, err := s.decompress(cand.key, cand.chunk)
			if err != nil {
				return err
			}
			for _, v := range data {
				if !isEmpty(v) {
					return nil
				}
			}
			emptyMu.Lock()
			empty = append(empty, cand.key)
			emptyMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("empty chunk scan: %w", err)
	}

	for _, key := range empty {
		s.removeLocked(key)
	}
	if len(empty) > 0 {
		s.invalidateLocked()
	}
	sort.Slice(empty, func(i, j int) bool { return geom.Less(empty[i], empty[j]) })
	return empty, nil
}

// CompressExcess recompresses least-recently-used decompressed chunks until the
// shared cache holds at most budget bytes, and returns how many it compressed.
func (s *Store[V]) CompressExcess(budget int64) (int, error) {
	if budget < 0 {
		budget = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for s.cachedBytesLocked() > budget {
		key, _, ok := s.cache.RemoveOldest()
		if !ok {
			break
		}
		c, ok := s.chunks[key]
		if !ok {
			continue
		}
		if err := s.compress(c); err != nil {
			s.cache.Add(key, struct{}{})
			return n, fmt.Errorf("compress chunk %v: %w", key, err)
		}
		n++
	}
	return n, nil
}
