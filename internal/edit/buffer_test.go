package edit

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"voxelmap.dev/internal/codec"
	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/store"
	"voxelmap.dev/internal/voxel"
)

type countingSource struct {
	*store.Reader[voxel.Block]
	calls map[ChunkKey]int
}

func (c *countingSource) CopyChunk(key ChunkKey) ([]voxel.Block, bool, error) {
	c.calls[key]++
	return c.Reader.CopyChunk(key)
}

func newStore(t *testing.T) *store.Store[voxel.Block] {
	t.Helper()
	s, err := store.New[voxel.Block](geom.Fill(16), codec.RLE{})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return s
}

func newSource(t *testing.T, s *store.Store[voxel.Block]) *countingSource {
	t.Helper()
	r, err := s.NewReader(store.NewLocalCache[voxel.Block]())
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	return &countingSource{Reader: r, calls: map[ChunkKey]int{}}
}

func set(b voxel.Block) func(geom.Point3, *voxel.Block) {
	return func(_ geom.Point3, v *voxel.Block) { *v = b }
}

func TestEditExtent_CopiesEachChunkOnce(t *testing.T) {
	s := newStore(t)
	seed := s.DefaultChunk()
	seed[0] = 3
	if err := s.Insert(geom.P(0, 0, 0), seed); err != nil {
		t.Fatalf("insert: %v", err)
	}
	src := newSource(t, s)
	buf := NewBuffer[voxel.Block](geom.Fill(16))

	one := geom.ExtentFromMinAndShape(geom.P(5, 5, 5), geom.Fill(1))
	incr := func(_ geom.Point3, v *voxel.Block) { *v++ }
	if err := buf.EditExtent(src, one, incr, false); err != nil {
		t.Fatalf("first edit: %v", err)
	}
	if err := buf.EditExtent(src, one, incr, false); err != nil {
		t.Fatalf("second edit: %v", err)
	}
	if got := src.calls[geom.P(0, 0, 0)]; got != 1 {
		t.Fatalf("upstream copies: got %d want 1", got)
	}
	if got := buf.Copies(); got != 1 {
		t.Fatalf("Copies: got %d want 1", got)
	}

	if _, err := buf.MergeInto(s); err != nil {
		t.Fatalf("merge: %v", err)
	}
	r, err := s.NewReader(store.NewLocalCache[voxel.Block]())
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	if v, _ := r.Get(geom.P(5, 5, 5)); v != 2 {
		t.Fatalf("second edit did not see the first: got %d want 2", v)
	}
	if v, _ := r.Get(geom.P(0, 0, 0)); v != 3 {
		t.Fatalf("upstream content lost: got %d want 3", v)
	}
}

func TestEditExtent_PartialOverlapReusesBufferedChunk(t *testing.T) {
	s := newStore(t)
	src := newSource(t, s)
	buf := NewBuffer[voxel.Block](geom.Fill(16))

	if err := buf.EditExtent(src, geom.ExtentFromMinAndShape(geom.P(0, 0, 0), geom.Fill(4)), set(1), false); err != nil {
		t.Fatalf("edit: %v", err)
	}
	// Spans (0,0,0) and (1,0,0); only the second is new.
	if err := buf.EditExtent(src, geom.ExtentFromMinAndMax(geom.P(2, 0, 0), geom.P(17, 0, 0)), set(2), false); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := src.calls[geom.P(0, 0, 0)]; got != 1 {
		t.Fatalf("chunk (0,0,0) looked up %d times, want 1", got)
	}
	if got := src.calls[geom.P(1, 0, 0)]; got != 1 {
		t.Fatalf("chunk (1,0,0) looked up %d times, want 1", got)
	}
	if got := buf.Len(); got != 2 {
		t.Fatalf("buffered chunks: got %d want 2", got)
	}
	// Absent upstream, so nothing was copied.
	if got := buf.Copies(); got != 0 {
		t.Fatalf("Copies: got %d want 0", got)
	}
}

func TestDirtyKeys_WithoutNeighbors(t *testing.T) {
	s := newStore(t)
	buf := NewBuffer[voxel.Block](geom.Fill(16))
	if err := buf.EditExtent(newSource(t, s), geom.ExtentFromMinAndShape(geom.P(20, 3, -4), geom.Fill(1)), set(1), false); err != nil {
		t.Fatalf("edit: %v", err)
	}
	dirty, err := buf.MergeInto(s)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	want := []ChunkKey{geom.P(1, 0, -1)}
	if diff := cmp.Diff(want, dirty.EditedChunkKeys); diff != "" {
		t.Fatalf("edited keys (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, dirty.SortedDirtyKeys()); diff != "" {
		t.Fatalf("dirty keys (-want +got):\n%s", diff)
	}
}

func TestDirtyKeys_WithNeighbors(t *testing.T) {
	s := newStore(t)
	buf := NewBuffer[voxel.Block](geom.Fill(16))
	if err := buf.EditExtent(newSource(t, s), geom.ExtentFromMinAndShape(geom.P(5, 5, 5), geom.Fill(1)), set(1), true); err != nil {
		t.Fatalf("edit: %v", err)
	}
	dirty, err := buf.MergeInto(s)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	var want []ChunkKey
	geom.ExtentFromMinAndMax(geom.Fill(-1), geom.Fill(1)).ForEach(func(p geom.Point3) { want = append(want, p) })
	if diff := cmp.Diff(want, dirty.SortedDirtyKeys(), cmpopts.SortSlices(geom.Less)); diff != "" {
		t.Fatalf("dirty keys (-want +got):\n%s", diff)
	}
	if len(dirty.EditedChunkKeys) != 1 {
		t.Fatalf("edited keys: %v", dirty.EditedChunkKeys)
	}
}

func TestInsertChunk_OverwritesBufferedEdits(t *testing.T) {
	s := newStore(t)
	buf := NewBuffer[voxel.Block](geom.Fill(16))
	if err := buf.EditExtent(newSource(t, s), geom.ExtentFromMinAndShape(geom.P(1, 1, 1), geom.Fill(2)), set(4), false); err != nil {
		t.Fatalf("edit: %v", err)
	}
	replacement := s.DefaultChunk()
	replacement[1] = 6
	if err := buf.InsertChunk(geom.P(0, 0, 0), replacement, true); err != nil {
		t.Fatalf("insert chunk: %v", err)
	}
	if err := buf.InsertChunk(geom.P(0, 0, 0), make([]voxel.Block, 5), false); !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
	dirty, err := buf.MergeInto(s)
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if got := len(dirty.DirtyChunkKeys); got != 27 {
		t.Fatalf("dirty keys: got %d want 27", got)
	}
	r, err := s.NewReader(store.NewLocalCache[voxel.Block]())
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	if v, _ := r.Get(geom.P(1, 1, 1)); v != 0 {
		t.Fatalf("buffered edit survived InsertChunk: %d", v)
	}
	if v, _ := r.Get(geom.P(1, 0, 0)); v != 6 {
		t.Fatalf("inserted chunk missing: got %d want 6", v)
	}
}

func TestMergeInto_ConsumesBuffer(t *testing.T) {
	s := newStore(t)
	buf := NewBuffer[voxel.Block](geom.Fill(16))
	if _, err := buf.MergeInto(s); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if _, err := buf.MergeInto(s); !errors.Is(err, ErrConsumed) {
		t.Fatalf("expected ErrConsumed on second merge, got %v", err)
	}
	if err := buf.EditExtent(newSource(t, s), geom.ExtentFromMinAndShape(geom.P(0, 0, 0), geom.Fill(1)), set(1), false); !errors.Is(err, ErrConsumed) {
		t.Fatalf("expected ErrConsumed on edit, got %v", err)
	}
}

func TestEditExtent_ShapeMismatch(t *testing.T) {
	s := newStore(t)
	buf := NewBuffer[voxel.Block](geom.Fill(8))
	err := buf.EditExtent(newSource(t, s), geom.ExtentFromMinAndShape(geom.P(0, 0, 0), geom.Fill(1)), set(1), false)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestEditExtent_DoesNotTouchStoreBeforeMerge(t *testing.T) {
	s := newStore(t)
	buf := NewBuffer[voxel.Block](geom.Fill(16))
	if err := buf.EditExtent(newSource(t, s), geom.ExtentFromMinAndShape(geom.P(0, 0, 0), geom.Fill(16)), set(9), false); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("store changed before merge: %d chunks", got)
	}
}

type failingSource struct {
	shape  geom.Point3
	failAt ChunkKey
}

var errBadChunk = errors.New("bad chunk")

func (f failingSource) ChunkShape() geom.Point3 { return f.shape }

func (f failingSource) CopyChunk(key ChunkKey) ([]voxel.Block, bool, error) {
	if key == f.failAt {
		return nil, false, errBadChunk
	}
	return nil, false, nil
}

func TestEditExtent_FailedCopyLeavesBufferUnchanged(t *testing.T) {
	buf := NewBuffer[voxel.Block](geom.Fill(16))
	src := failingSource{shape: geom.Fill(16), failAt: geom.P(1, 0, 0)}
	twoChunks := geom.ExtentFromMinAndShape(geom.P(0, 0, 0), geom.P(32, 1, 1))
	if err := buf.EditExtent(src, twoChunks, set(4), false); !errors.Is(err, errBadChunk) {
		t.Fatalf("expected errBadChunk, got %v", err)
	}
	if got := buf.Len(); got != 0 {
		t.Fatalf("buffered chunks after failed edit: got %d want 0", got)
	}

	d, err := buf.MergeInto(newStore(t))
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(d.EditedChunkKeys) != 0 || len(d.DirtyChunkKeys) != 0 {
		t.Fatalf("report after failed edit: edited=%v dirty=%v", d.EditedChunkKeys, d.SortedDirtyKeys())
	}
}
