package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"voxelmap.dev/internal/catalogs"
	"voxelmap.dev/internal/codec"
	"voxelmap.dev/internal/edit"
	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/protocol"
	"voxelmap.dev/internal/transport/dirtystream"
	"voxelmap.dev/internal/voxel"
	"voxelmap.dev/internal/voxelmap"
)

func newTestMap(t *testing.T) (*voxelmap.Map[voxel.Block, catalogs.BlockDef], *catalogs.BlockCatalog) {
	t.Helper()
	cats, err := catalogs.LoadBlocks(filepath.Join("..", "..", "configs", "blocks.json"))
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	m, err := voxelmap.New[voxel.Block](voxelmap.Config{
		ChunkShape:  geom.Fill(8),
		Codec:       codec.Snappy{},
		CacheBudget: 1 << 20,
	}, cats.Palette)
	if err != nil {
		t.Fatalf("map: %v", err)
	}
	m.EmptyWhen(catalogs.IsEmpty)
	return m, cats
}

func TestWorker_StepsProduceDirtyChunks(t *testing.T) {
	m, cats := newTestMap(t)
	w := newWorker(m, cats, 7, 16)
	for i := 0; i < 20; i++ {
		if err := w.step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if w.reads != 20 || w.edits != 20 {
		t.Fatalf("reads=%d edits=%d want 20/20", w.reads, w.edits)
	}
	d, err := m.Cycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(d.EditedChunkKeys) == 0 {
		t.Fatalf("expected edited chunks")
	}
	if got := m.Stats().Flushed; got != 20 {
		t.Fatalf("flushed caches: got %d want 20", got)
	}
}

func TestRunCycles_StopsAtLimit(t *testing.T) {
	m, _ := newTestMap(t)
	var seen []uint64
	err := runCycles(context.Background(), m, time.Millisecond, 3, func(d edit.DirtyChunks) {
		seen = append(seen, d.Cycle)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) != 3 || seen[2] != 3 {
		t.Fatalf("cycles: %v", seen)
	}
}

func TestMux_MetricsAndState(t *testing.T) {
	m, cats := newTestMap(t)
	stream := dirtystream.NewServer(func() protocol.BootstrapResponse { return bootstrap(m, cats) }, nil)
	if err := m.EditExtent(m.NewLocalCache(), geom.ExtentFromMinAndShape(geom.P(0, 0, 0), geom.Fill(2)), func(_ geom.Point3, v *voxel.Block) { *v = 1 }); err != nil {
		t.Fatalf("edit: %v", err)
	}
	if _, err := m.Cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	hs := httptest.NewServer(newMux(m, stream, nil))
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	for _, want := range []string{"voxelmap_cycle 1", `voxelmap_chunks{state="decompressed"} 1`, "voxelmap_stream_subscribers 0"} {
		if !strings.Contains(string(body), want) {
			t.Fatalf("metrics missing %q:\n%s", want, body)
		}
	}

	resp, err = http.Get(hs.URL + "/v1/dirty/bootstrap")
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	defer resp.Body.Close()
	var boot protocol.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.Codec != "snappy" || boot.Cycle != 1 || boot.BlockPalette[0] != "AIR" {
		t.Fatalf("bootstrap: %+v", boot)
	}
}

func TestMux_AdminStateLoopbackOnly(t *testing.T) {
	m, cats := newTestMap(t)
	stream := dirtystream.NewServer(func() protocol.BootstrapResponse { return bootstrap(m, cats) }, nil)
	mux := newMux(m, stream, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote status: got %d want %d", rec.Code, http.StatusForbidden)
	}

	req = httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("loopback status: got %d want %d", rec.Code, http.StatusOK)
	}
	var state struct {
		Cycle voxelmap.CycleStats `json:"cycle"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Cycle.Cycle != 0 {
		t.Fatalf("cycle: got %d want 0", state.Cycle.Cycle)
	}
}
