package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/store"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voxelmap.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_RepoConfig(t *testing.T) {
	tu, err := Load(filepath.Join("..", "..", "configs", "voxelmap.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err := tu.MapConfig(nil)
	if err != nil {
		t.Fatalf("map config: %v", err)
	}
	if cfg.ChunkShape != geom.Fill(16) {
		t.Fatalf("chunk shape: got %v", cfg.ChunkShape)
	}
	if cfg.Codec == nil {
		t.Fatalf("codec not resolved")
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	tu, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tu.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	n, err := tu.CacheBudgetBytes()
	if err != nil {
		t.Fatalf("budget: %v", err)
	}
	if n != 64<<20 {
		t.Fatalf("default budget: got %d want %d", n, 64<<20)
	}
	if got := tu.CycleInterval(); got != 50*time.Millisecond {
		t.Fatalf("interval: got %v", got)
	}
}

func TestLoad_OverridesAndNormalizes(t *testing.T) {
	path := writeYAML(t, `
chunk_shape: [32, 8, 32]
cache_budget: "2 MB"
codec: " RLE "
empty_scan: Touched
empty_scan_workers: 0
cycle_interval_ms: 10
`)
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfg, err := tu.MapConfig(nil)
	if err != nil {
		t.Fatalf("map config: %v", err)
	}
	if cfg.ChunkShape != geom.P(32, 8, 32) {
		t.Fatalf("chunk shape: got %v", cfg.ChunkShape)
	}
	if cfg.CacheBudget != 2_000_000 {
		t.Fatalf("budget: got %d want 2000000", cfg.CacheBudget)
	}
	if cfg.Codec.Name() != "rle" {
		t.Fatalf("codec: got %q want rle", cfg.Codec.Name())
	}
	if cfg.EmptyScan != store.ScanTouched {
		t.Fatalf("scan: got %v want touched", cfg.EmptyScan)
	}
	if cfg.ScanWorkers != 1 {
		t.Fatalf("workers: got %d want 1", cfg.ScanWorkers)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"shape arity": "chunk_shape: [16, 16]\n",
		"shape zero":  "chunk_shape: [16, 0, 16]\n",
		"budget":      "cache_budget: lots\n",
		"codec":       "codec: lz4\n",
		"scan":        "empty_scan: some\n",
		"interval":    "cycle_interval_ms: -1\n",
		"bad yaml":    "chunk_shape: [\n",
	}
	for name, body := range cases {
		if _, err := Load(writeYAML(t, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
