// Package tuning loads the voxel map's YAML configuration.
package tuning

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"voxelmap.dev/internal/codec"
	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/store"
	"voxelmap.dev/internal/voxelmap"
)

type Tuning struct {
	ChunkShape  []int  `yaml:"chunk_shape"`
	CacheBudget string `yaml:"cache_budget"`
	Codec       string `yaml:"codec"`
	CodecLevel  int    `yaml:"codec_level"`

	EmptyScan        string `yaml:"empty_scan"`
	EmptyScanWorkers int    `yaml:"empty_scan_workers"`

	CycleIntervalMs int `yaml:"cycle_interval_ms"`
}

func Load(path string) (Tuning, error) {
	t := defaults()
	if strings.TrimSpace(path) == "" {
		t.Normalize()
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("voxelmap.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("voxelmap.yaml: %w", err)
	}
	return t, nil
}

func defaults() Tuning {
	return Tuning{
		ChunkShape:       []int{16, 16, 16},
		CacheBudget:      "64 MiB",
		Codec:            "zstd",
		EmptyScan:        "all",
		EmptyScanWorkers: 4,
		CycleIntervalMs:  50,
	}
}

func (t *Tuning) Normalize() {
	t.Codec = strings.ToLower(strings.TrimSpace(t.Codec))
	if t.Codec == "" {
		t.Codec = "zstd"
	}
	t.EmptyScan = strings.ToLower(strings.TrimSpace(t.EmptyScan))
	if t.EmptyScan == "" {
		t.EmptyScan = "all"
	}
	t.CacheBudget = strings.TrimSpace(t.CacheBudget)
	if t.EmptyScanWorkers <= 0 {
		t.EmptyScanWorkers = 1
	}
}

func (t Tuning) Validate() error {
	if len(t.ChunkShape) != 3 {
		return fmt.Errorf("chunk_shape needs 3 values, got %d", len(t.ChunkShape))
	}
	if !t.Shape().Positive() {
		return fmt.Errorf("chunk_shape must be positive: %v", t.ChunkShape)
	}
	if _, err := t.CacheBudgetBytes(); err != nil {
		return err
	}
	if _, err := codec.Canonical(t.Codec); err != nil {
		return err
	}
	if _, err := store.ParseScanScope(t.EmptyScan); err != nil {
		return err
	}
	if t.CycleIntervalMs <= 0 {
		return fmt.Errorf("cycle_interval_ms must be > 0")
	}
	return nil
}

func (t Tuning) Shape() geom.Point3 {
	if len(t.ChunkShape) != 3 {
		return geom.Point3{}
	}
	return geom.P(t.ChunkShape[0], t.ChunkShape[1], t.ChunkShape[2])
}

// CacheBudgetBytes parses cache_budget ("64 MiB", "500MB", "1048576").
func (t Tuning) CacheBudgetBytes() (int64, error) {
	n, err := humanize.ParseBytes(t.CacheBudget)
	if err != nil {
		return 0, fmt.Errorf("cache_budget %q: %w", t.CacheBudget, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("cache_budget %q too large", t.CacheBudget)
	}
	return int64(n), nil
}

func (t Tuning) CycleInterval() time.Duration {
	return time.Duration(t.CycleIntervalMs) * time.Millisecond
}

// MapConfig resolves the tuning into a voxelmap.Config. It assumes Validate
// passed.
func (t Tuning) MapConfig(logger *log.Logger) (voxelmap.Config, error) {
	c, err := codec.ByName(t.Codec, t.CodecLevel)
	if err != nil {
		return voxelmap.Config{}, err
	}
	budget, err := t.CacheBudgetBytes()
	if err != nil {
		return voxelmap.Config{}, err
	}
	scope, err := store.ParseScanScope(t.EmptyScan)
	if err != nil {
		return voxelmap.Config{}, err
	}
	return voxelmap.Config{
		ChunkShape:  t.Shape(),
		Codec:       c,
		CacheBudget: budget,
		EmptyScan:   scope,
		ScanWorkers: t.EmptyScanWorkers,
		Logger:      logger,
	}, nil
}
