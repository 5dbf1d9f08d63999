package main

import (
	"context"
	"math/rand"
	"time"

	"voxelmap.dev/internal/catalogs"
	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/voxel"
	"voxelmap.dev/internal/voxelmap"
)

// worker is a synthetic client: each step it reads a voxel and either digs it
// out or builds a small cube there.
type worker struct {
	m      *voxelmap.Map[voxel.Block, catalogs.BlockDef]
	blocks []voxel.Block
	radius int
	rng    *rand.Rand

	reads, edits int
}

func newWorker(m *voxelmap.Map[voxel.Block, catalogs.BlockDef], cats *catalogs.BlockCatalog, seed int64, radius int) *worker {
	var blocks []voxel.Block
	for i, def := range cats.Palette.Infos {
		if def.Solid {
			blocks = append(blocks, voxel.Block(i))
		}
	}
	if radius <= 0 {
		radius = 1
	}
	return &worker{m: m, blocks: blocks, radius: radius, rng: rand.New(rand.NewSource(seed))}
}

func (w *worker) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.step(); err != nil {
				return err
			}
		}
	}
}

func (w *worker) step() error {
	local := w.m.NewLocalCache()
	defer w.m.Release(local)

	r, err := w.m.Reader(local)
	if err != nil {
		return err
	}
	p := geom.P(w.coord(), w.coord(), w.coord())
	cur, err := r.Get(p)
	if err != nil {
		return err
	}
	w.reads++

	var next voxel.Block
	if cur == 0 && len(w.blocks) > 0 {
		next = w.blocks[w.rng.Intn(len(w.blocks))]
	}
	e := geom.ExtentFromMinAndShape(p, geom.Fill(1+w.rng.Intn(3)))
	if err := w.m.EditExtentAndTouchNeighbors(local, e, func(_ geom.Point3, v *voxel.Block) { *v = next }); err != nil {
		return err
	}
	w.edits++
	return nil
}

func (w *worker) coord() int { return w.rng.Intn(2*w.radius) - w.radius }
