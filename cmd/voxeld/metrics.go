package main

import (
	"fmt"
	"io"

	"voxelmap.dev/internal/catalogs"
	"voxelmap.dev/internal/persistence/indexdb"
	"voxelmap.dev/internal/transport/dirtystream"
	"voxelmap.dev/internal/voxel"
	"voxelmap.dev/internal/voxelmap"
)

// writeMetrics renders the minimal Prometheus exposition format.
func writeMetrics(w io.Writer, m *voxelmap.Map[voxel.Block, catalogs.BlockDef], stream *dirtystream.Server, idx *indexdb.SQLiteIndex) {
	st := m.Stats()
	ss := m.Store().Stats()

	fmt.Fprintf(w, "# HELP voxelmap_cycle Last completed cycle.\n")
	fmt.Fprintf(w, "# TYPE voxelmap_cycle counter\n")
	fmt.Fprintf(w, "voxelmap_cycle %d\n", st.Cycle)

	fmt.Fprintf(w, "# HELP voxelmap_chunks Stored chunks by representation.\n")
	fmt.Fprintf(w, "# TYPE voxelmap_chunks gauge\n")
	fmt.Fprintf(w, "voxelmap_chunks{state=%q} %d\n", "decompressed", ss.Decompressed)
	fmt.Fprintf(w, "voxelmap_chunks{state=%q} %d\n", "compressed", ss.Compressed)

	fmt.Fprintf(w, "# HELP voxelmap_bytes Chunk memory by kind.\n")
	fmt.Fprintf(w, "# TYPE voxelmap_bytes gauge\n")
	fmt.Fprintf(w, "voxelmap_bytes{kind=%q} %d\n", "cached", ss.CachedBytes)
	fmt.Fprintf(w, "voxelmap_bytes{kind=%q} %d\n", "compressed", ss.CompressedBytes)
	fmt.Fprintf(w, "voxelmap_bytes{kind=%q} %d\n", "budget", m.CacheBudget())

	fmt.Fprintf(w, "# HELP voxelmap_last_cycle_chunks Chunks handled by the last cycle per stage.\n")
	fmt.Fprintf(w, "# TYPE voxelmap_last_cycle_chunks gauge\n")
	fmt.Fprintf(w, "voxelmap_last_cycle_chunks{stage=%q} %d\n", "removed", st.Removed)
	fmt.Fprintf(w, "voxelmap_last_cycle_chunks{stage=%q} %d\n", "edited", st.Edited)
	fmt.Fprintf(w, "voxelmap_last_cycle_chunks{stage=%q} %d\n", "dirty", st.Dirty)
	fmt.Fprintf(w, "voxelmap_last_cycle_chunks{stage=%q} %d\n", "compressed", st.Compressed)

	fmt.Fprintf(w, "# HELP voxelmap_stage_ms Last cycle stage duration in milliseconds.\n")
	fmt.Fprintf(w, "# TYPE voxelmap_stage_ms gauge\n")
	fmt.Fprintf(w, "voxelmap_stage_ms{stage=%q} %.3f\n", "flush", float64(st.FlushDur.Microseconds())/1000)
	fmt.Fprintf(w, "voxelmap_stage_ms{stage=%q} %.3f\n", "remove_empty", float64(st.RemoveDur.Microseconds())/1000)
	fmt.Fprintf(w, "voxelmap_stage_ms{stage=%q} %.3f\n", "merge", float64(st.MergeDur.Microseconds())/1000)
	fmt.Fprintf(w, "voxelmap_stage_ms{stage=%q} %.3f\n", "compress", float64(st.CompressDur.Microseconds())/1000)

	fmt.Fprintf(w, "# HELP voxelmap_pending_chunks Chunks buffered for the next merge.\n")
	fmt.Fprintf(w, "# TYPE voxelmap_pending_chunks gauge\n")
	fmt.Fprintf(w, "voxelmap_pending_chunks %d\n", m.PendingChunks())

	if stream != nil {
		fmt.Fprintf(w, "# HELP voxelmap_stream_subscribers Connected dirty stream clients.\n")
		fmt.Fprintf(w, "# TYPE voxelmap_stream_subscribers gauge\n")
		fmt.Fprintf(w, "voxelmap_stream_subscribers %d\n", stream.Subscribers())
		fmt.Fprintf(w, "# HELP voxelmap_stream_dropped_total Reports dropped for slow clients.\n")
		fmt.Fprintf(w, "# TYPE voxelmap_stream_dropped_total counter\n")
		fmt.Fprintf(w, "voxelmap_stream_dropped_total %d\n", stream.Dropped())
	}
	if idx != nil {
		is := idx.Stats()
		fmt.Fprintf(w, "# HELP voxelmap_index_queue_depth Index writer backlog.\n")
		fmt.Fprintf(w, "# TYPE voxelmap_index_queue_depth gauge\n")
		fmt.Fprintf(w, "voxelmap_index_queue_depth %d\n", is.QueueDepth)
		fmt.Fprintf(w, "# HELP voxelmap_index_dropped_total Index rows dropped under load.\n")
		fmt.Fprintf(w, "# TYPE voxelmap_index_dropped_total counter\n")
		fmt.Fprintf(w, "voxelmap_index_dropped_total{kind=%q} %d\n", "cycle", is.DropCycleTotal)
		fmt.Fprintf(w, "voxelmap_index_dropped_total{kind=%q} %d\n", "dirty", is.DropDirtyTotal)
	}
}
