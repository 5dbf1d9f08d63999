package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"voxelmap.dev/internal/catalogs"
	"voxelmap.dev/internal/edit"
	"voxelmap.dev/internal/persistence/indexdb"
	persistlog "voxelmap.dev/internal/persistence/log"
	"voxelmap.dev/internal/protocol"
	"voxelmap.dev/internal/store"
	"voxelmap.dev/internal/transport/dirtystream"
	"voxelmap.dev/internal/tuning"
	"voxelmap.dev/internal/voxel"
	"voxelmap.dev/internal/voxelmap"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address (empty to disable)")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("config", "", "path to voxelmap.yaml (default: <configs>/voxelmap.yaml)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite cycle index")
		workers    = flag.Int("workers", 4, "synthetic edit workers (0 to disable)")
		radius     = flag.Int("radius", 64, "half-size in voxels of the region the workers edit")
		cycles     = flag.Int("cycles", 0, "stop after this many cycles (0 runs until signalled)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[voxeld] ", log.LstdFlags|log.Lmicroseconds)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "voxelmap.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		logger.Fatalf("load tuning: %v", err)
	}
	cats, err := catalogs.LoadBlocks(filepath.Join(*configDir, "blocks.json"))
	if err != nil {
		logger.Fatalf("load blocks: %v", err)
	}
	cfg, err := tune.MapConfig(log.New(os.Stdout, "[voxelmap] ", log.LstdFlags|log.Lmicroseconds))
	if err != nil {
		logger.Fatalf("map config: %v", err)
	}
	m, err := voxelmap.New[voxel.Block](cfg, cats.Palette)
	if err != nil {
		logger.Fatalf("voxel map: %v", err)
	}
	m.EmptyWhen(catalogs.IsEmpty)
	logger.Printf("map: chunk_shape=%v codec=%s budget=%s blocks=%d scan=%s",
		cfg.ChunkShape, cfg.Codec.Name(), humanize.IBytes(uint64(cfg.CacheBudget)), cats.Palette.Len(), cfg.EmptyScan)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}
	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(filepath.Join(*dataDir, "index", "voxelmap.sqlite"))
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		if err := idx.UpsertPalette(cats); err != nil {
			logger.Printf("index: upsert palette: %v", err)
		}
	}
	cycleLog := persistlog.NewCycleLogger(*dataDir)
	defer cycleLog.Close()

	stream := dirtystream.NewServer(func() protocol.BootstrapResponse {
		return bootstrap(m, cats)
	}, log.New(os.Stdout, "[dirtystream] ", log.LstdFlags|log.Lmicroseconds))

	m.Subscribe(stream.Publish)
	m.Subscribe(cycleLog.RecordDirty)
	m.Subscribe(idx.RecordDirty)

	ctx, cancel := signalContext()
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < *workers; i++ {
		w := newWorker(m, cats, int64(i+1), *radius)
		g.Go(func() error { return w.run(gctx, tune.CycleInterval()) })
	}

	g.Go(func() error {
		err := runCycles(gctx, m, tune.CycleInterval(), *cycles, func(d edit.DirtyChunks) {
			st := m.Stats()
			if err := cycleLog.WriteCycle(st); err != nil {
				logger.Printf("cycle log: %v", err)
			}
			idx.RecordCycle(st)
		})
		cancel()
		return err
	})

	var srv *http.Server
	if strings.TrimSpace(*addr) != "" {
		srv = &http.Server{
			Addr:              *addr,
			Handler:           newMux(m, stream, idx),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Printf("listening on %s", *addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			return srv.Shutdown(ctx2)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("stopped: %v", err)
	}
	st := m.Stats()
	logger.Printf("stopped after cycle %d: chunks=%d cached=%s", st.Cycle, st.Chunks, humanize.IBytes(uint64(st.CachedBytes)))
}

// runCycles drives the map's cycle stages every interval and calls after with
// each report. limit > 0 stops after that many cycles.
func runCycles(ctx context.Context, m *voxelmap.Map[voxel.Block, catalogs.BlockDef], interval time.Duration, limit int, after func(edit.DirtyChunks)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for n := 0; limit <= 0 || n < limit; n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		d, err := m.Cycle(ctx)
		if err != nil {
			return err
		}
		after(d)
	}
	return nil
}

func newMux(m *voxelmap.Map[voxel.Block, catalogs.BlockDef], stream *dirtystream.Server, idx *indexdb.SQLiteIndex) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, m, stream, idx)
	})
	mux.HandleFunc("/admin/v1/state", func(rw http.ResponseWriter, r *http.Request) {
		if !dirtystream.IsLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		rw.Header().Set("Content-Type", "application/json")
		resp := struct {
			Cycle voxelmap.CycleStats `json:"cycle"`
			Store store.Stats         `json:"store"`
			Dirty [][3]int            `json:"dirty"`
		}{
			Cycle: m.Stats(),
			Store: m.Store().Stats(),
			Dirty: protocol.NewDirtyChunksMsg(m.DirtyChunks(), nil).Dirty,
		}
		_ = json.NewEncoder(rw).Encode(resp)
	})
	mux.HandleFunc("/v1/dirty/bootstrap", stream.BootstrapHandler())
	mux.HandleFunc("/v1/dirty", stream.WSHandler())
	return mux
}

func bootstrap(m *voxelmap.Map[voxel.Block, catalogs.BlockDef], cats *catalogs.BlockCatalog) protocol.BootstrapResponse {
	shape := m.ChunkShape()
	names := make([]string, 0, cats.Palette.Len())
	for _, def := range cats.Palette.Infos {
		names = append(names, def.ID)
	}
	return protocol.BootstrapResponse{
		ProtocolVersion: protocol.Version,
		ChunkShape:      [3]int{shape.X, shape.Y, shape.Z},
		Codec:           m.Store().Codec().Name(),
		Cycle:           m.DirtyChunks().Cycle,
		BlockPalette:    names,
		PaletteDigest:   cats.PaletteDigest,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
