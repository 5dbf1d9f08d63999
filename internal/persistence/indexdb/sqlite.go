// Package indexdb keeps a queryable sqlite index of cycle stats and dirty
// chunk keys next to the compressed cycle log.
package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelmap.dev/internal/catalogs"
	"voxelmap.dev/internal/edit"
	"voxelmap.dev/internal/geom"
	"voxelmap.dev/internal/voxelmap"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed and the close of ch against concurrent sends.
	mu     sync.RWMutex
	closed bool

	dropCycle atomic.Uint64
	dropDirty atomic.Uint64
}

type reqKind int

const (
	reqCycle reqKind = iota + 1
	reqDirty
)

type req struct {
	kind reqKind

	cycle voxelmap.CycleStats
	dirty edit.DirtyChunks
}

// Stats reports the writer queue state.
type Stats struct {
	QueueDepth     int
	QueueCapacity  int
	DropCycleTotal uint64
	DropDirtyTotal uint64
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// WAL is much faster for append-style workloads.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS catalogs (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS cycles (
			cycle INTEGER PRIMARY KEY,
			edited INTEGER NOT NULL,
			dirty INTEGER NOT NULL,
			removed INTEGER NOT NULL,
			compressed INTEGER NOT NULL,
			chunks INTEGER NOT NULL,
			cached_bytes INTEGER NOT NULL,
			budget_bytes INTEGER NOT NULL,
			raw_json TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS dirty_chunks (
			cycle INTEGER NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			z INTEGER NOT NULL,
			edited INTEGER NOT NULL,
			PRIMARY KEY (cycle, x, y, z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_dirty_pos_cycle ON dirty_chunks(x, y, z, cycle);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close drains the queue, commits and closes the database.
func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:     len(s.ch),
		QueueCapacity:  cap(s.ch),
		DropCycleTotal: s.dropCycle.Load(),
		DropDirtyTotal: s.dropDirty.Load(),
	}
}

// RecordCycle queues one cycle's stats. It never blocks; when the writer falls
// behind the row is dropped and the cycle log remains the source of truth.
func (s *SQLiteIndex) RecordCycle(st voxelmap.CycleStats) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqCycle, cycle: st})
}

// RecordDirty queues a merge report. It has the shape of a voxelmap.Sink.
func (s *SQLiteIndex) RecordDirty(d edit.DirtyChunks) {
	if s == nil {
		return
	}
	s.enqueue(req{kind: reqDirty, dirty: d})
}

func (s *SQLiteIndex) enqueue(r req) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- r:
	default:
		if r.kind == reqCycle {
			s.dropCycle.Add(1)
		} else {
			s.dropDirty.Add(1)
		}
	}
}

// UpsertPalette stores the block catalog the map was started with.
func (s *SQLiteIndex) UpsertPalette(cat *catalogs.BlockCatalog) error {
	if s == nil || cat == nil {
		return nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	palette, err := json.Marshal(cat.Palette.Infos)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(context.Background(), nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT OR REPLACE INTO catalogs(name,digest,json,updated_at) VALUES(?,?,?,?)`,
		"blocks_palette", cat.PaletteDigest, string(palette), now); err != nil {
		return err
	}
	return tx.Commit()
}

// CyclesTouching lists, oldest first, the cycles in which key was reported
// dirty.
func (s *SQLiteIndex) CyclesTouching(ctx context.Context, key geom.Point3) ([]uint64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT cycle FROM dirty_chunks WHERE x=? AND y=? AND z=? ORDER BY cycle`, key.X, key.Y, key.Z)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uint64
	for rows.Next() {
		var c int64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, uint64(c))
	}
	return out, rows.Err()
}

// LastCycle returns the stats row of the newest indexed cycle.
func (s *SQLiteIndex) LastCycle(ctx context.Context) (voxelmap.CycleStats, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT raw_json FROM cycles ORDER BY cycle DESC LIMIT 1`).Scan(&raw)
	if err == sql.ErrNoRows {
		return voxelmap.CycleStats{}, false, nil
	}
	if err != nil {
		return voxelmap.CycleStats{}, false, err
	}
	var st voxelmap.CycleStats
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return voxelmap.CycleStats{}, false, err
	}
	return st, true, nil
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertCycle, _ := s.db.Prepare(`INSERT OR REPLACE INTO cycles(cycle,edited,dirty,removed,compressed,chunks,cached_bytes,budget_bytes,raw_json) VALUES(?,?,?,?,?,?,?,?,?)`)
	insertDirty, _ := s.db.Prepare(`INSERT OR REPLACE INTO dirty_chunks(cycle,x,y,z,edited) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertCycle != nil {
			_ = insertCycle.Close()
		}
		if insertDirty != nil {
			_ = insertDirty.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			// If we can't start a tx, we can't do much; sleep a bit.
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqCycle:
			st := r.cycle
			b, _ := json.Marshal(st)
			if insertCycle != nil {
				if _, err := tx.Stmt(insertCycle).Exec(
					int64(st.Cycle),
					st.Edited,
					st.Dirty,
					st.Removed,
					st.Compressed,
					st.Chunks,
					st.CachedBytes,
					st.Budget,
					string(b),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}

		case reqDirty:
			d := r.dirty
			if insertDirty == nil {
				break
			}
			edited := make(map[geom.Point3]struct{}, len(d.EditedChunkKeys))
			for _, k := range d.EditedChunkKeys {
				edited[k] = struct{}{}
			}
			stmt := tx.Stmt(insertDirty)
			for _, k := range d.SortedDirtyKeys() {
				_, isEdited := edited[k]
				if _, err := stmt.Exec(int64(d.Cycle), k.X, k.Y, k.Z, isEdited); err != nil {
					rollback()
					break
				}
				opCount++
			}
		}
		flushIfNeeded()
	}

	commit()
}
