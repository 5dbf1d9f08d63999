// Package log writes hourly-rotated, zstd-compressed JSONL logs.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelmap.dev/internal/edit"
	"voxelmap.dev/internal/voxelmap"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// CycleEntry is one line of the cycle log.
type CycleEntry struct {
	Time   time.Time           `json:"time"`
	Stats  voxelmap.CycleStats `json:"stats"`
	Edited [][3]int            `json:"edited,omitempty"`
}

// CycleLogger writes one JSONL entry per cycle (compressed).
type CycleLogger struct {
	w *JSONLZstdWriter

	mu      sync.Mutex
	pending map[uint64][][3]int
}

func NewCycleLogger(dir string) *CycleLogger {
	return &CycleLogger{
		w:       NewJSONLZstdWriter(filepath.Join(dir, "cycles"), "cycles"),
		pending: map[uint64][][3]int{},
	}
}

// RecordDirty remembers a merge report until its cycle's stats are written.
// It has the shape of a voxelmap.Sink.
func (l *CycleLogger) RecordDirty(d edit.DirtyChunks) {
	keys := make([][3]int, 0, len(d.EditedChunkKeys))
	for _, k := range d.EditedChunkKeys {
		keys = append(keys, [3]int{k.X, k.Y, k.Z})
	}
	l.mu.Lock()
	l.pending[d.Cycle] = keys
	l.mu.Unlock()
}

func (l *CycleLogger) WriteCycle(st voxelmap.CycleStats) error {
	l.mu.Lock()
	edited := l.pending[st.Cycle]
	for c := range l.pending {
		if c <= st.Cycle {
			delete(l.pending, c)
		}
	}
	l.mu.Unlock()
	return l.w.Write(CycleEntry{Time: l.w.now().UTC(), Stats: st, Edited: edited})
}

func (l *CycleLogger) Close() error { return l.w.Close() }

// ReadCycleLog decodes every entry of one cycles-*.jsonl.zst file.
func ReadCycleLog(path string) ([]CycleEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeCycleLog(f)
}

func DecodeCycleLog(r io.Reader) ([]CycleEntry, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	var out []CycleEntry
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		var e CycleEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return out, fmt.Errorf("cycle log line %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
