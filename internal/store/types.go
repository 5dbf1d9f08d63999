// Package store implements the sparse chunk store: a map from chunk keys to
// dense voxel arrays, each held either decompressed or as a codec blob, with a
// shared LRU of decompressed chunks that is trimmed by recompression.
package store

import (
	"errors"
	"fmt"
	"strings"

	"voxelmap.dev/internal/geom"
)

// ChunkKey is a chunk's coordinate in chunk space.
type ChunkKey = geom.Point3

var (
	ErrCorruptChunk     = errors.New("store: corrupt chunk")
	ErrShapeMismatch    = errors.New("store: chunk shape mismatch")
	ErrForeignCache     = errors.New("store: local cache belongs to another store")
	ErrUnsupportedVoxel = errors.New("store: unsupported voxel type")
	ErrInvalidShape     = errors.New("store: invalid chunk shape")
)

// ScanScope selects which chunks the empty-chunk pass examines.
type ScanScope int

const (
	// ScanAll checks every stored chunk.
	ScanAll ScanScope = iota
	// ScanTouched checks only the chunks written by the most recent merge.
	ScanTouched
)

func (s ScanScope) String() string {
	switch s {
	case ScanTouched:
		return "touched"
	default:
		return "all"
	}
}

func ParseScanScope(s string) (ScanScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return ScanAll, nil
	case "touched":
		return ScanTouched, nil
	default:
		return ScanAll, fmt.Errorf("unknown empty scan scope %q", s)
	}
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Chunks          int   `json:"chunks"`
	Decompressed    int   `json:"decompressed"`
	Compressed      int   `json:"compressed"`
	CachedBytes     int64 `json:"cached_bytes"`
	CompressedBytes int64 `json:"compressed_bytes"`
}
