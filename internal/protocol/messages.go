package protocol

import (
	"fmt"

	"voxelmap.dev/internal/edit"
	"voxelmap.dev/internal/geom"
)

// SUBSCRIBE (client -> server). First message on the stream; can be re-sent
// to change the region.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Region limits reports to chunk keys inside it. Nil means everywhere.
	Region *Region `json:"region,omitempty"`
	// SkipEmpty suppresses reports with no keys in the region.
	SkipEmpty bool `json:"skip_empty,omitempty"`
}

// Region is an inclusive box of chunk keys.
type Region struct {
	Min [3]int `json:"min"`
	Max [3]int `json:"max"`
}

func (r Region) Validate() error {
	for i := 0; i < 3; i++ {
		if r.Min[i] > r.Max[i] {
			return fmt.Errorf("region min %v exceeds max %v", r.Min, r.Max)
		}
	}
	return nil
}

func (r Region) Contains(k geom.Point3) bool {
	return k.X >= r.Min[0] && k.X <= r.Max[0] &&
		k.Y >= r.Min[1] && k.Y <= r.Max[1] &&
		k.Z >= r.Min[2] && k.Z <= r.Max[2]
}

// DIRTY_CHUNKS (server -> client), one per cycle.
type DirtyChunksMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Cycle           uint64   `json:"cycle"`
	Edited          [][3]int `json:"edited"`
	Dirty           [][3]int `json:"dirty"`
}

// NewDirtyChunksMsg converts a merge report. Keys are listed ordered by x,
// then y, then z. A nil region keeps every key.
func NewDirtyChunksMsg(d edit.DirtyChunks, region *Region) DirtyChunksMsg {
	return DirtyChunksMsg{
		Type:            TypeDirtyChunks,
		ProtocolVersion: Version,
		Cycle:           d.Cycle,
		Edited:          keyTriples(d.EditedChunkKeys, region),
		Dirty:           keyTriples(d.SortedDirtyKeys(), region),
	}
}

func (m DirtyChunksMsg) Empty() bool { return len(m.Edited) == 0 && len(m.Dirty) == 0 }

func keyTriples(keys []geom.Point3, region *Region) [][3]int {
	out := make([][3]int, 0, len(keys))
	for _, k := range keys {
		if region != nil && !region.Contains(k) {
			continue
		}
		out = append(out, [3]int{k.X, k.Y, k.Z})
	}
	return out
}

// BootstrapResponse is the HTTP response of GET /v1/dirty/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string   `json:"protocol_version"`
	ChunkShape      [3]int   `json:"chunk_shape"`
	Codec           string   `json:"codec"`
	Cycle           uint64   `json:"cycle"`
	BlockPalette    []string `json:"block_palette"`
	PaletteDigest   string   `json:"palette_digest,omitempty"`
}
