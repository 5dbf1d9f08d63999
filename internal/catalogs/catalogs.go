// Package catalogs loads the block catalog that backs the voxel palette.
package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"voxelmap.dev/internal/voxel"
)

type BlockDef struct {
	ID    string `json:"id"`
	Solid bool   `json:"solid"`
	// Empty blocks count as vacant space when pruning chunks.
	Empty bool `json:"empty,omitempty"`
}

type BlockCatalog struct {
	Palette       voxel.Palette[BlockDef]
	Index         map[string]voxel.Block
	PaletteDigest string
	DefsDigest    string
}

// Block returns the voxel for a block id.
func (c *BlockCatalog) Block(id string) (voxel.Block, bool) {
	b, ok := c.Index[id]
	return b, ok
}

// IsEmpty reports whether def counts as vacant space.
func IsEmpty(def BlockDef) bool { return def.Empty }

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// LoadBlocks reads a blocks.json file.
func LoadBlocks(path string) (*BlockCatalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseBlocks(raw)
}

// ParseBlocks builds the palette from a JSON array of block definitions.
// Ids are sorted, except AIR, which is required and always palette index 0 so
// that the zero voxel is air.
func ParseBlocks(raw []byte) (*BlockCatalog, error) {
	out := &BlockCatalog{DefsDigest: sha256Hex(raw)}

	var defs []BlockDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return nil, fmt.Errorf("blocks.json: %w", err)
	}
	byID := map[string]BlockDef{}
	for _, d := range defs {
		if d.ID == "" {
			return nil, fmt.Errorf("blocks.json: empty id")
		}
		if _, dup := byID[d.ID]; dup {
			return nil, fmt.Errorf("blocks.json: duplicate id %q", d.ID)
		}
		byID[d.ID] = d
	}
	if _, ok := byID["AIR"]; !ok {
		return nil, fmt.Errorf("blocks.json: missing AIR")
	}
	if len(byID) > 1<<16 {
		return nil, fmt.Errorf("blocks.json: %d blocks do not fit a 16-bit palette", len(byID))
	}

	ids := make([]string, 0, len(byID))
	for id := range byID {
		if id != "AIR" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	ids = append([]string{"AIR"}, ids...)

	infos := make([]BlockDef, len(ids))
	out.Index = make(map[string]voxel.Block, len(ids))
	for i, id := range ids {
		infos[i] = byID[id]
		out.Index[id] = voxel.Block(i)
	}
	out.Palette = voxel.NewPalette(infos...)
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return out, nil
}
