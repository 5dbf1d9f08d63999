package voxel

// Block is a palette-indexed voxel: the value is the block's palette id and id 0
// (AIR) is the default.
type Block uint16

func (b Block) TypeIndex() int { return int(b) }
