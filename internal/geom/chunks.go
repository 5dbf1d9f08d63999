package geom

// ChunkKeyFor maps a world point to the key of the chunk containing it.
func ChunkKeyFor(p, shape Point3) Point3 {
	return p.FloorDiv(shape)
}

// ChunkExtent is the world-space extent covered by the chunk at key.
func ChunkExtent(key, shape Point3) Extent {
	return Extent{Min: key.Mul(shape), Shape: shape}
}

// ChunkKeysForExtent lists the keys of every chunk overlapping e, x fastest.
func ChunkKeysForExtent(e Extent, shape Point3) []Point3 {
	if e.Empty() {
		return nil
	}
	lo := ChunkKeyFor(e.Min, shape)
	hi := ChunkKeyFor(e.Max(), shape)
	span := ExtentFromMinAndMax(lo, hi)
	keys := make([]Point3, 0, span.Volume())
	span.ForEach(func(k Point3) { keys = append(keys, k) })
	return keys
}

// MooreNeighborhood returns key and its 26 face, edge and corner neighbours.
func MooreNeighborhood(key Point3) []Point3 {
	out := make([]Point3, 0, 27)
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				out = append(out, Point3{X: key.X + dx, Y: key.Y + dy, Z: key.Z + dz})
			}
		}
	}
	return out
}

// LinearIndex is the offset of local point p in a dense array of the given
// shape, x fastest, then y, then z.
func LinearIndex(p, shape Point3) int {
	return p.X + shape.X*(p.Y+shape.Y*p.Z)
}
