package geom

// Extent is an axis-aligned box of integer points. Shape components are the
// number of points along each axis; a box with any Shape component <= 0 is empty.
type Extent struct {
	Min   Point3 `json:"min"`
	Shape Point3 `json:"shape"`
}

func ExtentFromMinAndShape(minimum, shape Point3) Extent {
	return Extent{Min: minimum, Shape: shape}
}

// ExtentFromMinAndMax builds the extent covering [minimum, maximum] inclusive.
func ExtentFromMinAndMax(minimum, maximum Point3) Extent {
	return Extent{Min: minimum, Shape: maximum.Sub(minimum).Add(Fill(1))}
}

// Max is the inclusive maximum point.
func (e Extent) Max() Point3 { return e.Min.Add(e.Shape).Sub(Fill(1)) }

// LeastUpperBound is the exclusive upper corner.
func (e Extent) LeastUpperBound() Point3 { return e.Min.Add(e.Shape) }

func (e Extent) Empty() bool { return !e.Shape.Positive() }

func (e Extent) Volume() int {
	if e.Empty() {
		return 0
	}
	return e.Shape.Volume()
}

func (e Extent) Contains(p Point3) bool {
	lub := e.LeastUpperBound()
	return p.X >= e.Min.X && p.Y >= e.Min.Y && p.Z >= e.Min.Z &&
		p.X < lub.X && p.Y < lub.Y && p.Z < lub.Z
}

// Intersect returns the overlap of two extents, possibly empty.
func (e Extent) Intersect(o Extent) Extent {
	lo := e.Min.Max(o.Min)
	hi := e.LeastUpperBound().Min(o.LeastUpperBound())
	return Extent{Min: lo, Shape: hi.Sub(lo)}
}

// Padded grows the extent by pad on every side.
func (e Extent) Padded(pad Point3) Extent {
	return Extent{Min: e.Min.Sub(pad), Shape: e.Shape.Add(pad).Add(pad)}
}

// ForEach visits every point, x fastest, then y, then z.
func (e Extent) ForEach(fn func(p Point3)) {
	if e.Empty() {
		return
	}
	lub := e.LeastUpperBound()
	for z := e.Min.Z; z < lub.Z; z++ {
		for y := e.Min.Y; y < lub.Y; y++ {
			for x := e.Min.X; x < lub.X; x++ {
				fn(Point3{X: x, Y: y, Z: z})
			}
		}
	}
}
