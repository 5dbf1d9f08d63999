package geom

import "fmt"

// Point3 is an integer 3D coordinate. It is used both for world-space voxel
// positions and for chunk-space keys.
type Point3 struct {
	X int `json:"x"`
	Y int `json:"y"`
	Z int `json:"z"`
}

func P(x, y, z int) Point3 { return Point3{X: x, Y: y, Z: z} }

// Fill returns a point with all three components set to v.
func Fill(v int) Point3 { return Point3{X: v, Y: v, Z: v} }

func (p Point3) Add(q Point3) Point3 { return Point3{X: p.X + q.X, Y: p.Y + q.Y, Z: p.Z + q.Z} }
func (p Point3) Sub(q Point3) Point3 { return Point3{X: p.X - q.X, Y: p.Y - q.Y, Z: p.Z - q.Z} }
func (p Point3) Mul(q Point3) Point3 { return Point3{X: p.X * q.X, Y: p.Y * q.Y, Z: p.Z * q.Z} }

// FloorDiv divides component-wise, rounding toward negative infinity.
func (p Point3) FloorDiv(q Point3) Point3 {
	return Point3{X: FloorDiv(p.X, q.X), Y: FloorDiv(p.Y, q.Y), Z: FloorDiv(p.Z, q.Z)}
}

// Mod is the component-wise non-negative remainder.
func (p Point3) Mod(q Point3) Point3 {
	return Point3{X: Mod(p.X, q.X), Y: Mod(p.Y, q.Y), Z: Mod(p.Z, q.Z)}
}

func (p Point3) Min(q Point3) Point3 {
	return Point3{X: min(p.X, q.X), Y: min(p.Y, q.Y), Z: min(p.Z, q.Z)}
}

func (p Point3) Max(q Point3) Point3 {
	return Point3{X: max(p.X, q.X), Y: max(p.Y, q.Y), Z: max(p.Z, q.Z)}
}

// Positive reports whether every component is > 0.
func (p Point3) Positive() bool { return p.X > 0 && p.Y > 0 && p.Z > 0 }

// Volume is X*Y*Z.
func (p Point3) Volume() int { return p.X * p.Y * p.Z }

func (p Point3) String() string { return fmt.Sprintf("(%d,%d,%d)", p.X, p.Y, p.Z) }

// Less orders points by X, then Y, then Z.
func Less(a, b Point3) bool {
	if a.X != b.X {
		return a.X < b.X
	}
	if a.Y != b.Y {
		return a.Y < b.Y
	}
	return a.Z < b.Z
}
