package geom

import "testing"

func TestFloorDivAndMod_Negative(t *testing.T) {
	cases := []struct{ a, b, q, m int }{
		{5, 16, 0, 5},
		{-1, 16, -1, 15},
		{-16, 16, -1, 0},
		{-17, 16, -2, 15},
		{32, 16, 2, 0},
	}
	for _, c := range cases {
		if got := FloorDiv(c.a, c.b); got != c.q {
			t.Fatalf("FloorDiv(%d,%d): got %d want %d", c.a, c.b, got, c.q)
		}
		if got := Mod(c.a, c.b); got != c.m {
			t.Fatalf("Mod(%d,%d): got %d want %d", c.a, c.b, got, c.m)
		}
	}
}

func TestChunkKeysForExtent_SpansBoundary(t *testing.T) {
	shape := Fill(16)
	e := ExtentFromMinAndMax(P(-1, 0, 15), P(0, 0, 16))
	keys := ChunkKeysForExtent(e, shape)
	if len(keys) != 4 {
		t.Fatalf("keys: got %d want 4 (%v)", len(keys), keys)
	}
	want := map[Point3]bool{P(-1, 0, 0): true, P(0, 0, 0): true, P(-1, 0, 1): true, P(0, 0, 1): true}
	for _, k := range keys {
		if !want[k] {
			t.Fatalf("unexpected key %v", k)
		}
	}
}

func TestChunkKeysForExtent_Empty(t *testing.T) {
	if keys := ChunkKeysForExtent(Extent{Min: P(0, 0, 0), Shape: P(0, 1, 1)}, Fill(16)); keys != nil {
		t.Fatalf("expected no keys for empty extent, got %v", keys)
	}
}

func TestMooreNeighborhood_Has27UniqueKeys(t *testing.T) {
	seen := map[Point3]bool{}
	for _, k := range MooreNeighborhood(P(2, -3, 4)) {
		seen[k] = true
	}
	if len(seen) != 27 {
		t.Fatalf("unique keys: got %d want 27", len(seen))
	}
	if !seen[P(1, -4, 3)] || !seen[P(3, -2, 5)] || !seen[P(2, -3, 4)] {
		t.Fatalf("missing corner or center key")
	}
}

func TestExtentIntersectAndContains(t *testing.T) {
	a := ExtentFromMinAndShape(P(0, 0, 0), Fill(16))
	b := ExtentFromMinAndShape(P(10, -4, 8), Fill(10))
	in := a.Intersect(b)
	if in.Min != P(10, 0, 8) || in.Shape != P(6, 6, 8) {
		t.Fatalf("intersect: got %+v", in)
	}
	if !in.Contains(P(15, 5, 15)) || in.Contains(P(16, 5, 15)) {
		t.Fatalf("contains mismatch for %+v", in)
	}
	far := ExtentFromMinAndShape(P(100, 0, 0), Fill(1))
	if !a.Intersect(far).Empty() {
		t.Fatalf("expected empty intersection")
	}
}

func TestLinearIndex_XFastest(t *testing.T) {
	shape := P(4, 3, 2)
	if got := LinearIndex(P(1, 0, 0), shape); got != 1 {
		t.Fatalf("x step: got %d want 1", got)
	}
	if got := LinearIndex(P(0, 1, 0), shape); got != 4 {
		t.Fatalf("y step: got %d want 4", got)
	}
	if got := LinearIndex(P(3, 2, 1), shape); got != shape.Volume()-1 {
		t.Fatalf("last: got %d want %d", got, shape.Volume()-1)
	}
}
