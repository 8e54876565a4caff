package world

import "testing"

func solidChunk() *Chunk {
	c := NewChunk(ChunkCoord{}, 0)
	for i := range c.Voxels {
		c.Voxels[i].Fill = Solid
	}
	return c
}

func TestIndexRoundTrip(t *testing.T) {
	for _, p := range [][3]int{{0, 0, 0}, {63, 0, 0}, {0, 63, 0}, {0, 0, 63}, {5, 17, 42}, {63, 63, 63}} {
		i := Index(p[0], p[1], p[2])
		x, y, z := Coords(i)
		if x != p[0] || y != p[1] || z != p[2] {
			t.Errorf("Coords(Index(%v)) = %d,%d,%d", p, x, y, z)
		}
	}
	if Index(1, 0, 0) != 1 || Index(0, 1, 0) != ChunkWidth || Index(0, 0, 1) != ChunkWidth*ChunkWidth {
		t.Error("index is not x + 64*(y + 64*z)")
	}
}

func TestFaceOppositesAndOffsets(t *testing.T) {
	for _, f := range Faces {
		if f.Opposite().Opposite() != f {
			t.Errorf("%v: opposite is not an involution", f)
		}
		dx, dy, dz := f.Offset()
		ox, oy, oz := f.Opposite().Offset()
		if dx != -ox || dy != -oy || dz != -oz {
			t.Errorf("%v: offsets do not cancel", f)
		}
		if !f.Single() {
			t.Errorf("%v: not a single face", f)
		}
	}
	if AllFaces.Single() {
		t.Error("AllFaces reported as single")
	}
	if n := FaceNorth.Normal(); n[0] != 0 || n[1] != 0 || n[2] != 1 {
		t.Errorf("north normal: got %v", n)
	}
}

// A solid chunk with one empty interior voxel has exactly six faces around
// the hole, one on each neighbour, each pointing into the hole.
func TestSetFacesAroundHole(t *testing.T) {
	c := solidChunk()
	hx, hy, hz := 10, 20, 30
	c.At(hx, hy, hz).Fill = Empty
	ComputeFaces(c)

	interior := 0
	for z := 1; z < ChunkWidth-1; z++ {
		for y := 1; y < ChunkWidth-1; y++ {
			for x := 1; x < ChunkWidth-1; x++ {
				v := c.At(x, y, z)
				if v.Fill != Solid || v.Faces == 0 {
					continue
				}
				if !v.Faces.Single() {
					t.Fatalf("voxel %d,%d,%d shows %v", x, y, z, v.Faces)
				}
				dx, dy, dz := v.Faces.Offset()
				if x+dx != hx || y+dy != hy || z+dz != hz {
					t.Fatalf("voxel %d,%d,%d face %v does not face the hole", x, y, z, v.Faces)
				}
				interior++
			}
		}
	}
	if interior != 6 {
		t.Fatalf("visible interior faces: got %d, want 6", interior)
	}
	if c.At(hx, hy, hz).Faces != 0 {
		t.Fatal("empty voxel has faces")
	}
}

func TestChunkBoundaryFacesAreVisible(t *testing.T) {
	c := solidChunk()
	ComputeFaces(c)
	if got := c.At(0, 10, 10).Faces; got&FaceWest == 0 {
		t.Errorf("x=0 voxel: west hidden (%v)", got)
	}
	if got := c.At(63, 10, 10).Faces; got&FaceEast == 0 {
		t.Errorf("x=63 voxel: east hidden (%v)", got)
	}
	if got := c.At(10, 10, 10).Faces; got != 0 {
		t.Errorf("buried voxel: got %v, want none", got)
	}
}

func TestTopEdgeColumnsExposeSides(t *testing.T) {
	c := NewChunk(ChunkCoord{}, 0)
	// A one-voxel-high floor: every voxel has a visible top.
	for z := range ChunkWidth {
		for x := range ChunkWidth {
			c.At(x, 0, z).Fill = Solid
		}
	}
	ComputeFaces(c)
	sides := FaceNorth | FaceSouth | FaceEast | FaceWest
	for _, col := range [][2]int{{0, 30}, {63, 30}, {30, 0}, {30, 63}} {
		if got := c.At(col[0], 0, col[1]).Faces; got&sides != sides {
			t.Errorf("edge column %v sides: got %v", col, got)
		}
	}
	// The floor sits at y == 0, which is not a column edge.
	if got := c.At(30, 0, 30).Faces; got != FaceTop|FaceBottom {
		t.Errorf("interior column: got %v, want top and bottom", got)
	}
}
