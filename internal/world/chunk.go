package world

import (
	"github.com/go-gl/mathgl/mgl32"
)

// ChunkCoord addresses a chunk in chunk units.
type ChunkCoord struct {
	X, Y, Z int
}

// Offset returns the world position of the chunk's (0,0,0) voxel.
func (c ChunkCoord) Offset() [3]int {
	return [3]int{c.X * ChunkWidth, c.Y * ChunkWidth, c.Z * ChunkWidth}
}

// Translation returns the instance transform placing the chunk in the world.
func (c ChunkCoord) Translation() mgl32.Mat4 {
	o := c.Offset()
	return mgl32.Translate3D(float32(o[0]), float32(o[1]), float32(o[2]))
}

// Neighbor returns the coordinate of the adjacent chunk across f.
func (c ChunkCoord) Neighbor(f Face) ChunkCoord {
	dx, dy, dz := f.Offset()
	return ChunkCoord{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
}

// Chunk is a 64x64x64 block of voxels. Index is stable for the chunk's
// lifetime and is what pick identifiers carry.
type Chunk struct {
	Coord  ChunkCoord
	Index  uint8
	Voxels []Voxel
	dirty  bool
}

// NewChunk creates an empty chunk.
func NewChunk(coord ChunkCoord, index uint8) *Chunk {
	return &Chunk{
		Coord:  coord,
		Index:  index,
		Voxels: make([]Voxel, ChunkVolume),
	}
}

// At returns the voxel at local coordinates, which must be in bounds.
func (c *Chunk) At(x, y, z int) *Voxel {
	return &c.Voxels[Index(x, y, z)]
}

// Solid reports whether the voxel is solid. Out of bounds is never solid.
func (c *Chunk) Solid(x, y, z int) bool {
	return InBounds(x, y, z) && c.Voxels[Index(x, y, z)].Fill == Solid
}

// SetFacesForVoxel exposes all six faces of the voxel, then hides each face
// whose in-chunk neighbour is solid.
func (c *Chunk) SetFacesForVoxel(x, y, z int) {
	v := c.At(x, y, z)
	v.Faces = AllFaces
	for _, f := range Faces {
		dx, dy, dz := f.Offset()
		if c.Solid(x+dx, y+dy, z+dz) {
			v.Faces &^= f
		}
	}
}

// SolidCount returns the number of solid voxels.
func (c *Chunk) SolidCount() int {
	n := 0
	for i := range c.Voxels {
		if c.Voxels[i].Fill == Solid {
			n++
		}
	}
	return n
}

// IsDirty reports whether the chunk changed since its structure was rebuilt.
func (c *Chunk) IsDirty() bool {
	return c.dirty
}

// MarkDirty flags the chunk for a structure rebuild.
func (c *Chunk) MarkDirty() {
	c.dirty = true
}

// SetClean clears the dirty flag.
func (c *Chunk) SetClean() {
	c.dirty = false
}
