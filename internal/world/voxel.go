package world

import (
	"strings"

	"github.com/go-gl/mathgl/mgl32"
)

const (
	// ChunkWidth is the edge length of a cubic chunk in voxels.
	ChunkWidth  = 64
	ChunkVolume = ChunkWidth * ChunkWidth * ChunkWidth
)

// FillType is the occupancy of a voxel.
type FillType uint8

const (
	Empty FillType = iota
	Solid
	Transparent
)

// Face is one bit of a visible-face mask.
type Face uint8

const (
	FaceNorth  Face = 1 << iota // +z
	FaceSouth                   // -z
	FaceEast                    // +x
	FaceWest                    // -x
	FaceTop                     // +y
	FaceBottom                  // -y

	AllFaces = FaceNorth | FaceSouth | FaceEast | FaceWest | FaceTop | FaceBottom
)

// Faces lists every face in meshing order.
var Faces = [6]Face{FaceNorth, FaceSouth, FaceEast, FaceWest, FaceTop, FaceBottom}

// Offset returns the step to the neighbour across f.
func (f Face) Offset() (dx, dy, dz int) {
	switch f {
	case FaceNorth:
		return 0, 0, 1
	case FaceSouth:
		return 0, 0, -1
	case FaceEast:
		return 1, 0, 0
	case FaceWest:
		return -1, 0, 0
	case FaceTop:
		return 0, 1, 0
	case FaceBottom:
		return 0, -1, 0
	}
	return 0, 0, 0
}

// Opposite returns the face pointing the other way.
func (f Face) Opposite() Face {
	switch f {
	case FaceNorth:
		return FaceSouth
	case FaceSouth:
		return FaceNorth
	case FaceEast:
		return FaceWest
	case FaceWest:
		return FaceEast
	case FaceTop:
		return FaceBottom
	case FaceBottom:
		return FaceTop
	}
	return 0
}

// Normal returns the outward unit normal of f.
func (f Face) Normal() mgl32.Vec3 {
	dx, dy, dz := f.Offset()
	return mgl32.Vec3{float32(dx), float32(dy), float32(dz)}
}

// Single reports whether f names exactly one face.
func (f Face) Single() bool {
	return f != 0 && f&(f-1) == 0 && f&^AllFaces == 0
}

func (f Face) String() string {
	names := [...]string{"north", "south", "east", "west", "top", "bottom"}
	var parts []string
	for i, face := range Faces {
		if f&face != 0 {
			parts = append(parts, names[i])
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Voxel is one cell of a chunk.
type Voxel struct {
	Fill  FillType
	Faces Face
	Color mgl32.Vec4
}

// Index converts chunk-local coordinates to a linear voxel index.
func Index(x, y, z int) int {
	return x + ChunkWidth*(y+ChunkWidth*z)
}

// Coords reverses Index.
func Coords(i int) (x, y, z int) {
	return i % ChunkWidth, (i / ChunkWidth) % ChunkWidth, i / (ChunkWidth * ChunkWidth)
}

// InBounds reports whether the coordinates lie inside a chunk.
func InBounds(x, y, z int) bool {
	return x >= 0 && x < ChunkWidth && y >= 0 && y < ChunkWidth && z >= 0 && z < ChunkWidth
}
