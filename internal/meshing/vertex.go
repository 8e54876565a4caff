package meshing

import (
	"encoding/binary"
	"math"

	"voxrt/internal/world"

	"github.com/go-gl/mathgl/mgl32"
)

// VertexSize is the stride of an encoded Vertex.
const VertexSize = 32

// Vertex is the layout the hit programs read. Position.W carries the raw
// bits of the voxel's PickID and Normal.W the raw bits of its face.
type Vertex struct {
	Position mgl32.Vec4
	Normal   mgl32.Vec4
}

// PickID identifies one voxel: chunk index in the low 8 bits, linear voxel
// index above.
type PickID uint32

// NewPickID packs a chunk and voxel index.
func NewPickID(chunk uint8, voxel int) PickID {
	return PickID(uint32(chunk) | uint32(voxel)<<8)
}

// ChunkIndex returns the chunk part.
func (p PickID) ChunkIndex() uint8 { return uint8(p) }

// VoxelIndex returns the linear voxel index.
func (p PickID) VoxelIndex() int { return int(p >> 8) }

// Pick returns the identifier stored in the vertex.
func (v Vertex) Pick() PickID {
	return PickID(math.Float32bits(v.Position[3]))
}

// Face returns the face stored in the vertex.
func (v Vertex) Face() world.Face {
	return world.Face(math.Float32bits(v.Normal[3]))
}

// EncodeVertices writes vertices in their device layout.
func EncodeVertices(vs []Vertex) []byte {
	buf := make([]byte, len(vs)*VertexSize)
	for i, v := range vs {
		off := i * VertexSize
		for j := range 4 {
			binary.LittleEndian.PutUint32(buf[off+4*j:], math.Float32bits(v.Position[j]))
			binary.LittleEndian.PutUint32(buf[off+16+4*j:], math.Float32bits(v.Normal[j]))
		}
	}
	return buf
}

// EncodeIndices writes 32-bit indices in their device layout.
func EncodeIndices(is []uint32) []byte {
	buf := make([]byte, len(is)*4)
	for i, idx := range is {
		binary.LittleEndian.PutUint32(buf[i*4:], idx)
	}
	return buf
}
