package meshing

import (
	"math"
	"slices"

	"voxrt/internal/logging"
	"voxrt/internal/profiling"
	"voxrt/internal/world"

	"github.com/go-gl/mathgl/mgl32"
)

var cubePoints = [8][3]float32{
	{0, 0, 0},
	{0, 1, 0},
	{0, 0, 1},
	{0, 1, 1},
	{1, 0, 0},
	{1, 1, 0},
	{1, 0, 1},
	{1, 1, 1},
}

// faceCorners lists the cube points of each face quad, wound v0..v3.
func faceCorners(f world.Face) [4]int {
	switch f {
	case world.FaceNorth:
		return [4]int{6, 7, 3, 2}
	case world.FaceSouth:
		return [4]int{4, 0, 1, 5}
	case world.FaceEast:
		return [4]int{4, 5, 7, 6}
	case world.FaceWest:
		return [4]int{0, 2, 3, 1}
	case world.FaceTop:
		return [4]int{5, 1, 3, 7}
	case world.FaceBottom:
		return [4]int{4, 6, 2, 0}
	}
	return [4]int{}
}

// Mesh is the triangle list of one chunk.
type Mesh struct {
	Vertices []Vertex
	Indices  []uint32
}

// Empty reports whether the mesh has no triangles.
func (m Mesh) Empty() bool { return len(m.Indices) == 0 }

// Clone returns a copy that does not alias staging memory.
func (m Mesh) Clone() Mesh {
	return Mesh{Vertices: slices.Clone(m.Vertices), Indices: slices.Clone(m.Indices)}
}

// Positions returns the vertex positions, W included.
func (m Mesh) Positions() []mgl32.Vec4 {
	out := make([]mgl32.Vec4, len(m.Vertices))
	for i, v := range m.Vertices {
		out[i] = v.Position
	}
	return out
}

// Mesher turns chunks into face quads using fixed staging arrays. It is not
// safe for concurrent use.
type Mesher struct {
	vertices []Vertex
	indices  []uint32
}

// NewMesher allocates staging room for the given vertex and index counts.
func NewMesher(maxVertices, maxIndices int) *Mesher {
	return &Mesher{
		vertices: make([]Vertex, maxVertices),
		indices:  make([]uint32, maxIndices),
	}
}

// Capacity returns the staging sizes.
func (m *Mesher) Capacity() (vertices, indices int) {
	return len(m.vertices), len(m.indices)
}

// GenerateMesh emits four vertices and six indices per visible face of every
// solid voxel, in face order and then z, y, x. The result aliases the
// staging arrays and is only valid until the next call.
func (m *Mesher) GenerateMesh(c *world.Chunk) Mesh {
	defer profiling.Track("meshing.GenerateMesh")()
	nv, ni := 0, 0
	for _, face := range world.Faces {
		corners := faceCorners(face)
		normal := face.Normal().Vec4(math.Float32frombits(uint32(face)))
		for z := range world.ChunkWidth {
			for y := range world.ChunkWidth {
				for x := range world.ChunkWidth {
					idx := world.Index(x, y, z)
					v := &c.Voxels[idx]
					if v.Fill == world.Empty || v.Faces&face == 0 {
						continue
					}
					if nv+4 > len(m.vertices) || ni+6 > len(m.indices) {
						logging.Fatalf("meshing: chunk %v overflows staging (%d vertices, %d indices)",
							c.Coord, len(m.vertices), len(m.indices))
					}
					pick := math.Float32frombits(uint32(NewPickID(c.Index, idx)))
					for i, corner := range corners {
						p := cubePoints[corner]
						m.vertices[nv+i] = Vertex{
							Position: mgl32.Vec4{float32(x) + p[0], float32(y) + p[1], float32(z) + p[2], pick},
							Normal:   normal,
						}
					}
					base := uint32(nv)
					m.indices[ni+0] = base
					m.indices[ni+1] = base + 1
					m.indices[ni+2] = base + 2
					m.indices[ni+3] = base
					m.indices[ni+4] = base + 2
					m.indices[ni+5] = base + 3
					nv += 4
					ni += 6
				}
			}
		}
	}
	profiling.Count("meshing.vertices", nv)
	return Mesh{Vertices: m.vertices[:nv], Indices: m.indices[:ni]}
}
