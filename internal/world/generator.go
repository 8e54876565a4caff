package world

import (
	"voxrt/internal/config"
	"voxrt/internal/profiling"

	"github.com/go-gl/mathgl/mgl32"
)

var (
	grassColor = mgl32.Vec4{0.33, 0.62, 0.24, 1}
	dirtColor  = mgl32.Vec4{0.45, 0.32, 0.2, 1}
	stoneColor = mgl32.Vec4{0.5, 0.5, 0.52, 1}
)

// dirtDepth is how many voxels of dirt sit under the grass.
const dirtDepth = 3

// Generator fills chunks from a noise heightfield.
type Generator struct {
	noise *Fractal
	scale float64
}

// NewGenerator creates a generator from noise settings.
func NewGenerator(s config.NoiseSettings) *Generator {
	return &Generator{
		noise: NewFractal(s.Seed, s.Frequency, s.Octaves, s.Lacunarity, s.Gain),
		scale: s.SampleScale,
	}
}

// SurfaceHeight returns the noise cutoff at world column (wx, wz) for a
// chunk whose base is at world height wy. Voxels strictly below it are solid.
func (g *Generator) SurfaceHeight(wx, wy, wz int) float32 {
	n := g.noise.Sample(float64(wx)*g.scale, float64(wy)*g.scale, float64(wz)*g.scale)
	return float32(ChunkWidth * ((n + 0.8) / 1.6))
}

// GenerateVoxels assigns fill states and colors, then visible faces.
func (g *Generator) GenerateVoxels(c *Chunk) {
	defer profiling.Track("world.GenerateVoxels")()
	off := c.Coord.Offset()

	for z := range ChunkWidth {
		for x := range ChunkWidth {
			cutoff := g.SurfaceHeight(off[0]+x, off[1], off[2]+z)
			for y := range ChunkWidth {
				v := c.At(x, y, z)
				*v = Voxel{}
				wy := float32(y + off[1])
				if wy >= cutoff {
					continue
				}
				v.Fill = Solid
				switch depth := cutoff - wy; {
				case depth <= 1:
					v.Color = grassColor
				case depth <= 1+dirtDepth:
					v.Color = dirtColor
				default:
					v.Color = stoneColor
				}
			}
		}
	}
	ComputeFaces(c)
}

// ComputeFaces runs SetFacesForVoxel over every solid voxel. Columns whose
// top is visible on a chunk edge also expose their four side faces, so
// seams next to chunks that are not meshed yet stay closed.
func ComputeFaces(c *Chunk) {
	const last = ChunkWidth - 1
	for z := range ChunkWidth {
		for y := range ChunkWidth {
			for x := range ChunkWidth {
				v := c.At(x, y, z)
				if v.Fill != Solid {
					v.Faces = 0
					continue
				}
				c.SetFacesForVoxel(x, y, z)
				if v.Faces&FaceTop == 0 {
					continue
				}
				if x == 0 || x == last || z == 0 || z == last {
					v.Faces |= FaceNorth | FaceSouth | FaceEast | FaceWest
				}
			}
		}
	}
}
