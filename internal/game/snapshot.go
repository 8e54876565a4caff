package game

import (
	"fmt"
	"image"
	"image/color"
	"io"

	"voxrt/internal/accel"
	"voxrt/internal/profiling"
	"voxrt/internal/world"

	"github.com/go-gl/mathgl/mgl32"
	"golang.org/x/image/bmp"
)

var skyColor = color.RGBA{R: 135, G: 190, B: 235, A: 255}

func faceShade(f world.Face) float32 {
	switch f {
	case world.FaceTop:
		return 1
	case world.FaceBottom:
		return 0.5
	case world.FaceNorth, world.FaceSouth:
		return 0.8
	}
	return 0.65
}

// Render traces one ray per pixel against the last built top level and
// shades each hit by voxel color and face.
func (r *Renderer) Render(cam Camera, width, height int) *image.RGBA {
	defer profiling.Track("game.Render")()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for py := range height {
		for px := range width {
			img.SetRGBA(px, py, r.shade(cam, px, py, width, height))
		}
	}
	return img
}

func (r *Renderer) shade(cam Camera, px, py, width, height int) color.RGBA {
	hit, ok := r.accel.Trace(cam.Position, cam.Ray(px, py, width, height), pickDistance, accel.DefaultMask)
	if !ok {
		return skyColor
	}
	pick, ok := r.pipeline.Resolve(hit)
	if !ok {
		return skyColor
	}
	c := r.pipeline.Store().ByIndex(pick.ID.ChunkIndex())
	if c == nil {
		return skyColor
	}
	v := c.Voxels[pick.ID.VoxelIndex()]
	lit := v.Color.Vec3().Mul(faceShade(pick.Face))
	return toRGBA(lit)
}

func toRGBA(c mgl32.Vec3) color.RGBA {
	to8 := func(v float32) uint8 {
		return uint8(mgl32.Clamp(v, 0, 1)*255 + 0.5)
	}
	return color.RGBA{R: to8(c[0]), G: to8(c[1]), B: to8(c[2]), A: 255}
}

// Snapshot renders the scene and writes it to w as a BMP.
func (r *Renderer) Snapshot(w io.Writer, cam Camera, width, height int) error {
	if err := bmp.Encode(w, r.Render(cam, width, height)); err != nil {
		return fmt.Errorf("game: encode snapshot: %w", err)
	}
	return nil
}
