package game

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

const defaultFovY = 70

// Camera is a yaw/pitch free-look camera. Angles are in degrees.
type Camera struct {
	Position mgl32.Vec3
	Yaw      float64
	Pitch    float64
	FovY     float32
}

// NewCamera creates a camera at pos looking down -z.
func NewCamera(pos mgl32.Vec3) Camera {
	return Camera{Position: pos, Yaw: -90, FovY: defaultFovY}
}

// Look turns the camera. Pitch is constrained to avoid flipping at the poles.
func (c *Camera) Look(yaw, pitch float64) {
	c.Yaw += yaw
	c.Pitch += pitch
	if c.Pitch > 89.0 {
		c.Pitch = 89.0
	}
	if c.Pitch < -89.0 {
		c.Pitch = -89.0
	}
}

func (c Camera) Front() mgl32.Vec3 {
	y := mgl32.DegToRad(float32(c.Yaw))
	pt := mgl32.DegToRad(float32(c.Pitch))
	fx := float32(math.Cos(float64(y)) * math.Cos(float64(pt)))
	fy := float32(math.Sin(float64(pt)))
	fz := float32(math.Sin(float64(y)) * math.Cos(float64(pt)))
	return mgl32.Vec3{fx, fy, fz}.Normalize()
}

// ViewMatrix returns the world-to-view transform.
func (c Camera) ViewMatrix() mgl32.Mat4 {
	return mgl32.LookAtV(c.Position, c.Position.Add(c.Front()), mgl32.Vec3{0, 1, 0})
}

// Ray returns the unit direction through the centre of pixel (px, py) of a
// width x height image, y growing downwards.
func (c Camera) Ray(px, py, width, height int) mgl32.Vec3 {
	fov := c.FovY
	if fov <= 0 {
		fov = defaultFovY
	}
	tanHalf := float32(math.Tan(float64(mgl32.DegToRad(fov)) / 2))
	aspect := float32(width) / float32(height)
	sx := (2*(float32(px)+0.5)/float32(width) - 1) * aspect * tanHalf
	sy := (1 - 2*(float32(py)+0.5)/float32(height)) * tanHalf
	// View space looks down -z; the inverse view takes the ray to world space.
	dir := c.ViewMatrix().Inv().Mul4x1(mgl32.Vec4{sx, sy, -1, 0})
	return dir.Vec3().Normalize()
}
