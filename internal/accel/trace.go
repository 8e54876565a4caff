package accel

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Hit is the closest intersection found by Trace.
type Hit struct {
	Instance    InstanceHandle
	BottomLevel BottomLevelHandle
	Geometry    int
	Triangle    int
	FirstVertex uint32
	Distance    float32
	Position    mgl32.Vec3
	// Payload is the raw bit pattern of the W component of the triangle's
	// first vertex.
	Payload uint32
}

// Trace finds the closest hit along origin + t*dir for t in (0, tMax]
// against the last built top level. Only instances whose mask has a bit in
// common with mask are considered.
func (m *Manager) Trace(origin, dir mgl32.Vec3, tMax float32, mask uint8) (Hit, bool) {
	if m.top == nil || dir.Len() == 0 {
		return Hit{}, false
	}
	var best Hit
	found := false
	m.top.traverse(origin, dir, tMax, func(prim uint32, tMax float32) float32 {
		e := &m.topEntries[prim]
		if e.inst.Mask&mask == 0 || !m.bottom.Contains(e.inst.BottomLevel) {
			return tMax
		}
		b := m.BottomLevel(e.inst.BottomLevel)
		if b.tree == nil {
			return tMax
		}
		// Parametric distance is preserved by an affine transform as long as
		// the direction is not renormalized.
		o := mgl32.TransformCoordinate(origin, e.inst.inverse)
		d := mgl32.TransformNormal(dir, e.inst.inverse)
		return b.tree.traverse(o, d, tMax, func(tri uint32, tMax float32) float32 {
			ref := b.tris[tri]
			g := &b.geometries[ref.geometry]
			i0, i1, i2 := g.Triangles[ref.first], g.Triangles[ref.first+1], g.Triangles[ref.first+2]
			t, ok := intersectTriangle(o, d, g.Positions[i0].Vec3(), g.Positions[i1].Vec3(), g.Positions[i2].Vec3())
			if !ok || t >= tMax {
				return tMax
			}
			found = true
			best = Hit{
				Instance:    e.handle,
				BottomLevel: e.inst.BottomLevel,
				Geometry:    int(ref.geometry),
				Triangle:    int(ref.first / 3),
				FirstVertex: i0,
				Distance:    t,
				Position:    origin.Add(dir.Mul(t)),
				Payload:     math.Float32bits(g.Positions[i0][3]),
			}
			return t
		})
	})
	return best, found
}
