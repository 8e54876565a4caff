package accel

import (
	"encoding/binary"
	"math"
	"slices"

	"github.com/go-gl/mathgl/mgl32"
)

// aabb is an axis-aligned bounding box.
type aabb struct {
	min, max mgl32.Vec3
}

func emptyBox() aabb {
	inf := float32(math.Inf(1))
	return aabb{
		min: mgl32.Vec3{inf, inf, inf},
		max: mgl32.Vec3{-inf, -inf, -inf},
	}
}

func (b aabb) grow(p mgl32.Vec3) aabb {
	for i := range 3 {
		b.min[i] = min(b.min[i], p[i])
		b.max[i] = max(b.max[i], p[i])
	}
	return b
}

func (b aabb) union(o aabb) aabb {
	if o.empty() {
		return b
	}
	return b.grow(o.min).grow(o.max)
}

func (b aabb) empty() bool {
	return b.min[0] > b.max[0]
}

func (b aabb) center() mgl32.Vec3 {
	return b.min.Add(b.max).Mul(0.5)
}

// transformed returns the box around all eight corners of b under m.
func (b aabb) transformed(m mgl32.Mat4) aabb {
	if b.empty() {
		return b
	}
	out := emptyBox()
	for i := range 8 {
		c := mgl32.Vec3{b.min[0], b.min[1], b.min[2]}
		if i&1 != 0 {
			c[0] = b.max[0]
		}
		if i&2 != 0 {
			c[1] = b.max[1]
		}
		if i&4 != 0 {
			c[2] = b.max[2]
		}
		out = out.grow(mgl32.TransformCoordinate(c, m))
	}
	return out
}

// slab returns the entry distance of a ray into b, if it enters before tMax.
func (b aabb) slab(origin, invDir mgl32.Vec3, tMax float32) (float32, bool) {
	tNear, tFar := float32(0), tMax
	for i := range 3 {
		t0 := (b.min[i] - origin[i]) * invDir[i]
		t1 := (b.max[i] - origin[i]) * invDir[i]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		tNear = max(tNear, t0)
		tFar = min(tFar, t1)
		if tNear > tFar {
			return 0, false
		}
	}
	return tNear, true
}

// bvhNode takes 32 bytes. For an inner node Min.W holds the index of the
// left child and Max.W the right child, both > 0. For a leaf Min.W is the
// negated index of its first primitive in order and Max.W the negated count.
type bvhNode struct {
	Min mgl32.Vec4
	Max mgl32.Vec4
}

const (
	nodeSize = 32
	leafSize = 4
)

func (n bvhNode) leaf() bool { return n.Min[3] <= 0 }

func (n bvhNode) box() aabb {
	return aabb{min: n.Min.Vec3(), max: n.Max.Vec3()}
}

// bvh is a binary tree over primitive bounds, built by median split along
// the widest centroid axis.
type bvh struct {
	nodes []bvhNode
	order []uint32
}

func buildBVH(bounds []aabb) *bvh {
	t := &bvh{order: make([]uint32, len(bounds))}
	for i := range t.order {
		t.order[i] = uint32(i)
	}
	if len(bounds) == 0 {
		e := emptyBox()
		t.nodes = []bvhNode{{Min: e.min.Vec4(0), Max: e.max.Vec4(0)}}
		return t
	}
	centers := make([]mgl32.Vec3, len(bounds))
	for i, b := range bounds {
		centers[i] = b.center()
	}
	t.nodes = make([]bvhNode, 0, 2*len(bounds)-1)
	t.split(bounds, centers, 0, len(bounds))
	return t
}

func (t *bvh) split(bounds []aabb, centers []mgl32.Vec3, lo, hi int) int {
	idx := len(t.nodes)
	t.nodes = append(t.nodes, bvhNode{})

	box, cbox := emptyBox(), emptyBox()
	for _, p := range t.order[lo:hi] {
		box = box.union(bounds[p])
		cbox = cbox.grow(centers[p])
	}
	if hi-lo <= leafSize {
		t.nodes[idx] = bvhNode{
			Min: box.min.Vec4(-float32(lo)),
			Max: box.max.Vec4(-float32(hi - lo)),
		}
		return idx
	}

	extent := cbox.max.Sub(cbox.min)
	axis := 0
	if extent[1] > extent[axis] {
		axis = 1
	}
	if extent[2] > extent[axis] {
		axis = 2
	}
	slices.SortFunc(t.order[lo:hi], func(a, b uint32) int {
		ca, cb := centers[a][axis], centers[b][axis]
		switch {
		case ca < cb:
			return -1
		case ca > cb:
			return 1
		}
		return int(a) - int(b)
	})
	mid := (lo + hi) / 2
	left := t.split(bounds, centers, lo, mid)
	right := t.split(bounds, centers, mid, hi)
	t.nodes[idx] = bvhNode{
		Min: box.min.Vec4(float32(left)),
		Max: box.max.Vec4(float32(right)),
	}
	return idx
}

// bounds returns the box around every primitive.
func (t *bvh) bounds() aabb {
	return t.nodes[0].box()
}

// invDirection guards axis-parallel rays against 0*Inf in the slab test.
func invDirection(dir mgl32.Vec3) mgl32.Vec3 {
	const tiny = 1e-12
	var inv mgl32.Vec3
	for i := range 3 {
		d := dir[i]
		if d > -tiny && d < tiny {
			d = float32(math.Copysign(tiny, float64(d)))
		}
		inv[i] = 1 / d
	}
	return inv
}

// traverse walks every leaf whose box the ray enters before the current
// closest hit. visit receives a primitive and the current tMax and returns
// the new tMax.
func (t *bvh) traverse(origin, dir mgl32.Vec3, tMax float32, visit func(prim uint32, tMax float32) float32) float32 {
	inv := invDirection(dir)
	var stack [64]int32
	sp := 0
	stack[sp] = 0
	sp++
	for sp > 0 {
		sp--
		n := t.nodes[stack[sp]]
		if _, ok := n.box().slab(origin, inv, tMax); !ok {
			continue
		}
		if n.leaf() {
			first := int(-n.Min[3])
			count := int(-n.Max[3])
			for _, p := range t.order[first : first+count] {
				tMax = visit(p, tMax)
			}
			continue
		}
		stack[sp] = int32(n.Min[3])
		stack[sp+1] = int32(n.Max[3])
		sp += 2
	}
	return tMax
}

// encode serializes the node stream followed by the primitive order, the
// layout written into the result buffer.
func (t *bvh) encode() []byte {
	buf := make([]byte, len(t.nodes)*nodeSize+len(t.order)*4)
	off := 0
	for _, n := range t.nodes {
		for _, f := range [8]float32{n.Min[0], n.Min[1], n.Min[2], n.Min[3], n.Max[0], n.Max[1], n.Max[2], n.Max[3]} {
			binary.LittleEndian.PutUint32(buf[off:], math.Float32bits(f))
			off += 4
		}
	}
	for _, p := range t.order {
		binary.LittleEndian.PutUint32(buf[off:], p)
		off += 4
	}
	return buf
}

// intersectTriangle is the Möller-Trumbore test. Both windings count.
func intersectTriangle(origin, dir, a, b, c mgl32.Vec3) (float32, bool) {
	const eps = 1e-7
	e1 := b.Sub(a)
	e2 := c.Sub(a)
	p := dir.Cross(e2)
	det := e1.Dot(p)
	if det > -eps && det < eps {
		return 0, false
	}
	inv := 1 / det
	s := origin.Sub(a)
	u := s.Dot(p) * inv
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := dir.Dot(q) * inv
	if v < 0 || u+v > 1 {
		return 0, false
	}
	tHit := e2.Dot(q) * inv
	if tHit <= eps {
		return 0, false
	}
	return tHit, true
}
