package accel

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"testing"

	"voxrt/internal/gpu"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
)

const testScratch = 1 << 20

func newTestManager(t *testing.T, scratch uint64) (*Manager, *gpu.QueueManager) {
	t.Helper()
	dev := gpu.NewDevice(&noop.Device{}, &noop.Queue{}, gpucontext.AdapterInfo{Name: "test"})
	m, err := NewManager(dev, Options{ScratchSize: scratch})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m, gpu.NewQueueManager(dev)
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatalf("%s: expected panic", name)
		}
	}()
	fn()
}

// quads builds n unit quads in the z=0 plane, side by side along x.
// Each vertex W carries the quad number as raw bits.
func quads(n int) Geometry {
	var g Geometry
	for i := range n {
		x := float32(i)
		w := math.Float32frombits(uint32(i + 1))
		base := uint32(len(g.Positions))
		g.Positions = append(g.Positions,
			mgl32.Vec4{x, 0, 0, w},
			mgl32.Vec4{x + 1, 0, 0, w},
			mgl32.Vec4{x + 1, 1, 0, w},
			mgl32.Vec4{x, 1, 0, w},
		)
		g.Triangles = append(g.Triangles, base, base+1, base+2, base, base+2, base+3)
	}
	return g
}

func TestBuildTwicePanics(t *testing.T) {
	m, qm := newTestManager(t, testScratch)
	h, err := m.AddBottomLevel([]Geometry{quads(1)})
	if err != nil {
		t.Fatalf("AddBottomLevel: %v", err)
	}
	cl, _ := qm.BeginGraphics("build")
	if err := m.Build(cl, h); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !m.BottomLevel(h).Built() {
		t.Fatal("not marked built")
	}
	mustPanic(t, "second Build", func() { m.Build(cl, h) })
}

func TestRebuildBeforeBuildPanics(t *testing.T) {
	m, qm := newTestManager(t, testScratch)
	h, _ := m.AddBottomLevel([]Geometry{quads(1)})
	cl, _ := qm.BeginGraphics("rebuild")
	mustPanic(t, "Rebuild before Build", func() { m.Rebuild(cl, h, []Geometry{quads(2)}) })
}

func TestScratchOverflowIsFatal(t *testing.T) {
	m, _ := newTestManager(t, 4096)
	mustPanic(t, "oversized bottom level", func() { m.AddBottomLevel([]Geometry{quads(100)}) })
}

func TestBuildRecordsUploadCopyAndBarrier(t *testing.T) {
	m, qm := newTestManager(t, testScratch)
	h, _ := m.AddBottomLevel([]Geometry{quads(8)})
	cl, _ := qm.BeginGraphics("build")
	if err := m.Build(cl, h); err != nil {
		t.Fatalf("Build: %v", err)
	}
	st := cl.Stats()
	if st.Uploads != 1 || st.Copies != 2 || st.Barriers != 3 {
		t.Fatalf("recorded %+v, want 1 upload, 2 copies, 3 barriers", st)
	}
	if st.UploadBytes > m.BottomLevel(h).Sizes().ResultSize {
		t.Fatalf("uploaded %d bytes into a %d byte result", st.UploadBytes, m.BottomLevel(h).Sizes().ResultSize)
	}
}

func TestPrebuildTracksMaxScratch(t *testing.T) {
	m, _ := newTestManager(t, testScratch)
	m.AddBottomLevel([]Geometry{quads(4)})
	small := m.Stats().MaxScratch
	m.AddBottomLevel([]Geometry{quads(64)})
	big := m.Stats().MaxScratch
	m.AddBottomLevel([]Geometry{quads(2)})
	if big <= small {
		t.Fatalf("max scratch did not grow: %d -> %d", small, big)
	}
	if m.Stats().MaxScratch != big {
		t.Fatal("max scratch shrank after a smaller structure")
	}
	if big%resultAlignment != 0 {
		t.Fatalf("scratch %d not aligned", big)
	}
}

func TestHitGroupsFollowIterationOrder(t *testing.T) {
	m, _ := newTestManager(t, testScratch)
	a, _ := m.AddBottomLevel([]Geometry{quads(1)})
	b, _ := m.AddBottomLevel([]Geometry{quads(1), quads(1)})
	c, _ := m.AddBottomLevel([]Geometry{quads(1)})

	wantOffsets := map[BottomLevelHandle]uint32{a: 0, b: 2, c: 6}
	for h, want := range wantOffsets {
		if got := m.BottomLevel(h).HitGroupOffset(); got != want {
			t.Fatalf("offset of %#x: got %d, want %d", h.Raw(), got, want)
		}
	}
	if n := len(m.HitGroups()); n != 8 {
		t.Fatalf("records: got %d, want 8", n)
	}
	if m.HitGroups()[0].Kind != HitGroupMain || m.HitGroups()[1].Kind != HitGroupPick {
		t.Fatal("records not paired main then pick")
	}

	inst := m.AddInstance(c, mgl32.Ident4())
	cl := discardList(t, m)
	m.RemoveBottomLevel(cl, &b)
	if !b.IsNull() {
		t.Fatal("handle not nulled")
	}
	// c moved into b's dense position.
	if got := m.BottomLevel(c).HitGroupOffset(); got != 2 {
		t.Fatalf("offset of c after remove: got %d, want 2", got)
	}
	if got := m.Instance(inst).HitGroupOffset; got != 2 {
		t.Fatalf("instance offset after remove: got %d, want 2", got)
	}
	if n := len(m.HitGroups()); n != 4 {
		t.Fatalf("records after remove: got %d, want 4", n)
	}
}

func discardList(t *testing.T, m *Manager) *gpu.CommandList {
	t.Helper()
	qm := gpu.NewQueueManager(m.dev)
	cl, err := qm.BeginGraphics("scratch")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return cl
}

func TestRemoveInstancedBottomLevelPanics(t *testing.T) {
	m, qm := newTestManager(t, testScratch)
	h, _ := m.AddBottomLevel([]Geometry{quads(1)})
	m.AddInstance(h, mgl32.Ident4())
	cl, _ := qm.BeginGraphics("remove")
	mustPanic(t, "remove while instanced", func() { m.RemoveBottomLevel(cl, &h) })
}

func TestInstanceRecordEncoding(t *testing.T) {
	m, qm := newTestManager(t, testScratch)
	h, _ := m.AddBottomLevel([]Geometry{quads(1)})
	cl, _ := qm.BeginGraphics("frame")
	m.Build(cl, h)
	inst := m.AddInstance(h, mgl32.Translate3D(64, -128, 192))
	if err := m.BuildTopLevel(cl); err != nil {
		t.Fatalf("BuildTopLevel: %v", err)
	}

	rec, err := m.dev.ReadBuffer(m.InstanceMirror(), 0, InstanceSize)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	f := func(i int) float32 { return math.Float32frombits(binary.LittleEndian.Uint32(rec[i*4:])) }
	if f(0) != 1 || f(5) != 1 || f(10) != 1 {
		t.Fatalf("diagonal: got %v %v %v", f(0), f(5), f(10))
	}
	if f(3) != 64 || f(7) != -128 || f(11) != 192 {
		t.Fatalf("translation column: got %v %v %v", f(3), f(7), f(11))
	}
	word := binary.LittleEndian.Uint32(rec[48:])
	if word>>24 != DefaultMask {
		t.Fatalf("mask: got %#x, want %#x", word>>24, DefaultMask)
	}
	if word&0xFFFFFF != m.instances.Slot(inst) {
		t.Fatalf("id: got %d, want %d", word&0xFFFFFF, m.instances.Slot(inst))
	}
	if addr := binary.LittleEndian.Uint64(rec[56:]); addr != m.BottomLevel(h).Result().Address {
		t.Fatalf("address: got %#x, want %#x", addr, m.BottomLevel(h).Result().Address)
	}
}

func TestRebuildGrowsResultAndRepointsInstances(t *testing.T) {
	m, qm := newTestManager(t, testScratch)
	h, _ := m.AddBottomLevel([]Geometry{quads(1)})
	cl, _ := qm.BeginGraphics("frame")
	m.Build(cl, h)
	inst := m.AddInstance(h, mgl32.Ident4())
	old := m.BottomLevel(h).Result()

	if err := m.Rebuild(cl, h, []Geometry{quads(200)}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	grown := m.BottomLevel(h).Result()
	if grown == old {
		t.Fatal("result buffer was not reallocated")
	}
	if got := m.Instance(inst).Address; got != grown.Address {
		t.Fatalf("instance address: got %#x, want %#x", got, grown.Address)
	}
	if !old.Alive() {
		t.Fatal("old result destroyed before its fence")
	}
	if _, err := qm.ExecuteGraphics(cl); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	qm.Collect()
	if old.Alive() {
		t.Fatal("old result survived its fence")
	}
	if m.Stats().Rebuilds != 1 {
		t.Fatalf("rebuilds: got %d, want 1", m.Stats().Rebuilds)
	}
}

func TestTraceFindsClosestTriangle(t *testing.T) {
	m, qm := newTestManager(t, testScratch)
	h, _ := m.AddBottomLevel([]Geometry{quads(4)})
	cl, _ := qm.BeginGraphics("frame")
	m.Build(cl, h)
	near := m.AddInstance(h, mgl32.Translate3D(0, 0, 5))
	m.AddInstance(h, mgl32.Translate3D(0, 0, 10))
	m.BuildTopLevel(cl)

	hit, ok := m.Trace(mgl32.Vec3{2.5, 0.25, 0}, mgl32.Vec3{0, 0, 1}, 100, DefaultMask)
	if !ok {
		t.Fatal("ray missed")
	}
	if hit.Instance != near {
		t.Fatal("hit the far instance")
	}
	if math.Abs(float64(hit.Distance-5)) > 1e-4 {
		t.Fatalf("distance: got %v, want 5", hit.Distance)
	}
	// x = 2.5 lies in the third quad, whose vertices carry W bits 3.
	if hit.Payload != 3 {
		t.Fatalf("payload: got %d, want 3", hit.Payload)
	}

	if _, ok := m.Trace(mgl32.Vec3{2.5, 0.25, 0}, mgl32.Vec3{0, 0, 1}, 4, DefaultMask); ok {
		t.Fatal("hit beyond tMax")
	}
	if _, ok := m.Trace(mgl32.Vec3{-3, 0.25, 0}, mgl32.Vec3{0, 0, 1}, 100, DefaultMask); ok {
		t.Fatal("ray beside the quads hit")
	}
	if _, ok := m.Trace(mgl32.Vec3{2.5, 0.25, 0}, mgl32.Vec3{0, 0, 1}, 100, 0); ok {
		t.Fatal("zero mask hit")
	}
}

func TestBVHVisitsEveryPrimitiveOnce(t *testing.T) {
	var bounds []aabb
	for i := range 37 {
		p := mgl32.Vec3{float32(i % 5), float32(i / 5), 0}
		bounds = append(bounds, aabb{min: p, max: p.Add(mgl32.Vec3{1, 1, 1})})
	}
	tree := buildBVH(bounds)
	seen := make(map[uint32]int)
	for _, p := range tree.order {
		seen[p]++
	}
	if len(seen) != len(bounds) {
		t.Fatalf("order covers %d primitives, want %d", len(seen), len(bounds))
	}
	if len(tree.nodes) > 2*len(bounds)-1 {
		t.Fatalf("%d nodes for %d primitives", len(tree.nodes), len(bounds))
	}
	if got := prebuild(len(bounds)).ResultSize; uint64(len(tree.encode())) > got {
		t.Fatalf("encoded %d bytes, prebuild sized %d", len(tree.encode()), got)
	}
}

// encodedOp is a copy or a barrier as it reached the encoder.
type encodedOp struct {
	barrier  bool
	src, dst hal.Buffer
	buf      hal.Buffer
	from, to gputypes.BufferUsage
}

type recordingEncoder struct {
	noop.CommandEncoder
	ops *[]encodedOp
}

func (e *recordingEncoder) CopyBufferToBuffer(src, dst hal.Buffer, _ []hal.BufferCopy) {
	*e.ops = append(*e.ops, encodedOp{src: src, dst: dst})
}

func (e *recordingEncoder) TransitionBuffers(barriers []hal.BufferBarrier) {
	for _, b := range barriers {
		*e.ops = append(*e.ops, encodedOp{barrier: true, buf: b.Buffer, from: b.Usage.OldUsage, to: b.Usage.NewUsage})
	}
}

type recordingDevice struct {
	noop.Device
	ops []encodedOp
}

func (d *recordingDevice) CreateCommandEncoder(_ *hal.CommandEncoderDescriptor) (hal.CommandEncoder, error) {
	return &recordingEncoder{ops: &d.ops}, nil
}

func TestBuildOrdersScratchAccesses(t *testing.T) {
	raw := &recordingDevice{}
	dev := gpu.NewDevice(raw, &noop.Queue{}, gpucontext.AdapterInfo{Name: "test"})
	m, err := NewManager(dev, Options{ScratchSize: testScratch})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	qm := gpu.NewQueueManager(dev)
	a, _ := m.AddBottomLevel([]Geometry{quads(2)})
	b, _ := m.AddBottomLevel([]Geometry{quads(3)})
	cl, _ := qm.BeginGraphics("build")
	defer cl.Discard()
	if err := m.Build(cl, a); err != nil {
		t.Fatalf("Build a: %v", err)
	}
	if err := m.Build(cl, b); err != nil {
		t.Fatalf("Build b: %v", err)
	}

	scratch := m.scratch.Raw()
	results := []hal.Buffer{m.BottomLevel(a).Result().Raw(), m.BottomLevel(b).Result().Raw()}
	transition := func(from, to gputypes.BufferUsage) string {
		return fmt.Sprintf("barrier %#x->%#x", from, to)
	}
	var got []string
	for _, op := range raw.ops {
		switch {
		case op.barrier && op.buf == scratch:
			got = append(got, "scratch "+transition(op.from, op.to))
		case op.barrier && slices.Contains(results, op.buf):
			got = append(got, "result "+transition(op.from, op.to))
		case !op.barrier && op.dst == scratch:
			got = append(got, "write scratch")
		case !op.barrier && op.src == scratch:
			got = append(got, "read scratch")
		}
	}

	readable := "scratch " + transition(gputypes.BufferUsageCopyDst, gputypes.BufferUsageCopySrc)
	writable := "scratch " + transition(gputypes.BufferUsageCopySrc, gputypes.BufferUsageCopyDst)
	built := "result " + transition(gputypes.BufferUsageCopyDst, gputypes.BufferUsageStorage)
	want := []string{
		"write scratch", readable, "read scratch", built, writable,
		"write scratch", readable, "read scratch", built, writable,
	}
	if !slices.Equal(got, want) {
		t.Fatalf("encoded:\n got %q\nwant %q", got, want)
	}
}

func TestScratchRewriteBeforeBarrierIsFatal(t *testing.T) {
	m, qm := newTestManager(t, testScratch)
	cl, _ := qm.BeginGraphics("scratch")
	defer cl.Discard()
	data := make([]byte, 64)

	if err := m.stageScratch(cl, data); err != nil {
		t.Fatalf("stageScratch: %v", err)
	}
	mustPanic(t, "second write before the barrier", func() { m.stageScratch(cl, data) })

	m.resolveScratch(cl, m.TopLevelResult(), uint64(len(data)))
	if err := m.stageScratch(cl, data); err != nil {
		t.Fatalf("stageScratch after the barrier: %v", err)
	}
	m.resolveScratch(cl, m.TopLevelResult(), uint64(len(data)))
}

func TestRebuildRefreshesOnlyItsHitGroups(t *testing.T) {
	m, qm := newTestManager(t, testScratch)
	a, _ := m.AddBottomLevel([]Geometry{quads(1)})
	b, _ := m.AddBottomLevel([]Geometry{quads(1)})
	cl, _ := qm.BeginGraphics("frame")
	defer cl.Discard()
	m.Build(cl, a)
	m.Build(cl, b)
	before := m.Stats().Repopulations

	verts, err := m.dev.CreateBuffer("chunk vertices", 256, gputypes.BufferUsageVertex|gputypes.BufferUsageCopyDst)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	g := quads(2)
	g.Vertices = verts
	if err := m.Rebuild(cl, a, []Geometry{g}); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if got := m.Stats().Repopulations; got != before {
		t.Fatalf("repopulations after same-shape rebuild: got %d, want %d", got, before)
	}
	if got := m.BottomLevel(b).HitGroupOffset(); got != 2 {
		t.Fatalf("offset of b: got %d, want 2", got)
	}
	if got := m.HitGroups()[1].VertexAddress; got != verts.Address {
		t.Fatalf("pick record vertex address: got %#x, want %#x", got, verts.Address)
	}
	rec, err := m.dev.ReadBuffer(m.HitGroupTable(), 24, 8)
	if err != nil {
		t.Fatalf("ReadBuffer: %v", err)
	}
	if got := binary.LittleEndian.Uint64(rec); got != verts.Address {
		t.Fatalf("uploaded vertex address: got %#x, want %#x", got, verts.Address)
	}

	if err := m.Rebuild(cl, a, []Geometry{g, quads(1)}); err != nil {
		t.Fatalf("Rebuild with another geometry: %v", err)
	}
	if got := m.Stats().Repopulations; got != before+1 {
		t.Fatalf("repopulations after reshaping rebuild: got %d, want %d", got, before+1)
	}
	if got := m.BottomLevel(b).HitGroupOffset(); got != 4 {
		t.Fatalf("offset of b after reshape: got %d, want 4", got)
	}
}
