package accel

import (
	"fmt"

	"voxrt/internal/gpu"
	"voxrt/internal/handle"
	"voxrt/internal/logging"
	"voxrt/internal/profiling"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gputypes"
	"golang.org/x/sync/semaphore"
)

const (
	MaxBottomLevel     = 4096
	MaxInstances       = 16384
	DefaultScratchSize = 64 << 20

	maxHitGroups = MaxBottomLevel * hitGroupsPerGeometry
)

// Geometry is one indexed triangle list. The device buffers are what the hit
// programs read; Positions and Indices are the host copy the build consumes.
type Geometry struct {
	Vertices  *gpu.Buffer
	Indices   *gpu.Buffer
	Positions []mgl32.Vec4
	Triangles []uint32
}

// TriangleCount returns the number of triangles in g.
func (g Geometry) TriangleCount() int { return len(g.Triangles) / 3 }

type triRef struct {
	geometry uint32
	first    uint32
}

// BottomLevel is a structure over a set of geometries. Created by
// AddBottomLevel, built once by Build and refitted in place by Rebuild.
type BottomLevel struct {
	geometries     []Geometry
	built          bool
	hitGroupOffset uint32
	result         *gpu.Buffer
	sizes          PrebuildInfo
	tree           *bvh
	tris           []triRef
}

// Built reports whether Build has run.
func (b *BottomLevel) Built() bool { return b.built }

// Result returns the result buffer.
func (b *BottomLevel) Result() *gpu.Buffer { return b.result }

// Sizes returns the prebuild sizes of the current geometry.
func (b *BottomLevel) Sizes() PrebuildInfo { return b.sizes }

// HitGroupOffset returns the index of the structure's first hit-group record.
func (b *BottomLevel) HitGroupOffset() uint32 { return b.hitGroupOffset }

type (
	BottomLevelHandle = handle.Handle[*BottomLevel]
	InstanceHandle    = handle.Handle[Instance]
)

// Stats describes the manager's current state.
type Stats struct {
	BottomLevels   int
	Instances      int
	HitGroups      int
	Builds         int
	Rebuilds       int
	TopLevelBuilds int
	MaxScratch     uint64
	// Repopulations counts full rewrites of the hit-group table.
	Repopulations int
}

// Options configures a Manager.
type Options struct {
	ScratchSize uint64
}

// Manager owns every bottom-level structure, the instance list and the
// top-level structure over them. It is not safe for concurrent use, apart
// from the scratch buffer which guards itself against a second writer.
type Manager struct {
	dev         *gpu.Device
	scratchSize uint64
	maxScratch  uint64

	scratch      *gpu.Buffer
	scratchOwner *semaphore.Weighted

	bottom    *handle.Table[*BottomLevel]
	instances *handle.Table[Instance]

	mirror     *gpu.Buffer
	topResult  *gpu.Buffer
	top        *bvh
	topEntries []topEntry

	hitGroups      []HitGroupRecord
	hitGroupBuffer *gpu.Buffer

	stats Stats
}

type topEntry struct {
	handle InstanceHandle
	inst   Instance
}

// NewManager allocates the shared scratch buffer, the instance mirror, the
// top-level result and the hit-group table.
func NewManager(dev *gpu.Device, opts Options) (*Manager, error) {
	if opts.ScratchSize == 0 {
		opts.ScratchSize = DefaultScratchSize
	}
	m := &Manager{
		dev:          dev,
		scratchSize:  opts.ScratchSize,
		scratchOwner: semaphore.NewWeighted(1),
		bottom:       handle.NewTable[*BottomLevel](MaxBottomLevel),
		instances:    handle.NewTable[Instance](MaxInstances),
	}

	storage := gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	var err error
	if m.scratch, err = dev.CreateBuffer("accel scratch", m.scratchSize, storage|gputypes.BufferUsageCopySrc); err != nil {
		return nil, fmt.Errorf("accel: %w", err)
	}
	if m.mirror, err = dev.CreateBuffer("accel instances", MaxInstances*InstanceSize, storage); err != nil {
		m.Close()
		return nil, fmt.Errorf("accel: %w", err)
	}
	if m.topResult, err = dev.CreateBuffer("accel top level", m.scratchSize, storage); err != nil {
		m.Close()
		return nil, fmt.Errorf("accel: %w", err)
	}
	if m.hitGroupBuffer, err = dev.CreateBuffer("accel hit groups", maxHitGroups*HitGroupRecordSize, storage); err != nil {
		m.Close()
		return nil, fmt.Errorf("accel: %w", err)
	}
	return m, nil
}

// Close destroys every buffer the manager owns. The device must be idle.
func (m *Manager) Close() {
	for _, b := range m.bottom.Values() {
		m.dev.DestroyBuffer(b.result)
		b.result = nil
	}
	for _, b := range []*gpu.Buffer{m.scratch, m.mirror, m.topResult, m.hitGroupBuffer} {
		m.dev.DestroyBuffer(b)
	}
}

// Stats returns counters describing the manager.
func (m *Manager) Stats() Stats {
	s := m.stats
	s.BottomLevels = m.bottom.Len()
	s.Instances = m.instances.Len()
	s.HitGroups = len(m.hitGroups)
	s.MaxScratch = m.maxScratch
	return s
}

// ScratchSize returns the size of the shared scratch buffer.
func (m *Manager) ScratchSize() uint64 { return m.scratchSize }

// InstanceMirror returns the buffer holding the encoded instance array.
func (m *Manager) InstanceMirror() *gpu.Buffer { return m.mirror }

// TopLevelResult returns the top-level result buffer.
func (m *Manager) TopLevelResult() *gpu.Buffer { return m.topResult }

// HitGroupTable returns the hit-group buffer.
func (m *Manager) HitGroupTable() *gpu.Buffer { return m.hitGroupBuffer }

// HitGroups returns the current hit-group records.
func (m *Manager) HitGroups() []HitGroupRecord { return m.hitGroups }

// BottomLevel returns the structure behind h.
func (m *Manager) BottomLevel(h BottomLevelHandle) *BottomLevel {
	return *m.bottom.Get(h)
}

// Instance returns a copy of the instance behind h.
func (m *Manager) Instance(h InstanceHandle) Instance {
	return *m.instances.Get(h)
}

func (m *Manager) trackScratch(p PrebuildInfo) {
	m.maxScratch = max(m.maxScratch, p.scratchNeed())
	if m.maxScratch > m.scratchSize {
		logging.Fatalf("accel: build needs %d scratch bytes, only %d available", m.maxScratch, m.scratchSize)
	}
}

func prebuildGeometries(geoms []Geometry) (PrebuildInfo, int) {
	tris := 0
	for _, g := range geoms {
		tris += g.TriangleCount()
	}
	return prebuild(tris), tris
}

// AddBottomLevel registers a structure over geoms and allocates its result
// buffer. Nothing is recorded until Build.
func (m *Manager) AddBottomLevel(geoms []Geometry) (BottomLevelHandle, error) {
	sizes, tris := prebuildGeometries(geoms)
	m.trackScratch(sizes)

	result, err := m.dev.CreateBuffer("accel bottom level", sizes.ResultSize,
		gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
	if err != nil {
		return handle.Null[*BottomLevel](), fmt.Errorf("accel: add bottom level: %w", err)
	}
	h := m.bottom.Insert(&BottomLevel{
		geometries: geoms,
		result:     result,
		sizes:      sizes,
	})
	m.recomputeHitGroups()
	logging.Logger().Debug("accel: bottom level added",
		"triangles", tris, "result", sizes.ResultSize, "scratch", sizes.ScratchSize)
	return h, nil
}

// Build records the first build of h into cl. Panics if h is already built.
func (m *Manager) Build(cl *gpu.CommandList, h BottomLevelHandle) error {
	defer profiling.Track("accel.Build")()
	b := m.BottomLevel(h)
	if b.built {
		logging.Fatalf("accel: bottom level %#x built twice", h.Raw())
	}
	if err := m.record(cl, b); err != nil {
		return err
	}
	b.built = true
	m.stats.Builds++
	profiling.Count("accel.builds", 1)
	return nil
}

// Rebuild replaces the geometry of a built structure and rebuilds it in
// place. The handle, its instances and its hit-group offset are unchanged.
// Panics if h was never built.
func (m *Manager) Rebuild(cl *gpu.CommandList, h BottomLevelHandle, geoms []Geometry) error {
	defer profiling.Track("accel.Rebuild")()
	b := m.BottomLevel(h)
	if !b.built {
		logging.Fatalf("accel: rebuild of unbuilt bottom level %#x", h.Raw())
	}

	sizes, _ := prebuildGeometries(geoms)
	m.trackScratch(sizes)
	reshaped := len(geoms) != len(b.geometries)
	if sizes.ResultSize > b.result.Size {
		grown, err := m.dev.CreateBuffer("accel bottom level", sizes.ResultSize,
			gputypes.BufferUsageStorage|gputypes.BufferUsageCopyDst)
		if err != nil {
			return fmt.Errorf("accel: grow bottom level: %w", err)
		}
		cl.Release(b.result)
		b.result = grown
		for _, inst := range m.instances.All() {
			if inst.BottomLevel == h {
				inst.Address = grown.Address
			}
		}
	}
	b.geometries = geoms
	b.sizes = sizes

	if err := m.record(cl, b); err != nil {
		return err
	}
	if reshaped {
		m.recomputeHitGroups()
	} else {
		m.refreshHitGroups(h, b)
	}
	m.stats.Rebuilds++
	profiling.Count("accel.rebuilds", 1)
	return nil
}

// record runs the host build and records its upload through the scratch
// buffer into the result, followed by a scratch barrier.
func (m *Manager) record(cl *gpu.CommandList, b *BottomLevel) error {
	var bounds []aabb
	b.tris = b.tris[:0]
	for gi, g := range b.geometries {
		for t := 0; t+2 < len(g.Triangles); t += 3 {
			box := emptyBox()
			for _, idx := range g.Triangles[t : t+3] {
				box = box.grow(g.Positions[idx].Vec3())
			}
			bounds = append(bounds, box)
			b.tris = append(b.tris, triRef{geometry: uint32(gi), first: uint32(t)})
		}
	}
	b.tree = buildBVH(bounds)
	return m.writeThroughScratch(cl, b.tree.encode(), b.result)
}

// writeThroughScratch uploads data through the scratch buffer into dst.
func (m *Manager) writeThroughScratch(cl *gpu.CommandList, data []byte, dst *gpu.Buffer) error {
	size := uint64(len(data))
	if size > dst.Size {
		logging.Fatalf("accel: %d byte build exceeds result %q of %d", size, dst.Label, dst.Size)
	}
	if err := m.stageScratch(cl, data); err != nil {
		return err
	}
	m.resolveScratch(cl, dst, size)
	return nil
}

// stageScratch uploads data into the scratch buffer and makes it readable
// by the copy that follows. The scratch buffer then has a single writer
// until resolveScratch records the barrier that hands it back.
func (m *Manager) stageScratch(cl *gpu.CommandList, data []byte) error {
	if !m.scratchOwner.TryAcquire(1) {
		logging.Fatalf("accel: scratch buffer written again before its barrier")
	}
	if size := uint64(len(data)); size > m.scratch.Size {
		m.scratchOwner.Release(1)
		logging.Fatalf("accel: %d byte build exceeds scratch of %d", size, m.scratch.Size)
	}
	if err := cl.Upload(m.scratch, 0, data); err != nil {
		m.scratchOwner.Release(1)
		return fmt.Errorf("accel: stage build: %w", err)
	}
	cl.Barrier(m.scratch, gputypes.BufferUsageCopyDst, gputypes.BufferUsageCopySrc)
	return nil
}

// resolveScratch copies the staged build into dst, then orders the copy's
// read of scratch before the next upload into it.
func (m *Manager) resolveScratch(cl *gpu.CommandList, dst *gpu.Buffer, size uint64) {
	cl.Copy(m.scratch, dst, 0, 0, size)
	cl.Barrier(dst, gputypes.BufferUsageCopyDst, gputypes.BufferUsageStorage)
	cl.Barrier(m.scratch, gputypes.BufferUsageCopySrc, gputypes.BufferUsageCopyDst)
	m.scratchOwner.Release(1)
}

// RemoveBottomLevel frees *h and retires its result buffer on cl's fence.
// Instances still referring to it must be removed first.
func (m *Manager) RemoveBottomLevel(cl *gpu.CommandList, h *BottomLevelHandle) {
	b := m.BottomLevel(*h)
	for _, inst := range m.instances.All() {
		if inst.BottomLevel == *h {
			logging.Fatalf("accel: bottom level %#x removed while instanced", h.Raw())
		}
	}
	cl.Release(b.result)
	b.result = nil
	m.bottom.Remove(h)
	m.recomputeHitGroups()
}

// AddInstance places the structure behind h with the given transform.
func (m *Manager) AddInstance(h BottomLevelHandle, transform mgl32.Mat4) InstanceHandle {
	b := m.BottomLevel(h)
	return m.instances.Insert(Instance{
		Transform:      transform,
		Mask:           DefaultMask,
		HitGroupOffset: b.hitGroupOffset,
		Address:        b.result.Address,
		BottomLevel:    h,
		inverse:        transform.Inv(),
	})
}

// RemoveInstance removes *h and nulls it.
func (m *Manager) RemoveInstance(h *InstanceHandle) {
	m.instances.Remove(h)
}

// recomputeHitGroups rebuilds the table in handle iteration order: a main
// and a pick record per geometry. Instances pick up the new offsets.
func (m *Manager) recomputeHitGroups() {
	m.hitGroups = m.hitGroups[:0]
	for h, b := range m.bottom.All() {
		(*b).hitGroupOffset = uint32(len(m.hitGroups))
		m.hitGroups = append(m.hitGroups, make([]HitGroupRecord, len((*b).geometries)*hitGroupsPerGeometry)...)
		m.fillHitGroups(h, *b)
	}
	if len(m.hitGroups) > maxHitGroups {
		logging.Fatalf("accel: %d hit groups exceed table of %d", len(m.hitGroups), maxHitGroups)
	}
	for _, inst := range m.instances.All() {
		inst.HitGroupOffset = m.BottomLevel(inst.BottomLevel).hitGroupOffset
	}
	m.stats.Repopulations++
	m.uploadHitGroups(0, len(m.hitGroups))
}

// refreshHitGroups rewrites the records of one structure whose geometry
// count is unchanged. Its offset and every other record stay put.
func (m *Manager) refreshHitGroups(h BottomLevelHandle, b *BottomLevel) {
	first := int(b.hitGroupOffset)
	m.fillHitGroups(h, b)
	m.uploadHitGroups(first, first+len(b.geometries)*hitGroupsPerGeometry)
}

func (m *Manager) fillHitGroups(h BottomLevelHandle, b *BottomLevel) {
	recs := m.hitGroups[b.hitGroupOffset:]
	for gi, g := range b.geometries {
		for k, kind := range [hitGroupsPerGeometry]HitGroupKind{HitGroupMain, HitGroupPick} {
			recs[gi*hitGroupsPerGeometry+k] = HitGroupRecord{
				Kind:          kind,
				BottomLevel:   m.bottom.Slot(h),
				Geometry:      uint32(gi),
				VertexView:    viewOf(g.Vertices),
				IndexView:     viewOf(g.Indices),
				VertexAddress: addressOf(g.Vertices),
				IndexAddress:  addressOf(g.Indices),
			}
		}
	}
}

// uploadHitGroups writes records [lo, hi) to the device table.
func (m *Manager) uploadHitGroups(lo, hi int) {
	if lo >= hi {
		return
	}
	buf := make([]byte, (hi-lo)*HitGroupRecordSize)
	for i, r := range m.hitGroups[lo:hi] {
		r.encode(buf[i*HitGroupRecordSize:])
	}
	if err := m.dev.Queue().WriteBuffer(m.hitGroupBuffer.Raw(), uint64(lo*HitGroupRecordSize), buf); err != nil {
		logging.Logger().Error("accel: hit-group upload failed", "err", err)
	}
}

// BuildTopLevel encodes every instance into the mirror buffer and records
// the top-level build over their world bounds.
func (m *Manager) BuildTopLevel(cl *gpu.CommandList) error {
	defer profiling.Track("accel.BuildTopLevel")()
	n := m.instances.Len()
	m.trackScratch(prebuild(n))

	m.topEntries = m.topEntries[:0]
	bounds := make([]aabb, 0, n)
	mirror := make([]byte, n*InstanceSize)
	for h, inst := range m.instances.All() {
		b := m.BottomLevel(inst.BottomLevel)
		encodeInstance(mirror[len(m.topEntries)*InstanceSize:], m.instances.Slot(h), inst)
		m.topEntries = append(m.topEntries, topEntry{handle: h, inst: *inst})
		box := emptyBox()
		if b.tree != nil {
			box = b.tree.bounds().transformed(inst.Transform)
		}
		bounds = append(bounds, box)
	}
	if n > 0 {
		if err := m.dev.Queue().WriteBuffer(m.mirror.Raw(), 0, mirror); err != nil {
			return fmt.Errorf("accel: write instances: %w", err)
		}
	}

	m.top = buildBVH(bounds)
	if err := m.writeThroughScratch(cl, m.top.encode(), m.topResult); err != nil {
		return err
	}
	m.stats.TopLevelBuilds++
	return nil
}
