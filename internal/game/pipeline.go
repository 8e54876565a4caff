package game

import (
	"context"
	"errors"
	"fmt"

	"voxrt/internal/accel"
	"voxrt/internal/config"
	"voxrt/internal/gpu"
	"voxrt/internal/handle"
	"voxrt/internal/logging"
	"voxrt/internal/meshing"
	"voxrt/internal/profiling"
	"voxrt/internal/world"

	"github.com/gogpu/gputypes"
)

var (
	ErrChunkExists  = world.ErrChunkExists
	ErrNoChunkSlots = world.ErrNoChunkSlots
	ErrNoChunk      = errors.New("game: no chunk at coordinate")
)

const (
	vertexUsage = gputypes.BufferUsageVertex | gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
	indexUsage  = gputypes.BufferUsageIndex | gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst
)

// Frame is the pair of command lists one rendered frame records into.
// Uploads go to Copy; structure builds and buffer retirement go to Graphics.
type Frame struct {
	Index    int
	Copy     *gpu.CommandList
	Graphics *gpu.CommandList
}

// chunkResources is everything the device holds for one chunk.
type chunkResources struct {
	chunk    *world.Chunk
	mesh     meshing.Mesh
	vertices *gpu.Buffer
	indices  *gpu.Buffer
	blas     accel.BottomLevelHandle
	instance accel.InstanceHandle
}

func (r *chunkResources) geometry() accel.Geometry {
	return accel.Geometry{
		Vertices:  r.vertices,
		Indices:   r.indices,
		Positions: r.mesh.Positions(),
		Triangles: r.mesh.Indices,
	}
}

// PipelineOptions sizes the mesher staging and the generation pool.
type PipelineOptions struct {
	StagingVertices int
	StagingIndices  int
	Workers         int
}

// DefaultPipelineOptions reads the current build budgets.
func DefaultPipelineOptions() PipelineOptions {
	b := config.GetBudgets()
	return PipelineOptions{
		StagingVertices: b.StagingVertices,
		StagingIndices:  b.StagingIndices,
		Workers:         config.GetWorkers(),
	}
}

// Pipeline turns voxel chunks into device geometry with one bottom-level
// structure and one instance each, and applies voxel edits. It is driven
// from a single goroutine; only voxel generation fans out to the pool.
type Pipeline struct {
	dev    *gpu.Device
	accel  *accel.Manager
	store  *world.ChunkStore
	gen    *world.Generator
	pool   *meshing.WorkerPool
	mesher *meshing.Mesher
	res    [world.MaxChunks]*chunkResources
}

// NewPipeline creates a pipeline building into mgr.
func NewPipeline(dev *gpu.Device, mgr *accel.Manager, gen *world.Generator, opts PipelineOptions) *Pipeline {
	workers := max(opts.Workers, 1)
	return &Pipeline{
		dev:    dev,
		accel:  mgr,
		store:  world.NewChunkStore(),
		gen:    gen,
		pool:   meshing.NewWorkerPool(gen, workers, workers*4),
		mesher: meshing.NewMesher(opts.StagingVertices, opts.StagingIndices),
	}
}

// Store returns the chunk store.
func (p *Pipeline) Store() *world.ChunkStore { return p.store }

// Generator returns the terrain generator.
func (p *Pipeline) Generator() *world.Generator { return p.gen }

// Mesh returns the mesh the chunk's structure was last built from.
func (p *Pipeline) Mesh(c *world.Chunk) meshing.Mesh {
	if r := p.res[c.Index]; r != nil {
		return r.mesh
	}
	return meshing.Mesh{}
}

// Instance returns the instance handle of the chunk at coord.
func (p *Pipeline) Instance(coord world.ChunkCoord) (accel.InstanceHandle, bool) {
	c := p.store.Get(coord)
	if c == nil || p.res[c.Index] == nil {
		return handle.Null[accel.Instance](), false
	}
	return p.res[c.Index].instance, true
}

// AddChunk generates, meshes and builds the chunk at coord, then places it
// at its world offset.
func (p *Pipeline) AddChunk(fr *Frame, coord world.ChunkCoord) (*world.Chunk, error) {
	c, err := p.store.Add(coord)
	if err != nil {
		return nil, err
	}
	p.gen.GenerateVoxels(c)
	if err := p.attach(fr, c); err != nil {
		p.store.Remove(coord)
		return nil, err
	}
	return c, nil
}

// AddChunks adds several chunks, generating their voxels in parallel.
// Coordinates that already hold a chunk are skipped.
func (p *Pipeline) AddChunks(ctx context.Context, fr *Frame, coords []world.ChunkCoord) ([]*world.Chunk, error) {
	defer profiling.Track("game.AddChunks")()
	chunks := make([]*world.Chunk, 0, len(coords))
	rollback := func() {
		for _, c := range chunks {
			p.store.Remove(c.Coord)
		}
	}
	for _, coord := range coords {
		c, err := p.store.Add(coord)
		if errors.Is(err, ErrChunkExists) {
			logging.Logger().Debug("game: chunk already loaded", "coord", coord)
			continue
		}
		if err != nil {
			rollback()
			return nil, err
		}
		chunks = append(chunks, c)
	}
	if err := p.pool.GenerateAll(ctx, chunks); err != nil {
		rollback()
		return nil, fmt.Errorf("game: generate chunks: %w", err)
	}
	for i, c := range chunks {
		if err := p.attach(fr, c); err != nil {
			for _, rest := range chunks[i:] {
				p.store.Remove(rest.Coord)
			}
			return chunks[:i], err
		}
	}
	logging.Logger().Info("game: chunks added", "count", len(chunks), "total", p.store.Len())
	return chunks, nil
}

// attach meshes a generated chunk and creates its structure and instance.
func (p *Pipeline) attach(fr *Frame, c *world.Chunk) error {
	r := &chunkResources{chunk: c}
	if err := p.uploadMesh(fr, r); err != nil {
		p.releaseBuffers(fr, r)
		return err
	}
	h, err := p.accel.AddBottomLevel([]accel.Geometry{r.geometry()})
	if err != nil {
		p.releaseBuffers(fr, r)
		return fmt.Errorf("game: chunk %v: %w", c.Coord, err)
	}
	if err := p.accel.Build(fr.Graphics, h); err != nil {
		p.accel.RemoveBottomLevel(fr.Graphics, &h)
		p.releaseBuffers(fr, r)
		return fmt.Errorf("game: chunk %v: %w", c.Coord, err)
	}
	r.blas = h
	r.instance = p.accel.AddInstance(h, c.Coord.Translation())
	p.res[c.Index] = r
	return nil
}

// uploadMesh meshes the chunk into staging and records the copy of the
// staged range into fresh device buffers on the copy list.
func (p *Pipeline) uploadMesh(fr *Frame, r *chunkResources) error {
	r.mesh = p.mesher.GenerateMesh(r.chunk).Clone()
	r.vertices, r.indices = nil, nil
	if r.mesh.Empty() {
		return nil
	}

	vdata := meshing.EncodeVertices(r.mesh.Vertices)
	idata := meshing.EncodeIndices(r.mesh.Indices)
	vb, err := p.dev.CreateBuffer(fmt.Sprintf("chunk %d vertices", r.chunk.Index), uint64(len(vdata)), vertexUsage)
	if err != nil {
		return fmt.Errorf("game: chunk %v: %w", r.chunk.Coord, err)
	}
	ib, err := p.dev.CreateBuffer(fmt.Sprintf("chunk %d indices", r.chunk.Index), uint64(len(idata)), indexUsage)
	if err != nil {
		p.dev.DestroyBuffer(vb)
		return fmt.Errorf("game: chunk %v: %w", r.chunk.Coord, err)
	}
	r.vertices, r.indices = vb, ib
	if err := fr.Copy.Upload(vb, 0, vdata); err != nil {
		return fmt.Errorf("game: chunk %v: %w", r.chunk.Coord, err)
	}
	if err := fr.Copy.Upload(ib, 0, idata); err != nil {
		return fmt.Errorf("game: chunk %v: %w", r.chunk.Coord, err)
	}
	profiling.Count("game.meshUploadBytes", len(vdata)+len(idata))
	return nil
}

func (p *Pipeline) releaseBuffers(fr *Frame, r *chunkResources) {
	fr.Graphics.Release(r.vertices)
	fr.Graphics.Release(r.indices)
	r.vertices, r.indices = nil, nil
}

// RemoveChunk drops the chunk's instance and structure and retires its
// buffers on the frame's graphics fence. The chunk index becomes free.
func (p *Pipeline) RemoveChunk(fr *Frame, coord world.ChunkCoord) error {
	c := p.store.Get(coord)
	if c == nil {
		return fmt.Errorf("%w %v", ErrNoChunk, coord)
	}
	if r := p.res[c.Index]; r != nil {
		p.accel.RemoveInstance(&r.instance)
		p.accel.RemoveBottomLevel(fr.Graphics, &r.blas)
		p.releaseBuffers(fr, r)
		p.res[c.Index] = nil
	}
	p.store.Remove(coord)
	return nil
}

// locate resolves local coordinates up to one chunk outside c. It returns a
// nil chunk when the neighbouring chunk is not loaded.
func (p *Pipeline) locate(c *world.Chunk, x, y, z int) (*world.Chunk, int, int, int) {
	if world.InBounds(x, y, z) {
		return c, x, y, z
	}
	wrap := func(v int) (int, int) {
		switch {
		case v < 0:
			return v + world.ChunkWidth, -1
		case v >= world.ChunkWidth:
			return v - world.ChunkWidth, 1
		}
		return v, 0
	}
	x, dx := wrap(x)
	y, dy := wrap(y)
	z, dz := wrap(z)
	n := p.store.Get(world.ChunkCoord{X: c.Coord.X + dx, Y: c.Coord.Y + dy, Z: c.Coord.Z + dz})
	return n, x, y, z
}

// CreateVoxel places a solid voxel against the picked face of the picked
// voxel. Targets in chunks that are not loaded are ignored.
func (p *Pipeline) CreateVoxel(fr *Frame, pick Pick) error {
	defer profiling.Track("game.CreateVoxel")()
	c := p.store.ByIndex(pick.ID.ChunkIndex())
	if c == nil || !pick.Face.Single() {
		return nil
	}
	x, y, z := world.Coords(pick.ID.VoxelIndex())
	src := c.At(x, y, z)
	dx, dy, dz := pick.Face.Offset()
	tc, tx, ty, tz := p.locate(c, x+dx, y+dy, z+dz)
	if tc == nil {
		logging.Logger().Debug("game: create outside loaded chunks", "chunk", c.Coord, "face", pick.Face)
		return nil
	}
	v := tc.At(tx, ty, tz)
	if v.Fill == world.Solid {
		return nil
	}
	v.Fill = world.Solid
	v.Color = src.Color
	tc.SetFacesForVoxel(tx, ty, tz)

	affected := []*world.Chunk{tc}
	for _, f := range world.Faces {
		ox, oy, oz := f.Offset()
		nc, nx, ny, nz := p.locate(tc, tx+ox, ty+oy, tz+oz)
		if nc == nil || !nc.Solid(nx, ny, nz) {
			continue
		}
		nc.At(nx, ny, nz).Faces &^= f.Opposite()
		v.Faces &^= f
		affected = appendChunk(affected, nc)
	}
	return p.regenerate(fr, affected)
}

// DestroyVoxel empties the picked voxel and exposes the faces its solid
// neighbours shared with it.
func (p *Pipeline) DestroyVoxel(fr *Frame, pick Pick) error {
	defer profiling.Track("game.DestroyVoxel")()
	c := p.store.ByIndex(pick.ID.ChunkIndex())
	if c == nil {
		return nil
	}
	x, y, z := world.Coords(pick.ID.VoxelIndex())
	v := c.At(x, y, z)
	if v.Fill == world.Empty {
		return nil
	}
	*v = world.Voxel{}

	affected := []*world.Chunk{c}
	for _, f := range world.Faces {
		ox, oy, oz := f.Offset()
		nc, nx, ny, nz := p.locate(c, x+ox, y+oy, z+oz)
		if nc == nil || !nc.Solid(nx, ny, nz) {
			continue
		}
		nc.At(nx, ny, nz).Faces |= f.Opposite()
		affected = appendChunk(affected, nc)
	}
	return p.regenerate(fr, affected)
}

func appendChunk(chunks []*world.Chunk, c *world.Chunk) []*world.Chunk {
	for _, have := range chunks {
		if have == c {
			return chunks
		}
	}
	return append(chunks, c)
}

func (p *Pipeline) regenerate(fr *Frame, chunks []*world.Chunk) error {
	for _, c := range chunks {
		if err := p.RegenerateMesh(fr, c); err != nil {
			return err
		}
	}
	return nil
}

// RegenerateMesh retires the chunk's geometry buffers on the frame's
// graphics fence, meshes it again and marks it dirty. The structure itself
// is rebuilt by RebuildUpdatedChunks.
func (p *Pipeline) RegenerateMesh(fr *Frame, c *world.Chunk) error {
	defer profiling.Track("game.RegenerateMesh")()
	r := p.res[c.Index]
	if r == nil {
		logging.Fatalf("game: regenerate chunk %v without resources", c.Coord)
	}
	p.releaseBuffers(fr, r)
	if err := p.uploadMesh(fr, r); err != nil {
		return err
	}
	c.MarkDirty()
	return nil
}

// RebuildUpdatedChunks rebuilds the structure of every dirty chunk in index
// order and clears their dirty flags. It returns how many were rebuilt.
func (p *Pipeline) RebuildUpdatedChunks(fr *Frame) (int, error) {
	defer profiling.Track("game.RebuildUpdatedChunks")()
	n := 0
	for _, c := range p.store.Chunks() {
		if !c.IsDirty() {
			continue
		}
		r := p.res[c.Index]
		if err := p.accel.Rebuild(fr.Graphics, r.blas, []accel.Geometry{r.geometry()}); err != nil {
			return n, fmt.Errorf("game: rebuild chunk %v: %w", c.Coord, err)
		}
		c.SetClean()
		n++
	}
	profiling.Count("game.rebuiltChunks", n)
	return n, nil
}

// Resolve turns a ray hit into the voxel and face it landed on.
func (p *Pipeline) Resolve(hit accel.Hit) (Pick, bool) {
	id := meshing.PickID(hit.Payload)
	r := p.res[id.ChunkIndex()]
	if r == nil || int(hit.FirstVertex) >= len(r.mesh.Vertices) {
		return Pick{}, false
	}
	return Pick{
		ID:       id,
		Face:     r.mesh.Vertices[hit.FirstVertex].Face(),
		Position: hit.Position,
		Distance: hit.Distance,
	}, true
}

// Close removes every chunk, retiring its buffers on fr, and stops the
// generation workers.
func (p *Pipeline) Close(fr *Frame) {
	for _, coord := range p.store.Coords() {
		if err := p.RemoveChunk(fr, coord); err != nil {
			logging.Logger().Warn("game: remove chunk on close", "coord", coord, "err", err)
		}
	}
	p.pool.Shutdown()
}
