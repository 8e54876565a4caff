package game

import (
	"context"
	"fmt"
	"time"

	"voxrt/internal/accel"
	"voxrt/internal/config"
	"voxrt/internal/gpu"
	"voxrt/internal/logging"
	"voxrt/internal/world"

	"github.com/go-gl/mathgl/mgl32"
)

// spawnPitch keeps the centre ray inside the spawn column until it meets
// the column's top face.
const spawnPitch = -80

// Session owns everything one run of the renderer needs except the device.
type Session struct {
	Queues   *gpu.QueueManager
	Accel    *accel.Manager
	Pipeline *Pipeline
	Renderer *Renderer
	Camera   Camera

	Frames           int
	LastFPSCheckTime time.Time
	pending          []EditKind
}

// ChunksAround lists the ground-level chunk coordinates within radius of
// the origin column.
func ChunksAround(radius int) []world.ChunkCoord {
	var out []world.ChunkCoord
	for z := -radius; z <= radius; z++ {
		for x := -radius; x <= radius; x++ {
			out = append(out, world.ChunkCoord{X: x, Z: z})
		}
	}
	return out
}

// NewSession builds the acceleration manager and chunk pipeline on dev and
// loads the chunks around the origin in a first frame.
func NewSession(ctx context.Context, dev *gpu.Device) (*Session, error) {
	queues := gpu.NewQueueManager(dev)
	mgr, err := accel.NewManager(dev, accel.Options{ScratchSize: config.GetBudgets().ScratchSize})
	if err != nil {
		return nil, err
	}
	gen := world.NewGenerator(config.GetNoise())
	pipeline := NewPipeline(dev, mgr, gen, DefaultPipelineOptions())
	r := NewRenderer(queues, mgr, pipeline)

	// Spawn just above the ground, looking almost straight down so the
	// centre ray lands on the spawn column's top face.
	x, z, groundY := spawnColumn(gen)
	cam := NewCamera(mgl32.Vec3{float32(x) + 0.5, groundY + 2, float32(z) + 0.5})
	cam.Look(0, spawnPitch)

	s := &Session{
		Queues:           queues,
		Accel:            mgr,
		Pipeline:         pipeline,
		Renderer:         r,
		Camera:           cam,
		LastFPSCheckTime: time.Now(),
	}

	fr, err := r.BeginFrame()
	if err != nil {
		pipeline.pool.Shutdown()
		s.release()
		return nil, err
	}
	if _, err := pipeline.AddChunks(ctx, fr, ChunksAround(config.GetChunkRadius())); err != nil {
		r.Abort()
		s.Cleanup(ctx)
		return nil, fmt.Errorf("game: load chunks: %w", err)
	}
	if err := r.RaytraceScene(ctx, cam); err != nil {
		s.Cleanup(ctx)
		return nil, err
	}
	return s, nil
}

// spawnColumn returns the column of the origin chunk nearest its middle
// whose surface lies inside the chunk, with a voxel of room above it.
func spawnColumn(gen *world.Generator) (x, z int, height float32) {
	const mid = world.ChunkWidth / 2
	for r := range mid + 1 {
		for dz := -r; dz <= r; dz++ {
			for dx := -r; dx <= r; dx++ {
				if dx != -r && dx != r && dz != -r && dz != r {
					continue
				}
				cx, cz := mid+dx, mid+dz
				if cx < 0 || cx >= world.ChunkWidth || cz < 0 || cz >= world.ChunkWidth {
					continue
				}
				if h := gen.SurfaceHeight(cx, 0, cz); h >= 1 && h <= world.ChunkWidth-1 {
					return cx, cz, h
				}
			}
		}
	}
	logging.Logger().Warn("game: no surface in the origin chunk, spawning mid-air")
	return mid, mid, world.ChunkWidth / 2
}

// QueueEdit schedules an edit against the current pick for the next frame.
func (s *Session) QueueEdit(k EditKind) {
	s.pending = append(s.pending, k)
}

// Update renders one frame: queued edits apply to the previous frame's pick,
// dirty chunks are rebuilt and the scene is traced.
func (s *Session) Update(ctx context.Context) error {
	fr, err := s.Renderer.BeginFrame()
	if err != nil {
		return err
	}
	if err := s.applyEdits(fr); err != nil {
		s.Renderer.Abort()
		return err
	}
	if _, err := s.Pipeline.RebuildUpdatedChunks(fr); err != nil {
		s.Renderer.Abort()
		return err
	}
	if err := s.Renderer.RaytraceScene(ctx, s.Camera); err != nil {
		return err
	}

	s.Frames++
	if time.Since(s.LastFPSCheckTime) >= time.Second {
		logging.Logger().Debug("game: fps", "frames", s.Frames)
		s.Frames = 0
		s.LastFPSCheckTime = time.Now()
	}
	return nil
}

func (s *Session) applyEdits(fr *Frame) error {
	defer func() { s.pending = s.pending[:0] }()
	pick, ok := s.Renderer.Picked()
	if !ok {
		if len(s.pending) > 0 {
			logging.Logger().Debug("game: edits dropped, nothing picked", "count", len(s.pending))
		}
		return nil
	}
	for _, k := range s.pending {
		var err error
		switch k {
		case EditCreate:
			err = s.Pipeline.CreateVoxel(fr, pick)
		case EditDestroy:
			err = s.Pipeline.DestroyVoxel(fr, pick)
		}
		if err != nil {
			return fmt.Errorf("game: %s voxel: %w", k, err)
		}
		logging.Logger().Info("game: voxel edit", "kind", k.String(),
			"chunk", pick.ID.ChunkIndex(), "voxel", pick.ID.VoxelIndex(), "face", pick.Face.String())
	}
	return nil
}

// Cleanup removes every chunk, drains the queues and releases the manager.
// The device stays open.
func (s *Session) Cleanup(ctx context.Context) error {
	var firstErr error
	fr, err := s.Renderer.BeginFrame()
	if err == nil {
		s.Pipeline.Close(fr)
		firstErr = s.Renderer.RaytraceScene(ctx, s.Camera)
	} else {
		s.Pipeline.pool.Shutdown()
		firstErr = err
	}
	if err := s.Renderer.Close(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	s.release()
	return firstErr
}

func (s *Session) release() {
	s.Accel.Close()
	s.Pipeline = nil
	s.Renderer = nil
}
