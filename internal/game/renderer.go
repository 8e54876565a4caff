package game

import (
	"context"
	"fmt"

	"voxrt/internal/accel"
	"voxrt/internal/config"
	"voxrt/internal/gpu"
	"voxrt/internal/logging"
	"voxrt/internal/profiling"
)

// pickDistance bounds the pick ray.
const pickDistance = 512

// Renderer drives the per-frame submission flow: copy work first, then a
// graphics list that waits on it and rebuilds the top level.
type Renderer struct {
	queues   *gpu.QueueManager
	accel    *accel.Manager
	pipeline *Pipeline

	frame   *Frame
	frames  int
	pick    Pick
	hasPick bool
	fence   gpu.Fence
}

// NewRenderer creates a renderer submitting on queues.
func NewRenderer(queues *gpu.QueueManager, mgr *accel.Manager, pipeline *Pipeline) *Renderer {
	return &Renderer{queues: queues, accel: mgr, pipeline: pipeline}
}

// Frames returns the number of completed frames.
func (r *Renderer) Frames() int { return r.frames }

// LastFence returns the graphics fence of the last completed frame.
func (r *Renderer) LastFence() gpu.Fence { return r.fence }

// Picked returns what the previous frame's pick ray hit.
func (r *Renderer) Picked() (Pick, bool) { return r.pick, r.hasPick }

// BeginFrame resets per-frame profiling and opens the frame's copy and
// graphics command lists.
func (r *Renderer) BeginFrame() (*Frame, error) {
	if r.frame != nil {
		logging.Fatalf("game: frame %d begun twice", r.frame.Index)
	}
	profiling.ResetFrame()
	cp, err := r.queues.BeginCopy(fmt.Sprintf("frame %d copy", r.frames))
	if err != nil {
		return nil, fmt.Errorf("game: begin frame: %w", err)
	}
	gfx, err := r.queues.BeginGraphics(fmt.Sprintf("frame %d graphics", r.frames))
	if err != nil {
		cp.Discard()
		return nil, fmt.Errorf("game: begin frame: %w", err)
	}
	r.frame = &Frame{Index: r.frames, Copy: cp, Graphics: gfx}
	return r.frame, nil
}

// RaytraceScene submits the open frame. The copy list runs first and the
// graphics queue stalls behind it; the top level is rebuilt, the pick ray is
// cast from cam, and the graphics list is submitted and waited on. Buffers
// retired on completed fences are released afterwards.
func (r *Renderer) RaytraceScene(ctx context.Context, cam Camera) error {
	defer profiling.Track("game.RaytraceScene")()
	fr := r.frame
	if fr == nil {
		logging.Fatalf("game: RaytraceScene without BeginFrame")
	}
	r.frame = nil

	if _, err := r.queues.ExecuteCopy(fr.Copy); err != nil {
		fr.Graphics.Discard()
		return fmt.Errorf("game: frame %d: %w", fr.Index, err)
	}
	r.queues.CopyToGraphicsBarrier()

	if err := r.accel.BuildTopLevel(fr.Graphics); err != nil {
		fr.Graphics.Discard()
		return fmt.Errorf("game: frame %d: %w", fr.Index, err)
	}
	r.pick, r.hasPick = r.castPick(cam)

	fence, err := r.queues.ExecuteGraphics(fr.Graphics)
	if err != nil {
		return fmt.Errorf("game: frame %d: %w", fr.Index, err)
	}
	if err := r.queues.WaitUntil(ctx, fence); err != nil {
		return fmt.Errorf("game: frame %d: %w", fr.Index, err)
	}
	r.fence = fence
	released := r.queues.Collect()
	profiling.Count("game.released", released)
	r.frames++
	return nil
}

func (r *Renderer) castPick(cam Camera) (Pick, bool) {
	defer profiling.Track("game.pick")()
	hit, ok := r.accel.Trace(cam.Position, cam.Front(), pickDistance, accel.DefaultMask)
	if !ok {
		return Pick{}, false
	}
	return r.pipeline.Resolve(hit)
}

// Resize drains both queues before changing the output size.
func (r *Renderer) Resize(ctx context.Context, width, height int) error {
	if err := r.queues.WaitForIdle(ctx); err != nil {
		return fmt.Errorf("game: resize: %w", err)
	}
	config.SetResolution(width, height)
	w, h := config.GetResolution()
	logging.Logger().Info("game: resized", "width", w, "height", h)
	return nil
}

// Abort discards the open frame, if any. Work deferred on its lists runs
// immediately.
func (r *Renderer) Abort() {
	if r.frame == nil {
		return
	}
	r.frame.Copy.Discard()
	r.frame.Graphics.Discard()
	r.frame = nil
}

// Close drops an unsubmitted frame and drains both queues.
func (r *Renderer) Close(ctx context.Context) error {
	r.Abort()
	if err := r.queues.WaitForIdle(ctx); err != nil {
		return fmt.Errorf("game: close renderer: %w", err)
	}
	return nil
}
