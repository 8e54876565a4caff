package game

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"voxrt/internal/logging"
	"voxrt/internal/profiling"
)

// slowFrame is the duration above which a frame's top tasks are logged.
const slowFrame = 16 * time.Millisecond

// Step is one scripted action, applied before the given frame.
type Step struct {
	Frame int
	Look  bool
	Edit  EditKind
	Yaw   float64
	Pitch float64
}

// ParseScript reads a comma separated list of steps:
//
//	create@3            create a voxel before frame 3
//	destroy@5           destroy the picked voxel before frame 5
//	look@2:15:-10       turn by yaw 15, pitch -10 before frame 2
func ParseScript(s string) ([]Step, error) {
	var steps []Step
	for item := range strings.SplitSeq(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		verb, rest, ok := strings.Cut(item, "@")
		if !ok {
			return nil, fmt.Errorf("game: script step %q: missing @frame", item)
		}
		args := strings.Split(rest, ":")
		frame, err := strconv.Atoi(args[0])
		if err != nil || frame < 0 {
			return nil, fmt.Errorf("game: script step %q: bad frame", item)
		}
		step := Step{Frame: frame}
		switch verb {
		case "create":
			step.Edit = EditCreate
		case "destroy":
			step.Edit = EditDestroy
		case "look":
			if len(args) != 3 {
				return nil, fmt.Errorf("game: script step %q: want look@frame:yaw:pitch", item)
			}
			step.Look = true
			if step.Yaw, err = strconv.ParseFloat(args[1], 64); err != nil {
				return nil, fmt.Errorf("game: script step %q: %w", item, err)
			}
			if step.Pitch, err = strconv.ParseFloat(args[2], 64); err != nil {
				return nil, fmt.Errorf("game: script step %q: %w", item, err)
			}
		default:
			return nil, fmt.Errorf("game: script step %q: unknown action %q", item, verb)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// App runs a session for a fixed number of frames, feeding it scripted
// camera moves and edits in place of input.
type App struct {
	session    *Session
	script     []Step
	fpsLimiter *FPSLimiter
}

func NewApp(s *Session, script []Step) *App {
	return &App{
		session:    s,
		script:     script,
		fpsLimiter: NewFPSLimiter(),
	}
}

// Run renders frames until the count is reached or ctx is cancelled.
func (a *App) Run(ctx context.Context, frames int) error {
	for i := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.tick(ctx, i); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) tick(ctx context.Context, frame int) error {
	startTick := time.Now()

	for _, step := range a.script {
		if step.Frame != frame {
			continue
		}
		if step.Look {
			a.session.Camera.Look(step.Yaw, step.Pitch)
		} else {
			a.session.QueueEdit(step.Edit)
		}
	}

	if err := a.session.Update(ctx); err != nil {
		return err
	}

	// Check if frame took too long
	if d := time.Since(startTick); d > slowFrame {
		logging.Logger().Info("game: slow frame", "frame", frame, "took", d, "top", profiling.TopN(5))
	}

	a.fpsLimiter.Wait()
	return nil
}
