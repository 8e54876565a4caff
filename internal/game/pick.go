package game

import (
	"voxrt/internal/meshing"
	"voxrt/internal/world"

	"github.com/go-gl/mathgl/mgl32"
)

// Pick is what the pick ray of a frame landed on.
type Pick struct {
	ID       meshing.PickID
	Face     world.Face
	Position mgl32.Vec3
	Distance float32
}

// EditKind selects what a queued edit does with the pick.
type EditKind int

const (
	EditCreate EditKind = iota
	EditDestroy
)

func (k EditKind) String() string {
	if k == EditCreate {
		return "create"
	}
	return "destroy"
}
