package gpu

import (
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// NoView marks a buffer without a descriptor slot.
const NoView = math.MaxUint32

// Buffer is a device buffer plus the bookkeeping the renderer needs:
// a device address for acceleration structure references and an optional
// shader-visible descriptor slot.
type Buffer struct {
	raw hal.Buffer

	Label   string
	Size    uint64
	Usage   gputypes.BufferUsage
	Address uint64
	View    uint32
}

// Raw returns the hal buffer, nil after destruction.
func (b *Buffer) Raw() hal.Buffer {
	return b.raw
}

// Alive reports whether the buffer has not been destroyed.
func (b *Buffer) Alive() bool {
	return b != nil && b.raw != nil
}
