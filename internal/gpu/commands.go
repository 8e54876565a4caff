package gpu

import (
	"fmt"

	"voxrt/internal/logging"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// ListStats counts what a command list recorded.
type ListStats struct {
	Copies      int
	Barriers    int
	Uploads     int
	UploadBytes uint64
}

// CommandList is an open hal encoder bound to one queue kind. Work deferred
// with Defer runs once the fence of the list's submission completes.
type CommandList struct {
	enc      hal.CommandEncoder
	dev      *Device
	kind     Kind
	label    string
	deferred []func()
	stats    ListStats
	closed   bool
}

// Kind returns the queue kind the list will be executed on.
func (cl *CommandList) Kind() Kind { return cl.kind }

// Label returns the debug label.
func (cl *CommandList) Label() string { return cl.label }

// Stats returns the counts recorded so far.
func (cl *CommandList) Stats() ListStats { return cl.stats }

// Device returns the device the list records against.
func (cl *CommandList) Device() *Device { return cl.dev }

// Encoder exposes the raw encoder for commands this type does not wrap.
func (cl *CommandList) Encoder() hal.CommandEncoder { return cl.enc }

func (cl *CommandList) mustBeOpen(op string) {
	if cl.closed {
		logging.Fatalf("gpu: %s on closed command list %q", op, cl.label)
	}
}

// Copy records a buffer-to-buffer copy.
func (cl *CommandList) Copy(src, dst *Buffer, srcOffset, dstOffset, size uint64) {
	cl.mustBeOpen("copy")
	if !src.Usage.Contains(gputypes.BufferUsageCopySrc) {
		logging.Fatalf("gpu: copy source %q lacks CopySrc usage", src.Label)
	}
	if !dst.Usage.Contains(gputypes.BufferUsageCopyDst) {
		logging.Fatalf("gpu: copy destination %q lacks CopyDst usage", dst.Label)
	}
	if srcOffset+size > src.Size || dstOffset+size > dst.Size {
		logging.Fatalf("gpu: copy of %d bytes out of range (%q %d/%d -> %q %d/%d)",
			size, src.Label, srcOffset, src.Size, dst.Label, dstOffset, dst.Size)
	}
	cl.enc.CopyBufferToBuffer(src.raw, dst.raw, []hal.BufferCopy{{
		SrcOffset: srcOffset,
		DstOffset: dstOffset,
		Size:      size,
	}})
	cl.stats.Copies++
}

// Barrier records a transition of b between two of its usages. Accesses
// recorded earlier as from complete before later accesses as to begin.
func (cl *CommandList) Barrier(b *Buffer, from, to gputypes.BufferUsage) {
	cl.mustBeOpen("barrier")
	if !b.Usage.Contains(from) || !b.Usage.Contains(to) {
		logging.Fatalf("gpu: barrier %#x -> %#x on %q with usage %#x", from, to, b.Label, b.Usage)
	}
	cl.enc.TransitionBuffers([]hal.BufferBarrier{{
		Buffer: b.raw,
		Usage: hal.BufferUsageTransition{
			OldUsage: from,
			NewUsage: to,
		},
	}})
	cl.stats.Barriers++
}

// Upload stages data in a transient buffer and records a copy into dst.
// The staging buffer is destroyed after the list's fence completes.
func (cl *CommandList) Upload(dst *Buffer, dstOffset uint64, data []byte) error {
	cl.mustBeOpen("upload")
	if len(data) == 0 {
		return nil
	}
	staging, err := cl.dev.CreateBufferWithData(dst.Label+" staging", data, gputypes.BufferUsageCopySrc)
	if err != nil {
		return fmt.Errorf("gpu: upload to %q: %w", dst.Label, err)
	}
	cl.Copy(staging, dst, 0, dstOffset, uint64(len(data)))
	cl.Defer(func() { cl.dev.DestroyBuffer(staging) })
	cl.stats.Uploads++
	cl.stats.UploadBytes += uint64(len(data))
	return nil
}

// Release destroys b once the list's work has completed.
func (cl *CommandList) Release(b *Buffer) {
	if b == nil {
		return
	}
	dev := cl.dev
	cl.Defer(func() { dev.DestroyBuffer(b) })
}

// Defer registers fn to run after the list's submission completes.
func (cl *CommandList) Defer(fn func()) {
	cl.mustBeOpen("defer")
	cl.deferred = append(cl.deferred, fn)
}

// Discard drops the recorded commands. Deferred work runs immediately
// since nothing will reference it on the device.
func (cl *CommandList) Discard() {
	if cl.closed {
		return
	}
	cl.closed = true
	cl.enc.DiscardEncoding()
	for _, fn := range cl.deferred {
		fn()
	}
	cl.deferred = nil
}

func (cl *CommandList) finish() (hal.CommandBuffer, []func(), error) {
	cl.mustBeOpen("execute")
	cl.closed = true
	cmd, err := cl.enc.EndEncoding()
	if err != nil {
		cl.enc.DiscardEncoding()
		return nil, cl.deferred, fmt.Errorf("gpu: end encoding %q: %w", cl.label, err)
	}
	deferred := cl.deferred
	cl.deferred = nil
	return cmd, deferred, nil
}
