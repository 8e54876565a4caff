package gpu

import (
	"context"
	"fmt"

	"voxrt/internal/logging"
)

// QueueManager owns the graphics and copy queues of one device and the
// retirer both release deferred work through.
type QueueManager struct {
	Graphics *Queue
	Copy     *Queue

	dev     *Device
	retirer *Retirer
}

// NewQueueManager creates both logical queues on the device's hal queue.
// Submission order on a shared hal queue provides the copy-to-graphics
// ordering that StallBehind asks for.
func NewQueueManager(dev *Device) *QueueManager {
	r := &Retirer{}
	return &QueueManager{
		Graphics: NewQueue(dev, dev.Queue(), KindGraphics, r),
		Copy:     NewQueue(dev, dev.Queue(), KindCopy, r),
		dev:      dev,
		retirer:  r,
	}
}

// Device returns the device the queues submit to.
func (m *QueueManager) Device() *Device { return m.dev }

// Retirer returns the shared retirer.
func (m *QueueManager) Retirer() *Retirer { return m.retirer }

// Queue returns the queue of the given kind.
func (m *QueueManager) Queue(k Kind) *Queue {
	switch k {
	case KindGraphics:
		return m.Graphics
	case KindCopy:
		return m.Copy
	}
	logging.Fatalf("gpu: no queue of kind %s", k)
	return nil
}

// BeginGraphics opens a command list for the graphics queue.
func (m *QueueManager) BeginGraphics(label string) (*CommandList, error) {
	return m.Graphics.Begin(label)
}

// BeginCopy opens a command list for the copy queue.
func (m *QueueManager) BeginCopy(label string) (*CommandList, error) {
	return m.Copy.Begin(label)
}

// ExecuteGraphics submits cl on the graphics queue.
func (m *QueueManager) ExecuteGraphics(cl *CommandList) (Fence, error) {
	return m.Graphics.Execute(cl)
}

// ExecuteCopy submits cl on the copy queue.
func (m *QueueManager) ExecuteCopy(cl *CommandList) (Fence, error) {
	return m.Copy.Execute(cl)
}

// CopyToGraphicsBarrier makes later graphics work wait for everything the
// copy queue has been given so far.
func (m *QueueManager) CopyToGraphicsBarrier() {
	m.Graphics.StallBehind(m.Copy)
}

// QueryCompleted routes f to the queue its kind names.
func (m *QueueManager) QueryCompleted(f Fence) bool {
	return m.Queue(f.Kind).QueryCompleted(f)
}

// WaitUntil routes f to the queue its kind names and blocks until it completes.
func (m *QueueManager) WaitUntil(ctx context.Context, f Fence) error {
	return m.Queue(f.Kind).WaitUntil(ctx, f)
}

// WaitForIdle drains both queues, then runs all deferred releases.
func (m *QueueManager) WaitForIdle(ctx context.Context) error {
	if err := m.Copy.WaitForIdle(ctx); err != nil {
		return fmt.Errorf("gpu: copy queue idle: %w", err)
	}
	if err := m.Graphics.WaitForIdle(ctx); err != nil {
		return fmt.Errorf("gpu: graphics queue idle: %w", err)
	}
	m.retirer.Flush()
	return nil
}

// Collect releases deferred work whose fences have completed.
func (m *QueueManager) Collect() int {
	return m.retirer.Collect()
}
