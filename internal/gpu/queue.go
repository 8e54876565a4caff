package gpu

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"voxrt/internal/logging"

	"github.com/gogpu/wgpu/hal"
)

// ErrNeverSignaled is returned when waiting on a counter the queue has not
// issued yet. Such a wait could never finish.
var ErrNeverSignaled = errors.New("gpu: fence value was never issued")

// Kind identifies a logical queue. It doubles as the tag stored in the top
// byte of a packed fence value.
type Kind uint8

const (
	KindGraphics Kind = iota
	KindCopy
)

func (k Kind) String() string {
	switch k {
	case KindGraphics:
		return "graphics"
	case KindCopy:
		return "copy"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

const (
	kindShift = 56
	valueMask = 1<<kindShift - 1
)

// Fence is a completion counter on one queue. Values are only comparable
// between fences of the same kind.
type Fence struct {
	Kind  Kind
	Value uint64
}

// Packed returns the tagged 64-bit form: kind in the top byte, counter below.
func (f Fence) Packed() uint64 {
	return uint64(f.Kind)<<kindShift | f.Value&valueMask
}

// UnpackFence reverses Fence.Packed.
func UnpackFence(v uint64) Fence {
	return Fence{Kind: Kind(v >> kindShift), Value: v & valueMask}
}

func (f Fence) String() string {
	return fmt.Sprintf("%s#%d", f.Kind, f.Value)
}

// batch is one Execute or Signal. Batches stay queued until submitted and
// completed; held batches wait for a dependency on another queue first.
type batch struct {
	value     uint64
	cmds      []hal.CommandBuffer
	submitted bool
	index     uint64
	wait      *dependency
}

type dependency struct {
	queue *Queue
	value uint64
}

const (
	minBackoff = 50 * time.Microsecond
	maxBackoff = 2 * time.Millisecond
)

// Queue models one hardware command queue and its completion counter.
// Counters start at 1 and increase by one per Execute or Signal.
// Several Queues may share a hal queue; each keeps its own timeline.
type Queue struct {
	kind    Kind
	dev     *Device
	raw     hal.Queue
	retirer *Retirer

	mu        sync.Mutex
	next      uint64
	completed uint64
	batches   []batch
	stall     *dependency
	polls     int
}

// NewQueue creates a logical queue of the given kind on top of raw.
// Deferred work from executed command lists is handed to retirer.
func NewQueue(dev *Device, raw hal.Queue, kind Kind, retirer *Retirer) *Queue {
	return &Queue{
		kind:    kind,
		dev:     dev,
		raw:     raw,
		retirer: retirer,
		next:    1,
	}
}

// Kind returns the queue kind.
func (q *Queue) Kind() Kind { return q.kind }

// LastIssued returns the most recently issued fence, the zero counter if
// nothing has been issued.
func (q *Queue) LastIssued() Fence {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Fence{Kind: q.kind, Value: q.next - 1}
}

// Completed returns the cached completed counter without polling.
func (q *Queue) Completed() Fence {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Fence{Kind: q.kind, Value: q.completed}
}

// Polls reports how many times the hal queue was polled. Mostly useful to
// check the completed-value cache.
func (q *Queue) Polls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.polls
}

// Begin opens a command list for this queue.
func (q *Queue) Begin(label string) (*CommandList, error) {
	enc, err := q.dev.raw.CreateCommandEncoder(&hal.CommandEncoderDescriptor{Label: label})
	if err != nil {
		return nil, fmt.Errorf("gpu: create encoder %q: %w", label, err)
	}
	if err := enc.BeginEncoding(label); err != nil {
		return nil, fmt.Errorf("gpu: begin encoding %q: %w", label, err)
	}
	return &CommandList{enc: enc, dev: q.dev, kind: q.kind, label: label}, nil
}

// Execute closes cl and submits it. The returned fence completes when the
// recorded work has finished. Work deferred on cl is released on that fence.
func (q *Queue) Execute(cl *CommandList) (Fence, error) {
	if cl.kind != q.kind {
		logging.Fatalf("gpu: %s command list %q executed on %s queue", cl.kind, cl.label, q.kind)
	}
	cmd, deferred, err := cl.finish()
	if err != nil {
		for _, fn := range deferred {
			fn()
		}
		return Fence{}, err
	}
	f := q.enqueue([]hal.CommandBuffer{cmd})
	for _, fn := range deferred {
		q.retirer.Defer(q, f, fn)
	}
	return f, q.pump()
}

// Signal issues an empty batch and returns its fence. Once it completes,
// all earlier work on the queue has completed.
func (q *Queue) Signal() (Fence, error) {
	f := q.enqueue(nil)
	return f, q.pump()
}

func (q *Queue) enqueue(cmds []hal.CommandBuffer) Fence {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := batch{value: q.next, cmds: cmds}
	if q.stall != nil {
		b.wait = q.stall
		q.stall = nil
	}
	q.next++
	q.batches = append(q.batches, b)
	return Fence{Kind: q.kind, Value: b.value}
}

// StallBehind makes all work executed on q from now on wait, on the device,
// for the most recent counter issued by other. The CPU never blocks.
func (q *Queue) StallBehind(other *Queue) {
	if other == q {
		return
	}
	target := other.LastIssued().Value
	if target == 0 {
		return
	}
	q.mu.Lock()
	q.stall = &dependency{queue: other, value: target}
	q.mu.Unlock()
}

// satisfied reports whether a batch waiting on d may be handed to q's hal
// queue. On a shared hal queue submission order is enough; otherwise the
// other queue must have finished the work.
func (d *dependency) satisfied(q *Queue) bool {
	if d.queue.raw == q.raw {
		return d.queue.submittedThrough(d.value)
	}
	return d.queue.QueryCompleted(Fence{Kind: d.queue.kind, Value: d.value})
}

func (q *Queue) submittedThrough(value uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if value >= q.next {
		return false
	}
	for i := range q.batches {
		if q.batches[i].value > value {
			break
		}
		if !q.batches[i].submitted {
			return false
		}
	}
	return true
}

// pump submits held batches in order for as long as their dependencies allow.
func (q *Queue) pump() error {
	for {
		q.mu.Lock()
		i := q.firstHeld()
		if i < 0 {
			q.mu.Unlock()
			return nil
		}
		wait := q.batches[i].wait
		value := q.batches[i].value
		q.mu.Unlock()

		if wait != nil && !wait.satisfied(q) {
			return nil
		}

		q.mu.Lock()
		i = q.indexOf(value)
		idx, err := q.raw.Submit(q.batches[i].cmds)
		if err != nil {
			q.mu.Unlock()
			return fmt.Errorf("gpu: submit %s#%d: %w", q.kind, value, err)
		}
		q.batches[i].submitted = true
		q.batches[i].index = idx
		q.batches[i].wait = nil
		q.mu.Unlock()
	}
}

func (q *Queue) firstHeld() int {
	for i := range q.batches {
		if !q.batches[i].submitted {
			return i
		}
	}
	return -1
}

func (q *Queue) indexOf(value uint64) int {
	for i := range q.batches {
		if q.batches[i].value == value {
			return i
		}
	}
	logging.Fatalf("gpu: batch %s#%d vanished", q.kind, value)
	return -1
}

// refresh polls the hal queue and advances the completed counter over every
// leading batch the hardware has finished. Caller holds q.mu.
func (q *Queue) refresh() {
	q.polls++
	done := q.raw.PollCompleted()
	n := 0
	for n < len(q.batches) {
		b := &q.batches[n]
		if !b.submitted || b.index > done {
			break
		}
		if b.value > q.completed {
			q.completed = b.value
		}
		for _, cmd := range b.cmds {
			q.dev.raw.FreeCommandBuffer(cmd)
		}
		n++
	}
	if n > 0 {
		q.batches = append(q.batches[:0], q.batches[n:]...)
	}
}

// QueryCompleted reports, without blocking, whether f has completed.
// Once true for a value it stays true for it and every smaller value.
func (q *Queue) QueryCompleted(f Fence) bool {
	if f.Kind != q.kind {
		logging.Fatalf("gpu: %s fence queried on %s queue", f, q.kind)
	}
	q.mu.Lock()
	if f.Value <= q.completed {
		q.mu.Unlock()
		return true
	}
	q.mu.Unlock()

	if err := q.pump(); err != nil {
		logging.Logger().Error("gpu: deferred submit failed", "queue", q.kind.String(), "err", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.refresh()
	return f.Value <= q.completed
}

// WaitUntil blocks until f completes or ctx is done.
func (q *Queue) WaitUntil(ctx context.Context, f Fence) error {
	q.mu.Lock()
	next := q.next
	q.mu.Unlock()
	if f.Value >= next {
		return fmt.Errorf("%w: %s (next %d)", ErrNeverSignaled, f, next)
	}

	backoff := minBackoff
	for {
		if q.QueryCompleted(f) {
			return nil
		}
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

// WaitForIdle signals a new counter and waits for it, so every batch
// executed before the call has finished when it returns.
func (q *Queue) WaitForIdle(ctx context.Context) error {
	f, err := q.Signal()
	if err != nil {
		return err
	}
	return q.WaitUntil(ctx, f)
}
