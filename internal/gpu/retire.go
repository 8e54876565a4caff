package gpu

import "sync"

type retiree struct {
	queue *Queue
	fence Fence
	fn    func()
}

// Retirer holds work that must wait for a fence, typically destroying a
// buffer the device may still read. Collect runs whatever has become safe.
type Retirer struct {
	mu      sync.Mutex
	pending []retiree
}

// Defer schedules fn to run once f completes on q.
func (r *Retirer) Defer(q *Queue, f Fence, fn func()) {
	r.mu.Lock()
	r.pending = append(r.pending, retiree{queue: q, fence: f, fn: fn})
	r.mu.Unlock()
}

// Pending returns how many entries are still waiting.
func (r *Retirer) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// Collect runs every entry whose fence has completed and returns how many ran.
func (r *Retirer) Collect() int {
	r.mu.Lock()
	waiting := r.pending
	r.pending = nil
	r.mu.Unlock()

	var ready []func()
	keep := waiting[:0]
	for _, e := range waiting {
		if e.queue.QueryCompleted(e.fence) {
			ready = append(ready, e.fn)
		} else {
			keep = append(keep, e)
		}
	}

	r.mu.Lock()
	r.pending = append(keep, r.pending...)
	r.mu.Unlock()

	for _, fn := range ready {
		fn()
	}
	return len(ready)
}

// Flush runs every pending entry regardless of fences. Only call it once the
// device is idle.
func (r *Retirer) Flush() int {
	r.mu.Lock()
	waiting := r.pending
	r.pending = nil
	r.mu.Unlock()

	for _, e := range waiting {
		e.fn()
	}
	return len(waiting)
}
