package gpu

import (
	"sync"

	"voxrt/internal/handle"
)

// DescriptorHeap hands out stable shader-visible slots. A slot is the
// handle table slot of the view, so it stays fixed while the view lives
// and is recycled once freed.
type DescriptorHeap struct {
	mu      sync.Mutex
	views   *handle.Table[*Buffer]
	handles map[uint32]handle.Handle[*Buffer]
}

// NewDescriptorHeap creates a heap with room for capacity views.
func NewDescriptorHeap(capacity int) *DescriptorHeap {
	return &DescriptorHeap{
		views:   handle.NewTable[*Buffer](capacity),
		handles: make(map[uint32]handle.Handle[*Buffer], capacity),
	}
}

// Allocate reserves a slot describing b.
func (h *DescriptorHeap) Allocate(b *Buffer) uint32 {
	h.mu.Lock()
	defer h.mu.Unlock()
	hd := h.views.Insert(b)
	slot := h.views.Slot(hd)
	h.handles[slot] = hd
	return slot
}

// Lookup returns the buffer behind slot, or nil if the slot is free.
func (h *DescriptorHeap) Lookup(slot uint32) *Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	hd, ok := h.handles[slot]
	if !ok {
		return nil
	}
	return *h.views.Get(hd)
}

// Free releases slot. Freeing an unknown slot is a no-op.
func (h *DescriptorHeap) Free(slot uint32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hd, ok := h.handles[slot]
	if !ok {
		return
	}
	delete(h.handles, slot)
	h.views.Remove(&hd)
}

// Len returns the number of slots in use.
func (h *DescriptorHeap) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.views.Len()
}
