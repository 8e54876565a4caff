package handle

import (
	"iter"
	"math"

	"voxrt/internal/logging"
)

const (
	indexBits = 24
	indexMask = 1<<indexBits - 1
	genShift  = indexBits

	// MaxCapacity is the largest table a 24-bit slot index can address
	// while keeping the all-ones value free for Null.
	MaxCapacity = indexMask - 1

	unused = math.MaxUint32
)

// Handle is a stable reference to one value stored in a Table[T].
// The low 24 bits are the slot, the high 8 bits the slot generation.
type Handle[T any] struct {
	value uint32
}

// Null returns the sentinel handle that never refers to a value.
func Null[T any]() Handle[T] {
	return Handle[T]{value: math.MaxUint32}
}

// IsNull reports whether h is the null sentinel.
func (h Handle[T]) IsNull() bool {
	return h.value == math.MaxUint32
}

// Raw returns the packed handle value.
func (h Handle[T]) Raw() uint32 {
	return h.value
}

func (h Handle[T]) slot() uint32 {
	return h.value & indexMask
}

func (h Handle[T]) gen() uint8 {
	return uint8(h.value >> genShift)
}

func makeHandle[T any](slot uint32, gen uint8) Handle[T] {
	return Handle[T]{value: uint32(gen)<<genShift | slot}
}

// Table is a fixed-capacity dense/sparse container.
// Values live contiguously in dense; lower maps a slot to its dense index
// and upper maps a dense index back to its slot.
type Table[T any] struct {
	dense []T
	lower []uint32
	upper []uint32
	gens  []uint8
	free  []uint32
	next  uint32
}

// NewTable creates a table that can hold at most capacity live values.
// Capacity never grows.
func NewTable[T any](capacity int) *Table[T] {
	if capacity <= 0 || capacity > MaxCapacity {
		logging.Fatalf("handle: invalid table capacity %d (max %d)", capacity, MaxCapacity)
	}
	lower := make([]uint32, capacity)
	for i := range lower {
		lower[i] = unused
	}
	return &Table[T]{
		dense: make([]T, 0, capacity),
		lower: lower,
		upper: make([]uint32, capacity),
		gens:  make([]uint8, capacity),
		free:  make([]uint32, 0, capacity),
	}
}

// Cap returns the fixed capacity.
func (t *Table[T]) Cap() int {
	return len(t.lower)
}

// Len returns the number of live values.
func (t *Table[T]) Len() int {
	return len(t.dense)
}

// Insert stores v and returns its handle.
// Panics when the table is full.
func (t *Table[T]) Insert(v T) Handle[T] {
	if len(t.dense) == cap(t.dense) {
		logging.Fatalf("handle: table full (%d entries)", cap(t.dense))
	}

	var slot uint32
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		slot = t.next
		t.next++
	}

	denseIdx := uint32(len(t.dense))
	t.dense = append(t.dense, v)
	t.lower[slot] = denseIdx
	t.upper[denseIdx] = slot
	return makeHandle[T](slot, t.gens[slot])
}

// Contains reports whether h refers to a live value.
func (t *Table[T]) Contains(h Handle[T]) bool {
	if h.IsNull() {
		return false
	}
	slot := h.slot()
	if int(slot) >= len(t.lower) {
		return false
	}
	return t.lower[slot] != unused && t.gens[slot] == h.gen()
}

func (t *Table[T]) mustResolve(h Handle[T], op string) uint32 {
	if h.IsNull() {
		logging.Fatalf("handle: %s with null handle", op)
	}
	if !t.Contains(h) {
		logging.Fatalf("handle: %s with stale handle %#x", op, h.value)
	}
	return t.lower[h.slot()]
}

// Get returns a pointer to the value h refers to. The pointer is only
// valid until the next Insert or Remove on the table.
// Panics on a null or stale handle.
func (t *Table[T]) Get(h Handle[T]) *T {
	return &t.dense[t.mustResolve(h, "get")]
}

// Slot returns the slot index behind h. Slots stay fixed for the lifetime
// of the handle and are reused after removal.
func (t *Table[T]) Slot(h Handle[T]) uint32 {
	t.mustResolve(h, "slot")
	return h.slot()
}

// Remove deletes the value behind *h and writes Null into *h.
// The last dense value moves into the vacated position; every other
// handle stays valid. Panics on a null or stale handle.
func (t *Table[T]) Remove(h *Handle[T]) {
	denseIdx := t.mustResolve(*h, "remove")
	slot := h.slot()

	last := uint32(len(t.dense) - 1)
	if denseIdx != last {
		t.dense[denseIdx] = t.dense[last]
		movedSlot := t.upper[last]
		t.lower[movedSlot] = denseIdx
		t.upper[denseIdx] = movedSlot
	}
	var zero T
	t.dense[last] = zero
	t.dense = t.dense[:last]

	t.lower[slot] = unused
	t.gens[slot]++
	t.free = append(t.free, slot)

	*h = Null[T]()
}

// Values exposes the dense storage. Order changes after any Remove.
func (t *Table[T]) Values() []T {
	return t.dense
}

// All yields every live value together with its handle, in dense order.
// The table must not be modified during iteration.
func (t *Table[T]) All() iter.Seq2[Handle[T], *T] {
	return func(yield func(Handle[T], *T) bool) {
		for i := range t.dense {
			slot := t.upper[i]
			if !yield(makeHandle[T](slot, t.gens[slot]), &t.dense[i]) {
				return
			}
		}
	}
}
