package world

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// MaxChunks is the number of distinct chunk indices a pick identifier can carry.
const MaxChunks = 256

var (
	// ErrChunkExists is returned when adding a chunk at an occupied coordinate.
	ErrChunkExists = errors.New("world: chunk already exists")
	// ErrNoChunkSlots is returned when all chunk indices are in use.
	ErrNoChunkSlots = errors.New("world: no free chunk index")
)

// ChunkStore manages the storage and retrieval of chunks.
type ChunkStore struct {
	// Map of chunks indexed by their coordinates
	chunks  map[ChunkCoord]*Chunk
	byIndex [MaxChunks]*Chunk
	free    []uint8
	next    int
	mu      sync.RWMutex
}

// NewChunkStore creates a new chunk store.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		chunks: make(map[ChunkCoord]*Chunk),
	}
}

// Add creates an empty chunk at coord with a fresh index. Indices of
// removed chunks are reused, most recently freed first.
func (cs *ChunkStore) Add(coord ChunkCoord) (*Chunk, error) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.chunks[coord]; ok {
		return nil, fmt.Errorf("%w at %v", ErrChunkExists, coord)
	}
	var idx uint8
	switch {
	case len(cs.free) > 0:
		idx = cs.free[len(cs.free)-1]
		cs.free = cs.free[:len(cs.free)-1]
	case cs.next < MaxChunks:
		idx = uint8(cs.next)
		cs.next++
	default:
		return nil, ErrNoChunkSlots
	}

	c := NewChunk(coord, idx)
	cs.chunks[coord] = c
	cs.byIndex[idx] = c
	return c, nil
}

// Get returns the chunk at coord, or nil.
func (cs *ChunkStore) Get(coord ChunkCoord) *Chunk {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.chunks[coord]
}

// ByIndex returns the chunk holding idx, or nil.
func (cs *ChunkStore) ByIndex(idx uint8) *Chunk {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.byIndex[idx]
}

// Neighbor returns the chunk adjacent to c across f, or nil.
func (cs *ChunkStore) Neighbor(c *Chunk, f Face) *Chunk {
	return cs.Get(c.Coord.Neighbor(f))
}

// Remove deletes the chunk at coord and frees its index.
func (cs *ChunkStore) Remove(coord ChunkCoord) *Chunk {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	c, ok := cs.chunks[coord]
	if !ok {
		return nil
	}
	delete(cs.chunks, coord)
	cs.byIndex[c.Index] = nil
	cs.free = append(cs.free, c.Index)
	return c
}

// Len returns the number of chunks.
func (cs *ChunkStore) Len() int {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return len(cs.chunks)
}

// Chunks returns every chunk ordered by index.
func (cs *ChunkStore) Chunks() []*Chunk {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make([]*Chunk, 0, len(cs.chunks))
	for _, c := range cs.byIndex {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

// Coords returns every chunk coordinate, sorted.
func (cs *ChunkStore) Coords() []ChunkCoord {
	cs.mu.RLock()
	out := make([]ChunkCoord, 0, len(cs.chunks))
	for c := range cs.chunks {
		out = append(out, c)
	}
	cs.mu.RUnlock()
	slices.SortFunc(out, func(a, b ChunkCoord) int {
		if a.Y != b.Y {
			return a.Y - b.Y
		}
		if a.Z != b.Z {
			return a.Z - b.Z
		}
		return a.X - b.X
	})
	return out
}
