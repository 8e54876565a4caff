package config

import "sync"

// RenderSettings holds render configuration
type RenderSettings struct {
	mu          sync.RWMutex
	backend     string
	chunkRadius int // in chunks, around the origin column
	width       int
	height      int
	fpsLimit    int // 0 = unlimited
}

var globalRenderSettings = &RenderSettings{
	backend:     "noop",
	chunkRadius: 1,
	width:       320,
	height:      180,
}

// GetBackend returns the name of the GPU backend to open
func GetBackend() string {
	globalRenderSettings.mu.RLock()
	defer globalRenderSettings.mu.RUnlock()
	return globalRenderSettings.backend
}

// SetBackend sets the GPU backend name
func SetBackend(name string) {
	globalRenderSettings.mu.Lock()
	defer globalRenderSettings.mu.Unlock()
	globalRenderSettings.backend = name
}

// GetChunkRadius returns how many chunks are loaded around the origin
func GetChunkRadius() int {
	globalRenderSettings.mu.RLock()
	defer globalRenderSettings.mu.RUnlock()
	return globalRenderSettings.chunkRadius
}

// SetChunkRadius sets the chunk radius. A full square of radius 7 already
// holds 225 chunks; chunk indices are 8 bits.
func SetChunkRadius(radius int) {
	globalRenderSettings.mu.Lock()
	defer globalRenderSettings.mu.Unlock()

	// Clamp to reasonable values
	if radius < 0 {
		radius = 0
	}
	if radius > 7 {
		radius = 7
	}

	globalRenderSettings.chunkRadius = radius
}

// GetResolution returns the output size in pixels
func GetResolution() (width, height int) {
	globalRenderSettings.mu.RLock()
	defer globalRenderSettings.mu.RUnlock()
	return globalRenderSettings.width, globalRenderSettings.height
}

// SetResolution sets the output size; each side is clamped to [1, 8192]
func SetResolution(width, height int) {
	globalRenderSettings.mu.Lock()
	defer globalRenderSettings.mu.Unlock()
	globalRenderSettings.width = min(max(width, 1), 8192)
	globalRenderSettings.height = min(max(height, 1), 8192)
}

// GetFPSLimit returns the frame cap, 0 when unlimited
func GetFPSLimit() int {
	globalRenderSettings.mu.RLock()
	defer globalRenderSettings.mu.RUnlock()
	return globalRenderSettings.fpsLimit
}

// SetFPSLimit sets the frame cap. Negative values mean unlimited.
func SetFPSLimit(limit int) {
	globalRenderSettings.mu.Lock()
	defer globalRenderSettings.mu.Unlock()
	globalRenderSettings.fpsLimit = max(limit, 0)
}
