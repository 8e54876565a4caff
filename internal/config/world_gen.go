package config

import "sync"

// NoiseSettings parameterises terrain noise.
type NoiseSettings struct {
	Seed        int64
	Frequency   float64
	Octaves     int
	Lacunarity  float64
	Gain        float64
	SampleScale float64
}

// BuildBudgets bounds the memory the build pipeline may use.
type BuildBudgets struct {
	ScratchSize     uint64
	StagingVertices int
	StagingIndices  int
}

// WorldGenSettings holds world generation configuration
type WorldGenSettings struct {
	mu      sync.RWMutex
	noise   NoiseSettings
	budgets BuildBudgets
	workers int
}

var globalWorldGenSettings = &WorldGenSettings{
	noise: NoiseSettings{
		Seed:        42,
		Frequency:   0.025,
		Octaves:     2,
		Lacunarity:  2.33,
		Gain:        0.366,
		SampleScale: 0.25,
	},
	budgets: BuildBudgets{
		ScratchSize:     64 << 20,
		StagingVertices: 4_100_000,
		StagingIndices:  16_400_000,
	},
	workers: 4,
}

// GetNoise returns the terrain noise settings
func GetNoise() NoiseSettings {
	globalWorldGenSettings.mu.RLock()
	defer globalWorldGenSettings.mu.RUnlock()
	return globalWorldGenSettings.noise
}

// SetNoise sets the terrain noise settings. Octaves is clamped to [1, 8].
func SetNoise(n NoiseSettings) {
	globalWorldGenSettings.mu.Lock()
	defer globalWorldGenSettings.mu.Unlock()
	n.Octaves = min(max(n.Octaves, 1), 8)
	if n.SampleScale <= 0 {
		n.SampleScale = 1
	}
	globalWorldGenSettings.noise = n
}

// SetSeed changes only the noise seed
func SetSeed(seed int64) {
	globalWorldGenSettings.mu.Lock()
	defer globalWorldGenSettings.mu.Unlock()
	globalWorldGenSettings.noise.Seed = seed
}

// GetBudgets returns the build budgets
func GetBudgets() BuildBudgets {
	globalWorldGenSettings.mu.RLock()
	defer globalWorldGenSettings.mu.RUnlock()
	return globalWorldGenSettings.budgets
}

// SetBudgets sets the build budgets. Zero fields keep their current value.
func SetBudgets(b BuildBudgets) {
	globalWorldGenSettings.mu.Lock()
	defer globalWorldGenSettings.mu.Unlock()
	cur := &globalWorldGenSettings.budgets
	if b.ScratchSize > 0 {
		cur.ScratchSize = b.ScratchSize
	}
	if b.StagingVertices > 0 {
		cur.StagingVertices = b.StagingVertices
	}
	if b.StagingIndices > 0 {
		cur.StagingIndices = b.StagingIndices
	}
}

// GetWorkers returns the number of voxel generation workers
func GetWorkers() int {
	globalWorldGenSettings.mu.RLock()
	defer globalWorldGenSettings.mu.RUnlock()
	return globalWorldGenSettings.workers
}

// SetWorkers sets the number of generation workers, clamped to [1, 64]
func SetWorkers(n int) {
	globalWorldGenSettings.mu.Lock()
	defer globalWorldGenSettings.mu.Unlock()
	globalWorldGenSettings.workers = min(max(n, 1), 64)
}
