package accel

// PrebuildInfo holds the buffer sizes a build needs.
type PrebuildInfo struct {
	ResultSize        uint64
	ScratchSize       uint64
	UpdateScratchSize uint64
}

const (
	resultAlignment = 256
	// per-primitive bounds plus centroid kept while splitting
	boundsScratch = 36
)

// prebuild sizes a structure over n primitives. The tree has at most 2n-1
// nodes; the result also stores the primitive order.
func prebuild(n int) PrebuildInfo {
	nodes := uint64(max(2*n-1, 1))
	tree := nodes*nodeSize + uint64(n)*4
	return PrebuildInfo{
		ResultSize:        alignUp(tree, resultAlignment),
		ScratchSize:       alignUp(tree+uint64(n)*boundsScratch, resultAlignment),
		UpdateScratchSize: alignUp(nodes*nodeSize, resultAlignment),
	}
}

// scratchNeed is the larger of the two scratch sizes; either may be used
// against the shared scratch buffer.
func (p PrebuildInfo) scratchNeed() uint64 {
	return max(p.ScratchSize, p.UpdateScratchSize)
}

func alignUp(v, a uint64) uint64 {
	return (v + a - 1) &^ (a - 1)
}
