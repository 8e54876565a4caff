package accel

import (
	"encoding/binary"

	"voxrt/internal/gpu"
)

// HitGroupKind selects which closest-hit program a record dispatches to.
type HitGroupKind uint32

const (
	HitGroupMain HitGroupKind = iota
	HitGroupPick

	hitGroupsPerGeometry = 2
)

// HitGroupRecordSize is the stride of the hit-group table.
const HitGroupRecordSize = 64

// HitGroupRecord binds one geometry's buffers to a hit program.
type HitGroupRecord struct {
	Kind          HitGroupKind
	BottomLevel   uint32
	Geometry      uint32
	VertexView    uint32
	IndexView     uint32
	VertexAddress uint64
	IndexAddress  uint64
}

func (r HitGroupRecord) encode(dst []byte) {
	binary.LittleEndian.PutUint32(dst[0:], uint32(r.Kind))
	binary.LittleEndian.PutUint32(dst[4:], r.BottomLevel)
	binary.LittleEndian.PutUint32(dst[8:], r.Geometry)
	binary.LittleEndian.PutUint32(dst[12:], r.VertexView)
	binary.LittleEndian.PutUint32(dst[16:], r.IndexView)
	binary.LittleEndian.PutUint64(dst[24:], r.VertexAddress)
	binary.LittleEndian.PutUint64(dst[32:], r.IndexAddress)
}

func viewOf(b *gpu.Buffer) uint32 {
	if b == nil {
		return gpu.NoView
	}
	return b.View
}

func addressOf(b *gpu.Buffer) uint64 {
	if b == nil {
		return 0
	}
	return b.Address
}
