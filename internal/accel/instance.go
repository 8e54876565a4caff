package accel

import (
	"encoding/binary"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// InstanceSize is the size of one encoded instance record.
const InstanceSize = 64

// DefaultMask makes an instance visible to every ray.
const DefaultMask = 0xFF

// Instance places a bottom-level structure in the world.
type Instance struct {
	Transform      mgl32.Mat4
	Mask           uint8
	HitGroupOffset uint32
	Address        uint64
	BottomLevel    BottomLevelHandle

	inverse mgl32.Mat4
}

// encodeInstance writes the 64-byte record: a row-major 3x4 transform,
// id:24|mask:8, hitGroupOffset:24|flags:8, then the structure address.
func encodeInstance(dst []byte, id uint32, inst *Instance) {
	off := 0
	for r := range 3 {
		for c := range 4 {
			binary.LittleEndian.PutUint32(dst[off:], math.Float32bits(inst.Transform.At(r, c)))
			off += 4
		}
	}
	binary.LittleEndian.PutUint32(dst[48:], id&0xFFFFFF|uint32(inst.Mask)<<24)
	binary.LittleEndian.PutUint32(dst[52:], inst.HitGroupOffset&0xFFFFFF)
	binary.LittleEndian.PutUint64(dst[56:], inst.Address)
}
