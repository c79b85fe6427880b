package devemu

// Register offsets of the emulated device. The layout follows the usual
// identification, capability, status, doorbell arrangement of an MMIO
// control region.
const (
	RegIdentification uint32 = 0x000
	RegRevision       uint32 = 0x004
	RegCapabilityLo   uint32 = 0x008
	RegCapabilityHi   uint32 = 0x00c
	RegStatus         uint32 = 0x010
	RegIntMask        uint32 = 0x014
	RegIntStatus      uint32 = 0x018
	RegFWVersion      uint32 = 0x01c
	RegQueueDepth     uint32 = 0x020
	RegDoorbellBase   uint32 = 0x100
)

var registerTable = map[uint32]uint32{
	RegIdentification: 0x1af4_10f0,
	RegRevision:       0x0000_0003,
	RegCapabilityLo:   0x0040_20ff,
	RegCapabilityHi:   0x0000_0001,
	RegStatus:         0x0000_0001,
	RegIntMask:        0xffff_ffff,
	RegIntStatus:      0x0000_0000,
	RegFWVersion:      0x0102_0300,
	RegQueueDepth:     0x0000_00ff,
	RegDoorbellBase:   0x0000_1000,
}

// scramble maps an unmapped register offset to a repeatable pseudo-random
// value. It is the murmur3 32-bit finalizer, which avalanches well enough
// that neighboring offsets produce unrelated values.
func scramble(offset uint32) uint32 {
	z := offset + 0x9e3779b9
	z = (z ^ (z >> 16)) * 0x85ebca6b
	z = (z ^ (z >> 13)) * 0xc2b2ae35
	return z ^ (z >> 16)
}
