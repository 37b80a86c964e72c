package mmio

// Mem is a Bus backed by plain memory. Registers read back what was last
// stored. It is used to exercise register layouts without hardware.
type Mem struct {
	words map[uintptr]uint32

	// Stores counts 32-bit and 8-bit stores.
	Stores int
}

func NewMem() *Mem {
	return &Mem{words: make(map[uintptr]uint32)}
}

func (m *Mem) Load32(addr uintptr) uint32 {
	return m.words[addr&^3]
}

func (m *Mem) Store32(addr uintptr, v uint32) {
	m.Stores++
	m.words[addr&^3] = v
}

func (m *Mem) Load8(addr uintptr) uint8 {
	return uint8(m.words[addr&^3] >> ((addr & 3) * 8))
}

func (m *Mem) Store8(addr uintptr, v uint8) {
	m.Stores++
	shift := (addr & 3) * 8
	w := m.words[addr&^3] &^ (0xff << shift)
	m.words[addr&^3] = w | uint32(v)<<shift
}
