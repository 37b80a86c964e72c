// Package mmio provides access to memory mapped peripheral registers through a
// Bus. On FT900/FT930 targets the bus is the CPU's data space, elsewhere it is
// backed by a simulation or by plain memory.
package mmio

// Bus performs volatile register accesses at physical addresses.
type Bus interface {
	Load32(addr uintptr) uint32
	Store32(addr uintptr, v uint32)
	Load8(addr uintptr) uint8
	Store8(addr uintptr, v uint8)
}

// Streamer is implemented by buses that can move a run of 32-bit words
// through a single FIFO register faster than individual loads and stores, e.g.
// with the FT32 streamin.l and streamout.l instructions.
type Streamer interface {
	StreamIn32(addr uintptr, dst []uint32)
	StreamOut32(addr uintptr, src []uint32)
}

// StreamIn32 fills dst with consecutive loads from the FIFO register at addr.
func StreamIn32(b Bus, addr uintptr, dst []uint32) {
	if s, ok := b.(Streamer); ok {
		s.StreamIn32(addr, dst)
		return
	}
	for i := range dst {
		dst[i] = b.Load32(addr)
	}
}

// StreamOut32 stores src to the FIFO register at addr, one word at a time and
// in order.
func StreamOut32(b Bus, addr uintptr, src []uint32) {
	if s, ok := b.(Streamer); ok {
		s.StreamOut32(addr, src)
		return
	}
	for _, v := range src {
		b.Store32(addr, v)
	}
}

// U32 is a 32-bit register.
type U32 struct {
	bus  Bus
	addr uintptr
}

func NewU32(b Bus, addr uintptr) U32 { return U32{b, addr} }

func (r U32) Load() uint32             { return r.bus.Load32(r.addr) }
func (r U32) Store(v uint32)           { r.bus.Store32(r.addr, v) }
func (r U32) Addr() uintptr            { return r.addr }
func (r U32) LoadBits(m uint32) uint32 { return r.Load() & m }

// StoreBits replaces the bits selected by mask with the bits of v.
func (r U32) StoreBits(mask, v uint32) {
	r.Store(r.Load()&^mask | v&mask)
}

func (r U32) SetBits(m uint32)   { r.Store(r.Load() | m) }
func (r U32) ClearBits(m uint32) { r.Store(r.Load() &^ m) }

// R32 is a 32-bit register holding values of type T.
type R32[T ~uint32] struct {
	r U32
}

func NewR32[T ~uint32](b Bus, addr uintptr) R32[T] { return R32[T]{U32{b, addr}} }

func (r R32[T]) Load() T          { return T(r.r.Load()) }
func (r R32[T]) Store(v T)        { r.r.Store(uint32(v)) }
func (r R32[T]) Addr() uintptr    { return r.r.addr }
func (r R32[T]) LoadBits(m T) T   { return T(r.r.LoadBits(uint32(m))) }
func (r R32[T]) StoreBits(m, v T) { r.r.StoreBits(uint32(m), uint32(v)) }
func (r R32[T]) SetBits(m T)      { r.r.SetBits(uint32(m)) }
func (r R32[T]) ClearBits(m T)    { r.r.ClearBits(uint32(m)) }

// U8 is an 8-bit register.
type U8 struct {
	bus  Bus
	addr uintptr
}

func NewU8(b Bus, addr uintptr) U8 { return U8{b, addr} }

func (r U8) Load() uint8   { return r.bus.Load8(r.addr) }
func (r U8) Store(v uint8) { r.bus.Store8(r.addr, v) }
func (r U8) Addr() uintptr { return r.addr }
