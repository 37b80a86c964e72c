package sdhost

import (
	"encoding/binary"

	"github.com/clktmr/ft9xx/debug"
	"github.com/clktmr/ft9xx/mmio"
)

// streamIn fills buf from the buffer data port. The port delivers the bytes
// of a block in order, four per little endian word.
func (h *Host) streamIn(buf []byte) {
	debug.AssertAligned(len(buf), 4, "sdhost: fifo read not word sized")
	var words [BlockSize / 4]uint32
	for len(buf) >= 4 {
		w := words[:min(len(buf)/4, len(words))]
		mmio.StreamIn32(h.regs.bus, h.regs.dataPort(), w)
		for i, v := range w {
			binary.LittleEndian.PutUint32(buf[4*i:], v)
		}
		buf = buf[4*len(w):]
	}
}

// streamOut writes buf to the buffer data port.
func (h *Host) streamOut(buf []byte) {
	debug.AssertAligned(len(buf), 4, "sdhost: fifo write not word sized")
	var words [BlockSize / 4]uint32
	for len(buf) >= 4 {
		w := words[:min(len(buf)/4, len(words))]
		for i := range w {
			w[i] = binary.LittleEndian.Uint32(buf[4*i:])
		}
		mmio.StreamOut32(h.regs.bus, h.regs.dataPort(), w)
		buf = buf[4*len(w):]
	}
}
