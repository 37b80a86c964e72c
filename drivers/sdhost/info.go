package sdhost

import (
	"encoding/binary"

	"github.com/clktmr/ft9xx/debug"
)

// Capacity returns the size of the card in blocks, or 0 if no card is ready.
func (h *Host) Capacity() uint32 {
	if h.status != StatusOK {
		return 0
	}
	return h.card.Capacity
}

// BlockSize returns the transfer unit in bytes, or 0 if no card is ready.
func (h *Host) BlockSize() uint32 {
	if h.status != StatusOK {
		return 0
	}
	return BlockSize
}

// EraseBlockCount returns the number of blocks the card erases at once, or 0
// if no card is ready or the size is unknown.
func (h *Host) EraseBlockCount() uint32 {
	if h.status != StatusOK {
		return 0
	}
	c := &h.card
	switch {
	case !c.Type.IsMMC() && c.SDSC:
		return c.CSD.SectorSize() + 1
	case c.Type == MMC:
		// HC_ERASE_GRP_SIZE counts 512 KiB units.
		return uint32(h.eraseGroup) * (512 * 1024 / BlockSize)
	case c.Type == MMCv3:
		return (c.CSD.EraseGrpSize() + 1) * (c.CSD.EraseGrpMult() + 1)
	}

	var st [sdStatusBytes]byte
	if err := h.CardStatus(&st); err != nil {
		debug.LogWarn(debug.ComponentSDHost, "reading SD status failed", "err", err)
		return 0
	}
	// AU_SIZE, bits 431:428 of the SD status, in units of 8 KiB << n.
	au := binary.LittleEndian.Uint32(st[8:]) >> 20 & 0xf
	return 16 << au
}

// CardStatus reads the 64-byte SD status register with ACMD13. The bytes are
// stored in the order the card sends them, most significant first.
func (h *Host) CardStatus(buf *[64]byte) error {
	if h.status != StatusOK {
		return h.status
	}
	if err := h.sendCommand(cmdSetBlockLen, BusCmd, sdStatusBytes, nil); err != nil {
		return err
	}
	if err := h.sendCommand(cmdAppCmd, BusCmd, uint32(h.card.RCA)<<16, nil); err != nil {
		return err
	}
	return h.readData(acmdSDStatus, AppCmd, 0, buf[:])
}
