package sdhost

import (
	"fmt"

	"github.com/clktmr/ft9xx/debug"
)

// Direction selects the data direction of Transfer. The values are the data
// direction encoding of the transfer mode register.
type Direction uint16

const (
	Write Direction = 0x00
	Read  Direction = 0x10
)

func (d Direction) String() string {
	if d == Read {
		return "read"
	}
	return "write"
}

// maxBlocks is the largest block count of a single multiple block command.
const maxBlocks = 0xffff

// Transfer moves len(buf) bytes between buf and the card, starting at block
// addr. Whole blocks are transferred with a single or multiple block
// command. A trailing partial block is transferred on its own as the block
// following the whole blocks: on read the rest of that block is discarded, on
// write it is filled with zeros. Requests reaching past the card's capacity
// fail with ErrOutOfRange before any command is sent.
func (h *Host) Transfer(dir Direction, buf []byte, addr uint32) error {
	if h.status != StatusOK {
		return h.status
	}
	blocks := uint64(len(buf)+BlockSize-1) >> blockShift
	if uint64(addr)+blocks > uint64(h.card.Capacity) {
		return fmt.Errorf("%w: %w: blocks %d..%d of %d", StatusError, ErrOutOfRange,
			addr, uint64(addr)+blocks-1, h.card.Capacity)
	}

	whole := len(buf) &^ (BlockSize - 1)
	for done := 0; done < whole; {
		n := min(whole-done, maxBlocks*BlockSize)
		if err := h.transferBlocks(dir, buf[done:done+n], addr); err != nil {
			return err
		}
		done += n
		addr += uint32(n >> blockShift)
	}

	if rest := buf[whole:]; len(rest) > 0 {
		var bounce [BlockSize]byte
		if dir == Write {
			copy(bounce[:], rest)
		}
		if err := h.transferBlocks(dir, bounce[:], addr); err != nil {
			return err
		}
		if dir == Read {
			copy(rest, bounce[:])
		}
	}
	return nil
}

// transferBlocks transfers buf, a whole number of blocks, with one command.
func (h *Host) transferBlocks(dir Direction, buf []byte, addr uint32) error {
	n := len(buf) >> blockShift
	if h.card.SDSC {
		addr <<= blockShift
	}

	if err := h.sendCommand(cmdSetBlockLen, BusCmd, BlockSize, nil); err != nil {
		return err
	}

	mode := uint16(dir)
	var idx uint8
	if n == 1 {
		h.regs.write(BlockSize, RegBlkSize)
		idx = cmdWriteSingle
		if dir == Read {
			idx = cmdReadSingle
		}
	} else {
		h.regs.setBlock(BlockSize, uint16(n))
		mode |= modeBlkCountEnable | modeAutoCmd12 | modeMultiBlock
		idx = cmdWriteMultiple
		if dir == Read {
			idx = cmdReadMultiple
		}
	}

	// The response is not checked, errors surface in the data phase.
	cmd, _ := command(idx, BusCmd, h.card.Type)
	if err := h.start(cmd, mode, addr); err != nil {
		return err
	}

	ready := intBufWriteRdy
	if dir == Read {
		ready = intBufReadRdy
	}
	for i := range n {
		if err := h.w.wait(h, ready); err != nil {
			return h.dataError(dir, h.fail(err, "buffer ready"))
		}
		blk := buf[i*BlockSize : (i+1)*BlockSize]
		if dir == Read {
			h.streamIn(blk)
		} else {
			h.streamOut(blk)
		}
	}
	if err := h.w.wait(h, intXferComplete); err != nil {
		return h.dataError(dir, h.fail(err, "transfer complete"))
	}
	debug.LogDebug(debug.ComponentSDHost, "transfer", "dir", dir, "addr", addr, "blocks", n)
	return nil
}

// dataError keeps timeouts and reports other data phase failures by
// direction.
func (h *Host) dataError(dir Direction, err error) error {
	if err == StatusCmdTimeout {
		return err
	}
	if dir == Read {
		return StatusReadError
	}
	return StatusWriteError
}

// Abort stops a running transfer with CMD12 and resets the command and data
// lines of the controller.
func (h *Host) Abort() error {
	if h.status == StatusNotInitialised {
		return StatusNotInitialised
	}
	if err := h.sendCommand(cmdStopTransmission, BusCmd, 0, nil); err != nil {
		return err
	}
	if !h.softReset(resetCmd | resetData) {
		h.recover()
		return StatusCmdTimeout
	}
	return nil
}
