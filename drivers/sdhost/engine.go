package sdhost

import (
	"github.com/clktmr/ft9xx/debug"
)

// Transfer mode bits.
const (
	modeBlkCountEnable uint16 = 1 << 1
	modeAutoCmd12      uint16 = 1 << 2
	modeRead           uint16 = 1 << 4
	modeMultiBlock     uint16 = 1 << 5
)

// warn logs a failure at warning level, or at debug level while a probe
// command runs whose timeout only tells the card type apart.
func (h *Host) warn(msg string, args ...any) {
	if h.probing {
		debug.LogDebug(debug.ComponentSDHost, msg, args...)
		return
	}
	debug.LogWarn(debug.ComponentSDHost, msg, args...)
}

// fail runs error recovery after a failed wait and passes err on.
func (h *Host) fail(err error, step string) error {
	h.warn("wait failed", "step", step, "err", err)
	h.recover()
	return err
}

// probe sends a command without data phase that a card may legitimately not
// answer.
func (h *Host) probe(idx uint8, arg uint32, rsp *[4]uint32) error {
	h.probing = true
	defer func() { h.probing = false }()
	return h.sendCommand(idx, BusCmd, arg, rsp)
}

// start issues cmd with the given transfer mode and argument and waits until
// the controller reports command complete.
func (h *Host) start(cmd, mode uint16, arg uint32) error {
	if !h.waitClear(RegPresentState, presentInhibitCmd) {
		return h.fail(StatusCmdTimeout, "command inhibit")
	}
	if cmd&cmdTypeAbort != cmdTypeAbort &&
		h.regs.read(RegPresentState)&presentDatLineActive != 0 {
		if !h.waitClear(RegPresentState, presentInhibitDat) {
			return h.fail(StatusCmdTimeout, "data inhibit")
		}
	}

	h.regs.setArg(arg)
	h.regs.issue(cmd, mode)
	debug.LogDebug(debug.ComponentSDHost, "command", "index", cmd>>8, "arg", arg, "mode", mode)

	if err := h.w.wait(h, intCmdComplete); err != nil {
		return h.fail(err, "command complete")
	}
	if e := h.w.errors(h); e != 0 {
		return h.fail(lineError(e), "response")
	}
	return nil
}

// readResponse copies the response of kind k into rsp. The controller drops
// the CRC byte of R2 responses, so the four words are shifted left by 8 bits
// to restore the register layout of the card.
func (h *Host) readResponse(k respKind, rsp *[4]uint32) {
	switch k {
	case rspNone:
	case rspR2:
		r0 := h.regs.read(RegResponse0)
		r1 := h.regs.read(RegResponse1)
		r2 := h.regs.read(RegResponse2)
		r3 := h.regs.read(RegResponse3)
		rsp[3] = r3<<8 | r2>>24
		rsp[2] = r2<<8 | r1>>24
		rsp[1] = r1<<8 | r0>>24
		rsp[0] = r0 << 8
	default:
		rsp[0] = h.regs.read(RegResponse0)
	}
}

// sendCommand sends a command without data phase and stores its response in
// rsp, which may be nil.
func (h *Host) sendCommand(idx uint8, class Class, arg uint32, rsp *[4]uint32) error {
	var tmp [4]uint32
	if rsp == nil {
		rsp = &tmp
	}

	cmd, kind := command(idx, class, h.card.Type)
	var mode uint16
	if cmd&cmdDataPresent != 0 {
		mode = modeRead
	}
	if err := h.start(cmd, mode, arg); err != nil {
		return err
	}
	h.readResponse(kind, rsp)

	// Busy signalling commands finish with a transfer complete event.
	if kind == rspR1b || h.regs.read(RegPresentState)&presentInhibitDat != 0 {
		if err := h.w.wait(h, intXferComplete); err != nil {
			return h.fail(err, "busy")
		}
	}

	var err error
	switch kind {
	case rspR1, rspR1b:
		if rsp[0]&r1ErrorMask != 0 {
			err = StatusResponseError
		}
	case rspR6:
		if rsp[0]&r6ErrorMask != 0 {
			err = StatusResponseError
		}
	}

	if e := h.w.errors(h); e != 0 {
		h.warn("error after command", "index", idx, "status", e)
		h.recover()
		return StatusError
	}
	if err != nil {
		debug.LogDebug(debug.ComponentSDHost, "response error", "index", idx, "kind", kind, "response", rsp[0])
	}
	return err
}

// sendApp sends CMD55 followed by the application command idx. A response
// error on CMD55 is tolerated, cards report an illegal command there while
// they are still idle.
func (h *Host) sendApp(idx uint8, arg uint32, rsp *[4]uint32) error {
	err := h.sendCommand(cmdAppCmd, BusCmd, uint32(h.card.RCA)<<16, nil)
	if err != nil && err != StatusResponseError {
		return err
	}
	return h.sendCommand(idx, AppCmd, arg, rsp)
}

// readData runs a single block read of len(buf) bytes. It serves the card
// registers that are too wide for a response: SD status, switch function
// status and EXT_CSD.
func (h *Host) readData(idx uint8, class Class, arg uint32, buf []byte) error {
	cmd, _ := command(idx, class, h.card.Type)
	h.regs.write(uint32(len(buf)), RegBlkSize)
	if err := h.start(cmd|cmdDataPresent, modeRead, arg); err != nil {
		return err
	}

	var rsp [4]uint32
	h.readResponse(rspR1, &rsp)
	if rsp[0]&r1ErrorMask != 0 {
		h.softReset(resetData)
		return StatusResponseError
	}

	if err := h.w.wait(h, intBufReadRdy); err != nil {
		return h.fail(err, "buffer read ready")
	}
	h.streamIn(buf)
	if err := h.w.wait(h, intXferComplete); err != nil {
		return h.fail(err, "transfer complete")
	}
	return nil
}
