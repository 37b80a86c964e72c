package sdhost

import "github.com/clktmr/ft9xx/debug"

// recover brings the CMD and DAT lines back into a usable state after the
// controller latched an error. It does nothing if no error is pending.
func (h *Host) recover() {
	e := h.regs.read(RegErrIntStatus) & errMask
	if e == 0 {
		return
	}
	h.warn("error recovery", "status", e)

	signals := h.regs.read(RegErrIntSignalEn)
	h.regs.write(signals&^e, RegErrIntSignalEn)

	if e&errCmdLine != 0 && !h.softReset(resetCmd) {
		debug.LogError(debug.ComponentSDHost, "cmd line reset timed out")
		return
	}
	if e&errDataLine != 0 && !h.softReset(resetData) {
		debug.LogError(debug.ComponentSDHost, "data line reset timed out")
		return
	}

	h.regs.write(e, RegErrIntStatus)
	h.regs.write(signals, RegErrIntSignalEn)
}
