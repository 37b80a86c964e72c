package sdhost

import (
	"encoding/binary"

	"github.com/clktmr/ft9xx/debug"
)

// mmcRCA is the relative card address the host assigns to an MMC.
const mmcRCA = 2

// Byte offsets in EXT_CSD.
const (
	extCSDBusWidth     = 183
	extCSDHSTiming     = 185
	extCSDSecCount     = 212 // 4 bytes, little endian
	extCSDEraseGrpSize = 224
)

// mmcPowerUp polls the OCR with CMD1 until the card finished its power up.
func (h *Host) mmcPowerUp() bool {
	var rsp [4]uint32
	dl := h.deadline(h.cfg.PowerUpTimeout)
	for h.card.OCR&ocrBusy == 0 {
		if dl.expired() {
			return false
		}
		h.cfg.Clock.Sleep(powerUpDelay)
		if err := h.sendCommand(cmdSendOpCond, BusCmd, mmcOCRArg, &rsp); err != nil {
			return false
		}
		h.card.OCR = rsp[0]
	}
	// Cards above 2 GB report sector addressing in the access mode bits.
	h.card.SDSC = h.card.OCR&ocrCCS == 0
	return true
}

// mmcStartup continues CardInit for MultiMediaCards after power up.
func (h *Host) mmcStartup() error {
	if err := h.identify(mmcRCA); err != nil {
		return err
	}

	csd := &h.card.CSD
	var (
		secCount uint32
		hs       bool
	)
	if csd.SpecVersion() >= 4 {
		if err := h.sendCommand(cmdSwitch, BusCmd, mmcBusWidth4, nil); err != nil {
			return h.initFail(StatusError, StatusCannotSetCardBusWidth)
		}
		h.regs.write(hostBusWidth4, RegHostCtrl1)
		h.card.BusWidth4 = true

		if err := h.sendCommand(cmdSwitch, BusCmd, mmcHSTiming, nil); err != nil {
			return h.initFail(StatusError, StatusCannotSetCardHighSpeed)
		}

		var ext [extCSDBytes]byte
		if err := h.readData(cmdSendIfCond, BusCmd, 0, ext[:]); err != nil {
			return h.initFail(StatusError, StatusCMD8Failed)
		}
		hs = ext[extCSDHSTiming]&0xf == 1
		secCount = binary.LittleEndian.Uint32(ext[extCSDSecCount:])
		h.eraseGroup = ext[extCSDEraseGrpSize]
		debug.LogDebug(debug.ComponentSDHost, "EXT_CSD", "sectors", secCount,
			"erasegroup", h.eraseGroup, "buswidth", ext[extCSDBusWidth])
	} else {
		h.card.Type = MMCv3
	}

	h.card.Capacity = mmcCapacity(csd, secCount)
	h.setClock(hs)
	return nil
}
