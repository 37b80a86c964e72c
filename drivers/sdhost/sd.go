package sdhost

import "github.com/clktmr/ft9xx/debug"

// Byte offsets in the 64-byte switch function status, which the card sends
// most significant byte first.
const (
	swGroup1Support = 13 // bit 1: high speed supported
	swGroup1Result  = 16 // low nibble: selected function
	swBusy          = 30
)

// sdStartup continues CardInit for SD memory cards after CMD8.
func (h *Host) sdStartup() error {
	var rsp [4]uint32

	// SDIO and combo cards are handled as plain memory cards.
	if err := h.probe(cmdIOSendOpCond, 0, &rsp); err == nil {
		debug.LogDebug(debug.ComponentSDHost, "ignoring SDIO function", "ocr", rsp[0])
	}

	// An inquiry ACMD41 with an empty voltage window returns the OCR without
	// starting initialisation.
	if err := h.sendApp(acmdSendOpCond, 0, &rsp); err != nil {
		return h.initFail(StatusUnusableCard, StatusACMD41Failed)
	}
	h.card.OCR = rsp[0]

	dl := h.deadline(h.cfg.PowerUpTimeout)
	for h.card.OCR&ocrBusy == 0 {
		if dl.expired() {
			return h.initFail(StatusUnusableCard, StatusACMD41Failed)
		}
		h.cfg.Clock.Sleep(powerUpDelay)
		// SDSC cards ignore HCS, SDHC and SDXC never finish power up
		// without it.
		if err := h.sendApp(acmdSendOpCond, h.card.OCR|ocrHCS, &rsp); err != nil {
			return h.initFail(StatusUnusableCard, StatusACMD41Failed)
		}
		h.card.OCR = rsp[0]
	}
	h.card.SDSC = h.card.OCR&ocrCCS == 0

	if err := h.identify(0); err != nil {
		return err
	}

	if err := h.sendApp(acmdSetBusWidth, sdBusWidth4, nil); err != nil {
		return h.initFail(StatusError, StatusCannotSetCardBusWidth)
	}
	h.regs.write(hostBusWidth4, RegHostCtrl1)
	h.card.BusWidth4 = true

	hs := h.sdSwitchHighSpeed()
	h.card.Capacity = sdCapacity(&h.card.CSD)
	h.setClock(hs)
	return nil
}

// sdSwitchHighSpeed switches the card to high speed timing if it supports
// the switch command class and the high speed function. It first checks the
// function in mode 0 and sets it in mode 1.
func (h *Host) sdSwitchHighSpeed() bool {
	if h.card.CSD.CCC()&cccSwitch == 0 {
		debug.LogDebug(debug.ComponentSDHost, "no switch command class", "ccc", h.card.CSD.CCC())
		return false
	}

	var st [sdStatusBytes]byte
	if err := h.readData(cmdSwitch, BusCmd, sdCheckHS, st[:]); err != nil {
		debug.LogDebug(debug.ComponentSDHost, "switch check failed", "err", err)
		return false
	}
	if st[swGroup1Support]&0x2 == 0 || st[swGroup1Result]&0xf != 1 || st[swBusy]&0x2 != 0 {
		return false
	}

	if err := h.readData(cmdSwitch, BusCmd, sdSwitchHS, st[:]); err != nil {
		debug.LogDebug(debug.ComponentSDHost, "switch set failed", "err", err)
		return false
	}
	return st[swGroup1Support]&0x2 != 0 && st[swGroup1Result]&0xf == 1
}
