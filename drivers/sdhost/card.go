package sdhost

import (
	"fmt"
	"time"

	"github.com/clktmr/ft9xx/debug"
)

// CardType is the kind of card found by CardInit.
type CardType uint8

const (
	CardUnknown CardType = iota
	SDv1                 // SD Physical Layer 1.x, no CMD8
	SDv2                 // SD Physical Layer 2.0 or later, SDSC, SDHC or SDXC
	MMCv3                // MultiMediaCard before system specification 4.0
	MMC                  // MultiMediaCard 4.0 or later, including eMMC
)

var cardTypeNames = [...]string{
	CardUnknown: "unknown",
	SDv1:        "SDv1",
	SDv2:        "SDv2",
	MMCv3:       "MMCv3",
	MMC:         "MMC",
}

func (t CardType) String() string {
	if int(t) < len(cardTypeNames) {
		return cardTypeNames[t]
	}
	return fmt.Sprintf("CardType(%d)", uint8(t))
}

// IsMMC reports whether t is a MultiMediaCard.
func (t CardType) IsMMC() bool { return t == MMCv3 || t == MMC }

// Card describes the card attached to a Host. It is filled in by CardInit.
type Card struct {
	Type CardType
	// SDSC is set for byte addressed cards, where the transfer engine
	// converts block addresses to byte addresses.
	SDSC      bool
	HighSpeed bool
	BusWidth4 bool
	// Capacity in 512-byte blocks.
	Capacity uint32

	CID CID
	CSD CSD
	OCR uint32
	RCA uint16

	// F8 is set if the card answered CMD8 with the check pattern.
	F8 bool
	// InternalStatus is the step at which the last CardInit stopped, or
	// StatusOK.
	InternalStatus Status
}

func (c *Card) reset() {
	*c = Card{InternalStatus: StatusCardNotInitialised}
}

// Card returns a copy of the card description.
func (h *Host) Card() Card { return h.card }

// initFail records why card initialisation stopped and builds the error
// returned to the caller.
func (h *Host) initFail(ret, reason Status) error {
	h.card.InternalStatus = reason
	h.status = ret
	debug.LogWarn(debug.ComponentSDHost, "card init failed", "status", ret, "reason", reason)
	return &InitError{Status: ret, Reason: reason}
}

// probeRetries bounds the repetitions of the identification phase when the
// card answers CMD8 with an unexpected pattern.
const probeRetries = 2

// CardInit identifies the card in the slot and brings it to the data
// transfer state with the fastest bus width and clock both sides support. On
// failure the returned error is an *InitError and Status reports the failure
// until the next CardInit.
func (h *Host) CardInit() error {
	if h.status == StatusNotInitialised {
		return StatusNotInitialised
	}
	h.card.reset()
	h.eraseGroup = 0

	var (
		failed bool
		rsp    [4]uint32
	)
	for retry := 0; retry < probeRetries; retry++ {
		failed = false
		h.card.Type = CardUnknown

		h.sendCommand(cmdGoIdleState, BusCmd, 0, nil)

		err := h.probe(cmdSendOpCond, 0, &rsp)
		if err == nil {
			h.card.Type = MMC
			h.card.OCR = rsp[0]
			if !h.mmcPowerUp() {
				failed = true
				continue
			}
			break
		}
		if err != StatusCmdTimeout {
			// Neither MMC nor silent, try again.
			failed = true
			h.card.Type = MMC
			continue
		}

		h.sendCommand(cmdGoIdleState, BusCmd, 0, nil)
		err = h.probe(cmdSendIfCond, ifCondCheck, &rsp)
		switch {
		case err == StatusCmdTimeout:
			h.card.F8 = false
			h.card.Type = SDv1
		case err != nil || rsp[0]&0xfff != ifCondCheck:
			debug.LogDebug(debug.ComponentSDHost, "unexpected CMD8 response", "err", err, "response", rsp[0])
			failed = true
			continue
		default:
			h.card.F8 = true
			h.card.Type = SDv2
		}
		break
	}
	if failed {
		if h.card.Type.IsMMC() {
			return h.initFail(StatusUnusableCard, StatusCMD1Failed)
		}
		return h.initFail(StatusUnusableCard, StatusCMD8Failed)
	}
	debug.LogInfo(debug.ComponentSDHost, "card detected", "type", h.card.Type)

	var err error
	if h.card.Type.IsMMC() {
		err = h.mmcStartup()
	} else {
		err = h.sdStartup()
	}
	if err != nil {
		return err
	}

	h.card.InternalStatus = StatusOK
	h.status = StatusOK
	debug.LogInfo(debug.ComponentSDHost, "card ready",
		"type", h.card.Type, "blocks", h.card.Capacity,
		"highspeed", h.card.HighSpeed, "sdsc", h.card.SDSC)
	return nil
}

// identify runs the common part of the startup sequences: CID, RCA, CSD and
// selection of the card. For MMC the host assigns rca, SD cards publish their
// own.
func (h *Host) identify(rca uint16) error {
	var rsp [4]uint32
	if err := h.sendCommand(cmdAllSendCID, BusCmd, 0, &rsp); err != nil {
		return h.initFail(StatusError, StatusCMD2Failed)
	}
	h.card.CID = CID(rsp)

	if h.card.Type.IsMMC() {
		h.card.RCA = rca
		if err := h.sendCommand(cmdSendRelativeAddr, BusCmd, uint32(rca)<<16, &rsp); err != nil {
			return h.initFail(StatusError, StatusCMD3Failed)
		}
	} else {
		if err := h.sendCommand(cmdSendRelativeAddr, BusCmd, 0, &rsp); err != nil {
			return h.initFail(StatusError, StatusCMD3Failed)
		}
		h.card.RCA = uint16(rsp[0] >> 16)
	}

	if err := h.sendCommand(cmdSendCSD, BusCmd, uint32(h.card.RCA)<<16, &rsp); err != nil {
		return h.initFail(StatusError, StatusCMD9Failed)
	}
	h.card.CSD = CSD(rsp)

	err := h.sendCommand(cmdSelectCard, BusCmd, uint32(h.card.RCA)<<16, &rsp)
	if err != nil || rsp[0] != selectedState {
		return h.initFail(StatusError, StatusCannotEnterTransferState)
	}
	return nil
}

// setClock disables the SD clock, reprograms the divider for the data
// transfer phase and enables it again once the internal clock is stable.
func (h *Host) setClock(highSpeed bool) {
	h.regs.clearBits(clkCardEnable, RegClkCtrl)
	if highSpeed {
		h.regs.setBits(hostHighSpeed, RegHostCtrl1)
		h.regs.write(h.regs.read(RegClkCtrl)&^clkDivMask, RegClkCtrl)
	} else {
		h.regs.write(h.regs.read(RegClkCtrl)&^clkDivMask|clkDiv2, RegClkCtrl)
	}
	if !h.waitSet(RegClkCtrl, clkInternalStable) {
		debug.LogWarn(debug.ComponentSDHost, "clock not stable after divider change")
	}
	h.regs.setBits(clkCardEnable, RegClkCtrl)
	h.card.HighSpeed = highSpeed
	if highSpeed {
		debug.LogInfo(debug.ComponentSDHost, "clock", "MHz", 50)
	} else {
		debug.LogInfo(debug.ComponentSDHost, "clock", "MHz", 25)
	}
}

// powerUpDelay is the pause between two OCR polls.
const powerUpDelay = 10 * time.Microsecond
