package sdhost

// Class tells whether a command index is a standard bus command or an
// application specific command. Application commands must be preceded by
// CMD55, which the caller issues.
type Class uint8

const (
	BusCmd Class = iota
	AppCmd
)

// Command indices.
const (
	cmdGoIdleState      = 0
	cmdSendOpCond       = 1 // MMC
	cmdAllSendCID       = 2
	cmdSendRelativeAddr = 3
	cmdIOSendOpCond     = 5 // SDIO
	cmdSwitch           = 6
	cmdSelectCard       = 7
	cmdSendIfCond       = 8 // SD, EXT_CSD on MMC
	cmdSendCSD          = 9
	cmdStopTransmission = 12
	cmdSendStatus       = 13
	cmdSetBlockLen      = 16
	cmdReadSingle       = 17
	cmdReadMultiple     = 18
	cmdWriteSingle      = 24
	cmdWriteMultiple    = 25
	cmdAppCmd           = 55

	acmdSetBusWidth = 6
	acmdSDStatus    = 13
	acmdSendOpCond  = 41
)

type respKind uint8

const (
	rspNone respKind = iota
	rspR1
	rspR1b
	rspR2
	rspR3
	rspR4
	rspR6
	rspR7
)

var respNames = [...]string{
	rspNone: "none", rspR1: "R1", rspR1b: "R1b", rspR2: "R2",
	rspR3: "R3", rspR4: "R4", rspR6: "R6", rspR7: "R7",
}

func (k respKind) String() string { return respNames[k] }

// Command register fields.
const (
	cmdTypeAbort   uint16 = 0xc0
	cmdDataPresent uint16 = 0x20

	cmdRspNone  uint16 = 0x00
	cmdRspLong  uint16 = 0x09 // R2, CRC checked
	cmdRspShort uint16 = 0x02 // R3, R4, no checks
	cmdRspCheck uint16 = 0x1a // R1, R6, R7, index and CRC checked
	cmdRspBusy  uint16 = 0x1b // R1b
)

// Error bits of the card status carried in R1 and R6 responses.
const (
	r1ErrorMask uint32 = 0xfdf9_0008
	r6ErrorMask uint32 = 0x0000_e008
)

// Card state reported in the R1b response to CMD7 when the card was selected.
const selectedState = 0x700

// Arguments.
const (
	ocrBusy     uint32 = 1 << 31 // power up finished
	ocrCCS      uint32 = 1 << 30 // SDHC/SDXC, sector mode on MMC
	ocrHCS      uint32 = 0x5000_0000
	mmcOCRArg   uint32 = 0x40ff_8000
	ifCondCheck uint32 = 0x1aa

	sdBusWidth4   uint32 = 0x2
	sdCheckHS     uint32 = 0x00ff_fff1
	sdSwitchHS    uint32 = 0x80ff_fff1
	mmcBusWidth4  uint32 = 0x03b7_0100
	mmcHSTiming   uint32 = 0x03b9_0100
	sdStatusBytes        = 64
	extCSDBytes          = 512
)

func rspCode(k respKind) uint16 {
	switch k {
	case rspR2:
		return cmdRspLong
	case rspR3, rspR4:
		return cmdRspShort
	case rspR1, rspR6, rspR7:
		return cmdRspCheck
	case rspR1b:
		return cmdRspBusy
	}
	return cmdRspNone
}

// command returns the command register value for index idx and the kind of
// response to expect. Several indices change meaning between SD and MMC
// cards, so the card type t takes part in the lookup.
func command(idx uint8, class Class, t CardType) (uint16, respKind) {
	var (
		k     respKind
		flags uint16
	)
	mmc := t.IsMMC()

	if class == AppCmd {
		switch idx {
		case acmdSendOpCond:
			k = rspR3
		case acmdSDStatus:
			k, flags = rspR1, cmdDataPresent
		default:
			k = rspR1
		}
		return uint16(idx)<<8 | flags | rspCode(k), k
	}

	switch idx {
	case cmdGoIdleState:
		k = rspNone
	case cmdSendOpCond:
		k = rspR3
	case cmdAllSendCID, cmdSendCSD:
		k = rspR2
	case cmdSendRelativeAddr:
		k = rspR6
		if mmc {
			k = rspR1
		}
	case cmdIOSendOpCond:
		k = rspR4
	case cmdSwitch:
		k, flags = rspR1, cmdDataPresent
		if mmc {
			k, flags = rspR1b, 0
		}
	case cmdSelectCard:
		k = rspR1b
	case cmdSendIfCond:
		k = rspR7
		if mmc {
			k, flags = rspR1, cmdDataPresent
		}
	case cmdStopTransmission:
		k, flags = rspR1b, cmdTypeAbort
	case cmdReadSingle, cmdReadMultiple, cmdWriteSingle, cmdWriteMultiple:
		k, flags = rspR1, cmdDataPresent
	default:
		k = rspR1
	}
	return uint16(idx)<<8 | flags | rspCode(k), k
}
