package sdsim

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind selects the card model.
type Kind uint8

const (
	SDv1  Kind = iota // SD 1.x, no CMD8, byte addressed
	SDSC              // SD 2.0 standard capacity, byte addressed
	SDHC              // SD 2.0 high capacity, block addressed
	MMCv3             // MMC 3.x, byte addressed, no EXT_CSD
	MMC               // MMC 4.x, byte addressed
	MMCHC             // MMC 4.x above 2 GB, sector addressed
)

var kindNames = [...]string{
	SDv1: "SDv1", SDSC: "SDSC", SDHC: "SDHC", MMCv3: "MMCv3", MMC: "MMC", MMCHC: "MMCHC",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

func (k Kind) sd() bool { return k <= SDHC }

func (k Kind) blockAddressed() bool { return k == SDHC || k == MMCHC }

// Storage holds the card content.
type Storage interface {
	io.ReaderAt
	io.WriterAt
}

// Card states of the SD and MMC protocol.
type state uint8

const (
	stateIdle state = iota
	stateReady
	stateIdent
	stateStby
	stateTran
	stateData
	stateRcv
	statePrg
)

// Card status bits.
const (
	statusOutOfRange   uint32 = 1 << 31
	statusIllegalCmd   uint32 = 1 << 22
	statusError        uint32 = 1 << 19
	statusReadyForData uint32 = 1 << 8
	statusAppCmd       uint32 = 1 << 5
)

// OCR bits.
const (
	ocrBusy    uint32 = 1 << 31
	ocrCCS     uint32 = 1 << 30
	ocrVoltage uint32 = 0x00ff_8000
)

// Card models an SD memory card or MMC.
type Card struct {
	Kind Kind
	// Blocks is the capacity in 512-byte blocks as encoded in the CSD.
	Blocks uint32

	// ReadyAfter is the number of power up polls (ACMD41 or CMD1) the card
	// answers busy. A negative value keeps the card busy forever.
	ReadyAfter int
	// HighSpeed makes the card offer the high speed function.
	HighSpeed bool
	// IfCond replaces the echo of CMD8 if non-zero.
	IfCond uint32
	// AUSize is the AU_SIZE field of the SD status.
	AUSize uint8
	// RCA is the relative address an SD card publishes.
	RCA uint16

	storage Storage
	cid     [4]uint32
	csd     [4]uint32
	ext     [512]byte

	state     state
	app       bool
	polls     int
	blockLen  uint32
	busWidth4 bool
	hs        bool
}

// NewCard returns a card of kind k holding blocks 512-byte blocks in s. The
// capacity is rounded down to what the CSD of the kind can express.
func NewCard(k Kind, s Storage, blocks uint32) *Card {
	c := &Card{
		Kind:      k,
		HighSpeed: true,
		AUSize:    9,
		RCA:       0xb368,
		storage:   s,
		blockLen:  512,
	}
	c.Blocks = c.encodeCSD(blocks)
	c.encodeCID()
	if !k.sd() {
		c.ext[192] = 5 // EXT_CSD_REV
		c.ext[196] = 0x03
		binary.LittleEndian.PutUint32(c.ext[212:], c.Blocks)
		c.ext[224] = 1
	}
	return c
}

// CID returns the card identification register including its CRC byte.
func (c *Card) CID() [4]uint32 { return c.cid }

// CSD returns the card specific data register including its CRC byte.
func (c *Card) CSD() [4]uint32 { return c.csd }

// ExtCSD returns the extended CSD of an MMC.
func (c *Card) ExtCSD() *[512]byte { return &c.ext }

// Selected reports whether the card is in transfer state.
func (c *Card) Selected() bool { return c.state >= stateTran }

// BusWidth4 reports whether the card was switched to the 4-bit bus.
func (c *Card) BusWidth4() bool { return c.busWidth4 }

// HighSpeedTiming reports whether the card was switched to high speed.
func (c *Card) HighSpeedTiming() bool { return c.hs }

func put(r *[4]uint32, start, size uint, v uint32) {
	for i := range size {
		bit := start + i
		if v>>i&1 != 0 {
			r[bit/32] |= 1 << (bit % 32)
		} else {
			r[bit/32] &^= 1 << (bit % 32)
		}
	}
}

// encodeCSD builds the CSD and returns the capacity it expresses.
func (c *Card) encodeCSD(blocks uint32) uint32 {
	r := &c.csd
	*r = [4]uint32{}

	put(r, 96, 8, 0x32) // TRAN_SPEED 25 MHz
	put(r, 46, 1, 1)    // ERASE_BLK_EN
	put(r, 39, 7, 0x7f) // SECTOR_SIZE
	put(r, 22, 4, 9)    // WRITE_BL_LEN

	switch c.Kind {
	case SDHC:
		put(r, 126, 2, 1)
		put(r, 84, 12, 0x5b5)
		put(r, 80, 4, 9)
		units := max(blocks/1024, 1)
		put(r, 48, 22, units-1)
		blocks = units * 1024

	case MMCHC:
		put(r, 126, 2, 3)
		put(r, 122, 4, 4)
		put(r, 84, 12, 0x0f5)
		put(r, 80, 4, 9)
		put(r, 62, 12, 0xfff)
		put(r, 47, 3, 7)
		put(r, 42, 5, 31) // ERASE_GRP_SIZE
		put(r, 37, 5, 0)  // ERASE_GRP_MULT

	default:
		// C_SIZE_MULT 7 and the smallest READ_BL_LEN that fits C_SIZE.
		bl := uint32(9)
		for blocks/(512<<(bl-9)) > 4096 && bl < 11 {
			bl++
		}
		unit := uint32(512) << (bl - 9)
		n := min(max(blocks/unit, 1), 4096)
		blocks = n * unit

		if c.Kind.sd() {
			put(r, 126, 2, 0)
			put(r, 84, 12, 0x5b5)
		} else {
			put(r, 126, 2, 3)
			vers := uint32(4)
			if c.Kind == MMCv3 {
				vers = 3
			}
			put(r, 122, 4, vers)
			put(r, 84, 12, 0x0f5)
			put(r, 42, 5, 31)
			put(r, 37, 5, 0)
		}
		put(r, 80, 4, bl)
		put(r, 62, 12, n-1)
		put(r, 47, 3, 7)
	}
	return blocks
}

func putText(r *[4]uint32, start uint, s string, n int) {
	for i := range n {
		ch := byte(' ')
		if i < len(s) {
			ch = s[i]
		}
		put(r, start+uint(8*(n-1-i)), 8, uint32(ch))
	}
}

func (c *Card) encodeCID() {
	r := &c.cid
	*r = [4]uint32{}
	if c.Kind.sd() {
		put(r, 120, 8, 0x03)
		putText(r, 104, "SM", 2)
		putText(r, 64, "SIM01", 5)
		put(r, 56, 8, 0x10)
		put(r, 24, 32, 0x0bad_cafe)
		put(r, 12, 8, 24) // 2024
		put(r, 8, 4, 6)
	} else {
		put(r, 120, 8, 0x15)
		if c.Kind != MMCv3 {
			put(r, 112, 2, 1) // BGA
		}
		putText(r, 104, "S", 1)
		putText(r, 56, "SIMMC", 6)
		put(r, 48, 8, 0x21)
		put(r, 16, 32, 0x0123_4567)
		put(r, 12, 4, 6)
		put(r, 8, 4, 12) // 2009
	}
}

// status returns the R1 card status for the current state.
func (c *Card) status() uint32 {
	s := uint32(c.state)<<9 | statusReadyForData
	if c.app {
		s |= statusAppCmd
	}
	return s
}

// reply is the card's answer to a command.
type reply struct {
	timeout bool
	rsp     [4]uint32 // rsp[0] for short responses

	// Data phase: either fixed content or the storage at offset addr.
	data  []byte
	block bool
	addr  int64
}

func short(v uint32) reply { return reply{rsp: [4]uint32{v}} }

var noResponse = reply{timeout: true}

// command processes a command and advances the card state.
func (c *Card) command(idx uint8, arg uint32) reply {
	app := c.app
	c.app = false
	if app {
		if r, ok := c.appCommand(idx, arg); ok {
			return r
		}
	}

	switch idx {
	case 0:
		c.state = stateIdle
		c.polls = 0
		c.busWidth4 = false
		c.hs = false
		c.ext[183], c.ext[185] = 0, 0
		return reply{}

	case 1:
		if c.Kind.sd() || c.state != stateIdle {
			return noResponse
		}
		ocr := ocrVoltage
		if arg != 0 {
			if c.ReadyAfter >= 0 && c.polls >= c.ReadyAfter {
				ocr |= ocrBusy
				c.state = stateReady
			}
			c.polls++
		}
		if c.Kind == MMCHC {
			ocr |= ocrCCS
		}
		if ocr&ocrBusy != 0 {
			c.state = stateReady
		}
		return short(ocr)

	case 2:
		if c.state != stateReady {
			return noResponse
		}
		c.state = stateIdent
		return reply{rsp: c.cid}

	case 3:
		if c.state != stateIdent && c.state != stateStby {
			return noResponse
		}
		s := c.status()
		c.state = stateStby
		if c.Kind.sd() {
			// R6 carries status bits 23, 22, 19 and 12:0.
			return short(uint32(c.RCA)<<16 | s&0x1fff)
		}
		c.RCA = uint16(arg >> 16)
		return short(s)

	case 5:
		return noResponse

	case 6:
		if c.Kind.sd() {
			if c.state != stateTran {
				return short(c.status() | statusIllegalCmd)
			}
			return reply{rsp: [4]uint32{c.status()}, data: c.switchStatus(arg)}
		}
		s := c.status()
		if arg>>24&3 == 3 {
			i, v := arg>>16&0xff, byte(arg>>8)
			switch i {
			case 183:
				c.ext[i] = v
				c.busWidth4 = v != 0
			case 185:
				if v == 0 || c.HighSpeed {
					c.ext[i] = v
					c.hs = v != 0
				}
			}
		}
		return short(s)

	case 7:
		if uint16(arg>>16) != c.RCA {
			c.state = stateStby
			return noResponse
		}
		s := c.status()
		c.state = stateTran
		return short(s)

	case 8:
		if c.Kind.sd() {
			if c.Kind == SDv1 {
				return noResponse
			}
			echo := arg & 0xfff
			if c.IfCond != 0 {
				echo = c.IfCond
			}
			return short(echo)
		}
		if c.state != stateTran || c.Kind == MMCv3 {
			return short(c.status() | statusIllegalCmd)
		}
		return reply{rsp: [4]uint32{c.status()}, data: c.ext[:]}

	case 9:
		if uint16(arg>>16) != c.RCA {
			return noResponse
		}
		return reply{rsp: c.csd}

	case 12:
		s := c.status()
		if c.state >= stateData {
			c.state = stateTran
		}
		return short(s)

	case 13:
		return short(c.status())

	case 16:
		if arg == 0 || arg > 512 {
			return short(c.status() | statusError)
		}
		c.blockLen = arg
		return short(c.status())

	case 17, 18, 24, 25:
		if c.state != stateTran {
			return short(c.status() | statusIllegalCmd)
		}
		addr := int64(arg)
		if c.Kind.blockAddressed() {
			addr *= 512
		}
		s := c.status()
		if addr+int64(c.blockLen) > int64(c.Blocks)*512 {
			return short(s | statusOutOfRange)
		}
		if idx == 17 || idx == 18 {
			c.state = stateData
		} else {
			c.state = stateRcv
		}
		return reply{rsp: [4]uint32{s}, block: true, addr: addr}

	case 55:
		c.app = true
		return short(c.status())
	}
	return short(c.status() | statusIllegalCmd)
}

// dataDone ends the data phase of a single block command.
func (c *Card) dataDone() {
	if c.state == stateData || c.state == stateRcv {
		c.state = stateTran
	}
}

// appCommand handles the application commands an SD card knows. ok is
// false for indices that fall back to the standard command set.
func (c *Card) appCommand(idx uint8, arg uint32) (r reply, ok bool) {
	if !c.Kind.sd() {
		return r, false
	}
	switch idx {
	case 6:
		c.busWidth4 = arg&3 == 2
		return short(c.status()), true

	case 13:
		if c.state != stateTran {
			return short(c.status() | statusIllegalCmd), true
		}
		return reply{rsp: [4]uint32{c.status()}, data: c.sdStatus()}, true

	case 41:
		if c.state != stateIdle {
			return noResponse, true
		}
		ocr := ocrVoltage
		if arg&ocrVoltage != 0 {
			hcs := arg&ocrCCS != 0
			ready := c.ReadyAfter >= 0 && c.polls >= c.ReadyAfter
			if c.Kind == SDHC && !hcs {
				ready = false
			}
			c.polls++
			if ready {
				ocr |= ocrBusy
				if c.Kind == SDHC {
					ocr |= ocrCCS
				}
				c.state = stateReady
			}
		}
		return short(ocr), true
	}
	return r, false
}

// switchStatus answers CMD6 of an SD card. Function group 1 selects
// between default and high speed.
func (c *Card) switchStatus(arg uint32) []byte {
	st := make([]byte, 64)
	st[1] = 100 // mA
	st[12] = 0x80
	st[13] = 0x01
	if c.HighSpeed {
		st[13] |= 0x02
	}

	fn := arg & 0xf
	var result byte
	switch {
	case fn == 0xf:
		if c.hs {
			result = 1
		}
	case fn == 0, fn == 1 && c.HighSpeed:
		result = byte(fn)
	default:
		result = 0xf
	}
	st[16] = result
	st[17] = 1 // data structure version

	if arg&(1<<31) != 0 && result != 0xf {
		c.hs = result == 1
	}
	return st
}

// sdStatus returns the 64-byte SD status, most significant byte first.
func (c *Card) sdStatus() []byte {
	st := make([]byte, 64)
	if c.busWidth4 {
		st[0] = 0x80
	}
	st[8] = 4 // SPEED_CLASS 10
	st[10] = c.AUSize << 4
	return st
}
