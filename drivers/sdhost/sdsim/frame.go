package sdsim

import (
	"encoding/binary"
	"fmt"

	"github.com/sigurn/crc8"
)

// CRC7 used by SD and MMC on the command line, computed in the upper seven
// bits of a byte.
var crc7 = crc8.MakeTable(crc8.Params{Poly: 0x12, Init: 0x00, RefIn: false, RefOut: false, XorOut: 0x00, Check: 0xEA, Name: "CRC-7/MMC"})

// Frame is a command as it appears on the CMD line.
type Frame struct {
	Index uint8
	Arg   uint32
	App   bool // preceded by CMD55
	Auto  bool // issued by the controller to end a multiple block transfer

	// Bytes holds start and transmission bit, index, argument, CRC7 and end
	// bit.
	Bytes [6]byte
}

func newFrame(idx uint8, arg uint32, app bool) Frame {
	f := Frame{Index: idx, Arg: arg, App: app}
	f.Bytes[0] = 0x40 | idx&0x3f
	binary.BigEndian.PutUint32(f.Bytes[1:], arg)
	f.Bytes[5] = crc8.Checksum(f.Bytes[:5], crc7) | 1
	return f
}

// CRC returns the CRC7 of the frame.
func (f Frame) CRC() uint8 { return f.Bytes[5] >> 1 }

// Valid reports whether the frame's CRC7 matches its content.
func (f Frame) Valid() bool {
	csum := crc8.Init(crc7)
	csum = crc8.Update(csum, f.Bytes[:5], crc7)
	csum = crc8.Complete(csum, crc7)
	return csum|1 == f.Bytes[5]
}

func (f Frame) String() string {
	prefix := "CMD"
	if f.App {
		prefix = "ACMD"
	}
	return fmt.Sprintf("%s%d(%#08x) % x", prefix, f.Index, f.Arg, f.Bytes)
}
