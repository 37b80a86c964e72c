package sdhost

import "github.com/clktmr/ft9xx/mmio"

// Offsets of the 32-bit hardware words from the controller base. Most of them
// carry two or more of the logical registers listed below.
const (
	offBlkSizeCount  uintptr = 0x04
	offArg1          uintptr = 0x08
	offTransferCmd   uintptr = 0x0c
	offResponse0     uintptr = 0x10
	offResponse1     uintptr = 0x14
	offResponse2     uintptr = 0x18
	offResponse3     uintptr = 0x1c
	offBufData       uintptr = 0x20
	offPresentState  uintptr = 0x24
	offHostCtrl1Pwr  uintptr = 0x28
	offClkTimeoutRst uintptr = 0x2c
	offIntStatus     uintptr = 0x30
	offIntStatusEn   uintptr = 0x34
	offIntSignalEn   uintptr = 0x38
	offACmd12Ctrl2   uintptr = 0x3c
	offCap0          uintptr = 0x40
	offCap1          uintptr = 0x44
	offVendor0       uintptr = 0x100
	offVendor1       uintptr = 0x104
	offVendor5       uintptr = 0x114
)

// Reg identifies a logical controller register. The numbering follows the
// vendor SDK.
type Reg uint8

const (
	RegAutoCmd23Arg2 Reg = iota + 1
	RegBlkSize
	RegBlkCount
	RegArg1
	RegTransferMode
	RegCmd
	RegResponse0
	RegResponse1
	RegResponse2
	RegResponse3
	RegBufData
	RegPresentState
	RegHostCtrl1
	RegPowerCtrl
	RegBlkGapCtrl
	RegClkCtrl
	RegTimeoutCtrl
	RegSoftReset
	RegNormIntStatus
	RegErrIntStatus
	RegNormIntStatusEn
	RegErrIntStatusEn
	RegNormIntSignalEn
	RegErrIntSignalEn
	RegAutoCmd12ErrStatus
	RegHostCtrl2
	RegCap1
	RegCap2
	RegReserved1
	RegReserved2
	RegForceEventCmdErr
	RegForceEventErrInt
	RegReserved3
	RegReserved4
	RegPresetInit
	RegPresetDefaultSpeed
	RegPresetHighSpeed
	RegPresetSDR12
	RegVendor0
	RegVendor1
	RegVendor5
)

// field locates a logical register inside a hardware word.
type field struct {
	off   uintptr
	shift uint8
	mask  uint32 // unshifted
	w1c   bool   // write-1-to-clear, the other fields of the word are written as 0
	ro    bool
}

var fields = [...]field{
	RegBlkSize:            {off: offBlkSizeCount, mask: 0xfff},
	RegBlkCount:           {off: offBlkSizeCount, shift: 16, mask: 0xffff},
	RegArg1:               {off: offArg1, mask: 0xffff_ffff},
	RegTransferMode:       {off: offTransferCmd, mask: 0xffff},
	RegCmd:                {off: offTransferCmd, shift: 16, mask: 0xffff},
	RegResponse0:          {off: offResponse0, mask: 0xffff_ffff, ro: true},
	RegResponse1:          {off: offResponse1, mask: 0xffff_ffff, ro: true},
	RegResponse2:          {off: offResponse2, mask: 0xffff_ffff, ro: true},
	RegResponse3:          {off: offResponse3, mask: 0xffff_ffff, ro: true},
	RegBufData:            {off: offBufData, mask: 0xffff_ffff},
	RegPresentState:       {off: offPresentState, mask: 0xffff_ffff, ro: true},
	RegHostCtrl1:          {off: offHostCtrl1Pwr, mask: 0xff},
	RegPowerCtrl:          {off: offHostCtrl1Pwr, shift: 8, mask: 0xff},
	RegBlkGapCtrl:         {off: offHostCtrl1Pwr, shift: 16, mask: 0xff},
	RegClkCtrl:            {off: offClkTimeoutRst, mask: 0xffff},
	RegTimeoutCtrl:        {off: offClkTimeoutRst, shift: 16, mask: 0xff},
	RegSoftReset:          {off: offClkTimeoutRst, shift: 24, mask: 0xff},
	RegNormIntStatus:      {off: offIntStatus, mask: 0xffff, w1c: true},
	RegErrIntStatus:       {off: offIntStatus, shift: 16, mask: 0xffff, w1c: true},
	RegNormIntStatusEn:    {off: offIntStatusEn, mask: 0xffff},
	RegErrIntStatusEn:     {off: offIntStatusEn, shift: 16, mask: 0xffff},
	RegNormIntSignalEn:    {off: offIntSignalEn, mask: 0xffff},
	RegErrIntSignalEn:     {off: offIntSignalEn, shift: 16, mask: 0xffff},
	RegAutoCmd12ErrStatus: {off: offACmd12Ctrl2, mask: 0xffff, ro: true},
	RegHostCtrl2:          {off: offACmd12Ctrl2, shift: 16, mask: 0xffff},
	RegCap1:               {off: offCap0, mask: 0xffff_ffff, ro: true},
	RegCap2:               {off: offCap1, mask: 0xffff_ffff, ro: true},
	RegVendor0:            {off: offVendor0, mask: 0xffff_ffff},
	RegVendor1:            {off: offVendor1, mask: 0xffff_ffff},
	RegVendor5:            {off: offVendor5, mask: 0xffff_ffff},
}

// registers maps logical registers onto a controller's hardware words.
type registers struct {
	bus  mmio.Bus
	base uintptr
}

func (r *registers) word(off uintptr) mmio.U32 {
	return mmio.NewU32(r.bus, r.base+off)
}

func lookup(id Reg) (f field, ok bool) {
	if int(id) >= len(fields) {
		return
	}
	f = fields[id]
	return f, f.mask != 0
}

// read returns the logical register id. Registers without hardware backing
// read as 0.
func (r *registers) read(id Reg) uint32 {
	f, ok := lookup(id)
	if !ok {
		return 0
	}
	return r.word(f.off).Load() >> f.shift & f.mask
}

// write stores v to the logical register id, preserving every other register
// sharing the same hardware word. Writes to registers without hardware backing
// or to read-only registers are ignored.
func (r *registers) write(v uint32, id Reg) {
	f, ok := lookup(id)
	if !ok || f.ro {
		return
	}
	w := r.word(f.off)
	v = (v & f.mask) << f.shift
	switch {
	case f.mask == 0xffff_ffff, f.w1c:
		w.Store(v)
	default:
		w.StoreBits(f.mask<<f.shift, v)
	}
}

// setBits and clearBits are read-modify-write helpers on a logical register.
func (r *registers) setBits(m uint32, id Reg)   { r.write(r.read(id)|m, id) }
func (r *registers) clearBits(m uint32, id Reg) { r.write(r.read(id)&^m, id) }

// issue writes the transfer mode and the command in a single store, so the
// command held in the register is never sent twice.
func (r *registers) issue(cmd uint16, mode uint16) {
	r.word(offTransferCmd).Store(uint32(cmd)<<16 | uint32(mode))
}

func (r *registers) setArg(arg uint32) { r.word(offArg1).Store(arg) }

// setBlock programs block size and count together.
func (r *registers) setBlock(size, count uint16) {
	r.word(offBlkSizeCount).Store(uint32(count)<<16 | uint32(size&0xfff))
}

func (r *registers) dataPort() uintptr { return r.base + offBufData }

// Present state bits.
const (
	presentCardInserted  uint32 = 1 << 16
	presentCardStable    uint32 = 1 << 17
	presentDatLineActive uint32 = 1 << 2
	presentInhibitDat    uint32 = 1 << 1
	presentInhibitCmd    uint32 = 1 << 0
)

// Normal interrupt status bits.
const (
	intCardRemoved  uint32 = 1 << 7
	intCardInserted uint32 = 1 << 6
	intBufReadRdy   uint32 = 1 << 5
	intBufWriteRdy  uint32 = 1 << 4
	intXferComplete uint32 = 1 << 1
	intCmdComplete  uint32 = 1 << 0

	intNormalMask uint32 = 0x1fff
)

// Error interrupt status bits.
const (
	errCmdTimeout  uint32 = 1 << 0
	errCmdCRC      uint32 = 1 << 1
	errCmdEndBit   uint32 = 1 << 2
	errCmdIndex    uint32 = 1 << 3
	errDataTimeout uint32 = 1 << 4
	errDataCRC     uint32 = 1 << 5
	errDataEndBit  uint32 = 1 << 6
	errCurrentLim  uint32 = 1 << 7
	errAutoCmd12   uint32 = 1 << 8
	errADMA        uint32 = 1 << 9
	errTuning      uint32 = 1 << 10

	errMask     uint32 = 0x07ff
	errCmdLine  uint32 = errCmdTimeout | errCmdCRC | errCmdEndBit | errCmdIndex
	errDataLine uint32 = errDataTimeout | errDataCRC | errDataEndBit
)

// Software reset bits.
const (
	resetAll  uint32 = 1 << 0
	resetCmd  uint32 = 1 << 1
	resetData uint32 = 1 << 2
)

// Clock control bits.
const (
	clkInternalEnable uint32 = 1 << 0
	clkInternalStable uint32 = 1 << 1
	clkCardEnable     uint32 = 1 << 2
	clkDivMask        uint32 = 0xffc0
	clkInitDivider    uint32 = 0x4000 // 50 MHz / 128 during identification
	clkDiv2           uint32 = 0x0100 // 50 MHz / 2
)

// Host control 1 bits.
const (
	hostBusWidth4 uint32 = 1 << 1
	hostHighSpeed uint32 = 1 << 2
)

// Power control values, selected from the capabilities register.
const (
	capVolt33 uint32 = 1 << 24
	capVolt30 uint32 = 1 << 25
	capVolt18 uint32 = 1 << 26

	pwrVolt33 uint32 = 0x0e
	pwrVolt30 uint32 = 0x0c
	pwrVolt18 uint32 = 0x0a
	pwrOn     uint32 = 0x01
)

// Vendor register values taken over from the controller bring-up sequence.
const (
	vendor0Default    uint32 = 0x0200_0101
	vendor1Default    uint32 = 0
	vendor5CardDetect uint32 = 0x0b
)
