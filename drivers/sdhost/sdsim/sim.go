// Package sdsim simulates the SD host controller of the FT900 and FT930 and
// an SD card or MMC in its slot.
//
// A Controller implements mmio.Bus and can be handed to the driver in place
// of the target bus. Addresses outside the controller's register windows are
// backed by plain memory, so system registers written by the driver can be
// inspected too. Commands take effect immediately: by the time the store to
// the command register returns, the card has answered and the status bits
// are latched.
package sdsim

import (
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/clktmr/ft9xx/chip"
	"github.com/clktmr/ft9xx/debug"
	"github.com/clktmr/ft9xx/mmio"
)

// Register offsets from the controller base.
const (
	offBlkSizeCount  = 0x04
	offArg1          = 0x08
	offTransferCmd   = 0x0c
	offResponse0     = 0x10
	offBufData       = 0x20
	offPresentState  = 0x24
	offHostCtrl1Pwr  = 0x28
	offClkTimeoutRst = 0x2c
	offIntStatus     = 0x30
	offIntStatusEn   = 0x34
	offIntSignalEn   = 0x38
	offACmd12Ctrl2   = 0x3c
	offCap0          = 0x40
	offCap1          = 0x44
	offVendor0       = 0x100
	offVendor5       = 0x114
)

// Status bits, see the driver for their meaning.
const (
	intCmdComplete  uint32 = 1 << 0
	intXferComplete uint32 = 1 << 1
	intBufWriteRdy  uint32 = 1 << 4
	intBufReadRdy   uint32 = 1 << 5
	intCardInserted uint32 = 1 << 6
	intCardRemoved  uint32 = 1 << 7

	errCmdTimeout  uint32 = 1 << 0
	errCmdCRC      uint32 = 1 << 1
	errDataTimeout uint32 = 1 << 4
	errDataCRC     uint32 = 1 << 5

	presentInhibitCmd  uint32 = 1 << 0
	presentInhibitDat  uint32 = 1 << 1
	presentDatActive   uint32 = 1 << 2
	presentCardIn      uint32 = 1 << 16
	presentCardStable  uint32 = 1 << 17
	presentCardDetect  uint32 = 1 << 18
	presentWriteEnable uint32 = 1 << 19

	clkInternalEnable uint32 = 1 << 0
	clkInternalStable uint32 = 1 << 1
	clkCardEnable     uint32 = 1 << 2

	resetAll  uint32 = 1 << 0
	resetCmd  uint32 = 1 << 1
	resetData uint32 = 1 << 2

	pwrOn uint32 = 1 << 8 // in the host control 1 word

	modeBlkCountEnable uint32 = 1 << 1
	modeAutoCmd12      uint32 = 1 << 2
	modeRead           uint32 = 1 << 4
	modeMultiBlock     uint32 = 1 << 5
)

var errOutOfRange = errors.New("sdsim: access beyond card capacity")

// Capabilities reported by the controller: 3.3 V only.
const DefaultCaps = 0x0100_0000

// Fault is an error the controller reports for a command.
type Fault uint8

const (
	FaultNone     Fault = iota
	FaultTimeout        // no response from the card
	FaultCRC            // response CRC error
	FaultResponse       // card status reports a generic error
	FaultDataCRC        // CRC error on the first block of the data phase
)

type faultKey struct {
	idx uint8
	app bool
}

type fault struct {
	f     Fault
	count int
}

// data is the state of a running data phase.
type data struct {
	read    bool
	size    int
	left    int // blocks
	index   int
	buf     []byte
	pos     int
	fixed   []byte
	addr    int64
	auto12  bool
	corrupt bool
}

// Controller is the simulated SD host controller.
type Controller struct {
	Mem  *mmio.Mem // backs all addresses outside the controller
	base uintptr

	mu sync.Mutex

	blkSizeCount uint32
	arg          uint32
	tmCmd        uint32
	rsp          [4]uint32
	hostPwr      uint32
	clkRst       uint32
	normSt       uint32
	errSt        uint32
	statusEn     uint32
	signalEn     uint32
	hostCtrl2    uint32
	caps         [2]uint32
	vendor       [6]uint32

	card   *Card
	xfer   *data
	log    []Frame
	faults map[faultKey]*fault

	irq     func()
	pending bool
	inIRQ   atomic.Bool
}

// New returns a controller at the SD host address of variant v with an empty
// slot.
func New(v chip.Variant) *Controller {
	c := &Controller{
		Mem:    mmio.NewMem(),
		base:   v.SDHostBase(),
		faults: make(map[faultKey]*fault),
	}
	c.caps[0] = DefaultCaps
	return c
}

// SetCaps replaces the capabilities register.
func (c *Controller) SetCaps(caps uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.caps[0] = caps
}

// Insert puts card into the slot.
func (c *Controller) Insert(card *Card) {
	c.mu.Lock()
	c.card = card
	c.latch(intCardInserted, 0)
	fire := c.takeIRQ()
	c.mu.Unlock()
	debug.LogDebug(debug.ComponentSim, "card inserted", "kind", card.Kind, "blocks", card.Blocks)
	c.raise(fire)
}

// Remove takes the card out of the slot.
func (c *Controller) Remove() {
	c.mu.Lock()
	c.card = nil
	c.xfer = nil
	c.latch(intCardRemoved, 0)
	fire := c.takeIRQ()
	c.mu.Unlock()
	debug.LogDebug(debug.ComponentSim, "card removed")
	c.raise(fire)
}

// Card returns the card in the slot.
func (c *Controller) Card() *Card {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.card
}

// Inject makes the controller report f for the next count commands with
// index idx, or for all of them if count is 0. app selects the application
// command set. FaultNone removes an injected fault.
func (c *Controller) Inject(idx uint8, app bool, f Fault, count int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := faultKey{idx, app}
	if f == FaultNone {
		delete(c.faults, k)
		return
	}
	c.faults[k] = &fault{f, count}
}

// OnInterrupt registers the interrupt handler. It is called whenever a
// status bit is latched whose signal is enabled. The handler may access the
// controller, nested interrupts are held back until it returns.
func (c *Controller) OnInterrupt(handler func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.irq = handler
}

// Log returns the commands sent to the card so far.
func (c *Controller) Log() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.log...)
}

// ResetLog clears the command log.
func (c *Controller) ResetLog() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.log = c.log[:0]
}

func (c *Controller) local(addr uintptr) (off uintptr, ok bool) {
	if addr < c.base || addr >= c.base+0x200 {
		return 0, false
	}
	return addr - c.base, true
}

func (c *Controller) Load32(addr uintptr) uint32 {
	off, ok := c.local(addr)
	if !ok {
		return c.Mem.Load32(addr)
	}
	c.mu.Lock()
	v := c.load(off &^ 3)
	fire := c.takeIRQ()
	c.mu.Unlock()
	c.raise(fire)
	return v
}

func (c *Controller) Store32(addr uintptr, v uint32) {
	off, ok := c.local(addr)
	if !ok {
		c.Mem.Store32(addr, v)
		return
	}
	c.mu.Lock()
	c.store(off&^3, v)
	fire := c.takeIRQ()
	c.mu.Unlock()
	c.raise(fire)
}

func (c *Controller) Load8(addr uintptr) uint8 {
	if _, ok := c.local(addr); !ok {
		return c.Mem.Load8(addr)
	}
	return uint8(c.Load32(addr&^3) >> ((addr & 3) * 8))
}

func (c *Controller) Store8(addr uintptr, v uint8) {
	if _, ok := c.local(addr); !ok {
		c.Mem.Store8(addr, v)
		return
	}
	shift := (addr & 3) * 8
	w := c.Load32(addr &^ 3)
	c.Store32(addr&^3, w&^(0xff<<shift)|uint32(v)<<shift)
}

// StreamIn32 implements mmio.Streamer.
func (c *Controller) StreamIn32(addr uintptr, dst []uint32) {
	off, ok := c.local(addr)
	c.mu.Lock()
	for i := range dst {
		if ok {
			dst[i] = c.load(off)
		} else {
			dst[i] = c.Mem.Load32(addr)
		}
	}
	fire := c.takeIRQ()
	c.mu.Unlock()
	c.raise(fire)
}

// StreamOut32 implements mmio.Streamer.
func (c *Controller) StreamOut32(addr uintptr, src []uint32) {
	off, ok := c.local(addr)
	c.mu.Lock()
	for _, v := range src {
		if ok {
			c.store(off, v)
		} else {
			c.Mem.Store32(addr, v)
		}
	}
	fire := c.takeIRQ()
	c.mu.Unlock()
	c.raise(fire)
}

func (c *Controller) load(off uintptr) uint32 {
	switch off {
	case offBlkSizeCount:
		return c.blkSizeCount
	case offArg1:
		return c.arg
	case offTransferCmd:
		return c.tmCmd
	case offResponse0, offResponse0 + 4, offResponse0 + 8, offResponse0 + 12:
		return c.rsp[(off-offResponse0)/4]
	case offBufData:
		return c.popData()
	case offPresentState:
		return c.present()
	case offHostCtrl1Pwr:
		return c.hostPwr
	case offClkTimeoutRst:
		return c.clkRst
	case offIntStatus:
		st := c.normSt
		if c.errSt != 0 {
			st |= 1 << 15
		}
		return c.errSt<<16 | st
	case offIntStatusEn:
		return c.statusEn
	case offIntSignalEn:
		return c.signalEn
	case offACmd12Ctrl2:
		return c.hostCtrl2 << 16
	case offCap0, offCap1:
		return c.caps[(off-offCap0)/4]
	}
	if off >= offVendor0 && off <= offVendor5 {
		return c.vendor[(off-offVendor0)/4]
	}
	return 0
}

func (c *Controller) store(off uintptr, v uint32) {
	switch off {
	case offBlkSizeCount:
		c.blkSizeCount = v
	case offArg1:
		c.arg = v
	case offTransferCmd:
		c.tmCmd = v
		c.execute(uint16(v>>16), v&0xffff)
	case offBufData:
		c.pushData(v)
	case offHostCtrl1Pwr:
		c.hostPwr = v
	case offClkTimeoutRst:
		c.clkRst = v &^ (clkInternalStable | 0x0700_0000)
		if v&clkInternalEnable != 0 {
			c.clkRst |= clkInternalStable
		}
		c.reset(v >> 24 & 7)
	case offIntStatus:
		c.normSt &^= v & 0xffff
		c.errSt &^= v >> 16
	case offIntStatusEn:
		c.statusEn = v
		c.normSt &= v & 0xffff
		c.errSt &= v >> 16
	case offIntSignalEn:
		c.signalEn = v
	case offACmd12Ctrl2:
		c.hostCtrl2 = v >> 16
	default:
		if off >= offVendor0 && off <= offVendor5 {
			c.vendor[(off-offVendor0)/4] = v
		}
	}
}

func (c *Controller) present() uint32 {
	p := presentCardStable
	if c.card != nil {
		p |= presentCardIn | presentCardDetect | presentWriteEnable
	}
	if c.xfer != nil {
		p |= presentInhibitDat | presentDatActive
	}
	return p
}

func (c *Controller) reset(mask uint32) {
	if mask&resetAll != 0 {
		c.blkSizeCount, c.arg, c.tmCmd = 0, 0, 0
		c.rsp = [4]uint32{}
		c.hostPwr, c.clkRst, c.hostCtrl2 = 0, 0, 0
		c.normSt, c.errSt = 0, 0
		c.statusEn, c.signalEn = 0, 0
		c.xfer = nil
		c.pending = false
		debug.LogDebug(debug.ComponentSim, "reset all")
		return
	}
	if mask&resetCmd != 0 {
		c.normSt &^= intCmdComplete
	}
	if mask&resetData != 0 {
		if c.xfer != nil && c.card != nil {
			c.card.dataDone()
		}
		c.xfer = nil
		c.normSt &^= intXferComplete | intBufReadRdy | intBufWriteRdy
	}
}

// latch sets status bits if their status is enabled.
func (c *Controller) latch(norm, err uint32) {
	c.normSt |= norm & c.statusEn & 0xffff
	c.errSt |= err & (c.statusEn >> 16)
	if c.normSt&c.signalEn&0xffff != 0 || c.errSt&(c.signalEn>>16) != 0 {
		c.pending = true
	}
}

func (c *Controller) takeIRQ() func() {
	if !c.pending || c.irq == nil {
		return nil
	}
	c.pending = false
	return c.irq
}

// raise calls the interrupt handler outside the lock. Interrupts raised by
// the handler itself are delivered after it returns.
func (c *Controller) raise(handler func()) {
	if handler == nil || !c.inIRQ.CompareAndSwap(false, true) {
		return
	}
	for handler != nil {
		handler()
		c.mu.Lock()
		handler = c.takeIRQ()
		c.mu.Unlock()
	}
	c.inIRQ.Store(false)
}

func (c *Controller) takeFault(idx uint8, app bool) Fault {
	f, ok := c.faults[faultKey{idx, app}]
	if !ok {
		return FaultNone
	}
	if f.count > 0 {
		f.count--
		if f.count == 0 {
			delete(c.faults, faultKey{idx, app})
		}
	}
	return f.f
}

// execute runs a command written to the command register.
func (c *Controller) execute(cmd uint16, mode uint32) {
	idx := uint8(cmd >> 8 & 0x3f)
	app := c.card != nil && c.card.app
	c.log = append(c.log, newFrame(idx, c.arg, app))
	f := c.takeFault(idx, app)

	powered := c.hostPwr&pwrOn != 0 && c.clkRst&clkCardEnable != 0
	if c.card == nil || !powered || f == FaultTimeout {
		if c.card != nil {
			c.card.app = false
		}
		c.latch(0, errCmdTimeout)
		debug.LogDebug(debug.ComponentSim, "no response", "index", idx)
		return
	}

	r := c.card.command(idx, c.arg)
	if r.timeout {
		c.latch(0, errCmdTimeout)
		debug.LogDebug(debug.ComponentSim, "no response", "index", idx)
		return
	}

	c.rsp = [4]uint32{}
	switch cmd & 3 {
	case 1:
		// The controller drops the CRC of R2 responses.
		c.rsp[0] = r.rsp[0]>>8 | r.rsp[1]<<24
		c.rsp[1] = r.rsp[1]>>8 | r.rsp[2]<<24
		c.rsp[2] = r.rsp[2]>>8 | r.rsp[3]<<24
		c.rsp[3] = r.rsp[3] >> 8
	case 2, 3:
		c.rsp[0] = r.rsp[0]
	}
	if f == FaultResponse {
		c.rsp[0] |= statusError
	}

	var errs uint32
	if f == FaultCRC {
		errs |= errCmdCRC
	}
	c.latch(intCmdComplete, errs)
	if cmd&3 == 3 {
		c.latch(intXferComplete, 0)
	}

	if cmd&0x20 == 0 {
		return
	}
	if f == FaultCRC {
		// The card never sees the data phase of a garbled command.
		c.card.dataDone()
		return
	}
	if r.data == nil && !r.block {
		c.latch(0, errDataTimeout)
		return
	}
	c.startData(r, mode, f == FaultDataCRC)
}

func (c *Controller) startData(r reply, mode uint32, corrupt bool) {
	x := &data{
		read:    mode&modeRead != 0,
		size:    int(c.blkSizeCount & 0xfff),
		left:    1,
		fixed:   r.data,
		addr:    r.addr,
		corrupt: corrupt,
	}
	if mode&modeMultiBlock != 0 && mode&modeBlkCountEnable != 0 {
		x.left = int(c.blkSizeCount >> 16)
		x.auto12 = mode&modeAutoCmd12 != 0
	}
	if x.size == 0 || x.left == 0 || x.size%4 != 0 {
		c.latch(intXferComplete, 0)
		return
	}
	x.buf = make([]byte, x.size)
	c.xfer = x
	c.nextBlock()
}

// nextBlock prepares the buffer for the next block or finishes the data
// phase.
func (c *Controller) nextBlock() {
	x := c.xfer
	if x.left == 0 {
		c.finishData()
		return
	}
	x.pos = 0
	if !x.read {
		c.latch(intBufWriteRdy, 0)
		return
	}

	if x.fixed != nil {
		clear(x.buf)
		copy(x.buf, x.fixed[min(x.index*x.size, len(x.fixed)):])
	} else if !c.storageIO(x, false) {
		return
	}
	if x.corrupt {
		c.dataFault(errDataCRC)
		return
	}
	c.latch(intBufReadRdy, 0)
}

// storageIO moves the current block between buffer and card storage.
func (c *Controller) storageIO(x *data, write bool) bool {
	off := x.addr + int64(x.index*x.size)
	var err error
	if c.card.storage == nil || off+int64(x.size) > int64(c.card.Blocks)*512 {
		err = errOutOfRange
	} else if write {
		_, err = c.card.storage.WriteAt(x.buf, off)
	} else {
		_, err = c.card.storage.ReadAt(x.buf, off)
	}
	if err != nil {
		debug.LogWarn(debug.ComponentSim, "storage access failed", "offset", off, "err", err)
		c.dataFault(errDataTimeout)
		return false
	}
	return true
}

// dataFault ends the data phase with an error. The card returns to the
// transfer state.
func (c *Controller) dataFault(err uint32) {
	c.xfer = nil
	c.card.dataDone()
	c.latch(0, err)
}

func (c *Controller) finishData() {
	x := c.xfer
	c.xfer = nil
	if x.auto12 {
		f := newFrame(12, 0, false)
		f.Auto = true
		c.log = append(c.log, f)
		c.card.command(12, 0)
	}
	c.card.dataDone()
	c.latch(intXferComplete, 0)
}

func (c *Controller) popData() uint32 {
	x := c.xfer
	if x == nil || !x.read || x.pos >= x.size {
		return 0
	}
	v := binary.LittleEndian.Uint32(x.buf[x.pos:])
	x.pos += 4
	if x.pos == x.size {
		x.index++
		x.left--
		c.nextBlock()
	}
	return v
}

func (c *Controller) pushData(v uint32) {
	x := c.xfer
	if x == nil || x.read || x.pos >= x.size {
		return
	}
	binary.LittleEndian.PutUint32(x.buf[x.pos:], v)
	x.pos += 4
	if x.pos < x.size {
		return
	}
	if x.corrupt {
		c.dataFault(errDataCRC)
		return
	}
	if !c.storageIO(x, true) {
		return
	}
	x.index++
	x.left--
	c.nextBlock()
}
