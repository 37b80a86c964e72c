// Package sdhost drives the SD/MMC host controller of the FT900 and FT930
// microcontrollers.
//
// A Host is created for one controller with New, brought up with Init and
// attached to a card with CardInit. Afterwards Transfer moves 512-byte sectors
// to and from the card. Device adapts a Host to io.ReaderAt and io.WriterAt
// for use with filesystems. On the target the controller is reached through
// mmio.Target:
//
//	sdhost.SysInit(mmio.Target, chip.Default)
//	h := sdhost.New(mmio.Target, chip.Default, nil)
//	if err := h.Init(); err != nil {
//		...
//	}
//	err := h.CardInit()
//
// A Host is not safe for concurrent use. Only HandleInterrupt may run
// concurrently with the other methods.
package sdhost

import (
	"time"

	"github.com/clktmr/ft9xx/chip"
	"github.com/clktmr/ft9xx/debug"
	"github.com/clktmr/ft9xx/mmio"
)

// BlockSize is the transfer unit between host and card.
const BlockSize = 512

const blockShift = 9

// SpinCalibration is the number of status polls the vendor SDK allows
// before declaring a timeout. DefaultTimeout is that number of polls at the
// 100 MHz system clock it was tuned for.
const (
	SpinCalibration = 10_000_000
	DefaultTimeout  = 100 * time.Millisecond

	DefaultPowerUpTimeout = time.Second
)

// WaitMode selects how the Host waits for the controller to signal
// completion of a command or transfer step.
type WaitMode uint8

const (
	// Polling busy-waits on the interrupt status register.
	Polling WaitMode = iota
	// Interrupts waits for events delivered through HandleInterrupt.
	Interrupts
)

// Clock provides monotonic time and short delays to the Host.
type Clock interface {
	Now() time.Duration
	Sleep(d time.Duration)
}

type systemClock struct{ start time.Time }

func (c systemClock) Now() time.Duration    { return time.Since(c.start) }
func (c systemClock) Sleep(d time.Duration) { time.Sleep(d) }

// Config holds the tunables of a Host. The zero value selects defaults.
type Config struct {
	// Timeout bounds every wait for a controller status bit.
	Timeout time.Duration
	// PowerUpTimeout bounds the OCR polling loop of card initialisation.
	PowerUpTimeout time.Duration
	// Spins additionally bounds every wait by a number of status polls if
	// non-zero. SpinCalibration reproduces the bound of the vendor SDK.
	Spins int
	Wait  WaitMode
	Clock Clock
}

func (c *Config) withDefaults() Config {
	var cfg Config
	if c != nil {
		cfg = *c
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PowerUpTimeout == 0 {
		cfg.PowerUpTimeout = DefaultPowerUpTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{time.Now()}
	}
	return cfg
}

// Host is the handle of one SD host controller and the card attached to it.
type Host struct {
	regs    registers
	variant chip.Variant
	cfg     Config
	w       waiter

	status Status
	card   Card

	// Erase group size read from an MMC's EXT_CSD.
	eraseGroup uint8

	// Set while a probe command runs.
	probing bool
}

// New returns a handle for the SD host controller of variant v, accessed
// through bus.
func New(bus mmio.Bus, v chip.Variant, cfg *Config) *Host {
	h := &Host{
		regs:    registers{bus: bus, base: v.SDHostBase()},
		variant: v,
		cfg:     cfg.withDefaults(),
		status:  StatusNotInitialised,
	}
	h.card.reset()
	if h.cfg.Wait == Interrupts {
		h.w = newInterruptWaiter()
	} else {
		h.w = &pollWaiter{}
	}
	return h
}

// SysInit routes the SD host signals to their pads and enables the
// controller's clock. It must be called before Init.
func SysInit(bus mmio.Bus, v chip.Variant) {
	first, cfg := v.SDHostPads()
	for i := range 8 {
		chip.Pad(bus, first+i).Store(cfg)
	}
	chip.Enable(bus, chip.DeviceSDCard)
}

// Status returns the initialisation state of host and card. It is StatusOK
// once a card is ready for transfers.
func (h *Host) Status() Status { return h.status }

// Variant returns the chip variant the Host was created for.
func (h *Host) Variant() chip.Variant { return h.variant }

type deadline struct {
	clk   Clock
	end   time.Duration
	spins int
}

func (h *Host) deadline(d time.Duration) deadline {
	spins := h.cfg.Spins
	if spins == 0 {
		spins = -1
	}
	return deadline{h.cfg.Clock, h.cfg.Clock.Now() + d, spins}
}

// expired reports whether the deadline has passed. Each call counts as one
// poll.
func (d *deadline) expired() bool {
	if d.spins > 0 {
		d.spins--
	} else if d.spins == 0 {
		return true
	}
	return d.clk.Now() > d.end
}

// waitClear polls reg until all bits in mask read 0.
func (h *Host) waitClear(id Reg, mask uint32) bool {
	dl := h.deadline(h.cfg.Timeout)
	for h.regs.read(id)&mask != 0 {
		if dl.expired() {
			return false
		}
	}
	return true
}

// waitSet polls reg until any bit in mask reads 1.
func (h *Host) waitSet(id Reg, mask uint32) bool {
	dl := h.deadline(h.cfg.Timeout)
	for h.regs.read(id)&mask == 0 {
		if dl.expired() {
			return false
		}
	}
	return true
}

// softReset requests a reset of the lines in mask and waits until the
// controller has completed it.
func (h *Host) softReset(mask uint32) bool {
	dl := h.deadline(h.cfg.Timeout)
	for {
		h.regs.write(mask, RegSoftReset)
		h.cfg.Clock.Sleep(time.Microsecond)
		if h.regs.read(RegSoftReset)&mask == 0 {
			return true
		}
		if dl.expired() {
			return false
		}
	}
}

// Init resets the controller, powers the card slot and starts the
// identification clock. Afterwards Status is StatusCardNotInitialised.
func (h *Host) Init() error {
	if !h.softReset(resetAll) {
		debug.LogWarn(debug.ComponentSDHost, "controller reset timed out")
		return StatusCmdTimeout
	}

	// Writing the debounce time starts a debounce cycle which has to finish
	// before the controller accepts further setup.
	h.regs.write(vendor5CardDetect, RegVendor5)
	if !h.waitSet(RegPresentState, presentCardStable) {
		debug.LogDebug(debug.ComponentSDHost, "card detect not stable")
	}

	h.regs.write(0, RegHostCtrl2)

	caps := h.regs.read(RegCap1)
	switch {
	case caps&capVolt33 != 0:
		h.regs.write(pwrVolt33, RegPowerCtrl)
	case caps&capVolt30 != 0:
		h.regs.write(pwrVolt30, RegPowerCtrl)
	case caps&capVolt18 != 0:
		h.regs.write(pwrVolt18, RegPowerCtrl)
	}
	h.regs.setBits(pwrOn, RegPowerCtrl)

	h.regs.write(intNormalMask, RegNormIntStatusEn)
	h.regs.write(errMask, RegErrIntStatusEn)
	if h.cfg.Wait == Interrupts {
		h.regs.write(intNormalMask, RegNormIntSignalEn)
		h.regs.write(errMask, RegErrIntSignalEn)
	}

	h.regs.write(0, RegHostCtrl1)
	h.regs.write(vendor0Default, RegVendor0)
	h.regs.write(vendor1Default, RegVendor1)

	h.regs.setBits(clkInternalEnable, RegClkCtrl)
	if !h.waitSet(RegClkCtrl, clkInternalStable) {
		debug.LogWarn(debug.ComponentSDHost, "internal clock not stable")
		return StatusCmdTimeout
	}
	h.regs.setBits(clkInitDivider|clkCardEnable, RegClkCtrl)

	h.status = StatusCardNotInitialised
	debug.LogInfo(debug.ComponentSDHost, "host initialised", "variant", h.variant)
	return nil
}

// CardDetect reports whether a card is in the slot. It returns
// StatusCardInserted or StatusCardRemoved, or StatusNotInitialised before Init.
func (h *Host) CardDetect() Status {
	if h.status == StatusNotInitialised {
		return StatusNotInitialised
	}
	if h.regs.read(RegPresentState)&presentCardInserted != 0 {
		return StatusCardInserted
	}
	if h.w.cardEvents(h)&intCardInserted != 0 {
		return StatusCardInserted
	}
	return StatusCardRemoved
}

// HandleInterrupt services the controller interrupt. It must be attached to
// the SD host interrupt line when the Host uses the Interrupts wait mode and
// is a no-op otherwise.
func (h *Host) HandleInterrupt() {
	if iw, ok := h.w.(*interruptWaiter); ok {
		iw.handle(h)
	}
}

// ReadReg returns the logical register id. Registers the controller does not
// implement read as 0.
func (h *Host) ReadReg(id Reg) uint32 { return h.regs.read(id) }

// WriteReg writes v to the logical register id without disturbing the other
// registers sharing its hardware word. Write-1-to-clear status registers only
// clear the bits set in v.
func (h *Host) WriteReg(v uint32, id Reg) { h.regs.write(v, id) }
