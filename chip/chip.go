// Package chip describes the FT900 and FT930 system block: where peripherals
// are mapped, how their pads are configured and how their clocks are gated.
package chip

import (
	"fmt"

	"github.com/clktmr/ft9xx/mmio"
)

// Variant selects between the two members of the FT9xx family. Both share the
// SD host register layout but map it at different addresses and route its
// signals to different pads.
type Variant uint8

const (
	FT900 Variant = iota
	FT930
)

func (v Variant) String() string {
	switch v {
	case FT900:
		return "FT900"
	case FT930:
		return "FT930"
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

const (
	regClkCfg uintptr = 0x1_0008
	regPad00  uintptr = 0x1_001c
)

// SDHostBase returns the address of the SD host controller's first register
// window. The vendor specific registers follow at offset 0x100.
func (v Variant) SDHostBase() uintptr {
	if v == FT930 {
		return 0x1_0600
	}
	return 0x1_0400
}

// SDHostPads returns the first pad and the pad configuration used for the
// eight SD host signals. The pads are switched to the alternate function
// carrying the SD host, pull-ups are left to the board.
func (v Variant) SDHostPads() (first int, cfg uint8) {
	if v == FT930 {
		return 0, PadFunc2
	}
	return 19, PadFunc1
}

// Pad configuration bits.
const (
	PadFunc1 uint8 = 0x40 // alternate function 1
	PadFunc2 uint8 = 0x80 // alternate function 2
)

// Pad returns the configuration register of pad n.
func Pad(b mmio.Bus, n int) mmio.U8 {
	return mmio.NewU8(b, regPad00+uintptr(n))
}

// Device is a peripheral gated by the system clock configuration register.
// The value is the bit position of its enable bit.
type Device uint8

const DeviceSDCard Device = 12

func clkcfg(b mmio.Bus) mmio.U32 { return mmio.NewU32(b, regClkCfg) }

// Enable turns on the clock of peripheral d.
func Enable(b mmio.Bus, d Device) {
	clkcfg(b).SetBits(1 << d)
}

// Disable turns off the clock of peripheral d.
func Disable(b mmio.Bus, d Device) {
	clkcfg(b).ClearBits(1 << d)
}

// Enabled reports whether the clock of peripheral d is on.
func Enabled(b mmio.Bus, d Device) bool {
	return clkcfg(b).LoadBits(1<<d) != 0
}
