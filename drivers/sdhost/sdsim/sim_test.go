package sdsim

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/clktmr/ft9xx/chip"
)

const base = 0x10400

// powerUp configures the controller like a host driver would.
func powerUp(c *Controller) {
	c.Store32(base+offIntStatusEn, 0x07ff_1fff)
	c.Store32(base+offHostCtrl1Pwr, pwrOn)
	c.Store32(base+offClkTimeoutRst, clkInternalEnable|clkCardEnable)
}

func send(c *Controller, idx uint8, cmdType, mode uint32, arg uint32) (norm, err uint32) {
	c.Store32(base+offIntStatus, 0xffff_ffff)
	c.Store32(base+offArg1, arg)
	c.Store32(base+offTransferCmd, (uint32(idx)<<8|cmdType)<<16|mode)
	st := c.Load32(base + offIntStatus)
	return st & 0x7fff, st >> 16
}

func TestPassThrough(t *testing.T) {
	c := New(chip.FT900)
	c.Store32(0x10008, 0x1000)
	if got := c.Mem.Load32(0x10008); got != 0x1000 {
		t.Errorf("expected clkcfg 0x1000, got %#x", got)
	}
	c.Store8(0x1002f, 0x40)
	if got := c.Load8(0x1002f); got != 0x40 {
		t.Errorf("expected pad 0x40, got %#x", got)
	}
}

func TestSoftReset(t *testing.T) {
	c := New(chip.FT930)
	const b = 0x10600
	c.Store32(b+offIntStatusEn, 0xffff)
	c.Store32(b+offClkTimeoutRst, clkInternalEnable)
	if got := c.Load32(b + offClkTimeoutRst); got&clkInternalStable == 0 {
		t.Fatalf("expected internal clock stable, got %#x", got)
	}
	c.Store32(b+offClkTimeoutRst, resetAll<<24)
	if got := c.Load32(b + offClkTimeoutRst); got != 0 {
		t.Errorf("expected reset to clear clock control, got %#x", got)
	}
	if got := c.Load32(b + offIntStatusEn); got != 0 {
		t.Errorf("expected reset to clear status enable, got %#x", got)
	}
	if got := c.Load32(b + offCap0); got != DefaultCaps {
		t.Errorf("expected caps %#x, got %#x", DefaultCaps, got)
	}
}

func TestNoCard(t *testing.T) {
	c := New(chip.FT900)
	powerUp(c)
	if c.Load32(base+offPresentState)&presentCardIn != 0 {
		t.Fatal("empty slot reports a card")
	}
	_, err := send(c, 0, 0, 0, 0)
	if err&errCmdTimeout == 0 {
		t.Errorf("expected command timeout, got %#x", err)
	}
}

func TestStatusEnable(t *testing.T) {
	c := New(chip.FT900)
	c.Insert(NewCard(SDHC, NewImage(2048), 2048))
	if got := c.Load32(base + offIntStatus); got != 0 {
		t.Errorf("expected no latched status, got %#x", got)
	}
	powerUp(c)
	c.Remove()
	if got := c.Load32(base + offIntStatus); got&intCardRemoved == 0 {
		t.Errorf("expected card removed, got %#x", got)
	}
	c.Store32(base+offIntStatus, intCardRemoved)
	if got := c.Load32(base + offIntStatus); got != 0 {
		t.Errorf("expected status cleared, got %#x", got)
	}
}

func TestReadBlock(t *testing.T) {
	img := NewImage(2048)
	for i := range 512 {
		img[3*512+i] = byte(i)
	}
	c := New(chip.FT900)
	card := NewCard(SDHC, img, 2048)
	card.state = stateTran
	c.Insert(card)
	powerUp(c)

	c.Store32(base+offBlkSizeCount, 512)
	norm, err := send(c, 17, 0x3a, modeRead, 3)
	if err != 0 || norm&intBufReadRdy == 0 {
		t.Fatalf("unexpected status %#x %#x", norm, err)
	}
	if c.Load32(base+offPresentState)&presentInhibitDat == 0 {
		t.Error("expected data inhibit during transfer")
	}

	got := make([]uint32, 128)
	c.StreamIn32(base+offBufData, got)
	for i, v := range got {
		if want := binary.LittleEndian.Uint32(img[3*512+4*i:]); v != want {
			t.Fatalf("word %d: expected %#x, got %#x", i, want, v)
		}
	}
	if c.Load32(base+offIntStatus)&intXferComplete == 0 {
		t.Error("expected transfer complete")
	}
	if !card.Selected() || card.state != stateTran {
		t.Errorf("expected card back in transfer state, got %d", card.state)
	}
}

func TestWriteMultiple(t *testing.T) {
	img := NewImage(2048)
	c := New(chip.FT900)
	card := NewCard(SDHC, img, 2048)
	card.state = stateTran
	c.Insert(card)
	powerUp(c)

	c.Store32(base+offBlkSizeCount, 2<<16|512)
	mode := modeMultiBlock | modeBlkCountEnable | modeAutoCmd12
	if _, err := send(c, 25, 0x3a, mode, 10); err != 0 {
		t.Fatalf("unexpected error status %#x", err)
	}
	src := make([]uint32, 256)
	for i := range src {
		src[i] = 0x01010101
	}
	c.StreamOut32(base+offBufData, src)

	if !bytes.Equal(img[10*512:12*512], bytes.Repeat([]byte{1}, 1024)) {
		t.Error("blocks not written")
	}
	log := c.Log()
	if last := log[len(log)-1]; !last.Auto || last.Index != 12 {
		t.Errorf("expected auto CMD12, got %v", last)
	}
}

func TestInjectFault(t *testing.T) {
	c := New(chip.FT900)
	card := NewCard(SDHC, NewImage(2048), 2048)
	c.Insert(card)
	powerUp(c)

	c.Inject(55, false, FaultTimeout, 1)
	if _, err := send(c, 55, 0x1a, 0, 0); err&errCmdTimeout == 0 {
		t.Errorf("expected injected timeout, got %#x", err)
	}
	if _, err := send(c, 55, 0x1a, 0, 0); err != 0 {
		t.Errorf("expected fault to expire, got %#x", err)
	}

	c.Inject(13, false, FaultCRC, 0)
	for range 3 {
		if _, err := send(c, 13, 0x1a, 0, 0); err&errCmdCRC == 0 {
			t.Errorf("expected CRC error, got %#x", err)
		}
	}
	c.Inject(13, false, FaultNone, 0)
	if _, err := send(c, 13, 0x1a, 0, 0); err != 0 {
		t.Errorf("expected fault removed, got %#x", err)
	}
}

func TestInterrupt(t *testing.T) {
	c := New(chip.FT900)
	c.Insert(NewCard(SDHC, NewImage(2048), 2048))
	powerUp(c)

	var calls int
	c.OnInterrupt(func() {
		calls++
		// acknowledge from within the handler
		st := c.Load32(base + offIntStatus)
		c.Store32(base+offIntStatus, st&0xffff)
	})
	c.Store32(base+offIntSignalEn, intCmdComplete)
	c.Store32(base+offArg1, 0)
	c.Store32(base+offTransferCmd, 0)
	if calls != 1 {
		t.Errorf("expected 1 interrupt, got %d", calls)
	}
	if got := c.Load32(base + offIntStatus); got != 0 {
		t.Errorf("expected handler to clear status, got %#x", got)
	}
}
