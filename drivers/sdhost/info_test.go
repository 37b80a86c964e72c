package sdhost

import (
	"testing"

	"github.com/clktmr/ft9xx/drivers/sdhost/sdsim"
)

func TestEraseBlockCount(t *testing.T) {
	tests := map[string]struct {
		kind  sdsim.Kind
		setup func(*sdsim.Card)
		want  uint32
	}{
		"SDSC":  {sdsim.SDSC, nil, 128},
		"SDv1":  {sdsim.SDv1, nil, 128},
		"SDHC":  {sdsim.SDHC, nil, 16 << 9},
		"AU 4M": {sdsim.SDHC, func(c *sdsim.Card) { c.AUSize = 7 }, 8192 / 4},
		"MMC":   {sdsim.MMC, nil, 1024},
		"MMCv3": {sdsim.MMCv3, nil, 32},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := newRig(t, tc.kind, Polling, tc.setup)
			if got := r.h.EraseBlockCount(); got != 0 {
				t.Errorf("expected 0 before card init, got %d", got)
			}
			if err := r.h.CardInit(); err != nil {
				t.Fatalf("card init: %v", err)
			}
			if got := r.h.EraseBlockCount(); got != tc.want {
				t.Errorf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestCardStatus(t *testing.T) {
	r := ready(t, sdsim.SDHC)
	var st [64]byte
	if err := r.h.CardStatus(&st); err != nil {
		t.Fatalf("card status: %v", err)
	}
	if st[0]&0xc0 != 0x80 {
		t.Errorf("expected 4-bit bus width in status, got %#x", st[0])
	}
	if got := st[10] >> 4; got != 9 {
		t.Errorf("expected AU_SIZE 9, got %d", got)
	}

	sent := r.sent()
	if len(sent) != 3 || sent[0].Index != cmdSetBlockLen || sent[0].Arg != 64 ||
		sent[2].Index != acmdSDStatus || !sent[2].App {
		t.Errorf("unexpected command sequence %v", sent)
	}

	// transfers still use 512-byte blocks afterwards
	if err := r.h.Transfer(Read, make([]byte, BlockSize), 0); err != nil {
		t.Errorf("read after card status: %v", err)
	}
}

func TestInfoNotReady(t *testing.T) {
	r := newRig(t, sdsim.SDHC, Polling, nil)
	if got := r.h.Capacity(); got != 0 {
		t.Errorf("expected capacity 0, got %d", got)
	}
	if got := r.h.BlockSize(); got != 0 {
		t.Errorf("expected block size 0, got %d", got)
	}
	var st [64]byte
	if err := r.h.CardStatus(&st); err != StatusCardNotInitialised {
		t.Errorf("expected %v, got %v", StatusCardNotInitialised, err)
	}

	if err := r.h.CardInit(); err != nil {
		t.Fatalf("card init: %v", err)
	}
	if got := r.h.Capacity(); got != testBlocks {
		t.Errorf("expected capacity %d, got %d", testBlocks, got)
	}
	if got := r.h.BlockSize(); got != BlockSize {
		t.Errorf("expected block size %d, got %d", BlockSize, got)
	}
}
