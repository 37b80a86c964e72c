package sdhost

import (
	"bytes"
	"errors"
	"testing"

	"github.com/clktmr/ft9xx/drivers/sdhost/sdsim"
)

func pattern(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7) + seed
	}
	return b
}

func TestTransferAddressing(t *testing.T) {
	tests := map[string]struct {
		kind sdsim.Kind
		arg  uint32
	}{
		"SDv1":  {sdsim.SDv1, 5 * BlockSize},
		"SDSC":  {sdsim.SDSC, 5 * BlockSize},
		"SDHC":  {sdsim.SDHC, 5},
		"MMC":   {sdsim.MMC, 5 * BlockSize},
		"MMCHC": {sdsim.MMCHC, 5},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := ready(t, tc.kind)
			copy(r.img[5*BlockSize:], pattern(BlockSize, 1))

			buf := make([]byte, BlockSize)
			if err := r.h.Transfer(Read, buf, 5); err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(buf, pattern(BlockSize, 1)) {
				t.Error("read returned wrong data")
			}

			sent := r.sent()
			if len(sent) != 2 || sent[0].Index != cmdSetBlockLen || sent[1].Index != cmdReadSingle {
				t.Fatalf("expected CMD16 and CMD17, got %v", sent)
			}
			if sent[1].Arg != tc.arg {
				t.Errorf("expected argument %d, got %d", tc.arg, sent[1].Arg)
			}
		})
	}
}

func TestTransferSizes(t *testing.T) {
	tests := map[string]struct {
		size int
		cmds []uint8 // data commands in order
		auto int     // controller issued CMD12
	}{
		"empty":     {0, nil, 0},
		"one block": {512, []uint8{17}, 0},
		"partial":   {100, []uint8{17}, 0},
		"513":       {513, []uint8{17, 17}, 0},
		"two":       {1024, []uint8{18}, 1},
		"1025":      {1025, []uint8{18, 17}, 1},
		"eight":     {8 * 512, []uint8{18}, 1},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := ready(t, sdsim.SDHC)
			copy(r.img[10*BlockSize:], pattern(16*BlockSize, 3))

			buf := make([]byte, tc.size)
			if err := r.h.Transfer(Read, buf, 10); err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(buf, pattern(16*BlockSize, 3)[:tc.size]) {
				t.Error("read returned wrong data")
			}

			var cmds []uint8
			for _, f := range r.sent() {
				if f.Index != cmdSetBlockLen {
					cmds = append(cmds, f.Index)
				}
			}
			if !bytes.Equal(cmds, tc.cmds) {
				t.Errorf("expected commands %v, got %v", tc.cmds, cmds)
			}
			var auto int
			for _, f := range r.ctrl.Log() {
				if f.Auto {
					auto++
				}
			}
			if auto != tc.auto {
				t.Errorf("expected %d auto CMD12, got %d", tc.auto, auto)
			}
		})
	}
}

func TestTransferWrite(t *testing.T) {
	tests := map[string]struct {
		size int
		addr uint32
	}{
		"single":   {512, 7},
		"multiple": {3 * 512, 7},
		"partial":  {513, 7},
		"short":    {4, 0},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := ready(t, sdsim.SDSC)
			for i := range r.img[:32*BlockSize] {
				r.img[i] = 0xff
			}

			src := pattern(tc.size, 9)
			if err := r.h.Transfer(Write, src, tc.addr); err != nil {
				t.Fatalf("write: %v", err)
			}
			off := int(tc.addr) * BlockSize
			if !bytes.Equal(r.img[off:off+tc.size], src) {
				t.Error("card content differs")
			}
			// the rest of a partial block is written as zeros
			end := (off + tc.size + BlockSize - 1) &^ (BlockSize - 1)
			if rest := r.img[off+tc.size : end]; !bytes.Equal(rest, make([]byte, len(rest))) {
				t.Error("partial block not zero padded")
			}
			if r.img[end] != 0xff {
				t.Error("write past the last block")
			}
			if !r.card.Selected() {
				t.Error("card left transfer state")
			}
		})
	}
}

func TestTransferInterrupts(t *testing.T) {
	r := newRig(t, sdsim.SDHC, Interrupts, nil)
	if err := r.h.CardInit(); err != nil {
		t.Fatalf("card init: %v", err)
	}
	src := pattern(4*BlockSize, 5)
	if err := r.h.Transfer(Write, src, 100); err != nil {
		t.Fatalf("write: %v", err)
	}
	dst := make([]byte, len(src))
	if err := r.h.Transfer(Read, dst, 100); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(dst, src) {
		t.Error("read back differs")
	}
}

func TestTransferErrors(t *testing.T) {
	tests := map[string]struct {
		dir    Direction
		fault  sdsim.Fault
		idx    uint8
		size   int
		expect Status
	}{
		"read crc":   {Read, sdsim.FaultDataCRC, 17, 512, StatusReadError},
		"write crc":  {Write, sdsim.FaultDataCRC, 24, 512, StatusWriteError},
		"multi crc":  {Read, sdsim.FaultDataCRC, 18, 2048, StatusReadError},
		"no answer":  {Read, sdsim.FaultTimeout, 17, 512, StatusCmdTimeout},
		"block len":  {Write, sdsim.FaultResponse, 16, 512, StatusResponseError},
		"cmd crc":    {Write, sdsim.FaultCRC, 25, 1024, StatusError},
		"write busy": {Write, sdsim.FaultTimeout, 16, 512, StatusCmdTimeout},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := ready(t, sdsim.SDHC)
			r.ctrl.Inject(tc.idx, false, tc.fault, 1)

			buf := make([]byte, tc.size)
			if err := r.h.Transfer(tc.dir, buf, 0); err != tc.expect {
				t.Errorf("expected %v, got %v", tc.expect, err)
			}

			// the controller accepts commands again
			if err := r.h.Transfer(Read, buf, 0); err != nil {
				t.Errorf("expected recovery, got %v", err)
			}
		})
	}
}

func TestTransferBeyondCapacity(t *testing.T) {
	tests := map[string]struct {
		kind sdsim.Kind
		dir  Direction
		size int
		addr uint32
		err  bool
	}{
		"SDSC write last":     {sdsim.SDSC, Write, BlockSize, testBlocks - 1, false},
		"SDSC read last":      {sdsim.SDSC, Read, BlockSize, testBlocks - 1, false},
		"SDSC write past":     {sdsim.SDSC, Write, BlockSize, testBlocks, true},
		"SDSC read past":      {sdsim.SDSC, Read, BlockSize, testBlocks, true},
		"SDSC write wrapping": {sdsim.SDSC, Write, BlockSize, 1 << 23, true},
		"SDSC write straddle": {sdsim.SDSC, Write, 2 * BlockSize, testBlocks - 1, true},
		"SDSC partial past":   {sdsim.SDSC, Write, BlockSize + 1, testBlocks - 1, true},
		"SDHC read straddle":  {sdsim.SDHC, Read, 2 * BlockSize, testBlocks - 1, true},
		"SDHC read last":      {sdsim.SDHC, Read, BlockSize, testBlocks - 1, false},
		"SDHC write max addr": {sdsim.SDHC, Write, BlockSize, 0xffffffff, true},
		"MMC write past":      {sdsim.MMC, Write, BlockSize, testBlocks, true},
		"SDSC empty at end":   {sdsim.SDSC, Write, 0, testBlocks, false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := ready(t, tc.kind)
			first := bytes.Clone(r.img[:BlockSize])

			err := r.h.Transfer(tc.dir, pattern(tc.size, 0x5a), tc.addr)
			if !tc.err {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, ErrOutOfRange) || StatusOf(err) != StatusError {
				t.Fatalf("expected out of range error, got %v", err)
			}
			if sent := r.sent(); len(sent) != 0 {
				t.Errorf("expected no commands, got %v", sent)
			}
			if !bytes.Equal(r.img[:BlockSize], first) {
				t.Error("block 0 was modified")
			}
		})
	}
}

func TestAbort(t *testing.T) {
	r := ready(t, sdsim.SDHC)
	if err := r.h.Abort(); err != nil {
		t.Fatalf("abort: %v", err)
	}
	sent := r.sent()
	if len(sent) != 1 || sent[0].Index != cmdStopTransmission {
		t.Errorf("expected CMD12, got %v", sent)
	}
	if err := r.h.Transfer(Read, make([]byte, BlockSize), 0); err != nil {
		t.Errorf("expected transfer after abort, got %v", err)
	}
}
