package sdhost

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/clktmr/ft9xx/drivers/sdhost/sdsim"
)

func TestDeviceReadWriteAt(t *testing.T) {
	tests := map[string]struct {
		off  int64
		size int
	}{
		"aligned":      {1024, 1024},
		"inside block": {1000, 5},
		"straddle":     {510, 4},
		"head and body": {
			300, 2 * BlockSize,
		},
		"many": {3*BlockSize + 17, 7*BlockSize + 100},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := ready(t, sdsim.SDHC)
			for i := range r.img[:32*BlockSize] {
				r.img[i] = 0xaa
			}
			dev := NewDevice(r.h)

			src := pattern(tc.size, 11)
			n, err := dev.WriteAt(src, tc.off)
			if err != nil || n != tc.size {
				t.Fatalf("write: %d, %v", n, err)
			}
			if !bytes.Equal(r.img[tc.off:tc.off+int64(tc.size)], src) {
				t.Error("card content differs")
			}
			if r.img[tc.off-1] != 0xaa || r.img[tc.off+int64(tc.size)] != 0xaa {
				t.Error("write modified neighbouring bytes")
			}

			dst := make([]byte, tc.size)
			n, err = dev.ReadAt(dst, tc.off)
			if err != nil || n != tc.size {
				t.Fatalf("read: %d, %v", n, err)
			}
			if !bytes.Equal(dst, src) {
				t.Error("read back differs")
			}
		})
	}
}

func TestDeviceEnd(t *testing.T) {
	r := ready(t, sdsim.SDHC)
	dev := NewDevice(r.h)
	size := int64(testBlocks * BlockSize)
	if dev.Size() != size {
		t.Fatalf("expected size %d, got %d", size, dev.Size())
	}

	buf := make([]byte, 100)
	if n, err := dev.ReadAt(buf, size-10); n != 10 || err != io.EOF {
		t.Errorf("expected 10, EOF, got %d, %v", n, err)
	}
	if n, err := dev.ReadAt(buf, size); n != 0 || err != io.EOF {
		t.Errorf("expected 0, EOF, got %d, %v", n, err)
	}
	if n, err := dev.WriteAt(buf, size-10); n != 10 || err != io.ErrShortWrite {
		t.Errorf("expected 10, short write, got %d, %v", n, err)
	}
	if _, err := dev.ReadAt(buf, -1); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("expected out of range, got %v", err)
	}
}

func TestDeviceSeek(t *testing.T) {
	r := ready(t, sdsim.SDSC)
	dev := NewDevice(r.h)

	if _, err := dev.Seek(700, io.SeekStart); err != nil {
		t.Fatal(err)
	}
	if _, err := dev.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if pos, _ := dev.Seek(0, io.SeekCurrent); pos != 705 {
		t.Errorf("expected position 705, got %d", pos)
	}
	if pos, _ := dev.Seek(-5, io.SeekCurrent); pos != 700 {
		t.Errorf("expected position 700, got %d", pos)
	}
	got := make([]byte, 5)
	if _, err := io.ReadFull(dev, got); err != nil || string(got) != "hello" {
		t.Errorf("expected hello, got %q, %v", got, err)
	}
	if _, err := dev.Seek(1, io.SeekEnd); !errors.Is(err, ErrSeekOutOfRange) {
		t.Errorf("expected seek out of range, got %v", err)
	}
	if pos, _ := dev.Seek(0, io.SeekEnd); pos != dev.Size() {
		t.Errorf("expected position %d, got %d", dev.Size(), pos)
	}
	if dev.EraseBlockSize() != 128*BlockSize {
		t.Errorf("expected erase block size %d, got %d", 128*BlockSize, dev.EraseBlockSize())
	}
}

func TestDeviceEraseBlockSizeExclusive(t *testing.T) {
	r := ready(t, sdsim.SDHC)
	dev := NewDevice(r.h)

	dev.mtx.Lock()
	done := make(chan int64)
	go func() { done <- dev.EraseBlockSize() }()

	select {
	case <-done:
		t.Fatal("erase block size read while device busy")
	case <-time.After(20 * time.Millisecond):
	}
	if sent := r.sent(); len(sent) != 0 {
		t.Errorf("expected no commands while device busy, got %v", sent)
	}
	dev.mtx.Unlock()

	if got := <-done; got != 8192*BlockSize {
		t.Errorf("expected erase block size %d, got %d", 8192*BlockSize, got)
	}
	if !r.sentIndex(cmdSetBlockLen) {
		t.Error("expected SD status to be read")
	}
}
