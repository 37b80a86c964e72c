package sdhost

import (
	"fmt"
	"io"
	"sync"
)

const blockMask = BlockSize - 1

// Device implements io.ReaderAt, io.WriterAt and io.ReadWriteSeeker on top of
// the block interface of a Host. Accesses which don't cover whole blocks are
// completed by reading the affected blocks first.
//
// Device is safe for concurrent use as long as the Host is not used directly
// at the same time.
type Device struct {
	h      *Host
	offset int64

	mtx sync.Mutex
	tmp [BlockSize]byte
}

// NewDevice returns a Device for the card attached to h. The card must have
// been initialised with CardInit.
func NewDevice(h *Host) *Device {
	return &Device{h: h}
}

// Size returns the card size in bytes.
func (v *Device) Size() int64 {
	return int64(v.h.Capacity()) * BlockSize
}

// EraseBlockSize returns the size of the card's erase unit in bytes.
func (v *Device) EraseBlockSize() int64 {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return int64(v.h.EraseBlockCount()) * BlockSize
}

func (v *Device) ReadAt(p []byte, off int64) (n int, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return v.readAt(p, off)
}

func (v *Device) readAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, off)
	}
	size := v.Size()
	if off >= size {
		return 0, io.EOF
	}
	if left := size - off; int64(len(p)) > left {
		p = p[:left]
		err = io.EOF
	}

	for n < len(p) {
		pos := off + int64(n)
		blk := uint32(pos >> blockShift)
		start := int(pos & blockMask)

		if whole := (len(p) - n) &^ blockMask; start == 0 && whole > 0 {
			if terr := v.h.Transfer(Read, p[n:n+whole], blk); terr != nil {
				return n, terr
			}
			n += whole
			continue
		}

		if terr := v.h.Transfer(Read, v.tmp[:], blk); terr != nil {
			return n, terr
		}
		n += copy(p[n:], v.tmp[start:])
	}
	return
}

func (v *Device) WriteAt(p []byte, off int64) (n int, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	return v.writeAt(p, off)
}

func (v *Device) writeAt(p []byte, off int64) (n int, err error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: %d", ErrOutOfRange, off)
	}
	size := v.Size()
	if left := size - off; int64(len(p)) > left {
		if left < 0 {
			left = 0
		}
		p = p[:left]
		err = io.ErrShortWrite
	}

	for n < len(p) {
		pos := off + int64(n)
		blk := uint32(pos >> blockShift)
		start := int(pos & blockMask)

		if whole := (len(p) - n) &^ blockMask; start == 0 && whole > 0 {
			if terr := v.h.Transfer(Write, p[n:n+whole], blk); terr != nil {
				return n, terr
			}
			n += whole
			continue
		}

		// read first and last blocks if only partly written
		if terr := v.h.Transfer(Read, v.tmp[:], blk); terr != nil {
			return n, terr
		}
		copied := copy(v.tmp[start:], p[n:])
		if terr := v.h.Transfer(Write, v.tmp[:], blk); terr != nil {
			return n, terr
		}
		n += copied
	}
	return
}

func (v *Device) Read(p []byte) (n int, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	n, err = v.readAt(p, v.offset)
	v.offset += int64(n)
	return
}

func (v *Device) Write(p []byte) (n int, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()
	n, err = v.writeAt(p, v.offset)
	v.offset += int64(n)
	return
}

func (v *Device) Seek(offset int64, whence int) (newoffset int64, err error) {
	v.mtx.Lock()
	defer v.mtx.Unlock()

	switch whence {
	case io.SeekStart:
		// newoffset = 0
	case io.SeekCurrent:
		newoffset = v.offset
	case io.SeekEnd:
		newoffset = v.Size()
	}
	newoffset += offset
	if newoffset < 0 || newoffset > v.Size() {
		return v.offset, fmt.Errorf("%w: %d", ErrSeekOutOfRange, newoffset)
	}
	v.offset = newoffset
	return
}

// Close does nothing. Every write reaches the card before WriteAt returns.
func (v *Device) Close() error { return nil }
