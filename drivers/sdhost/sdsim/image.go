package sdsim

import "io"

// Image is card storage held in memory.
type Image []byte

// NewImage returns zeroed storage for blocks 512-byte blocks.
func NewImage(blocks uint32) Image {
	return make(Image, int64(blocks)*512)
}

func (m Image) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m)) {
		return 0, io.EOF
	}
	n := copy(p, m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m Image) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(m)) {
		return 0, io.ErrShortWrite
	}
	n := copy(m[off:], p)
	if n < len(p) {
		return n, io.ErrShortWrite
	}
	return n, nil
}
