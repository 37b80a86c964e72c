package sdhost

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/transform"
)

// CIDText is the character set of the OEM and product name fields of a CID.
// Cards store printable ASCII, some pad names with NUL or spaces. Decoding
// drops trailing padding and replaces other bytes, including NULs inside the
// name, with '?'. Encoding replaces runes outside printable ASCII with '?'.
var CIDText encoding.Encoding = cidText{}

const cidReplacement = '?'

type cidText struct{}

func (cidText) NewDecoder() *encoding.Decoder {
	return &encoding.Decoder{Transformer: &cidDecoder{}}
}

func (cidText) NewEncoder() *encoding.Encoder {
	return &encoding.Encoder{Transformer: &cidEncoder{}}
}

func printable(c byte) bool { return c >= 0x20 && c < 0x7f }

// cidDecoder holds back pad bytes until it knows whether more of the name
// follows them.
type cidDecoder struct{ pad []byte }

func (d *cidDecoder) Reset() { d.pad = d.pad[:0] }

func (d *cidDecoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for ; nSrc < len(src); nSrc++ {
		c := src[nSrc]
		if c == 0 || c == ' ' {
			d.pad = append(d.pad, c)
			continue
		}
		if nDst+len(d.pad) >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		for _, p := range d.pad {
			dst[nDst] = decodeByte(p)
			nDst++
		}
		d.pad = d.pad[:0]
		dst[nDst] = decodeByte(c)
		nDst++
	}
	if atEOF {
		d.pad = d.pad[:0]
	}
	return
}

func decodeByte(c byte) byte {
	if printable(c) {
		return c
	}
	return cidReplacement
}

type cidEncoder struct{ transform.NopResetter }

func (e *cidEncoder) Transform(dst, src []byte, atEOF bool) (nDst, nSrc int, err error) {
	for nSrc < len(src) {
		r, size := utf8.DecodeRune(src[nSrc:])
		if r == utf8.RuneError && !atEOF && !utf8.FullRune(src[nSrc:]) {
			return nDst, nSrc, transform.ErrShortSrc
		}
		if nDst >= len(dst) {
			return nDst, nSrc, transform.ErrShortDst
		}
		dst[nDst] = cidReplacement
		if r < utf8.RuneSelf {
			dst[nDst] = decodeByte(byte(r))
		}
		nDst++
		nSrc += size
	}
	return
}
