package sdhost

import (
	"fmt"
	"time"
)

// bits extracts size bits starting at bit start from a 128-bit card register
// stored as four words, least significant word first. Fields may straddle a
// word boundary.
func bits(r *[4]uint32, start, size uint) uint32 {
	mask := uint32(1)<<size - 1
	off := start / 32
	shift := start % 32
	v := r[off] >> shift
	if size+shift > 32 {
		v |= r[off+1] << (32 - shift)
	}
	return v & mask
}

// CSD is the card specific data register as returned by CMD9.
type CSD [4]uint32

// Field returns size bits of the register starting at bit start.
func (c *CSD) Field(start, size uint) uint32 { return bits((*[4]uint32)(c), start, size) }

func (c *CSD) Structure() uint32   { return c.Field(126, 2) }
func (c *CSD) SpecVersion() uint32 { return c.Field(122, 4) } // MMC only
func (c *CSD) CCC() uint32         { return c.Field(84, 12) }
func (c *CSD) ReadBlLen() uint32   { return c.Field(80, 4) }
func (c *CSD) CSize() uint32       { return c.Field(62, 12) }
func (c *CSD) CSizeMult() uint32   { return c.Field(47, 3) }
func (c *CSD) CSizeV2() uint32     { return c.Field(48, 22) }
func (c *CSD) SectorSize() uint32  { return c.Field(39, 7) }

// Erase group of MMCs before 4.0.
func (c *CSD) EraseGrpSize() uint32 { return c.Field(42, 5) }
func (c *CSD) EraseGrpMult() uint32 { return c.Field(37, 5) }

// cccSwitch is the command class of CMD6.
const cccSwitch = 1 << 10

// capacityV1 computes the number of 512-byte blocks from a version 1.0 CSD:
// (C_SIZE+1) * 2^(C_SIZE_MULT+2) * 2^READ_BL_LEN / 512.
func capacityV1(c *CSD) uint32 {
	n := uint64(c.CSize()+1) << (c.CSizeMult() + 2) << c.ReadBlLen()
	return uint32(n >> blockShift)
}

// capacityV2 computes the number of 512-byte blocks from a version 2.0 CSD,
// which counts in units of 512 KiB.
func capacityV2(c *CSD) uint32 {
	return (c.CSizeV2() + 1) * (512 * 1024 / BlockSize)
}

// sdCapacity selects the formula by CSD structure version.
func sdCapacity(c *CSD) uint32 {
	if c.Structure() == 0 {
		return capacityV1(c)
	}
	return capacityV2(c)
}

// mmcCapacity derives the size of an MMC. Devices larger than 2 GB report
// C_SIZE 0xfff and publish the sector count in EXT_CSD instead.
func mmcCapacity(c *CSD, secCount uint32) uint32 {
	if c.Structure() >= 2 && c.SpecVersion() >= 4 && c.CSize() == 0xfff {
		return secCount
	}
	return capacityV1(c)
}

// CID is the card identification register as returned by CMD2.
type CID [4]uint32

func (c *CID) Field(start, size uint) uint32 { return bits((*[4]uint32)(c), start, size) }

// CIDInfo is the decoded card identification.
type CIDInfo struct {
	Manufacturer uint8
	OEM          string
	Product      string
	Revision     uint8 // BCD, major in the upper nibble
	Serial       uint32
	Date         time.Time // month of manufacture
}

func (i CIDInfo) String() string {
	return fmt.Sprintf("%02x %s %s rev %d.%d sn %08x %s", i.Manufacturer, i.OEM,
		i.Product, i.Revision>>4, i.Revision&0xf, i.Serial, i.Date.Format("2006-01"))
}

// text decodes n bytes of a CID starting at bit start, most significant
// byte first.
func (c *CID) text(start uint, n int) string {
	b := make([]byte, n)
	for i := range n {
		b[i] = byte(c.Field(start+uint(8*(n-1-i)), 8))
	}
	s, err := CIDText.NewDecoder().Bytes(b)
	if err != nil {
		return ""
	}
	return string(s)
}

// Decode interprets the register according to the layout of card type t.
func (c *CID) Decode(t CardType) CIDInfo {
	if t.IsMMC() {
		year := 1997 + int(c.Field(8, 4))
		return CIDInfo{
			Manufacturer: uint8(c.Field(120, 8)),
			OEM:          c.text(104, 1),
			Product:      c.text(56, 6),
			Revision:     uint8(c.Field(48, 8)),
			Serial:       c.Field(16, 32),
			Date:         time.Date(year, time.Month(c.Field(12, 4)), 1, 0, 0, 0, 0, time.UTC),
		}
	}
	return CIDInfo{
		Manufacturer: uint8(c.Field(120, 8)),
		OEM:          c.text(104, 2),
		Product:      c.text(64, 5),
		Revision:     uint8(c.Field(56, 8)),
		Serial:       c.Field(24, 32),
		Date: time.Date(2000+int(c.Field(12, 8)), time.Month(c.Field(8, 4)), 1,
			0, 0, 0, 0, time.UTC),
	}
}
