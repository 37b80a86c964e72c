package sdhost

import (
	"bytes"
	"io"
	"testing"
	"testing/iotest"
	"time"

	"golang.org/x/text/transform"

	"github.com/clktmr/ft9xx/drivers/sdhost/sdsim"
)

func setField(r *[4]uint32, start, size uint, v uint32) {
	for i := range size {
		bit := start + i
		if v>>i&1 != 0 {
			r[bit/32] |= 1 << (bit % 32)
		}
	}
}

func TestBits(t *testing.T) {
	r := [4]uint32{0x8765_4321, 0xfedc_ba98, 0x0f0f_0f0f, 0xc000_0001}
	tests := map[string]struct {
		start, size uint
		want        uint32
	}{
		"low nibble":   {0, 4, 0x1},
		"first word":   {0, 32, 0x8765_4321},
		"across words": {28, 8, 0x88},
		"top bits":     {126, 2, 0x3},
		"word 3 bit 0": {96, 1, 1},
		"wide":         {48, 22, 0x0f_fedc},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := bits(&r, tc.start, tc.size); got != tc.want {
				t.Errorf("expected %#x, got %#x", tc.want, got)
			}
		})
	}
}

func TestCapacity(t *testing.T) {
	tests := map[string]struct {
		fields   map[[2]uint]uint32 // {start, size}: value
		mmc      bool
		secCount uint32
		want     uint32
	}{
		"v1": {
			fields: map[[2]uint]uint32{{62, 12}: 0xf24, {47, 3}: 7, {80, 4}: 0xa},
			want:   3_970_048,
		},
		"v1 512": {
			fields: map[[2]uint]uint32{{62, 12}: 0, {47, 3}: 0, {80, 4}: 9},
			want:   4,
		},
		"v2": {
			fields: map[[2]uint]uint32{{126, 2}: 1, {48, 22}: 0x1d17},
			want:   7_626_752,
		},
		"mmc small": {
			fields: map[[2]uint]uint32{{126, 2}: 3, {122, 4}: 4, {62, 12}: 0x7ff, {47, 3}: 7, {80, 4}: 9},
			mmc:    true, secCount: 123,
			want: 1_048_576,
		},
		"mmc sector count": {
			fields: map[[2]uint]uint32{{126, 2}: 3, {122, 4}: 4, {62, 12}: 0xfff, {47, 3}: 7, {80, 4}: 9},
			mmc:    true, secCount: 15_269_888,
			want: 15_269_888,
		},
		"mmc v3 ignores sector count": {
			fields: map[[2]uint]uint32{{126, 2}: 2, {122, 4}: 3, {62, 12}: 0xfff, {47, 3}: 7, {80, 4}: 9},
			mmc:    true, secCount: 1,
			want: 2_097_152,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var r [4]uint32
			for f, v := range tc.fields {
				setField(&r, f[0], f[1], v)
			}
			csd := CSD(r)
			var got uint32
			if tc.mmc {
				got = mmcCapacity(&csd, tc.secCount)
			} else {
				got = sdCapacity(&csd)
			}
			if got != tc.want {
				t.Errorf("expected %d blocks, got %d", tc.want, got)
			}
		})
	}
}

func TestCIDDecode(t *testing.T) {
	tests := map[string]struct {
		kind sdsim.Kind
		typ  CardType
		want CIDInfo
	}{
		"SD": {sdsim.SDHC, SDv2, CIDInfo{
			Manufacturer: 0x03, OEM: "SM", Product: "SIM01", Revision: 0x10,
			Serial: 0x0bad_cafe, Date: time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC),
		}},
		"MMC": {sdsim.MMC, MMC, CIDInfo{
			Manufacturer: 0x15, OEM: "S", Product: "SIMMC", Revision: 0x21,
			Serial: 0x0123_4567, Date: time.Date(2009, time.June, 1, 0, 0, 0, 0, time.UTC),
		}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			r := ready(t, tc.kind)
			c := r.h.Card()
			want := r.card.CID()
			if c.CID != CID(want) {
				t.Errorf("expected CID %08x, got %08x", want, c.CID)
			}
			got := c.CID.Decode(tc.typ)
			if got != tc.want {
				t.Errorf("expected %+v, got %+v", tc.want, got)
			}
		})
	}
}

func TestCIDText(t *testing.T) {
	tests := map[string]struct {
		in   []byte
		want string
	}{
		"plain":     {[]byte("SD16G"), "SD16G"},
		"nul pad":   {[]byte("AB\x00\x00\x00"), "AB"},
		"space pad": {[]byte("MMC  "), "MMC"},
		"inner":     {[]byte("A B\x01C"), "A B?C"},
		"high":      {[]byte{'X', 0xe9}, "X?"},
		"inner nul": {[]byte("A\x00B\x00"), "A?B"},
		"inner pad": {[]byte("A  B  "), "A  B"},
		"all pad":   {[]byte("\x00 \x00"), ""},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := CIDText.NewDecoder().String(string(tc.in))
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}

	// a name split across reads keeps its inner spaces
	for name, tc := range tests {
		r := transform.NewReader(iotest.OneByteReader(bytes.NewReader(tc.in)), CIDText.NewDecoder())
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != tc.want {
			t.Errorf("%s: expected %q byte by byte, got %q", name, tc.want, got)
		}
	}

	enc, err := CIDText.NewEncoder().String("Käse")
	if err != nil {
		t.Fatal(err)
	}
	if enc != "K?se" {
		t.Errorf("expected %q, got %q", "K?se", enc)
	}
}
