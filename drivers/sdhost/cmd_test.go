package sdhost

import "testing"

func TestCommandTable(t *testing.T) {
	tests := map[string]struct {
		idx   uint8
		class Class
		typ   CardType
		cmd   uint16
		kind  respKind
	}{
		"CMD0":        {0, BusCmd, CardUnknown, 0x0000, rspNone},
		"CMD1":        {1, BusCmd, MMC, 0x0102, rspR3},
		"CMD2":        {2, BusCmd, SDv2, 0x0209, rspR2},
		"CMD3 SD":     {3, BusCmd, SDv2, 0x031a, rspR6},
		"CMD3 MMC":    {3, BusCmd, MMC, 0x031a, rspR1},
		"CMD5":        {5, BusCmd, SDv2, 0x0502, rspR4},
		"CMD6 SD":     {6, BusCmd, SDv2, 0x063a, rspR1},
		"CMD6 MMC":    {6, BusCmd, MMC, 0x061b, rspR1b},
		"CMD7":        {7, BusCmd, SDv1, 0x071b, rspR1b},
		"CMD8 SD":     {8, BusCmd, CardUnknown, 0x081a, rspR7},
		"CMD8 MMC":    {8, BusCmd, MMC, 0x083a, rspR1},
		"CMD9":        {9, BusCmd, SDv2, 0x0909, rspR2},
		"CMD12":       {12, BusCmd, SDv2, 0x0cdb, rspR1b},
		"CMD13":       {13, BusCmd, SDv2, 0x0d1a, rspR1},
		"CMD16":       {16, BusCmd, SDv2, 0x101a, rspR1},
		"CMD17":       {17, BusCmd, SDv2, 0x113a, rspR1},
		"CMD18":       {18, BusCmd, SDv2, 0x123a, rspR1},
		"CMD24":       {24, BusCmd, MMC, 0x183a, rspR1},
		"CMD25":       {25, BusCmd, MMC, 0x193a, rspR1},
		"CMD55":       {55, BusCmd, SDv1, 0x371a, rspR1},
		"ACMD6":       {6, AppCmd, SDv2, 0x061a, rspR1},
		"ACMD13":      {13, AppCmd, SDv2, 0x0d3a, rspR1},
		"ACMD41":      {41, AppCmd, SDv2, 0x2902, rspR3},
		"ACMD unused": {51, AppCmd, SDv2, 0x331a, rspR1},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cmd, kind := command(tc.idx, tc.class, tc.typ)
			if cmd != tc.cmd {
				t.Errorf("expected command %#04x, got %#04x", tc.cmd, cmd)
			}
			if kind != tc.kind {
				t.Errorf("expected %v, got %v", tc.kind, kind)
			}
		})
	}
}
