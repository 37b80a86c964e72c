package sdimg

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/clktmr/ft9xx/chip"
	"github.com/clktmr/ft9xx/debug"
	"github.com/clktmr/ft9xx/drivers/sdhost"
	"github.com/clktmr/ft9xx/drivers/sdhost/sdsim"
)

var kinds = map[string]sdsim.Kind{
	"sdv1":  sdsim.SDv1,
	"sdsc":  sdsim.SDSC,
	"sdhc":  sdsim.SDHC,
	"mmcv3": sdsim.MMCv3,
	"mmc":   sdsim.MMC,
	"mmchc": sdsim.MMCHC,
}

func parseKind(s string) (sdsim.Kind, error) {
	k, ok := kinds[strings.ToLower(s)]
	if !ok {
		return 0, fmt.Errorf("unknown card kind: %s", s)
	}
	return k, nil
}

func parseVariant(s string) (chip.Variant, error) {
	switch strings.ToLower(s) {
	case "ft900":
		return chip.FT900, nil
	case "ft930":
		return chip.FT930, nil
	}
	return 0, fmt.Errorf("unknown variant: %s", s)
}

// slot is an image file inserted as card into a simulated SD host
// controller, driven by the sdhost driver.
type slot struct {
	path    string
	kind    sdsim.Kind
	variant chip.Variant

	file *os.File
	ctrl *sdsim.Controller
	host *sdhost.Host
	dev  *sdhost.Device
}

// openSlot inserts the image at path as a card of kind k and initialises it.
func openSlot(path string, k sdsim.Kind, v chip.Variant, writable bool) (*slot, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	s := &slot{path: path, kind: k, variant: v, file: f, ctrl: sdsim.New(v)}
	s.ctrl.Insert(sdsim.NewCard(k, f, uint32(stat.Size()/sdhost.BlockSize)))

	sdhost.SysInit(s.ctrl, v)
	s.host = sdhost.New(s.ctrl, v, &sdhost.Config{
		Clock: sdsim.NewClock(time.Microsecond),
	})
	if err := s.host.Init(); err != nil {
		f.Close()
		return nil, err
	}
	if err := s.host.CardInit(); err != nil {
		f.Close()
		return nil, err
	}
	s.dev = sdhost.NewDevice(s.host)
	debug.LogInfo(debug.ComponentSDImg, "image attached", "path", path,
		"kind", k, "bytes", s.dev.Size())
	return s, nil
}

// commandLine returns the sdimg invocation running cmd on this slot's image.
func (s *slot) commandLine(cmd string, args ...string) string {
	words := []string{"sdimg",
		"-kind", strings.ToLower(s.kind.String()),
		"-variant", strings.ToLower(s.variant.String()),
		cmd, s.path}
	return shellquote.Join(append(words, args...)...)
}

func (s *slot) Close() error {
	return s.file.Close()
}
