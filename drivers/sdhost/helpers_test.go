package sdhost

import (
	"bytes"
	"log/slog"
	"testing"
	"time"

	"github.com/clktmr/ft9xx/chip"
	"github.com/clktmr/ft9xx/debug"
	"github.com/clktmr/ft9xx/drivers/sdhost/sdsim"
)

const testBlocks = 4096

type testRig struct {
	h    *Host
	ctrl *sdsim.Controller
	card *sdsim.Card
	img  sdsim.Image
}

// newRig returns an initialised host with a simulated card of kind k in its
// slot. setup may adjust the card before the host sees it.
func newRig(t *testing.T, k sdsim.Kind, wait WaitMode, setup func(*sdsim.Card)) *testRig {
	t.Helper()
	r := &testRig{
		ctrl: sdsim.New(chip.FT900),
		img:  sdsim.NewImage(testBlocks),
	}
	r.card = sdsim.NewCard(k, r.img, testBlocks)
	if setup != nil {
		setup(r.card)
	}
	r.ctrl.Insert(r.card)

	SysInit(r.ctrl, chip.FT900)
	r.h = New(r.ctrl, chip.FT900, &Config{
		Timeout:        time.Millisecond,
		PowerUpTimeout: 2 * time.Millisecond,
		Wait:           wait,
		Clock:          sdsim.NewClock(time.Microsecond),
	})
	if wait == Interrupts {
		r.ctrl.OnInterrupt(r.h.HandleInterrupt)
	}
	if err := r.h.Init(); err != nil {
		t.Fatalf("init: %v", err)
	}
	return r
}

// ready returns a rig with an initialised card.
func ready(t *testing.T, k sdsim.Kind) *testRig {
	t.Helper()
	r := newRig(t, k, Polling, nil)
	if err := r.h.CardInit(); err != nil {
		t.Fatalf("card init: %v", err)
	}
	r.ctrl.ResetLog()
	return r
}

// sent returns the frames logged since the last ResetLog without the
// controller generated ones.
func (r *testRig) sent() (frames []sdsim.Frame) {
	for _, f := range r.ctrl.Log() {
		if !f.Auto {
			frames = append(frames, f)
		}
	}
	return
}

func (r *testRig) sentIndex(idx uint8) bool {
	for _, f := range r.sent() {
		if f.Index == idx && !f.App {
			return true
		}
	}
	return false
}

// captureLog redirects the log output to the returned buffer at level l
// until the test ends.
func captureLog(t *testing.T, l slog.Level) *bytes.Buffer {
	t.Helper()
	prev, prevLevel := debug.Logger(), debug.Level()
	t.Cleanup(func() { debug.SetLogger(prev); debug.SetLevel(prevLevel) })

	var buf bytes.Buffer
	debug.SetLogger(debug.NewLogger(&buf))
	debug.SetLevel(l)
	return &buf
}
