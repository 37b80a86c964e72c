package sdhost

import (
	"sync/atomic"
	"time"
)

// waiter is the completion-wait strategy of a Host. The command and transfer
// engines are written against it and do not care whether events are polled
// or delivered by the interrupt handler.
type waiter interface {
	// wait blocks until any of the normal interrupt events in ev occurred and
	// consumes them. It fails early if the controller latched an error.
	wait(h *Host, ev uint32) error
	// errors returns and consumes the error status observed so far.
	errors(h *Host) uint32
	// cardEvents returns and consumes card insertion and removal events.
	cardEvents(h *Host) uint32
}

// lineError classifies latched error status bits.
func lineError(e uint32) error {
	if e&(errCmdTimeout|errDataTimeout) != 0 {
		return StatusCmdTimeout
	}
	return StatusError
}

type pollWaiter struct{}

func (pollWaiter) wait(h *Host, ev uint32) error {
	dl := h.deadline(h.cfg.Timeout)
	for {
		if st := h.regs.read(RegNormIntStatus) & ev; st != 0 {
			h.regs.write(st, RegNormIntStatus)
			return nil
		}
		if e := h.regs.read(RegErrIntStatus) & errMask; e != 0 {
			return lineError(e)
		}
		if dl.expired() {
			return StatusCmdTimeout
		}
	}
}

func (pollWaiter) errors(h *Host) uint32 {
	return h.regs.read(RegErrIntStatus) & errMask
}

func (pollWaiter) cardEvents(h *Host) uint32 {
	st := h.regs.read(RegNormIntStatus) & (intCardInserted | intCardRemoved)
	if st != 0 {
		h.regs.write(st, RegNormIntStatus)
	}
	return st
}

// interruptWaiter collects the events latched by the interrupt handler.
type interruptWaiter struct {
	events atomic.Uint32
	errs   atomic.Uint32
	note   chan struct{}
}

func newInterruptWaiter() *interruptWaiter {
	return &interruptWaiter{note: make(chan struct{}, 1)}
}

// handle acknowledges all pending controller interrupts. Errors are
// recovered from right away so the controller accepts new commands.
func (w *interruptWaiter) handle(h *Host) {
	st := h.regs.read(RegNormIntStatus) & intNormalMask
	e := h.regs.read(RegErrIntStatus) & errMask
	if st != 0 {
		h.regs.write(st, RegNormIntStatus)
		w.events.Or(st)
	}
	if e != 0 {
		h.recover()
		w.errs.Or(e)
	}
	if st|e != 0 {
		select {
		case w.note <- struct{}{}:
		default:
		}
	}
}

func (w *interruptWaiter) take(ev uint32) uint32 {
	for {
		old := w.events.Load()
		if old&ev == 0 {
			return 0
		}
		if w.events.CompareAndSwap(old, old&^ev) {
			return old & ev
		}
	}
}

func (w *interruptWaiter) wait(h *Host, ev uint32) error {
	dl := h.deadline(h.cfg.Timeout)
	for {
		if w.take(ev) != 0 {
			return nil
		}
		if e := w.errs.Swap(0); e != 0 {
			return lineError(e)
		}
		remaining := dl.end - h.cfg.Clock.Now()
		if remaining <= 0 {
			return StatusCmdTimeout
		}
		t := time.NewTimer(remaining)
		select {
		case <-w.note:
		case <-t.C:
		}
		t.Stop()
	}
}

func (w *interruptWaiter) errors(h *Host) uint32 {
	return w.errs.Swap(0)
}

func (w *interruptWaiter) cardEvents(h *Host) uint32 {
	return w.take(intCardInserted | intCardRemoved)
}
