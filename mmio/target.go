//go:build ft900 || ft930

package mmio

import (
	"sync/atomic"
	"unsafe"
)

// Target is the bus of the running FT9xx device.
var Target Bus = target{}

type target struct{}

//go:nosplit
func (target) Load32(addr uintptr) uint32 {
	return atomic.LoadUint32((*uint32)(unsafe.Pointer(addr)))
}

//go:nosplit
func (target) Store32(addr uintptr, v uint32) {
	atomic.StoreUint32((*uint32)(unsafe.Pointer(addr)), v)
}

//go:noinline
func (target) Load8(addr uintptr) uint8 {
	return *(*uint8)(unsafe.Pointer(addr))
}

//go:noinline
func (target) Store8(addr uintptr, v uint8) {
	*(*uint8)(unsafe.Pointer(addr)) = v
}
