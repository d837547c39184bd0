//go:build tinygo

package chip

import (
	"runtime/volatile"
	"unsafe"
)

// MMIO accesses registers directly on the peripheral bus.
type MMIO struct{}

// Load performs a volatile 32-bit read.
func (MMIO) Load(addr uint32) uint32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Get()
}

// Store performs a volatile 32-bit write.
func (MMIO) Store(addr uint32, value uint32) {
	(*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Set(value)
}
