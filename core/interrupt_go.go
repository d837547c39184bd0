//go:build !tinygo

package core

// interruptState stands in for the saved interrupt mask on the host, where
// there is nothing to mask.
type interruptState uintptr

func disableInterrupts() interruptState {
	return 0
}

func restoreInterrupts(interruptState) {}
