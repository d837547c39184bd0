//go:build tinygo && apt32f102

// Firmware image for APT32F102x boards. The command link runs on the
// default UART at 115200 baud.
package main

import (
	"machine"
	"time"

	"aptpin/chip"
	"aptpin/core"
)

// variantName selects the chip family member, for example
// -ldflags "-X main.variantName=apt32f1023".
var variantName = "apt32f102"

func main() {
	variant, err := chip.ParseVariant(variantName)
	if err != nil {
		variant = chip.APT32F102
	}

	uart := machine.Serial
	if err := uart.Configure(machine.UARTConfig{BaudRate: 115200}); err != nil {
		return
	}

	fw := core.NewFirmware(core.NewDevice(chip.MMIO{}, variant))

	buf := make([]byte, 64)
	for {
		func() {
			// A panicking command must not take the link down.
			defer func() { recover() }()

			n := 0
			for n < len(buf) && uart.Buffered() > 0 {
				b, err := uart.ReadByte()
				if err != nil {
					break
				}
				buf[n] = b
				n++
			}
			if n == 0 {
				return
			}
			fw.Feed(buf[:n])
			if out := fw.Output(); len(out) > 0 {
				uart.Write(out)
			}
		}()

		time.Sleep(10 * time.Microsecond)
	}
}
