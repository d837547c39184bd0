package core

import "aptpin/chip"

// Device is the handle to one chip's pin hardware. It holds no state of its
// own beyond the register file; two operations touching the same register
// from different contexts (main loop and an ISR) must be serialized by the
// caller, for example with Atomic.
//
// Pin arguments are not range checked. Identifiers past PB15 address
// nonexistent fields.
type Device struct {
	regs    chip.Registers
	variant chip.Variant
	irq     IRQController
}

// NewDevice returns a handle over regs for the given chip variant. Vector
// enable and disable go to the VIC in the same register file.
func NewDevice(regs chip.Registers, variant chip.Variant) *Device {
	return &Device{
		regs:    regs,
		variant: variant,
		irq:     chip.VIC{Regs: regs},
	}
}

// SetIRQController replaces the vector controller used by EnableIRQ.
func (d *Device) SetIRQController(c IRQController) {
	d.irq = c
}

func (d *Device) Variant() chip.Variant {
	return d.variant
}

// Registers returns the underlying register file.
func (d *Device) Registers() chip.Registers {
	return d.regs
}

// Atomic runs fn with interrupts disabled.
func (d *Device) Atomic(fn func()) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	fn()
}

// SetMux selects the function of p. FuncIOMap additionally programs the pin's
// IO remap slot.
func (d *Device) SetMux(p Pin, f Func) {
	if f == FuncIOMap {
		d.setRemap(p)
	}
	bank, n := Resolve(p)
	d.setMuxField(bank, n, f)
}

// Mux returns the function currently selected for p.
func (d *Device) Mux(p Pin) Func {
	bank, n := Resolve(p)
	return d.muxField(bank, n)
}

func (d *Device) SetPullMode(p Pin, m PullMode) error {
	if m > PullDown {
		return reject("pull mode %d", m)
	}
	bank, n := Resolve(p)
	d.setPullField(bank, n, m)
	return nil
}

// PullMode returns the pull resistor selected for p.
func (d *Device) PullMode(p Pin) PullMode {
	bank, n := Resolve(p)
	return d.pullField(bank, n)
}

func (d *Device) SetSpeed(p Pin, s Speed) {
	bank, n := Resolve(p)
	d.setSpeedField(bank, n, s)
}

// SetDrive selects the output drive strength. Variants without drive
// strength control reject it.
func (d *Device) SetDrive(p Pin, v Drive) error {
	if !d.variant.HasDriveStrength() {
		return reject("drive strength not available on %s", d.variant)
	}
	if v > DriveStrong {
		return reject("drive %d", v)
	}
	bank, n := Resolve(p)
	d.setDriveField(bank, n, v)
	return nil
}

// SetInputMode selects the CMOS or TTL input buffer. Only some variants
// implement it.
func (d *Device) SetInputMode(p Pin, m InputMode) error {
	if !d.variant.HasInputMode() {
		return reject("input mode not available on %s", d.variant)
	}
	if m > InputTTL2 {
		return reject("input mode %d", m)
	}
	bank, n := Resolve(p)
	d.setInputField(bank, n, m)
	return nil
}

func (d *Device) SetOutputMode(p Pin, m OutputMode) error {
	if m > OutputOpenDrain {
		return reject("output mode %d", m)
	}
	bank, n := Resolve(p)
	d.setOpenDrain(bank, n, m == OutputOpenDrain)
	return nil
}

// PinNumber returns the in-bank index of p.
func (d *Device) PinNumber(p Pin) uint8 {
	return PinNumber(p)
}

// Read returns the input level of p.
func (d *Device) Read(p Pin) bool {
	bank, n := Resolve(p)
	return d.regs.Load(bank.Base()+chip.GPIOPSDR)&pinBit(n) != 0
}

// Level returns the output latch of p.
func (d *Device) Level(p Pin) bool {
	bank, n := Resolve(p)
	return d.regs.Load(bank.Base()+chip.GPIOODSR)&pinBit(n) != 0
}

// Toggle inverts the output latch of p.
func (d *Device) Toggle(p Pin) {
	bank, n := Resolve(p)
	if d.regs.Load(bank.Base()+chip.GPIOODSR)&pinBit(n) != 0 {
		d.regs.Store(bank.Base()+chip.GPIOCODR, pinBit(n))
	} else {
		d.regs.Store(bank.Base()+chip.GPIOSODR, pinBit(n))
	}
}

func (d *Device) SetHigh(p Pin) {
	bank, n := Resolve(p)
	d.regs.Store(bank.Base()+chip.GPIOSODR, pinBit(n))
}

func (d *Device) SetLow(p Pin) {
	bank, n := Resolve(p)
	d.regs.Store(bank.Base()+chip.GPIOCODR, pinBit(n))
}

// SetIRQMode enables the pin interrupt of p, routes it into group g and
// selects the trigger edge. An unknown edge is rejected before anything is
// written. Group/bank combinations the hardware does not wire are ignored.
func (d *Device) SetIRQMode(p Pin, g Group, e Edge) error {
	if e > EdgeBoth {
		return reject("edge %d", e)
	}
	bank, n := Resolve(p)
	d.regs.Store(bank.Base()+chip.GPIOIEER, pinBit(n))
	d.setIRQGroup(bank, n, g)
	d.setEdge(g, e)
	return nil
}

// EnableIRQ enables or disables the interrupt of p on group g: the pin
// interrupt, the EXI line of the group (its pending flag is cleared), and the
// vector servicing the group. A group with no vector is rejected before any
// register is written.
func (d *Device) EnableIRQ(p Pin, g Group, enable bool) error {
	vec, ok := VectorOf(g)
	if !ok {
		return reject("group %d has no vector", g)
	}
	bank, n := Resolve(p)
	if enable {
		d.regs.Store(bank.Base()+chip.GPIOIEER, pinBit(n))
		d.regs.Store(chip.SysconBase+chip.SysEXIER, groupBit(g))
	} else {
		d.regs.Store(bank.Base()+chip.GPIOIEDR, pinBit(n))
		d.regs.Store(chip.SysconBase+chip.SysEXIDR, groupBit(g))
	}
	d.ClearIRQ(g)

	if enable {
		d.irq.EnableIRQ(vec.IRQ())
	} else {
		d.irq.DisableIRQ(vec.IRQ())
	}
	return nil
}

// IRQPending reports whether group g has a latched trigger.
func (d *Device) IRQPending(g Group) bool {
	return d.regs.Load(chip.SysconBase+chip.SysEXIRS)&groupBit(g) != 0
}

// ClearIRQ clears the latched trigger of group g.
func (d *Device) ClearIRQ(g Group) {
	d.regs.Store(chip.SysconBase+chip.SysEXICR, groupBit(g))
}

// SetEventTrigger routes EXI source src to trigger output channel ch. Channels
// 0-3 accept sources 0-15 and channels 4-5 sources 16-19; any other pairing is
// rejected without touching the hardware. A nonzero period (low 4 bits) makes
// the channel fire once every period events.
func (d *Device) SetEventTrigger(ch uint8, src Group, period uint8) error {
	period &= 0xF
	switch {
	case ch < 4 && src < firstExtendedGrp:
	case ch >= 4 && ch < 6 && src >= firstExtendedGrp && src < NumGroups:
	default:
		return reject("event trigger channel %d cannot take source %d", ch, src)
	}
	d.setTriggerSource(ch, src)
	if period != 0 {
		d.setTriggerPeriod(ch, period)
	}
	d.enableTriggerSync(ch)
	return nil
}
