package chip

// VIC drives the vectored interrupt controller's set/clear enable registers.
type VIC struct {
	Regs Registers
}

// EnableIRQ unmasks irq.
func (v VIC) EnableIRQ(irq uint32) {
	v.Regs.Store(VICBase+VICISER, 1<<irq)
}

// DisableIRQ masks irq.
func (v VIC) DisableIRQ(irq uint32) {
	v.Regs.Store(VICBase+VICICER, 1<<irq)
}

// Enabled reports whether irq is unmasked.
func (v VIC) Enabled(irq uint32) bool {
	return v.Regs.Load(VICBase+VICISER)&(1<<irq) != 0
}
