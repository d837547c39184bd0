package core

import "aptpin/chip"

// Register field packing. Every update is a plain read-modify-write on the
// target register; nothing here is atomic with respect to other writers.

const (
	nibble = 0xF
	twoBit = 0x3
	oneBit = 0x1
)

// modify replaces the field of width mask at shift in the register at addr.
// A shift past the register width leaves the register unchanged.
func (d *Device) modify(addr, mask, shift, value uint32) {
	if shift >= 32 {
		return
	}
	reg := d.regs.Load(addr)
	d.regs.Store(addr, reg&^(mask<<shift)|(value&mask)<<shift)
}

func (d *Device) field(addr, mask, shift uint32) uint32 {
	if shift >= 32 {
		return 0
	}
	return (d.regs.Load(addr) >> shift) & mask
}

// muxSlot locates the 4-bit mux field of in-bank pin n.
func muxSlot(n uint8) (offset, shift uint32) {
	if n < 8 {
		return chip.GPIOCONLR, uint32(n) * 4
	}
	return chip.GPIOCONHR, uint32(n-8) * 4
}

func (d *Device) setMuxField(bank Bank, n uint8, f Func) {
	off, shift := muxSlot(n)
	d.modify(bank.Base()+off, nibble, shift, uint32(f))
}

func (d *Device) muxField(bank Bank, n uint8) Func {
	off, shift := muxSlot(n)
	return Func(d.field(bank.Base()+off, nibble, shift))
}

// remapSlot returns the IOMAP register and slot for p. The three bands and
// their offsets are fixed by the silicon: PA0-PA7 use IOMAP0 directly,
// PA8-PB1 use IOMAP1 shifted down by 6, the rest IOMAP1 shifted down by 18.
func remapSlot(p Pin) (addr, slot uint32) {
	switch {
	case p < PA8:
		return chip.SysconBase + chip.SysIOMAP0, uint32(p)
	case p < PB2:
		return chip.SysconBase + chip.SysIOMAP1, uint32(p) - 6
	default:
		return chip.SysconBase + chip.SysIOMAP1, uint32(p) - 18
	}
}

func (d *Device) setRemap(p Pin) {
	addr, slot := remapSlot(p)
	d.modify(addr, nibble, slot*4, slot)
}

// setIRQGroup routes pin n of bank into group g. Groups 0-15 select the port
// feeding the EXI line with the pin's own number. Groups 16-19 select a pin
// number in IGREX, and only for the bank the group is wired to; other
// combinations are ignored.
func (d *Device) setIRQGroup(bank Bank, n uint8, g Group) {
	switch {
	case g < firstExtendedGrp:
		if n < 8 {
			d.modify(chip.GPIOGrpBase+chip.GrpIGRPL, nibble, uint32(n)*4, bank.portCode())
		} else if n < chip.PinsPerBank {
			d.modify(chip.GPIOGrpBase+chip.GrpIGRPH, nibble, uint32(n-8)*4, bank.portCode())
		}
	case g < NumGroups:
		wired := (bank == BankA && g < firstBankBExtGrp) || (bank == BankB && g >= firstBankBExtGrp)
		if wired {
			d.modify(chip.GPIOGrpBase+chip.GrpIGREX, nibble, uint32(g-firstExtendedGrp)*4, uint32(n))
		}
	}
}

// setEdge clears both trigger bits of group g and sets the requested ones.
func (d *Device) setEdge(g Group, e Edge) {
	rtAddr := uint32(chip.SysconBase + chip.SysEXIRT)
	ftAddr := uint32(chip.SysconBase + chip.SysEXIFT)
	bit := groupBit(g)

	rt := d.regs.Load(rtAddr) &^ bit
	ft := d.regs.Load(ftAddr) &^ bit
	switch e {
	case EdgeRising:
		rt |= bit
	case EdgeFalling:
		ft |= bit
	case EdgeBoth:
		rt |= bit
		ft |= bit
	}
	d.regs.Store(rtAddr, rt)
	d.regs.Store(ftAddr, ft)
}

func groupBit(g Group) uint32 {
	if g >= 32 {
		return 0
	}
	return 1 << g
}

func pinBit(n uint8) uint32 {
	if n >= 32 {
		return 0
	}
	return 1 << n
}

// Pad control fields

func (d *Device) setPullField(bank Bank, n uint8, m PullMode) {
	d.modify(bank.Base()+chip.GPIOPUDR, twoBit, uint32(n)*2, uint32(m))
}

func (d *Device) pullField(bank Bank, n uint8) PullMode {
	return PullMode(d.field(bank.Base()+chip.GPIOPUDR, twoBit, uint32(n)*2))
}

func (d *Device) setDriveField(bank Bank, n uint8, v Drive) {
	d.modify(bank.Base()+chip.GPIODSCR, oneBit, uint32(n)*2, uint32(v))
}

func (d *Device) setSpeedField(bank Bank, n uint8, s Speed) {
	d.modify(bank.Base()+chip.GPIODSCR, oneBit, uint32(n)*2+1, uint32(s))
}

func (d *Device) setOpenDrain(bank Bank, n uint8, on bool) {
	d.modify(bank.Base()+chip.GPIOOMCR, oneBit, uint32(n), b2u(on))
}

func (d *Device) setInputField(bank Bank, n uint8, m InputMode) {
	d.modify(bank.Base()+chip.GPIOOMCR, oneBit, 16+uint32(n), b2u(m != InputCMOS))
	if m != InputCMOS {
		d.modify(bank.Base()+chip.GPIOTTLSR, oneBit, uint32(n), b2u(m == InputTTL2))
	}
}

// Event trigger fields

func (d *Device) setTriggerSource(ch uint8, src Group) {
	addr := uint32(chip.SysconBase + chip.SysEVTRG)
	if ch < 4 {
		d.modify(addr, nibble, uint32(ch)*chip.EvtrgSrcLowWidth, uint32(src))
		return
	}
	shift := chip.EvtrgSrcHighPos + uint32(ch-4)*chip.EvtrgSrcHighWidth
	d.modify(addr, twoBit, shift, uint32(src-firstExtendedGrp))
}

// setTriggerPeriod clears the channel's event counter and programs it to
// fire after period events.
func (d *Device) setTriggerPeriod(ch uint8, period uint8) {
	evtrg := uint32(chip.SysconBase + chip.SysEVTRG)
	d.regs.Store(evtrg, d.regs.Load(evtrg)|1<<(chip.EvtrgCountClearPos+uint32(ch)))
	d.modify(chip.SysconBase+chip.SysEVPS, nibble, uint32(ch)*chip.EvpsPeriodWidth, uint32(period-1))
}

func (d *Device) enableTriggerSync(ch uint8) {
	d.modify(chip.SysconBase+chip.SysEVTRG, oneBit, chip.EvtrgSyncEnablePos+uint32(ch), 1)
}

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
