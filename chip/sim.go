package chip

import "sort"

// Sim is an in-memory register file. Set/clear/toggle style registers are
// modelled with write hooks so that driver code sees the same side effects it
// would on silicon: writing SODR sets bits in ODSR, writing IEER sets bits in
// IECR, and so on. Write-only registers read back as zero.
//
// Sim is not safe for concurrent use, matching the hardware contract.
type Sim struct {
	mem   map[uint32]uint32
	hooks map[uint32]func(value uint32)
}

// NewSim returns a register file laid out like an APT32F102x at reset.
func NewSim() *Sim {
	s := &Sim{
		mem:   make(map[uint32]uint32),
		hooks: make(map[uint32]func(value uint32)),
	}
	for _, base := range []uint32{GPIOA0Base, GPIOB0Base} {
		s.setClear(base+GPIOSODR, base+GPIOCODR, base+GPIOODSR)
		s.setClear(base+GPIOIEER, base+GPIOIEDR, base+GPIOIECR)
		odsr := base + GPIOODSR
		s.hooks[base+GPIOWODR] = func(v uint32) { s.mem[odsr] = v }
	}
	s.setClear(SysconBase+SysEXIER, SysconBase+SysEXIDR, SysconBase+SysEXIMR)
	exirs := uint32(SysconBase + SysEXIRS)
	s.hooks[SysconBase+SysEXICR] = func(v uint32) { s.mem[exirs] &^= v }

	iser := uint32(VICBase + VICISER)
	s.hooks[iser] = func(v uint32) { s.mem[iser] |= v }
	s.hooks[VICBase+VICICER] = func(v uint32) { s.mem[iser] &^= v }
	return s
}

// setClear wires a write-1-to-set and write-1-to-clear register pair to the
// status register they act on.
func (s *Sim) setClear(set, clr, status uint32) {
	s.hooks[set] = func(v uint32) { s.mem[status] |= v }
	s.hooks[clr] = func(v uint32) { s.mem[status] &^= v }
}

// Load returns the register value at addr.
func (s *Sim) Load(addr uint32) uint32 {
	return s.mem[addr]
}

// Store writes value to addr, applying any side effect of the register.
func (s *Sim) Store(addr uint32, value uint32) {
	if hook, ok := s.hooks[addr]; ok {
		hook(value)
		return
	}
	s.mem[addr] = value
}

// Poke sets a register directly, bypassing write side effects. Tests use it
// to drive hardware-owned state such as PSDR or EXIRS.
func (s *Sim) Poke(addr uint32, value uint32) {
	s.mem[addr] = value
}

// Snapshot copies every nonzero register.
func (s *Sim) Snapshot() map[uint32]uint32 {
	out := make(map[uint32]uint32, len(s.mem))
	for addr, v := range s.mem {
		if v != 0 {
			out[addr] = v
		}
	}
	return out
}

// Diff lists the addresses whose value differs from a previous Snapshot.
func (s *Sim) Diff(before map[uint32]uint32) []uint32 {
	now := s.Snapshot()
	seen := make(map[uint32]bool)
	var changed []uint32
	for addr, v := range now {
		seen[addr] = true
		if before[addr] != v {
			changed = append(changed, addr)
		}
	}
	for addr := range before {
		if !seen[addr] {
			changed = append(changed, addr)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	return changed
}
