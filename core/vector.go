package core

import "aptpin/chip"

// Vector is one of the five external interrupt vectors shared by the 20
// interrupt groups.
type Vector uint8

const (
	VectorEXI0 Vector = iota
	VectorEXI1
	VectorEXI2
	VectorEXI3
	VectorEXI4
)

// IRQ returns the interrupt controller line of the vector.
func (v Vector) IRQ() uint32 {
	return chip.EXI0IRQ + uint32(v)
}

func (v Vector) String() string {
	return "EXI" + string(rune('0'+v))
}

// vectorTable maps each group to the vector servicing it. Groups 16-19 reuse
// the vectors of groups 0-3.
var vectorTable = [NumGroups]Vector{
	0:  VectorEXI0,
	1:  VectorEXI1,
	2:  VectorEXI2,
	3:  VectorEXI2,
	4:  VectorEXI3,
	5:  VectorEXI3,
	6:  VectorEXI3,
	7:  VectorEXI3,
	8:  VectorEXI3,
	9:  VectorEXI3,
	10: VectorEXI4,
	11: VectorEXI4,
	12: VectorEXI4,
	13: VectorEXI4,
	14: VectorEXI4,
	15: VectorEXI4,
	16: VectorEXI0,
	17: VectorEXI1,
	18: VectorEXI2,
	19: VectorEXI2,
}

// VectorOf returns the vector servicing group g. ok is false for groups with
// no vector.
func VectorOf(g Group) (v Vector, ok bool) {
	if int(g) >= len(vectorTable) {
		return 0, false
	}
	return vectorTable[g], true
}

// IRQController masks and unmasks interrupt lines. chip.VIC is the hardware
// implementation.
type IRQController interface {
	EnableIRQ(irq uint32)
	DisableIRQ(irq uint32)
}
