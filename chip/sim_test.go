package chip

import (
	"testing"

	"go.viam.com/test"
)

func TestSimSetClearRegisters(t *testing.T) {
	s := NewSim()
	odsr := uint32(GPIOA0Base + GPIOODSR)

	s.Store(GPIOA0Base+GPIOSODR, 0b1010)
	test.That(t, s.Load(odsr), test.ShouldEqual, uint32(0b1010))
	test.That(t, s.Load(GPIOA0Base+GPIOSODR), test.ShouldEqual, uint32(0))

	s.Store(GPIOA0Base+GPIOCODR, 0b0010)
	test.That(t, s.Load(odsr), test.ShouldEqual, uint32(0b1000))

	s.Store(GPIOA0Base+GPIOWODR, 0xFFFF)
	test.That(t, s.Load(odsr), test.ShouldEqual, uint32(0xFFFF))

	// Bank B is independent
	test.That(t, s.Load(GPIOB0Base+GPIOODSR), test.ShouldEqual, uint32(0))
}

func TestSimInterruptRegisters(t *testing.T) {
	s := NewSim()

	s.Store(GPIOB0Base+GPIOIEER, 1<<4)
	test.That(t, s.Load(GPIOB0Base+GPIOIECR), test.ShouldEqual, uint32(1<<4))
	s.Store(GPIOB0Base+GPIOIEDR, 1<<4)
	test.That(t, s.Load(GPIOB0Base+GPIOIECR), test.ShouldEqual, uint32(0))

	s.Store(SysconBase+SysEXIER, 1<<17)
	test.That(t, s.Load(SysconBase+SysEXIMR), test.ShouldEqual, uint32(1<<17))
	s.Store(SysconBase+SysEXIDR, 1<<17)
	test.That(t, s.Load(SysconBase+SysEXIMR), test.ShouldEqual, uint32(0))

	s.Poke(SysconBase+SysEXIRS, 0b111)
	s.Store(SysconBase+SysEXICR, 0b010)
	test.That(t, s.Load(SysconBase+SysEXIRS), test.ShouldEqual, uint32(0b101))
}

func TestSimDiff(t *testing.T) {
	s := NewSim()
	s.Poke(GPIOA0Base+GPIOCONLR, 0x22)
	before := s.Snapshot()

	test.That(t, s.Diff(before), test.ShouldBeEmpty)

	s.Store(GPIOA0Base+GPIOCONLR, 0)
	s.Store(GPIOB0Base+GPIOPUDR, 1)
	test.That(t, s.Diff(before), test.ShouldResemble, []uint32{GPIOA0Base + GPIOCONLR, GPIOB0Base + GPIOPUDR})
}

func TestVIC(t *testing.T) {
	s := NewSim()
	vic := VIC{Regs: s}

	vic.EnableIRQ(EXI2IRQ)
	vic.EnableIRQ(EXI4IRQ)
	test.That(t, vic.Enabled(EXI2IRQ), test.ShouldBeTrue)
	test.That(t, vic.Enabled(EXI4IRQ), test.ShouldBeTrue)
	test.That(t, vic.Enabled(EXI0IRQ), test.ShouldBeFalse)

	vic.DisableIRQ(EXI2IRQ)
	test.That(t, vic.Enabled(EXI2IRQ), test.ShouldBeFalse)
	test.That(t, vic.Enabled(EXI4IRQ), test.ShouldBeTrue)
}

func TestVariants(t *testing.T) {
	for _, tc := range []struct {
		v         Variant
		drive     bool
		inputMode bool
	}{
		{APT32F102, false, false},
		{APT32F1021, true, false},
		{APT32F1022, false, false},
		{APT32F1023, true, true},
		{APT32F102S003, true, false},
		{Variant(99), false, false},
	} {
		t.Run(tc.v.String(), func(t *testing.T) {
			test.That(t, tc.v.HasDriveStrength(), test.ShouldEqual, tc.drive)
			test.That(t, tc.v.HasInputMode(), test.ShouldEqual, tc.inputMode)
		})
	}
}

func TestParseVariant(t *testing.T) {
	v, err := ParseVariant(" APT32F1023 ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, APT32F1023)

	_, err = ParseVariant("stm32f103")
	test.That(t, err, test.ShouldWrap, ErrUnknownVariant)
}
