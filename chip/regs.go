// Package chip describes the APT32F102x register contract used by the pin
// driver: peripheral base addresses, register offsets, and the Registers
// interface through which every access is made.
package chip

// Registers is a 32-bit register file addressed by absolute bus address.
// On hardware it is backed by memory-mapped I/O (see MMIO); on the host it is
// backed by Sim.
type Registers interface {
	Load(addr uint32) uint32
	Store(addr uint32, value uint32)
}

// Peripheral base addresses
const (
	SysconBase  = 0x4001_1000 // System control (EXI, event trigger, IO remap)
	GPIOA0Base  = 0x4002_3000 // Port A0
	GPIOB0Base  = 0x4002_3200 // Port B0
	GPIOGrpBase = 0x4002_3F00 // EXI group select block
	VICBase     = 0xE000_E000 // Vectored interrupt controller
)

const (
	PinsPerBank = 16
	BankBOffset = 16 // Pin identifiers above PA15 start here
)

// GPIO bank register offsets
const (
	GPIOCONLR = 0x00 // Mux, pins 0-7, 4 bits per pin
	GPIOCONHR = 0x04 // Mux, pins 8-15, 4 bits per pin
	GPIOWODR  = 0x08 // Write output data
	GPIOSODR  = 0x0C // Set output data (write 1 to set)
	GPIOCODR  = 0x10 // Clear output data (write 1 to clear)
	GPIOODSR  = 0x14 // Output data status (read only)
	GPIOPSDR  = 0x18 // Pin status (input level, read only)
	GPIOFLTEN = 0x1C // Input filter enable
	GPIOPUDR  = 0x20 // Pull select, 2 bits per pin
	GPIODSCR  = 0x24 // Drive strength (bit 0) and speed (bit 1), 2 bits per pin
	GPIOOMCR  = 0x28 // Open drain (bit n), TTL input enable (bit 16+n)
	GPIOIECR  = 0x2C // Interrupt enable status (read only)
	GPIOIEER  = 0x30 // Interrupt enable (write 1 to enable)
	GPIOIEDR  = 0x34 // Interrupt disable (write 1 to disable)
	GPIOTTLSR = 0x38 // TTL level select (0 = TTL1, 1 = TTL2)
)

// GPIO group block offsets
const (
	GrpIGRPL = 0x00 // Port select for EXI lines 0-7
	GrpIGRPH = 0x04 // Port select for EXI lines 8-15
	GrpIGREX = 0x08 // Pin select for EXI lines 16-19
)

// SYSCON register offsets
const (
	SysEXIER  = 0x80 // EXI interrupt enable (write 1)
	SysEXIDR  = 0x84 // EXI interrupt disable (write 1)
	SysEXIMR  = 0x88 // EXI interrupt mask status (read only)
	SysEXIRS  = 0x8C // EXI raw status
	SysEXICR  = 0x90 // EXI status clear (write 1)
	SysEXIRT  = 0x94 // Rising edge trigger select
	SysEXIFT  = 0x98 // Falling edge trigger select
	SysEVTRG  = 0xA0 // Event trigger source/enable
	SysEVPS   = 0xA4 // Event trigger period select
	SysIOMAP0 = 0xC0 // IO remap 0
	SysIOMAP1 = 0xC4 // IO remap 1
)

// VIC register offsets
const (
	VICISER = 0x100 // Interrupt set enable
	VICICER = 0x180 // Interrupt clear enable
)

// IRQ numbers of the external interrupt vectors
const (
	EXI0IRQ = 2
	EXI1IRQ = 3
	EXI2IRQ = 4
	EXI3IRQ = 5
	EXI4IRQ = 6
)

// EVTRG/EVPS field layout
const (
	EvtrgSrcLowWidth   = 4  // Channels 0-3
	EvtrgSrcHighPos    = 16 // Channels 4-5 start here
	EvtrgSrcHighWidth  = 2
	EvtrgSyncEnablePos = 20 // ENDIS_ESYNC, one bit per channel
	EvtrgCountClearPos = 26 // EVxCNT clear, one bit per channel
	EvpsPeriodWidth    = 4
)
