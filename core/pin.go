package core

import (
	"errors"
	"strconv"
	"strings"

	"aptpin/chip"
)

// Pin identifies a physical pin. Bank A pins come first (PA0-PA15), followed
// by bank B (PB0-PB15).
type Pin uint8

const (
	PA0 Pin = iota
	PA1
	PA2
	PA3
	PA4
	PA5
	PA6
	PA7
	PA8
	PA9
	PA10
	PA11
	PA12
	PA13
	PA14
	PA15
	PB0
	PB1
	PB2
	PB3
	PB4
	PB5
	PB6
	PB7
	PB8
	PB9
	PB10
	PB11
	PB12
	PB13
	PB14
	PB15

	NumPins = int(PB15) + 1
)

// Bank is one of the two GPIO ports.
type Bank uint8

const (
	BankA Bank = iota
	BankB
)

var ErrInvalidPin = errors.New("invalid pin name")

// Base returns the bank's register base address.
func (b Bank) Base() uint32 {
	if b == BankB {
		return chip.GPIOB0Base
	}
	return chip.GPIOA0Base
}

// portCode is the value written to IGRPL/IGRPH to route an EXI line to this
// bank.
func (b Bank) portCode() uint32 {
	return uint32(b)
}

func (b Bank) String() string {
	if b == BankB {
		return "B"
	}
	return "A"
}

// Resolve maps a pin identifier to its bank and in-bank index. Identifiers
// are not range checked.
func Resolve(p Pin) (Bank, uint8) {
	if p > PA15 {
		return BankB, uint8(p) - chip.BankBOffset
	}
	return BankA, uint8(p)
}

// PinNumber returns the in-bank index (0-15) of p.
func PinNumber(p Pin) uint8 {
	_, n := Resolve(p)
	return n
}

// Valid reports whether p names an existing pin.
func (p Pin) Valid() bool {
	return int(p) < NumPins
}

func (p Pin) String() string {
	if !p.Valid() {
		return "P?" + strconv.Itoa(int(p))
	}
	bank, n := Resolve(p)
	return "P" + bank.String() + strconv.Itoa(int(n))
}

// ParsePin accepts names like "PA3", "pb15" or the C-style "PA03"/"PA015".
func ParsePin(name string) (Pin, error) {
	s := strings.ToUpper(strings.TrimSpace(name))
	if len(s) < 3 || s[0] != 'P' {
		return 0, ErrInvalidPin
	}
	var bank Bank
	switch s[1] {
	case 'A':
		bank = BankA
	case 'B':
		bank = BankB
	default:
		return 0, ErrInvalidPin
	}
	digits := s[2:]
	// PA0x names carry the port number ahead of the pin number.
	if len(digits) >= 2 && digits[0] == '0' {
		digits = digits[1:]
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 0 || n >= chip.PinsPerBank {
		return 0, ErrInvalidPin
	}
	if bank == BankB {
		n += chip.BankBOffset
	}
	return Pin(n), nil
}

// PinNames lists every pin name, indexed by identifier.
func PinNames() []string {
	names := make([]string, NumPins)
	for i := range names {
		names[i] = Pin(i).String()
	}
	return names
}
