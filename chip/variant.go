package chip

import (
	"errors"
	"strings"
)

// Variant identifies a member of the APT32F102x family. Members differ in
// which pad controls exist.
type Variant uint8

const (
	APT32F102 Variant = iota
	APT32F1021
	APT32F1022
	APT32F1023
	APT32F102S003
)

type variantInfo struct {
	name      string
	drive     bool // DSCR drive strength bit implemented
	inputMode bool // OMCR/TTLSR input buffer select implemented
}

var variants = [...]variantInfo{
	APT32F102:     {name: "apt32f102"},
	APT32F1021:    {name: "apt32f1021", drive: true},
	APT32F1022:    {name: "apt32f1022"},
	APT32F1023:    {name: "apt32f1023", drive: true, inputMode: true},
	APT32F102S003: {name: "apt32f102s003", drive: true},
}

var ErrUnknownVariant = errors.New("unknown chip variant")

func (v Variant) String() string {
	if int(v) < len(variants) {
		return variants[v].name
	}
	return "unknown"
}

// HasDriveStrength reports whether the variant implements drive strength
// selection.
func (v Variant) HasDriveStrength() bool {
	return int(v) < len(variants) && variants[v].drive
}

// HasInputMode reports whether the variant implements CMOS/TTL input buffer
// selection.
func (v Variant) HasInputMode() bool {
	return int(v) < len(variants) && variants[v].inputMode
}

// ParseVariant accepts names such as "apt32f1023" (case-insensitive).
func ParseVariant(name string) (Variant, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, info := range variants {
		if info.name == name {
			return Variant(i), nil
		}
	}
	return 0, ErrUnknownVariant
}
