package core

import (
	"errors"
	"strconv"
	"strings"
)

// Func is the 4-bit mux code selecting what drives or reads a pin.
type Func uint8

const (
	FuncGPD           Func = 0 // Pad disabled
	FuncInput         Func = 1
	FuncOutput        Func = 2
	FuncOutputMonitor Func = 3 // Output with input readback
	FuncAF1           Func = 4
	FuncAF2           Func = 5
	FuncAF3           Func = 6
	FuncAF4           Func = 7
	FuncAF5           Func = 8
	FuncAF6           Func = 9
	FuncIOMap         Func = 10 // Function taken from the IOMAP registers
)

// PullMode selects the pad's pull resistor.
type PullMode uint8

const (
	PullNone PullMode = iota
	PullUp
	PullDown
)

// Speed is the output slew setting.
type Speed uint8

const (
	SpeedSlow Speed = iota
	SpeedFast
)

// Drive is the output drive strength.
type Drive uint8

const (
	DriveWeak Drive = iota
	DriveStrong
)

// InputMode is the input buffer type.
type InputMode uint8

const (
	InputCMOS InputMode = iota
	InputTTL1
	InputTTL2
)

// OutputMode selects push-pull or open-drain output.
type OutputMode uint8

const (
	OutputPushPull OutputMode = iota
	OutputOpenDrain
)

// Edge selects which transitions raise an external interrupt.
type Edge uint8

const (
	EdgeRising Edge = iota
	EdgeFalling
	EdgeBoth
)

// Group is an external interrupt group, 0-19.
type Group uint8

const (
	NumGroups        = 20
	firstExtendedGrp = Group(16) // IGREX groups start here
	firstBankBExtGrp = Group(18) // IGREX groups wired to bank B
)

var errUnknownName = errors.New("unknown name")

var funcNames = map[Func]string{
	FuncGPD:           "gpd",
	FuncInput:         "input",
	FuncOutput:        "output",
	FuncOutputMonitor: "output_monitor",
	FuncAF1:           "af1",
	FuncAF2:           "af2",
	FuncAF3:           "af3",
	FuncAF4:           "af4",
	FuncAF5:           "af5",
	FuncAF6:           "af6",
	FuncIOMap:         "iomap",
}

func (f Func) String() string {
	if name, ok := funcNames[f]; ok {
		return name
	}
	return "func" + strconv.Itoa(int(f))
}

// ParseFunc accepts a function name ("output", "af3", ...) or a raw 4-bit
// code.
func ParseFunc(s string) (Func, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range funcNames {
		if name == s {
			return f, nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 0xF {
		return 0, errUnknownName
	}
	return Func(n), nil
}

var (
	pullNames   = []string{"none", "up", "down"}
	speedNames  = []string{"slow", "fast"}
	driveNames  = []string{"weak", "strong"}
	inputNames  = []string{"cmos", "ttl1", "ttl2"}
	outputNames = []string{"push_pull", "open_drain"}
	edgeNames   = []string{"rising", "falling", "both"}
)

func nameOf(names []string, v uint8) string {
	if int(v) < len(names) {
		return names[v]
	}
	return strconv.Itoa(int(v))
}

func parseName(names []string, s string) (uint8, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, "-", "_")
	for i, name := range names {
		if name == s {
			return uint8(i), nil
		}
	}
	return 0, errUnknownName
}

func (m PullMode) String() string   { return nameOf(pullNames, uint8(m)) }
func (s Speed) String() string      { return nameOf(speedNames, uint8(s)) }
func (d Drive) String() string      { return nameOf(driveNames, uint8(d)) }
func (m InputMode) String() string  { return nameOf(inputNames, uint8(m)) }
func (m OutputMode) String() string { return nameOf(outputNames, uint8(m)) }
func (e Edge) String() string       { return nameOf(edgeNames, uint8(e)) }

func ParsePullMode(s string) (PullMode, error) {
	v, err := parseName(pullNames, s)
	return PullMode(v), err
}

func ParseSpeed(s string) (Speed, error) {
	v, err := parseName(speedNames, s)
	return Speed(v), err
}

func ParseDrive(s string) (Drive, error) {
	v, err := parseName(driveNames, s)
	return Drive(v), err
}

func ParseInputMode(s string) (InputMode, error) {
	v, err := parseName(inputNames, s)
	return InputMode(v), err
}

func ParseOutputMode(s string) (OutputMode, error) {
	v, err := parseName(outputNames, s)
	return OutputMode(v), err
}

func ParseEdge(s string) (Edge, error) {
	v, err := parseName(edgeNames, s)
	return Edge(v), err
}
