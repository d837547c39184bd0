// Package config loads JSON board descriptions and applies them to a pin
// target, either a local *core.Device or a firmware session.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"go.uber.org/multierr"

	"aptpin/chip"
	"aptpin/core"
)

var (
	errInitial  = errors.New("want high or low")
	errNoVector = errors.New("group has no interrupt vector")
)

// Board is the pin setup of one board.
type Board struct {
	Variant  string               `json:"variant"`
	Pins     map[string]PinConfig `json:"pins"`
	Triggers []TriggerConfig      `json:"event_triggers,omitempty"`
}

// PinConfig configures one pin. Enum fields take the names used by the core
// parsers ("output", "up", "open_drain", ...). Drive and InputMode are left
// untouched when empty since not every variant has them.
type PinConfig struct {
	Func       string     `json:"func"`
	Pull       string     `json:"pull,omitempty"`
	Speed      string     `json:"speed,omitempty"`
	Drive      string     `json:"drive,omitempty"`
	InputMode  string     `json:"input_mode,omitempty"`
	OutputMode string     `json:"output_mode,omitempty"`
	Initial    string     `json:"initial,omitempty"` // "high" or "low", set before the mux
	IRQ        *IRQConfig `json:"irq,omitempty"`
}

type IRQConfig struct {
	// Group defaults to the pin's in-bank number.
	Group  *uint8 `json:"group,omitempty"`
	Edge   string `json:"edge,omitempty"`
	Enable bool   `json:"enable"`
}

type TriggerConfig struct {
	Channel uint8 `json:"channel"`
	Source  uint8 `json:"source"`
	Period  uint8 `json:"period,omitempty"`
}

// LoadConfig parses a JSON board description and fills in defaults.
func LoadConfig(jsonData []byte) (*Board, error) {
	var board Board
	if err := json.Unmarshal(jsonData, &board); err != nil {
		return nil, err
	}
	applyDefaults(&board)
	return &board, nil
}

// LoadFile reads and parses a board description from path.
func LoadFile(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	board, err := LoadConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return board, nil
}

func applyDefaults(board *Board) {
	if board.Variant == "" {
		board.Variant = chip.APT32F102.String()
	}
	for name, pin := range board.Pins {
		if pin.Func == "" {
			pin.Func = "input"
		}
		if pin.Pull == "" {
			pin.Pull = "none"
		}
		if pin.Speed == "" {
			pin.Speed = "slow"
		}
		if pin.OutputMode == "" {
			pin.OutputMode = "push_pull"
		}
		if pin.IRQ != nil && pin.IRQ.Edge == "" {
			pin.IRQ.Edge = "rising"
		}
		board.Pins[name] = pin
	}
}

// DefaultBoard returns a board with every pin as a floating input.
func DefaultBoard() *Board {
	board := &Board{Pins: make(map[string]PinConfig)}
	for _, name := range core.PinNames() {
		board.Pins[name] = PinConfig{}
	}
	applyDefaults(board)
	return board
}

// ChipVariant parses the board's variant name.
func (b *Board) ChipVariant() (chip.Variant, error) {
	return chip.ParseVariant(b.Variant)
}

// step is a resolved PinConfig.
type step struct {
	pin     core.Pin
	fn      core.Func
	pull    core.PullMode
	speed   core.Speed
	output  core.OutputMode
	drive   *core.Drive
	input   *core.InputMode
	initial *bool
	irq     *irqStep
}

type irqStep struct {
	group  core.Group
	edge   core.Edge
	enable bool
}

// Validate resolves every name in the board and reports all problems found.
func (b *Board) Validate() error {
	_, err := b.compile()
	return err
}

func (b *Board) compile() ([]step, error) {
	var errs error
	if _, err := b.ChipVariant(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("variant %q: %w", b.Variant, err))
	}

	steps := make([]step, 0, len(b.Pins))
	for name, cfg := range b.Pins {
		s, err := compilePin(name, cfg)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		steps = append(steps, s)
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].pin < steps[j].pin })

	seen := make(map[core.Pin]bool, len(steps))
	for _, s := range steps {
		if seen[s.pin] {
			errs = multierr.Append(errs, fmt.Errorf("%v: configured twice", s.pin))
		}
		seen[s.pin] = true
	}
	return steps, errs
}

func compilePin(name string, cfg PinConfig) (step, error) {
	var s step
	var errs error
	field := func(what, value string, err error) {
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %s %q: %w", name, what, value, err))
		}
	}

	var err error
	s.pin, err = core.ParsePin(name)
	if err != nil {
		return s, fmt.Errorf("%s: %w", name, err)
	}
	s.fn, err = core.ParseFunc(cfg.Func)
	field("func", cfg.Func, err)
	s.pull, err = core.ParsePullMode(cfg.Pull)
	field("pull", cfg.Pull, err)
	s.speed, err = core.ParseSpeed(cfg.Speed)
	field("speed", cfg.Speed, err)
	s.output, err = core.ParseOutputMode(cfg.OutputMode)
	field("output_mode", cfg.OutputMode, err)

	if cfg.Drive != "" {
		d, err := core.ParseDrive(cfg.Drive)
		field("drive", cfg.Drive, err)
		s.drive = &d
	}
	if cfg.InputMode != "" {
		m, err := core.ParseInputMode(cfg.InputMode)
		field("input_mode", cfg.InputMode, err)
		s.input = &m
	}
	switch cfg.Initial {
	case "":
	case "high", "low":
		high := cfg.Initial == "high"
		s.initial = &high
	default:
		field("initial", cfg.Initial, errInitial)
	}

	if cfg.IRQ != nil {
		irq := &irqStep{group: core.Group(core.PinNumber(s.pin)), enable: cfg.IRQ.Enable}
		if cfg.IRQ.Group != nil {
			irq.group = core.Group(*cfg.IRQ.Group)
		}
		if _, ok := core.VectorOf(irq.group); !ok {
			field("irq group", fmt.Sprint(irq.group), errNoVector)
		}
		irq.edge, err = core.ParseEdge(cfg.IRQ.Edge)
		field("irq edge", cfg.IRQ.Edge, err)
		s.irq = irq
	}
	return s, errs
}
