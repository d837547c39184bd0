// Package gpiopin exposes APT32F102x pins as periph.io gpio.PinIO, backed by
// either a local device (config.Local) or a firmware session (*mcu.MCU).
//
// Edge detection is polled: WaitForEdge reads and clears the pin's EXI group
// latch until it is set or the timeout expires.
package gpiopin

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"

	"aptpin/config"
	"aptpin/core"
)

// Backend is the set of pin operations a Pin needs.
type Backend interface {
	config.Target
	Read(p core.Pin) (bool, error)
	Mux(p core.Pin) (core.Func, error)
	PullMode(p core.Pin) (core.PullMode, error)
	IRQPending(g core.Group, clearLatch bool) (bool, error)
}

// DefaultPollInterval is how often WaitForEdge checks the group latch.
const DefaultPollInterval = time.Millisecond

var (
	errPWM      = errors.New("gpiopin: PWM is not supported")
	errFunc     = errors.New("gpiopin: function not supported")
	errPull     = errors.New("gpiopin: unknown pull")
	errEdge     = errors.New("gpiopin: unknown edge")
	errNotInput = errors.New("gpiopin: edge detection needs In")
)

// Functions beyond plain input and output.
const (
	FuncAF1   pin.Func = "AF1"
	FuncAF2   pin.Func = "AF2"
	FuncAF3   pin.Func = "AF3"
	FuncAF4   pin.Func = "AF4"
	FuncAF5   pin.Func = "AF5"
	FuncAF6   pin.Func = "AF6"
	FuncIOMap pin.Func = "IOMAP"
)

var funcMap = map[pin.Func]core.Func{
	gpio.IN:    core.FuncInput,
	gpio.OUT:   core.FuncOutput,
	gpio.FLOAT: core.FuncGPD,
	FuncAF1:    core.FuncAF1,
	FuncAF2:    core.FuncAF2,
	FuncAF3:    core.FuncAF3,
	FuncAF4:    core.FuncAF4,
	FuncAF5:    core.FuncAF5,
	FuncAF6:    core.FuncAF6,
	FuncIOMap:  core.FuncIOMap,
}

var supportedFuncs = [...]pin.Func{
	gpio.IN, gpio.OUT, gpio.FLOAT,
	FuncAF1, FuncAF2, FuncAF3, FuncAF4, FuncAF5, FuncAF6, FuncIOMap,
}

// Pin is one chip pin as a gpio.PinIO.
type Pin struct {
	b    Backend
	id   core.Pin
	name string

	// PollInterval overrides DefaultPollInterval when nonzero.
	PollInterval time.Duration

	mu    sync.Mutex
	edge  gpio.Edge
	group core.Group
}

var _ gpio.PinIO = (*Pin)(nil)
var _ pin.PinFunc = (*Pin)(nil)

// New returns pin id of b. The name is prefix followed by the pin name, for
// example "APT_PA3".
func New(b Backend, id core.Pin, prefix string) *Pin {
	return &Pin{
		b:     b,
		id:    id,
		name:  prefix + id.String(),
		group: core.Group(core.PinNumber(id)),
	}
}

func (p *Pin) String() string { return p.name }
func (p *Pin) Name() string   { return p.name }
func (p *Pin) Number() int    { return int(p.id) }

// Function returns the mux function name.
//
// Deprecated: use Func.
func (p *Pin) Function() string { return string(p.Func()) }

// ID returns the chip pin identifier.
func (p *Pin) ID() core.Pin { return p.id }

// Halt stops edge detection and leaves the pin a floating input.
func (p *Pin) Halt() error {
	return p.In(gpio.Float, gpio.NoEdge)
}

// In makes the pin an input. Edge detection routes the pin to the EXI group
// of its in-bank number; pins sharing a number share the group.
func (p *Pin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pull != gpio.PullNoChange {
		m, err := toPullMode(pull)
		if err != nil {
			return err
		}
		if err := p.b.SetPullMode(p.id, m); err != nil {
			return fmt.Errorf("%s: %w", p.name, err)
		}
	}
	if err := p.b.SetMux(p.id, core.FuncInput); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return p.setEdge(edge)
}

// setEdge must be called with p.mu held.
func (p *Pin) setEdge(edge gpio.Edge) error {
	if edge == gpio.NoEdge {
		if p.edge != gpio.NoEdge {
			if err := p.b.EnableIRQ(p.id, p.group, false); err != nil {
				return fmt.Errorf("%s: %w", p.name, err)
			}
		}
		p.edge = gpio.NoEdge
		return nil
	}

	e, err := toEdge(edge)
	if err != nil {
		return err
	}
	if err := p.b.SetIRQMode(p.id, p.group, e); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	if err := p.b.EnableIRQ(p.id, p.group, true); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	p.edge = edge
	return nil
}

// Read returns the input level. Backend errors read as Low.
func (p *Pin) Read() gpio.Level {
	v, err := p.b.Read(p.id)
	if err != nil {
		return gpio.Low
	}
	return gpio.Level(v)
}

// WaitForEdge waits for the edge selected with In. A negative timeout waits
// forever. It returns false on timeout or when no edge is selected.
func (p *Pin) WaitForEdge(timeout time.Duration) bool {
	p.mu.Lock()
	edge, group := p.edge, p.group
	interval := p.PollInterval
	p.mu.Unlock()
	if edge == gpio.NoEdge {
		return false
	}
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var deadline time.Time
	if timeout >= 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		pending, err := p.b.IRQPending(group, true)
		if err == nil && pending {
			return true
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(interval)
	}
}

// WaitForEdgeErr is WaitForEdge with the selection error reported.
func (p *Pin) WaitForEdgeErr(timeout time.Duration) (bool, error) {
	p.mu.Lock()
	edge := p.edge
	p.mu.Unlock()
	if edge == gpio.NoEdge {
		return false, errNotInput
	}
	return p.WaitForEdge(timeout), nil
}

// Pull returns the pull resistor, or PullNoChange when it cannot be read.
func (p *Pin) Pull() gpio.Pull {
	m, err := p.b.PullMode(p.id)
	if err != nil {
		return gpio.PullNoChange
	}
	switch m {
	case core.PullUp:
		return gpio.PullUp
	case core.PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

func (p *Pin) DefaultPull() gpio.Pull { return gpio.Float }

// Out drives the pin. The level is latched before the mux switches to
// output.
func (p *Pin) Out(l gpio.Level) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if l == gpio.High {
		err = p.b.SetHigh(p.id)
	} else {
		err = p.b.SetLow(p.id)
	}
	if err == nil {
		err = p.b.SetMux(p.id, core.FuncOutput)
	}
	if err == nil {
		err = p.setEdge(gpio.NoEdge)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}

func (p *Pin) PWM(duty gpio.Duty, f physic.Frequency) error {
	return errPWM
}

// Func reports the mux function. Output with readback reports as OUT.
func (p *Pin) Func() pin.Func {
	f, err := p.b.Mux(p.id)
	if err != nil {
		return pin.FuncNone
	}
	if f == core.FuncOutputMonitor {
		return gpio.OUT
	}
	for name, code := range funcMap {
		if code == f {
			return name
		}
	}
	return pin.Func(f.String())
}

func (p *Pin) SupportedFuncs() []pin.Func {
	return supportedFuncs[:]
}

func (p *Pin) SetFunc(f pin.Func) error {
	code, ok := funcMap[f]
	if !ok {
		return fmt.Errorf("%s: %w: %s", p.name, errFunc, f)
	}
	if err := p.b.SetMux(p.id, code); err != nil {
		return fmt.Errorf("%s: %w", p.name, err)
	}
	return nil
}

func toPullMode(pull gpio.Pull) (core.PullMode, error) {
	switch pull {
	case gpio.Float:
		return core.PullNone, nil
	case gpio.PullUp:
		return core.PullUp, nil
	case gpio.PullDown:
		return core.PullDown, nil
	}
	return 0, fmt.Errorf("%w: %s", errPull, pull)
}

func toEdge(edge gpio.Edge) (core.Edge, error) {
	switch edge {
	case gpio.RisingEdge:
		return core.EdgeRising, nil
	case gpio.FallingEdge:
		return core.EdgeFalling, nil
	case gpio.BothEdges:
		return core.EdgeBoth, nil
	}
	return 0, fmt.Errorf("%w: %s", errEdge, edge)
}

// Register creates every pin of b and adds it to gpioreg. On failure the
// pins registered so far are removed again.
func Register(b Backend, prefix string) ([]*Pin, error) {
	pins := make([]*Pin, 0, core.NumPins)
	for id := core.Pin(0); int(id) < core.NumPins; id++ {
		p := New(b, id, prefix)
		if err := gpioreg.Register(p); err != nil {
			Unregister(pins)
			return nil, err
		}
		pins = append(pins, p)
	}
	return pins, nil
}

// Unregister removes pins from gpioreg.
func Unregister(pins []*Pin) {
	for _, p := range pins {
		_ = gpioreg.Unregister(p.Name())
	}
}
