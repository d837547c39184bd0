package config

import (
	"fmt"

	"go.uber.org/multierr"

	"aptpin/core"
)

// Target is anything the pin operations can be applied to. The host MCU
// client implements it directly; Local adapts a *core.Device.
type Target interface {
	SetMux(p core.Pin, f core.Func) error
	SetPullMode(p core.Pin, m core.PullMode) error
	SetSpeed(p core.Pin, s core.Speed) error
	SetDrive(p core.Pin, d core.Drive) error
	SetInputMode(p core.Pin, m core.InputMode) error
	SetOutputMode(p core.Pin, m core.OutputMode) error
	SetHigh(p core.Pin) error
	SetLow(p core.Pin) error
	SetIRQMode(p core.Pin, g core.Group, e core.Edge) error
	EnableIRQ(p core.Pin, g core.Group, enable bool) error
	SetEventTrigger(ch uint8, src core.Group, period uint8) error
}

// Local drives a device in the same process.
type Local struct {
	Dev *core.Device
}

var _ Target = Local{}

func (l Local) SetMux(p core.Pin, f core.Func) error {
	l.Dev.SetMux(p, f)
	return nil
}

func (l Local) SetSpeed(p core.Pin, s core.Speed) error {
	l.Dev.SetSpeed(p, s)
	return nil
}

func (l Local) SetHigh(p core.Pin) error {
	l.Dev.SetHigh(p)
	return nil
}

func (l Local) SetLow(p core.Pin) error {
	l.Dev.SetLow(p)
	return nil
}

func (l Local) SetPullMode(p core.Pin, m core.PullMode) error     { return l.Dev.SetPullMode(p, m) }
func (l Local) SetDrive(p core.Pin, d core.Drive) error           { return l.Dev.SetDrive(p, d) }
func (l Local) SetInputMode(p core.Pin, m core.InputMode) error   { return l.Dev.SetInputMode(p, m) }
func (l Local) SetOutputMode(p core.Pin, m core.OutputMode) error { return l.Dev.SetOutputMode(p, m) }

func (l Local) SetIRQMode(p core.Pin, g core.Group, e core.Edge) error {
	return l.Dev.SetIRQMode(p, g, e)
}

func (l Local) EnableIRQ(p core.Pin, g core.Group, enable bool) error {
	return l.Dev.EnableIRQ(p, g, enable)
}

func (l Local) SetEventTrigger(ch uint8, src core.Group, period uint8) error {
	return l.Dev.SetEventTrigger(ch, src, period)
}

// Apply programs every pin of the board, in pin order, then the event
// triggers. A failing pin does not stop the others; all failures are
// returned together. A board that does not validate is not applied at all.
//
// Each pin is set up pad first, then its initial level, then the mux, so an
// output never drives before its pad and level are in place.
func Apply(t Target, b *Board) error {
	steps, err := b.compile()
	if err != nil {
		return err
	}

	var errs error
	for _, s := range steps {
		errs = multierr.Append(errs, applyPin(t, s))
	}
	for _, trg := range b.Triggers {
		if err := t.SetEventTrigger(trg.Channel, core.Group(trg.Source), trg.Period); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("event trigger %d: %w", trg.Channel, err))
		}
	}
	return errs
}

func applyPin(t Target, s step) error {
	var errs error
	try := func(what string, err error) {
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%v %s: %w", s.pin, what, err))
		}
	}

	try("pull", t.SetPullMode(s.pin, s.pull))
	try("speed", t.SetSpeed(s.pin, s.speed))
	if s.drive != nil {
		try("drive", t.SetDrive(s.pin, *s.drive))
	}
	if s.input != nil {
		try("input mode", t.SetInputMode(s.pin, *s.input))
	}
	try("output mode", t.SetOutputMode(s.pin, s.output))
	if s.initial != nil {
		if *s.initial {
			try("initial level", t.SetHigh(s.pin))
		} else {
			try("initial level", t.SetLow(s.pin))
		}
	}
	try("mux", t.SetMux(s.pin, s.fn))

	if s.irq != nil {
		try("irq mode", t.SetIRQMode(s.pin, s.irq.group, s.irq.edge))
		if s.irq.enable {
			try("irq enable", t.EnableIRQ(s.pin, s.irq.group, true))
		}
	}
	return errs
}

// Read-side queries, matching the host MCU client.

func (l Local) Read(p core.Pin) (bool, error)              { return l.Dev.Read(p), nil }
func (l Local) Mux(p core.Pin) (core.Func, error)          { return l.Dev.Mux(p), nil }
func (l Local) PullMode(p core.Pin) (core.PullMode, error) { return l.Dev.PullMode(p), nil }

// IRQPending reports a latched trigger of group g and clears it when
// clearLatch is set.
func (l Local) IRQPending(g core.Group, clearLatch bool) (bool, error) {
	pending := l.Dev.IRQPending(g)
	if pending && clearLatch {
		l.Dev.ClearIRQ(g)
	}
	return pending, nil
}
