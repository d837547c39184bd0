package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/urfave/cli/v2"
	"periph.io/x/conn/v3/gpio"

	"aptpin/chip"
	"aptpin/config"
	"aptpin/core"
	"aptpin/gpiopin"
	"aptpin/host/mcu"
)

var errUsage = errors.New("wrong number of arguments")

func printf(w io.Writer, format string, a ...interface{}) {
	fmt.Fprintf(w, format+"\n", a...)
}

func wantArgs(c *cli.Context, lo, hi int) error {
	if n := c.Args().Len(); n < lo || n > hi {
		return fmt.Errorf("%s: %w, usage: %s %s", c.Command.Name, errUsage, c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}

func argPin(c *cli.Context, i int) (core.Pin, error) {
	return core.ParsePin(c.Args().Get(i))
}

func argUint8(c *cli.Context, i int, what string) (uint8, error) {
	v, err := strconv.ParseUint(c.Args().Get(i), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%s %q: %w", what, c.Args().Get(i), err)
	}
	return uint8(v), nil
}

func level(b bool) string {
	if b {
		return "high"
	}
	return "low"
}

func infoAction(c *cli.Context, m *mcu.MCU) error {
	if c.Bool(flagRaw) {
		_, err := c.App.Writer.Write(append(m.DictionaryRaw(), '\n'))
		return err
	}

	variant, pins, err := m.Config()
	if err != nil {
		return err
	}
	dict := m.Dictionary()
	printf(c.App.Writer, "firmware %s", dict.Version)
	printf(c.App.Writer, "chip     %v, %d pins", variant, pins)

	names := make([]string, 0, len(dict.Commands))
	for sig := range dict.Commands {
		names = append(names, sig)
	}
	sort.Strings(names)
	printf(c.App.Writer, "commands:")
	for _, sig := range names {
		printf(c.App.Writer, "\t%3d %s", dict.Commands[sig], sig)
	}
	return nil
}

func muxAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 1, 2); err != nil {
		return err
	}
	p, err := argPin(c, 0)
	if err != nil {
		return err
	}
	if c.Args().Len() == 2 {
		f, err := core.ParseFunc(c.Args().Get(1))
		if err != nil {
			return err
		}
		if err := m.SetMux(p, f); err != nil {
			return err
		}
	}
	f, err := m.Mux(p)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%v %v", p, f)
	return nil
}

func pullAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 1, 2); err != nil {
		return err
	}
	p, err := argPin(c, 0)
	if err != nil {
		return err
	}
	if c.Args().Len() == 2 {
		mode, err := core.ParsePullMode(c.Args().Get(1))
		if err != nil {
			return err
		}
		if err := m.SetPullMode(p, mode); err != nil {
			return err
		}
	}
	mode, err := m.PullMode(p)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%v pull %v", p, mode)
	return nil
}

func padAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 1, 1); err != nil {
		return err
	}
	p, err := argPin(c, 0)
	if err != nil {
		return err
	}

	if s := c.String(flagSpeed); s != "" {
		v, err := core.ParseSpeed(s)
		if err != nil {
			return err
		}
		if err := m.SetSpeed(p, v); err != nil {
			return err
		}
	}
	if s := c.String(flagDrive); s != "" {
		v, err := core.ParseDrive(s)
		if err != nil {
			return err
		}
		if err := m.SetDrive(p, v); err != nil {
			return err
		}
	}
	if s := c.String(flagInputMode); s != "" {
		v, err := core.ParseInputMode(s)
		if err != nil {
			return err
		}
		if err := m.SetInputMode(p, v); err != nil {
			return err
		}
	}
	if s := c.String(flagOutputMode); s != "" {
		v, err := core.ParseOutputMode(s)
		if err != nil {
			return err
		}
		if err := m.SetOutputMode(p, v); err != nil {
			return err
		}
	}
	return nil
}

func readAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 1, 1); err != nil {
		return err
	}
	p, err := argPin(c, 0)
	if err != nil {
		return err
	}
	value, latch, err := m.State(p)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%v input %s output %s", p, level(value), level(latch))
	return nil
}

func setAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 2, 2); err != nil {
		return err
	}
	p, err := argPin(c, 0)
	if err != nil {
		return err
	}
	switch v := c.Args().Get(1); v {
	case "high", "1":
		return m.SetHigh(p)
	case "low", "0":
		return m.SetLow(p)
	default:
		return fmt.Errorf("level %q: want high or low", v)
	}
}

func toggleAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 1, 1); err != nil {
		return err
	}
	p, err := argPin(c, 0)
	if err != nil {
		return err
	}
	return m.Toggle(p)
}

func irqAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 2, 3); err != nil {
		return err
	}
	p, err := argPin(c, 0)
	if err != nil {
		return err
	}
	g, err := argUint8(c, 1, "group")
	if err != nil {
		return err
	}
	group := core.Group(g)

	if c.Bool(flagDisable) {
		return m.EnableIRQ(p, group, false)
	}
	edge, err := core.ParseEdge(c.Args().Get(2))
	if err != nil {
		return err
	}
	if err := m.SetIRQMode(p, group, edge); err != nil {
		return err
	}
	return m.EnableIRQ(p, group, true)
}

func pendingAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 1, 1); err != nil {
		return err
	}
	g, err := argUint8(c, 0, "group")
	if err != nil {
		return err
	}
	pending, err := m.IRQPending(core.Group(g), c.Bool(flagClear))
	if err != nil {
		return err
	}
	printf(c.App.Writer, "group %d pending %v", g, pending)
	return nil
}

func evtrgAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 2, 2); err != nil {
		return err
	}
	ch, err := argUint8(c, 0, "channel")
	if err != nil {
		return err
	}
	src, err := argUint8(c, 1, "group")
	if err != nil {
		return err
	}
	period := c.Uint(flagPeriod)
	if period > 0xF {
		return fmt.Errorf("period %d: at most 15", period)
	}
	return m.SetEventTrigger(ch, core.Group(src), uint8(period))
}

func applyAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 1, 1); err != nil {
		return err
	}
	board, err := config.LoadFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	want, err := board.ChipVariant()
	if err != nil {
		return err
	}
	have, _, err := m.Config()
	if err != nil {
		return err
	}
	if want != have {
		return fmt.Errorf("board is for %v, firmware runs on %v: %w", want, have, chip.ErrUnknownVariant)
	}
	if err := config.Apply(m, board); err != nil {
		return err
	}
	printf(c.App.Writer, "applied %d pins, %d event triggers", len(board.Pins), len(board.Triggers))
	return nil
}

func watchAction(c *cli.Context, m *mcu.MCU) error {
	if err := wantArgs(c, 1, 1); err != nil {
		return err
	}
	id, err := argPin(c, 0)
	if err != nil {
		return err
	}
	edge, err := toGPIOEdge(c.String(flagEdge))
	if err != nil {
		return err
	}
	pull, err := toGPIOPull(c.String(flagPull))
	if err != nil {
		return err
	}

	p := gpiopin.New(m, id, "")
	if err := p.In(pull, edge); err != nil {
		return err
	}
	defer p.Halt()

	printf(c.App.Writer, "watching %v for %v edges", id, edge)
	for n := 1; c.Int(flagCount) == 0 || n <= c.Int(flagCount); n++ {
		if !p.WaitForEdge(c.Duration(flagWait)) {
			return fmt.Errorf("%v: no edge within %v", id, c.Duration(flagWait))
		}
		printf(c.App.Writer, "%d %v %s", n, id, level(p.Read() == gpio.High))
	}
	return nil
}

func toGPIOEdge(s string) (gpio.Edge, error) {
	e, err := core.ParseEdge(s)
	if err != nil {
		return gpio.NoEdge, err
	}
	switch e {
	case core.EdgeRising:
		return gpio.RisingEdge, nil
	case core.EdgeFalling:
		return gpio.FallingEdge, nil
	default:
		return gpio.BothEdges, nil
	}
}

func toGPIOPull(s string) (gpio.Pull, error) {
	m, err := core.ParsePullMode(s)
	if err != nil {
		return gpio.PullNoChange, err
	}
	switch m {
	case core.PullUp:
		return gpio.PullUp, nil
	case core.PullDown:
		return gpio.PullDown, nil
	default:
		return gpio.Float, nil
	}
}
