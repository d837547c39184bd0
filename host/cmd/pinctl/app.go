package main

import (
	"io"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"aptpin/config"
	"aptpin/gpiopin"
	"aptpin/host/mcu"
	"aptpin/host/serial"
)

var (
	_ config.Target   = (*mcu.MCU)(nil)
	_ gpiopin.Backend = (*mcu.MCU)(nil)
)

const (
	flagDevice  = "device"
	flagBaud    = "baud"
	flagTimeout = "timeout"
	flagDebug   = "debug"

	flagRaw        = "raw"
	flagSpeed      = "speed"
	flagDrive      = "drive"
	flagInputMode  = "input-mode"
	flagOutputMode = "output-mode"
	flagDisable    = "disable"
	flagClear      = "clear"
	flagPeriod     = "period"
	flagEdge       = "edge"
	flagPull       = "pull"
	flagCount      = "count"
	flagWait       = "wait"
)

// dialer opens a firmware session for the current invocation.
type dialer func(c *cli.Context, logger *zap.Logger) (*mcu.MCU, error)

func dialSerial(c *cli.Context, logger *zap.Logger) (*mcu.MCU, error) {
	m, err := mcu.ConnectWithConfig(&serial.Config{
		Device:      c.String(flagDevice),
		Baud:        c.Int(flagBaud),
		ReadTimeout: serial.DefaultReadTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	m.SetTimeout(c.Duration(flagTimeout))
	return m, nil
}

// pinctl holds the state shared by every action of one run.
type pinctl struct {
	dial   dialer
	logger *zap.Logger
}

// newApp returns the CLI with Writer set to out and ErrWriter set to errOut.
func newApp(out, errOut io.Writer, dial dialer) *cli.App {
	p := &pinctl{dial: dial, logger: zap.NewNop()}
	return &cli.App{
		Name:            "pinctl",
		Usage:           "configure APT32F102x pins through the aptpin firmware",
		HideHelpCommand: true,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagDevice,
				Aliases: []string{"d"},
				Value:   "/dev/ttyUSB0",
				EnvVars: []string{"APTPIN_DEVICE"},
				Usage:   "serial `DEVICE` the firmware is attached to",
			},
			&cli.IntFlag{
				Name:  flagBaud,
				Value: serial.DefaultBaud,
				Usage: "baud rate",
			},
			&cli.DurationFlag{
				Name:  flagTimeout,
				Value: mcu.DefaultTimeout,
				Usage: "how long to wait for each response",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Before: func(c *cli.Context) error {
			if c.Bool(flagDebug) {
				logger, err := zap.NewDevelopment()
				if err != nil {
					return err
				}
				p.logger = logger
			}
			return nil
		},
		After: func(c *cli.Context) error {
			_ = p.logger.Sync()
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "info",
				Usage:  "show the firmware dictionary and chip configuration",
				Action: p.withMCU(infoAction),
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagRaw, Usage: "print the raw dictionary"},
				},
			},
			{
				Name:      "mux",
				Usage:     "show or set the function of a pin",
				ArgsUsage: "<pin> [func]",
				Action:    p.withMCU(muxAction),
			},
			{
				Name:      "pull",
				Usage:     "show or set the pull resistor of a pin",
				ArgsUsage: "<pin> [none|up|down]",
				Action:    p.withMCU(pullAction),
			},
			{
				Name:      "pad",
				Usage:     "set the pad electrical options of a pin",
				ArgsUsage: "<pin>",
				Action:    p.withMCU(padAction),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagSpeed, Usage: "slow or fast"},
					&cli.StringFlag{Name: flagDrive, Usage: "weak or strong"},
					&cli.StringFlag{Name: flagInputMode, Usage: "cmos, ttl1 or ttl2"},
					&cli.StringFlag{Name: flagOutputMode, Usage: "push_pull or open_drain"},
				},
			},
			{
				Name:      "read",
				Usage:     "read the input level and output latch of a pin",
				ArgsUsage: "<pin>",
				Action:    p.withMCU(readAction),
			},
			{
				Name:      "set",
				Usage:     "drive the output latch of a pin",
				ArgsUsage: "<pin> <high|low>",
				Action:    p.withMCU(setAction),
			},
			{
				Name:      "toggle",
				Usage:     "invert the output latch of a pin",
				ArgsUsage: "<pin>",
				Action:    p.withMCU(toggleAction),
			},
			{
				Name:      "irq",
				Usage:     "route a pin to an EXI group and enable it",
				ArgsUsage: "<pin> <group> <rising|falling|both>",
				Action:    p.withMCU(irqAction),
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagDisable, Usage: "disable the group instead"},
				},
			},
			{
				Name:      "pending",
				Usage:     "report whether an EXI group has a latched trigger",
				ArgsUsage: "<group>",
				Action:    p.withMCU(pendingAction),
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: flagClear, Usage: "clear the latch"},
				},
			},
			{
				Name:      "evtrg",
				Usage:     "route an EXI group to an event trigger channel",
				ArgsUsage: "<channel> <group>",
				Action:    p.withMCU(evtrgAction),
				Flags: []cli.Flag{
					&cli.UintFlag{Name: flagPeriod, Usage: "trigger every N events (1-15, 0 for every event)"},
				},
			},
			{
				Name:      "apply",
				Usage:     "apply a JSON board description",
				ArgsUsage: "<file>",
				Action:    p.withMCU(applyAction),
			},
			{
				Name:      "watch",
				Usage:     "print edges seen on a pin",
				ArgsUsage: "<pin>",
				Action:    p.withMCU(watchAction),
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagEdge, Value: "both", Usage: "rising, falling or both"},
					&cli.StringFlag{Name: flagPull, Value: "none", Usage: "none, up or down"},
					&cli.IntFlag{Name: flagCount, Usage: "stop after N edges, 0 for no limit"},
					&cli.DurationFlag{Name: flagWait, Value: -1, Usage: "give up after this long without an edge"},
				},
			},
		},
	}
}

// withMCU connects before running action and closes the session after.
func (p *pinctl) withMCU(action func(c *cli.Context, m *mcu.MCU) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		logger := p.logger.With(zap.String("device", c.String(flagDevice)))
		start := time.Now()
		m, err := p.dial(c, logger)
		if err != nil {
			return err
		}
		logger.Debug("connected", zap.Duration("took", time.Since(start)))
		defer func() {
			if err := m.Close(); err != nil {
				logger.Warn("close failed", zap.Error(err))
			}
		}()
		return action(c, m)
	}
}
