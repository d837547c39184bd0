// Package main is pinsim, which runs the pin firmware against a simulated
// register file and exposes it on a pseudo terminal. Point pinctl at the
// printed device to drive it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/creack/pty"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/term"

	"aptpin/chip"
	"aptpin/config"
	"aptpin/core"
)

const (
	flagVariant = "variant"
	flagBoard   = "board"
	flagLink    = "link"
	flagDebug   = "debug"
)

func main() {
	app := &cli.App{
		Name:  "pinsim",
		Usage: "serve the aptpin firmware on a pseudo terminal",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  flagVariant,
				Value: chip.APT32F102.String(),
				Usage: "chip variant to simulate",
			},
			&cli.PathFlag{
				Name:  flagBoard,
				Usage: "apply the board description in `FILE` before serving",
			},
			&cli.PathFlag{
				Name:  flagLink,
				Usage: "also expose the terminal as a symlink at `PATH`",
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "pinsim: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(c *cli.Context) error {
	logger, err := newLogger(c.Bool(flagDebug))
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	variant, err := chip.ParseVariant(c.String(flagVariant))
	if err != nil {
		return fmt.Errorf("%s: %w", c.String(flagVariant), err)
	}
	dev := core.NewDevice(chip.NewSim(), variant)

	if path := c.Path(flagBoard); path != "" {
		board, err := config.LoadFile(path)
		if err != nil {
			return err
		}
		if err := config.Apply(config.Local{Dev: dev}, board); err != nil {
			return err
		}
		logger.Info("board applied", zap.String("file", path), zap.Int("pins", len(board.Pins)))
	}

	fw := core.NewFirmware(dev)
	core.SetDebugWriter(func(msg string) { logger.Debug(msg) })
	core.SetDebugEnabled(c.Bool(flagDebug))

	ptmx, tty, err := pty.Open()
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}
	// The tty stays open so the master keeps reading across client sessions.
	defer tty.Close()
	if _, err := term.MakeRaw(int(tty.Fd())); err != nil {
		ptmx.Close()
		return fmt.Errorf("raw mode: %w", err)
	}

	if link := c.Path(flagLink); link != "" {
		_ = os.Remove(link)
		if err := os.Symlink(tty.Name(), link); err != nil {
			ptmx.Close()
			return err
		}
		defer os.Remove(link)
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("serving",
		zap.String("device", tty.Name()),
		zap.Stringer("variant", variant),
	)
	fmt.Fprintln(c.App.Writer, tty.Name())

	served := make(chan error, 1)
	go func() { served <- fw.Serve(ptmx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		ptmx.Close()
		<-served
		return nil
	case err := <-served:
		ptmx.Close()
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}
