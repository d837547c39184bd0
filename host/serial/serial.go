// Package serial opens the host side of the link to the pin firmware.
package serial

import (
	"errors"
	"io"
	"time"
)

// Port is a byte stream to the firmware. Besides a real serial device it can
// be a pseudo terminal from pinsim or a net.Pipe in tests.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not yet read.
	Flush() error
}

// Config describes a serial device.
type Config struct {
	Device string

	// Baud is ignored by USB CDC devices.
	Baud int

	// ReadTimeout bounds each Read. Zero blocks.
	ReadTimeout time.Duration
}

const (
	DefaultBaud        = 115200
	DefaultReadTimeout = 100 * time.Millisecond
)

var (
	ErrNoDevice = errors.New("no serial device given")
	ErrBadBaud  = errors.New("baud rate must be positive")
)

// DefaultConfig returns the settings the firmware's UART uses out of reset.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        DefaultBaud,
		ReadTimeout: DefaultReadTimeout,
	}
}

func (c *Config) Validate() error {
	if c == nil || c.Device == "" {
		return ErrNoDevice
	}
	if c.Baud <= 0 {
		return ErrBadBaud
	}
	return nil
}
