package core

import (
	"errors"
	"fmt"
)

// ErrPin is the single failure kind of the pin driver. Every rejected
// operation wraps it; match with errors.Is.
var ErrPin = errors.New("pin operation rejected")

func reject(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrPin}, args...)...)
}
