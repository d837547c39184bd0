// Package main is pinctl, a command line client for the aptpin firmware.
package main

import (
	"fmt"
	"os"
)

func main() {
	app := newApp(os.Stdout, os.Stderr, dialSerial)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "pinctl: %v\n", err)
		os.Exit(1)
	}
}
