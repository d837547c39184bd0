package core

// DebugWriter receives debug messages, one line per call.
type DebugWriter func(string)

var (
	debugPrintln DebugWriter = func(string) {}
	debugEnabled bool
)

// SetDebugWriter routes debug output, typically to a spare UART.
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugEnabled turns debug output on or off. It starts off.
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// DebugPrintln writes msg when debug output is enabled.
func DebugPrintln(msg string) {
	if debugEnabled {
		debugPrintln(msg)
	}
}
