package core

import (
	"errors"
	"fmt"
	"io"

	"aptpin/protocol"
)

// Firmware serves a Device over the command protocol. Bytes from the host go
// in through Feed or Serve; responses and acknowledgements come out through
// the writer given to Serve, or Output when feeding by hand.
type Firmware struct {
	dev       *Device
	registry  *CommandRegistry
	dict      *Dictionary
	transport *protocol.Transport
	input     *protocol.FifoBuffer
	output    *protocol.ScratchOutput

	w        io.Writer
	writeErr error
}

// NewFirmware registers the pin command set for dev and builds the data
// dictionary.
func NewFirmware(dev *Device) *Firmware {
	f := &Firmware{
		dev:      dev,
		registry: NewCommandRegistry(),
		input:    protocol.NewFifoBuffer(protocol.MessageMax),
		output:   protocol.NewScratchOutput(),
	}
	f.dict = NewDictionary(f.registry)
	f.transport = protocol.NewTransport(f.output, f.registry.Dispatch)
	f.transport.SetFlushCallback(f.flush)
	f.transport.SetErrorCallback(f.commandFailed)
	f.transport.SetResetCallback(f.hostRestarted)

	f.registerCommands()
	f.registerDictionary()
	f.dict.Build()
	return f
}

func (f *Firmware) Device() *Device                { return f.dev }
func (f *Firmware) Registry() *CommandRegistry     { return f.registry }
func (f *Firmware) Dictionary() *Dictionary        { return f.dict }
func (f *Firmware) Transport() *protocol.Transport { return f.transport }

// Feed hands received bytes to the transport. Complete blocks are executed
// immediately; a trailing partial block waits for the next call.
func (f *Firmware) Feed(data []byte) {
	for len(data) > 0 {
		n := f.input.Write(data)
		data = data[n:]
		f.transport.Receive(f.input)
		if n == 0 && f.input.Free() == 0 {
			f.input.Reset()
		}
	}
}

// Output returns and clears the bytes queued for the host since the last
// flush.
func (f *Firmware) Output() []byte {
	out := append([]byte(nil), f.output.Result()...)
	f.output.Reset()
	return out
}

// flush runs after every acknowledgement so the host sees it before the
// next block is parsed.
func (f *Firmware) flush() {
	if f.w == nil || f.output.CurPosition() == 0 {
		return
	}
	if _, err := f.w.Write(f.output.Result()); err != nil && f.writeErr == nil {
		f.writeErr = err
	}
	f.output.Reset()
}

// Serve runs the firmware over rw until a read or write fails. A clean EOF
// returns nil.
func (f *Firmware) Serve(rw io.ReadWriter) error {
	f.w = rw
	f.writeErr = nil
	defer func() { f.w = nil }()

	buf := make([]byte, protocol.MessageLengthMax)
	for {
		n, err := rw.Read(buf)
		if n > 0 {
			f.Feed(buf[:n])
			f.flush()
			if f.writeErr != nil {
				return fmt.Errorf("write: %w", f.writeErr)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

// hostRestarted keeps whatever is queued. Replies to blocks of the old
// session carry stale sequences and the host skips them.
func (f *Firmware) hostRestarted() {
	DebugPrintln("host restarted")
}

func (f *Firmware) commandFailed(cmdID uint16, err error) {
	name := "?"
	if cmd, ok := f.registry.GetCommand(cmdID); ok {
		name = cmd.Name
	}
	DebugPrintln("command " + name + ": " + err.Error())
}

// send queues response name with integer arguments.
func (f *Firmware) send(name string, args ...uint32) {
	f.sendWith(name, func(out protocol.OutputBuffer) {
		for _, a := range args {
			protocol.EncodeVLQUint(out, a)
		}
	})
}

func (f *Firmware) sendWith(name string, args func(out protocol.OutputBuffer)) {
	cmd, ok := f.registry.GetCommandByName(name)
	if !ok {
		panic("response not registered: " + name)
	}
	f.transport.SendCommand(cmd.ID, args)
}
