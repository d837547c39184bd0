package core

import (
	"strconv"

	"aptpin/protocol"
)

// statusNoPin is the pin reported in pin_status for commands that are not
// about a single pin.
const statusNoPin = 0xFF

// maxIdentifyChunk keeps an identify_response inside one block.
const maxIdentifyChunk = 48

func (f *Firmware) registerCommands() {
	r := f.registry

	// Hosts bootstrap with identify_response = 0 and identify = 1.
	r.RegisterResponse("identify_response", "offset=%u data=%*s")
	r.Register("identify", "offset=%u count=%c", f.handleIdentify)

	r.Register("get_config", "", f.handleGetConfig)
	r.RegisterResponse("config", "variant=%c pins=%c")

	r.Register("pin_set_mux", "pin=%c func=%c", f.pinCommand(1, f.setMux))
	r.Register("pin_get_mux", "pin=%c", f.pinQuery("pin_mux", f.getMux))
	r.Register("pin_set_pull", "pin=%c mode=%c", f.pinCommand(1, f.setPull))
	r.Register("pin_get_pull", "pin=%c", f.pinQuery("pin_pull", f.getPull))
	r.Register("pin_set_speed", "pin=%c speed=%c", f.pinCommand(1, f.setSpeed))
	r.Register("pin_set_drive", "pin=%c drive=%c", f.pinCommand(1, f.setDrive))
	r.Register("pin_set_input_mode", "pin=%c mode=%c", f.pinCommand(1, f.setInputMode))
	r.Register("pin_set_output_mode", "pin=%c mode=%c", f.pinCommand(1, f.setOutputMode))
	r.Register("pin_get_num", "pin=%c", f.pinQuery("pin_num", f.getNum))
	r.Register("pin_read", "pin=%c", f.pinQuery("pin_state", f.getState))
	r.Register("pin_toggle", "pin=%c", f.pinCommand(0, f.toggle))
	r.Register("pin_set_high", "pin=%c", f.pinCommand(0, f.setHigh))
	r.Register("pin_set_low", "pin=%c", f.pinCommand(0, f.setLow))
	r.Register("pin_irq_mode", "pin=%c group=%c edge=%c", f.pinCommand(2, f.irqMode))
	r.Register("pin_irq_enable", "pin=%c group=%c enable=%c", f.pinCommand(2, f.irqEnable))
	r.Register("exi_poll", "group=%c clear=%c", f.handleEXIPoll)
	r.Register("exi_set_evtrg", "channel=%c source=%c period=%c", f.handleSetEvtrg)

	r.RegisterResponse("pin_status", "pin=%c ok=%c")
	r.RegisterResponse("pin_mux", "pin=%c func=%c")
	r.RegisterResponse("pin_pull", "pin=%c mode=%c")
	r.RegisterResponse("pin_num", "pin=%c num=%c")
	r.RegisterResponse("pin_state", "pin=%c value=%c level=%c")
	r.RegisterResponse("exi_state", "group=%c pending=%c")
}

func (f *Firmware) registerDictionary() {
	f.dict.AddConstant("MCU", f.dev.Variant())
	f.dict.AddConstant("PIN_COUNT", NumPins)
	f.dict.AddConstant("IRQ_GROUPS", NumGroups)
	f.dict.AddConstant("EVTRG_CHANNELS", 6)
	f.dict.AddConstant("DRIVE_STRENGTH", f.dev.Variant().HasDriveStrength())
	f.dict.AddConstant("INPUT_MODE", f.dev.Variant().HasInputMode())

	funcs := make([]string, FuncIOMap+1)
	for fn, name := range funcNames {
		funcs[fn] = name
	}
	f.dict.AddEnumeration("pin", PinNames())
	f.dict.AddEnumeration("pin_func", funcs)
	f.dict.AddEnumeration("pull_mode", pullNames)
	f.dict.AddEnumeration("speed", speedNames)
	f.dict.AddEnumeration("drive", driveNames)
	f.dict.AddEnumeration("input_mode", inputNames)
	f.dict.AddEnumeration("output_mode", outputNames)
	f.dict.AddEnumeration("edge", edgeNames)
}

func (f *Firmware) handleIdentify(data *[]byte) error {
	var offset, count uint32
	if err := protocol.DecodeArgs(data, &offset, &count); err != nil {
		return err
	}
	if count > maxIdentifyChunk {
		count = maxIdentifyChunk
	}
	chunk := f.dict.GetChunk(offset, uint8(count))
	f.sendWith("identify_response", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, chunk)
	})
	return nil
}

func (f *Firmware) handleGetConfig(data *[]byte) error {
	f.send("config", uint32(f.dev.Variant()), uint32(NumPins))
	return nil
}

// pinRequest is a decoded pin command. A request that names no pin or carries
// an argument wider than a byte is answered with ok=0 and never reaches the
// device.
type pinRequest struct {
	raw     uint32 // Pin as sent, echoed back
	pin     Pin
	args    [2]uint8
	invalid error
}

func decodePinRequest(data *[]byte, nargs int) (pinRequest, error) {
	var vals [3]uint32
	ptrs := []*uint32{&vals[0], &vals[1], &vals[2]}
	if err := protocol.DecodeArgs(data, ptrs[:1+nargs]...); err != nil {
		return pinRequest{}, err
	}

	req := pinRequest{raw: vals[0], pin: Pin(vals[0])}
	if vals[0] >= uint32(NumPins) {
		req.invalid = reject("no pin %d", vals[0])
	}
	for i := 0; i < nargs; i++ {
		if vals[i+1] > 0xFF {
			req.invalid = reject("argument %d out of range", vals[i+1])
		}
		req.args[i] = uint8(vals[i+1])
	}
	return req, nil
}

func (f *Firmware) sendStatus(pin uint32, err error) {
	ok := uint32(1)
	if err != nil {
		ok = 0
		DebugPrintln("pin " + strconv.FormatUint(uint64(pin), 10) + ": " + err.Error())
	}
	f.send("pin_status", pin, ok)
}

// pinCommand builds the handler of a pin command taking nargs byte
// arguments. The outcome of op is reported in pin_status.
func (f *Firmware) pinCommand(nargs int, op func(req pinRequest) error) CommandHandler {
	return func(data *[]byte) error {
		req, err := decodePinRequest(data, nargs)
		if err != nil {
			return err
		}
		err = req.invalid
		if err == nil {
			err = op(req)
		}
		f.sendStatus(req.raw, err)
		return nil
	}
}

// pinQuery builds the handler of a pin query. It answers with response on
// success and pin_status ok=0 otherwise.
func (f *Firmware) pinQuery(response string, get func(p Pin) []uint32) CommandHandler {
	return func(data *[]byte) error {
		req, err := decodePinRequest(data, 0)
		if err != nil {
			return err
		}
		if req.invalid != nil {
			f.sendStatus(req.raw, req.invalid)
			return nil
		}
		f.send(response, append([]uint32{req.raw}, get(req.pin)...)...)
		return nil
	}
}

func (f *Firmware) setMux(req pinRequest) error {
	if req.args[0] > nibble {
		return reject("function %d", req.args[0])
	}
	f.dev.SetMux(req.pin, Func(req.args[0]))
	return nil
}

func (f *Firmware) setPull(req pinRequest) error {
	return f.dev.SetPullMode(req.pin, PullMode(req.args[0]))
}

func (f *Firmware) setSpeed(req pinRequest) error {
	if req.args[0] > uint8(SpeedFast) {
		return reject("speed %d", req.args[0])
	}
	f.dev.SetSpeed(req.pin, Speed(req.args[0]))
	return nil
}

func (f *Firmware) setDrive(req pinRequest) error {
	return f.dev.SetDrive(req.pin, Drive(req.args[0]))
}

func (f *Firmware) setInputMode(req pinRequest) error {
	return f.dev.SetInputMode(req.pin, InputMode(req.args[0]))
}

func (f *Firmware) setOutputMode(req pinRequest) error {
	return f.dev.SetOutputMode(req.pin, OutputMode(req.args[0]))
}

func (f *Firmware) toggle(req pinRequest) error {
	f.dev.Toggle(req.pin)
	return nil
}

func (f *Firmware) setHigh(req pinRequest) error {
	f.dev.SetHigh(req.pin)
	return nil
}

func (f *Firmware) setLow(req pinRequest) error {
	f.dev.SetLow(req.pin)
	return nil
}

func (f *Firmware) irqMode(req pinRequest) error {
	if req.args[0] >= NumGroups {
		return reject("group %d", req.args[0])
	}
	return f.dev.SetIRQMode(req.pin, Group(req.args[0]), Edge(req.args[1]))
}

func (f *Firmware) irqEnable(req pinRequest) error {
	return f.dev.EnableIRQ(req.pin, Group(req.args[0]), req.args[1] != 0)
}

func (f *Firmware) getMux(p Pin) []uint32 {
	return []uint32{uint32(f.dev.Mux(p))}
}

func (f *Firmware) getPull(p Pin) []uint32 {
	return []uint32{uint32(f.dev.PullMode(p))}
}

func (f *Firmware) getNum(p Pin) []uint32 {
	return []uint32{uint32(f.dev.PinNumber(p))}
}

func (f *Firmware) getState(p Pin) []uint32 {
	return []uint32{b2u(f.dev.Read(p)), b2u(f.dev.Level(p))}
}

func (f *Firmware) handleEXIPoll(data *[]byte) error {
	var group, clr uint32
	if err := protocol.DecodeArgs(data, &group, &clr); err != nil {
		return err
	}
	if group >= NumGroups {
		f.sendStatus(statusNoPin, reject("group %d", group))
		return nil
	}
	g := Group(group)
	pending := f.dev.IRQPending(g)
	if pending && clr != 0 {
		f.dev.ClearIRQ(g)
	}
	f.send("exi_state", group, b2u(pending))
	return nil
}

func (f *Firmware) handleSetEvtrg(data *[]byte) error {
	var ch, src, period uint32
	if err := protocol.DecodeArgs(data, &ch, &src, &period); err != nil {
		return err
	}
	var err error
	if ch > 0xFF || src > 0xFF || period > 0xFF {
		err = reject("event trigger argument out of range")
	} else {
		err = f.dev.SetEventTrigger(uint8(ch), Group(src), uint8(period))
	}
	f.sendStatus(statusNoPin, err)
	return nil
}
