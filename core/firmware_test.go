package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"

	"go.viam.com/test"

	"aptpin/chip"
	"aptpin/protocol"
)

type reply struct {
	seq  uint8
	name string
	data []byte
}

// uints decodes every argument of r as an integer.
func (r reply) uints(t *testing.T) []uint32 {
	t.Helper()
	data := r.data
	var out []uint32
	for len(data) > 0 {
		v, err := protocol.DecodeVLQUint(&data)
		test.That(t, err, test.ShouldBeNil)
		out = append(out, v)
	}
	return out
}

// hostLink plays the host side against a Firmware fed by hand.
type hostLink struct {
	t   *testing.T
	fw  *Firmware
	sim *chip.Sim
	seq uint8
}

func newHostLink(t *testing.T, v chip.Variant) *hostLink {
	sim := chip.NewSim()
	return &hostLink{
		t:   t,
		fw:  NewFirmware(NewDevice(sim, v)),
		sim: sim,
		seq: protocol.MessageDest,
	}
}

type call struct {
	name string
	args []uint32
}

func (h *hostLink) frame(calls ...call) []byte {
	h.t.Helper()
	out := protocol.NewScratchOutput()
	for _, c := range calls {
		cmd, ok := h.fw.Registry().GetCommandByName(c.name)
		test.That(h.t, ok, test.ShouldBeTrue)
		protocol.EncodeVLQUint(out, uint32(cmd.ID))
		for _, a := range c.args {
			protocol.EncodeVLQUint(out, a)
		}
	}
	block := protocol.AppendFrame(nil, h.seq, out.Result())
	h.seq = protocol.NextSequence(h.seq)
	return block
}

// exec sends one block and returns the non-ACK replies. Exactly one ACK
// carrying the next sequence must follow them.
func (h *hostLink) exec(calls ...call) []reply {
	h.t.Helper()
	h.fw.Feed(h.frame(calls...))
	replies, acks := h.decode(h.fw.Output())
	test.That(h.t, acks, test.ShouldResemble, []uint8{h.seq})
	return replies
}

func (h *hostLink) do(name string, args ...uint32) []reply {
	h.t.Helper()
	return h.exec(call{name, args})
}

func (h *hostLink) decode(out []byte) (replies []reply, acks []uint8) {
	h.t.Helper()
	for len(out) > 0 {
		n := int(out[protocol.MessagePositionLen])
		test.That(h.t, n, test.ShouldBeGreaterThanOrEqualTo, protocol.MessageLengthMin)
		test.That(h.t, len(out), test.ShouldBeGreaterThanOrEqualTo, n)
		test.That(h.t, out[n-1], test.ShouldEqual, byte(protocol.MessageValueSync))
		crc := protocol.CRC16(out[:n-protocol.MessageTrailerSize])
		test.That(h.t, uint16(out[n-3])<<8|uint16(out[n-2]), test.ShouldEqual, crc)

		seq := out[protocol.MessagePositionSeq]
		payload := out[protocol.MessageHeaderSize : n-protocol.MessageTrailerSize]
		out = out[n:]
		if len(payload) == 0 {
			acks = append(acks, seq)
			continue
		}
		id, err := protocol.DecodeVLQUint(&payload)
		test.That(h.t, err, test.ShouldBeNil)
		cmd, ok := h.fw.Registry().GetCommand(uint16(id))
		test.That(h.t, ok, test.ShouldBeTrue)
		replies = append(replies, reply{seq: seq, name: cmd.Name, data: payload})
	}
	return replies, acks
}

func (h *hostLink) expect(replies []reply, name string, args ...uint32) {
	h.t.Helper()
	test.That(h.t, replies, test.ShouldHaveLength, 1)
	test.That(h.t, replies[0].name, test.ShouldEqual, name)
	test.That(h.t, replies[0].uints(h.t), test.ShouldResemble, args)
}

func TestFirmwareBootstrapIDs(t *testing.T) {
	fw := NewFirmware(NewDevice(chip.NewSim(), chip.APT32F102))
	cmd, ok := fw.Registry().GetCommandByName("identify_response")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cmd.ID, test.ShouldEqual, uint16(0))
	cmd, ok = fw.Registry().GetCommandByName("identify")
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, cmd.ID, test.ShouldEqual, uint16(1))
}

func TestFirmwareIdentify(t *testing.T) {
	h := newHostLink(t, chip.APT32F1023)

	var dict []byte
	for {
		replies := h.do("identify", uint32(len(dict)), 200)
		test.That(t, replies, test.ShouldHaveLength, 1)
		test.That(t, replies[0].name, test.ShouldEqual, "identify_response")

		data := replies[0].data
		offset, err := protocol.DecodeVLQUint(&data)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, offset, test.ShouldEqual, uint32(len(dict)))
		chunk, err := protocol.DecodeVLQBytes(&data)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(chunk), test.ShouldBeLessThanOrEqualTo, maxIdentifyChunk)
		if len(chunk) == 0 {
			break
		}
		dict = append(dict, chunk...)
	}
	test.That(t, dict, test.ShouldResemble, h.fw.Dictionary().Compressed())

	r, err := zlib.NewReader(bytes.NewReader(dict))
	test.That(t, err, test.ShouldBeNil)
	dict, err = io.ReadAll(r)
	test.That(t, err, test.ShouldBeNil)

	var parsed struct {
		Config       map[string]string         `json:"config"`
		Commands     map[string]int            `json:"commands"`
		Enumerations map[string]map[string]int `json:"enumerations"`
	}
	test.That(t, json.Unmarshal(dict, &parsed), test.ShouldBeNil)
	test.That(t, parsed.Config["MCU"], test.ShouldEqual, "apt32f1023")
	test.That(t, parsed.Config["INPUT_MODE"], test.ShouldEqual, "true")
	test.That(t, parsed.Commands["pin_set_mux pin=%c func=%c"], test.ShouldBeGreaterThan, 1)
	test.That(t, parsed.Enumerations["pin"]["PB15"], test.ShouldEqual, 31)
	test.That(t, parsed.Enumerations["pin_func"]["iomap"], test.ShouldEqual, 10)
}

func TestFirmwareGetConfig(t *testing.T) {
	h := newHostLink(t, chip.APT32F1022)
	h.expect(h.do("get_config"), "config", uint32(chip.APT32F1022), uint32(NumPins))
}

func TestFirmwarePinCommands(t *testing.T) {
	h := newHostLink(t, chip.APT32F1023)
	dev := h.fw.Device()

	h.expect(h.do("pin_set_mux", uint32(PA3), uint32(FuncOutput)), "pin_status", uint32(PA3), 1)
	test.That(t, dev.Mux(PA3), test.ShouldEqual, FuncOutput)
	h.expect(h.do("pin_get_mux", uint32(PA3)), "pin_mux", uint32(PA3), uint32(FuncOutput))

	h.expect(h.do("pin_set_pull", uint32(PB6), uint32(PullDown)), "pin_status", uint32(PB6), 1)
	h.expect(h.do("pin_get_pull", uint32(PB6)), "pin_pull", uint32(PB6), uint32(PullDown))

	h.expect(h.do("pin_set_speed", uint32(PA2), uint32(SpeedFast)), "pin_status", uint32(PA2), 1)
	h.expect(h.do("pin_set_drive", uint32(PA2), uint32(DriveStrong)), "pin_status", uint32(PA2), 1)
	test.That(t, h.sim.Load(chip.GPIOA0Base+chip.GPIODSCR), test.ShouldEqual, uint32(3)<<4)

	h.expect(h.do("pin_set_input_mode", uint32(PA1), uint32(InputTTL1)), "pin_status", uint32(PA1), 1)
	h.expect(h.do("pin_set_output_mode", uint32(PB0), uint32(OutputOpenDrain)), "pin_status", uint32(PB0), 1)
	test.That(t, h.sim.Load(chip.GPIOB0Base+chip.GPIOOMCR), test.ShouldEqual, uint32(1))

	h.expect(h.do("pin_get_num", uint32(PB13)), "pin_num", uint32(PB13), 13)
}

func TestFirmwareOutputAndRead(t *testing.T) {
	h := newHostLink(t, chip.APT32F102)

	h.expect(h.do("pin_set_high", uint32(PB5)), "pin_status", uint32(PB5), 1)
	h.expect(h.do("pin_read", uint32(PB5)), "pin_state", uint32(PB5), 0, 1)

	h.sim.Poke(chip.GPIOB0Base+chip.GPIOPSDR, 1<<5)
	h.expect(h.do("pin_toggle", uint32(PB5)), "pin_status", uint32(PB5), 1)
	h.expect(h.do("pin_read", uint32(PB5)), "pin_state", uint32(PB5), 1, 0)

	h.expect(h.do("pin_set_low", uint32(PB5)), "pin_status", uint32(PB5), 1)
	test.That(t, h.fw.Device().Level(PB5), test.ShouldBeFalse)
}

func TestFirmwareRejects(t *testing.T) {
	cases := []struct {
		name string
		args []uint32
		pin  uint32
	}{
		{"pin_set_mux", []uint32{40, 2}, 40},
		{"pin_set_mux", []uint32{uint32(PA0), 16}, uint32(PA0)},
		{"pin_set_mux", []uint32{uint32(PA0), 0x102}, uint32(PA0)},
		{"pin_set_pull", []uint32{uint32(PA0), 3}, uint32(PA0)},
		{"pin_set_speed", []uint32{uint32(PA0), 2}, uint32(PA0)},
		{"pin_set_drive", []uint32{uint32(PA0), 1}, uint32(PA0)},
		{"pin_set_input_mode", []uint32{uint32(PA0), 1}, uint32(PA0)},
		{"pin_set_output_mode", []uint32{uint32(PA0), 2}, uint32(PA0)},
		{"pin_toggle", []uint32{32}, 32},
		{"pin_irq_mode", []uint32{uint32(PA0), 20, 0}, uint32(PA0)},
		{"pin_irq_mode", []uint32{uint32(PA0), 1, 3}, uint32(PA0)},
		{"pin_irq_enable", []uint32{uint32(PA0), 20, 1}, uint32(PA0)},
		{"pin_read", []uint32{255}, 255},
		{"exi_set_evtrg", []uint32{5, 3, 0}, statusNoPin},
		{"exi_set_evtrg", []uint32{0, 0x100, 0}, statusNoPin},
		{"exi_poll", []uint32{20, 0}, statusNoPin},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHostLink(t, chip.APT32F102)
			before := h.sim.Snapshot()
			h.expect(h.exec(call{tc.name, tc.args}), "pin_status", tc.pin, 0)
			test.That(t, h.sim.Diff(before), test.ShouldBeEmpty)
		})
	}
}

func TestFirmwareInterrupts(t *testing.T) {
	h := newHostLink(t, chip.APT32F102)
	vic := chip.VIC{Regs: h.sim}

	h.expect(h.do("pin_irq_mode", uint32(PB2), 18, uint32(EdgeBoth)), "pin_status", uint32(PB2), 1)
	test.That(t, h.sim.Load(chip.GPIOGrpBase+chip.GrpIGREX), test.ShouldEqual, uint32(2)<<8)

	h.expect(h.do("pin_irq_enable", uint32(PB2), 18, 1), "pin_status", uint32(PB2), 1)
	test.That(t, vic.Enabled(chip.EXI2IRQ), test.ShouldBeTrue)

	h.sim.Poke(chip.SysconBase+chip.SysEXIRS, 1<<18)
	h.expect(h.do("exi_poll", 18, 0), "exi_state", 18, 1)
	h.expect(h.do("exi_poll", 18, 1), "exi_state", 18, 1)
	h.expect(h.do("exi_poll", 18, 1), "exi_state", 18, 0)

	h.expect(h.do("pin_irq_enable", uint32(PB2), 18, 0), "pin_status", uint32(PB2), 1)
	test.That(t, vic.Enabled(chip.EXI2IRQ), test.ShouldBeFalse)
}

func TestFirmwareEventTrigger(t *testing.T) {
	h := newHostLink(t, chip.APT32F102)
	h.expect(h.do("exi_set_evtrg", 4, 17, 3), "pin_status", statusNoPin, 1)
	test.That(t, (h.sim.Load(chip.SysconBase+chip.SysEVPS)>>16)&0xF, test.ShouldEqual, uint32(2))
}

func TestFirmwareSeveralCommandsPerBlock(t *testing.T) {
	h := newHostLink(t, chip.APT32F102)
	replies := h.exec(
		call{"pin_set_mux", []uint32{uint32(PA4), uint32(FuncAF3)}},
		call{"pin_get_num", []uint32{uint32(PA4)}},
	)
	test.That(t, replies, test.ShouldHaveLength, 2)
	test.That(t, replies[0].name, test.ShouldEqual, "pin_status")
	test.That(t, replies[1].name, test.ShouldEqual, "pin_num")
	test.That(t, replies[1].uints(t), test.ShouldResemble, []uint32{uint32(PA4), 4})
}

func TestFirmwareRetransmitRunsOnce(t *testing.T) {
	h := newHostLink(t, chip.APT32F102)
	// A repeated first block reads as a host restart, so start one later.
	h.do("get_config")
	block := h.frame(call{"pin_toggle", []uint32{uint32(PA6)}})

	h.fw.Feed(block)
	replies, acks := h.decode(h.fw.Output())
	test.That(t, replies, test.ShouldHaveLength, 1)
	test.That(t, acks, test.ShouldResemble, []uint8{h.seq})

	h.fw.Feed(block)
	replies, acks = h.decode(h.fw.Output())
	test.That(t, replies, test.ShouldBeEmpty)
	test.That(t, acks, test.ShouldResemble, []uint8{h.seq})
	test.That(t, h.fw.Device().Level(PA6), test.ShouldBeTrue)
}

func TestFirmwareRestartKeepsQueuedAcks(t *testing.T) {
	var logged []string
	SetDebugWriter(func(msg string) { logged = append(logged, msg) })
	SetDebugEnabled(true)
	defer func() {
		SetDebugEnabled(false)
		SetDebugWriter(nil)
	}()

	h := newHostLink(t, chip.APT32F102)
	h.do("get_config")

	// One chunk holding a block of the old session and the first block of a
	// restarted one.
	chunk := h.frame(call{"pin_toggle", []uint32{uint32(PA6)}})
	old := h.seq
	h.seq = protocol.MessageDest
	chunk = append(chunk, h.frame(call{"get_config", nil})...)

	h.fw.Feed(chunk)
	replies, acks := h.decode(h.fw.Output())
	test.That(t, acks, test.ShouldResemble, []uint8{old, h.seq})
	test.That(t, replies, test.ShouldHaveLength, 2)
	test.That(t, replies[1].name, test.ShouldEqual, "config")
	test.That(t, replies[1].seq, test.ShouldEqual, h.seq)
	test.That(t, h.fw.Device().Level(PA6), test.ShouldBeTrue)
	test.That(t, logged, test.ShouldResemble, []string{"host restarted"})
}

func TestFirmwareFeedBytewise(t *testing.T) {
	h := newHostLink(t, chip.APT32F102)
	block := h.frame(call{"pin_set_high", []uint32{uint32(PA9)}})
	for _, b := range block {
		h.fw.Feed([]byte{b})
	}
	replies, acks := h.decode(h.fw.Output())
	h.expect(replies, "pin_status", uint32(PA9), 1)
	test.That(t, acks, test.ShouldHaveLength, 1)
}

func TestFirmwareServe(t *testing.T) {
	h := newHostLink(t, chip.APT32F102)
	var in []byte
	in = append(in, h.frame(call{"pin_set_mux", []uint32{uint32(PB8), uint32(FuncInput)}})...)
	in = append(in, h.frame(call{"pin_get_mux", []uint32{uint32(PB8)}})...)

	var out bytes.Buffer
	rw := struct {
		io.Reader
		io.Writer
	}{bytes.NewReader(in), &out}
	test.That(t, h.fw.Serve(rw), test.ShouldBeNil)

	replies, acks := h.decode(out.Bytes())
	test.That(t, acks, test.ShouldHaveLength, 2)
	test.That(t, replies, test.ShouldHaveLength, 2)
	test.That(t, replies[1].name, test.ShouldEqual, "pin_mux")
	test.That(t, replies[1].uints(t), test.ShouldResemble, []uint32{uint32(PB8), uint32(FuncInput)})
	test.That(t, h.fw.Output(), test.ShouldBeEmpty)
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestFirmwareServeWriteError(t *testing.T) {
	h := newHostLink(t, chip.APT32F102)
	rw := struct {
		io.Reader
		io.Writer
	}{bytes.NewReader(h.frame(call{"get_config", nil})), failingWriter{}}
	err := h.fw.Serve(rw)
	test.That(t, err, test.ShouldWrap, io.ErrClosedPipe)
}
