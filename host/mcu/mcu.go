// Package mcu is the host-side client of the pin firmware. It downloads the
// data dictionary, resolves command IDs from it and exposes the pin driver
// operations as typed calls.
package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"aptpin/chip"
	"aptpin/core"
	"aptpin/host/serial"
	"aptpin/protocol"
)

// Bootstrap IDs, fixed before any dictionary is known.
const (
	identifyResponseID = 0
	identifyID         = 1
)

const (
	identifyChunk   = 40
	maxIdentifyReqs = 1000
	DefaultTimeout  = time.Second
)

var (
	// ErrRejected is returned when the firmware answers ok=0. It wraps
	// core.ErrPin so callers can treat local and remote failures alike.
	ErrRejected = fmt.Errorf("firmware %w", core.ErrPin)

	ErrUnknownCommand = errors.New("command not in dictionary")
	ErrBadResponse    = errors.New("malformed response")
)

// Dictionary is the parsed data dictionary.
type Dictionary struct {
	Version      string                    `json:"version"`
	Config       map[string]string         `json:"config"`
	Commands     map[string]int            `json:"commands"`
	Responses    map[string]int            `json:"responses"`
	Enumerations map[string]map[string]int `json:"enumerations,omitempty"`
}

// MCU is a connection to one pin firmware instance. Calls are serialized.
type MCU struct {
	transport *protocol.HostTransport
	logger    *zap.Logger
	timeout   time.Duration

	mu        sync.Mutex
	dict      *Dictionary
	raw       []byte
	commands  map[string]uint16 // name -> ID
	responses map[uint16]string // ID -> name
}

// Connect opens device with the default serial settings.
func Connect(device string, logger *zap.Logger) (*MCU, error) {
	return ConnectWithConfig(serial.DefaultConfig(device), logger)
}

func ConnectWithConfig(cfg *serial.Config, logger *zap.Logger) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	return ConnectPort(port, logger)
}

// ConnectPort starts a session over port and downloads the dictionary. The
// port is closed if the handshake fails.
func ConnectPort(port io.ReadWriteCloser, logger *zap.Logger) (*MCU, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &MCU{
		transport: protocol.NewHostTransport(port, logger.Named("transport")),
		logger:    logger,
		timeout:   DefaultTimeout,
	}
	if err := m.retrieveDictionary(); err != nil {
		m.transport.Close()
		return nil, err
	}
	return m, nil
}

// SetTimeout bounds how long each call waits for its response.
func (m *MCU) SetTimeout(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeout = d
}

func (m *MCU) Close() error {
	return m.transport.Close()
}

func (m *MCU) retrieveDictionary() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var buf bytes.Buffer
	for i := 0; i < maxIdentifyReqs; i++ {
		chunk, err := m.identify(uint32(buf.Len()), identifyChunk)
		if err != nil {
			return fmt.Errorf("dictionary at offset %d: %w", buf.Len(), err)
		}
		buf.Write(chunk)
		if len(chunk) < identifyChunk {
			break
		}
	}
	wire := buf.Len()
	r, err := zlib.NewReader(&buf)
	if err != nil {
		return fmt.Errorf("dictionary: %w", err)
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("inflate dictionary: %w", err)
	}
	m.logger.Info("dictionary retrieved",
		zap.Int("bytes", len(raw)),
		zap.Int("wire_bytes", wire),
	)

	dict := &Dictionary{}
	if err := json.Unmarshal(raw, dict); err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}
	m.raw = raw
	m.dict = dict
	m.commands = make(map[string]uint16, len(dict.Commands))
	for sig, id := range dict.Commands {
		m.commands[signatureName(sig)] = uint16(id)
	}
	m.responses = make(map[uint16]string, len(dict.Responses))
	for sig, id := range dict.Responses {
		m.responses[uint16(id)] = signatureName(sig)
	}
	return nil
}

// signatureName strips the argument format from a dictionary key.
func signatureName(sig string) string {
	if i := strings.IndexByte(sig, ' '); i >= 0 {
		return sig[:i]
	}
	return sig
}

func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(identifyID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, uint32(count))
	})
	if err != nil {
		return nil, err
	}
	for {
		msg, err := m.transport.ReceiveResponse(m.timeout)
		if err != nil {
			return nil, err
		}
		payload := msg.Payload
		var id, got uint32
		if err := protocol.DecodeArgs(&payload, &id, &got); err != nil {
			return nil, fmt.Errorf("identify_response: %w", ErrBadResponse)
		}
		if id != identifyResponseID || got != offset {
			m.logger.Debug("skipping response", zap.Uint32("cmd", id), zap.Uint32("offset", got))
			continue
		}
		data, err := protocol.DecodeVLQBytes(&payload)
		if err != nil {
			return nil, fmt.Errorf("identify_response: %w", ErrBadResponse)
		}
		return data, nil
	}
}

// Dictionary returns the parsed dictionary.
func (m *MCU) Dictionary() *Dictionary {
	return m.dict
}

// DictionaryRaw returns the dictionary as downloaded.
func (m *MCU) DictionaryRaw() []byte {
	return m.raw
}

// Constant returns a config constant of the dictionary.
func (m *MCU) Constant(name string) (string, bool) {
	v, ok := m.dict.Config[name]
	return v, ok
}

// Enum looks up a value of a dictionary enumeration.
func (m *MCU) Enum(enum, name string) (uint32, bool) {
	v, ok := m.dict.Enumerations[enum][name]
	return uint32(v), ok
}

// call sends command name and, when expect is non-empty, waits for the first
// response named in expect and returns its arguments. Other responses are
// dropped.
func (m *MCU) call(name string, args []uint32, expect ...string) (string, []uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.commands[name]
	if !ok {
		return "", nil, fmt.Errorf("%s: %w", name, ErrUnknownCommand)
	}
	err := m.transport.SendCommand(id, func(out protocol.OutputBuffer) {
		for _, a := range args {
			protocol.EncodeVLQUint(out, a)
		}
	})
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", name, err)
	}
	if len(expect) == 0 {
		return "", nil, nil
	}

	for {
		msg, err := m.transport.ReceiveResponse(m.timeout)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", name, err)
		}
		payload := msg.Payload
		respID, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", name, ErrBadResponse)
		}
		resp := m.responses[uint16(respID)]
		if !contains(expect, resp) {
			m.logger.Debug("skipping response", zap.String("name", resp), zap.String("waiting", name))
			continue
		}
		var vals []uint32
		for len(payload) > 0 {
			v, err := protocol.DecodeVLQUint(&payload)
			if err != nil {
				return "", nil, fmt.Errorf("%s: %w", resp, ErrBadResponse)
			}
			vals = append(vals, v)
		}
		return resp, vals, nil
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// status interprets a pin_status reply to command name.
func status(name string, subject uint32, vals []uint32) error {
	if len(vals) != 2 || vals[0] != subject {
		return fmt.Errorf("%s: %w", name, ErrBadResponse)
	}
	if vals[1] == 0 {
		return fmt.Errorf("%s %d: %w", name, subject, ErrRejected)
	}
	return nil
}

func (m *MCU) pinCommand(name string, p core.Pin, args ...uint32) error {
	_, vals, err := m.call(name, append([]uint32{uint32(p)}, args...), "pin_status")
	if err != nil {
		return err
	}
	if err := status(name, uint32(p), vals); err != nil {
		return fmt.Errorf("%v: %w", p, err)
	}
	return nil
}

// pinQuery sends a pin query and returns the reply's arguments after the pin.
func (m *MCU) pinQuery(name string, p core.Pin, response string, nvals int) ([]uint32, error) {
	resp, vals, err := m.call(name, []uint32{uint32(p)}, response, "pin_status")
	if err != nil {
		return nil, err
	}
	if resp == "pin_status" {
		if err := status(name, uint32(p), vals); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", name, ErrBadResponse)
	}
	if len(vals) != 1+nvals || vals[0] != uint32(p) {
		return nil, fmt.Errorf("%s: %w", response, ErrBadResponse)
	}
	return vals[1:], nil
}

// Config returns the chip variant and pin count reported by the firmware.
func (m *MCU) Config() (chip.Variant, int, error) {
	_, vals, err := m.call("get_config", nil, "config")
	if err != nil {
		return 0, 0, err
	}
	if len(vals) != 2 {
		return 0, 0, fmt.Errorf("config: %w", ErrBadResponse)
	}
	return chip.Variant(vals[0]), int(vals[1]), nil
}

func (m *MCU) SetMux(p core.Pin, f core.Func) error {
	return m.pinCommand("pin_set_mux", p, uint32(f))
}

func (m *MCU) Mux(p core.Pin) (core.Func, error) {
	vals, err := m.pinQuery("pin_get_mux", p, "pin_mux", 1)
	if err != nil {
		return 0, err
	}
	return core.Func(vals[0]), nil
}

func (m *MCU) SetPullMode(p core.Pin, mode core.PullMode) error {
	return m.pinCommand("pin_set_pull", p, uint32(mode))
}

func (m *MCU) PullMode(p core.Pin) (core.PullMode, error) {
	vals, err := m.pinQuery("pin_get_pull", p, "pin_pull", 1)
	if err != nil {
		return 0, err
	}
	return core.PullMode(vals[0]), nil
}

func (m *MCU) SetSpeed(p core.Pin, s core.Speed) error {
	return m.pinCommand("pin_set_speed", p, uint32(s))
}

func (m *MCU) SetDrive(p core.Pin, d core.Drive) error {
	return m.pinCommand("pin_set_drive", p, uint32(d))
}

func (m *MCU) SetInputMode(p core.Pin, mode core.InputMode) error {
	return m.pinCommand("pin_set_input_mode", p, uint32(mode))
}

func (m *MCU) SetOutputMode(p core.Pin, mode core.OutputMode) error {
	return m.pinCommand("pin_set_output_mode", p, uint32(mode))
}

// PinNumber asks the firmware for the in-bank index of p.
func (m *MCU) PinNumber(p core.Pin) (uint8, error) {
	vals, err := m.pinQuery("pin_get_num", p, "pin_num", 1)
	if err != nil {
		return 0, err
	}
	return uint8(vals[0]), nil
}

// State returns the input level and output latch of p.
func (m *MCU) State(p core.Pin) (value, level bool, err error) {
	vals, err := m.pinQuery("pin_read", p, "pin_state", 2)
	if err != nil {
		return false, false, err
	}
	return vals[0] != 0, vals[1] != 0, nil
}

// Read returns the input level of p.
func (m *MCU) Read(p core.Pin) (bool, error) {
	v, _, err := m.State(p)
	return v, err
}

func (m *MCU) Toggle(p core.Pin) error {
	return m.pinCommand("pin_toggle", p)
}

func (m *MCU) SetHigh(p core.Pin) error {
	return m.pinCommand("pin_set_high", p)
}

func (m *MCU) SetLow(p core.Pin) error {
	return m.pinCommand("pin_set_low", p)
}

func (m *MCU) SetIRQMode(p core.Pin, g core.Group, e core.Edge) error {
	return m.pinCommand("pin_irq_mode", p, uint32(g), uint32(e))
}

func (m *MCU) EnableIRQ(p core.Pin, g core.Group, enable bool) error {
	var on uint32
	if enable {
		on = 1
	}
	return m.pinCommand("pin_irq_enable", p, uint32(g), on)
}

// IRQPending reports whether group g has a latched trigger. With clearLatch
// set a latched trigger is also cleared.
func (m *MCU) IRQPending(g core.Group, clearLatch bool) (bool, error) {
	var clr uint32
	if clearLatch {
		clr = 1
	}
	resp, vals, err := m.call("exi_poll", []uint32{uint32(g), clr}, "exi_state", "pin_status")
	if err != nil {
		return false, err
	}
	if resp == "pin_status" {
		return false, fmt.Errorf("exi_poll group %d: %w", g, ErrRejected)
	}
	if len(vals) != 2 || vals[0] != uint32(g) {
		return false, fmt.Errorf("exi_state: %w", ErrBadResponse)
	}
	return vals[1] != 0, nil
}

func (m *MCU) SetEventTrigger(ch uint8, src core.Group, period uint8) error {
	_, vals, err := m.call("exi_set_evtrg", []uint32{uint32(ch), uint32(src), uint32(period)}, "pin_status")
	if err != nil {
		return err
	}
	if err := status("exi_set_evtrg", 0xFF, vals); err != nil {
		return fmt.Errorf("channel %d source %d: %w", ch, src, err)
	}
	return nil
}
