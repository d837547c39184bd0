package core

import (
	"sort"
	"strconv"
	"sync"

	"aptpin/tinycompress"
)

// Dictionary is the JSON data dictionary the host downloads with identify. It
// lists every command and response with its ID, plus constants and
// enumerations the host needs to encode arguments. It goes over the wire as
// a zlib stream.
type Dictionary struct {
	mu           sync.RWMutex
	registry     *CommandRegistry
	constants    map[string]string
	enumerations map[string][]string
	version      string
	cached       []byte
	compressed   []byte
}

func NewDictionary(registry *CommandRegistry) *Dictionary {
	return &Dictionary{
		registry:     registry,
		constants:    make(map[string]string),
		enumerations: make(map[string][]string),
		version:      "aptpin-0.1.0",
	}
}

// AddConstant records a constant. Values are rendered as strings.
func (d *Dictionary) AddConstant(name string, value interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.constants[name] = valueToString(value)
	d.cached, d.compressed = nil, nil
}

// AddEnumeration records names for the values 0..len(values)-1. Empty names
// are left out.
func (d *Dictionary) AddEnumeration(name string, values []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enumerations[name] = append([]string(nil), values...)
	d.cached, d.compressed = nil, nil
}

func (d *Dictionary) SetVersion(version string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.version = version
	d.cached, d.compressed = nil, nil
}

// Build renders and caches the dictionary. Call it after every command is
// registered.
func (d *Dictionary) Build() {
	commands, responses := d.registry.GetCommandsAndResponses()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cached = d.render(commands, responses)
	d.compressed = tinycompress.Compress(d.cached)
	DebugPrintln("dictionary: " + strconv.Itoa(len(d.cached)) + " bytes, " +
		strconv.Itoa(len(d.compressed)) + " on the wire")
}

// built returns the JSON and its zlib stream, building them if needed.
func (d *Dictionary) built() (plain, compressed []byte) {
	d.mu.RLock()
	plain, compressed = d.cached, d.compressed
	d.mu.RUnlock()
	if plain == nil {
		d.Build()
		d.mu.RLock()
		plain, compressed = d.cached, d.compressed
		d.mu.RUnlock()
	}
	return plain, compressed
}

// Generate returns the dictionary JSON, building it if needed.
func (d *Dictionary) Generate() []byte {
	plain, _ := d.built()
	return plain
}

// Compressed returns the zlib stream served by identify.
func (d *Dictionary) Compressed() []byte {
	_, compressed := d.built()
	return compressed
}

// GetChunk returns up to count bytes of the compressed dictionary starting
// at offset. The result is a copy.
func (d *Dictionary) GetChunk(offset uint32, count uint8) []byte {
	data := d.Compressed()
	if offset >= uint32(len(data)) {
		return []byte{}
	}
	end := offset + uint32(count)
	if end > uint32(len(data)) {
		end = uint32(len(data))
	}
	return append([]byte(nil), data[offset:end]...)
}

// render must be called with d.mu held.
func (d *Dictionary) render(commands, responses map[string]int) []byte {
	out := make([]byte, 0, 2048)
	out = append(out, `{"version":`...)
	out = appendJSONString(out, d.version)

	out = append(out, `,"config":{`...)
	for i, name := range sortedKeys(d.constants) {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, name)
		out = append(out, ':')
		out = appendJSONString(out, d.constants[name])
	}

	out = append(out, `},"commands":`...)
	out = appendIDMap(out, commands)
	out = append(out, `,"responses":`...)
	out = appendIDMap(out, responses)

	if len(d.enumerations) > 0 {
		out = append(out, `,"enumerations":{`...)
		for i, name := range sortedKeys(d.enumerations) {
			if i > 0 {
				out = append(out, ',')
			}
			out = appendJSONString(out, name)
			out = append(out, ":{"...)
			first := true
			for v, label := range d.enumerations[name] {
				if label == "" {
					continue
				}
				if !first {
					out = append(out, ',')
				}
				first = false
				out = appendJSONString(out, label)
				out = append(out, ':')
				out = strconv.AppendInt(out, int64(v), 10)
			}
			out = append(out, '}')
		}
		out = append(out, '}')
	}
	return append(out, '}')
}

// appendIDMap writes m as a JSON object ordered by ID.
func appendIDMap(out []byte, m map[string]int) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return m[keys[i]] < m[keys[j]] })

	out = append(out, '{')
	for i, k := range keys {
		if i > 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, k)
		out = append(out, ':')
		out = strconv.AppendInt(out, int64(m[k]), 10)
	}
	return append(out, '}')
}

func appendJSONString(out []byte, s string) []byte {
	out = append(out, '"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			out = append(out, '\\', c)
		case c < 0x20:
			out = append(out, `\u00`...)
			out = append(out, "0123456789abcdef"[c>>4], "0123456789abcdef"[c&0xF])
		default:
			out = append(out, c)
		}
	}
	return append(out, '"')
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func valueToString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case int:
		return strconv.Itoa(x)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case bool:
		return strconv.FormatBool(x)
	case interface{ String() string }:
		return x.String()
	default:
		return "?"
	}
}
