package core

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"io"
	"testing"
)

type dictJSON struct {
	Version      string                    `json:"version"`
	Config       map[string]string         `json:"config"`
	Commands     map[string]int            `json:"commands"`
	Responses    map[string]int            `json:"responses"`
	Enumerations map[string]map[string]int `json:"enumerations"`
}

func parseDictionary(t *testing.T, data []byte) dictJSON {
	t.Helper()
	var d dictJSON
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("Dictionary is not valid JSON: %v\n%s", err, data)
	}
	return d
}

func TestDictionary(t *testing.T) {
	registry := NewCommandRegistry()
	registry.Register("get_config", "", func(data *[]byte) error { return nil })
	registry.Register("pin_set_mux", "pin=%c func=%c", func(data *[]byte) error { return nil })
	registry.RegisterResponse("pin_status", "pin=%c ok=%c")

	dict := NewDictionary(registry)
	dict.AddConstant("PIN_COUNT", 32)
	dict.AddConstant("INPUT_MODE", true)
	dict.AddConstant("MCU", "apt32f102")
	dict.AddEnumeration("edge", []string{"rising", "falling", "both"})

	d := parseDictionary(t, dict.Generate())

	if d.Version != "aptpin-0.1.0" {
		t.Errorf("Unexpected version %q", d.Version)
	}
	if d.Config["PIN_COUNT"] != "32" || d.Config["INPUT_MODE"] != "true" || d.Config["MCU"] != "apt32f102" {
		t.Errorf("Unexpected config %v", d.Config)
	}
	if d.Commands["get_config"] != 0 || d.Commands["pin_set_mux pin=%c func=%c"] != 1 {
		t.Errorf("Unexpected commands %v", d.Commands)
	}
	if id, ok := d.Responses["pin_status pin=%c ok=%c"]; !ok || id != 2 {
		t.Errorf("Unexpected responses %v", d.Responses)
	}
	if d.Enumerations["edge"]["both"] != 2 {
		t.Errorf("Unexpected enumerations %v", d.Enumerations)
	}
}

func TestDictionarySkipsEmptyLabels(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	dict.AddEnumeration("pin_func", []string{"gpd", "", "output"})

	d := parseDictionary(t, dict.Generate())
	e := d.Enumerations["pin_func"]
	if len(e) != 2 || e["gpd"] != 0 || e["output"] != 2 {
		t.Errorf("Unexpected enumeration %v", e)
	}
}

func TestDictionaryEscaping(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	dict.AddConstant("QUOTED", "a \"b\" \\ c\n")

	d := parseDictionary(t, dict.Generate())
	if d.Config["QUOTED"] != "a \"b\" \\ c\n" {
		t.Errorf("Escaping round trip gave %q", d.Config["QUOTED"])
	}
}

func TestDictionaryRebuildsAfterChange(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	dict.Build()
	first := dict.Generate()

	dict.SetVersion("test-2")
	dict.AddConstant("EXTRA", uint8(7))
	d := parseDictionary(t, dict.Generate())
	if d.Version != "test-2" || d.Config["EXTRA"] != "7" {
		t.Errorf("Dictionary not rebuilt: %s", dict.Generate())
	}
	if bytes.Equal(first, dict.Generate()) {
		t.Error("Expected dictionary contents to change")
	}
}

func TestDictionaryChunks(t *testing.T) {
	dict := NewDictionary(NewCommandRegistry())
	dict.AddEnumeration("pin", PinNames())
	full := dict.Compressed()

	var joined []byte
	for offset := uint32(0); ; {
		chunk := dict.GetChunk(offset, 40)
		if len(chunk) == 0 {
			break
		}
		if len(chunk) > 40 {
			t.Fatalf("Chunk of %d bytes", len(chunk))
		}
		joined = append(joined, chunk...)
		offset += uint32(len(chunk))
	}
	if !bytes.Equal(joined, full) {
		t.Error("Reassembled chunks differ from the dictionary")
	}
	r, err := zlib.NewReader(bytes.NewReader(joined))
	if err != nil {
		t.Fatalf("Chunks are not a zlib stream: %v", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("Inflate failed: %v", err)
	}
	if !bytes.Equal(plain, dict.Generate()) {
		t.Error("Inflated dictionary differs from the JSON")
	}

	if got := dict.GetChunk(uint32(len(full))+10, 40); len(got) != 0 {
		t.Errorf("Expected empty chunk past the end, got %d bytes", len(got))
	}

	chunk := dict.GetChunk(0, 4)
	chunk[0] = 'X'
	if dict.Compressed()[0] != 0x78 {
		t.Error("GetChunk returned an alias of the dictionary")
	}
}
