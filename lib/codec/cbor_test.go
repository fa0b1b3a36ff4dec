// Copyright 2026 The KBUS Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"strings"
	"testing"
)

type sampleFrame struct {
	Name  string `cbor:"name"`
	From  uint32 `cbor:"from"`
	Data  []byte `cbor:"data,omitempty"`
	Flags uint32 `cbor:"flags"`
}

func TestMarshalUnmarshalRoundtrip(t *testing.T) {
	original := sampleFrame{Name: "$.Sensors.Temp", From: 7, Data: []byte{0, 1, 0xff}, Flags: 1}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded sampleFrame
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Name != original.Name || decoded.From != original.From ||
		decoded.Flags != original.Flags || !bytes.Equal(decoded.Data, original.Data) {
		t.Errorf("roundtrip mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalDeterministic(t *testing.T) {
	// Maps are the interesting case: Go iteration order is random,
	// the encoding must not be.
	value := map[string]any{"is_bind": true, "binder": uint32(3), "name": "$.A.B"}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 20 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding changed between calls: %x vs %x", first, again)
		}
	}
}

func TestEncoderDecoderStream(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)
	for i := range 3 {
		if err := encoder.Encode(sampleFrame{Name: "$.Stream", From: uint32(i + 1)}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	decoder := NewDecoder(&buffer)
	for i := range 3 {
		var frame sampleFrame
		if err := decoder.Decode(&frame); err != nil {
			t.Fatalf("Decode #%d: %v", i, err)
		}
		if frame.From != uint32(i+1) {
			t.Errorf("frame #%d From = %d, want %d", i, frame.From, i+1)
		}
	}
}

func TestAnyTargetDecodesStringKeyedMap(t *testing.T) {
	data, err := Marshal(map[string]any{"action": "bind"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	fields, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if fields["action"] != "bind" {
		t.Errorf("action = %v, want bind", fields["action"])
	}
}

func TestUnmarshalInvalid(t *testing.T) {
	var frame sampleFrame
	if err := Unmarshal([]byte{0xff, 0x00}, &frame); err == nil {
		t.Fatal("Unmarshal accepted invalid CBOR")
	}
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleFrame{Name: "$.X", From: 2})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	text, err := Diagnose(data)
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if !strings.Contains(text, `"$.X"`) {
		t.Errorf("Diagnose() = %s, want it to contain the name", text)
	}
}
