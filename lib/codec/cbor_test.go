// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type sample struct {
	Name    string         `cbor:"name"`
	Count   int            `cbor:"count"`
	Details map[string]any `cbor:"details,omitempty"`
}

func TestMarshal_Deterministic(t *testing.T) {
	v := sample{Name: "alpha", Count: 3, Details: map[string]any{"b": "2", "a": "1", "c": "3"}}

	first, err := Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(v)
		if err != nil {
			t.Fatalf("Marshal() error: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding not deterministic: %x vs %x", first, again)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	in := sample{Name: "beta", Count: -7}
	data, err := Marshal(in)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var out sample
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if out.Name != in.Name || out.Count != in.Count {
		t.Errorf("round trip = %+v, want %+v", out, in)
	}
}

func TestUnmarshal_AnyTargetUsesStringKeys(t *testing.T) {
	data, err := Marshal(map[string]any{"outer": map[string]any{"inner": 1}})
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	var out map[string]any
	if err := Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if _, ok := out["outer"].(map[string]any); !ok {
		t.Errorf("nested map decoded as %T, want map[string]any", out["outer"])
	}
}

func TestUnmarshal_Malformed(t *testing.T) {
	var out sample
	if err := Unmarshal([]byte{0xff, 0x00}, &out); err == nil {
		t.Error("Unmarshal of garbage succeeded")
	}
}
