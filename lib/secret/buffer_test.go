// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"bytes"
	"testing"
)

func TestNewFromBytes_ZerosSource(t *testing.T) {
	src := []byte("super secret material")
	want := append([]byte(nil), src...)

	buffer, err := NewFromBytes(src)
	if err != nil {
		t.Fatalf("NewFromBytes() error: %v", err)
	}
	defer buffer.Close()

	if !bytes.Equal(buffer.Bytes(), want) {
		t.Errorf("Bytes() = %q, want %q", buffer.Bytes(), want)
	}
	for i, b := range src {
		if b != 0 {
			t.Fatalf("source byte %d not zeroed: %#x", i, b)
		}
	}
}

func TestNewRandom_Distinct(t *testing.T) {
	a, err := NewRandom(32)
	if err != nil {
		t.Fatalf("NewRandom() error: %v", err)
	}
	defer a.Close()
	b, err := NewRandom(32)
	if err != nil {
		t.Fatalf("NewRandom() error: %v", err)
	}
	defer b.Close()

	if a.Equal(b.Bytes()) {
		t.Error("two random buffers have identical contents")
	}
	if a.Len() != 32 {
		t.Errorf("Len() = %d, want 32", a.Len())
	}
}

func TestClose_Idempotent(t *testing.T) {
	buffer, err := NewFromBytes([]byte("x"))
	if err != nil {
		t.Fatalf("NewFromBytes() error: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("first Close() error: %v", err)
	}
	if err := buffer.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}
}

func TestBytes_PanicsAfterClose(t *testing.T) {
	buffer, err := NewFromBytes([]byte("x"))
	if err != nil {
		t.Fatalf("NewFromBytes() error: %v", err)
	}
	buffer.Close()

	defer func() {
		if recover() == nil {
			t.Error("Bytes() after Close did not panic")
		}
	}()
	buffer.Bytes()
}

func TestNew_RejectsNonPositiveSize(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Error("New(0) succeeded, want error")
	}
	if _, err := New(-1); err == nil {
		t.Error("New(-1) succeeded, want error")
	}
}
