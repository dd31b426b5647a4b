// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestEnvelope_RoundTripCarriesVariant(t *testing.T) {
	key := newTestKey(t)

	for _, variant := range []Variant{VariantSecretbox, VariantAESGCM} {
		envelope, err := Encrypt(key, variant, []byte("payload"))
		if err != nil {
			t.Fatalf("Encrypt(%v) error: %v", variant, err)
		}
		blob := EncodeEnvelope(variant, envelope)
		gotVariant, gotEnvelope, err := DecodeEnvelope(blob)
		if err != nil {
			t.Fatalf("DecodeEnvelope(%v) error: %v", variant, err)
		}
		if gotVariant != variant {
			t.Errorf("decoded variant = %v, want %v", gotVariant, variant)
		}
		if !bytes.Equal(gotEnvelope, envelope) {
			t.Errorf("%v: envelope bytes changed in transit", variant)
		}
	}
}

func TestDecodeEnvelope_UnmarkedIsSecretbox(t *testing.T) {
	key := newTestKey(t)

	// Force a secretbox envelope whose leading nonce byte collides
	// with the AES-GCM version byte. The unmarked string form must
	// still decode as secretbox.
	var envelope []byte
	for i := 0; ; i++ {
		var err error
		envelope, err = Encrypt(key, VariantSecretbox, []byte("legacy"))
		if err != nil {
			t.Fatalf("Encrypt() error: %v", err)
		}
		if envelope[0] == aesgcmVersion {
			break
		}
		if i > 10000 {
			t.Fatal("no nonce starting with the version byte after 10000 seals")
		}
	}

	blob := EncodeEnvelope(VariantSecretbox, envelope)
	if strings.HasPrefix(blob, aesgcmMarker) {
		t.Fatalf("secretbox blob carries the aes-gcm marker: %q", blob[:8])
	}
	variant, decoded, err := DecodeEnvelope(blob)
	if err != nil {
		t.Fatalf("DecodeEnvelope() error: %v", err)
	}
	if variant != VariantSecretbox {
		t.Fatalf("variant = %v, want secretbox", variant)
	}
	plaintext, err := Decrypt(key, variant, decoded)
	if err != nil {
		t.Fatalf("Decrypt() error: %v", err)
	}
	if string(plaintext) != "legacy" {
		t.Errorf("plaintext = %q", plaintext)
	}
}

func TestDecodeEnvelope_InvalidBase64IsFormatError(t *testing.T) {
	_, _, err := DecodeEnvelope("not*base64")
	var formatErr *FormatError
	if !errors.As(err, &formatErr) {
		t.Errorf("DecodeEnvelope() = %v, want FormatError", err)
	}
}
