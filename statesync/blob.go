// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package statesync

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/agentmirror/agentmirror/lib/codec"
	"github.com/agentmirror/agentmirror/lib/secret"
	"github.com/agentmirror/agentmirror/seal"
)

// State blobs are deterministic CBOR, zstd-compressed, sealed with the
// session data key, and base64-wrapped for the relay's JSON envelope
// fields. Agent transcripts compress heavily, and compressing before
// encryption is the only order that compresses at all.

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil)
	if err != nil {
		panic("statesync: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("statesync: zstd decoder initialization failed: " + err.Error())
	}
}

// encodeBlob seals v into a string envelope under key.
func encodeBlob(key *secret.Buffer, v any) (string, error) {
	plaintext, err := codec.Marshal(v)
	if err != nil {
		return "", err
	}
	compressed := zstdEncoder.EncodeAll(plaintext, nil)
	envelope, err := seal.Encrypt(key, seal.VariantAESGCM, compressed)
	if err != nil {
		return "", err
	}
	return seal.EncodeEnvelope(seal.VariantAESGCM, envelope), nil
}

// decodeBlob opens a string envelope into v. The envelope's variant
// marker selects the scheme; unmarked blobs from older installs are
// legacy secretbox.
func decodeBlob(key *secret.Buffer, blob string, v any) error {
	variant, envelope, err := seal.DecodeEnvelope(blob)
	if err != nil {
		return fmt.Errorf("statesync: decoding blob: %w", err)
	}
	compressed, err := seal.Decrypt(key, variant, envelope)
	if err != nil {
		return err
	}
	plaintext, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return fmt.Errorf("statesync: decompressing blob: %w", err)
	}
	return codec.Unmarshal(plaintext, v)
}

// deriveLabel roots every key derived from the machine key.
const deriveLabel = "Agentmirror"

// sessionWrapKey derives the key that wraps session data keys. The
// raw machine credential never encrypts relay-visible data directly.
func sessionWrapKey(machineKey *secret.Buffer) (*secret.Buffer, error) {
	return seal.DeriveKey(machineKey, deriveLabel, []string{"session", "wrap"})
}

// wrapDataKey seals the session data key under a key derived from the
// machine key, so any device holding the account credentials can
// unwrap it.
func wrapDataKey(machineKey, dataKey *secret.Buffer) (string, error) {
	wrapKey, err := sessionWrapKey(machineKey)
	if err != nil {
		return "", err
	}
	defer wrapKey.Close()
	envelope, err := seal.Encrypt(wrapKey, seal.VariantAESGCM, dataKey.Bytes())
	if err != nil {
		return "", err
	}
	return seal.EncodeEnvelope(seal.VariantAESGCM, envelope), nil
}

// unwrapDataKey opens a wrapped session data key.
func unwrapDataKey(machineKey *secret.Buffer, wrapped string) (*secret.Buffer, error) {
	variant, envelope, err := seal.DecodeEnvelope(wrapped)
	if err != nil {
		return nil, fmt.Errorf("statesync: decoding data key envelope: %w", err)
	}
	wrapKey, err := sessionWrapKey(machineKey)
	if err != nil {
		return nil, err
	}
	defer wrapKey.Close()
	keyBytes, err := seal.Decrypt(wrapKey, variant, envelope)
	if err != nil {
		return nil, err
	}
	return secret.NewFromBytes(keyBytes)
}
