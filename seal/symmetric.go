// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"

	"github.com/agentmirror/agentmirror/lib/secret"
)

// Variant selects the symmetric scheme protecting an envelope. The
// variant fully determines the wire layout and decryption algorithm;
// an envelope is never decrypted under a variant other than the one it
// was produced with.
type Variant byte

const (
	// VariantSecretbox is the legacy scheme: XSalsa20-Poly1305 with a
	// 24-byte random nonce prepended to the sealed box. Kept for
	// decrypting data persisted by older installs; new data never
	// uses it.
	VariantSecretbox Variant = iota

	// VariantAESGCM is the preferred scheme: a one-byte format
	// version, a 12-byte random nonce, then AES-256-GCM ciphertext
	// with its 16-byte tag.
	VariantAESGCM
)

const (
	secretboxNonceSize = 24
	secretboxOverhead  = secretbox.Overhead

	aesgcmVersion   = 0x01
	aesgcmNonceSize = 12
	aesgcmTagSize   = 16
)

func (v Variant) String() string {
	switch v {
	case VariantSecretbox:
		return "secretbox"
	case VariantAESGCM:
		return "aes-gcm"
	default:
		return fmt.Sprintf("variant(%d)", byte(v))
	}
}

// Encrypt seals plaintext under a 32-byte key with the given variant
// and returns a self-describing envelope. A fresh random nonce is
// drawn per call.
func Encrypt(key *secret.Buffer, variant Variant, plaintext []byte) ([]byte, error) {
	if key.Len() != SeedSize {
		return nil, fmt.Errorf("seal: key must be %d bytes, got %d", SeedSize, key.Len())
	}

	switch variant {
	case VariantSecretbox:
		var boxKey [SeedSize]byte
		copy(boxKey[:], key.Bytes())
		defer zero(boxKey[:])

		var nonce [secretboxNonceSize]byte
		if _, err := rand.Read(nonce[:]); err != nil {
			return nil, fmt.Errorf("seal: reading nonce: %w", err)
		}
		return secretbox.Seal(nonce[:], plaintext, &nonce, &boxKey), nil

	case VariantAESGCM:
		aead, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		envelope := make([]byte, 1+aesgcmNonceSize, 1+aesgcmNonceSize+len(plaintext)+aesgcmTagSize)
		envelope[0] = aesgcmVersion
		nonce := envelope[1 : 1+aesgcmNonceSize]
		if _, err := rand.Read(nonce); err != nil {
			return nil, fmt.Errorf("seal: reading nonce: %w", err)
		}
		return aead.Seal(envelope, nonce, plaintext, nil), nil

	default:
		return nil, &FormatError{Reason: fmt.Sprintf("unknown variant %d", byte(variant))}
	}
}

// Decrypt opens an envelope produced by Encrypt with the same variant
// and key. A tag mismatch returns *IntegrityError; a structurally
// invalid envelope (too short, unknown version byte, wrong variant)
// returns *FormatError.
func Decrypt(key *secret.Buffer, variant Variant, envelope []byte) ([]byte, error) {
	if key.Len() != SeedSize {
		return nil, fmt.Errorf("seal: key must be %d bytes, got %d", SeedSize, key.Len())
	}

	switch variant {
	case VariantSecretbox:
		if len(envelope) < secretboxNonceSize+secretboxOverhead {
			return nil, &FormatError{Reason: "secretbox envelope too short"}
		}
		var boxKey [SeedSize]byte
		copy(boxKey[:], key.Bytes())
		defer zero(boxKey[:])

		var nonce [secretboxNonceSize]byte
		copy(nonce[:], envelope[:secretboxNonceSize])
		plaintext, ok := secretbox.Open(nil, envelope[secretboxNonceSize:], &nonce, &boxKey)
		if !ok {
			return nil, &IntegrityError{Scheme: "secretbox"}
		}
		return plaintext, nil

	case VariantAESGCM:
		if len(envelope) < 1+aesgcmNonceSize+aesgcmTagSize {
			return nil, &FormatError{Reason: "aes-gcm envelope too short"}
		}
		if envelope[0] != aesgcmVersion {
			return nil, &FormatError{Reason: fmt.Sprintf("unknown aes-gcm format version %d", envelope[0])}
		}
		aead, err := newGCM(key)
		if err != nil {
			return nil, err
		}
		nonce := envelope[1 : 1+aesgcmNonceSize]
		plaintext, err := aead.Open(nil, nonce, envelope[1+aesgcmNonceSize:], nil)
		if err != nil {
			return nil, &IntegrityError{Scheme: "aes-gcm"}
		}
		return plaintext, nil

	default:
		return nil, &FormatError{Reason: fmt.Sprintf("unknown variant %d", byte(variant))}
	}
}

func newGCM(key *secret.Buffer) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("seal: creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("seal: creating GCM: %w", err)
	}
	return aead, nil
}
