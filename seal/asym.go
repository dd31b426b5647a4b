// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/agentmirror/agentmirror/lib/secret"
)

// KeySize is the length of X25519 public and private keys.
const KeySize = 32

// GenerateBoxKeypair generates a fresh X25519 keypair for public-key
// envelopes. The private key is returned on the stack; callers that
// hold it beyond a single exchange should move it into a
// secret.Buffer.
func GenerateBoxKeypair() (publicKey, privateKey *[KeySize]byte, err error) {
	publicKey, privateKey, err = box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("seal: generating keypair: %w", err)
	}
	return publicKey, privateKey, nil
}

// EncryptToPublicKey seals plaintext to a recipient's X25519 public
// key. A fresh ephemeral keypair is generated per call and discarded,
// so compromise of a later message never exposes an earlier one. Wire
// layout: ephemeralPublicKey(32) || nonce(24) || box ciphertext+tag.
func EncryptToPublicKey(plaintext []byte, recipientPublicKey *[KeySize]byte) ([]byte, error) {
	ephemeralPublic, ephemeralPrivate, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("seal: generating ephemeral keypair: %w", err)
	}
	defer zero(ephemeralPrivate[:])

	var nonce [secretboxNonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("seal: reading nonce: %w", err)
	}

	envelope := make([]byte, 0, KeySize+secretboxNonceSize+len(plaintext)+box.Overhead)
	envelope = append(envelope, ephemeralPublic[:]...)
	envelope = append(envelope, nonce[:]...)
	return box.Seal(envelope, plaintext, &nonce, recipientPublicKey, ephemeralPrivate), nil
}

// DecryptFromPublicKey opens an envelope produced by
// EncryptToPublicKey using the recipient's private key.
func DecryptFromPublicKey(envelope []byte, recipientPrivateKey *[KeySize]byte) ([]byte, error) {
	if len(envelope) < KeySize+secretboxNonceSize+box.Overhead {
		return nil, &FormatError{Reason: "public-key envelope too short"}
	}

	var ephemeralPublic [KeySize]byte
	copy(ephemeralPublic[:], envelope[:KeySize])
	var nonce [secretboxNonceSize]byte
	copy(nonce[:], envelope[KeySize:KeySize+secretboxNonceSize])

	plaintext, ok := box.Open(nil, envelope[KeySize+secretboxNonceSize:], &nonce, &ephemeralPublic, recipientPrivateKey)
	if !ok {
		return nil, &IntegrityError{Scheme: "box"}
	}
	return plaintext, nil
}

// SigningKeypairFromSecret derives a deterministic Ed25519 keypair
// from a 32-byte secret. The same secret always yields the same
// keypair, so a secret recovered during the auth ceremony reproduces
// the identity it was issued for.
func SigningKeypairFromSecret(s *secret.Buffer) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if s.Len() != ed25519.SeedSize {
		return nil, nil, fmt.Errorf("seal: signing secret must be %d bytes, got %d", ed25519.SeedSize, s.Len())
	}
	privateKey := ed25519.NewKeyFromSeed(s.Bytes())
	return privateKey.Public().(ed25519.PublicKey), privateKey, nil
}

// Sign signs a challenge with an Ed25519 private key. Ed25519 is
// deterministic: the same challenge and key always produce the same
// signature.
func Sign(challenge []byte, privateKey ed25519.PrivateKey) []byte {
	return ed25519.Sign(privateKey, challenge)
}

// Verify reports whether signature is a valid signature of challenge
// under publicKey.
func Verify(signature, challenge []byte, publicKey ed25519.PublicKey) bool {
	return len(publicKey) == ed25519.PublicKeySize && ed25519.Verify(publicKey, challenge, signature)
}
