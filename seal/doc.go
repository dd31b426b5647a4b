// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package seal provides the cryptographic core of agentmirror: every
// byte that reaches the relay is sealed here first, so the relay only
// ever stores and forwards opaque envelopes.
//
// All functions are pure over their inputs, with no I/O and no shared
// state, and safe for concurrent use.
//
// Key exports:
//
//   - [Encrypt] / [Decrypt] -- symmetric envelopes in two variants:
//     the preferred AES-256-GCM format and the legacy
//     XSalsa20-Poly1305 secretbox format kept for old persisted data
//   - [EncodeEnvelope] / [DecodeEnvelope] -- string form for JSON
//     transport; an explicit marker carries the variant, unmarked
//     strings are legacy secretbox
//   - [EncryptToPublicKey] / [DecryptFromPublicKey] -- X25519 box
//     envelopes with a fresh ephemeral keypair per call
//   - [DeriveKey] -- hierarchical HMAC-SHA512 key derivation
//   - [Sign] / [Verify] -- deterministic Ed25519 challenge signatures
//   - [EncodeBackup] / [DecodeBackup] -- human-transcribable base-32
//     backup phrases with a BLAKE3 checksum block
//
// Decryption failures are typed: *[IntegrityError] for tag mismatches,
// *[FormatError] for malformed envelopes, *[ChecksumError] for backup
// phrases. Key material moves through lib/secret buffers.
package seal
