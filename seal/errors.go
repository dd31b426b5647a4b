// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import "fmt"

// IntegrityError reports an authentication-tag mismatch during
// decryption. It is fatal to the decrypt call: the ciphertext was
// corrupted or forged, and no partial plaintext is ever returned.
type IntegrityError struct {
	// Scheme names the algorithm that rejected the envelope
	// ("secretbox", "aes-gcm", "box").
	Scheme string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("seal: %s authentication failed", e.Scheme)
}

// FormatError reports a structurally invalid input: an envelope too
// short for its variant, an unknown version byte, or a malformed
// backup phrase.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "seal: " + e.Reason
}

// ChecksumError reports a backup phrase whose checksum block does not
// match its payload. The phrase was mistyped or corrupted.
type ChecksumError struct{}

func (e *ChecksumError) Error() string {
	return "seal: backup phrase checksum mismatch"
}
