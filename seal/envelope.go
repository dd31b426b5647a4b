// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"encoding/base64"
	"strings"
)

// aesgcmMarker prefixes string-form AES-GCM envelopes. Legacy
// secretbox writers produced bare base64, so the marker's presence is
// what selects the scheme; ciphertext bytes never do.
const aesgcmMarker = "gcm:"

// EncodeEnvelope renders an envelope as a string for JSON transport.
// AES-GCM envelopes carry an explicit variant marker; secretbox
// envelopes are bare base64, the only form legacy writers produced.
func EncodeEnvelope(variant Variant, envelope []byte) string {
	encoded := base64.StdEncoding.EncodeToString(envelope)
	if variant == VariantAESGCM {
		return aesgcmMarker + encoded
	}
	return encoded
}

// DecodeEnvelope reverses EncodeEnvelope. An unmarked string is a
// legacy secretbox envelope unconditionally.
func DecodeEnvelope(blob string) (Variant, []byte, error) {
	variant := VariantSecretbox
	if rest, ok := strings.CutPrefix(blob, aesgcmMarker); ok {
		variant = VariantAESGCM
		blob = rest
	}
	envelope, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return 0, nil, &FormatError{Reason: "envelope is not valid base64"}
	}
	return variant, envelope, nil
}
