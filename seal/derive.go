// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

package seal

import (
	"crypto/hmac"
	"crypto/sha512"
	"fmt"

	"github.com/agentmirror/agentmirror/lib/secret"
)

// SeedSize is the length of master seeds and all derived keys.
const SeedSize = 32

// DeriveKey derives a 32-byte key from a master seed along a labeled
// hierarchical path. The derivation is the HMAC-SHA512 chain used by
// hierarchical wallets:
//
//	I = HMAC-SHA512(key = usageLabel + " Master Seed", data = seed)
//	(key, chain) = I[:32], I[32:]
//	for each path segment:
//	    I = HMAC-SHA512(key = chain, data = 0x00 || segment)
//	    (key, chain) = I[:32], I[32:]
//
// The result is deterministic, one-way, and keys for distinct paths
// are computationally independent.
func DeriveKey(seed *secret.Buffer, usageLabel string, path []string) (*secret.Buffer, error) {
	if seed.Len() != SeedSize {
		return nil, fmt.Errorf("seal: seed must be %d bytes, got %d", SeedSize, seed.Len())
	}

	mac := hmac.New(sha512.New, []byte(usageLabel+" Master Seed"))
	mac.Write(seed.Bytes())
	intermediate := mac.Sum(nil)

	for _, segment := range path {
		chain := intermediate[32:]
		mac = hmac.New(sha512.New, chain)
		mac.Write([]byte{0x00})
		mac.Write([]byte(segment))
		next := mac.Sum(nil)
		zero(intermediate)
		intermediate = next
	}

	key, err := secret.NewFromBytes(intermediate[:32])
	zero(intermediate)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
