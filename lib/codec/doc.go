// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides deterministic CBOR encoding for everything
// that crosses the encryption boundary: session metadata, agent state,
// and RPC payloads. Determinism matters because equal logical state
// must produce equal plaintext bytes before encryption.
package codec
