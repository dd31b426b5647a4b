// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package secret provides a memory-safe buffer for key material:
// master seeds, derived keys, and bearer tokens.
//
// Buffer allocates memory outside the Go heap via mmap(MAP_ANONYMOUS),
// locks it into physical RAM via mlock, and marks it excluded from
// core dumps. On Close the memory is zeroed, unlocked, and unmapped.
//
// Key exports:
//
//   - [New] / [NewFromBytes] / [NewRandom] -- allocate protected buffers
//   - [Buffer.Bytes] / [Buffer.Equal] -- access and constant-time compare
//   - [Buffer.Close] -- zero and release
package secret
