// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package relay implements the client side of the untrusted relay
// protocol. The relay stores versioned encrypted session state and
// fans out realtime frames between a session's devices; it never holds
// a decryption key, so everything sensitive crosses this package as a
// base64-wrapped seal envelope.
//
// Key exports:
//
//   - [Client] -- unauthenticated client: auth ceremony endpoints
//   - [Conn] -- the single long-lived logical connection per
//     authenticated client: long-poll receive loop with automatic
//     reconnect (unbounded attempts, fixed delay), frame send, and the
//     session API (create, get, optimistic-concurrency update,
//     heartbeat)
//   - [RelayError] / [VersionConflictError] -- structured errors
//
// The reconnect policy here is deliberately independent of the
// version-conflict retry policy in statesync: connection drops retry
// forever at a fixed cadence, version conflicts retry a bounded number
// of times with exponential backoff.
package relay
