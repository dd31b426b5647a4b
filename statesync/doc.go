// Copyright 2026 The Agentmirror Authors
// SPDX-License-Identifier: Apache-2.0

// Package statesync keeps one mirrored session's state in agreement
// with the relay under optimistic concurrency.
//
// A [Session] caches the decrypted metadata and agent state next to
// the relay's version counter. [Session.UpdateState] merges a partial
// update locally, seals both state blobs (deterministic CBOR, zstd,
// AES-GCM under the session data key), and submits them with the
// expected version; on a conflict it adopts the relay's state,
// re-applies the original partial update, and retries with capped
// exponential backoff up to a bounded attempt count. Updates for one
// session are strictly serialized.
//
// [Session.StartHeartbeat] owns the session's liveness beacon: a
// fixed-interval, best-effort send that is dropped, never queued,
// while the relay connection is down.
//
// The conflict-retry policy here is bounded and exponential, and is
// deliberately independent of the relay connection's unbounded
// fixed-interval reconnect policy.
package statesync
